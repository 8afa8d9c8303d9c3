package workflow

import (
	"errors"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/vyaparbooks/ledger_backend/models"
	"github.com/vyaparbooks/ledger_backend/utils"
)

// The double-entry check runs before any row is written, so an unbalanced
// draft set never needs a database to be rejected.
func TestPostLedgerEntries_RejectsUnbalancedDrafts(t *testing.T) {
	logger := logrus.New()
	tenant := &models.TenantContext{TenantId: "t1", Logger: logger}
	voucher := &models.Voucher{ID: 1, TenantId: "t1"}

	drafts := []LedgerEntryDraft{
		{LedgerId: 10, Debit: d("10000.00")},
		{LedgerId: 20, Credit: d("9999.50")},
	}

	_, err := PostLedgerEntries(nil, logger, tenant, voucher, drafts)
	if err == nil {
		t.Fatal("expected error for unbalanced drafts")
	}

	var pe *utils.PostingError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PostingError, got %T: %v", err, err)
	}
	if pe.Kind != utils.ErrorKindUnbalancedEntry {
		t.Fatalf("kind = %s, want UnbalancedEntry", pe.Kind)
	}
	if !pe.TotalDebit.Equal(d("10000.00")) {
		t.Errorf("total debit = %s, want 10000.00", pe.TotalDebit)
	}
	if !pe.TotalCredit.Equal(d("9999.50")) {
		t.Errorf("total credit = %s, want 9999.50", pe.TotalCredit)
	}
}

func TestKindOfMatchesWrappedPostingErrors(t *testing.T) {
	err := utils.NewInsufficientStock(7, 3, d("50"), d("100"))
	wrapped := errors.Join(errors.New("posting failed"), err)

	if got := utils.KindOf(wrapped); got != utils.ErrorKindInsufficientStock {
		t.Fatalf("KindOf = %s, want InsufficientStock", got)
	}
	if !errors.Is(wrapped, &utils.PostingError{Kind: utils.ErrorKindInsufficientStock}) {
		t.Error("errors.Is should match on kind")
	}
}
