package workflow

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/vyaparbooks/ledger_backend/config"
	"github.com/vyaparbooks/ledger_backend/models"
	"github.com/vyaparbooks/ledger_backend/utils"
)

// Entries may disagree by at most a paisa; anything larger is a bug in
// the builder or a bad manual batch.
var balanceTolerance = decimal.NewFromFloat(0.01)

// PostLedgerEntries verifies the double-entry invariant, appends the
// voucher's entries, and rolls the affected ledger balances forward.
// Balance rows are locked FOR UPDATE so two concurrent postings against
// the same ledger serialize instead of losing an update.
func PostLedgerEntries(tx *gorm.DB, logger *logrus.Logger, tenant *models.TenantContext, voucher *models.Voucher, drafts []LedgerEntryDraft) ([]models.VoucherLedgerEntry, error) {
	totalDebit := decimal.Zero
	totalCredit := decimal.Zero
	for _, d := range drafts {
		totalDebit = totalDebit.Add(d.Debit)
		totalCredit = totalCredit.Add(d.Credit)
	}
	if totalDebit.Sub(totalCredit).Abs().GreaterThan(balanceTolerance) {
		return nil, utils.NewUnbalancedEntry(totalDebit, totalCredit)
	}

	entryTime := time.Now().UTC()
	entries := make([]models.VoucherLedgerEntry, 0, len(drafts))
	for _, d := range drafts {
		entries = append(entries, models.VoucherLedgerEntry{
			TenantId:      tenant.TenantId,
			VoucherId:     voucher.ID,
			LedgerId:      d.LedgerId,
			Debit:         d.Debit,
			Credit:        d.Credit,
			Narration:     d.Narration,
			EntryDateTime: entryTime,
		})
	}
	if len(entries) > 0 {
		if err := tx.Create(&entries).Error; err != nil {
			config.LogError(logger, "ledgerPosting.go", "PostLedgerEntries", "Create voucher ledger entries", voucher.ID, err)
			return nil, err
		}
	}

	// One balance update per ledger even when a voucher hits the same
	// ledger on several lines.
	net := map[int]decimal.Decimal{}
	order := []int{}
	for _, d := range drafts {
		if _, seen := net[d.LedgerId]; !seen {
			order = append(order, d.LedgerId)
		}
		net[d.LedgerId] = net[d.LedgerId].Add(d.Debit).Sub(d.Credit)
	}

	for _, ledgerId := range order {
		if err := applyBalanceDelta(tx, logger, tenant, ledgerId, net[ledgerId]); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

func applyBalanceDelta(tx *gorm.DB, logger *logrus.Logger, tenant *models.TenantContext, ledgerId int, delta decimal.Decimal) error {
	ledger, err := tenant.GetLedgerForUpdate(tx, ledgerId)
	if err != nil {
		return err
	}

	signed := models.SignedBalance(ledger.CurrentBalance, ledger.BalanceType).Add(delta)
	magnitude, balanceType := models.DeriveBalance(signed)

	err = tx.Model(&models.Ledger{}).
		Where("id = ? AND tenant_id = ?", ledger.ID, tenant.TenantId).
		Updates(map[string]any{
			"current_balance": magnitude,
			"balance_type":    balanceType,
		}).Error
	if err != nil {
		config.LogError(logger, "ledgerPosting.go", "applyBalanceDelta", "Update ledger balance", ledgerId, err)
		return err
	}
	return nil
}
