package workflow

import (
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/vyaparbooks/ledger_backend/models"
	"github.com/vyaparbooks/ledger_backend/utils"
)

func TestCostOfGoodsEntriesMoveIssuedCostOutOfStock(t *testing.T) {
	sysLedgers := map[models.SystemCode]int{
		models.SystemCodeCogsAccount: 7,
		models.SystemCodeStockInHand: 8,
	}
	movements := []models.StockMovement{
		{MovementType: models.MovementTypeOut, Amount: d("-150.00")},
		{MovementType: models.MovementTypeOut, Amount: d("-75.50")},
		{MovementType: models.MovementTypeIn, Amount: d("500.00")},
	}

	entries, err := costOfGoodsEntries(logrus.New(), sysLedgers, movements, "Invoice SV-1")
	if err != nil {
		t.Fatalf("costOfGoodsEntries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].LedgerId != 7 || !entries[0].Debit.Equal(d("225.50")) {
		t.Errorf("cost leg: got ledger %d debit %s", entries[0].LedgerId, entries[0].Debit)
	}
	if entries[1].LedgerId != 8 || !entries[1].Credit.Equal(d("225.50")) {
		t.Errorf("stock leg: got ledger %d credit %s", entries[1].LedgerId, entries[1].Credit)
	}
}

func TestCostOfGoodsEntriesZeroCostEmitsNothing(t *testing.T) {
	movements := []models.StockMovement{
		{MovementType: models.MovementTypeIn, Amount: d("500.00")},
	}
	entries, err := costOfGoodsEntries(logrus.New(), map[models.SystemCode]int{}, movements, "")
	if err != nil {
		t.Fatalf("costOfGoodsEntries: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no entries, got %d", len(entries))
	}
}

func TestCostOfGoodsEntriesMissingLedgerIsConfigurationError(t *testing.T) {
	movements := []models.StockMovement{
		{MovementType: models.MovementTypeOut, Amount: d("-10.00")},
	}
	_, err := costOfGoodsEntries(logrus.New(), map[models.SystemCode]int{}, movements, "")
	if utils.KindOf(err) != utils.ErrorKindConfigurationError {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}
