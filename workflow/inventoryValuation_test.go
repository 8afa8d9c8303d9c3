package workflow

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/vyaparbooks/ledger_backend/models"
)

func stock(itemId, warehouseId int, qty, avg string) *models.WarehouseStock {
	return &models.WarehouseStock{
		InventoryItemId: itemId,
		WarehouseId:     warehouseId,
		Quantity:        d(qty),
		AvgCost:         d(avg),
	}
}

func TestAggregateStock_WeightedAverageAcrossWarehouses(t *testing.T) {
	stocks := []*models.WarehouseStock{
		stock(1, 1, "100", "10.00"),
		stock(1, 2, "50", "16.00"),
	}

	qty, avg := AggregateStock(stocks, decimal.Zero)
	if !qty.Equal(d("150")) {
		t.Errorf("quantity = %s, want 150", qty)
	}
	// (100*10 + 50*16) / 150 = 12
	if !avg.Equal(d("12")) {
		t.Errorf("avg cost = %s, want 12", avg)
	}
}

func TestAggregateStock_NegativeBinExcludedFromValue(t *testing.T) {
	// A bin driven negative by a drifted history still counts toward the
	// quantity but must not poison the cost average.
	stocks := []*models.WarehouseStock{
		stock(1, 1, "100", "10.00"),
		stock(1, 2, "-20", "99.00"),
	}

	qty, avg := AggregateStock(stocks, decimal.Zero)
	if !qty.Equal(d("80")) {
		t.Errorf("quantity = %s, want 80", qty)
	}
	if !avg.Equal(d("10.00")) {
		t.Errorf("avg cost = %s, want 10.00", avg)
	}
}

func TestAggregateStock_EmptyKeepsPreviousAverage(t *testing.T) {
	stocks := []*models.WarehouseStock{
		stock(1, 1, "0", "10.00"),
	}

	qty, avg := AggregateStock(stocks, d("55.50"))
	if !qty.IsZero() {
		t.Errorf("quantity = %s, want 0", qty)
	}
	if !avg.Equal(d("55.50")) {
		t.Errorf("avg cost = %s, want previous 55.50", avg)
	}
}
