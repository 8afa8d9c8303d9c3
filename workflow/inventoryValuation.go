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

/* Weighted-average valuation.

Each warehouse carries its own (quantity, avg_cost) pair; the item row
carries the aggregate. Receipts fold into the average, issues leave the
average untouched and are costed at it. The aggregate average is the
quantity-weighted mean of the warehouse averages, recomputed from the
locked warehouse rows after every movement so a transfer between two
warehouses with different cost bases keeps the aggregate honest. */

// ApplyStockMovements validates and applies a voucher's movement drafts in
// order. Availability is checked against the locked rows before any write;
// drafts flagged RateFromAvgCost are costed here. Transfers expand into a
// paired OUT and IN sharing one timestamp, with the IN valued at the OUT's
// applied rate so no cost is created or destroyed in transit.
func ApplyStockMovements(tx *gorm.DB, logger *logrus.Logger, tenant *models.TenantContext, voucherId int, drafts []StockMovementDraft) ([]models.StockMovement, error) {
	movementTime := time.Now().UTC()
	var movements []models.StockMovement

	for _, d := range drafts {
		if d.MovementType == models.MovementTypeTransfer {
			expanded, err := applyTransfer(tx, logger, tenant, voucherId, d, movementTime)
			if err != nil {
				return nil, err
			}
			movements = append(movements, expanded...)
			continue
		}

		applied, err := applyMovement(tx, logger, tenant, voucherId, d, movementTime)
		if err != nil {
			return nil, err
		}
		movements = append(movements, *applied)
	}
	return movements, nil
}

func applyMovement(tx *gorm.DB, logger *logrus.Logger, tenant *models.TenantContext, voucherId int, d StockMovementDraft, at time.Time) (*models.StockMovement, error) {
	item, err := tenant.GetInventoryItemForUpdate(tx, d.ItemId)
	if err != nil {
		return nil, err
	}
	stock, err := tenant.GetWarehouseStockForUpdate(tx, d.ItemId, d.WarehouseId)
	if err != nil {
		return nil, err
	}

	rate := d.Rate
	if d.RateFromAvgCost {
		if stock != nil && d.WarehouseId > 0 {
			rate = stock.AvgCost
		} else {
			rate = item.AvgCost
		}
	}

	if d.Quantity.IsNegative() {
		available := item.QuantityOnHand
		if d.WarehouseId > 0 {
			available = decimal.Zero
			if stock != nil {
				available = stock.Quantity
			}
		}
		if available.LessThan(d.Quantity.Neg()) {
			return nil, utils.NewInsufficientStock(d.ItemId, d.WarehouseId, available, d.Quantity.Neg())
		}
	}

	if d.WarehouseId > 0 {
		if err := applyToWarehouse(tx, tenant, item, stock, d.WarehouseId, d.Quantity, rate); err != nil {
			return nil, err
		}
		if err := recomputeAggregate(tx, logger, tenant, item); err != nil {
			return nil, err
		}
	} else if err := applyToAggregate(tx, tenant, item, d.Quantity, rate); err != nil {
		return nil, err
	}

	movement := models.StockMovement{
		TenantId:         tenant.TenantId,
		InventoryItemId:  d.ItemId,
		WarehouseId:      d.WarehouseId,
		VoucherId:        voucherId,
		MovementType:     d.MovementType,
		Quantity:         d.Quantity,
		Rate:             rate,
		Amount:           utils.Round2(d.Quantity.Mul(rate)),
		Narration:        d.Narration,
		MovementDateTime: at,
	}
	if err := tx.Create(&movement).Error; err != nil {
		config.LogError(logger, "inventoryValuation.go", "applyMovement", "Create stock movement", d.ItemId, err)
		return nil, err
	}
	return &movement, nil
}

// applyTransfer issues from the source at the source's average cost and
// receives into the destination at that same rate.
func applyTransfer(tx *gorm.DB, logger *logrus.Logger, tenant *models.TenantContext, voucherId int, d StockMovementDraft, at time.Time) ([]models.StockMovement, error) {
	item, err := tenant.GetInventoryItemForUpdate(tx, d.ItemId)
	if err != nil {
		return nil, err
	}
	source, err := tenant.GetWarehouseStockForUpdate(tx, d.ItemId, d.WarehouseId)
	if err != nil {
		return nil, err
	}
	dest, err := tenant.GetWarehouseStockForUpdate(tx, d.ItemId, d.TransferToWarehouseId)
	if err != nil {
		return nil, err
	}

	available := decimal.Zero
	rate := item.AvgCost
	if source != nil {
		available = source.Quantity
		rate = source.AvgCost
	}
	if available.LessThan(d.Quantity) {
		return nil, utils.NewInsufficientStock(d.ItemId, d.WarehouseId, available, d.Quantity)
	}

	if err := applyToWarehouse(tx, tenant, item, source, d.WarehouseId, d.Quantity.Neg(), rate); err != nil {
		return nil, err
	}
	if err := applyToWarehouse(tx, tenant, item, dest, d.TransferToWarehouseId, d.Quantity, rate); err != nil {
		return nil, err
	}
	if err := recomputeAggregate(tx, logger, tenant, item); err != nil {
		return nil, err
	}

	amount := utils.Round2(d.Quantity.Mul(rate))
	pair := []models.StockMovement{
		{
			TenantId:         tenant.TenantId,
			InventoryItemId:  d.ItemId,
			WarehouseId:      d.WarehouseId,
			VoucherId:        voucherId,
			MovementType:     models.MovementTypeTransfer,
			Quantity:         d.Quantity.Neg(),
			Rate:             rate,
			Amount:           amount.Neg(),
			Narration:        d.Narration,
			MovementDateTime: at,
		},
		{
			TenantId:         tenant.TenantId,
			InventoryItemId:  d.ItemId,
			WarehouseId:      d.TransferToWarehouseId,
			VoucherId:        voucherId,
			MovementType:     models.MovementTypeTransfer,
			Quantity:         d.Quantity,
			Rate:             rate,
			Amount:           amount,
			Narration:        d.Narration,
			MovementDateTime: at,
		},
	}
	if err := tx.Create(&pair).Error; err != nil {
		config.LogError(logger, "inventoryValuation.go", "applyTransfer", "Create transfer movements", d.ItemId, err)
		return nil, err
	}
	return pair, nil
}

// applyToWarehouse folds one signed movement into a (item, warehouse) pair.
// warehouseId 0 means aggregate-only; the item row is updated by
// recomputeAggregate either way.
func applyToWarehouse(tx *gorm.DB, tenant *models.TenantContext, item *models.InventoryItem, stock *models.WarehouseStock, warehouseId int, quantity, rate decimal.Decimal) error {
	if warehouseId == 0 {
		return nil
	}
	if stock == nil {
		stock = &models.WarehouseStock{
			TenantId:        tenant.TenantId,
			InventoryItemId: item.ID,
			WarehouseId:     warehouseId,
			Quantity:        decimal.Zero,
			AvgCost:         decimal.Zero,
		}
		if err := tx.Create(stock).Error; err != nil {
			return err
		}
	}

	newQty := stock.Quantity.Add(quantity)
	newAvg := stock.AvgCost
	if quantity.IsPositive() {
		// Receipt: fold into the weighted average. Landing exactly on zero
		// clears the average; the next receipt starts it fresh.
		totalValue := stock.Quantity.Mul(stock.AvgCost).Add(quantity.Mul(rate))
		if newQty.IsPositive() {
			newAvg = totalValue.Div(newQty)
		} else {
			newAvg = decimal.Zero
		}
	}

	return tx.Model(&models.WarehouseStock{}).
		Where("id = ? AND tenant_id = ?", stock.ID, tenant.TenantId).
		Updates(map[string]any{
			"quantity": newQty,
			"avg_cost": newAvg,
		}).Error
}

// applyToAggregate folds an aggregate-only movement (no warehouse bin)
// straight into the item row using the same weighted-average rule.
func applyToAggregate(tx *gorm.DB, tenant *models.TenantContext, item *models.InventoryItem, quantity, rate decimal.Decimal) error {
	newQty := item.QuantityOnHand.Add(quantity)
	newAvg := item.AvgCost
	if quantity.IsPositive() {
		totalValue := item.QuantityOnHand.Mul(item.AvgCost).Add(quantity.Mul(rate))
		if newQty.IsPositive() {
			newAvg = totalValue.Div(newQty)
		} else {
			newAvg = decimal.Zero
		}
	}
	err := tx.Model(&models.InventoryItem{}).
		Where("id = ? AND tenant_id = ?", item.ID, tenant.TenantId).
		Updates(map[string]any{
			"quantity_on_hand": newQty,
			"avg_cost":         newAvg,
		}).Error
	if err != nil {
		return err
	}
	item.QuantityOnHand = newQty
	item.AvgCost = newAvg
	return nil
}

// recomputeAggregate refreshes the item row from its warehouse rows:
// aggregate quantity is the plain sum, aggregate average cost is the
// quantity-weighted mean over warehouses with positive stock.
func recomputeAggregate(tx *gorm.DB, logger *logrus.Logger, tenant *models.TenantContext, item *models.InventoryItem) error {
	stocks, err := tenant.GetWarehouseStocks(tx, item.ID)
	if err != nil {
		return err
	}

	totalQty, avgCost := AggregateStock(stocks, item.AvgCost)
	err = tx.Model(&models.InventoryItem{}).
		Where("id = ? AND tenant_id = ?", item.ID, tenant.TenantId).
		Updates(map[string]any{
			"quantity_on_hand": totalQty,
			"avg_cost":         avgCost,
		}).Error
	if err != nil {
		config.LogError(logger, "inventoryValuation.go", "recomputeAggregate", "Update item aggregate", item.ID, err)
		return err
	}
	item.QuantityOnHand = totalQty
	item.AvgCost = avgCost
	return nil
}

// AggregateStock computes (total quantity, weighted average cost) over a
// set of warehouse rows. With no positive stock anywhere the previous
// aggregate average is retained.
func AggregateStock(stocks []*models.WarehouseStock, previousAvg decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	totalQty := decimal.Zero
	totalValue := decimal.Zero
	positiveQty := decimal.Zero
	for _, s := range stocks {
		totalQty = totalQty.Add(s.Quantity)
		if s.Quantity.IsPositive() {
			positiveQty = positiveQty.Add(s.Quantity)
			totalValue = totalValue.Add(s.Quantity.Mul(s.AvgCost))
		}
	}
	if positiveQty.IsPositive() {
		return totalQty, totalValue.Div(positiveQty)
	}
	return totalQty, previousAvg
}
