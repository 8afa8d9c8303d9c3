package workflow

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"github.com/vyaparbooks/ledger_backend/config"
	"github.com/vyaparbooks/ledger_backend/models"
	"github.com/vyaparbooks/ledger_backend/utils"
)

/* Balance reconciliation.

The stored current_balance on a ledger is a running total maintained by
the posting engine; the voucher_ledger_entries table is the source of
truth. The job re-derives every balance from opening + SUM(debit-credit)
and repairs any row that drifted, then does the same for warehouse stock
against the movement history and for bill pendings against allocations.
Running it twice in a row finds nothing the second time. */

// LedgerDrift records one repaired ledger balance.
type LedgerDrift struct {
	LedgerId       int
	LedgerName     string
	StoredBalance  decimal.Decimal
	StoredType     models.BalanceType
	DerivedBalance decimal.Decimal
	DerivedType    models.BalanceType
}

// StockDrift records one repaired (item, warehouse) quantity or cost.
type StockDrift struct {
	ItemId          int
	WarehouseId     int
	StoredQuantity  decimal.Decimal
	DerivedQuantity decimal.Decimal
}

// BillDrift records one repaired bill pending amount.
type BillDrift struct {
	BillId         int
	StoredPending  decimal.Decimal
	DerivedPending decimal.Decimal
}

// ReconciliationReport summarizes one run.
type ReconciliationReport struct {
	TenantId       string
	LedgersChecked int
	StocksChecked  int
	BillsChecked   int
	LedgerDrifts   []LedgerDrift
	StockDrifts    []StockDrift
	BillDrifts     []BillDrift
}

func (r *ReconciliationReport) Clean() bool {
	return len(r.LedgerDrifts) == 0 && len(r.StockDrifts) == 0 && len(r.BillDrifts) == 0
}

// RunReconciliation replays the full history for one tenant and repairs
// stored balances in a single transaction under the posting lock, so no
// posting can interleave with the repair.
func RunReconciliation(ctx context.Context, db *gorm.DB, logger *logrus.Logger, tenant *models.TenantContext) (report *ReconciliationReport, err error) {
	ctx, span := tracer.Start(ctx, "RunReconciliation")
	defer span.End()
	span.SetAttributes(attribute.String("tenant_id", tenant.TenantId))

	ctx = utils.SetTenantIdInContext(ctx, tenant.TenantId)
	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	defer func() {
		if r := recover(); r != nil {
			ReleaseTenantPostingLock(tx, tenant.TenantId)
			tx.Rollback()
			panic(r)
		}
		if err != nil {
			ReleaseTenantPostingLock(tx, tenant.TenantId)
			tx.Rollback()
		}
	}()

	if err = AcquireTenantPostingLock(tx, tenant.TenantId); err != nil {
		return nil, err
	}

	report = &ReconciliationReport{TenantId: tenant.TenantId}

	if err = reconcileLedgerBalances(tx, logger, tenant, report); err != nil {
		return nil, err
	}
	if err = reconcileStock(tx, logger, tenant, report); err != nil {
		return nil, err
	}
	if err = reconcileBills(tx, logger, tenant, report); err != nil {
		return nil, err
	}

	if err = CommitReleasingPostingLock(tx, tenant.TenantId); err != nil {
		config.LogError(logger, "reconciliationWorkflow.go", "RunReconciliation", "Commit reconciliation", tenant.TenantId, err)
		return nil, err
	}

	fields := logrus.Fields{
		"tenant_id":       tenant.TenantId,
		"ledgers_checked": report.LedgersChecked,
		"stocks_checked":  report.StocksChecked,
		"bills_checked":   report.BillsChecked,
		"ledger_drifts":   len(report.LedgerDrifts),
		"stock_drifts":    len(report.StockDrifts),
		"bill_drifts":     len(report.BillDrifts),
	}
	if correlationId, ok := utils.GetCorrelationIdFromContext(ctx); ok {
		fields["correlation_id"] = correlationId
	}
	logger.WithFields(fields).Info("reconciliation complete")
	return report, nil
}

func reconcileLedgerBalances(tx *gorm.DB, logger *logrus.Logger, tenant *models.TenantContext, report *ReconciliationReport) error {
	var ledgers []*models.Ledger
	if err := tx.Where("tenant_id = ?", tenant.TenantId).Order("id").Find(&ledgers).Error; err != nil {
		return err
	}

	for _, ledger := range ledgers {
		report.LedgersChecked++

		var movement decimal.NullDecimal
		err := tx.Model(&models.VoucherLedgerEntry{}).
			Select("SUM(debit - credit)").
			Where("tenant_id = ? AND ledger_id = ?", tenant.TenantId, ledger.ID).
			Scan(&movement).Error
		if err != nil {
			return err
		}

		derived := models.SignedBalance(ledger.OpeningBalance, ledger.OpeningBalanceType)
		if movement.Valid {
			derived = derived.Add(movement.Decimal)
		}
		derivedMagnitude, derivedType := models.DeriveBalance(derived)

		warnOnNatureConflict(logger, tx, tenant, ledger, derivedType)

		if ledger.CurrentBalance.Equal(derivedMagnitude) && ledger.BalanceType == derivedType {
			continue
		}

		report.LedgerDrifts = append(report.LedgerDrifts, LedgerDrift{
			LedgerId:       ledger.ID,
			LedgerName:     ledger.Name,
			StoredBalance:  ledger.CurrentBalance,
			StoredType:     ledger.BalanceType,
			DerivedBalance: derivedMagnitude,
			DerivedType:    derivedType,
		})
		config.LogWarn(logger, "reconciliationWorkflow.go", "reconcileLedgerBalances", "Ledger balance drift repaired",
			map[string]any{
				"tenant_id": tenant.TenantId,
				"ledger_id": ledger.ID,
				"stored":    ledger.CurrentBalance.StringFixed(2) + " " + string(ledger.BalanceType),
				"derived":   derivedMagnitude.StringFixed(2) + " " + string(derivedType),
			}, "stored balance did not match replayed history")

		err = tx.Model(&models.Ledger{}).
			Where("id = ? AND tenant_id = ?", ledger.ID, tenant.TenantId).
			Updates(map[string]any{
				"current_balance": derivedMagnitude,
				"balance_type":    derivedType,
			}).Error
		if err != nil {
			return err
		}
	}
	return nil
}

// warnOnNatureConflict flags a ledger whose replayed balance sits on the
// unexpected side of its account group's nature (an asset ledger in
// credit, say). The replayed sign wins; the conflict is surfaced, not
// overridden.
func warnOnNatureConflict(logger *logrus.Logger, tx *gorm.DB, tenant *models.TenantContext, ledger *models.Ledger, derivedType models.BalanceType) {
	group, err := tenant.GetAccountGroup(tx, ledger.AccountGroupId)
	if err != nil {
		return
	}
	expected := group.Nature.ExpectedBalanceType()
	if group.IsContra != nil && *group.IsContra {
		if expected == models.BalanceTypeDebit {
			expected = models.BalanceTypeCredit
		} else {
			expected = models.BalanceTypeDebit
		}
	}
	if derivedType != expected {
		config.LogWarn(logger, "reconciliationWorkflow.go", "warnOnNatureConflict", "Ledger balance against group nature",
			map[string]any{
				"tenant_id":    tenant.TenantId,
				"ledger_id":    ledger.ID,
				"ledger_name":  ledger.Name,
				"group_nature": group.Nature,
				"balance_type": derivedType,
			}, "replayed balance conflicts with account group nature")
	}
}

func reconcileStock(tx *gorm.DB, logger *logrus.Logger, tenant *models.TenantContext, report *ReconciliationReport) error {
	var stocks []*models.WarehouseStock
	if err := tx.Where("tenant_id = ?", tenant.TenantId).Order("inventory_item_id, warehouse_id").Find(&stocks).Error; err != nil {
		return err
	}

	touchedItems := map[int]bool{}
	for _, stock := range stocks {
		report.StocksChecked++

		var derivedQty decimal.NullDecimal
		err := tx.Model(&models.StockMovement{}).
			Select("SUM(quantity)").
			Where("tenant_id = ? AND inventory_item_id = ? AND warehouse_id = ?",
				tenant.TenantId, stock.InventoryItemId, stock.WarehouseId).
			Scan(&derivedQty).Error
		if err != nil {
			return err
		}
		qty := decimal.Zero
		if derivedQty.Valid {
			qty = derivedQty.Decimal
		}
		if stock.Quantity.Equal(qty) {
			continue
		}

		report.StockDrifts = append(report.StockDrifts, StockDrift{
			ItemId:          stock.InventoryItemId,
			WarehouseId:     stock.WarehouseId,
			StoredQuantity:  stock.Quantity,
			DerivedQuantity: qty,
		})
		config.LogWarn(logger, "reconciliationWorkflow.go", "reconcileStock", "Warehouse stock drift repaired",
			map[string]any{
				"tenant_id":    tenant.TenantId,
				"item_id":      stock.InventoryItemId,
				"warehouse_id": stock.WarehouseId,
				"stored":       stock.Quantity.String(),
				"derived":      qty.String(),
			}, "stored quantity did not match movement history")

		err = tx.Model(&models.WarehouseStock{}).
			Where("id = ? AND tenant_id = ?", stock.ID, tenant.TenantId).
			Update("quantity", qty).Error
		if err != nil {
			return err
		}
		touchedItems[stock.InventoryItemId] = true
	}

	// Refresh aggregates for every item whose warehouse rows were repaired.
	for itemId := range touchedItems {
		item, err := tenant.GetInventoryItem(tx, itemId)
		if err != nil {
			return err
		}
		if err := recomputeAggregate(tx, logger, tenant, item); err != nil {
			return err
		}
	}
	return nil
}

func reconcileBills(tx *gorm.DB, logger *logrus.Logger, tenant *models.TenantContext, report *ReconciliationReport) error {
	var bills []*models.BillWiseDetail
	if err := tx.Where("tenant_id = ?", tenant.TenantId).Order("id").Find(&bills).Error; err != nil {
		return err
	}

	for _, bill := range bills {
		report.BillsChecked++

		var allocated decimal.NullDecimal
		err := tx.Model(&models.BillAllocation{}).
			Select("SUM(allocated_amount)").
			Where("tenant_id = ? AND bill_wise_detail_id = ?", tenant.TenantId, bill.ID).
			Scan(&allocated).Error
		if err != nil {
			return err
		}

		derived := bill.TotalAmount
		if allocated.Valid {
			derived = derived.Sub(allocated.Decimal)
		}
		if bill.PendingAmount.Equal(derived) {
			continue
		}

		report.BillDrifts = append(report.BillDrifts, BillDrift{
			BillId:         bill.ID,
			StoredPending:  bill.PendingAmount,
			DerivedPending: derived,
		})
		config.LogWarn(logger, "reconciliationWorkflow.go", "reconcileBills", "Bill pending drift repaired",
			map[string]any{
				"tenant_id": tenant.TenantId,
				"bill_id":   bill.ID,
				"stored":    bill.PendingAmount.StringFixed(2),
				"derived":   derived.StringFixed(2),
			}, "stored pending did not match allocations")

		isOpen := derived.GreaterThan(billCloseTolerance)
		err = tx.Model(&models.BillWiseDetail{}).
			Where("id = ? AND tenant_id = ?", bill.ID, tenant.TenantId).
			Updates(map[string]any{
				"pending_amount": derived,
				"is_open":        isOpen,
				"is_fully_paid":  !isOpen,
			}).Error
		if err != nil {
			return err
		}
	}
	return nil
}
