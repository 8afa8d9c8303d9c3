package workflow

import (
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/vyaparbooks/ledger_backend/config"
	"github.com/vyaparbooks/ledger_backend/models"
	"github.com/vyaparbooks/ledger_backend/utils"
)

// A bill whose pending amount drops to a paisa or less is closed rather
// than left dangling over a rounding remainder.
var billCloseTolerance = decimal.NewFromFloat(0.01)

// OpenBill creates the outstanding-amount tracker for a freshly posted
// Sales or Purchase voucher.
func OpenBill(tx *gorm.DB, logger *logrus.Logger, tenant *models.TenantContext, voucher *models.Voucher) (*models.BillWiseDetail, error) {
	bill := models.BillWiseDetail{
		TenantId:      tenant.TenantId,
		VoucherId:     voucher.ID,
		PartyLedgerId: voucher.PartyLedgerId,
		BillNumber:    voucher.VoucherNumber,
		BillDate:      voucher.VoucherDate,
		TotalAmount:   voucher.TotalAmount,
		PendingAmount: voucher.TotalAmount,
		IsOpen:        utils.NewTrue(),
		IsFullyPaid:   utils.NewFalse(),
	}
	if err := tx.Create(&bill).Error; err != nil {
		config.LogError(logger, "billAllocation.go", "OpenBill", "Create bill-wise detail", voucher.ID, err)
		return nil, err
	}
	return &bill, nil
}

// AllocateSettlement applies a Payment/Receipt voucher's amount against
// the party's open bills. Explicit allocations win when supplied;
// otherwise bills are settled oldest-first by bill date. Any amount left
// after all open bills are exhausted stays on account (the party ledger
// already carries it; no tracker row is needed).
func AllocateSettlement(tx *gorm.DB, logger *logrus.Logger, tenant *models.TenantContext, voucher *models.Voucher, amount decimal.Decimal, explicit []models.NewBillAllocation) ([]models.BillAllocation, error) {
	if len(explicit) > 0 {
		return allocateExplicit(tx, logger, tenant, voucher, amount, explicit)
	}
	return allocateOldestFirst(tx, logger, tenant, voucher, amount)
}

func allocateExplicit(tx *gorm.DB, logger *logrus.Logger, tenant *models.TenantContext, voucher *models.Voucher, amount decimal.Decimal, explicit []models.NewBillAllocation) ([]models.BillAllocation, error) {
	var allocations []models.BillAllocation
	allocatedTotal := decimal.Zero

	for _, alloc := range explicit {
		bill, err := tenant.GetBillWiseDetailForUpdate(tx, alloc.BillWiseDetailId)
		if err != nil {
			return nil, err
		}
		if bill.PartyLedgerId != voucher.PartyLedgerId {
			return nil, utils.NewInvalidReference("bill", "bill %d belongs to a different party", bill.ID)
		}
		if alloc.Amount.GreaterThan(bill.PendingAmount) {
			return nil, utils.NewInvalidReference("bill", "allocation %s exceeds pending %s on bill %d",
				alloc.Amount.StringFixed(2), bill.PendingAmount.StringFixed(2), bill.ID)
		}
		allocatedTotal = allocatedTotal.Add(alloc.Amount)
		if allocatedTotal.GreaterThan(amount) {
			return nil, utils.NewInvalidReference("bill", "allocations total %s exceeds settlement amount %s",
				allocatedTotal.StringFixed(2), amount.StringFixed(2))
		}

		created, err := applyAllocation(tx, logger, tenant, bill, voucher.ID, alloc.Amount)
		if err != nil {
			return nil, err
		}
		allocations = append(allocations, *created)
	}
	return allocations, nil
}

func allocateOldestFirst(tx *gorm.DB, logger *logrus.Logger, tenant *models.TenantContext, voucher *models.Voucher, amount decimal.Decimal) ([]models.BillAllocation, error) {
	var bills []*models.BillWiseDetail
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("tenant_id = ? AND party_ledger_id = ? AND is_open = ?", tenant.TenantId, voucher.PartyLedgerId, true).
		Order("bill_date, id").
		Find(&bills).Error
	if err != nil {
		config.LogError(logger, "billAllocation.go", "allocateOldestFirst", "Fetch open bills", voucher.PartyLedgerId, err)
		return nil, err
	}

	var allocations []models.BillAllocation
	remaining := amount
	for _, bill := range bills {
		if !remaining.IsPositive() {
			break
		}
		portion := decimal.Min(remaining, bill.PendingAmount)
		created, err := applyAllocation(tx, logger, tenant, bill, voucher.ID, portion)
		if err != nil {
			return nil, err
		}
		allocations = append(allocations, *created)
		remaining = remaining.Sub(portion)
	}

	if remaining.IsPositive() {
		config.LogWarn(logger, "billAllocation.go", "allocateOldestFirst", "Settlement exceeds open bills; excess kept on account",
			map[string]any{"tenant_id": tenant.TenantId, "voucher_id": voucher.ID, "on_account": remaining.StringFixed(2)},
			"settlement amount exceeds open bills")
	}
	return allocations, nil
}

func applyAllocation(tx *gorm.DB, logger *logrus.Logger, tenant *models.TenantContext, bill *models.BillWiseDetail, settlementVoucherId int, amount decimal.Decimal) (*models.BillAllocation, error) {
	allocation := models.BillAllocation{
		TenantId:            tenant.TenantId,
		BillWiseDetailId:    bill.ID,
		SettlementVoucherId: settlementVoucherId,
		AllocatedAmount:     amount,
	}
	if err := tx.Create(&allocation).Error; err != nil {
		config.LogError(logger, "billAllocation.go", "applyAllocation", "Create bill allocation", bill.ID, err)
		return nil, err
	}

	pending := bill.PendingAmount.Sub(amount)
	isOpen := pending.GreaterThan(billCloseTolerance)
	isPaid := !isOpen
	if !isOpen && !pending.IsZero() {
		// The residue is inside tolerance; close the bill at zero.
		pending = decimal.Zero
	}
	err := tx.Model(&models.BillWiseDetail{}).
		Where("id = ? AND tenant_id = ?", bill.ID, tenant.TenantId).
		Updates(map[string]any{
			"pending_amount": pending,
			"is_open":        isOpen,
			"is_fully_paid":  isPaid,
		}).Error
	if err != nil {
		config.LogError(logger, "billAllocation.go", "applyAllocation", "Update bill pending", bill.ID, err)
		return nil, err
	}
	bill.PendingAmount = pending
	bill.IsOpen = &isOpen
	bill.IsFullyPaid = &isPaid
	return &allocation, nil
}

// restoreBillAllocations undoes a reversed settlement voucher's effect on
// its bills: pendings are restored and negative allocation rows keep the
// audit trail append-only.
func restoreBillAllocations(tx *gorm.DB, logger *logrus.Logger, tenant *models.TenantContext, originalVoucherId int, reversalVoucherId int) error {
	var allocations []models.BillAllocation
	err := tx.Where("tenant_id = ? AND settlement_voucher_id = ?", tenant.TenantId, originalVoucherId).
		Find(&allocations).Error
	if err != nil {
		return err
	}

	for _, alloc := range allocations {
		bill, err := tenant.GetBillWiseDetailForUpdate(tx, alloc.BillWiseDetailId)
		if err != nil {
			return err
		}
		if _, err := applyAllocation(tx, logger, tenant, bill, reversalVoucherId, alloc.AllocatedAmount.Neg()); err != nil {
			return err
		}
	}
	return nil
}

// closeBillForReversal zeroes out the bill opened by a reversed trade
// voucher so it no longer shows as outstanding.
func closeBillForReversal(tx *gorm.DB, logger *logrus.Logger, tenant *models.TenantContext, originalVoucherId int, reversalVoucherId int) error {
	var bill models.BillWiseDetail
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("tenant_id = ? AND voucher_id = ?", tenant.TenantId, originalVoucherId).
		First(&bill).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil
		}
		return err
	}
	if !bill.PendingAmount.IsZero() {
		if _, err := applyAllocation(tx, logger, tenant, &bill, reversalVoucherId, bill.PendingAmount); err != nil {
			return err
		}
	}
	return nil
}

