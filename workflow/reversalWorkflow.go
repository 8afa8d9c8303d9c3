package workflow

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"github.com/vyaparbooks/ledger_backend/config"
	"github.com/vyaparbooks/ledger_backend/models"
	"github.com/vyaparbooks/ledger_backend/utils"
)

// ReverseVoucher corrects a posted voucher by posting its mirror image:
// debits become credits, stock movements invert at their original rates,
// and bill-wise state is unwound. The original row is never rewritten
// beyond the reversal linkage; history stays append-only.
func ReverseVoucher(ctx context.Context, db *gorm.DB, logger *logrus.Logger, tenant *models.TenantContext, voucherId int, reason string) (*PostVoucherResult, error) {
	ctx, span := tracer.Start(ctx, "ReverseVoucher")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant_id", tenant.TenantId),
		attribute.Int("voucher_id", voucherId),
	)

	var lastErr error
	for attempt := 1; attempt <= maxPostAttempts; attempt++ {
		result, err := reverseOnce(ctx, db, logger, tenant, voucherId, reason)
		if err == nil {
			return result, nil
		}
		if !isRetryableConflict(err) {
			return nil, err
		}
		lastErr = err
		config.LogWarn(logger, "reversalWorkflow.go", "ReverseVoucher", "Serialization conflict; retrying reversal",
			map[string]any{"tenant_id": tenant.TenantId, "attempt": attempt, "voucher_id": voucherId}, err.Error())
	}
	return nil, utils.NewConcurrencyConflict(lastErr)
}

func reverseOnce(ctx context.Context, db *gorm.DB, logger *logrus.Logger, tenant *models.TenantContext, voucherId int, reason string) (result *PostVoucherResult, err error) {
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

	original, err := tenant.GetVoucher(tx, voucherId)
	if err != nil {
		return nil, err
	}
	if original.Status != models.VoucherStatusPosted {
		return nil, utils.NewInvalidReference("voucher", "voucher %d is not posted", voucherId)
	}
	if original.ReversedByVoucherId != nil {
		return nil, utils.NewInvalidReference("voucher", "voucher %d is already reversed by voucher %d", voucherId, *original.ReversedByVoucherId)
	}

	var originalEntries []models.VoucherLedgerEntry
	err = tx.Where("tenant_id = ? AND voucher_id = ?", tenant.TenantId, voucherId).
		Order("id").Find(&originalEntries).Error
	if err != nil {
		return nil, err
	}
	var originalMovements []models.StockMovement
	err = tx.Where("tenant_id = ? AND voucher_id = ?", tenant.TenantId, voucherId).
		Order("id").Find(&originalMovements).Error
	if err != nil {
		return nil, err
	}

	seqNo, err := models.NextVoucherSequence(tx, tenant.TenantId)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	reversal := models.Voucher{
		TenantId:          tenant.TenantId,
		BranchId:          original.BranchId,
		VoucherType:       original.VoucherType,
		VoucherNumber:     models.FormatVoucherNumber(original.VoucherType, seqNo),
		SequenceNo:        seqNo,
		VoucherDate:       now,
		PartyLedgerId:     original.PartyLedgerId,
		Status:            models.VoucherStatusPosted,
		TotalAmount:       original.TotalAmount,
		TaxableAmount:     original.TaxableAmount,
		CgstAmount:        original.CgstAmount,
		SgstAmount:        original.SgstAmount,
		IgstAmount:        original.IgstAmount,
		CessAmount:        original.CessAmount,
		RoundOffAmount:    original.RoundOffAmount,
		Narration:         "Reversal of " + original.VoucherNumber,
		IsReversal:        true,
		ReversesVoucherId: &original.ID,
		ReversalReason:    &reason,
	}
	if err = tx.Create(&reversal).Error; err != nil {
		config.LogError(logger, "reversalWorkflow.go", "reverseOnce", "Create reversal voucher", voucherId, err)
		return nil, err
	}

	// Mirror entries: debit and credit legs swap.
	drafts := make([]LedgerEntryDraft, 0, len(originalEntries))
	for _, e := range originalEntries {
		drafts = append(drafts, LedgerEntryDraft{
			LedgerId:  e.LedgerId,
			Debit:     e.Credit,
			Credit:    e.Debit,
			Narration: reversal.Narration,
		})
	}
	entries, err := PostLedgerEntries(tx, logger, tenant, &reversal, drafts)
	if err != nil {
		return nil, err
	}

	// Inverse movements at the original rates, leg by leg. A transfer was
	// stored as its expanded pair, so negating each stored leg undoes it
	// without re-expanding.
	var movements []models.StockMovement
	for _, m := range originalMovements {
		applied, err := applyMovement(tx, logger, tenant, reversal.ID, StockMovementDraft{
			ItemId:       m.InventoryItemId,
			WarehouseId:  m.WarehouseId,
			MovementType: m.MovementType,
			Quantity:     m.Quantity.Neg(),
			Rate:         m.Rate,
			Narration:    reversal.Narration,
		}, now)
		if err != nil {
			return nil, err
		}
		movements = append(movements, *applied)
	}

	switch original.VoucherType {
	case models.VoucherTypeSales, models.VoucherTypePurchase:
		if err = closeBillForReversal(tx, logger, tenant, original.ID, reversal.ID); err != nil {
			return nil, err
		}
	case models.VoucherTypePayment, models.VoucherTypeReceipt:
		if err = restoreBillAllocations(tx, logger, tenant, original.ID, reversal.ID); err != nil {
			return nil, err
		}
	}

	// The only mutation a posted voucher ever takes: the reversal linkage.
	err = tx.Model(original).Updates(map[string]any{
		"reversed_by_voucher_id": reversal.ID,
		"reversed_at":            now,
	}).Error
	if err != nil {
		config.LogError(logger, "reversalWorkflow.go", "reverseOnce", "Link original to reversal", voucherId, err)
		return nil, err
	}

	if err = CommitReleasingPostingLock(tx, tenant.TenantId); err != nil {
		config.LogError(logger, "reversalWorkflow.go", "reverseOnce", "Commit reversal transaction", voucherId, err)
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"tenant_id":       tenant.TenantId,
		"voucher_id":      original.ID,
		"reversal_id":     reversal.ID,
		"reversal_number": reversal.VoucherNumber,
		"original_number": original.VoucherNumber,
	}).Info("voucher reversed")

	return &PostVoucherResult{
		Voucher:        &reversal,
		LedgerEntries:  entries,
		StockMovements: movements,
	}, nil
}
