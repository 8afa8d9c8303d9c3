package workflow

import (
	"context"
	"errors"

	"github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"github.com/vyaparbooks/ledger_backend/config"
	"github.com/vyaparbooks/ledger_backend/models"
	"github.com/vyaparbooks/ledger_backend/utils"
)

var tracer = otel.Tracer("ledger-engine")

const maxPostAttempts = 3

// PostVoucherResult is everything a posting produced, returned so callers
// can respond without re-reading.
type PostVoucherResult struct {
	Voucher        *models.Voucher
	LedgerEntries  []models.VoucherLedgerEntry
	StockMovements []models.StockMovement
	BillsAffected  []models.BillAllocation
}

// PostVoucher validates, builds, and posts a voucher atomically. Inside
// one transaction, under the tenant's advisory posting lock: sequence
// assignment, ledger entries, balance updates, stock movements, and
// bill-wise tracking all land together or not at all. Deadlocks and lock
// timeouts are retried a bounded number of times before surfacing as a
// ConcurrencyConflict.
func PostVoucher(ctx context.Context, db *gorm.DB, logger *logrus.Logger, tenant *models.TenantContext, input *models.NewVoucher) (*PostVoucherResult, error) {
	ctx, span := tracer.Start(ctx, "PostVoucher")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant_id", tenant.TenantId),
		attribute.String("voucher_type", string(input.VoucherType)),
	)

	if err := input.Validate(); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= maxPostAttempts; attempt++ {
		result, err := postOnce(ctx, db, logger, tenant, input, 0)
		if err == nil {
			return result, nil
		}
		if !isRetryableConflict(err) {
			return nil, err
		}
		lastErr = err
		config.LogWarn(logger, "postVoucher.go", "PostVoucher", "Serialization conflict; retrying posting",
			map[string]any{"tenant_id": tenant.TenantId, "attempt": attempt, "voucher_type": input.VoucherType}, err.Error())
	}
	return nil, utils.NewConcurrencyConflict(lastErr)
}

// SaveDraft stores a voucher header without posting it. Drafts carry no
// ledger entries, no stock movements, and no sequence number; all of that
// is assigned when the draft is posted.
func SaveDraft(ctx context.Context, db *gorm.DB, logger *logrus.Logger, tenant *models.TenantContext, input *models.NewVoucher) (*models.Voucher, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}
	draft := models.Voucher{
		TenantId:      tenant.TenantId,
		BranchId:      tenant.BranchId,
		VoucherType:   input.VoucherType,
		VoucherDate:   input.VoucherDate,
		PartyLedgerId: input.PartyLedgerId,
		Narration:     input.Narration,
		Status:        models.VoucherStatusDraft,
	}
	if err := db.WithContext(ctx).Create(&draft).Error; err != nil {
		config.LogError(logger, "postVoucher.go", "SaveDraft", "Create draft voucher", input.VoucherType, err)
		return nil, err
	}
	return &draft, nil
}

// PostDraft posts a previously saved draft in place. The stored header row
// transitions Draft -> Posted; everything else follows the same path as a
// direct posting.
func PostDraft(ctx context.Context, db *gorm.DB, logger *logrus.Logger, tenant *models.TenantContext, draftId int, input *models.NewVoucher) (*PostVoucherResult, error) {
	ctx, span := tracer.Start(ctx, "PostDraft")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant_id", tenant.TenantId),
		attribute.Int("draft_id", draftId),
	)

	if err := input.Validate(); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= maxPostAttempts; attempt++ {
		result, err := postOnce(ctx, db, logger, tenant, input, draftId)
		if err == nil {
			return result, nil
		}
		if !isRetryableConflict(err) {
			return nil, err
		}
		lastErr = err
		config.LogWarn(logger, "postVoucher.go", "PostDraft", "Serialization conflict; retrying posting",
			map[string]any{"tenant_id": tenant.TenantId, "attempt": attempt, "draft_id": draftId}, err.Error())
	}
	return nil, utils.NewConcurrencyConflict(lastErr)
}

func postOnce(ctx context.Context, db *gorm.DB, logger *logrus.Logger, tenant *models.TenantContext, input *models.NewVoucher, draftId int) (result *PostVoucherResult, err error) {
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

	draft, err := BuildVoucher(tx, logger, tenant, input)
	if err != nil {
		return nil, err
	}

	voucher, err := persistVoucher(tx, logger, tenant, draft, draftId)
	if err != nil {
		return nil, err
	}

	movements, err := ApplyStockMovements(tx, logger, tenant, voucher.ID, draft.Movements)
	if err != nil {
		return nil, err
	}

	// Sales cost legs are priced from the applied movements, so the ledger
	// carries exactly what the valuation engine costed the issue at.
	entryDrafts := draft.Entries
	if voucher.VoucherType == models.VoucherTypeSales && len(movements) > 0 {
		sysLedgers, sysErr := models.GetSystemLedgers(tenant.TenantId)
		if sysErr != nil {
			err = sysErr
			return nil, err
		}
		cogs, cogsErr := costOfGoodsEntries(logger, sysLedgers, movements, draft.Narration)
		if cogsErr != nil {
			err = cogsErr
			return nil, err
		}
		entryDrafts = append(entryDrafts, cogs...)
	}

	entries, err := PostLedgerEntries(tx, logger, tenant, voucher, entryDrafts)
	if err != nil {
		return nil, err
	}

	var allocations []models.BillAllocation
	switch voucher.VoucherType {
	case models.VoucherTypeSales, models.VoucherTypePurchase:
		if _, err = OpenBill(tx, logger, tenant, voucher); err != nil {
			return nil, err
		}
	case models.VoucherTypePayment, models.VoucherTypeReceipt:
		allocations, err = AllocateSettlement(tx, logger, tenant, voucher, draft.SettlementAmount, draft.BillAllocations)
		if err != nil {
			return nil, err
		}
	}

	if err = CommitReleasingPostingLock(tx, tenant.TenantId); err != nil {
		config.LogError(logger, "postVoucher.go", "postOnce", "Commit posting transaction", voucher.ID, err)
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"tenant_id":      tenant.TenantId,
		"voucher_id":     voucher.ID,
		"voucher_number": voucher.VoucherNumber,
		"voucher_type":   voucher.VoucherType,
		"total_amount":   voucher.TotalAmount.StringFixed(2),
	}).Info("voucher posted")

	return &PostVoucherResult{
		Voucher:        voucher,
		LedgerEntries:  entries,
		StockMovements: movements,
		BillsAffected:  allocations,
	}, nil
}

// persistVoucher writes the header: a fresh row for direct postings, an
// in-place Draft -> Posted transition when posting a saved draft. Sequence
// numbers are assigned here, under the posting lock, so they are gapless
// per tenant.
func persistVoucher(tx *gorm.DB, logger *logrus.Logger, tenant *models.TenantContext, draft *VoucherDraft, draftId int) (*models.Voucher, error) {
	seqNo, err := models.NextVoucherSequence(tx, tenant.TenantId)
	if err != nil {
		return nil, err
	}
	number := models.FormatVoucherNumber(draft.VoucherType, seqNo)

	if draftId == 0 {
		voucher := models.Voucher{
			TenantId:       tenant.TenantId,
			BranchId:       tenant.BranchId,
			VoucherType:    draft.VoucherType,
			VoucherNumber:  number,
			SequenceNo:     seqNo,
			VoucherDate:    draft.VoucherDate,
			PartyLedgerId:  draft.PartyLedgerId,
			Status:         models.VoucherStatusPosted,
			TotalAmount:    draft.TotalAmount,
			TaxableAmount:  draft.TaxableAmount,
			CgstAmount:     draft.CgstAmount,
			SgstAmount:     draft.SgstAmount,
			IgstAmount:     draft.IgstAmount,
			CessAmount:     draft.CessAmount,
			RoundOffAmount: draft.RoundOffAmount,
			Narration:      draft.Narration,
		}
		if err := tx.Create(&voucher).Error; err != nil {
			config.LogError(logger, "postVoucher.go", "persistVoucher", "Create voucher", number, err)
			return nil, err
		}
		return &voucher, nil
	}

	voucher, err := tenant.GetVoucher(tx, draftId)
	if err != nil {
		return nil, err
	}
	if voucher.Status != models.VoucherStatusDraft {
		return nil, utils.NewInvalidReference("voucher", "voucher %d is not a draft", draftId)
	}
	if voucher.VoucherType != draft.VoucherType {
		return nil, utils.NewInvalidReference("voucher", "draft %d is a %s voucher", draftId, voucher.VoucherType)
	}
	err = tx.Model(voucher).Updates(map[string]any{
		"voucher_number":   number,
		"sequence_no":      seqNo,
		"voucher_date":     draft.VoucherDate,
		"party_ledger_id":  draft.PartyLedgerId,
		"status":           models.VoucherStatusPosted,
		"total_amount":     draft.TotalAmount,
		"taxable_amount":   draft.TaxableAmount,
		"cgst_amount":      draft.CgstAmount,
		"sgst_amount":      draft.SgstAmount,
		"igst_amount":      draft.IgstAmount,
		"cess_amount":      draft.CessAmount,
		"round_off_amount": draft.RoundOffAmount,
		"narration":        draft.Narration,
	}).Error
	if err != nil {
		config.LogError(logger, "postVoucher.go", "persistVoucher", "Post draft voucher", draftId, err)
		return nil, err
	}
	voucher.VoucherNumber = number
	voucher.SequenceNo = seqNo
	voucher.Status = models.VoucherStatusPosted
	voucher.TotalAmount = draft.TotalAmount
	return voucher, nil
}

// isRetryableConflict matches MySQL deadlock (1213) and lock wait timeout
// (1205) errors, the two cases where retrying the whole posting is safe.
func isRetryableConflict(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1213 || myErr.Number == 1205
	}
	return false
}
