package models

import (
	"fmt"

	"gorm.io/gorm"
)

// NextVoucherSequence returns the next per-tenant voucher sequence number.
// Callers must hold the tenant posting lock; MAX+1 is race-free under it.
func NextVoucherSequence(tx *gorm.DB, tenantId string) (int64, error) {
	var maxSeq *int64
	err := tx.Model(&Voucher{}).
		Select("max(sequence_no)").
		Where("tenant_id = ?", tenantId).
		Scan(&maxSeq).Error
	if err != nil {
		return 0, err
	}
	if maxSeq == nil {
		return 1, nil
	}
	return *maxSeq + 1, nil
}

// FormatVoucherNumber renders the human-facing voucher number.
func FormatVoucherNumber(voucherType VoucherType, seqNo int64) string {
	return voucherType.Prefix() + fmt.Sprint(seqNo)
}
