package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// BillWiseDetail tracks how much of a Sales/Purchase voucher's total is
// still outstanding. Created when the voucher posts; mutated only by
// allocations.
type BillWiseDetail struct {
	ID            int             `gorm:"primary_key" json:"id"`
	TenantId      string          `gorm:"index;size:64;not null;index:idx_bwd_tenant_party,priority:1" json:"tenant_id"`
	VoucherId     int             `gorm:"index;not null" json:"voucher_id"`
	PartyLedgerId int             `gorm:"index;not null;index:idx_bwd_tenant_party,priority:2" json:"party_ledger_id"`
	BillNumber    string          `gorm:"size:255" json:"bill_number"`
	BillDate      time.Time       `gorm:"not null;index" json:"bill_date"`
	TotalAmount   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_amount"`
	PendingAmount decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"pending_amount"`
	IsOpen        *bool           `gorm:"not null;default:true;index" json:"is_open"`
	IsFullyPaid   *bool           `gorm:"not null;default:false" json:"is_fully_paid"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (b *BillWiseDetail) GetId() int { return b.ID }

// BillAllocation records one settlement voucher's application against one
// bill. Sum of allocations for a bill never exceeds its total amount.
type BillAllocation struct {
	ID                  int             `gorm:"primary_key" json:"id"`
	TenantId            string          `gorm:"index;size:64;not null" json:"tenant_id"`
	BillWiseDetailId    int             `gorm:"index;not null" json:"bill_wise_detail_id"`
	SettlementVoucherId int             `gorm:"index;not null" json:"settlement_voucher_id"`
	AllocatedAmount     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"allocated_amount"`
	CreatedAt           time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (a BillAllocation) GetId() int { return a.ID }
