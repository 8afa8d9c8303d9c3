package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/vyaparbooks/ledger_backend/utils"
)

type Voucher struct {
	ID            int           `gorm:"primary_key" json:"id"`
	TenantId      string        `gorm:"index;size:64;not null;index:idx_voucher_tenant_date,priority:1" json:"tenant_id"`
	BranchId      int           `gorm:"index" json:"branch_id"`
	VoucherType   VoucherType   `gorm:"type:enum('Sales','Purchase','Payment','Receipt','Journal','Contra','Adjustment','Transfer');not null;index" json:"voucher_type"`
	VoucherNumber string        `gorm:"size:255;not null" json:"voucher_number"`
	SequenceNo    int64         `gorm:"not null" json:"sequence_no"`
	VoucherDate   time.Time     `gorm:"not null;index:idx_voucher_tenant_date,priority:2" json:"voucher_date"`
	PartyLedgerId int           `gorm:"index" json:"party_ledger_id"`
	Status        VoucherStatus `gorm:"type:enum('Draft','Posted');default:'Draft';not null;index" json:"status"`

	TotalAmount    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_amount"`
	TaxableAmount  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"taxable_amount"`
	CgstAmount     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"cgst_amount"`
	SgstAmount     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"sgst_amount"`
	IgstAmount     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"igst_amount"`
	CessAmount     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"cess_amount"`
	RoundOffAmount decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"round_off_amount"`
	Narration      string          `gorm:"type:text" json:"narration"`

	// Posted vouchers are never edited; corrections are reversing vouchers.
	IsReversal          bool       `gorm:"not null;default:false;index" json:"is_reversal"`
	ReversesVoucherId   *int       `gorm:"index" json:"reverses_voucher_id"`
	ReversedByVoucherId *int       `gorm:"index" json:"reversed_by_voucher_id"`
	ReversalReason      *string    `gorm:"type:text" json:"reversal_reason"`
	ReversedAt          *time.Time `json:"reversed_at"`

	LedgerEntries []VoucherLedgerEntry `gorm:"foreignKey:VoucherId" json:"ledger_entries"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (v *Voucher) GetId() int { return v.ID }

// BeforeUpdate allows only the posting status transition and reversal
// linkage; posted vouchers are otherwise immutable.
func (v *Voucher) BeforeUpdate(tx *gorm.DB) error {
	allowed := map[string]bool{
		"Status":              true,
		"IsReversal":          true,
		"ReversesVoucherId":   true,
		"ReversedByVoucherId": true,
		"ReversalReason":      true,
		"ReversedAt":          true,
		"UpdatedAt":           true,
	}
	if tx == nil || tx.Statement == nil || tx.Statement.Schema == nil {
		return nil
	}
	if v.Status != VoucherStatusPosted {
		return nil
	}
	for _, f := range tx.Statement.Schema.Fields {
		if tx.Statement.Changed(f.Name) && !allowed[f.Name] {
			return errors.New("immutable voucher: posted vouchers accept only reversal linkage updates")
		}
	}
	return nil
}

func (v *Voucher) BeforeDelete(tx *gorm.DB) error {
	if v.Status == VoucherStatusPosted {
		return errors.New("immutable voucher: posted vouchers cannot be deleted")
	}
	return nil
}

type VoucherLedgerEntry struct {
	ID            int             `gorm:"primary_key" json:"id"`
	TenantId      string          `gorm:"index;size:64;not null;index:idx_vle_tenant_ledger,priority:1" json:"tenant_id"`
	VoucherId     int             `gorm:"index;not null" json:"voucher_id"`
	LedgerId      int             `gorm:"index;not null;index:idx_vle_tenant_ledger,priority:2" json:"ledger_id"`
	Debit         decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"debit"`
	Credit        decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"credit"`
	Narration     string          `gorm:"size:255" json:"narration"`
	EntryDateTime time.Time       `gorm:"not null;index" json:"entry_date_time"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (e VoucherLedgerEntry) GetId() int { return e.ID }

// Ledger immutability guardrails: voucher_ledger_entries are append-only.
// Corrections are always new reversing vouchers, never row edits; the
// reconciliation job re-derives balances from this history.

func (e *VoucherLedgerEntry) BeforeUpdate(tx *gorm.DB) error {
	return errors.New("immutable ledger: voucher_ledger_entries cannot be updated")
}

func (e *VoucherLedgerEntry) BeforeDelete(tx *gorm.DB) error {
	return errors.New("immutable ledger: voucher_ledger_entries cannot be deleted")
}

/* Input payloads. NewVoucher is the tagged union over voucher kinds:
   VoucherType selects which field group applies, Validate enforces that
   exactly the right fields are present before anything touches storage. */

type NewVoucherLineItem struct {
	// Resolution identifiers, strongest first: id, barcode, code,
	// name (+variant), legacy normalized name.
	ItemId            int    `json:"item_id"`
	Barcode           string `json:"barcode"`
	ItemCode          string `json:"item_code"`
	ItemName          string `json:"item_name"`
	VariantAttributes string `json:"variant_attributes"`
	Description       string `json:"description"`

	Quantity decimal.Decimal `json:"quantity"`
	Rate     decimal.Decimal `json:"rate"`
	TaxRate  decimal.Decimal `json:"tax_rate"`
	CessRate decimal.Decimal `json:"cess_rate"`
	HsnCode  string          `json:"hsn_code"`
}

type NewLedgerLine struct {
	LedgerId  int             `json:"ledger_id" validate:"required"`
	Debit     decimal.Decimal `json:"debit"`
	Credit    decimal.Decimal `json:"credit"`
	Narration string          `json:"narration"`
}

type NewStockLine struct {
	ItemId   int             `json:"item_id" validate:"required"`
	Quantity decimal.Decimal `json:"quantity"`
	Rate     decimal.Decimal `json:"rate"`
}

type NewBillAllocation struct {
	BillWiseDetailId int             `json:"bill_wise_detail_id" validate:"required"`
	Amount           decimal.Decimal `json:"amount"`
}

type NewVoucher struct {
	VoucherType VoucherType `json:"voucher_type" validate:"required"`
	VoucherDate time.Time   `json:"voucher_date" validate:"required"`
	Narration   string      `json:"narration"`

	// Sales / Purchase
	PartyLedgerId          int                  `json:"party_ledger_id"`
	PlaceOfSupplyStateCode string               `json:"place_of_supply_state_code"`
	WarehouseId            int                  `json:"warehouse_id"`
	LineItems              []NewVoucherLineItem `json:"line_items"`
	// Withholding rates, applied only when the party ledger carries the
	// matching applicability flag.
	TdsRate decimal.Decimal `json:"tds_rate"`
	TcsRate decimal.Decimal `json:"tcs_rate"`

	// Payment / Receipt
	SettlementLedgerId int                 `json:"settlement_ledger_id"`
	Amount             decimal.Decimal     `json:"amount"`
	PaymentMode        string              `json:"payment_mode"`
	BillAllocations    []NewBillAllocation `json:"bill_allocations"`

	// Journal / Contra
	LedgerLines []NewLedgerLine `json:"ledger_lines"`

	// Adjustment / Transfer
	StockLines        []NewStockLine `json:"stock_lines"`
	SourceWarehouseId int            `json:"source_warehouse_id"`
	DestWarehouseId   int            `json:"dest_warehouse_id"`
}

var validate = validator.New()

// Validate runs before any storage access; a failed build never touches
// the database.
func (input *NewVoucher) Validate() error {
	if err := validate.Struct(input); err != nil {
		var fieldErrors validator.ValidationErrors
		if errors.As(err, &fieldErrors) {
			return fmt.Errorf("invalid voucher payload: %v", utils.ProcessValidationErrors(fieldErrors))
		}
		return err
	}
	if !input.VoucherType.Valid() {
		return fmt.Errorf("invalid voucher type %q", input.VoucherType)
	}

	switch input.VoucherType {
	case VoucherTypeSales, VoucherTypePurchase:
		if input.PartyLedgerId <= 0 {
			return errors.New("party ledger is required")
		}
		if len(input.LineItems) == 0 {
			return errors.New("at least one line item is required")
		}
		for i, line := range input.LineItems {
			if line.Quantity.IsZero() || line.Quantity.IsNegative() {
				return fmt.Errorf("line %d: quantity must be positive", i)
			}
			if line.Rate.IsNegative() {
				return fmt.Errorf("line %d: rate must be non-negative", i)
			}
			if line.TaxRate.IsNegative() || line.CessRate.IsNegative() {
				return fmt.Errorf("line %d: tax rates must be non-negative", i)
			}
			if line.ItemId == 0 && line.Barcode == "" && line.ItemCode == "" && line.ItemName == "" {
				return fmt.Errorf("line %d: an item identifier or name is required", i)
			}
		}

	case VoucherTypePayment, VoucherTypeReceipt:
		if input.PartyLedgerId <= 0 {
			return errors.New("party ledger is required")
		}
		if input.SettlementLedgerId <= 0 {
			return errors.New("settlement (bank/cash) ledger is required")
		}
		if !input.Amount.IsPositive() {
			return errors.New("amount must be positive")
		}
		for i, alloc := range input.BillAllocations {
			if !alloc.Amount.IsPositive() {
				return fmt.Errorf("allocation %d: amount must be positive", i)
			}
		}

	case VoucherTypeJournal, VoucherTypeContra:
		if len(input.LedgerLines) < 2 {
			return errors.New("at least two ledger lines are required")
		}
		for i, line := range input.LedgerLines {
			if line.Debit.IsZero() && line.Credit.IsZero() {
				return fmt.Errorf("line %d: either debit or credit must have value", i)
			}
			if !line.Debit.IsZero() && !line.Credit.IsZero() {
				return fmt.Errorf("line %d: only one of debit or credit may have value", i)
			}
			if line.Debit.IsNegative() || line.Credit.IsNegative() {
				return fmt.Errorf("line %d: amounts must be non-negative", i)
			}
		}

	case VoucherTypeAdjustment:
		if len(input.StockLines) == 0 {
			return errors.New("at least one stock line is required")
		}
		for i, line := range input.StockLines {
			if line.Quantity.IsZero() {
				return fmt.Errorf("stock line %d: quantity must be non-zero", i)
			}
			if line.Rate.IsNegative() {
				return fmt.Errorf("stock line %d: rate must be non-negative", i)
			}
		}

	case VoucherTypeTransfer:
		if len(input.StockLines) == 0 {
			return errors.New("at least one stock line is required")
		}
		if input.SourceWarehouseId <= 0 || input.DestWarehouseId <= 0 {
			return errors.New("source and destination warehouses are required")
		}
		if input.SourceWarehouseId == input.DestWarehouseId {
			return errors.New("source and destination warehouses must differ")
		}
		for i, line := range input.StockLines {
			if !line.Quantity.IsPositive() {
				return fmt.Errorf("stock line %d: quantity must be positive", i)
			}
		}
	}
	return nil
}
