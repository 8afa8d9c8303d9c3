package models

import "errors"

// BalanceType carries the sign of a ledger balance; magnitudes are stored
// unsigned. Dr is the positive direction everywhere in this codebase.
type BalanceType string

const (
	BalanceTypeDebit  BalanceType = "Dr"
	BalanceTypeCredit BalanceType = "Cr"
)

func ParseBalanceType(s string) (BalanceType, error) {
	switch s {
	case "Dr":
		return BalanceTypeDebit, nil
	case "Cr":
		return BalanceTypeCredit, nil
	}
	return "", errors.New("invalid balance type")
}

// GroupNature is the account-group classification. It implies the expected
// balance sign but never overrides the sign derived from postings.
type GroupNature string

const (
	GroupNatureAsset     GroupNature = "Asset"
	GroupNatureLiability GroupNature = "Liability"
	GroupNatureIncome    GroupNature = "Income"
	GroupNatureExpense   GroupNature = "Expense"
)

// ExpectedBalanceType returns the balance side a ledger of this nature
// normally carries.
func (n GroupNature) ExpectedBalanceType() BalanceType {
	switch n {
	case GroupNatureAsset, GroupNatureExpense:
		return BalanceTypeDebit
	default:
		return BalanceTypeCredit
	}
}

type VoucherType string

const (
	VoucherTypeSales      VoucherType = "Sales"
	VoucherTypePurchase   VoucherType = "Purchase"
	VoucherTypePayment    VoucherType = "Payment"
	VoucherTypeReceipt    VoucherType = "Receipt"
	VoucherTypeJournal    VoucherType = "Journal"
	VoucherTypeContra     VoucherType = "Contra"
	VoucherTypeAdjustment VoucherType = "Adjustment"
	VoucherTypeTransfer   VoucherType = "Transfer"
)

func (t VoucherType) Valid() bool {
	switch t {
	case VoucherTypeSales, VoucherTypePurchase, VoucherTypePayment, VoucherTypeReceipt,
		VoucherTypeJournal, VoucherTypeContra, VoucherTypeAdjustment, VoucherTypeTransfer:
		return true
	}
	return false
}

// HasLineItems reports whether this voucher type is built from inventory
// line items (vs. raw ledger lines or stock-only movements).
func (t VoucherType) HasLineItems() bool {
	return t == VoucherTypeSales || t == VoucherTypePurchase
}

// IsManualLedgerType reports whether entries come directly from
// caller-supplied ledger lines.
func (t VoucherType) IsManualLedgerType() bool {
	switch t {
	case VoucherTypePayment, VoucherTypeReceipt, VoucherTypeJournal, VoucherTypeContra:
		return true
	}
	return false
}

// Prefix is the voucher-number prefix for the type.
func (t VoucherType) Prefix() string {
	switch t {
	case VoucherTypeSales:
		return "SV-"
	case VoucherTypePurchase:
		return "PV-"
	case VoucherTypePayment:
		return "PMT-"
	case VoucherTypeReceipt:
		return "RCT-"
	case VoucherTypeJournal:
		return "JV-"
	case VoucherTypeContra:
		return "CV-"
	case VoucherTypeAdjustment:
		return "ADJ-"
	case VoucherTypeTransfer:
		return "TRF-"
	}
	return "V-"
}

type VoucherStatus string

const (
	VoucherStatusDraft  VoucherStatus = "Draft"
	VoucherStatusPosted VoucherStatus = "Posted"
)

type MovementType string

const (
	MovementTypeIn       MovementType = "IN"
	MovementTypeOut      MovementType = "OUT"
	MovementTypeAdjust   MovementType = "ADJ"
	MovementTypeTransfer MovementType = "TRANSFER"
)

// SystemCode identifies a statutory ledger. Statutory lookups are always
// exact-key on this code, never by name pattern.
type SystemCode string

const (
	SystemCodeCgstInput  SystemCode = "CGST_INPUT"
	SystemCodeSgstInput  SystemCode = "SGST_INPUT"
	SystemCodeIgstInput  SystemCode = "IGST_INPUT"
	SystemCodeCessInput  SystemCode = "CESS_INPUT"
	SystemCodeCgstOutput SystemCode = "CGST_OUTPUT"
	SystemCodeSgstOutput SystemCode = "SGST_OUTPUT"
	SystemCodeIgstOutput SystemCode = "IGST_OUTPUT"
	SystemCodeCessOutput SystemCode = "CESS_OUTPUT"

	SystemCodeTdsPayable    SystemCode = "TDS_PAYABLE"
	SystemCodeTdsReceivable SystemCode = "TDS_RECEIVABLE"
	SystemCodeTcsPayable    SystemCode = "TCS_PAYABLE"

	SystemCodeStockInHand     SystemCode = "STOCK_IN_HAND"
	SystemCodePurchaseAccount SystemCode = "PURCHASE_ACCOUNT"
	SystemCodeSalesAccount    SystemCode = "SALES_ACCOUNT"
	SystemCodeCogsAccount     SystemCode = "COGS_ACCOUNT"
	SystemCodeRoundOff        SystemCode = "ROUND_OFF"
)
