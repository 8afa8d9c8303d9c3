package workflow

import (
	"github.com/shopspring/decimal"

	"github.com/vyaparbooks/ledger_backend/utils"
)

var decimalOneHundred = decimal.NewFromInt(100)
var decimalTwo = decimal.NewFromInt(2)

// LineTaxSplit is the per-line GST computation result. All component
// amounts are rounded to 2 decimals; ExactTotal keeps the unrounded line
// total so the voucher-level round-off can be derived from it.
type LineTaxSplit struct {
	Taxable decimal.Decimal
	Cgst    decimal.Decimal
	Sgst    decimal.Decimal
	Igst    decimal.Decimal
	Cess    decimal.Decimal

	ExactTotal decimal.Decimal
}

// SplitLineTax computes taxable amount and GST components for one line.
// Intra-state tax splits into CGST+SGST; the SGST leg is the remainder
// (tax − rounded CGST) so the two components always sum to the rounded
// line tax and never drift by a paisa.
func SplitLineTax(quantity, rate, taxRate, cessRate decimal.Decimal, intraState bool) LineTaxSplit {
	taxable := utils.Round2(quantity.Mul(rate))
	exactTax := taxable.Mul(taxRate).Div(decimalOneHundred)
	tax := utils.Round2(exactTax)
	exactCess := taxable.Mul(cessRate).Div(decimalOneHundred)
	cess := utils.Round2(exactCess)

	split := LineTaxSplit{
		Taxable:    taxable,
		Cess:       cess,
		ExactTotal: taxable.Add(exactTax).Add(exactCess),
	}
	if intraState {
		split.Cgst = utils.Round2(tax.Div(decimalTwo))
		split.Sgst = tax.Sub(split.Cgst)
	} else {
		split.Igst = tax
	}
	return split
}

// VoucherTaxTotals accumulates line splits into voucher-level totals and
// derives the round-off amount: the difference between the rounded exact
// grand total and the sum of the rounded components.
type VoucherTaxTotals struct {
	Taxable  decimal.Decimal
	Cgst     decimal.Decimal
	Sgst     decimal.Decimal
	Igst     decimal.Decimal
	Cess     decimal.Decimal
	RoundOff decimal.Decimal
	// Grand is the voucher total amount (components + round-off).
	Grand decimal.Decimal

	exactTotal decimal.Decimal
}

func (t *VoucherTaxTotals) Add(split LineTaxSplit) {
	t.Taxable = t.Taxable.Add(split.Taxable)
	t.Cgst = t.Cgst.Add(split.Cgst)
	t.Sgst = t.Sgst.Add(split.Sgst)
	t.Igst = t.Igst.Add(split.Igst)
	t.Cess = t.Cess.Add(split.Cess)
	t.exactTotal = t.exactTotal.Add(split.ExactTotal)
}

// Finalize computes Grand and RoundOff. Must be called once after all
// lines are added.
func (t *VoucherTaxTotals) Finalize() {
	componentsTotal := t.Taxable.Add(t.Cgst).Add(t.Sgst).Add(t.Igst).Add(t.Cess)
	t.Grand = utils.Round2(t.exactTotal)
	t.RoundOff = t.Grand.Sub(componentsTotal)
}
