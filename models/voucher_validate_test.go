package models

import (
	"strings"
	"testing"
	"time"
)

func validSalesInput() *NewVoucher {
	return &NewVoucher{
		VoucherType:   VoucherTypeSales,
		VoucherDate:   time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		PartyLedgerId: 7,
		WarehouseId:   1,
		LineItems: []NewVoucherLineItem{
			{ItemName: "Basmati Rice", Quantity: dec("10"), Rate: dec("55.50"), TaxRate: dec("5")},
		},
	}
}

func TestNewVoucherValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(v *NewVoucher)
		wantErr bool
	}{
		{"valid sales", func(v *NewVoucher) {}, false},
		{"missing party", func(v *NewVoucher) { v.PartyLedgerId = 0 }, true},
		{"no line items", func(v *NewVoucher) { v.LineItems = nil }, true},
		{"zero quantity", func(v *NewVoucher) { v.LineItems[0].Quantity = dec("0") }, true},
		{"negative rate", func(v *NewVoucher) { v.LineItems[0].Rate = dec("-1") }, true},
		{"no item identifier", func(v *NewVoucher) { v.LineItems[0] = NewVoucherLineItem{Quantity: dec("1"), Rate: dec("1")} }, true},
		{"unknown type", func(v *NewVoucher) { v.VoucherType = "Refund" }, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			input := validSalesInput()
			c.mutate(input)
			err := input.Validate()
			if c.wantErr && err == nil {
				t.Error("expected validation error, got nil")
			}
			if !c.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestNewVoucherValidateReportsFieldNames(t *testing.T) {
	input := validSalesInput()
	input.VoucherType = ""
	err := input.Validate()
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	if !strings.Contains(err.Error(), "invalid voucher payload") || !strings.Contains(err.Error(), "VoucherType") {
		t.Errorf("expected field map in message, got %q", err.Error())
	}
}

func TestNewVoucherValidate_Settlement(t *testing.T) {
	input := &NewVoucher{
		VoucherType:        VoucherTypeReceipt,
		VoucherDate:        time.Now(),
		PartyLedgerId:      7,
		SettlementLedgerId: 3,
		Amount:             dec("6000"),
	}
	if err := input.Validate(); err != nil {
		t.Fatalf("valid receipt rejected: %v", err)
	}

	input.Amount = dec("0")
	if err := input.Validate(); err == nil {
		t.Error("zero amount should be rejected")
	}

	input.Amount = dec("6000")
	input.BillAllocations = []NewBillAllocation{{BillWiseDetailId: 1, Amount: dec("-5")}}
	if err := input.Validate(); err == nil {
		t.Error("negative allocation should be rejected")
	}
}

func TestNewVoucherValidate_ManualLines(t *testing.T) {
	input := &NewVoucher{
		VoucherType: VoucherTypeJournal,
		VoucherDate: time.Now(),
		LedgerLines: []NewLedgerLine{
			{LedgerId: 1, Debit: dec("100")},
			{LedgerId: 2, Credit: dec("100")},
		},
	}
	if err := input.Validate(); err != nil {
		t.Fatalf("valid journal rejected: %v", err)
	}

	input.LedgerLines[0].Credit = dec("50")
	if err := input.Validate(); err == nil {
		t.Error("a line with both debit and credit should be rejected")
	}

	input.LedgerLines = input.LedgerLines[:1]
	if err := input.Validate(); err == nil {
		t.Error("a single-line journal should be rejected")
	}
}

func TestNewVoucherValidate_Transfer(t *testing.T) {
	input := &NewVoucher{
		VoucherType:       VoucherTypeTransfer,
		VoucherDate:       time.Now(),
		SourceWarehouseId: 1,
		DestWarehouseId:   2,
		StockLines:        []NewStockLine{{ItemId: 5, Quantity: dec("100")}},
	}
	if err := input.Validate(); err != nil {
		t.Fatalf("valid transfer rejected: %v", err)
	}

	input.DestWarehouseId = 1
	if err := input.Validate(); err == nil {
		t.Error("same source and destination should be rejected")
	}
}
