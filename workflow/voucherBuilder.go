package workflow

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/vyaparbooks/ledger_backend/config"
	"github.com/vyaparbooks/ledger_backend/models"
	"github.com/vyaparbooks/ledger_backend/utils"
)

// LedgerEntryDraft is one proposed posting line. Exactly one of
// Debit/Credit is non-zero.
type LedgerEntryDraft struct {
	LedgerId  int
	Debit     decimal.Decimal
	Credit    decimal.Decimal
	Narration string
}

// StockMovementDraft is one proposed inventory movement. Quantity is
// signed. When RateFromAvgCost is set the valuation engine fills Rate
// with the item's current average cost at apply time (issues are always
// costed at the running average, never at the sale price).
type StockMovementDraft struct {
	ItemId          int
	WarehouseId     int
	MovementType    models.MovementType
	Quantity        decimal.Decimal
	Rate            decimal.Decimal
	RateFromAvgCost bool
	// TransferToWarehouseId pairs an OUT at the source with an IN at the
	// destination, sharing one timestamp and the source's cost basis.
	TransferToWarehouseId int
	Narration             string
}

// VoucherDraft is the normalized payload the builder hands to the posting
// engines: header totals + proposed ledger entries + proposed movements.
type VoucherDraft struct {
	VoucherType   models.VoucherType
	VoucherDate   time.Time
	PartyLedgerId int
	Narration     string

	TotalAmount    decimal.Decimal
	TaxableAmount  decimal.Decimal
	CgstAmount     decimal.Decimal
	SgstAmount     decimal.Decimal
	IgstAmount     decimal.Decimal
	CessAmount     decimal.Decimal
	RoundOffAmount decimal.Decimal

	Entries   []LedgerEntryDraft
	Movements []StockMovementDraft

	// Settlement fields (Payment/Receipt); explicit allocations win over
	// FIFO when present.
	SettlementAmount decimal.Decimal
	BillAllocations  []models.NewBillAllocation
}

// BuildVoucher turns a validated NewVoucher into a normalized payload.
// All reference checks happen here, before any ledger or stock write;
// the only write the builder itself performs is last-resort inventory
// item auto-creation, which is inside the caller's transaction.
func BuildVoucher(tx *gorm.DB, logger *logrus.Logger, tenant *models.TenantContext, input *models.NewVoucher) (*VoucherDraft, error) {
	draft := &VoucherDraft{
		VoucherType:   input.VoucherType,
		VoucherDate:   input.VoucherDate,
		PartyLedgerId: input.PartyLedgerId,
		Narration:     input.Narration,
	}

	switch input.VoucherType {
	case models.VoucherTypeSales, models.VoucherTypePurchase:
		if err := buildTradeVoucher(tx, logger, tenant, input, draft); err != nil {
			return nil, err
		}
	case models.VoucherTypePayment, models.VoucherTypeReceipt:
		if err := buildSettlementVoucher(tx, tenant, input, draft); err != nil {
			return nil, err
		}
	case models.VoucherTypeJournal, models.VoucherTypeContra:
		if err := buildManualVoucher(tx, tenant, input, draft); err != nil {
			return nil, err
		}
	case models.VoucherTypeAdjustment:
		if err := buildAdjustmentVoucher(tx, tenant, input, draft); err != nil {
			return nil, err
		}
	case models.VoucherTypeTransfer:
		if err := buildTransferVoucher(tx, tenant, input, draft); err != nil {
			return nil, err
		}
	}
	return draft, nil
}

// systemLedgerOrError resolves a statutory ledger by exact code. A missing
// ledger with a zero amount is tolerated (the line is omitted, logged);
// a non-zero amount with no ledger is a tenant configuration error.
func systemLedgerOrError(logger *logrus.Logger, sysLedgers map[models.SystemCode]int, code models.SystemCode, amount decimal.Decimal) (int, bool, error) {
	id, ok := sysLedgers[code]
	if ok {
		return id, true, nil
	}
	if amount.IsZero() {
		config.LogWarn(logger, "voucherBuilder.go", "systemLedgerOrError", "Statutory ledger missing; zero-amount line omitted",
			map[string]any{"system_code": code}, "statutory ledger not configured")
		return 0, false, nil
	}
	return 0, false, utils.NewConfigurationError(string(code), "statutory ledger %s is not configured", code)
}

func buildTradeVoucher(tx *gorm.DB, logger *logrus.Logger, tenant *models.TenantContext, input *models.NewVoucher, draft *VoucherDraft) error {
	party, err := tenant.GetLedger(tx, input.PartyLedgerId)
	if err != nil {
		return err
	}

	sysLedgers, err := models.GetSystemLedgers(tenant.TenantId)
	if err != nil {
		return err
	}

	intraState := input.PlaceOfSupplyStateCode == "" || input.PlaceOfSupplyStateCode == tenant.StateCode
	isPurchase := input.VoucherType == models.VoucherTypePurchase

	var totals VoucherTaxTotals
	for _, line := range input.LineItems {
		item, err := models.ResolveInventoryItem(tx, logger, tenant.TenantId, models.ItemRef{
			ItemId:            line.ItemId,
			Barcode:           line.Barcode,
			Code:              line.ItemCode,
			Name:              line.ItemName,
			VariantAttributes: line.VariantAttributes,
		})
		if err != nil {
			return err
		}

		split := SplitLineTax(line.Quantity, line.Rate, line.TaxRate, line.CessRate, intraState)
		totals.Add(split)

		narration := line.Description
		if narration == "" {
			narration = item.Name
		}
		if isPurchase {
			draft.Movements = append(draft.Movements, StockMovementDraft{
				ItemId:       item.ID,
				WarehouseId:  input.WarehouseId,
				MovementType: models.MovementTypeIn,
				Quantity:     line.Quantity,
				Rate:         line.Rate,
				Narration:    narration,
			})
		} else {
			draft.Movements = append(draft.Movements, StockMovementDraft{
				ItemId:          item.ID,
				WarehouseId:     input.WarehouseId,
				MovementType:    models.MovementTypeOut,
				Quantity:        line.Quantity.Neg(),
				RateFromAvgCost: true,
				Narration:       narration,
			})
		}
	}
	totals.Finalize()

	draft.TaxableAmount = totals.Taxable
	draft.CgstAmount = totals.Cgst
	draft.SgstAmount = totals.Sgst
	draft.IgstAmount = totals.Igst
	draft.CessAmount = totals.Cess
	draft.RoundOffAmount = totals.RoundOff
	draft.TotalAmount = totals.Grand

	if isPurchase {
		return assemblePurchaseEntries(logger, sysLedgers, party, input, draft, totals)
	}
	return assembleSalesEntries(logger, sysLedgers, party, input, draft, totals)
}

func assemblePurchaseEntries(logger *logrus.Logger, sysLedgers map[models.SystemCode]int, party *models.Ledger, input *models.NewVoucher, draft *VoucherDraft, totals VoucherTaxTotals) error {
	stockLedgerId, _, err := systemLedgerOrError(logger, sysLedgers, models.SystemCodeStockInHand, totals.Taxable)
	if err != nil {
		return err
	}
	if !totals.Taxable.IsZero() {
		draft.Entries = append(draft.Entries, LedgerEntryDraft{
			LedgerId: stockLedgerId, Debit: totals.Taxable, Narration: draft.Narration,
		})
	}

	taxLines := []struct {
		code   models.SystemCode
		amount decimal.Decimal
	}{
		{models.SystemCodeCgstInput, totals.Cgst},
		{models.SystemCodeSgstInput, totals.Sgst},
		{models.SystemCodeIgstInput, totals.Igst},
		{models.SystemCodeCessInput, totals.Cess},
	}
	for _, tl := range taxLines {
		id, found, err := systemLedgerOrError(logger, sysLedgers, tl.code, tl.amount)
		if err != nil {
			return err
		}
		if found && !tl.amount.IsZero() {
			draft.Entries = append(draft.Entries, LedgerEntryDraft{
				LedgerId: id, Debit: tl.amount, Narration: string(tl.code),
			})
		}
	}

	if !totals.RoundOff.IsZero() {
		id, found, err := systemLedgerOrError(logger, sysLedgers, models.SystemCodeRoundOff, totals.RoundOff)
		if err != nil {
			return err
		}
		if found {
			entry := LedgerEntryDraft{LedgerId: id, Narration: "round off"}
			if totals.RoundOff.IsPositive() {
				entry.Debit = totals.RoundOff
			} else {
				entry.Credit = totals.RoundOff.Neg()
			}
			draft.Entries = append(draft.Entries, entry)
		}
	}

	partyCredit := totals.Grand
	if party.IsTdsApplicable != nil && *party.IsTdsApplicable && input.TdsRate.IsPositive() {
		tds := utils.Round2(totals.Taxable.Mul(input.TdsRate).Div(decimalOneHundred))
		tdsLedgerId, _, err := systemLedgerOrError(logger, sysLedgers, models.SystemCodeTdsPayable, tds)
		if err != nil {
			return err
		}
		if !tds.IsZero() {
			partyCredit = partyCredit.Sub(tds)
			draft.Entries = append(draft.Entries, LedgerEntryDraft{
				LedgerId: tdsLedgerId, Credit: tds, Narration: "TDS withheld",
			})
		}
	}
	draft.Entries = append(draft.Entries, LedgerEntryDraft{
		LedgerId: party.ID, Credit: partyCredit, Narration: draft.Narration,
	})
	return nil
}

func assembleSalesEntries(logger *logrus.Logger, sysLedgers map[models.SystemCode]int, party *models.Ledger, input *models.NewVoucher, draft *VoucherDraft, totals VoucherTaxTotals) error {
	salesLedgerId, _, err := systemLedgerOrError(logger, sysLedgers, models.SystemCodeSalesAccount, totals.Taxable)
	if err != nil {
		return err
	}
	if !totals.Taxable.IsZero() {
		draft.Entries = append(draft.Entries, LedgerEntryDraft{
			LedgerId: salesLedgerId, Credit: totals.Taxable, Narration: draft.Narration,
		})
	}

	taxLines := []struct {
		code   models.SystemCode
		amount decimal.Decimal
	}{
		{models.SystemCodeCgstOutput, totals.Cgst},
		{models.SystemCodeSgstOutput, totals.Sgst},
		{models.SystemCodeIgstOutput, totals.Igst},
		{models.SystemCodeCessOutput, totals.Cess},
	}
	for _, tl := range taxLines {
		id, found, err := systemLedgerOrError(logger, sysLedgers, tl.code, tl.amount)
		if err != nil {
			return err
		}
		if found && !tl.amount.IsZero() {
			draft.Entries = append(draft.Entries, LedgerEntryDraft{
				LedgerId: id, Credit: tl.amount, Narration: string(tl.code),
			})
		}
	}

	if !totals.RoundOff.IsZero() {
		id, found, err := systemLedgerOrError(logger, sysLedgers, models.SystemCodeRoundOff, totals.RoundOff)
		if err != nil {
			return err
		}
		if found {
			entry := LedgerEntryDraft{LedgerId: id, Narration: "round off"}
			if totals.RoundOff.IsPositive() {
				entry.Credit = totals.RoundOff
			} else {
				entry.Debit = totals.RoundOff.Neg()
			}
			draft.Entries = append(draft.Entries, entry)
		}
	}

	partyDebit := totals.Grand
	if party.IsTcsApplicable != nil && *party.IsTcsApplicable && input.TcsRate.IsPositive() {
		tcs := utils.Round2(totals.Grand.Mul(input.TcsRate).Div(decimalOneHundred))
		tcsLedgerId, _, err := systemLedgerOrError(logger, sysLedgers, models.SystemCodeTcsPayable, tcs)
		if err != nil {
			return err
		}
		if !tcs.IsZero() {
			partyDebit = partyDebit.Add(tcs)
			draft.Entries = append(draft.Entries, LedgerEntryDraft{
				LedgerId: tcsLedgerId, Credit: tcs, Narration: "TCS collected",
			})
		}
	}
	draft.Entries = append(draft.Entries, LedgerEntryDraft{
		LedgerId: party.ID, Debit: partyDebit, Narration: draft.Narration,
	})
	return nil
}

// costOfGoodsEntries books the cost side of a sales issue: the issued
// cost moves out of Stock In Hand into Cost of Goods Sold, keeping the
// stock ledger in step with inventory value under perpetual valuation.
// The amounts come from the applied movements (issues are negative), so
// the ledger carries exactly what the issue was costed at.
func costOfGoodsEntries(logger *logrus.Logger, sysLedgers map[models.SystemCode]int, movements []models.StockMovement, narration string) ([]LedgerEntryDraft, error) {
	cost := decimal.Zero
	for _, m := range movements {
		if m.MovementType == models.MovementTypeOut {
			cost = cost.Add(m.Amount.Neg())
		}
	}
	if cost.IsZero() {
		return nil, nil
	}

	cogsLedgerId, _, err := systemLedgerOrError(logger, sysLedgers, models.SystemCodeCogsAccount, cost)
	if err != nil {
		return nil, err
	}
	stockLedgerId, _, err := systemLedgerOrError(logger, sysLedgers, models.SystemCodeStockInHand, cost)
	if err != nil {
		return nil, err
	}
	return []LedgerEntryDraft{
		{LedgerId: cogsLedgerId, Debit: cost, Narration: narration},
		{LedgerId: stockLedgerId, Credit: cost, Narration: narration},
	}, nil
}

func buildSettlementVoucher(tx *gorm.DB, tenant *models.TenantContext, input *models.NewVoucher, draft *VoucherDraft) error {
	party, err := tenant.GetLedger(tx, input.PartyLedgerId)
	if err != nil {
		return err
	}
	settlement, err := tenant.GetLedger(tx, input.SettlementLedgerId)
	if err != nil {
		return err
	}
	if party.IsSystem() || settlement.IsSystem() {
		return utils.NewInvalidReference("ledger", "system ledgers cannot be targeted by %s vouchers", input.VoucherType)
	}

	amount := utils.Round2(input.Amount)
	draft.TotalAmount = amount
	draft.SettlementAmount = amount
	draft.BillAllocations = input.BillAllocations

	if input.VoucherType == models.VoucherTypePayment {
		// Paying a supplier: clear the payable, credit bank/cash.
		draft.Entries = append(draft.Entries,
			LedgerEntryDraft{LedgerId: party.ID, Debit: amount, Narration: draft.Narration},
			LedgerEntryDraft{LedgerId: settlement.ID, Credit: amount, Narration: input.PaymentMode},
		)
	} else {
		draft.Entries = append(draft.Entries,
			LedgerEntryDraft{LedgerId: settlement.ID, Debit: amount, Narration: input.PaymentMode},
			LedgerEntryDraft{LedgerId: party.ID, Credit: amount, Narration: draft.Narration},
		)
	}
	return nil
}

func buildManualVoucher(tx *gorm.DB, tenant *models.TenantContext, input *models.NewVoucher, draft *VoucherDraft) error {
	total := decimal.Zero
	for _, line := range input.LedgerLines {
		ledger, err := tenant.GetLedger(tx, line.LedgerId)
		if err != nil {
			return err
		}
		if ledger.IsSystem() {
			return utils.NewInvalidReference("ledger", "system ledger %q cannot be targeted by manual postings", ledger.Name)
		}
		total = total.Add(line.Debit)
		draft.Entries = append(draft.Entries, LedgerEntryDraft{
			LedgerId:  ledger.ID,
			Debit:     line.Debit,
			Credit:    line.Credit,
			Narration: line.Narration,
		})
	}
	draft.TotalAmount = total
	return nil
}

func buildAdjustmentVoucher(tx *gorm.DB, tenant *models.TenantContext, input *models.NewVoucher, draft *VoucherDraft) error {
	for _, line := range input.StockLines {
		item, err := tenant.GetInventoryItem(tx, line.ItemId)
		if err != nil {
			return err
		}
		movement := StockMovementDraft{
			ItemId:       item.ID,
			WarehouseId:  input.WarehouseId,
			MovementType: models.MovementTypeAdjust,
			Quantity:     line.Quantity,
			Rate:         line.Rate,
			Narration:    draft.Narration,
		}
		// Shortages are issued at the running average, not the supplied rate.
		if line.Quantity.IsNegative() {
			movement.Rate = decimal.Zero
			movement.RateFromAvgCost = true
		}
		draft.Movements = append(draft.Movements, movement)
	}
	return nil
}

func buildTransferVoucher(tx *gorm.DB, tenant *models.TenantContext, input *models.NewVoucher, draft *VoucherDraft) error {
	for _, line := range input.StockLines {
		item, err := tenant.GetInventoryItem(tx, line.ItemId)
		if err != nil {
			return err
		}
		draft.Movements = append(draft.Movements, StockMovementDraft{
			ItemId:                item.ID,
			WarehouseId:           input.SourceWarehouseId,
			MovementType:          models.MovementTypeTransfer,
			Quantity:              line.Quantity,
			RateFromAvgCost:       true,
			TransferToWarehouseId: input.DestWarehouseId,
			Narration:             draft.Narration,
		})
	}
	return nil
}
