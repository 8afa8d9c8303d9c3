package workflow_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/vyaparbooks/ledger_backend/config"
	"github.com/vyaparbooks/ledger_backend/models"
	"github.com/vyaparbooks/ledger_backend/utils"
	"github.com/vyaparbooks/ledger_backend/workflow"
)

func TestVoucherPostingLifecycle(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "ledger_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	db := config.GetDB()
	logger := logrus.New()
	tenantID := "t-lifecycle"
	tenant := &models.TenantContext{TenantId: tenantID, StateCode: "27", Logger: logger}

	groupIDs := seedStatutoryChart(t, db, tenantID)
	sysLedgers, err := models.GetSystemLedgers(tenantID)
	if err != nil {
		t.Fatalf("GetSystemLedgers: %v", err)
	}

	lctx := utils.SetTenantIdInContext(ctx, tenantID)
	supplier, err := models.CreateLedger(lctx, &models.NewLedger{
		Name: "Acme Traders", AccountGroupId: groupIDs["Current Liabilities"],
	})
	if err != nil {
		t.Fatalf("CreateLedger supplier: %v", err)
	}
	customer, err := models.CreateLedger(lctx, &models.NewLedger{
		Name: "Retail Customer", AccountGroupId: groupIDs["Current Assets"],
	})
	if err != nil {
		t.Fatalf("CreateLedger customer: %v", err)
	}
	bank, err := models.CreateLedger(lctx, &models.NewLedger{
		Name: "Current Account", AccountGroupId: groupIDs["Current Assets"],
	})
	if err != nil {
		t.Fatalf("CreateLedger bank: %v", err)
	}

	item := models.InventoryItem{TenantId: tenantID, Name: "Copper Wire", Code: "CU-1"}
	if err := db.Create(&item).Error; err != nil {
		t.Fatalf("create item: %v", err)
	}

	voucherDate := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	// Purchase 50 @ 100, untaxed: stock lands in warehouse 1 and the
	// supplier is owed the full value.
	_, err = workflow.PostVoucher(ctx, db, logger, tenant, &models.NewVoucher{
		VoucherType:   models.VoucherTypePurchase,
		VoucherDate:   voucherDate,
		PartyLedgerId: supplier.ID,
		WarehouseId:   1,
		LineItems: []models.NewVoucherLineItem{
			{ItemId: item.ID, Quantity: decimal.NewFromInt(50), Rate: decimal.NewFromInt(100)},
		},
	})
	if err != nil {
		t.Fatalf("post purchase: %v", err)
	}
	if got := fetchLedger(t, db, tenantID, supplier.ID); !got.CurrentBalance.Equal(decimal.NewFromInt(5000)) || got.BalanceType != models.BalanceTypeCredit {
		t.Fatalf("supplier after purchase: got %s %s, want 5000.00 Cr", got.CurrentBalance, got.BalanceType)
	}
	if got := fetchLedger(t, db, tenantID, sysLedgers[models.SystemCodeStockInHand]); !got.CurrentBalance.Equal(decimal.NewFromInt(5000)) || got.BalanceType != models.BalanceTypeDebit {
		t.Fatalf("stock ledger after purchase: got %s %s, want 5000.00 Dr", got.CurrentBalance, got.BalanceType)
	}

	// A transfer of more than is on hand is rejected and writes nothing.
	movementsBefore := countRows(t, db, &models.StockMovement{}, tenantID)
	_, err = workflow.PostVoucher(ctx, db, logger, tenant, &models.NewVoucher{
		VoucherType:       models.VoucherTypeTransfer,
		VoucherDate:       voucherDate,
		SourceWarehouseId: 1,
		DestWarehouseId:   2,
		StockLines:        []models.NewStockLine{{ItemId: item.ID, Quantity: decimal.NewFromInt(100)}},
	})
	if utils.KindOf(err) != utils.ErrorKindInsufficientStock {
		t.Fatalf("oversized transfer: expected InsufficientStock, got %v", err)
	}
	var pe *utils.PostingError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *PostingError, got %T", err)
	}
	if !pe.Available.Equal(decimal.NewFromInt(50)) || !pe.Requested.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("expected available=50 requested=100, got available=%s requested=%s", pe.Available, pe.Requested)
	}
	var transferCount int64
	if err := db.Model(&models.Voucher{}).
		Where("tenant_id = ? AND voucher_type = ?", tenantID, models.VoucherTypeTransfer).
		Count(&transferCount).Error; err != nil {
		t.Fatalf("count transfer vouchers: %v", err)
	}
	if transferCount != 0 {
		t.Fatalf("rejected transfer left %d voucher rows behind", transferCount)
	}
	if after := countRows(t, db, &models.StockMovement{}, tenantID); after != movementsBefore {
		t.Fatalf("rejected transfer wrote movements: %d -> %d", movementsBefore, after)
	}

	// Sales 10,000 issues 10 units at the 100.00 running average, so
	// 1,000 moves from Stock In Hand to Cost of Goods Sold.
	sale, err := workflow.PostVoucher(ctx, db, logger, tenant, &models.NewVoucher{
		VoucherType:   models.VoucherTypeSales,
		VoucherDate:   voucherDate,
		PartyLedgerId: customer.ID,
		WarehouseId:   1,
		LineItems: []models.NewVoucherLineItem{
			{ItemId: item.ID, Quantity: decimal.NewFromInt(10), Rate: decimal.NewFromInt(1000)},
		},
	})
	if err != nil {
		t.Fatalf("post sales: %v", err)
	}
	if got := fetchLedger(t, db, tenantID, sysLedgers[models.SystemCodeStockInHand]); !got.CurrentBalance.Equal(decimal.NewFromInt(4000)) || got.BalanceType != models.BalanceTypeDebit {
		t.Fatalf("stock ledger after sale: got %s %s, want 4000.00 Dr", got.CurrentBalance, got.BalanceType)
	}
	if got := fetchLedger(t, db, tenantID, sysLedgers[models.SystemCodeCogsAccount]); !got.CurrentBalance.Equal(decimal.NewFromInt(1000)) || got.BalanceType != models.BalanceTypeDebit {
		t.Fatalf("COGS ledger after sale: got %s %s, want 1000.00 Dr", got.CurrentBalance, got.BalanceType)
	}

	// Receipt 6,000 with no explicit allocations settles oldest-first and
	// leaves the invoice open with 4,000 pending.
	receipt, err := workflow.PostVoucher(ctx, db, logger, tenant, &models.NewVoucher{
		VoucherType:        models.VoucherTypeReceipt,
		VoucherDate:        voucherDate.AddDate(0, 0, 7),
		PartyLedgerId:      customer.ID,
		SettlementLedgerId: bank.ID,
		Amount:             decimal.NewFromInt(6000),
	})
	if err != nil {
		t.Fatalf("post receipt: %v", err)
	}
	if len(receipt.BillsAffected) != 1 || !receipt.BillsAffected[0].AllocatedAmount.Equal(decimal.NewFromInt(6000)) {
		t.Fatalf("expected one 6000.00 allocation, got %+v", receipt.BillsAffected)
	}
	var bill models.BillWiseDetail
	if err := db.Where("tenant_id = ? AND voucher_id = ?", tenantID, sale.Voucher.ID).First(&bill).Error; err != nil {
		t.Fatalf("fetch sale bill: %v", err)
	}
	if !bill.PendingAmount.Equal(decimal.NewFromInt(4000)) {
		t.Fatalf("bill pending: got %s, want 4000.00", bill.PendingAmount)
	}
	if bill.IsOpen == nil || !*bill.IsOpen || bill.IsFullyPaid == nil || *bill.IsFullyPaid {
		t.Fatalf("partially settled bill should stay open, got open=%v paid=%v", bill.IsOpen, bill.IsFullyPaid)
	}
	if got := fetchLedger(t, db, tenantID, customer.ID); !got.CurrentBalance.Equal(decimal.NewFromInt(4000)) || got.BalanceType != models.BalanceTypeDebit {
		t.Fatalf("customer after receipt: got %s %s, want 4000.00 Dr", got.CurrentBalance, got.BalanceType)
	}

	// Manual postings cannot target statutory ledgers.
	_, err = workflow.PostVoucher(ctx, db, logger, tenant, &models.NewVoucher{
		VoucherType: models.VoucherTypeJournal,
		VoucherDate: voucherDate,
		LedgerLines: []models.NewLedgerLine{
			{LedgerId: sysLedgers[models.SystemCodeCgstInput], Debit: decimal.NewFromInt(100)},
			{LedgerId: bank.ID, Credit: decimal.NewFromInt(100)},
		},
	})
	if utils.KindOf(err) != utils.ErrorKindInvalidReference {
		t.Fatalf("journal against statutory ledger: expected InvalidReference, got %v", err)
	}

	// Posting then reversing returns every balance and quantity to its
	// prior value, with the original linked to its reversal.
	supplierBefore := fetchLedger(t, db, tenantID, supplier.ID)
	stockBefore := fetchLedger(t, db, tenantID, sysLedgers[models.SystemCodeStockInHand])
	qtyBefore := fetchItem(t, db, tenantID, item.ID).QuantityOnHand

	second, err := workflow.PostVoucher(ctx, db, logger, tenant, &models.NewVoucher{
		VoucherType:   models.VoucherTypePurchase,
		VoucherDate:   voucherDate.AddDate(0, 0, 14),
		PartyLedgerId: supplier.ID,
		WarehouseId:   1,
		LineItems: []models.NewVoucherLineItem{
			{ItemId: item.ID, Quantity: decimal.NewFromInt(20), Rate: decimal.NewFromInt(110)},
		},
	})
	if err != nil {
		t.Fatalf("post second purchase: %v", err)
	}
	reversal, err := workflow.ReverseVoucher(ctx, db, logger, tenant, second.Voucher.ID, "entry error")
	if err != nil {
		t.Fatalf("reverse second purchase: %v", err)
	}
	if supplierAfter := fetchLedger(t, db, tenantID, supplier.ID); !supplierAfter.CurrentBalance.Equal(supplierBefore.CurrentBalance) || supplierAfter.BalanceType != supplierBefore.BalanceType {
		t.Fatalf("supplier after reversal: got %s %s, want %s %s",
			supplierAfter.CurrentBalance, supplierAfter.BalanceType, supplierBefore.CurrentBalance, supplierBefore.BalanceType)
	}
	if stockAfter := fetchLedger(t, db, tenantID, sysLedgers[models.SystemCodeStockInHand]); !stockAfter.CurrentBalance.Equal(stockBefore.CurrentBalance) {
		t.Fatalf("stock ledger after reversal: got %s, want %s", stockAfter.CurrentBalance, stockBefore.CurrentBalance)
	}
	if qtyAfter := fetchItem(t, db, tenantID, item.ID).QuantityOnHand; !qtyAfter.Equal(qtyBefore) {
		t.Fatalf("quantity after reversal: got %s, want %s", qtyAfter, qtyBefore)
	}
	var original models.Voucher
	if err := db.Where("tenant_id = ?", tenantID).First(&original, second.Voucher.ID).Error; err != nil {
		t.Fatalf("fetch original voucher: %v", err)
	}
	if original.ReversedByVoucherId == nil || *original.ReversedByVoucherId != reversal.Voucher.ID {
		t.Fatalf("original not linked to reversal: %+v", original.ReversedByVoucherId)
	}

	// Reconciliation repairs a corrupted stored balance, and a second run
	// over the repaired tenant reports no drift.
	err = db.Model(&models.Ledger{}).
		Where("id = ? AND tenant_id = ?", customer.ID, tenantID).
		Update("current_balance", decimal.NewFromInt(999)).Error
	if err != nil {
		t.Fatalf("corrupt customer balance: %v", err)
	}
	report, err := workflow.RunReconciliation(ctx, db, logger, tenant)
	if err != nil {
		t.Fatalf("reconciliation: %v", err)
	}
	repaired := false
	for _, drift := range report.LedgerDrifts {
		if drift.LedgerId == customer.ID {
			repaired = true
		}
	}
	if !repaired {
		t.Fatalf("expected customer drift in report, got %+v", report.LedgerDrifts)
	}
	if got := fetchLedger(t, db, tenantID, customer.ID); !got.CurrentBalance.Equal(decimal.NewFromInt(4000)) {
		t.Fatalf("customer after repair: got %s, want 4000.00", got.CurrentBalance)
	}
	again, err := workflow.RunReconciliation(ctx, db, logger, tenant)
	if err != nil {
		t.Fatalf("second reconciliation: %v", err)
	}
	if !again.Clean() {
		t.Fatalf("second reconciliation should be clean, got ledger=%d stock=%d bill=%d drifts",
			len(again.LedgerDrifts), len(again.StockDrifts), len(again.BillDrifts))
	}
}

func seedStatutoryChart(t *testing.T, db *gorm.DB, tenantID string) map[string]int {
	t.Helper()
	groups := []struct {
		name   string
		nature models.GroupNature
	}{
		{"Current Assets", models.GroupNatureAsset},
		{"Current Liabilities", models.GroupNatureLiability},
		{"Direct Income", models.GroupNatureIncome},
		{"Direct Expenses", models.GroupNatureExpense},
	}
	groupIDs := make(map[string]int, len(groups))
	for _, g := range groups {
		group := models.AccountGroup{TenantId: tenantID, Name: g.name, Nature: g.nature, IsContra: utils.NewFalse()}
		if err := db.Create(&group).Error; err != nil {
			t.Fatalf("seed group %s: %v", g.name, err)
		}
		groupIDs[g.name] = group.ID
	}

	ledgers := []struct {
		name       string
		systemCode models.SystemCode
		groupName  string
	}{
		{"CGST Input", models.SystemCodeCgstInput, "Current Assets"},
		{"SGST Input", models.SystemCodeSgstInput, "Current Assets"},
		{"IGST Input", models.SystemCodeIgstInput, "Current Assets"},
		{"Cess Input", models.SystemCodeCessInput, "Current Assets"},
		{"CGST Output", models.SystemCodeCgstOutput, "Current Liabilities"},
		{"SGST Output", models.SystemCodeSgstOutput, "Current Liabilities"},
		{"IGST Output", models.SystemCodeIgstOutput, "Current Liabilities"},
		{"Cess Output", models.SystemCodeCessOutput, "Current Liabilities"},
		{"TDS Payable", models.SystemCodeTdsPayable, "Current Liabilities"},
		{"TDS Receivable", models.SystemCodeTdsReceivable, "Current Assets"},
		{"TCS Payable", models.SystemCodeTcsPayable, "Current Liabilities"},
		{"Stock In Hand", models.SystemCodeStockInHand, "Current Assets"},
		{"Purchase Account", models.SystemCodePurchaseAccount, "Direct Expenses"},
		{"Sales Account", models.SystemCodeSalesAccount, "Direct Income"},
		{"Cost of Goods Sold", models.SystemCodeCogsAccount, "Direct Expenses"},
		{"Round Off", models.SystemCodeRoundOff, "Direct Expenses"},
	}
	for _, l := range ledgers {
		ledger := models.Ledger{
			TenantId:          tenantID,
			Name:              l.name,
			AccountGroupId:    groupIDs[l.groupName],
			IsSystemGenerated: utils.NewTrue(),
			SystemCode:        l.systemCode,
			IsActive:          utils.NewTrue(),
		}
		if err := db.Create(&ledger).Error; err != nil {
			t.Fatalf("seed ledger %s: %v", l.name, err)
		}
	}
	if err := models.InvalidateSystemLedgerCache(tenantID); err != nil {
		t.Fatalf("invalidate system ledger cache: %v", err)
	}
	return groupIDs
}

func fetchLedger(t *testing.T, db *gorm.DB, tenantID string, id int) *models.Ledger {
	t.Helper()
	var ledger models.Ledger
	if err := db.Where("tenant_id = ?", tenantID).First(&ledger, id).Error; err != nil {
		t.Fatalf("fetch ledger %d: %v", id, err)
	}
	return &ledger
}

func fetchItem(t *testing.T, db *gorm.DB, tenantID string, id int) *models.InventoryItem {
	t.Helper()
	var item models.InventoryItem
	if err := db.Where("tenant_id = ?", tenantID).First(&item, id).Error; err != nil {
		t.Fatalf("fetch item %d: %v", id, err)
	}
	return &item
}

func countRows(t *testing.T, db *gorm.DB, model interface{}, tenantID string) int64 {
	t.Helper()
	var count int64
	if err := db.Model(model).Where("tenant_id = ?", tenantID).Count(&count).Error; err != nil {
		t.Fatalf("count rows: %v", err)
	}
	return count
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("ledger-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("ledger-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=ledger_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
