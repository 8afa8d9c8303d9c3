package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/vyaparbooks/ledger_backend/config"
	"github.com/vyaparbooks/ledger_backend/models"
	"github.com/vyaparbooks/ledger_backend/utils"
	"github.com/vyaparbooks/ledger_backend/workflow"
)

// Nightly balance reconciliation. Replays every tenant ledger, warehouse
// stock row, and bill pending from the append-only history and repairs
// stored values that drifted. Safe to re-run; a clean tenant yields an
// empty report.
func main() {
	tenantID := flag.String("tenant-id", "", "Required: tenant id")
	stateCode := flag.String("state-code", "", "Optional: company GST state code")
	reportOnly := flag.Bool("report-only", false, "Print the report without exiting non-zero on drift")
	flag.Parse()

	if strings.TrimSpace(*tenantID) == "" {
		fmt.Fprintln(os.Stderr, "--tenant-id is required")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	logger := logrus.New()
	runID := uuid.NewString()
	ctx := utils.SetCorrelationIdInContext(context.Background(), runID)

	// One reconciliation per tenant at a time, across instances.
	release, err := utils.TenantLock(ctx, *tenantID, "reconcile", "main.go", "main")
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not acquire reconcile lock: %v\n", err)
		os.Exit(1)
	}
	defer release()

	tenant := &models.TenantContext{
		TenantId:  *tenantID,
		StateCode: *stateCode,
		Logger:    logger,
	}

	logger.WithFields(logrus.Fields{
		"tenant_id": *tenantID,
		"run_id":    runID,
	}).Info("reconciliation started")

	report, err := workflow.RunReconciliation(ctx, db, logger, tenant)
	if err != nil {
		logger.WithFields(logrus.Fields{
			"tenant_id": *tenantID,
			"run_id":    runID,
		}).WithError(err).Error("reconciliation failed")
		os.Exit(1)
	}

	printReport(report)
	if !report.Clean() && !*reportOnly {
		os.Exit(2)
	}
}

func printReport(report *workflow.ReconciliationReport) {
	fmt.Printf("tenant %s: %d ledgers, %d stock rows, %d bills checked\n",
		report.TenantId, report.LedgersChecked, report.StocksChecked, report.BillsChecked)
	for _, d := range report.LedgerDrifts {
		fmt.Printf("  ledger %d (%s): stored %s %s, derived %s %s\n",
			d.LedgerId, d.LedgerName,
			d.StoredBalance.StringFixed(2), d.StoredType,
			d.DerivedBalance.StringFixed(2), d.DerivedType)
	}
	for _, d := range report.StockDrifts {
		fmt.Printf("  item %d warehouse %d: stored qty %s, derived %s\n",
			d.ItemId, d.WarehouseId, d.StoredQuantity.String(), d.DerivedQuantity.String())
	}
	for _, d := range report.BillDrifts {
		fmt.Printf("  bill %d: stored pending %s, derived %s\n",
			d.BillId, d.StoredPending.StringFixed(2), d.DerivedPending.StringFixed(2))
	}
	if report.Clean() {
		fmt.Println("  no drift found")
	}
}
