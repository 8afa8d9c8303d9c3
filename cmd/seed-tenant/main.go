// seed-tenant provisions the statutory chart of accounts for a tenant:
// the account groups and the system ledgers (GST input/output, TDS/TCS,
// stock-in-hand, sales, cost of goods sold, round-off) that the posting
// engine resolves by system_code. Re-running is safe; existing ledgers are left untouched.
//
// Usage:
//   DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... \
//     go run ./cmd/seed-tenant --tenant-id <id>
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"gorm.io/gorm"

	"github.com/vyaparbooks/ledger_backend/config"
	"github.com/vyaparbooks/ledger_backend/models"
	"github.com/vyaparbooks/ledger_backend/utils"
)

type seedLedger struct {
	name       string
	code       string
	systemCode models.SystemCode
	groupName  string
}

var seedGroups = []struct {
	name   string
	nature models.GroupNature
}{
	{"Current Assets", models.GroupNatureAsset},
	{"Current Liabilities", models.GroupNatureLiability},
	{"Direct Income", models.GroupNatureIncome},
	{"Direct Expenses", models.GroupNatureExpense},
}

var seedLedgers = []seedLedger{
	{"CGST Input", "CGST-IN", models.SystemCodeCgstInput, "Current Assets"},
	{"SGST Input", "SGST-IN", models.SystemCodeSgstInput, "Current Assets"},
	{"IGST Input", "IGST-IN", models.SystemCodeIgstInput, "Current Assets"},
	{"Cess Input", "CESS-IN", models.SystemCodeCessInput, "Current Assets"},
	{"CGST Output", "CGST-OUT", models.SystemCodeCgstOutput, "Current Liabilities"},
	{"SGST Output", "SGST-OUT", models.SystemCodeSgstOutput, "Current Liabilities"},
	{"IGST Output", "IGST-OUT", models.SystemCodeIgstOutput, "Current Liabilities"},
	{"Cess Output", "CESS-OUT", models.SystemCodeCessOutput, "Current Liabilities"},
	{"TDS Payable", "TDS-PAY", models.SystemCodeTdsPayable, "Current Liabilities"},
	{"TDS Receivable", "TDS-RCV", models.SystemCodeTdsReceivable, "Current Assets"},
	{"TCS Payable", "TCS-PAY", models.SystemCodeTcsPayable, "Current Liabilities"},
	{"Stock In Hand", "STOCK", models.SystemCodeStockInHand, "Current Assets"},
	{"Purchase Account", "PURCHASE", models.SystemCodePurchaseAccount, "Direct Expenses"},
	{"Sales Account", "SALES", models.SystemCodeSalesAccount, "Direct Income"},
	{"Cost of Goods Sold", "COGS", models.SystemCodeCogsAccount, "Direct Expenses"},
	{"Round Off", "ROUND-OFF", models.SystemCodeRoundOff, "Direct Expenses"},
}

func main() {
	tenantID := flag.String("tenant-id", "", "Required: tenant id")
	skipMigrate := flag.Bool("skip-migrate", false, "Skip schema migration")
	flag.Parse()

	if strings.TrimSpace(*tenantID) == "" {
		fmt.Fprintln(os.Stderr, "--tenant-id is required")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}
	if !*skipMigrate {
		models.MigrateTable()
	}

	groupIDs, err := seedAccountGroups(db, *tenantID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to seed account groups: %v\n", err)
		os.Exit(1)
	}

	created := 0
	for _, s := range seedLedgers {
		wasCreated, err := seedSystemLedger(db, *tenantID, s, groupIDs[s.groupName])
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to seed ledger %s: %v\n", s.name, err)
			os.Exit(1)
		}
		if wasCreated {
			created++
		}
	}

	if err := models.InvalidateSystemLedgerCache(*tenantID); err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not invalidate system ledger cache: %v\n", err)
	}
	fmt.Printf("tenant %s: %d system ledgers created, %d already present\n",
		*tenantID, created, len(seedLedgers)-created)
}

func seedAccountGroups(db *gorm.DB, tenantID string) (map[string]int, error) {
	ids := make(map[string]int, len(seedGroups))
	for _, g := range seedGroups {
		var group models.AccountGroup
		err := db.Where("tenant_id = ? AND name = ?", tenantID, g.name).First(&group).Error
		if err == gorm.ErrRecordNotFound {
			group = models.AccountGroup{
				TenantId: tenantID,
				Name:     g.name,
				Nature:   g.nature,
				IsContra: utils.NewFalse(),
			}
			err = db.Create(&group).Error
		}
		if err != nil {
			return nil, err
		}
		ids[g.name] = group.ID
	}
	return ids, nil
}

func seedSystemLedger(db *gorm.DB, tenantID string, s seedLedger, groupID int) (bool, error) {
	var existing models.Ledger
	err := db.Where("tenant_id = ? AND system_code = ?", tenantID, s.systemCode).First(&existing).Error
	if err == nil {
		return false, nil
	}
	if err != gorm.ErrRecordNotFound {
		return false, err
	}

	ledger := models.Ledger{
		TenantId:           tenantID,
		Name:               s.name,
		Code:               s.code,
		AccountGroupId:     groupID,
		OpeningBalanceType: models.BalanceTypeDebit,
		BalanceType:        models.BalanceTypeDebit,
		IsSystemGenerated:  utils.NewTrue(),
		SystemCode:         s.systemCode,
		IsTdsApplicable:    utils.NewFalse(),
		IsTcsApplicable:    utils.NewFalse(),
		IsActive:           utils.NewTrue(),
	}
	if err := db.Create(&ledger).Error; err != nil {
		return false, err
	}
	return true, nil
}
