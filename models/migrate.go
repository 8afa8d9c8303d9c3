package models

import (
	"log"

	"github.com/vyaparbooks/ledger_backend/config"
)

// MigrateTable creates or alters all ledger engine tables. Called from the
// seed and maintenance commands, never automatically at service start.
func MigrateTable() {
	db := config.GetDB()
	err := db.AutoMigrate(
		&AccountGroup{},
		&Ledger{},
		&Voucher{},
		&VoucherLedgerEntry{},
		&InventoryItem{},
		&WarehouseStock{},
		&StockMovement{},
		&BillWiseDetail{},
		&BillAllocation{},
	)
	if err != nil {
		log.Fatalf("migration failed: %v", err)
	}
}
