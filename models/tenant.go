package models

import (
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/vyaparbooks/ledger_backend/utils"
)

// TenantContext is the explicit tenant handle passed into every core
// operation. The storage handle is assumed to be already routed to the
// tenant's schema by the provisioning collaborator; TenantId is still
// stamped on every row and every WHERE so a mis-routed handle cannot
// leak across tenants.
type TenantContext struct {
	TenantId  string
	CompanyId int
	BranchId  int
	// StateCode is the company's GST state code, compared against a
	// voucher's place of supply to pick CGST+SGST vs IGST.
	StateCode string
	Logger    *logrus.Logger
}

/* Typed repository accessors. All take the caller's transaction so reads
   inside a posting see the posting's own writes. */

func (t *TenantContext) GetLedger(tx *gorm.DB, id int) (*Ledger, error) {
	var ledger Ledger
	err := tx.Where("tenant_id = ?", t.TenantId).First(&ledger, id).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, utils.NewInvalidReference("ledger", "ledger %d not found", id)
		}
		return nil, err
	}
	return &ledger, nil
}

// GetLedgerForUpdate locks the ledger row for the rest of the transaction.
func (t *TenantContext) GetLedgerForUpdate(tx *gorm.DB, id int) (*Ledger, error) {
	var ledger Ledger
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("tenant_id = ?", t.TenantId).First(&ledger, id).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, utils.NewInvalidReference("ledger", "ledger %d not found", id)
		}
		return nil, err
	}
	return &ledger, nil
}

func (t *TenantContext) GetAccountGroup(tx *gorm.DB, id int) (*AccountGroup, error) {
	var group AccountGroup
	err := tx.Where("tenant_id = ?", t.TenantId).First(&group, id).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, utils.NewInvalidReference("account_group", "account group %d not found", id)
		}
		return nil, err
	}
	return &group, nil
}

func (t *TenantContext) GetVoucher(tx *gorm.DB, id int) (*Voucher, error) {
	var voucher Voucher
	err := tx.Where("tenant_id = ?", t.TenantId).First(&voucher, id).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, utils.NewInvalidReference("voucher", "voucher %d not found", id)
		}
		return nil, err
	}
	return &voucher, nil
}

func (t *TenantContext) GetInventoryItem(tx *gorm.DB, id int) (*InventoryItem, error) {
	var item InventoryItem
	err := tx.Where("tenant_id = ?", t.TenantId).First(&item, id).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, utils.NewInvalidReference("inventory_item", "inventory item %d not found", id)
		}
		return nil, err
	}
	return &item, nil
}

// GetInventoryItemForUpdate locks the aggregate item row.
func (t *TenantContext) GetInventoryItemForUpdate(tx *gorm.DB, id int) (*InventoryItem, error) {
	var item InventoryItem
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("tenant_id = ?", t.TenantId).First(&item, id).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, utils.NewInvalidReference("inventory_item", "inventory item %d not found", id)
		}
		return nil, err
	}
	return &item, nil
}

// GetWarehouseStockForUpdate returns the locked (item, warehouse) row, or
// (nil, nil) when no row exists yet.
func (t *TenantContext) GetWarehouseStockForUpdate(tx *gorm.DB, itemId int, warehouseId int) (*WarehouseStock, error) {
	var stock WarehouseStock
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("tenant_id = ? AND inventory_item_id = ? AND warehouse_id = ?", t.TenantId, itemId, warehouseId).
		First(&stock).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &stock, nil
}

func (t *TenantContext) GetWarehouseStocks(tx *gorm.DB, itemId int) ([]*WarehouseStock, error) {
	var stocks []*WarehouseStock
	err := tx.Where("tenant_id = ? AND inventory_item_id = ?", t.TenantId, itemId).
		Order("warehouse_id").Find(&stocks).Error
	if err != nil {
		return nil, err
	}
	return stocks, nil
}

// GetBillWiseDetailForUpdate locks the bill row for the rest of the
// transaction; allocation reads pending and writes it back.
func (t *TenantContext) GetBillWiseDetailForUpdate(tx *gorm.DB, id int) (*BillWiseDetail, error) {
	var bill BillWiseDetail
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("tenant_id = ?", t.TenantId).First(&bill, id).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, utils.NewInvalidReference("bill", "bill %d not found", id)
		}
		return nil, err
	}
	return &bill, nil
}
