package models

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// StockMovement is the append-only audit trail of inventory changes.
// Quantity is signed (negative = outbound); Rate is the per-unit cost the
// movement was valued at, so quantity/cost can be re-derived from this
// table alone.
type StockMovement struct {
	ID               int             `gorm:"primary_key" json:"id"`
	TenantId         string          `gorm:"index;size:64;not null;index:idx_sm_tenant_item,priority:1" json:"tenant_id"`
	InventoryItemId  int             `gorm:"index;not null;index:idx_sm_tenant_item,priority:2" json:"inventory_item_id"`
	WarehouseId      int             `gorm:"index" json:"warehouse_id"` // 0 = aggregate-only movement
	VoucherId        int             `gorm:"index" json:"voucher_id"`   // 0 = manual adjustment/transfer
	MovementType     MovementType    `gorm:"type:enum('IN','OUT','ADJ','TRANSFER');not null" json:"movement_type"`
	Quantity         decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"quantity"`
	Rate             decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"rate"`
	Amount           decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"amount"`
	Narration        string          `gorm:"size:255" json:"narration"`
	MovementDateTime time.Time       `gorm:"not null;index" json:"movement_date_time"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (m StockMovement) GetId() int { return m.ID }

// Inventory ledger guardrails: stock_movements are append-only.

func (m *StockMovement) BeforeUpdate(tx *gorm.DB) error {
	return errors.New("immutable inventory ledger: stock_movements cannot be updated")
}

func (m *StockMovement) BeforeDelete(tx *gorm.DB) error {
	return errors.New("immutable inventory ledger: stock_movements cannot be deleted")
}
