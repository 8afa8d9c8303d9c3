package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/vyaparbooks/ledger_backend/config"
	"github.com/vyaparbooks/ledger_backend/utils"
)

type InventoryItem struct {
	ID             int    `gorm:"primary_key" json:"id"`
	TenantId       string `gorm:"index;size:64;not null;index:idx_item_tenant_norm,priority:1" json:"tenant_id"`
	Name           string `gorm:"index;size:255;not null" json:"name"`
	Code           string `gorm:"index;size:100" json:"code"`
	Barcode        string `gorm:"index;size:100" json:"barcode"`
	NormalizedName string `gorm:"size:255;index:idx_item_tenant_norm,priority:2" json:"normalized_name"`
	Unit           string `gorm:"size:32" json:"unit"`

	QuantityOnHand decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"quantity_on_hand"`
	AvgCost        decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"avg_cost"`

	IsActive      *bool `gorm:"not null;default:true" json:"is_active"`
	IsAutoCreated *bool `gorm:"not null;default:false" json:"is_auto_created"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (i *InventoryItem) GetId() int { return i.ID }

type WarehouseStock struct {
	ID              int             `gorm:"primary_key" json:"id"`
	TenantId        string          `gorm:"index;size:64;not null" json:"tenant_id"`
	InventoryItemId int             `gorm:"not null;uniqueIndex:idx_ws_item_warehouse,priority:1" json:"inventory_item_id"`
	WarehouseId     int             `gorm:"not null;uniqueIndex:idx_ws_item_warehouse,priority:2" json:"warehouse_id"`
	Quantity        decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"quantity"`
	AvgCost         decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"avg_cost"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// ItemRef carries the identifiers a client supplied for one line; the
// resolver walks them strongest-first.
type ItemRef struct {
	ItemId            int
	Barcode           string
	Code              string
	Name              string
	VariantAttributes string
	Unit              string
}

// ResolveInventoryItem resolves an item via the ordered fallback chain:
// exact id -> barcode -> code -> name+variant -> legacy normalized-name
// key. Only the last step creates a new item (logged as an auto-creation),
// so inconsistent client payloads cannot fork duplicates while genuinely
// distinct items are never silently merged.
func ResolveInventoryItem(tx *gorm.DB, logger *logrus.Logger, tenantId string, ref ItemRef) (*InventoryItem, error) {
	var item InventoryItem

	if ref.ItemId > 0 {
		err := tx.Where("tenant_id = ?", tenantId).First(&item, ref.ItemId).Error
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return nil, utils.NewInvalidReference("inventory_item", "inventory item %d not found", ref.ItemId)
			}
			return nil, err
		}
		return &item, nil
	}

	if ref.Barcode != "" {
		err := tx.Where("tenant_id = ? AND barcode = ?", tenantId, ref.Barcode).First(&item).Error
		if err == nil {
			return &item, nil
		}
		if err != gorm.ErrRecordNotFound {
			return nil, err
		}
	}

	if ref.Code != "" {
		err := tx.Where("tenant_id = ? AND code = ?", tenantId, ref.Code).First(&item).Error
		if err == nil {
			return &item, nil
		}
		if err != gorm.ErrRecordNotFound {
			return nil, err
		}
	}

	fullName := strings.TrimSpace(ref.Name)
	if ref.VariantAttributes != "" {
		fullName = strings.TrimSpace(fullName + " " + ref.VariantAttributes)
	}
	if fullName == "" {
		return nil, utils.NewInvalidReference("inventory_item", "no usable item identifier on line")
	}

	err := tx.Where("tenant_id = ? AND name = ?", tenantId, fullName).First(&item).Error
	if err == nil {
		return &item, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, err
	}

	normalized := utils.NormalizeName(fullName)
	err = tx.Where("tenant_id = ? AND normalized_name = ?", tenantId, normalized).First(&item).Error
	if err == nil {
		return &item, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, err
	}

	item = InventoryItem{
		TenantId:       tenantId,
		Name:           fullName,
		Code:           ref.Code,
		Barcode:        ref.Barcode,
		NormalizedName: normalized,
		Unit:           ref.Unit,
		IsActive:       utils.NewTrue(),
		IsAutoCreated:  utils.NewTrue(),
	}
	if err := tx.Create(&item).Error; err != nil {
		return nil, err
	}
	config.LogWarn(logger, "inventoryItem.go", "ResolveInventoryItem", "Auto-created inventory item",
		map[string]any{"tenant_id": tenantId, "item_id": item.ID, "name": fullName}, "inventory item auto-created from voucher line")
	return &item, nil
}
