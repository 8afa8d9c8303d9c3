package models

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/vyaparbooks/ledger_backend/config"
	"github.com/vyaparbooks/ledger_backend/utils"
)

// AccountGroup classifies ledgers by nature (asset/liability/income/expense).
// IsContra marks groups whose ledgers legitimately carry the opposite sign
// (e.g. accumulated depreciation under Asset).
type AccountGroup struct {
	ID       int         `gorm:"primary_key" json:"id"`
	TenantId string      `gorm:"index;size:64;not null" json:"tenant_id"`
	Name     string      `gorm:"size:100;not null" json:"name"`
	Nature   GroupNature `gorm:"type:enum('Asset','Liability','Income','Expense');default:'Expense';not null" json:"nature"`
	IsContra *bool       `gorm:"not null;default:false" json:"is_contra"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type Ledger struct {
	ID             int    `gorm:"primary_key" json:"id"`
	TenantId       string `gorm:"index;size:64;not null;index:idx_ledger_tenant_code,priority:1" json:"tenant_id"`
	Name           string `gorm:"index;size:100;not null" json:"name"`
	Code           string `gorm:"size:100;index:idx_ledger_tenant_code,priority:2" json:"code"`
	AccountGroupId int    `gorm:"index;not null" json:"account_group_id"`

	OpeningBalance     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"opening_balance"`
	OpeningBalanceType BalanceType     `gorm:"type:enum('Dr','Cr');default:'Dr'" json:"opening_balance_type"`
	CurrentBalance     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"current_balance"`
	BalanceType        BalanceType     `gorm:"type:enum('Dr','Cr');default:'Dr'" json:"balance_type"`

	IsSystemGenerated *bool      `gorm:"not null;default:false" json:"is_system_generated"`
	SystemCode        SystemCode `gorm:"index;size:32" json:"system_code"`
	IsTdsApplicable   *bool      `gorm:"not null;default:false" json:"is_tds_applicable"`
	IsTcsApplicable   *bool      `gorm:"not null;default:false" json:"is_tcs_applicable"`
	IsActive          *bool      `gorm:"not null;default:true" json:"is_active"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (l *Ledger) GetId() int { return l.ID }

// IsSystem reports whether this is an auto-created statutory ledger.
func (l *Ledger) IsSystem() bool {
	return l.IsSystemGenerated != nil && *l.IsSystemGenerated
}

/* Balance sign convention.

The stored pair (magnitude, BalanceType) is the bookkeeping convention:
magnitude is always non-negative and the sign rides in BalanceType, with
Dr as positive. These two helpers are the only places the convention is
encoded; posting and reconciliation both go through them. */

// SignedBalance folds (magnitude, type) into a Dr-positive signed amount.
func SignedBalance(magnitude decimal.Decimal, balanceType BalanceType) decimal.Decimal {
	if balanceType == BalanceTypeCredit {
		return magnitude.Neg()
	}
	return magnitude
}

// DeriveBalance splits a signed amount back into (magnitude, type). The
// type flips to Cr exactly when the signed balance goes negative.
func DeriveBalance(signed decimal.Decimal) (decimal.Decimal, BalanceType) {
	if signed.IsNegative() {
		return signed.Neg(), BalanceTypeCredit
	}
	return signed, BalanceTypeDebit
}

type NewLedger struct {
	Name               string          `json:"name" validate:"required"`
	Code               string          `json:"code"`
	AccountGroupId     int             `json:"account_group_id" validate:"required"`
	OpeningBalance     decimal.Decimal `json:"opening_balance"`
	OpeningBalanceType BalanceType     `json:"opening_balance_type"`
	IsTdsApplicable    bool            `json:"is_tds_applicable"`
	IsTcsApplicable    bool            `json:"is_tcs_applicable"`
}

// validate input for both create & update. (id = 0 for create)
func (input *NewLedger) validate(ctx context.Context, tenantId string, id int) error {
	if input.OpeningBalance.IsNegative() {
		return errors.New("opening balance magnitude must be non-negative")
	}
	if input.OpeningBalanceType == "" {
		input.OpeningBalanceType = BalanceTypeDebit
	}
	if _, err := ParseBalanceType(string(input.OpeningBalanceType)); err != nil {
		return err
	}
	if err := utils.ValidateUnique[Ledger](ctx, tenantId, "name", input.Name, id); err != nil {
		return err
	}
	if input.Code != "" {
		if err := utils.ValidateUnique[Ledger](ctx, tenantId, "code", input.Code, id); err != nil {
			return err
		}
	}
	if err := utils.ValidateResourceId[AccountGroup](ctx, tenantId, input.AccountGroupId); err != nil {
		return errors.New("account group not found")
	}
	return nil
}

func CreateLedger(ctx context.Context, input *NewLedger) (*Ledger, error) {
	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}
	if err := input.validate(ctx, tenantId, 0); err != nil {
		return nil, err
	}

	ledger := Ledger{
		TenantId:           tenantId,
		Name:               input.Name,
		Code:               input.Code,
		AccountGroupId:     input.AccountGroupId,
		OpeningBalance:     input.OpeningBalance,
		OpeningBalanceType: input.OpeningBalanceType,
		CurrentBalance:     input.OpeningBalance,
		BalanceType:        input.OpeningBalanceType,
		IsSystemGenerated:  utils.NewFalse(),
		IsTdsApplicable:    &input.IsTdsApplicable,
		IsTcsApplicable:    &input.IsTcsApplicable,
		IsActive:           utils.NewTrue(),
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&ledger).Error; err != nil {
		return nil, err
	}
	return &ledger, nil
}

func UpdateLedger(ctx context.Context, id int, input *NewLedger) (*Ledger, error) {
	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}
	if err := input.validate(ctx, tenantId, id); err != nil {
		return nil, err
	}

	ledger, err := utils.FetchModel[Ledger](ctx, tenantId, id)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	referenced, err := ledgerHasEntries(ctx, db, id)
	if err != nil {
		return nil, err
	}
	if ledger.IsSystem() && referenced && input.Name != ledger.Name {
		return nil, errors.New("cannot rename a system ledger once entries reference it")
	}

	updates := map[string]interface{}{
		"Code":            input.Code,
		"IsTdsApplicable": input.IsTdsApplicable,
		"IsTcsApplicable": input.IsTcsApplicable,
	}
	if !ledger.IsSystem() {
		updates["Name"] = input.Name
		updates["AccountGroupId"] = input.AccountGroupId
	}
	// Opening balance edits on a referenced ledger would silently shift
	// history; require a journal instead.
	if !referenced {
		updates["OpeningBalance"] = input.OpeningBalance
		updates["OpeningBalanceType"] = input.OpeningBalanceType
	}

	if err := db.WithContext(ctx).Model(&ledger).Updates(updates).Error; err != nil {
		return nil, err
	}
	return ledger, nil
}

func DeleteLedger(ctx context.Context, id int) (*Ledger, error) {
	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}

	ledger, err := utils.FetchModel[Ledger](ctx, tenantId, id)
	if err != nil {
		return nil, err
	}
	if ledger.IsSystem() {
		return nil, errors.New("cannot delete system ledger")
	}

	db := config.GetDB()
	referenced, err := ledgerHasEntries(ctx, db, id)
	if err != nil {
		return nil, err
	}
	if referenced {
		return nil, errors.New("this ledger has entries")
	}

	if err := db.WithContext(ctx).Delete(&ledger).Error; err != nil {
		return nil, err
	}
	return ledger, nil
}

func GetLedger(ctx context.Context, id int) (*Ledger, error) {
	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}
	return utils.FetchModel[Ledger](ctx, tenantId, id)
}

func ledgerHasEntries(ctx context.Context, db *gorm.DB, ledgerId int) (bool, error) {
	var count int64
	if err := db.WithContext(ctx).Model(&VoucherLedgerEntry{}).
		Where("ledger_id = ?", ledgerId).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetSystemLedgers resolves the tenant's statutory ledgers by exact
// system_code, cached in Redis. Name-pattern lookups are deliberately
// not supported.
func GetSystemLedgers(tenantId string) (map[SystemCode]int, error) {
	var sysLedgers map[SystemCode]int

	exists, err := config.GetRedisObject("SystemLedgers:"+tenantId, &sysLedgers)
	if err != nil {
		return nil, err
	}
	if !exists {
		db := config.GetDB()
		var ledgers []*Ledger
		if err := db.Select("id", "system_code").
			Where("tenant_id = ?", tenantId).
			Where("is_system_generated = ?", true).
			Find(&ledgers).Error; err != nil {
			return nil, err
		}
		sysLedgers = make(map[SystemCode]int)
		for _, ledger := range ledgers {
			if ledger.SystemCode != "" {
				sysLedgers[ledger.SystemCode] = ledger.ID
			}
		}
		if err := config.SetRedisObject("SystemLedgers:"+tenantId, &sysLedgers, 0); err != nil {
			return nil, err
		}
	}
	return sysLedgers, nil
}

// InvalidateSystemLedgerCache drops the cached map; call after seeding or
// editing statutory ledgers.
func InvalidateSystemLedgerCache(tenantId string) error {
	return config.RemoveRedisKey("SystemLedgers:" + tenantId)
}
