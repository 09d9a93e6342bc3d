package models

import (
	"time"

	"github.com/angelmondragon/storefront-core/pkg/enums"
)

// Balance is the prepaid credit of a user within a tenant.
type Balance struct {
	TenantID  int64     `gorm:"column:tenant_id;primaryKey;autoIncrement:false"`
	UserID    int64     `gorm:"column:user_id;primaryKey;autoIncrement:false"`
	Balance   int64     `gorm:"column:balance;not null;default:0;check:chk_balances_non_negative,balance >= 0"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// BalanceEntry journals one balance mutation.
type BalanceEntry struct {
	ID        int64                  `gorm:"column:id;primaryKey;autoIncrement"`
	TenantID  int64                  `gorm:"column:tenant_id;not null;index:idx_balance_entries_owner,priority:1"`
	UserID    int64                  `gorm:"column:user_id;not null;index:idx_balance_entries_owner,priority:2"`
	Kind      enums.BalanceEntryKind `gorm:"column:kind;type:text;not null"`
	Amount    int64                  `gorm:"column:amount;not null"`
	Reason    enums.BalanceReason    `gorm:"column:reason;type:text;not null"`
	Reference string                 `gorm:"column:reference;type:text"`
	CreatedAt time.Time              `gorm:"column:created_at;autoCreateTime"`
}
