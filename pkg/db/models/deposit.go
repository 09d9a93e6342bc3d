package models

import (
	"time"

	"github.com/angelmondragon/storefront-core/pkg/enums"
)

// Deposit is a balance top-up invoice paid through the gateway.
type Deposit struct {
	ID            int64               `gorm:"column:id;primaryKey;autoIncrement"`
	TenantID      int64               `gorm:"column:tenant_id;not null;default:0"`
	UserID        int64               `gorm:"column:user_id;not null"`
	OrderID       string              `gorm:"column:order_id;type:text;not null;uniqueIndex:ux_deposits_order_id"`
	Amount        int64               `gorm:"column:amount;not null"`
	Status        enums.DepositStatus `gorm:"column:status;type:text;not null;index:idx_deposits_status_created,priority:1"`
	PayURL        *string             `gorm:"column:pay_url;type:text"`
	PayMsgChatID  *int64              `gorm:"column:pay_msg_chat_id"`
	PayMsgID      *int64              `gorm:"column:pay_msg_id"`
	ExpiresAt     *time.Time          `gorm:"column:expires_at"`
	LastRefreshAt *time.Time          `gorm:"column:last_refresh_at"`
	PaidAt        *time.Time          `gorm:"column:paid_at"`
	CreatedAt     time.Time           `gorm:"column:created_at;autoCreateTime;index:idx_deposits_status_created,priority:2"`
}

// HasPaymentMessage reports whether a QR prompt is attached to the deposit.
func (d Deposit) HasPaymentMessage() bool {
	return d.PayMsgChatID != nil && d.PayMsgID != nil
}
