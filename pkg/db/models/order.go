package models

import (
	"time"

	"github.com/angelmondragon/storefront-core/pkg/enums"
)

// Order is one purchase attempt. OrderID is the external idempotency key
// shared with the payment gateway.
type Order struct {
	ID                  int64             `gorm:"column:id;primaryKey;autoIncrement"`
	TenantID            int64             `gorm:"column:tenant_id;not null;default:0;index:idx_orders_tenant_status_created,priority:1"`
	UserID              int64             `gorm:"column:user_id;not null;index:idx_orders_user_created,priority:1"`
	Kind                enums.OrderKind   `gorm:"column:kind;type:text;not null"`
	VariantID           *int64            `gorm:"column:variant_id"`
	Qty                 int               `gorm:"column:qty;not null"`
	OrderID             string            `gorm:"column:order_id;type:text;not null;uniqueIndex:ux_orders_order_id"`
	Amount              int64             `gorm:"column:amount;not null"`
	Total               int64             `gorm:"column:total;not null"`
	Status              enums.OrderStatus `gorm:"column:status;type:text;not null;index:idx_orders_status_created,priority:1;index:idx_orders_tenant_status_created,priority:2"`
	PayMethod           *enums.PayMethod  `gorm:"column:pay_method;type:text"`
	PayURL              *string           `gorm:"column:pay_url;type:text"`
	PayMsgChatID        *int64            `gorm:"column:pay_msg_chat_id"`
	PayMsgID            *int64            `gorm:"column:pay_msg_id"`
	ExpiresAt           *time.Time        `gorm:"column:expires_at"`
	LastRefreshAt       *time.Time        `gorm:"column:last_refresh_at"`
	PaidAt              *time.Time        `gorm:"column:paid_at"`
	FulfillingAt        *time.Time        `gorm:"column:fulfilling_at"`
	DeliveredAt         *time.Time        `gorm:"column:delivered_at"`
	DeliveredQty        int               `gorm:"column:delivered_qty;not null;default:0"`
	UndeliverableAt     *time.Time        `gorm:"column:undeliverable_at"`
	UndeliverableReason *string           `gorm:"column:undeliverable_reason;type:text"`
	CreatedAt           time.Time         `gorm:"column:created_at;autoCreateTime;index:idx_orders_status_created,priority:2;index:idx_orders_tenant_status_created,priority:3;index:idx_orders_user_created,priority:2"`
	UpdatedAt           time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

// Delivered reports whether fulfillment already completed for the order.
func (o Order) Delivered() bool {
	return o.DeliveredAt != nil
}

// HasPaymentMessage reports whether a QR prompt is attached to the order.
func (o Order) HasPaymentMessage() bool {
	return o.PayMsgChatID != nil && o.PayMsgID != nil
}
