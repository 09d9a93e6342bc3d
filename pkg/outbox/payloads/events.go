package payloads

import (
	"time"

	"github.com/angelmondragon/storefront-core/pkg/enums"
)

// OrderPaidEvent is emitted once when an order transitions to PAID.
type OrderPaidEvent struct {
	OrderID   string          `json:"orderId"`
	TenantID  int64           `json:"tenantId"`
	UserID    int64           `json:"userId"`
	Kind      enums.OrderKind `json:"kind"`
	Total     int64           `json:"total"`
	PayMethod enums.PayMethod `json:"payMethod"`
	PaidAt    time.Time       `json:"paidAt"`
}

// OrderDeliveredEvent records a successful stock delivery.
type OrderDeliveredEvent struct {
	OrderID     string    `json:"orderId"`
	TenantID    int64     `json:"tenantId"`
	UserID      int64     `json:"userId"`
	VariantID   int64     `json:"variantId"`
	Qty         int       `json:"qty"`
	DeliveredAt time.Time `json:"deliveredAt"`
}

// OrderUndeliverableEvent alerts operators that a paid order could not be
// fulfilled. The payment stays captured until someone intervenes.
type OrderUndeliverableEvent struct {
	OrderID   string    `json:"orderId"`
	TenantID  int64     `json:"tenantId"`
	UserID    int64     `json:"userId"`
	VariantID int64     `json:"variantId"`
	Qty       int       `json:"qty"`
	Total     int64     `json:"total"`
	Reason    string    `json:"reason"`
	FlaggedAt time.Time `json:"flaggedAt"`
}

// OrderExpiredEvent is emitted when an unpaid invoice times out.
type OrderExpiredEvent struct {
	OrderID   string    `json:"orderId"`
	TenantID  int64     `json:"tenantId"`
	UserID    int64     `json:"userId"`
	Total     int64     `json:"total"`
	ExpiredAt time.Time `json:"expiredAt"`
}

// DepositPaidEvent is emitted when a top-up is credited.
type DepositPaidEvent struct {
	DepositID  string    `json:"depositId"`
	TenantID   int64     `json:"tenantId"`
	UserID     int64     `json:"userId"`
	Amount     int64     `json:"amount"`
	NewBalance int64     `json:"newBalance"`
	PaidAt     time.Time `json:"paidAt"`
}

// DepositExpiredEvent is emitted when an unpaid top-up invoice times out.
type DepositExpiredEvent struct {
	DepositID string    `json:"depositId"`
	TenantID  int64     `json:"tenantId"`
	UserID    int64     `json:"userId"`
	Amount    int64     `json:"amount"`
	ExpiredAt time.Time `json:"expiredAt"`
}

// RentActivatedEvent is emitted when a storefront rental starts or extends.
type RentActivatedEvent struct {
	OrderID  string    `json:"orderId"`
	UserID   int64     `json:"userId"`
	TenantID int64     `json:"tenantId"`
	Months   int       `json:"months"`
	EndsAt   time.Time `json:"endsAt"`
}
