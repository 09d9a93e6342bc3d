package orders

import (
	"time"

	"github.com/angelmondragon/storefront-core/pkg/db/models"
	"github.com/angelmondragon/storefront-core/pkg/enums"
	"github.com/shopspring/decimal"
)

// CreateOrderInput captures a checkout attempt. OrderID is the idempotency key.
type CreateOrderInput struct {
	TenantID  int64
	UserID    int64
	Kind      enums.OrderKind
	VariantID *int64
	Qty       int
	OrderID   string
	Amount    int64
	Total     int64
	PayURL    *string
}

// CreateDepositInput captures a balance top-up invoice.
type CreateDepositInput struct {
	TenantID int64
	UserID   int64
	OrderID  string
	Amount   int64
	PayURL   *string
}

// CreateRentInput captures a storefront rental purchase.
type CreateRentInput struct {
	UserID  int64
	Plan    string
	Months  int
	Price   int64
	OrderID string
}

// PaymentMessage references the chat prompt showing the QR code.
type PaymentMessage struct {
	ChatID    int64
	MessageID int64
	ExpiresAt time.Time
	PayURL    *string
}

// OrderPage is one page of a user's order history, newest first.
type OrderPage struct {
	Orders     []models.Order `json:"orders"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

// TenantStats summarizes sales for a tenant.
type TenantStats struct {
	TenantID            int64           `json:"tenant_id"`
	TotalOrders         int64           `json:"total_orders"`
	PaidOrders          int64           `json:"paid_orders"`
	PendingOrders       int64           `json:"pending_orders"`
	DeliveredOrders     int64           `json:"delivered_orders"`
	UndeliverableOrders int64           `json:"undeliverable_orders"`
	QtySold             int64           `json:"qty_sold"`
	Revenue             decimal.Decimal `json:"revenue"`
	AverageOrder        decimal.Decimal `json:"average_order"`
}
