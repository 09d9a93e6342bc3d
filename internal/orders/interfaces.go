package orders

import (
	"context"
	"time"

	"github.com/angelmondragon/storefront-core/pkg/db/models"
	"github.com/angelmondragon/storefront-core/pkg/enums"
	"github.com/angelmondragon/storefront-core/pkg/pagination"
	"gorm.io/gorm"
)

// Store owns order, deposit and rent rows. Every status transition is a
// single conditional statement or runs inside one transaction.
type Store interface {
	WithTx(tx *gorm.DB) Store

	CreateOrder(ctx context.Context, input CreateOrderInput) (string, error)
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
	SetPaid(ctx context.Context, orderID string, method enums.PayMethod) (bool, error)
	ClaimFulfillment(ctx context.Context, orderID string, staleAfter time.Duration) (bool, error)
	ReleaseFulfillment(ctx context.Context, orderID string) error
	MarkDelivered(ctx context.Context, orderID string, qty int) (bool, error)
	MarkUndeliverable(ctx context.Context, orderID, reason string) (bool, error)
	ListRecentPending(ctx context.Context, limit int, maxAge time.Duration) ([]models.Order, error)
	ListPendingWithExpiry(ctx context.Context, limit int) ([]models.Order, error)
	ListPaidUndelivered(ctx context.Context, limit int, maxAge time.Duration) ([]models.Order, error)
	SetExpired(ctx context.Context, orderID string) (bool, error)
	TouchRefresh(ctx context.Context, orderID string) error
	SetPaymentMessage(ctx context.Context, orderID string, msg PaymentMessage) error
	ListUndeliverable(ctx context.Context, tenantID *int64, limit int) ([]models.Order, error)
	ListByUser(ctx context.Context, tenantID, userID int64, params pagination.Params) (*OrderPage, error)
	TenantStats(ctx context.Context, tenantID int64) (*TenantStats, error)

	CreateDeposit(ctx context.Context, input CreateDepositInput) (string, error)
	GetDeposit(ctx context.Context, orderID string) (*models.Deposit, error)
	MarkDepositPaid(ctx context.Context, orderID string) (bool, error)
	SetDepositPaymentMessage(ctx context.Context, orderID string, msg PaymentMessage) error
	ListRecentPendingDeposits(ctx context.Context, limit int, maxAge time.Duration) ([]models.Deposit, error)
	ListPendingDepositsWithExpiry(ctx context.Context, limit int) ([]models.Deposit, error)
	SetDepositExpired(ctx context.Context, orderID string) (bool, error)
	TouchDepositRefresh(ctx context.Context, orderID string) error

	CreateRent(ctx context.Context, input CreateRentInput) (string, error)
	GetRent(ctx context.Context, orderID string) (*models.Rent, error)
	ActivateRent(ctx context.Context, orderID string, months int) (*models.Rent, bool, error)
	GetActiveRentByUser(ctx context.Context, userID int64) (*models.Rent, error)
}
