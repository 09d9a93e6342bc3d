package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/angelmondragon/storefront-core/api/responses"
	"github.com/angelmondragon/storefront-core/api/validators"
	"github.com/angelmondragon/storefront-core/internal/fulfillment"
	"github.com/angelmondragon/storefront-core/internal/settlement"
	"github.com/angelmondragon/storefront-core/pkg/db/models"
	"github.com/angelmondragon/storefront-core/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-core/pkg/errors"
	"github.com/angelmondragon/storefront-core/pkg/logger"
)

const (
	defaultUndeliverableLimit = 50
	maxUndeliverableLimit     = 200
	maxOrderIDLength          = 64
)

type orderReader interface {
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
	ListUndeliverable(ctx context.Context, tenantID *int64, limit int) ([]models.Order, error)
}

type redeliverer interface {
	Redeliver(ctx context.Context, orderID string) (fulfillment.Outcome, error)
}

type invoiceSettler interface {
	Settle(ctx context.Context, id string) (settlement.Result, error)
}

// OrderView is the operator-facing shape of an order row.
type OrderView struct {
	OrderID             string            `json:"order_id"`
	TenantID            int64             `json:"tenant_id"`
	UserID              int64             `json:"user_id"`
	Kind                enums.OrderKind   `json:"kind"`
	VariantID           *int64            `json:"variant_id,omitempty"`
	Qty                 int               `json:"qty"`
	Amount              int64             `json:"amount"`
	Total               int64             `json:"total"`
	Status              enums.OrderStatus `json:"status"`
	PayMethod           *enums.PayMethod  `json:"pay_method,omitempty"`
	ExpiresAt           *time.Time        `json:"expires_at,omitempty"`
	PaidAt              *time.Time        `json:"paid_at,omitempty"`
	DeliveredAt         *time.Time        `json:"delivered_at,omitempty"`
	DeliveredQty        int               `json:"delivered_qty"`
	UndeliverableAt     *time.Time        `json:"undeliverable_at,omitempty"`
	UndeliverableReason *string           `json:"undeliverable_reason,omitempty"`
	CreatedAt           time.Time         `json:"created_at"`
}

func newOrderView(o models.Order) OrderView {
	return OrderView{
		OrderID:             o.OrderID,
		TenantID:            o.TenantID,
		UserID:              o.UserID,
		Kind:                o.Kind,
		VariantID:           o.VariantID,
		Qty:                 o.Qty,
		Amount:              o.Amount,
		Total:               o.Total,
		Status:              o.Status,
		PayMethod:           o.PayMethod,
		ExpiresAt:           o.ExpiresAt,
		PaidAt:              o.PaidAt,
		DeliveredAt:         o.DeliveredAt,
		DeliveredQty:        o.DeliveredQty,
		UndeliverableAt:     o.UndeliverableAt,
		UndeliverableReason: o.UndeliverableReason,
		CreatedAt:           o.CreatedAt,
	}
}

// AdminOrderDetail returns one order by its invoice id.
func AdminOrderDetail(repo orderReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if repo == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders repository unavailable"))
			return
		}
		orderID, err := validators.PathString(r, "orderId", maxOrderIDLength)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		order, err := repo.GetOrder(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newOrderView(*order))
	}
}

// AdminUndeliverableOrders lists paid orders that could not be delivered,
// optionally narrowed to one tenant.
func AdminUndeliverableOrders(repo orderReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if repo == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders repository unavailable"))
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", defaultUndeliverableLimit, 1, maxUndeliverableLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		tenantID, err := validators.ParseQueryInt64(r, "tenant_id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		rows, err := repo.ListUndeliverable(r.Context(), tenantID, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list undeliverable orders"))
			return
		}
		views := make([]OrderView, 0, len(rows))
		for _, row := range rows {
			views = append(views, newOrderView(row))
		}
		responses.WriteSuccess(w, map[string]any{"orders": views})
	}
}

// AdminRedeliverOrder resends the stamped items of a delivered order, or
// retries delivery of an undeliverable one once stock is back.
func AdminRedeliverOrder(engine redeliverer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if engine == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "fulfillment unavailable"))
			return
		}
		orderID, err := validators.PathString(r, "orderId", maxOrderIDLength)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		outcome, err := engine.Redeliver(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"order_id": orderID, "outcome": string(outcome)})
	}
}

// AdminCheckOrder runs settlement for an order or deposit on demand.
func AdminCheckOrder(settler invoiceSettler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if settler == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "settler unavailable"))
			return
		}
		orderID, err := validators.PathString(r, "orderId", maxOrderIDLength)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := settler.Settle(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"order_id":     result.OrderID,
			"kind":         result.Kind,
			"status":       result.Status,
			"reason":       result.Reason,
			"paid":         result.Paid,
			"transitioned": result.Transitioned,
			"busy":         result.Busy,
			"outcome":      result.Outcome,
		})
	}
}
