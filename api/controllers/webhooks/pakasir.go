package webhooks

import (
	"context"
	"net/http"

	"github.com/angelmondragon/storefront-core/api/responses"
	"github.com/angelmondragon/storefront-core/api/validators"
	"github.com/angelmondragon/storefront-core/internal/settlement"
	pkgerrors "github.com/angelmondragon/storefront-core/pkg/errors"
	"github.com/angelmondragon/storefront-core/pkg/logger"
)

const settledConsumer = "webhook.pakasir"

type invoiceSettler interface {
	Settle(ctx context.Context, id string) (settlement.Result, error)
}

// settledMarks remembers invoices already confirmed paid so gateway retries
// are acknowledged without another TransactionDetail call.
type settledMarks interface {
	Seen(ctx context.Context, consumer, id string) (bool, error)
	MarkProcessed(ctx context.Context, consumer, id string) error
}

// PakasirNotification is the callback body sent by the gateway. Only the
// invoice id is trusted; settlement re-reads the transaction from the API.
type PakasirNotification struct {
	OrderID       string `json:"order_id" validate:"required,max=64"`
	Amount        int64  `json:"amount" validate:"gte=0"`
	Project       string `json:"project"`
	Status        string `json:"status"`
	PaymentMethod string `json:"payment_method"`
}

type pakasirAck struct {
	OrderID      string `json:"order_id"`
	Kind         string `json:"kind"`
	Status       string `json:"status"`
	Paid         bool   `json:"paid"`
	Transitioned bool   `json:"transitioned"`
	Busy         bool   `json:"busy,omitempty"`
	Duplicate    bool   `json:"duplicate,omitempty"`
}

// PakasirWebhook treats the gateway callback as a hint to run settlement now
// instead of waiting for the next poll. marks may be nil.
func PakasirWebhook(settler invoiceSettler, marks settledMarks, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if settler == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "settler unavailable"))
			return
		}

		var body PakasirNotification
		if err := validators.DecodeLenientJSONBody(r, &body); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		orderID := validators.SanitizeString(body.OrderID, 64)

		if logg != nil {
			ctx = logg.WithFields(logg.WithOrderID(ctx, orderID), map[string]any{
				"hint_amount": body.Amount,
				"hint_status": body.Status,
			})
			logg.Info(ctx, "webhook.pakasir.received")
		}

		if marks != nil {
			seen, err := marks.Seen(ctx, settledConsumer, orderID)
			if err != nil && logg != nil {
				logg.Warn(logg.WithField(ctx, "error", err.Error()), "webhook.pakasir.mark_lookup_failed")
			}
			if seen {
				responses.WriteSuccess(w, pakasirAck{
					OrderID:   orderID,
					Kind:      string(settlement.KindOf(orderID)),
					Status:    "completed",
					Paid:      true,
					Duplicate: true,
				})
				return
			}
		}

		result, err := settler.Settle(ctx, orderID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if result.Paid && marks != nil {
			if err := marks.MarkProcessed(ctx, settledConsumer, orderID); err != nil && logg != nil {
				logg.Warn(logg.WithField(ctx, "error", err.Error()), "webhook.pakasir.mark_failed")
			}
		}

		ack := pakasirAck{
			OrderID:      orderID,
			Kind:         string(result.Kind),
			Status:       string(result.Status),
			Paid:         result.Paid,
			Transitioned: result.Transitioned,
			Busy:         result.Busy,
		}
		if result.Busy {
			responses.WriteSuccessStatus(w, http.StatusAccepted, ack)
			return
		}
		responses.WriteSuccess(w, ack)
	}
}
