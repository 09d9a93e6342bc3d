package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/angelmondragon/storefront-core/api/responses"
	"github.com/angelmondragon/storefront-core/api/validators"
	"github.com/angelmondragon/storefront-core/internal/checkout"
	"github.com/angelmondragon/storefront-core/internal/settlement"
	pkgerrors "github.com/angelmondragon/storefront-core/pkg/errors"
	"github.com/angelmondragon/storefront-core/pkg/logger"
)

type checkoutHandler interface {
	Handle(ctx context.Context, tenantID, userID int64, in checkout.Input) (checkout.Reply, error)
	AttachPaymentMessage(ctx context.Context, inv checkout.Invoice, chatID, messageID int64) error
}

// CheckoutEventRequest is one buyer action relayed by the chat adapter.
type CheckoutEventRequest struct {
	TenantID  int64  `json:"tenant_id" validate:"gte=0"`
	UserID    int64  `json:"user_id" validate:"gt=0"`
	Event     string `json:"event" validate:"required,oneof=select_variant enter_quantity pay_balance pay_qris check_payment start_deposit start_rent cancel"`
	VariantID int64  `json:"variant_id" validate:"gte=0"`
	Qty       int    `json:"qty" validate:"gte=0"`
	Amount    int64  `json:"amount" validate:"gte=0"`
	Months    int    `json:"months" validate:"gte=0"`
}

// InvoiceView is the open QRIS charge the adapter renders as a QR image.
type InvoiceView struct {
	Kind         string    `json:"kind"`
	OrderID      string    `json:"order_id"`
	Amount       int64     `json:"amount"`
	TotalPayment int64     `json:"total_payment"`
	QRString     string    `json:"qr_string"`
	PayURL       string    `json:"pay_url,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// CheckoutReplyView is what the adapter shows the buyer.
type CheckoutReplyView struct {
	Text     string       `json:"text"`
	Rejected bool         `json:"rejected"`
	Outcome  string       `json:"outcome,omitempty"`
	Invoice  *InvoiceView `json:"invoice,omitempty"`
}

// PaymentMessageRequest reports the chat message that displays an invoice.
type PaymentMessageRequest struct {
	Kind      string    `json:"kind" validate:"required,oneof=order deposit"`
	OrderID   string    `json:"order_id" validate:"required,max=64"`
	PayURL    string    `json:"pay_url" validate:"omitempty,url,max=512"`
	ExpiresAt time.Time `json:"expires_at" validate:"required"`
	ChatID    int64     `json:"chat_id" validate:"ne=0"`
	MessageID int64     `json:"message_id" validate:"gt=0"`
}

// CheckoutEvent runs one buyer event through the checkout machine.
func CheckoutEvent(machine checkoutHandler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if machine == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeDependency, "checkout unavailable"))
			return
		}
		var body CheckoutEventRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		reply, err := machine.Handle(ctx, body.TenantID, body.UserID, checkout.Input{
			Event:     checkout.Event(body.Event),
			VariantID: body.VariantID,
			Qty:       body.Qty,
			Amount:    body.Amount,
			Months:    body.Months,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, newCheckoutReplyView(reply))
	}
}

// CheckoutPaymentMessage links a sent QR message to its invoice so the
// expiry sweeper can refresh and remove it.
func CheckoutPaymentMessage(machine checkoutHandler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if machine == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeDependency, "checkout unavailable"))
			return
		}
		var body PaymentMessageRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		inv := checkout.Invoice{
			Kind:      settlement.Kind(body.Kind),
			OrderID:   body.OrderID,
			PayURL:    body.PayURL,
			ExpiresAt: body.ExpiresAt.UTC(),
		}
		if err := machine.AttachPaymentMessage(ctx, inv, body.ChatID, body.MessageID); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func newCheckoutReplyView(reply checkout.Reply) CheckoutReplyView {
	view := CheckoutReplyView{
		Text:     reply.Text,
		Rejected: reply.Rejected,
		Outcome:  string(reply.Outcome),
	}
	if inv := reply.Invoice; inv != nil {
		view.Invoice = &InvoiceView{
			Kind:         string(inv.Kind),
			OrderID:      inv.OrderID,
			Amount:       inv.Amount,
			TotalPayment: inv.TotalPayment,
			QRString:     inv.QRString,
			PayURL:       inv.PayURL,
			ExpiresAt:    inv.ExpiresAt,
		}
	}
	return view
}
