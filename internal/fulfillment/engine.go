// Package fulfillment turns paid orders into delivered goods or active rentals.
package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/storefront-core/internal/inventory"
	"github.com/angelmondragon/storefront-core/internal/messenger"
	"github.com/angelmondragon/storefront-core/internal/orders"
	"github.com/angelmondragon/storefront-core/pkg/db/models"
	"github.com/angelmondragon/storefront-core/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-core/pkg/errors"
	"github.com/angelmondragon/storefront-core/pkg/logger"
	"github.com/angelmondragon/storefront-core/pkg/metrics"
	"github.com/angelmondragon/storefront-core/pkg/outbox"
	"github.com/angelmondragon/storefront-core/pkg/outbox/payloads"
	"gorm.io/gorm"
)

// Outcome is the result of one fulfillment attempt.
type Outcome string

const (
	OutcomeDelivered         Outcome = "delivered"
	OutcomeAlreadyDelivered  Outcome = "already_delivered"
	OutcomeInProgress        Outcome = "in_progress"
	OutcomeUndeliverable     Outcome = "undeliverable"
	OutcomeRedelivered       Outcome = "redelivered"
	OutcomeRentActivated     Outcome = "rent_activated"
	OutcomeRentAlreadyActive Outcome = "rent_already_active"
)

const defaultClaimTTL = 5 * time.Minute

const (
	reasonStockMismatch      = "payment_stock_mismatch"
	reasonVariantUnavailable = "variant_unavailable"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type stockLedger interface {
	GetVariant(ctx context.Context, tenantID, variantID int64) (*models.Variant, error)
	PopStockFIFO(ctx context.Context, tenantID, variantID int64, qty int, orderID string) ([]string, error)
	ItemsForOrder(ctx context.Context, orderID string) ([]string, error)
}

type tenantProvisioner interface {
	EnsureTenantForOwner(ctx context.Context, ownerUserID int64, name string) (*models.Tenant, bool, error)
}

type eventEmitter interface {
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Params wires the engine's collaborators.
type Params struct {
	Orders    orders.Store
	Inventory stockLedger
	Tenants   tenantProvisioner
	Messenger messenger.Messenger
	Outbox    eventEmitter
	Tx        txRunner
	Metrics   *metrics.ReconciliationMetrics
	Logger    *logger.Logger
	Now       func() time.Time

	// ClaimTTL bounds how long a fulfillment claim blocks other triggers
	// before it is considered abandoned.
	ClaimTTL time.Duration
}

// Engine delivers paid orders. Delivery happens at most once per order:
// a caller must hold the order's fulfillment claim before withdrawing stock,
// withdrawn items are stamped with the order id so a retry reuses them, and
// MarkDelivered only succeeds once.
type Engine struct {
	orders    orders.Store
	inventory stockLedger
	tenants   tenantProvisioner
	chat      messenger.Messenger
	outbox    eventEmitter
	tx        txRunner
	metrics   *metrics.ReconciliationMetrics
	logg      *logger.Logger
	now       func() time.Time
	claimTTL  time.Duration
}

// NewEngine validates dependencies and wraps the messenger so chat failures
// are logged instead of returned.
func NewEngine(p Params) (*Engine, error) {
	if p.Orders == nil {
		return nil, fmt.Errorf("order store required")
	}
	if p.Inventory == nil {
		return nil, fmt.Errorf("inventory required")
	}
	if p.Tenants == nil {
		return nil, fmt.Errorf("tenant provisioner required")
	}
	if p.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if p.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if p.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	next := p.Messenger
	if next == nil {
		next = messenger.Discard{}
	}
	chat, err := messenger.NewBestEffort(next, p.Logger)
	if err != nil {
		return nil, err
	}
	now := p.Now
	if now == nil {
		now = time.Now
	}
	claimTTL := p.ClaimTTL
	if claimTTL <= 0 {
		claimTTL = defaultClaimTTL
	}
	return &Engine{
		orders:    p.Orders,
		inventory: p.Inventory,
		tenants:   p.Tenants,
		chat:      chat,
		outbox:    p.Outbox,
		tx:        p.Tx,
		metrics:   p.Metrics,
		logg:      p.Logger,
		now:       now,
		claimTTL:  claimTTL,
	}, nil
}

// Fulfill dispatches a paid order by kind.
func (e *Engine) Fulfill(ctx context.Context, orderID string) (Outcome, error) {
	order, err := e.orders.GetOrder(ctx, orderID)
	if err != nil {
		return "", err
	}
	if order.Kind == enums.OrderKindRent {
		return e.activateRent(ctx, order)
	}
	return e.fulfillProduct(ctx, order)
}

// FulfillProduct delivers stock for a paid PRODUCT order.
func (e *Engine) FulfillProduct(ctx context.Context, orderID string) (Outcome, error) {
	order, err := e.orders.GetOrder(ctx, orderID)
	if err != nil {
		return "", err
	}
	if order.Kind != enums.OrderKindProduct {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "order is not a product order").
			WithDetails(map[string]any{"order_id": orderID, "kind": order.Kind})
	}
	return e.fulfillProduct(ctx, order)
}

func (e *Engine) fulfillProduct(ctx context.Context, order *models.Order) (Outcome, error) {
	ctx = e.logg.WithOrderID(ctx, order.OrderID)
	ctx = e.logg.WithTenantID(ctx, order.TenantID)

	if order.Status != enums.OrderStatusPaid {
		return "", pkgerrors.New(pkgerrors.CodeStateConflict, "order is not paid").
			WithDetails(map[string]any{"order_id": order.OrderID, "status": order.Status})
	}
	if order.Delivered() {
		return e.count(OutcomeAlreadyDelivered), nil
	}
	if order.VariantID == nil {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "order has no variant").
			WithDetails(map[string]any{"order_id": order.OrderID})
	}

	claimed, err := e.orders.ClaimFulfillment(ctx, order.OrderID, e.claimTTL)
	if err != nil {
		return "", err
	}
	if !claimed {
		return e.claimLost(ctx, order.OrderID)
	}
	defer e.releaseClaim(ctx, order.OrderID)

	variantName := fmt.Sprintf("#%d", *order.VariantID)
	items, err := e.inventory.ItemsForOrder(ctx, order.OrderID)
	if err != nil {
		return "", err
	}
	if len(items) == 0 {
		variant, err := e.inventory.GetVariant(ctx, order.TenantID, *order.VariantID)
		if err != nil {
			if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
				return e.flagUndeliverable(ctx, order, reasonVariantUnavailable)
			}
			return "", err
		}
		variantName = variant.Name

		items, err = e.inventory.PopStockFIFO(ctx, order.TenantID, *order.VariantID, order.Qty, order.OrderID)
		if err != nil {
			if errors.Is(err, inventory.ErrInsufficientStock) {
				return e.flagUndeliverable(ctx, order, reasonStockMismatch)
			}
			return "", err
		}
	}

	if order.HasPaymentMessage() {
		_ = e.chat.Delete(ctx, *order.PayMsgChatID, *order.PayMsgID)
	}
	e.sendItems(ctx, order, variantName, items)

	now := e.now().UTC()
	var delivered bool
	err = e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		changed, err := e.orders.WithTx(tx).MarkDelivered(ctx, order.OrderID, len(items))
		if err != nil {
			return err
		}
		delivered = changed
		if !changed {
			return nil
		}
		return e.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderDelivered,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.OrderID,
			Actor:         &outbox.ActorRef{TenantID: order.TenantID, UserID: order.UserID, Role: "buyer"},
			Data: payloads.OrderDeliveredEvent{
				OrderID:     order.OrderID,
				TenantID:    order.TenantID,
				UserID:      order.UserID,
				VariantID:   *order.VariantID,
				Qty:         len(items),
				DeliveredAt: now,
			},
			OccurredAt: now,
		})
	})
	if err != nil {
		return "", err
	}
	if !delivered {
		return e.count(OutcomeAlreadyDelivered), nil
	}

	logCtx := e.logg.WithFields(ctx, map[string]any{"event": "order_delivered", "qty": len(items)})
	e.logg.Info(logCtx, "order delivered")
	return e.count(OutcomeDelivered), nil
}

// claimLost reports why another trigger owns the order: it either finished
// delivery already or is still working on it.
func (e *Engine) claimLost(ctx context.Context, orderID string) (Outcome, error) {
	current, err := e.orders.GetOrder(ctx, orderID)
	if err != nil {
		return "", err
	}
	if current.Delivered() {
		return e.count(OutcomeAlreadyDelivered), nil
	}
	e.logg.Info(e.logg.WithField(ctx, "event", "fulfillment_in_progress"), "order is being fulfilled by another trigger")
	return e.count(OutcomeInProgress), nil
}

func (e *Engine) releaseClaim(ctx context.Context, orderID string) {
	if err := e.orders.ReleaseFulfillment(context.WithoutCancel(ctx), orderID); err != nil {
		e.logg.Warn(e.logg.WithField(ctx, "error", err.Error()), "fulfillment claim release failed")
	}
}

// flagUndeliverable records a paid order that could not be fulfilled. The
// payment is kept; an operator resolves it manually.
func (e *Engine) flagUndeliverable(ctx context.Context, order *models.Order, reason string) (Outcome, error) {
	now := e.now().UTC()
	var flagged bool
	err := e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		changed, err := e.orders.WithTx(tx).MarkUndeliverable(ctx, order.OrderID, reason)
		if err != nil {
			return err
		}
		flagged = changed
		if !changed {
			return nil
		}
		return e.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderUndeliverable,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.OrderID,
			Data: payloads.OrderUndeliverableEvent{
				OrderID:   order.OrderID,
				TenantID:  order.TenantID,
				UserID:    order.UserID,
				VariantID: derefInt64(order.VariantID),
				Qty:       order.Qty,
				Total:     order.Total,
				Reason:    reason,
				FlaggedAt: now,
			},
			OccurredAt: now,
		})
	})
	if err != nil {
		return "", err
	}
	if !flagged {
		return e.count(OutcomeUndeliverable), nil
	}

	logCtx := e.logg.WithFields(ctx, map[string]any{
		"severity":   "CRITICAL",
		"event":      reason,
		"user_id":    order.UserID,
		"variant_id": derefInt64(order.VariantID),
		"qty":        order.Qty,
		"total":      order.Total,
	})
	e.logg.Error(logCtx, "paid order could not be fulfilled", pkgerrors.New(pkgerrors.CodeInsufficientStock, reason))

	if order.HasPaymentMessage() {
		_ = e.chat.Delete(ctx, *order.PayMsgChatID, *order.PayMsgID)
	}
	_, _ = e.chat.SendText(ctx, order.UserID, undeliverableText(order))
	return e.count(OutcomeUndeliverable), nil
}

// Redeliver resends the items already stamped with a delivered order. An
// order that was paid but never delivered goes through normal fulfillment.
func (e *Engine) Redeliver(ctx context.Context, orderID string) (Outcome, error) {
	order, err := e.orders.GetOrder(ctx, orderID)
	if err != nil {
		return "", err
	}
	if order.Kind != enums.OrderKindProduct {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "only product orders can be redelivered")
	}
	if !order.Delivered() {
		return e.fulfillProduct(ctx, order)
	}
	items, err := e.inventory.ItemsForOrder(ctx, order.OrderID)
	if err != nil {
		return "", err
	}
	if len(items) == 0 {
		return "", pkgerrors.New(pkgerrors.CodeStateConflict, "no stock items recorded for order").
			WithDetails(map[string]any{"order_id": orderID})
	}
	e.sendItems(ctx, order, fmt.Sprintf("#%d", derefInt64(order.VariantID)), items)
	return e.count(OutcomeRedelivered), nil
}

// ActivateRent starts or extends the storefront rental bought by a paid RENT order.
func (e *Engine) ActivateRent(ctx context.Context, orderID string) (Outcome, error) {
	order, err := e.orders.GetOrder(ctx, orderID)
	if err != nil {
		return "", err
	}
	if order.Kind != enums.OrderKindRent {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "order is not a rent order").
			WithDetails(map[string]any{"order_id": orderID, "kind": order.Kind})
	}
	return e.activateRent(ctx, order)
}

func (e *Engine) activateRent(ctx context.Context, order *models.Order) (Outcome, error) {
	ctx = e.logg.WithOrderID(ctx, order.OrderID)
	if order.Status != enums.OrderStatusPaid {
		return "", pkgerrors.New(pkgerrors.CodeStateConflict, "order is not paid").
			WithDetails(map[string]any{"order_id": order.OrderID, "status": order.Status})
	}

	tenant, _, err := e.tenants.EnsureTenantForOwner(ctx, order.UserID, "")
	if err != nil {
		return "", err
	}

	var (
		rent      *models.Rent
		activated bool
	)
	err = e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		r, changed, err := e.orders.WithTx(tx).ActivateRent(ctx, order.OrderID, 0)
		if err != nil {
			return err
		}
		rent, activated = r, changed
		if !changed {
			return nil
		}
		return e.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventRentActivated,
			AggregateType: enums.AggregateRent,
			AggregateID:   order.OrderID,
			Actor:         &outbox.ActorRef{TenantID: tenant.ID, UserID: order.UserID, Role: "renter"},
			Data: payloads.RentActivatedEvent{
				OrderID:  order.OrderID,
				UserID:   order.UserID,
				TenantID: tenant.ID,
				Months:   r.Months,
				EndsAt:   derefTime(r.EndsAt),
			},
		})
	})
	if err != nil {
		return "", err
	}
	if !activated {
		return e.count(OutcomeRentAlreadyActive), nil
	}

	if order.HasPaymentMessage() {
		_ = e.chat.Delete(ctx, *order.PayMsgChatID, *order.PayMsgID)
	}
	_, _ = e.chat.SendText(ctx, order.UserID, rentActivatedText(tenant, rent))

	logCtx := e.logg.WithFields(ctx, map[string]any{
		"event":     "rent_activated",
		"tenant_id": tenant.ID,
		"months":    rent.Months,
	})
	e.logg.Info(logCtx, "rent activated")
	return e.count(OutcomeRentActivated), nil
}

func (e *Engine) sendItems(ctx context.Context, order *models.Order, variantName string, items []string) {
	caption := fmt.Sprintf("✅ Pembayaran berhasil\nInvoice: %s\nProduk: %s\nJumlah: %d", order.OrderID, variantName, len(items))
	_, _ = e.chat.SendDocument(ctx, order.UserID, StockFilename(order.OrderID), []byte(strings.Join(items, "\n")), caption)
}

func (e *Engine) count(outcome Outcome) Outcome {
	e.metrics.IncFulfillment(string(outcome))
	return outcome
}

// StockFilename is the name of the document carrying delivered items.
func StockFilename(orderID string) string {
	return "stok_" + orderID + ".txt"
}

func undeliverableText(order *models.Order) string {
	return fmt.Sprintf("⚠️ STOK TIDAK CUKUP\n\nInvoice: %s\nPembayaran sudah diproses. Silakan hubungi admin untuk penyelesaian.", order.OrderID)
}

func rentActivatedText(tenant *models.Tenant, rent *models.Rent) string {
	return fmt.Sprintf("✅ SEWA TOKO AKTIF\n\nToko: %s (ID %d)\nDurasi: %d bulan\nAktif sampai: %s",
		tenant.Name, tenant.ID, rent.Months, derefTime(rent.EndsAt).Format("02 Jan 2006"))
}

func derefInt64(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}

func derefTime(v *time.Time) time.Time {
	if v == nil {
		return time.Time{}
	}
	return *v
}
