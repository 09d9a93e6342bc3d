package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/storefront-core/internal/messenger"
	"github.com/angelmondragon/storefront-core/internal/orders"
	"github.com/angelmondragon/storefront-core/internal/settlement"
	"github.com/angelmondragon/storefront-core/pkg/db/models"
	"github.com/angelmondragon/storefront-core/pkg/enums"
	"github.com/angelmondragon/storefront-core/pkg/logger"
	"github.com/angelmondragon/storefront-core/pkg/outbox"
	"github.com/angelmondragon/storefront-core/pkg/outbox/payloads"
	"go.uber.org/multierr"
	"gorm.io/gorm"
)

const (
	defaultExpirySweepLimit = 30
	defaultRefreshInterval  = 20 * time.Second
)

// InvoiceExpiryJobParams configure the QR invoice sweeper. Settler is
// optional; when set, an invoice gets one last gateway check before it is
// expired.
type InvoiceExpiryJobParams struct {
	Logger          *logger.Logger
	DB              txRunner
	Orders          orders.Store
	Outbox          outboxEmitter
	Messenger       messenger.Messenger
	Settler         invoiceSettler
	Limit           int
	RefreshInterval time.Duration
}

type invoiceSettler interface {
	Settle(ctx context.Context, id string) (settlement.Result, error)
}

// invoice is the part of an order or deposit the sweeper works with.
type invoice struct {
	kind          settlement.Kind
	orderID       string
	tenantID      int64
	userID        int64
	amount        int64
	chatID        *int64
	messageID     *int64
	expiresAt     time.Time
	lastRefreshAt *time.Time
}

func (i invoice) hasMessage() bool {
	return i.chatID != nil && i.messageID != nil
}

func (i invoice) notifyChat() int64 {
	if i.chatID != nil {
		return *i.chatID
	}
	return i.userID
}

// NewInvoiceExpiryJob builds the job that expires unpaid QR invoices and
// keeps the countdown on live prompts current.
func NewInvoiceExpiryJob(params InvoiceExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("order store required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	next := params.Messenger
	if next == nil {
		next = messenger.Discard{}
	}
	chat, err := messenger.NewBestEffort(next, params.Logger)
	if err != nil {
		return nil, err
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultExpirySweepLimit
	}
	refresh := params.RefreshInterval
	if refresh <= 0 {
		refresh = defaultRefreshInterval
	}
	return &invoiceExpiryJob{
		logg:    params.Logger,
		db:      params.DB,
		orders:  params.Orders,
		outbox:  params.Outbox,
		chat:    chat,
		settler: params.Settler,
		limit:   limit,
		refresh: refresh,
		now:     time.Now,
	}, nil
}

type invoiceExpiryJob struct {
	logg    *logger.Logger
	db      txRunner
	orders  orders.Store
	outbox  outboxEmitter
	chat    messenger.Messenger
	settler invoiceSettler
	limit   int
	refresh time.Duration
	now     func() time.Time
}

func (j *invoiceExpiryJob) Name() string { return "invoice-expiry" }

func (j *invoiceExpiryJob) Run(ctx context.Context) error {
	var errs []error
	if err := j.sweepOrders(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := j.sweepDeposits(ctx); err != nil {
		errs = append(errs, err)
	}
	return multierr.Combine(errs...)
}

func (j *invoiceExpiryJob) sweepOrders(ctx context.Context) error {
	rows, err := j.orders.ListPendingWithExpiry(ctx, j.limit)
	if err != nil {
		return fmt.Errorf("query pending orders for expiry: %w", err)
	}
	invoices := make([]invoice, 0, len(rows))
	for _, row := range rows {
		if row.ExpiresAt == nil {
			continue
		}
		invoices = append(invoices, orderInvoice(row))
	}
	return j.sweep(ctx, settlement.KindOrder, invoices)
}

func (j *invoiceExpiryJob) sweepDeposits(ctx context.Context) error {
	rows, err := j.orders.ListPendingDepositsWithExpiry(ctx, j.limit)
	if err != nil {
		return fmt.Errorf("query pending deposits for expiry: %w", err)
	}
	invoices := make([]invoice, 0, len(rows))
	for _, row := range rows {
		if row.ExpiresAt == nil {
			continue
		}
		invoices = append(invoices, depositInvoice(row))
	}
	return j.sweep(ctx, settlement.KindDeposit, invoices)
}

func (j *invoiceExpiryJob) sweep(ctx context.Context, kind settlement.Kind, invoices []invoice) error {
	var (
		errs      error
		expired   int
		refreshed int
	)
	for _, inv := range invoices {
		itemCtx := j.logg.WithOrderID(ctx, inv.orderID)
		now := j.now().UTC()
		if !now.Before(inv.expiresAt) {
			done, err := j.expire(itemCtx, inv, now)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("expire %s %s: %w", kind, inv.orderID, err))
				continue
			}
			if done {
				expired++
			}
			continue
		}
		if !inv.hasMessage() || !j.refreshDue(inv, now) {
			continue
		}
		if err := j.refreshCountdown(itemCtx, inv, now); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("refresh %s %s: %w", kind, inv.orderID, err))
			continue
		}
		refreshed++
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"kind":      kind,
		"count":     len(invoices),
		"expired":   expired,
		"refreshed": refreshed,
	})
	j.logg.Info(logCtx, "invoice expiry sweep complete")
	return errs
}

func (j *invoiceExpiryJob) refreshDue(inv invoice, now time.Time) bool {
	return inv.lastRefreshAt == nil || now.Sub(*inv.lastRefreshAt) >= j.refresh
}

// expire flips a pending invoice to EXPIRED. The conditional write never
// touches an invoice that was paid in the meantime.
func (j *invoiceExpiryJob) expire(ctx context.Context, inv invoice, now time.Time) (bool, error) {
	if j.settler != nil {
		res, err := j.settler.Settle(ctx, inv.orderID)
		switch {
		case err != nil:
			j.logg.Warn(j.logg.WithField(ctx, "error", err.Error()), "final settlement check failed; expiring")
		case res.Busy:
			return false, nil
		case res.Paid:
			return false, nil
		}
	}

	var changed bool
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		store := j.orders.WithTx(tx)
		var err error
		if inv.kind == settlement.KindDeposit {
			changed, err = store.SetDepositExpired(ctx, inv.orderID)
		} else {
			changed, err = store.SetExpired(ctx, inv.orderID)
		}
		if err != nil || !changed {
			return err
		}
		return j.outbox.EmitIfNotExists(ctx, tx, expiredEvent(inv, now))
	})
	if err != nil || !changed {
		return false, err
	}

	if inv.hasMessage() {
		_ = j.chat.Delete(ctx, *inv.chatID, *inv.messageID)
	}
	_, _ = j.chat.SendText(ctx, inv.notifyChat(), fmt.Sprintf("⌛ Payment Expired\nInvoice: %s\nSilakan buat invoice baru.", inv.orderID))
	j.logg.Info(j.logg.WithField(ctx, "event", "invoice_expired"), "invoice expired")
	return true, nil
}

func (j *invoiceExpiryJob) refreshCountdown(ctx context.Context, inv invoice, now time.Time) error {
	_ = j.chat.EditText(ctx, *inv.chatID, *inv.messageID, settlement.InvoiceCaption(inv.orderID, inv.amount, inv.expiresAt.Sub(now)))
	if inv.kind == settlement.KindDeposit {
		return j.orders.TouchDepositRefresh(ctx, inv.orderID)
	}
	return j.orders.TouchRefresh(ctx, inv.orderID)
}

func expiredEvent(inv invoice, now time.Time) outbox.DomainEvent {
	if inv.kind == settlement.KindDeposit {
		return outbox.DomainEvent{
			EventType:     enums.EventDepositExpired,
			AggregateType: enums.AggregateDeposit,
			AggregateID:   inv.orderID,
			OccurredAt:    now,
			Data: payloads.DepositExpiredEvent{
				DepositID: inv.orderID,
				TenantID:  inv.tenantID,
				UserID:    inv.userID,
				Amount:    inv.amount,
				ExpiredAt: now,
			},
		}
	}
	return outbox.DomainEvent{
		EventType:     enums.EventOrderExpired,
		AggregateType: enums.AggregateOrder,
		AggregateID:   inv.orderID,
		OccurredAt:    now,
		Data: payloads.OrderExpiredEvent{
			OrderID:   inv.orderID,
			TenantID:  inv.tenantID,
			UserID:    inv.userID,
			Total:     inv.amount,
			ExpiredAt: now,
		},
	}
}

func orderInvoice(o models.Order) invoice {
	return invoice{
		kind:          settlement.KindOrder,
		orderID:       o.OrderID,
		tenantID:      o.TenantID,
		userID:        o.UserID,
		amount:        o.Total,
		chatID:        o.PayMsgChatID,
		messageID:     o.PayMsgID,
		expiresAt:     o.ExpiresAt.UTC(),
		lastRefreshAt: o.LastRefreshAt,
	}
}

func depositInvoice(d models.Deposit) invoice {
	return invoice{
		kind:          settlement.KindDeposit,
		orderID:       d.OrderID,
		tenantID:      d.TenantID,
		userID:        d.UserID,
		amount:        d.Amount,
		chatID:        d.PayMsgChatID,
		messageID:     d.PayMsgID,
		expiresAt:     d.ExpiresAt.UTC(),
		lastRefreshAt: d.LastRefreshAt,
	}
}
