// Package settlement verifies gateway payments and applies them exactly once.
// Pollers, the webhook hint and interactive "check payment" all go through
// the same Settler so a given invoice is processed by one caller at a time.
package settlement

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/storefront-core/internal/balance"
	"github.com/angelmondragon/storefront-core/internal/fulfillment"
	"github.com/angelmondragon/storefront-core/internal/messenger"
	"github.com/angelmondragon/storefront-core/internal/orders"
	"github.com/angelmondragon/storefront-core/pkg/db/models"
	"github.com/angelmondragon/storefront-core/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-core/pkg/errors"
	"github.com/angelmondragon/storefront-core/pkg/logger"
	"github.com/angelmondragon/storefront-core/pkg/metrics"
	"github.com/angelmondragon/storefront-core/pkg/money"
	"github.com/angelmondragon/storefront-core/pkg/outbox"
	"github.com/angelmondragon/storefront-core/pkg/outbox/payloads"
	"github.com/angelmondragon/storefront-core/pkg/pakasir"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

// DepositPrefix marks deposit invoice ids.
const DepositPrefix = "DEP-"

const defaultLockTTL = 2 * time.Minute

// Kind names the invoice family being settled.
type Kind string

const (
	KindOrder   Kind = "order"
	KindDeposit Kind = "deposit"
)

// KindOf infers the invoice family from its id.
func KindOf(id string) Kind {
	if strings.HasPrefix(id, DepositPrefix) {
		return KindDeposit
	}
	return KindOrder
}

// Result reports what one settlement attempt observed and changed.
type Result struct {
	Kind    Kind
	OrderID string
	// Status is the normalized gateway status, or the stored one when the
	// gateway was not consulted.
	Status pakasir.Status
	Reason string
	// Paid is true when the invoice is paid after this call.
	Paid bool
	// Transitioned is true only for the call that moved the invoice to paid.
	Transitioned bool
	// Busy is true when another process holds the settlement lock.
	Busy       bool
	Outcome    fulfillment.Outcome
	NewBalance int64
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type gateway interface {
	TransactionDetail(ctx context.Context, creds pakasir.Credentials, orderID string, amount int64) pakasir.Settlement
}

type credentialResolver interface {
	GatewayCredentials(ctx context.Context, tenantID int64) (pakasir.Credentials, bool, error)
}

type fulfiller interface {
	Fulfill(ctx context.Context, orderID string) (fulfillment.Outcome, error)
}

type balanceCrediter interface {
	AddBalanceTx(ctx context.Context, tx *gorm.DB, m balance.Mutation) (int64, error)
}

type eventEmitter interface {
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Locker is the cross-process settlement lock, normally redis.
type Locker interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	CompareAndDelete(ctx context.Context, key, value string) (bool, error)
	SettleLockKey(id string) string
}

// Params wires the settler's collaborators. Locker is optional.
type Params struct {
	Orders      orders.Store
	Balance     balanceCrediter
	Gateway     gateway
	Credentials credentialResolver
	Fulfillment fulfiller
	Outbox      eventEmitter
	Tx          txRunner
	Messenger   messenger.Messenger
	Locker      Locker
	LockTTL     time.Duration
	Metrics     *metrics.ReconciliationMetrics
	Logger      *logger.Logger
	Now         func() time.Time
}

// Settler applies gateway settlements.
type Settler struct {
	orders      orders.Store
	balance     balanceCrediter
	gateway     gateway
	credentials credentialResolver
	fulfillment fulfiller
	outbox      eventEmitter
	tx          txRunner
	chat        messenger.Messenger
	locker      Locker
	lockTTL     time.Duration
	metrics     *metrics.ReconciliationMetrics
	logg        *logger.Logger
	now         func() time.Time

	flight singleflight.Group
}

// NewSettler validates dependencies.
func NewSettler(p Params) (*Settler, error) {
	if p.Orders == nil {
		return nil, fmt.Errorf("order store required")
	}
	if p.Balance == nil {
		return nil, fmt.Errorf("balance ledger required")
	}
	if p.Gateway == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	if p.Credentials == nil {
		return nil, fmt.Errorf("credential resolver required")
	}
	if p.Fulfillment == nil {
		return nil, fmt.Errorf("fulfillment engine required")
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
	ttl := p.LockTTL
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	now := p.Now
	if now == nil {
		now = time.Now
	}
	return &Settler{
		orders:      p.Orders,
		balance:     p.Balance,
		gateway:     p.Gateway,
		credentials: p.Credentials,
		fulfillment: p.Fulfillment,
		outbox:      p.Outbox,
		tx:          p.Tx,
		chat:        chat,
		locker:      p.Locker,
		lockTTL:     ttl,
		metrics:     p.Metrics,
		logg:        p.Logger,
		now:         now,
	}, nil
}

// Settle routes an invoice id to the order or deposit path.
func (s *Settler) Settle(ctx context.Context, id string) (Result, error) {
	if KindOf(id) == KindDeposit {
		return s.SettleDeposit(ctx, id)
	}
	return s.SettleOrder(ctx, id)
}

// SettleOrder checks an order against the gateway, marks it paid on the
// first completed observation and hands it to fulfillment. A paid order is
// re-handed to fulfillment without consulting the gateway; fulfillment is
// idempotent.
func (s *Settler) SettleOrder(ctx context.Context, orderID string) (Result, error) {
	return s.once(ctx, KindOrder, orderID, s.settleOrder)
}

// SettleDeposit checks a deposit against the gateway and credits the
// balance in the same transaction that marks the deposit paid.
func (s *Settler) SettleDeposit(ctx context.Context, depositID string) (Result, error) {
	return s.once(ctx, KindDeposit, depositID, s.settleDeposit)
}

func (s *Settler) once(ctx context.Context, kind Kind, id string, fn func(context.Context, string) (Result, error)) (Result, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Result{}, pkgerrors.New(pkgerrors.CodeValidation, "invoice id is required")
	}
	v, err, _ := s.flight.Do(string(kind)+":"+id, func() (any, error) {
		release, acquired := s.acquire(ctx, id)
		if !acquired {
			return Result{Kind: kind, OrderID: id, Busy: true}, nil
		}
		defer release()
		return fn(ctx, id)
	})
	res, _ := v.(Result)
	return res, err
}

func (s *Settler) acquire(ctx context.Context, id string) (func(), bool) {
	if s.locker == nil {
		return func() {}, true
	}
	key := s.locker.SettleLockKey(id)
	token := uuid.NewString()
	ok, err := s.locker.SetNX(ctx, key, token, s.lockTTL)
	if err != nil {
		// Conditional writes still guard the transition when redis is unavailable.
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{"lock_key": key, "error": err.Error()}), "settlement lock unavailable")
		return func() {}, true
	}
	if !ok {
		return nil, false
	}
	return func() {
		if _, err := s.locker.CompareAndDelete(context.WithoutCancel(ctx), key, token); err != nil {
			s.logg.Warn(s.logg.WithFields(ctx, map[string]any{"lock_key": key, "error": err.Error()}), "settlement lock release failed")
		}
	}, true
}

func (s *Settler) settleOrder(ctx context.Context, orderID string) (Result, error) {
	ctx = s.logg.WithOrderID(ctx, orderID)
	res := Result{Kind: KindOrder, OrderID: orderID}

	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return res, err
	}
	if order.Status == enums.OrderStatusPaid {
		res.Status = pakasir.StatusCompleted
		res.Paid = true
		res.Outcome, err = s.fulfillment.Fulfill(ctx, orderID)
		return res, err
	}

	settlement, err := s.check(ctx, KindOrder, order.TenantID, orderID, order.Total)
	if err != nil {
		return res, err
	}
	res.Status, res.Reason = settlement.Status, settlement.Reason
	if !settlement.Completed() {
		return res, nil
	}

	now := s.now().UTC()
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		changed, err := s.orders.WithTx(tx).SetPaid(ctx, orderID, enums.PayMethodQRIS)
		if err != nil {
			return err
		}
		res.Transitioned = changed
		if !changed {
			return nil
		}
		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderPaid,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
			Actor:         &outbox.ActorRef{TenantID: order.TenantID, UserID: order.UserID, Role: "buyer"},
			Data: payloads.OrderPaidEvent{
				OrderID:   orderID,
				TenantID:  order.TenantID,
				UserID:    order.UserID,
				Kind:      order.Kind,
				Total:     order.Total,
				PayMethod: enums.PayMethodQRIS,
				PaidAt:    now,
			},
			OccurredAt: now,
		})
	})
	if err != nil {
		return res, err
	}
	res.Paid = true
	if res.Transitioned {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{"event": "order_paid", "total": order.Total}), "order paid")
	}

	res.Outcome, err = s.fulfillment.Fulfill(ctx, orderID)
	return res, err
}

func (s *Settler) settleDeposit(ctx context.Context, depositID string) (Result, error) {
	ctx = s.logg.WithOrderID(ctx, depositID)
	res := Result{Kind: KindDeposit, OrderID: depositID}

	deposit, err := s.orders.GetDeposit(ctx, depositID)
	if err != nil {
		return res, err
	}
	switch deposit.Status {
	case enums.DepositStatusPaid:
		res.Status = pakasir.StatusCompleted
		res.Paid = true
		return res, nil
	case enums.DepositStatusExpired:
		res.Status = pakasir.StatusPending
		res.Reason = "deposit expired"
		return res, nil
	}

	settlement, err := s.check(ctx, KindDeposit, deposit.TenantID, depositID, deposit.Amount)
	if err != nil {
		return res, err
	}
	res.Status, res.Reason = settlement.Status, settlement.Reason
	if !settlement.Completed() {
		return res, nil
	}

	now := s.now().UTC()
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		changed, err := s.orders.WithTx(tx).MarkDepositPaid(ctx, depositID)
		if err != nil {
			return err
		}
		res.Transitioned = changed
		if !changed {
			return nil
		}
		newBalance, err := s.balance.AddBalanceTx(ctx, tx, balance.Mutation{
			TenantID:  deposit.TenantID,
			UserID:    deposit.UserID,
			Amount:    deposit.Amount,
			Reason:    enums.BalanceReasonDeposit,
			Reference: depositID,
		})
		if err != nil {
			return err
		}
		res.NewBalance = newBalance
		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventDepositPaid,
			AggregateType: enums.AggregateDeposit,
			AggregateID:   depositID,
			Actor:         &outbox.ActorRef{TenantID: deposit.TenantID, UserID: deposit.UserID, Role: "buyer"},
			Data: payloads.DepositPaidEvent{
				DepositID:  depositID,
				TenantID:   deposit.TenantID,
				UserID:     deposit.UserID,
				Amount:     deposit.Amount,
				NewBalance: newBalance,
				PaidAt:     now,
			},
			OccurredAt: now,
		})
	})
	if err != nil {
		return res, err
	}
	res.Paid = true
	if !res.Transitioned {
		return res, nil
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"event":       "deposit_paid",
		"amount":      deposit.Amount,
		"new_balance": res.NewBalance,
	}), "deposit credited")
	s.notifyDeposit(ctx, deposit)
	return res, nil
}

func (s *Settler) check(ctx context.Context, kind Kind, tenantID int64, orderID string, amount int64) (pakasir.Settlement, error) {
	creds, ok, err := s.credentials.GatewayCredentials(ctx, tenantID)
	if err != nil {
		return pakasir.Settlement{}, err
	}
	if !ok {
		return pakasir.Settlement{}, pkgerrors.New(pkgerrors.CodeDependency, "payment gateway credentials not configured").
			WithDetails(map[string]any{"tenant_id": tenantID})
	}
	settlement := s.gateway.TransactionDetail(ctx, creds, orderID, amount)
	s.metrics.IncSettlementCheck(string(kind), string(settlement.Status))
	if settlement.Status == pakasir.StatusError {
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"kind":   kind,
			"reason": settlement.Reason,
		}), "settlement check failed")
	}
	return settlement, nil
}

func (s *Settler) notifyDeposit(ctx context.Context, deposit *models.Deposit) {
	if deposit.HasPaymentMessage() {
		_ = s.chat.Delete(ctx, *deposit.PayMsgChatID, *deposit.PayMsgID)
	}
	text := fmt.Sprintf("✅ DEPOSIT BERHASIL\n\nNominal: %s\nSaldo sudah bertambah!", money.FormatRupiah(deposit.Amount))
	_, _ = s.chat.SendText(ctx, deposit.UserID, text)
}
