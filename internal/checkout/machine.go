package checkout

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/storefront-core/internal/balance"
	"github.com/angelmondragon/storefront-core/internal/fulfillment"
	"github.com/angelmondragon/storefront-core/internal/orders"
	"github.com/angelmondragon/storefront-core/internal/settlement"
	"github.com/angelmondragon/storefront-core/pkg/config"
	"github.com/angelmondragon/storefront-core/pkg/db/models"
	pkgerrors "github.com/angelmondragon/storefront-core/pkg/errors"
	"github.com/angelmondragon/storefront-core/pkg/logger"
	"github.com/angelmondragon/storefront-core/pkg/outbox"
	"github.com/angelmondragon/storefront-core/pkg/pakasir"
	"gorm.io/gorm"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type catalog interface {
	GetVariant(ctx context.Context, tenantID, variantID int64) (*models.Variant, error)
	CountAvailable(ctx context.Context, tenantID, variantID int64) (int64, error)
}

type wallet interface {
	GetBalance(ctx context.Context, tenantID, userID int64) (int64, error)
	DeductBalanceTx(ctx context.Context, tx *gorm.DB, m balance.Mutation) (bool, error)
}

type chargeGateway interface {
	CreateQRIS(ctx context.Context, creds pakasir.Credentials, orderID string, amount int64) (*pakasir.Charge, error)
	PayURL(creds pakasir.Credentials, amount int64, orderID string) string
}

type gatewayAccounts interface {
	GatewayCredentials(ctx context.Context, tenantID int64) (pakasir.Credentials, bool, error)
	NeedsGatewaySetup(ctx context.Context, tenantID int64) (bool, error)
}

type fulfiller interface {
	Fulfill(ctx context.Context, orderID string) (fulfillment.Outcome, error)
}

type paymentChecker interface {
	SettleOrder(ctx context.Context, orderID string) (settlement.Result, error)
	SettleDeposit(ctx context.Context, depositID string) (settlement.Result, error)
}

type eventEmitter interface {
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Reply is what the chat layer shows the buyer after an event.
type Reply struct {
	Text string
	// Invoice is set when a QR charge was opened. The caller renders it and
	// reports the sent message back through AttachPaymentMessage.
	Invoice *Invoice
	Outcome fulfillment.Outcome
	// Rejected is true when a business rule refused the event. The session
	// stays where it was unless the rule reset it.
	Rejected bool
}

// Invoice is an open QRIS charge.
type Invoice struct {
	Kind         settlement.Kind
	OrderID      string
	Amount       int64
	TotalPayment int64
	QRString     string
	PayURL       string
	ExpiresAt    time.Time
}

// Params wires the machine's collaborators. Sessions is only needed by
// Handle; Dispatch works on a caller-held session.
type Params struct {
	Orders      orders.Store
	Inventory   catalog
	Balance     wallet
	Gateway     chargeGateway
	Accounts    gatewayAccounts
	Fulfillment fulfiller
	Payments    paymentChecker
	Outbox      eventEmitter
	Tx          txRunner
	Sessions    SessionStore
	Checkout    config.CheckoutConfig
	Rent        config.RentConfig
	Logger      *logger.Logger
	Now         func() time.Time
}

// Machine is the checkout state machine.
type Machine struct {
	orders      orders.Store
	inventory   catalog
	balance     wallet
	gateway     chargeGateway
	accounts    gatewayAccounts
	fulfillment fulfiller
	payments    paymentChecker
	outbox      eventEmitter
	tx          txRunner
	sessions    SessionStore
	cfg         config.CheckoutConfig
	rent        config.RentConfig
	logg        *logger.Logger
	now         func() time.Time
	ids         *idSource
}

// NewMachine validates dependencies and fills config defaults.
func NewMachine(p Params) (*Machine, error) {
	if p.Orders == nil {
		return nil, fmt.Errorf("order store required")
	}
	if p.Inventory == nil {
		return nil, fmt.Errorf("inventory required")
	}
	if p.Balance == nil {
		return nil, fmt.Errorf("balance ledger required")
	}
	if p.Gateway == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	if p.Accounts == nil {
		return nil, fmt.Errorf("gateway account resolver required")
	}
	if p.Fulfillment == nil {
		return nil, fmt.Errorf("fulfillment engine required")
	}
	if p.Payments == nil {
		return nil, fmt.Errorf("settler required")
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
	cfg := p.Checkout
	if cfg.InvoiceTTL <= 0 {
		cfg.InvoiceTTL = 10 * time.Minute
	}
	if cfg.MaxQty <= 0 {
		cfg.MaxQty = 50
	}
	if cfg.MinDeposit <= 0 {
		cfg.MinDeposit = 10000
	}
	now := p.Now
	if now == nil {
		now = time.Now
	}
	return &Machine{
		orders:      p.Orders,
		inventory:   p.Inventory,
		balance:     p.Balance,
		gateway:     p.Gateway,
		accounts:    p.Accounts,
		fulfillment: p.Fulfillment,
		payments:    p.Payments,
		outbox:      p.Outbox,
		tx:          p.Tx,
		sessions:    p.Sessions,
		cfg:         cfg,
		rent:        p.Rent,
		logg:        p.Logger,
		now:         now,
		ids:         &idSource{now: now},
	}, nil
}

// Dispatch applies one buyer event to the session. Business-rule refusals
// come back as a Rejected reply; only infrastructure failures are errors.
// The session is mutated in place and must be saved by the caller.
func (m *Machine) Dispatch(ctx context.Context, sess *Session, in Input) (Reply, error) {
	if sess == nil {
		return Reply{}, pkgerrors.New(pkgerrors.CodeValidation, "session required")
	}
	if !sess.State.IsValid() {
		sess.reset()
	}
	ctx = m.logg.WithFields(ctx, map[string]any{
		"tenant_id":      sess.TenantID,
		"user_id":        sess.UserID,
		"checkout_state": sess.State,
		"checkout_event": in.Event,
	})

	var (
		reply Reply
		err   error
	)
	if in.Event == EventCancel {
		reply, err = m.cancel(ctx, sess)
	} else {
		handler, ok := transitions[sess.State][in.Event]
		if !ok {
			return Reply{}, pkgerrors.New(pkgerrors.CodeStateConflict, "event not allowed in current state").
				WithDetails(map[string]any{"state": sess.State, "event": in.Event})
		}
		reply, err = handler(m, ctx, sess, in)
	}
	if err != nil {
		text, ok := rejectionText(err)
		if !ok {
			return Reply{}, err
		}
		reply = Reply{Text: text, Rejected: true}
	}
	sess.UpdatedAt = m.now().UTC()
	return reply, nil
}

// Handle loads the buyer's session, dispatches the event and saves the
// session back.
func (m *Machine) Handle(ctx context.Context, tenantID, userID int64, in Input) (Reply, error) {
	if m.sessions == nil {
		return Reply{}, pkgerrors.New(pkgerrors.CodeDependency, "session store not configured")
	}
	sess, err := m.sessions.Load(ctx, tenantID, userID)
	if err != nil {
		return Reply{}, err
	}
	reply, err := m.Dispatch(ctx, sess, in)
	if err != nil {
		return Reply{}, err
	}
	if err := m.sessions.Save(ctx, sess); err != nil {
		return reply, err
	}
	return reply, nil
}

// AttachPaymentMessage records the chat message showing the invoice's QR so
// the expiry sweeper can refresh and later remove it.
func (m *Machine) AttachPaymentMessage(ctx context.Context, inv Invoice, chatID, messageID int64) error {
	if inv.OrderID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "invoice order id required")
	}
	msg := orders.PaymentMessage{ChatID: chatID, MessageID: messageID, ExpiresAt: inv.ExpiresAt}
	if inv.PayURL != "" {
		payURL := inv.PayURL
		msg.PayURL = &payURL
	}
	if inv.Kind == settlement.KindDeposit {
		return m.orders.SetDepositPaymentMessage(ctx, inv.OrderID, msg)
	}
	return m.orders.SetPaymentMessage(ctx, inv.OrderID, msg)
}

// rejectionText turns a business-rule error into the buyer-facing text.
func rejectionText(err error) (string, bool) {
	typed := pkgerrors.As(err)
	if typed == nil {
		return "", false
	}
	switch typed.Code() {
	case pkgerrors.CodeValidation,
		pkgerrors.CodeNotFound,
		pkgerrors.CodeStateConflict,
		pkgerrors.CodeInsufficientStock,
		pkgerrors.CodeInsufficientFunds:
		return "❌ " + typed.Message(), true
	case pkgerrors.CodeDependency:
		return "⚠️ " + typed.Message(), true
	}
	return "", false
}
