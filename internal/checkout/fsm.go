// Package checkout drives the buyer conversation from variant selection to
// a paid invoice. Every buyer action goes through Machine.Dispatch, which
// only runs handlers the transition table allows for the current state.
package checkout

import (
	"context"
	"time"
)

// State is a buyer's position in the checkout conversation.
type State string

const (
	StateIdle                   State = "idle"
	StateAwaitingQuantity       State = "awaiting_quantity"
	StateAwaitingPaymentMethod  State = "awaiting_payment_method"
	StateAwaitingPayment        State = "awaiting_payment"
	StateAwaitingDepositPayment State = "awaiting_deposit_payment"
)

var validStates = []State{
	StateIdle,
	StateAwaitingQuantity,
	StateAwaitingPaymentMethod,
	StateAwaitingPayment,
	StateAwaitingDepositPayment,
}

// IsValid reports whether the state is known.
func (s State) IsValid() bool {
	for _, candidate := range validStates {
		if s == candidate {
			return true
		}
	}
	return false
}

// Event is a buyer action.
type Event string

const (
	EventSelectVariant Event = "select_variant"
	EventEnterQuantity Event = "enter_quantity"
	EventPayBalance    Event = "pay_balance"
	EventPayQRIS       Event = "pay_qris"
	EventCheckPayment  Event = "check_payment"
	EventStartDeposit  Event = "start_deposit"
	EventStartRent     Event = "start_rent"
	EventCancel        Event = "cancel"
)

// Session is persisted between buyer messages.
type Session struct {
	TenantID  int64     `json:"tenantId"`
	UserID    int64     `json:"userId"`
	State     State     `json:"state"`
	VariantID int64     `json:"variantId,omitempty"`
	OrderID   string    `json:"orderId,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewSession returns an idle session for the buyer in the given storefront.
func NewSession(tenantID, userID int64) *Session {
	return &Session{TenantID: tenantID, UserID: userID, State: StateIdle}
}

func (s *Session) reset() {
	s.State = StateIdle
	s.VariantID = 0
	s.OrderID = ""
}

// Input carries the event and whatever the buyer typed or tapped with it.
type Input struct {
	Event     Event
	VariantID int64
	Qty       int
	Amount    int64
	Months    int
}

type handlerFunc func(m *Machine, ctx context.Context, sess *Session, in Input) (Reply, error)

// transitions lists the events each state accepts. cancel is accepted
// everywhere and handled by Dispatch directly.
var transitions = map[State]map[Event]handlerFunc{
	StateIdle: {
		EventSelectVariant: (*Machine).selectVariant,
		EventStartDeposit:  (*Machine).startDeposit,
		EventStartRent:     (*Machine).startRent,
	},
	StateAwaitingQuantity: {
		EventSelectVariant: (*Machine).selectVariant,
		EventEnterQuantity: (*Machine).enterQuantity,
	},
	StateAwaitingPaymentMethod: {
		EventPayBalance: (*Machine).payBalance,
		EventPayQRIS:    (*Machine).payQRIS,
	},
	StateAwaitingPayment: {
		EventCheckPayment: (*Machine).checkPayment,
	},
	StateAwaitingDepositPayment: {
		EventCheckPayment: (*Machine).checkPayment,
	},
}

// Allowed reports whether the event may be dispatched from the state.
func Allowed(state State, event Event) bool {
	if event == EventCancel {
		return true
	}
	_, ok := transitions[state][event]
	return ok
}
