package enums

import "fmt"

// OutboxAggregateType names the row family an outbox event refers to.
type OutboxAggregateType string

const (
	AggregateOrder   OutboxAggregateType = "order"
	AggregateDeposit OutboxAggregateType = "deposit"
	AggregateRent    OutboxAggregateType = "rent"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateOrder,
	AggregateDeposit,
	AggregateRent,
}

// IsValid reports whether the value matches a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType is the operational event published to the ops channel.
type OutboxEventType string

const (
	EventOrderPaid          OutboxEventType = "order.paid"
	EventOrderDelivered     OutboxEventType = "order.delivered"
	EventOrderUndeliverable OutboxEventType = "order.undeliverable"
	EventOrderExpired       OutboxEventType = "order.expired"
	EventDepositPaid        OutboxEventType = "deposit.paid"
	EventDepositExpired     OutboxEventType = "deposit.expired"
	EventRentActivated      OutboxEventType = "rent.activated"
)

var validOutboxEventTypes = []OutboxEventType{
	EventOrderPaid,
	EventOrderDelivered,
	EventOrderUndeliverable,
	EventOrderExpired,
	EventDepositPaid,
	EventDepositExpired,
	EventRentActivated,
}

// IsValid reports whether the value matches a known event type.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
