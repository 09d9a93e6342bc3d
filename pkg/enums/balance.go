package enums

import "fmt"

// BalanceEntryKind is the direction of a balance journal entry.
type BalanceEntryKind string

const (
	BalanceEntryCredit BalanceEntryKind = "CREDIT"
	BalanceEntryDebit  BalanceEntryKind = "DEBIT"
)

// BalanceReason explains why a balance moved.
type BalanceReason string

const (
	BalanceReasonDeposit    BalanceReason = "DEPOSIT"
	BalanceReasonPurchase   BalanceReason = "PURCHASE"
	BalanceReasonAdjustment BalanceReason = "ADJUSTMENT"
)

var validBalanceReasons = []BalanceReason{
	BalanceReasonDeposit,
	BalanceReasonPurchase,
	BalanceReasonAdjustment,
}

// IsValid reports whether the value matches a known balance reason.
func (r BalanceReason) IsValid() bool {
	for _, candidate := range validBalanceReasons {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseBalanceReason converts raw input into BalanceReason.
func ParseBalanceReason(value string) (BalanceReason, error) {
	for _, candidate := range validBalanceReasons {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid balance reason %q", value)
}
