package enums

import "fmt"

// DepositStatus tracks a balance top-up invoice.
type DepositStatus string

const (
	DepositStatusPending DepositStatus = "PENDING"
	DepositStatusPaid    DepositStatus = "PAID"
	DepositStatusExpired DepositStatus = "EXPIRED"
)

var validDepositStatuses = []DepositStatus{
	DepositStatusPending,
	DepositStatusPaid,
	DepositStatusExpired,
}

// IsValid reports whether the value matches a known deposit status.
func (s DepositStatus) IsValid() bool {
	for _, candidate := range validDepositStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseDepositStatus converts raw input into DepositStatus.
func ParseDepositStatus(value string) (DepositStatus, error) {
	for _, candidate := range validDepositStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid deposit status %q", value)
}
