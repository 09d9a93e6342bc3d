package enums

import "fmt"

// RentStatus tracks a storefront rental purchase.
type RentStatus string

const (
	RentStatusPending RentStatus = "PENDING"
	RentStatusActive  RentStatus = "ACTIVE"
)

var validRentStatuses = []RentStatus{
	RentStatusPending,
	RentStatusActive,
}

// IsValid reports whether the value matches a known rent status.
func (s RentStatus) IsValid() bool {
	for _, candidate := range validRentStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseRentStatus converts raw input into RentStatus.
func ParseRentStatus(value string) (RentStatus, error) {
	for _, candidate := range validRentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid rent status %q", value)
}
