package enums

import "fmt"

// OrderStatus tracks the payment lifecycle of an order row.
type OrderStatus string

const (
	OrderStatusPending OrderStatus = "PENDING"
	OrderStatusPaid    OrderStatus = "PAID"
	OrderStatusExpired OrderStatus = "EXPIRED"
)

var validOrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusPaid,
	OrderStatusExpired,
}

// IsValid reports whether the value matches a known order status.
func (s OrderStatus) IsValid() bool {
	for _, candidate := range validOrderStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseOrderStatus converts raw input into OrderStatus.
func ParseOrderStatus(value string) (OrderStatus, error) {
	for _, candidate := range validOrderStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order status %q", value)
}

// OrderKind distinguishes product purchases from storefront rentals.
type OrderKind string

const (
	OrderKindProduct OrderKind = "PRODUCT"
	OrderKindRent    OrderKind = "RENT"
)

var validOrderKinds = []OrderKind{
	OrderKindProduct,
	OrderKindRent,
}

// IsValid reports whether the value matches a known order kind.
func (k OrderKind) IsValid() bool {
	for _, candidate := range validOrderKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// ParseOrderKind converts raw input into OrderKind.
func ParseOrderKind(value string) (OrderKind, error) {
	for _, candidate := range validOrderKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order kind %q", value)
}

// PayMethod records how a paid order was settled.
type PayMethod string

const (
	PayMethodBalance PayMethod = "BALANCE"
	PayMethodQRIS    PayMethod = "QRIS"
)

var validPayMethods = []PayMethod{
	PayMethodBalance,
	PayMethodQRIS,
}

// IsValid reports whether the value matches a known pay method.
func (m PayMethod) IsValid() bool {
	for _, candidate := range validPayMethods {
		if candidate == m {
			return true
		}
	}
	return false
}

// ParsePayMethod converts raw input into PayMethod.
func ParsePayMethod(value string) (PayMethod, error) {
	for _, candidate := range validPayMethods {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid pay method %q", value)
}
