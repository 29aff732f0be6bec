package service

import (
	"errors"
)

// Business rule violations. They are expected outcomes and are returned to the
// caller wrapped with detail via fmt.Errorf("%w: ...").
var (
	ErrInsufficientBalance    = errors.New("insufficient balance")
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrNoFreeCoffeeAvailable  = errors.New("no free coffee available")
	ErrInvalidFreeCoffeeUsage = errors.New("free coffee requires exactly one coffee item")
	ErrEmptyOrder             = errors.New("order has no items")
	ErrProductUnavailable     = errors.New("product unavailable")
	ErrTokenNotFound          = errors.New("qr token not found")
	ErrTokenExpired           = errors.New("qr token expired")
	ErrInvalidTransition      = errors.New("invalid order status transition")
	ErrOrderNotFound          = errors.New("order not found")
	ErrForbidden              = errors.New("operation not permitted for this user")
	ErrInvalidRequest         = errors.New("invalid request")
)

// Conflicts. The caller may re-read state and retry.
var (
	ErrTokenAlreadyRedeemed   = errors.New("qr token already redeemed")
	ErrConcurrentModification = errors.New("concurrent modification")
)

// ErrReconciliationRequired means a QR token may have been consumed without the
// matching balance credit. It is logged for operators and never shown verbatim.
var ErrReconciliationRequired = errors.New("reconciliation required")

func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification) || errors.Is(err, ErrTokenAlreadyRedeemed)
}

// isDomainError reports whether err is one of the expected outcomes above, as
// opposed to an infrastructure failure.
func isDomainError(err error) bool {
	for _, target := range []error{
		ErrInsufficientBalance, ErrInvalidAmount, ErrNoFreeCoffeeAvailable,
		ErrInvalidFreeCoffeeUsage, ErrEmptyOrder, ErrProductUnavailable,
		ErrTokenNotFound, ErrTokenExpired, ErrInvalidTransition, ErrOrderNotFound,
		ErrForbidden, ErrInvalidRequest, ErrTokenAlreadyRedeemed, ErrConcurrentModification,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
