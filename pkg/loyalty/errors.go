package loyalty

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration matches every *ConfigurationError
	ErrConfiguration = errors.New("loyalty configuration error")

	// ErrInvalidPurchase matches every *InvalidPurchaseError
	ErrInvalidPurchase = errors.New("invalid purchase")

	// ErrInvalidState is returned for negative cumulative values
	ErrInvalidState = errors.New("invalid customer state")

	// ErrCustomerNotFound is returned when a customer has no stored state
	ErrCustomerNotFound = errors.New("customer not found")

	// ErrCustomerExists is returned when registering a customer twice
	ErrCustomerExists = errors.New("customer already exists")

	// ErrTiersNotConfigured is returned by storage when no tier list was saved
	ErrTiersNotConfigured = errors.New("tiers not configured")

	// ErrDuplicateEntry is returned when a ledger entry ID was already applied
	ErrDuplicateEntry = errors.New("ledger entry already applied")

	// ErrStateConflict is returned when a customer's state changed between
	// the read a write was computed from and the write itself
	ErrStateConflict = errors.New("customer state changed concurrently")

	// ErrStorageUnavailable is returned when storage is unavailable
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// ConfigurationError reports a malformed tier list. Accrual must stop until
// the configuration is fixed.
type ConfigurationError struct {
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("loyalty configuration error: %s: %v", e.Reason, e.Err)
	}
	return "loyalty configuration error: " + e.Reason
}

// Is makes errors.Is(err, ErrConfiguration) true
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// InvalidPurchaseError reports a purchase outside the accepted range.
// Callers should reject such events before they reach the engine.
type InvalidPurchaseError struct {
	Field  string
	Reason string
}

func (e *InvalidPurchaseError) Error() string {
	return fmt.Sprintf("invalid purchase: %s %s", e.Field, e.Reason)
}

// Is makes errors.Is(err, ErrInvalidPurchase) true
func (e *InvalidPurchaseError) Is(target error) bool {
	return target == ErrInvalidPurchase
}

func configErr(format string, args ...interface{}) error {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}
