package loyalty

import (
	"context"
	"errors"
)

// CircuitBreakerStorage wraps a Storage implementation with circuit breaker protection.
// Expected outcomes such as ErrCustomerNotFound or ErrDuplicateEntry are passed
// through without counting as failures.
type CircuitBreakerStorage struct {
	storage Storage
	cb      CircuitBreaker
}

// NewCircuitBreakerStorage creates a new storage wrapper with circuit breaker.
func NewCircuitBreakerStorage(storage Storage, cb CircuitBreaker) *CircuitBreakerStorage {
	return &CircuitBreakerStorage{
		storage: storage,
		cb:      cb,
	}
}

// expected reports domain errors that say nothing about storage health
func expected(err error) bool {
	return errors.Is(err, ErrCustomerNotFound) ||
		errors.Is(err, ErrTiersNotConfigured) ||
		errors.Is(err, ErrDuplicateEntry) ||
		errors.Is(err, ErrStateConflict) ||
		errors.Is(err, ErrCustomerExists)
}

// run executes fn through the breaker, hiding expected errors from it
func (s *CircuitBreakerStorage) run(ctx context.Context, fn func() error) error {
	var domainErr error
	err := s.cb.Execute(ctx, func() error {
		e := fn()
		if expected(e) {
			domainErr = e
			return nil
		}
		return e
	})
	if err != nil {
		return err
	}
	return domainErr
}

func (s *CircuitBreakerStorage) GetTiers(ctx context.Context) ([]TierDefinition, error) {
	var tiers []TierDefinition
	err := s.run(ctx, func() error {
		var e error
		tiers, e = s.storage.GetTiers(ctx)
		return e
	})
	return tiers, err
}

func (s *CircuitBreakerStorage) SetTiers(ctx context.Context, tiers []TierDefinition) error {
	return s.run(ctx, func() error {
		return s.storage.SetTiers(ctx, tiers)
	})
}

func (s *CircuitBreakerStorage) GetCustomer(ctx context.Context, customerID string) (*CustomerState, error) {
	var state *CustomerState
	err := s.run(ctx, func() error {
		var e error
		state, e = s.storage.GetCustomer(ctx, customerID)
		return e
	})
	return state, err
}

func (s *CircuitBreakerStorage) SetCustomer(ctx context.Context, state *CustomerState) error {
	return s.run(ctx, func() error {
		return s.storage.SetCustomer(ctx, state)
	})
}

func (s *CircuitBreakerStorage) ReplaceCustomer(ctx context.Context, expected, replacement *CustomerState) error {
	return s.run(ctx, func() error {
		return s.storage.ReplaceCustomer(ctx, expected, replacement)
	})
}

func (s *CircuitBreakerStorage) ApplyEntry(ctx context.Context, entry *LedgerEntry) (*CustomerState, error) {
	var state *CustomerState
	err := s.run(ctx, func() error {
		var e error
		state, e = s.storage.ApplyEntry(ctx, entry)
		return e
	})
	return state, err
}

func (s *CircuitBreakerStorage) GetEntry(ctx context.Context, customerID, entryID string) (*LedgerEntry, error) {
	var entry *LedgerEntry
	err := s.run(ctx, func() error {
		var e error
		entry, e = s.storage.GetEntry(ctx, customerID, entryID)
		return e
	})
	return entry, err
}

func (s *CircuitBreakerStorage) ListEntries(ctx context.Context, customerID string,
	filter LedgerFilter) ([]*LedgerEntry, error) {
	var entries []*LedgerEntry
	err := s.run(ctx, func() error {
		var e error
		entries, e = s.storage.ListEntries(ctx, customerID, filter)
		return e
	})
	return entries, err
}
