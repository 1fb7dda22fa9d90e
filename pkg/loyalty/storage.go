package loyalty

import (
	"context"
)

// Storage defines the interface for loyalty persistence
// All methods use concrete types from this package to avoid import cycles
type Storage interface {
	// GetTiers returns the configured tier list sorted by level.
	// Returns ErrTiersNotConfigured when no list was saved.
	GetTiers(ctx context.Context) ([]TierDefinition, error)

	// SetTiers replaces the tier list
	SetTiers(ctx context.Context, tiers []TierDefinition) error

	// GetCustomer retrieves a customer's state
	// Returns ErrCustomerNotFound when the customer is unknown
	GetCustomer(ctx context.Context, customerID string) (*CustomerState, error)

	// SetCustomer stores a customer's state, replacing any previous value
	SetCustomer(ctx context.Context, state *CustomerState) error

	// ReplaceCustomer overwrites a customer's state only if the stored totals
	// still equal those of expected. Returns ErrStateConflict otherwise and
	// ErrCustomerNotFound when the customer is unknown.
	ReplaceCustomer(ctx context.Context, expected, replacement *CustomerState) error

	// ApplyEntry atomically appends a ledger entry and applies its deltas to the
	// customer's state (creating the state if needed). Returns the new state.
	// Returns ErrDuplicateEntry if the entry ID was already applied for the customer,
	// and ErrStateConflict if the entry's PriorLiters no longer match the state.
	ApplyEntry(ctx context.Context, entry *LedgerEntry) (*CustomerState, error)

	// GetEntry retrieves a ledger entry
	// Returns nil if no entry found (not an error)
	GetEntry(ctx context.Context, customerID, entryID string) (*LedgerEntry, error)

	// ListEntries returns a customer's ledger entries matching the filter, newest first
	ListEntries(ctx context.Context, customerID string, filter LedgerFilter) ([]*LedgerEntry, error)
}
