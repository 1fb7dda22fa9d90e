// Package memory provides an in-memory implementation of the loyalty.Storage interface.
// This implementation is primarily intended for testing and development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mihaimyh/goloyalty/pkg/loyalty"
)

// Storage implements loyalty.Storage using in-memory maps
type Storage struct {
	mu        sync.RWMutex
	tiers     []loyalty.TierDefinition
	customers map[string]*loyalty.CustomerState
	entries   map[string]map[string]*loyalty.LedgerEntry // customer -> entry id -> entry
	ledger    map[string][]*loyalty.LedgerEntry          // customer -> entries in insertion order
}

// New creates a new in-memory storage adapter
func New() *Storage {
	return &Storage{
		customers: make(map[string]*loyalty.CustomerState),
		entries:   make(map[string]map[string]*loyalty.LedgerEntry),
		ledger:    make(map[string][]*loyalty.LedgerEntry),
	}
}

// GetTiers implements loyalty.Storage
func (s *Storage) GetTiers(_ context.Context) ([]loyalty.TierDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.tiers) == 0 {
		return nil, loyalty.ErrTiersNotConfigured
	}
	return loyalty.CloneTiers(s.tiers), nil
}

// SetTiers implements loyalty.Storage
func (s *Storage) SetTiers(_ context.Context, tiers []loyalty.TierDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tiers = loyalty.CloneTiers(tiers)
	loyalty.SortTiers(s.tiers)
	return nil
}

// GetCustomer implements loyalty.Storage
func (s *Storage) GetCustomer(_ context.Context, customerID string) (*loyalty.CustomerState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.customers[customerID]
	if !ok {
		return nil, loyalty.ErrCustomerNotFound
	}
	return state.Clone(), nil
}

// SetCustomer implements loyalty.Storage
func (s *Storage) SetCustomer(_ context.Context, state *loyalty.CustomerState) error {
	if state == nil || state.CustomerID == "" {
		return fmt.Errorf("invalid customer state")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.customers[state.CustomerID] = state.Clone()
	return nil
}

// ReplaceCustomer implements loyalty.Storage
func (s *Storage) ReplaceCustomer(_ context.Context, expected, replacement *loyalty.CustomerState) error {
	if expected == nil || replacement == nil || replacement.CustomerID == "" {
		return fmt.Errorf("invalid customer state")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.customers[replacement.CustomerID]
	if !ok {
		return loyalty.ErrCustomerNotFound
	}
	if !stored.SameTotals(expected) {
		return fmt.Errorf("%w: customer %s", loyalty.ErrStateConflict, replacement.CustomerID)
	}
	s.customers[replacement.CustomerID] = replacement.Clone()
	return nil
}

// ApplyEntry implements loyalty.Storage. The entry and the state update are
// applied under one lock.
func (s *Storage) ApplyEntry(_ context.Context, entry *loyalty.LedgerEntry) (*loyalty.CustomerState, error) {
	if entry == nil || entry.ID == "" || entry.CustomerID == "" {
		return nil, fmt.Errorf("invalid ledger entry")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	byID, ok := s.entries[entry.CustomerID]
	if !ok {
		byID = make(map[string]*loyalty.LedgerEntry)
		s.entries[entry.CustomerID] = byID
	}
	if _, dup := byID[entry.ID]; dup {
		return nil, loyalty.ErrDuplicateEntry
	}
	if err := entry.CheckPrior(s.customers[entry.CustomerID]); err != nil {
		return nil, err
	}

	state, ok := s.customers[entry.CustomerID]
	if !ok {
		state = loyalty.NewCustomerState(entry.CustomerID)
		state.CustomerSince = entry.Timestamp
	} else {
		state = state.Clone()
	}
	state.Apply(entry)

	stored := entry.Clone()
	byID[entry.ID] = stored
	s.ledger[entry.CustomerID] = append(s.ledger[entry.CustomerID], stored)
	s.customers[entry.CustomerID] = state

	return state.Clone(), nil
}

// GetEntry implements loyalty.Storage
func (s *Storage) GetEntry(_ context.Context, customerID, entryID string) (*loyalty.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[customerID][entryID]
	if !ok {
		return nil, nil
	}
	return entry.Clone(), nil
}

// ListEntries implements loyalty.Storage
func (s *Storage) ListEntries(_ context.Context, customerID string,
	filter loyalty.LedgerFilter) ([]*loyalty.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.ledger[customerID]
	out := make([]*loyalty.LedgerEntry, 0, len(all))
	// Walk backwards so equal timestamps keep newest-inserted first.
	for i := len(all) - 1; i >= 0; i-- {
		if filter.Matches(all[i]) {
			out = append(out, all[i].Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Clear removes all data (useful for testing)
func (s *Storage) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tiers = nil
	s.customers = make(map[string]*loyalty.CustomerState)
	s.entries = make(map[string]map[string]*loyalty.LedgerEntry)
	s.ledger = make(map[string][]*loyalty.LedgerEntry)
}
