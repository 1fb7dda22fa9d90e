package loyalty

import (
	"context"
	"sort"
	"sync"
)

// fakeStorage is an in-package Storage used by engine and wrapper tests.
// Setting err makes every call fail with it.
type fakeStorage struct {
	mu        sync.Mutex
	tiers     []TierDefinition
	customers map[string]*CustomerState
	entries   map[string]map[string]*LedgerEntry
	err       error
	calls     int
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		customers: make(map[string]*CustomerState),
		entries:   make(map[string]map[string]*LedgerEntry),
	}
}

func (s *fakeStorage) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *fakeStorage) enter() error {
	s.calls++
	return s.err
}

func (s *fakeStorage) GetTiers(_ context.Context) ([]TierDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(); err != nil {
		return nil, err
	}
	if s.tiers == nil {
		return nil, ErrTiersNotConfigured
	}
	return CloneTiers(s.tiers), nil
}

func (s *fakeStorage) SetTiers(_ context.Context, tiers []TierDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(); err != nil {
		return err
	}
	s.tiers = CloneTiers(tiers)
	return nil
}

func (s *fakeStorage) GetCustomer(_ context.Context, customerID string) (*CustomerState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(); err != nil {
		return nil, err
	}
	state, ok := s.customers[customerID]
	if !ok {
		return nil, ErrCustomerNotFound
	}
	return state.Clone(), nil
}

func (s *fakeStorage) SetCustomer(_ context.Context, state *CustomerState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(); err != nil {
		return err
	}
	s.customers[state.CustomerID] = state.Clone()
	return nil
}

func (s *fakeStorage) ReplaceCustomer(_ context.Context, expected, replacement *CustomerState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(); err != nil {
		return err
	}
	stored, ok := s.customers[replacement.CustomerID]
	if !ok {
		return ErrCustomerNotFound
	}
	if !stored.SameTotals(expected) {
		return ErrStateConflict
	}
	s.customers[replacement.CustomerID] = replacement.Clone()
	return nil
}

func (s *fakeStorage) ApplyEntry(_ context.Context, entry *LedgerEntry) (*CustomerState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(); err != nil {
		return nil, err
	}
	byID, ok := s.entries[entry.CustomerID]
	if !ok {
		byID = make(map[string]*LedgerEntry)
		s.entries[entry.CustomerID] = byID
	}
	if _, dup := byID[entry.ID]; dup {
		return nil, ErrDuplicateEntry
	}
	if err := entry.CheckPrior(s.customers[entry.CustomerID]); err != nil {
		return nil, err
	}
	state, ok := s.customers[entry.CustomerID]
	if !ok {
		state = NewCustomerState(entry.CustomerID)
		state.CustomerSince = entry.Timestamp
	}
	state = state.Clone()
	state.Apply(entry)
	byID[entry.ID] = entry.Clone()
	s.customers[entry.CustomerID] = state
	return state.Clone(), nil
}

func (s *fakeStorage) GetEntry(_ context.Context, customerID, entryID string) (*LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(); err != nil {
		return nil, err
	}
	return s.entries[customerID][entryID].Clone(), nil
}

func (s *fakeStorage) ListEntries(_ context.Context, customerID string, filter LedgerFilter) ([]*LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(); err != nil {
		return nil, err
	}
	var out []*LedgerEntry
	for _, e := range s.entries[customerID] {
		if filter.Matches(e) {
			out = append(out, e.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID > out[j].ID
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}
