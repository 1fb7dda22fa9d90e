// Package tiered provides a Hot/Cold tiered storage adapter that pairs a fast
// store (Hot) with a durable store (Cold).
//
// Cold is the source of truth for the ledger and for every aggregate. Hot only
// mirrors tier lists and customer states to serve reads quickly.
package tiered

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mihaimyh/goloyalty/pkg/loyalty"
)

// Config configures the tiered storage behavior
type Config struct {
	// Hot is the L1 storage (e.g., Redis, Memory) serving reads
	Hot loyalty.Storage

	// Cold is the L2 persistence storage (e.g., Postgres, Firestore) as the source of truth
	Cold loyalty.Storage

	// AsyncHotSync pushes states produced by ApplyEntry to Hot from a
	// background worker. Hot may briefly serve the previous state while a
	// job is queued. If false, Hot is updated before ApplyEntry returns.
	AsyncHotSync bool

	// SyncBufferSize is the size of the buffered channel for async operations.
	// Default: 1000
	SyncBufferSize int

	// AsyncErrorHandler is called when a Hot update fails.
	// Essential for monitoring consistency drift.
	AsyncErrorHandler func(error)
}

// Storage implements loyalty.Storage on top of a Hot and a Cold store:
// - Read-Through: tiers, customers, single entries (Hot → Cold → fill Hot)
// - Write-Through: tiers, customers (Cold → Hot)
// - Cold-Primary: ledger appends (Cold atomic + Hot state refresh)
// - Cold-Only: ledger listing
type Storage struct {
	hot  loyalty.Storage
	cold loyalty.Storage
	conf Config

	syncQueue chan func() error
	shutdown  chan struct{}
	wg        sync.WaitGroup
}

// New creates a new tiered storage adapter.
func New(config Config) (*Storage, error) {
	if config.Hot == nil || config.Cold == nil {
		return nil, errors.New("tiered storage: both hot and cold storage are required")
	}

	if config.SyncBufferSize <= 0 {
		config.SyncBufferSize = 1000
	}

	s := &Storage{
		hot:       config.Hot,
		cold:      config.Cold,
		conf:      config,
		syncQueue: make(chan func() error, config.SyncBufferSize),
		shutdown:  make(chan struct{}),
	}

	if config.AsyncHotSync {
		s.startWorker()
	}

	return s, nil
}

// Close drains queued Hot updates and stops the worker (if enabled).
func (s *Storage) Close() error {
	if s.conf.AsyncHotSync {
		select {
		case <-s.shutdown:
		default:
			close(s.shutdown)
			s.wg.Wait()
		}
	}
	return nil
}

// startWorker processes queued jobs sequentially so per-customer order is kept.
func (s *Storage) startWorker() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case job := <-s.syncQueue:
				s.report(job())
			case <-s.shutdown:
				for {
					select {
					case job := <-s.syncQueue:
						s.report(job())
					default:
						return
					}
				}
			}
		}
	}()
}

func (s *Storage) report(err error) {
	if err != nil && s.conf.AsyncErrorHandler != nil {
		s.conf.AsyncErrorHandler(fmt.Errorf("tiered sync failed: %w", err))
	}
}

// --- Strategy: Read-Through (Hot → Cold → Populate Hot) ---

// GetTiers implements loyalty.Storage with read-through strategy.
func (s *Storage) GetTiers(ctx context.Context) ([]loyalty.TierDefinition, error) {
	tiers, err := s.hot.GetTiers(ctx)
	if err == nil {
		return tiers, nil
	}

	tiers, err = s.cold.GetTiers(ctx)
	if err != nil {
		return nil, err
	}

	// Cache fill; errors are non-critical
	_ = s.hot.SetTiers(ctx, tiers) //nolint:errcheck
	return tiers, nil
}

// GetCustomer implements loyalty.Storage with read-through strategy.
func (s *Storage) GetCustomer(ctx context.Context, customerID string) (*loyalty.CustomerState, error) {
	state, err := s.hot.GetCustomer(ctx, customerID)
	if err == nil {
		return state, nil
	}

	state, err = s.cold.GetCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}

	_ = s.hot.SetCustomer(ctx, state) //nolint:errcheck
	return state, nil
}

// GetEntry implements loyalty.Storage. Hot rarely holds entries, so a miss
// falls through to Cold.
func (s *Storage) GetEntry(ctx context.Context, customerID, entryID string) (*loyalty.LedgerEntry, error) {
	if entry, err := s.hot.GetEntry(ctx, customerID, entryID); err == nil && entry != nil {
		return entry, nil
	}
	return s.cold.GetEntry(ctx, customerID, entryID)
}

// --- Strategy: Write-Through (Cold → Hot) ---

// SetTiers implements loyalty.Storage with write-through strategy.
func (s *Storage) SetTiers(ctx context.Context, tiers []loyalty.TierDefinition) error {
	if err := s.cold.SetTiers(ctx, tiers); err != nil {
		return err
	}
	return s.hot.SetTiers(ctx, tiers)
}

// SetCustomer implements loyalty.Storage with write-through strategy.
func (s *Storage) SetCustomer(ctx context.Context, state *loyalty.CustomerState) error {
	if err := s.cold.SetCustomer(ctx, state); err != nil {
		return err
	}
	return s.hot.SetCustomer(ctx, state)
}

// --- Strategy: Cold-Primary ---

// ReplaceCustomer implements loyalty.Storage. The compare-and-set runs on
// Cold; Hot is overwritten with the replacement afterwards.
func (s *Storage) ReplaceCustomer(ctx context.Context, expected, replacement *loyalty.CustomerState) error {
	if err := s.cold.ReplaceCustomer(ctx, expected, replacement); err != nil {
		return err
	}
	if err := s.hot.SetCustomer(ctx, replacement); err != nil {
		s.report(fmt.Errorf("tiered storage: hot update failed: %w", err))
	}
	return nil
}

// ApplyEntry implements loyalty.Storage. The entry is applied atomically on
// Cold, then the resulting state replaces the Hot copy. A failed Hot update
// is reported but does not fail the call.
func (s *Storage) ApplyEntry(ctx context.Context, entry *loyalty.LedgerEntry) (*loyalty.CustomerState, error) {
	state, err := s.cold.ApplyEntry(ctx, entry)
	if err != nil {
		return nil, err
	}

	if s.conf.AsyncHotSync {
		snapshot := state.Clone()
		select {
		case s.syncQueue <- func() error {
			// Background context so the update survives request cancellation
			return s.hot.SetCustomer(context.Background(), snapshot)
		}:
		default:
			s.report(errors.New("tiered storage: sync queue full, dropping hot update"))
		}
	} else if err := s.hot.SetCustomer(ctx, state); err != nil {
		s.report(fmt.Errorf("tiered storage: hot update failed: %w", err))
	}

	return state, nil
}

// --- Strategy: Cold-Only ---

// ListEntries implements loyalty.Storage from Cold.
func (s *Storage) ListEntries(ctx context.Context, customerID string,
	filter loyalty.LedgerFilter) ([]*loyalty.LedgerEntry, error) {
	return s.cold.ListEntries(ctx, customerID, filter)
}
