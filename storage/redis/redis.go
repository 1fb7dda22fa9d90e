// Package redis provides a Redis implementation of the loyalty.Storage interface.
// Ledger appends are committed with a Lua compare-and-set script so the entry
// and the customer's state change together.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/mihaimyh/goloyalty/pkg/loyalty"
)

// errConflict is returned by the apply script when the state changed under us
var errConflict = errors.New("customer state changed concurrently")

// Storage implements loyalty.Storage using Redis
type Storage struct {
	client  redis.UniversalClient
	config  Config
	scripts map[string]*redis.Script
}

// Config holds Redis storage configuration
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "goloyalty:")
	KeyPrefix string

	// MaxRetries is the maximum number of attempts when a concurrent write
	// wins the race for a customer (default: 3)
	MaxRetries int
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		KeyPrefix:  "goloyalty:",
		MaxRetries: 3,
	}
}

// New creates a new Redis storage adapter
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring
func New(client redis.UniversalClient, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	if config.KeyPrefix == "" {
		config.KeyPrefix = "goloyalty:"
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}

	s := &Storage{
		client:  client,
		config:  config,
		scripts: make(map[string]*redis.Script),
	}
	s.loadScripts()
	return s, nil
}

func (s *Storage) loadScripts() {
	// KEYS: customer, entry, ledger
	// ARGV: expected state ("" when absent), new state, entry, score, entry id
	s.scripts["apply"] = redis.NewScript(`
		if redis.call('EXISTS', KEYS[2]) == 1 then
			return 'duplicate'
		end

		local current = redis.call('GET', KEYS[1])
		if not current then
			current = ''
		end
		if current ~= ARGV[1] then
			return 'conflict'
		end

		redis.call('SET', KEYS[1], ARGV[2])
		redis.call('SET', KEYS[2], ARGV[3])
		redis.call('ZADD', KEYS[3], ARGV[4], ARGV[5])
		return 'ok'
	`)

	// KEYS: customer
	// ARGV: expected state, new state
	s.scripts["replace"] = redis.NewScript(`
		local current = redis.call('GET', KEYS[1])
		if not current then
			return 'missing'
		end
		if current ~= ARGV[1] then
			return 'conflict'
		end

		redis.call('SET', KEYS[1], ARGV[2])
		return 'ok'
	`)
}

// GetTiers implements loyalty.Storage
func (s *Storage) GetTiers(ctx context.Context) ([]loyalty.TierDefinition, error) {
	data, err := s.client.Get(ctx, s.tiersKey()).Bytes()
	if err == redis.Nil {
		return nil, loyalty.ErrTiersNotConfigured
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tiers: %w", err)
	}

	var tiers []loyalty.TierDefinition
	if err := json.Unmarshal(data, &tiers); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tiers: %w", err)
	}
	if len(tiers) == 0 {
		return nil, loyalty.ErrTiersNotConfigured
	}
	loyalty.SortTiers(tiers)
	return tiers, nil
}

// SetTiers implements loyalty.Storage
func (s *Storage) SetTiers(ctx context.Context, tiers []loyalty.TierDefinition) error {
	data, err := json.Marshal(tiers)
	if err != nil {
		return fmt.Errorf("failed to marshal tiers: %w", err)
	}
	if err := s.client.Set(ctx, s.tiersKey(), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set tiers: %w", err)
	}
	return nil
}

// GetCustomer implements loyalty.Storage
func (s *Storage) GetCustomer(ctx context.Context, customerID string) (*loyalty.CustomerState, error) {
	data, err := s.client.Get(ctx, s.customerKey(customerID)).Bytes()
	if err == redis.Nil {
		return nil, loyalty.ErrCustomerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}
	return decodeState(data)
}

// SetCustomer implements loyalty.Storage
func (s *Storage) SetCustomer(ctx context.Context, state *loyalty.CustomerState) error {
	if state == nil || state.CustomerID == "" {
		return fmt.Errorf("invalid customer state")
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal customer: %w", err)
	}
	if err := s.client.Set(ctx, s.customerKey(state.CustomerID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set customer: %w", err)
	}
	return nil
}

// ReplaceCustomer implements loyalty.Storage. The stored document is swapped
// by script only if it is the one whose totals were compared with expected.
func (s *Storage) ReplaceCustomer(ctx context.Context, expected, replacement *loyalty.CustomerState) error {
	if expected == nil || replacement == nil || replacement.CustomerID == "" {
		return fmt.Errorf("invalid customer state")
	}
	key := s.customerKey(replacement.CustomerID)

	current, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return loyalty.ErrCustomerNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to get customer: %w", err)
	}
	stored, err := decodeState([]byte(current))
	if err != nil {
		return err
	}
	if !stored.SameTotals(expected) {
		return fmt.Errorf("%w: customer %s", loyalty.ErrStateConflict, replacement.CustomerID)
	}

	data, err := json.Marshal(replacement)
	if err != nil {
		return fmt.Errorf("failed to marshal customer: %w", err)
	}
	status, err := s.scripts["replace"].Run(ctx, s.client, []string{key}, current, string(data)).Text()
	if err != nil {
		return fmt.Errorf("failed to replace customer: %w", err)
	}
	switch status {
	case "ok":
		return nil
	case "missing":
		return loyalty.ErrCustomerNotFound
	case "conflict":
		return fmt.Errorf("%w: customer %s", loyalty.ErrStateConflict, replacement.CustomerID)
	default:
		return fmt.Errorf("unexpected replace result %q", status)
	}
}

// ApplyEntry implements loyalty.Storage.
// The new state is computed client side and committed only if the stored
// state is unchanged; lost races are retried up to MaxRetries times.
func (s *Storage) ApplyEntry(ctx context.Context, entry *loyalty.LedgerEntry) (*loyalty.CustomerState, error) {
	if entry == nil || entry.ID == "" || entry.CustomerID == "" {
		return nil, fmt.Errorf("invalid ledger entry")
	}

	entryData, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ledger entry: %w", err)
	}

	for attempt := 0; attempt < s.config.MaxRetries; attempt++ {
		state, err := s.tryApply(ctx, entry, entryData)
		if errors.Is(err, errConflict) {
			continue
		}
		return state, err
	}
	return nil, fmt.Errorf("failed to apply ledger entry %s after %d attempts: %w",
		entry.ID, s.config.MaxRetries, errConflict)
}

func (s *Storage) tryApply(ctx context.Context, entry *loyalty.LedgerEntry,
	entryData []byte) (*loyalty.CustomerState, error) {
	customerKey := s.customerKey(entry.CustomerID)

	current, err := s.client.Get(ctx, customerKey).Result()
	var state *loyalty.CustomerState
	switch {
	case err == redis.Nil:
		current = ""
		state = loyalty.NewCustomerState(entry.CustomerID)
		state.CustomerSince = entry.Timestamp
	case err != nil:
		return nil, fmt.Errorf("failed to get customer: %w", err)
	default:
		if state, err = decodeState([]byte(current)); err != nil {
			return nil, err
		}
	}
	if err := entry.CheckPrior(state); err != nil {
		return nil, err
	}
	state.Apply(entry)

	stateData, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal customer: %w", err)
	}

	keys := []string{customerKey, s.entryKey(entry.CustomerID, entry.ID), s.ledgerKey(entry.CustomerID)}
	status, err := s.scripts["apply"].Run(ctx, s.client, keys,
		current, string(stateData), string(entryData), entry.Timestamp.UnixMilli(), entry.ID).Text()
	if err != nil {
		return nil, fmt.Errorf("failed to apply ledger entry: %w", err)
	}

	switch status {
	case "ok":
		return state, nil
	case "duplicate":
		return nil, loyalty.ErrDuplicateEntry
	case "conflict":
		return nil, errConflict
	default:
		return nil, fmt.Errorf("unexpected apply result %q", status)
	}
}

// GetEntry implements loyalty.Storage
func (s *Storage) GetEntry(ctx context.Context, customerID, entryID string) (*loyalty.LedgerEntry, error) {
	data, err := s.client.Get(ctx, s.entryKey(customerID, entryID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger entry: %w", err)
	}

	var entry loyalty.LedgerEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ledger entry: %w", err)
	}
	return &entry, nil
}

// ListEntries implements loyalty.Storage
func (s *Storage) ListEntries(ctx context.Context, customerID string,
	filter loyalty.LedgerFilter) ([]*loyalty.LedgerEntry, error) {
	rng := &redis.ZRangeBy{Min: "-inf", Max: "+inf"}
	if filter.Since != nil {
		rng.Min = strconv.FormatInt(filter.Since.UnixMilli(), 10)
	}
	if filter.Until != nil {
		rng.Max = strconv.FormatInt(filter.Until.UnixMilli(), 10)
	}

	ids, err := s.client.ZRevRangeByScore(ctx, s.ledgerKey(customerID), rng).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger: %w", err)
	}
	if len(ids) == 0 {
		return []*loyalty.LedgerEntry{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.entryKey(customerID, id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger entries: %w", err)
	}

	entries := make([]*loyalty.LedgerEntry, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var entry loyalty.LedgerEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			return nil, fmt.Errorf("failed to unmarshal ledger entry: %w", err)
		}
		if !filter.Matches(&entry) {
			continue
		}
		entries = append(entries, &entry)
		if filter.Limit > 0 && len(entries) == filter.Limit {
			break
		}
	}
	return entries, nil
}

func decodeState(data []byte) (*loyalty.CustomerState, error) {
	var state loyalty.CustomerState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal customer: %w", err)
	}
	return &state, nil
}

// Keys of one customer share a hash tag so the apply script works on Redis Cluster.

func (s *Storage) tiersKey() string {
	return s.config.KeyPrefix + "tiers"
}

func (s *Storage) customerKey(customerID string) string {
	return fmt.Sprintf("%scustomer:{%s}", s.config.KeyPrefix, customerID)
}

func (s *Storage) entryKey(customerID, entryID string) string {
	return fmt.Sprintf("%sentry:{%s}:%s", s.config.KeyPrefix, customerID, entryID)
}

func (s *Storage) ledgerKey(customerID string) string {
	return fmt.Sprintf("%sledger:{%s}", s.config.KeyPrefix, customerID)
}

// Close closes the Redis client connection
func (s *Storage) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection
func (s *Storage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
