// Package postgres provides a PostgreSQL implementation of the loyalty.Storage interface.
// Ledger appends run in a transaction that locks the customer row with
// SELECT FOR UPDATE, so the entry and the aggregate change commit together.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/mihaimyh/goloyalty/pkg/loyalty"
)

// Storage implements loyalty.Storage using PostgreSQL
type Storage struct {
	pool   *pgxpool.Pool
	config Config
}

// Config holds PostgreSQL storage configuration
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration

	// AutoMigrate creates the tables on New when true
	AutoMigrate bool
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
		AutoMigrate:     true,
	}
}

const schema = `
CREATE TABLE IF NOT EXISTS loyalty_tiers (
	id          SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
	definition  JSONB NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS loyalty_customers (
	customer_id          TEXT PRIMARY KEY,
	cumulative_liters    NUMERIC NOT NULL DEFAULT 0,
	cumulative_points    BIGINT NOT NULL DEFAULT 0,
	cumulative_spend     NUMERIC NOT NULL DEFAULT 0,
	cumulative_cashback  NUMERIC NOT NULL DEFAULT 0,
	commission_balance   NUMERIC NOT NULL DEFAULT 0,
	purchase_count       INTEGER NOT NULL DEFAULT 0,
	referrer_id          TEXT NOT NULL DEFAULT '',
	customer_since       TIMESTAMPTZ NOT NULL,
	updated_at           TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS loyalty_ledger (
	customer_id         TEXT NOT NULL,
	entry_id            TEXT NOT NULL,
	kind                TEXT NOT NULL,
	liters              NUMERIC NOT NULL DEFAULT 0,
	amount              NUMERIC NOT NULL DEFAULT 0,
	points              BIGINT NOT NULL DEFAULT 0,
	cashback            NUMERIC NOT NULL DEFAULT 0,
	commission          NUMERIC NOT NULL DEFAULT 0,
	tier                TEXT NOT NULL DEFAULT '',
	source_customer_id  TEXT NOT NULL DEFAULT '',
	occurred_at         TIMESTAMPTZ NOT NULL,
	metadata            JSONB,
	PRIMARY KEY (customer_id, entry_id)
);

CREATE INDEX IF NOT EXISTS loyalty_ledger_customer_time
	ON loyalty_ledger (customer_id, occurred_at DESC);
`

const customerColumns = `customer_id, cumulative_liters::text, cumulative_points, cumulative_spend::text,
	cumulative_cashback::text, commission_balance::text, purchase_count, referrer_id,
	customer_since, updated_at`

const ledgerColumns = `customer_id, entry_id, kind, liters::text, amount::text, points, cashback::text,
	commission::text, tier, source_customer_id, occurred_at, metadata`

// New creates a new PostgreSQL storage adapter
func New(ctx context.Context, config Config) (*Storage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Storage{pool: pool, config: config}
	if config.AutoMigrate {
		if err := s.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return s, nil
}

// Migrate creates the loyalty tables if they do not exist
func (s *Storage) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// Close closes the PostgreSQL connection pool
func (s *Storage) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping checks the PostgreSQL connection
func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// GetTiers implements loyalty.Storage
func (s *Storage) GetTiers(ctx context.Context) ([]loyalty.TierDefinition, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT definition FROM loyalty_tiers WHERE id = 1`).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
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

	_, err = s.pool.Exec(ctx,
		`INSERT INTO loyalty_tiers (id, definition, updated_at) VALUES (1, $1, $2)
			ON CONFLICT (id) DO UPDATE SET definition = EXCLUDED.definition, updated_at = EXCLUDED.updated_at`,
		data, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set tiers: %w", err)
	}
	return nil
}

// GetCustomer implements loyalty.Storage
func (s *Storage) GetCustomer(ctx context.Context, customerID string) (*loyalty.CustomerState, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+customerColumns+` FROM loyalty_customers WHERE customer_id = $1`, customerID)
	state, err := scanCustomer(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, loyalty.ErrCustomerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}
	return state, nil
}

// SetCustomer implements loyalty.Storage
func (s *Storage) SetCustomer(ctx context.Context, state *loyalty.CustomerState) error {
	if state == nil || state.CustomerID == "" {
		return fmt.Errorf("invalid customer state")
	}
	if err := upsertCustomer(ctx, s.pool, state); err != nil {
		return fmt.Errorf("failed to set customer: %w", err)
	}
	return nil
}

// ReplaceCustomer implements loyalty.Storage. The row is locked while its
// totals are compared with expected.
func (s *Storage) ReplaceCustomer(ctx context.Context, expected, replacement *loyalty.CustomerState) error {
	if expected == nil || replacement == nil || replacement.CustomerID == "" {
		return fmt.Errorf("invalid customer state")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		//nolint:errcheck // Rollback error is safe to ignore if transaction was committed
		_ = tx.Rollback(ctx)
	}()

	stored, err := scanCustomer(tx.QueryRow(ctx,
		`SELECT `+customerColumns+` FROM loyalty_customers WHERE customer_id = $1 FOR UPDATE`,
		replacement.CustomerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return loyalty.ErrCustomerNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to lock customer: %w", err)
	}
	if !stored.SameTotals(expected) {
		return fmt.Errorf("%w: customer %s", loyalty.ErrStateConflict, replacement.CustomerID)
	}

	if err := upsertCustomer(ctx, tx, replacement); err != nil {
		return fmt.Errorf("failed to replace customer: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// ApplyEntry implements loyalty.Storage
func (s *Storage) ApplyEntry(ctx context.Context, entry *loyalty.LedgerEntry) (*loyalty.CustomerState, error) {
	if entry == nil || entry.ID == "" || entry.CustomerID == "" {
		return nil, fmt.Errorf("invalid ledger entry")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		//nolint:errcheck // Rollback error is safe to ignore if transaction was committed
		_ = tx.Rollback(ctx)
	}()

	// Ensure the row exists so it can be locked
	_, err = tx.Exec(ctx,
		`INSERT INTO loyalty_customers (customer_id, customer_since, updated_at)
			VALUES ($1, $2, $2)
			ON CONFLICT (customer_id) DO NOTHING`,
		entry.CustomerID, entry.Timestamp.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to ensure customer exists: %w", err)
	}

	state, err := scanCustomer(tx.QueryRow(ctx,
		`SELECT `+customerColumns+` FROM loyalty_customers WHERE customer_id = $1 FOR UPDATE`,
		entry.CustomerID))
	if err != nil {
		return nil, fmt.Errorf("failed to lock customer: %w", err)
	}
	if err := entry.CheckPrior(state); err != nil {
		return nil, err
	}

	var metadata []byte
	if len(entry.Metadata) > 0 {
		if metadata, err = json.Marshal(entry.Metadata); err != nil {
			return nil, fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	tag, err := tx.Exec(ctx,
		`INSERT INTO loyalty_ledger
				(customer_id, entry_id, kind, liters, amount, points, cashback, commission,
				 tier, source_customer_id, occurred_at, metadata)
			VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6, $7::numeric, $8::numeric, $9, $10, $11, $12)
			ON CONFLICT (customer_id, entry_id) DO NOTHING`,
		entry.CustomerID, entry.ID, string(entry.Kind), entry.Liters.String(), entry.Amount.String(),
		entry.Points, entry.Cashback.String(), entry.Commission.String(), entry.Tier,
		entry.SourceCustomerID, entry.Timestamp.UTC(), metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to insert ledger entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, loyalty.ErrDuplicateEntry
	}

	state.Apply(entry)
	if err := upsertCustomer(ctx, tx, state); err != nil {
		return nil, fmt.Errorf("failed to update customer: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return state, nil
}

// GetEntry implements loyalty.Storage
func (s *Storage) GetEntry(ctx context.Context, customerID, entryID string) (*loyalty.LedgerEntry, error) {
	entry, err := scanEntry(s.pool.QueryRow(ctx,
		`SELECT `+ledgerColumns+` FROM loyalty_ledger WHERE customer_id = $1 AND entry_id = $2`,
		customerID, entryID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger entry: %w", err)
	}
	return entry, nil
}

// ListEntries implements loyalty.Storage
func (s *Storage) ListEntries(ctx context.Context, customerID string,
	filter loyalty.LedgerFilter) ([]*loyalty.LedgerEntry, error) {
	query := `SELECT ` + ledgerColumns + ` FROM loyalty_ledger
		WHERE customer_id = $1
			AND ($2 = '' OR kind = $2)
			AND ($3::timestamptz IS NULL OR occurred_at >= $3)
			AND ($4::timestamptz IS NULL OR occurred_at <= $4)
		ORDER BY occurred_at DESC, entry_id DESC`
	args := []any{customerID, string(filter.Kind), filter.Since, filter.Until}
	if filter.Limit > 0 {
		query += ` LIMIT $5`
		args = append(args, filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger: %w", err)
	}
	defer rows.Close()

	entries := []*loyalty.LedgerEntry{}
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list ledger: %w", err)
	}
	return entries, nil
}

// execer is satisfied by both the pool and a transaction
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func upsertCustomer(ctx context.Context, db execer, state *loyalty.CustomerState) error {
	_, err := db.Exec(ctx,
		`INSERT INTO loyalty_customers
				(customer_id, cumulative_liters, cumulative_points, cumulative_spend, cumulative_cashback,
				 commission_balance, purchase_count, referrer_id, customer_since, updated_at)
			VALUES ($1, $2::numeric, $3, $4::numeric, $5::numeric, $6::numeric, $7, $8, $9, $10)
			ON CONFLICT (customer_id) DO UPDATE SET
				cumulative_liters = EXCLUDED.cumulative_liters,
				cumulative_points = EXCLUDED.cumulative_points,
				cumulative_spend = EXCLUDED.cumulative_spend,
				cumulative_cashback = EXCLUDED.cumulative_cashback,
				commission_balance = EXCLUDED.commission_balance,
				purchase_count = EXCLUDED.purchase_count,
				referrer_id = EXCLUDED.referrer_id,
				customer_since = EXCLUDED.customer_since,
				updated_at = EXCLUDED.updated_at`,
		state.CustomerID, state.CumulativeLiters.String(), state.CumulativePoints,
		state.CumulativeSpend.String(), state.CumulativeCashback.String(),
		state.CommissionBalance.String(), state.PurchaseCount, state.ReferrerID,
		state.CustomerSince.UTC(), state.UpdatedAt.UTC())
	return err
}

func scanCustomer(row pgx.Row) (*loyalty.CustomerState, error) {
	var (
		state                                      loyalty.CustomerState
		liters, spend, cashback, commissionBalance string
	)
	err := row.Scan(&state.CustomerID, &liters, &state.CumulativePoints, &spend, &cashback,
		&commissionBalance, &state.PurchaseCount, &state.ReferrerID, &state.CustomerSince, &state.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := parseDecimals(
		decimalField{liters, &state.CumulativeLiters},
		decimalField{spend, &state.CumulativeSpend},
		decimalField{cashback, &state.CumulativeCashback},
		decimalField{commissionBalance, &state.CommissionBalance},
	); err != nil {
		return nil, err
	}
	return &state, nil
}

func scanEntry(row pgx.Row) (*loyalty.LedgerEntry, error) {
	var (
		entry                                loyalty.LedgerEntry
		kind                                 string
		liters, amount, cashback, commission string
		metadata                             []byte
	)
	err := row.Scan(&entry.CustomerID, &entry.ID, &kind, &liters, &amount, &entry.Points, &cashback,
		&commission, &entry.Tier, &entry.SourceCustomerID, &entry.Timestamp, &metadata)
	if err != nil {
		return nil, err
	}
	entry.Kind = loyalty.EntryKind(kind)
	if err := parseDecimals(
		decimalField{liters, &entry.Liters},
		decimalField{amount, &entry.Amount},
		decimalField{cashback, &entry.Cashback},
		decimalField{commission, &entry.Commission},
	); err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &entry.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &entry, nil
}

type decimalField struct {
	raw string
	dst *decimal.Decimal
}

func parseDecimals(fields ...decimalField) error {
	for _, f := range fields {
		d, err := decimal.NewFromString(f.raw)
		if err != nil {
			return fmt.Errorf("invalid numeric %q: %w", f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
