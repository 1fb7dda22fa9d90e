// Package firestore provides a Firestore implementation of the loyalty.Storage interface.
// Ledger entries live in a subcollection of their customer document and are
// written in the same transaction as the customer's aggregates. Decimal values
// are stored as strings so no precision is lost.
package firestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/mihaimyh/goloyalty/pkg/loyalty"
)

const tiersDocID = "tiers"

// Storage implements loyalty.Storage using Google Cloud Firestore
type Storage struct {
	client              *firestore.Client
	customersCollection string
	ledgerCollection    string
	configCollection    string
}

// Config holds Firestore storage configuration
type Config struct {
	// CustomersCollection is the collection of customer documents
	// Default: "loyalty_customers"
	CustomersCollection string

	// LedgerCollection is the subcollection of each customer holding ledger entries
	// Default: "ledger"
	LedgerCollection string

	// ConfigCollection holds the tier configuration document
	// Default: "loyalty_config"
	ConfigCollection string
}

// New creates a new Firestore storage adapter
func New(client *firestore.Client, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client is required")
	}

	if config.CustomersCollection == "" {
		config.CustomersCollection = "loyalty_customers"
	}
	if config.LedgerCollection == "" {
		config.LedgerCollection = "ledger"
	}
	if config.ConfigCollection == "" {
		config.ConfigCollection = "loyalty_config"
	}

	return &Storage{
		client:              client,
		customersCollection: config.CustomersCollection,
		ledgerCollection:    config.LedgerCollection,
		configCollection:    config.ConfigCollection,
	}, nil
}

// GetTiers implements loyalty.Storage
func (s *Storage) GetTiers(ctx context.Context) ([]loyalty.TierDefinition, error) {
	snap, err := s.client.Collection(s.configCollection).Doc(tiersDocID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, loyalty.ErrTiersNotConfigured
		}
		return nil, fmt.Errorf("failed to get tiers: %w", err)
	}
	if !snap.Exists() {
		return nil, loyalty.ErrTiersNotConfigured
	}

	var tiers []loyalty.TierDefinition
	if err := json.Unmarshal([]byte(getString(snap.Data(), "definition")), &tiers); err != nil {
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
	_, err = s.client.Collection(s.configCollection).Doc(tiersDocID).Set(ctx, map[string]interface{}{
		"definition": string(data),
		"updatedAt":  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to set tiers: %w", err)
	}
	return nil
}

// GetCustomer implements loyalty.Storage
func (s *Storage) GetCustomer(ctx context.Context, customerID string) (*loyalty.CustomerState, error) {
	snap, err := s.customerDoc(customerID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, loyalty.ErrCustomerNotFound
		}
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}
	if !snap.Exists() {
		return nil, loyalty.ErrCustomerNotFound
	}
	return decodeState(customerID, snap.Data())
}

// SetCustomer implements loyalty.Storage
func (s *Storage) SetCustomer(ctx context.Context, state *loyalty.CustomerState) error {
	if state == nil || state.CustomerID == "" {
		return fmt.Errorf("invalid customer state")
	}
	if _, err := s.customerDoc(state.CustomerID).Set(ctx, encodeState(state)); err != nil {
		return fmt.Errorf("failed to set customer: %w", err)
	}
	return nil
}

// ReplaceCustomer implements loyalty.Storage inside a transaction
func (s *Storage) ReplaceCustomer(ctx context.Context, expected, replacement *loyalty.CustomerState) error {
	if expected == nil || replacement == nil || replacement.CustomerID == "" {
		return fmt.Errorf("invalid customer state")
	}

	customerRef := s.customerDoc(replacement.CustomerID)
	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(customerRef)
		if status.Code(err) == codes.NotFound || (err == nil && !snap.Exists()) {
			return loyalty.ErrCustomerNotFound
		}
		if err != nil {
			return err
		}
		stored, err := decodeState(replacement.CustomerID, snap.Data())
		if err != nil {
			return err
		}
		if !stored.SameTotals(expected) {
			return fmt.Errorf("%w: customer %s", loyalty.ErrStateConflict, replacement.CustomerID)
		}
		return tx.Set(customerRef, encodeState(replacement))
	})
	if err != nil {
		if errors.Is(err, loyalty.ErrCustomerNotFound) || errors.Is(err, loyalty.ErrStateConflict) {
			return err
		}
		return fmt.Errorf("failed to replace customer: %w", err)
	}
	return nil
}

// ApplyEntry implements loyalty.Storage
func (s *Storage) ApplyEntry(ctx context.Context, entry *loyalty.LedgerEntry) (*loyalty.CustomerState, error) {
	if entry == nil || entry.ID == "" || entry.CustomerID == "" {
		return nil, fmt.Errorf("invalid ledger entry")
	}

	customerRef := s.customerDoc(entry.CustomerID)
	entryRef := customerRef.Collection(s.ledgerCollection).Doc(entry.ID)

	var state *loyalty.CustomerState
	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		// All reads happen before the first write.
		entrySnap, err := tx.Get(entryRef)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		if entrySnap != nil && entrySnap.Exists() {
			return loyalty.ErrDuplicateEntry
		}

		snap, err := tx.Get(customerRef)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		if snap != nil && snap.Exists() {
			if state, err = decodeState(entry.CustomerID, snap.Data()); err != nil {
				return err
			}
		} else {
			state = loyalty.NewCustomerState(entry.CustomerID)
			state.CustomerSince = entry.Timestamp
		}
		if err := entry.CheckPrior(state); err != nil {
			return err
		}
		state.Apply(entry)

		if err := tx.Set(customerRef, encodeState(state)); err != nil {
			return err
		}
		return tx.Create(entryRef, encodeEntry(entry))
	})
	if err != nil {
		if errors.Is(err, loyalty.ErrDuplicateEntry) || errors.Is(err, loyalty.ErrStateConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to apply ledger entry: %w", err)
	}
	return state, nil
}

// GetEntry implements loyalty.Storage
func (s *Storage) GetEntry(ctx context.Context, customerID, entryID string) (*loyalty.LedgerEntry, error) {
	snap, err := s.customerDoc(customerID).Collection(s.ledgerCollection).Doc(entryID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get ledger entry: %w", err)
	}
	if !snap.Exists() {
		return nil, nil
	}
	return decodeEntry(customerID, snap.Ref.ID, snap.Data())
}

// ListEntries implements loyalty.Storage
func (s *Storage) ListEntries(ctx context.Context, customerID string,
	filter loyalty.LedgerFilter) ([]*loyalty.LedgerEntry, error) {
	q := s.customerDoc(customerID).Collection(s.ledgerCollection).Query
	if filter.Kind != "" {
		q = q.Where("kind", "==", string(filter.Kind))
	}
	if filter.Since != nil {
		q = q.Where("timestamp", ">=", filter.Since.UTC())
	}
	if filter.Until != nil {
		q = q.Where("timestamp", "<=", filter.Until.UTC())
	}
	q = q.OrderBy("timestamp", firestore.Desc)
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	snaps, err := q.Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger: %w", err)
	}

	entries := make([]*loyalty.LedgerEntry, 0, len(snaps))
	for _, snap := range snaps {
		entry, err := decodeEntry(customerID, snap.Ref.ID, snap.Data())
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (s *Storage) customerDoc(customerID string) *firestore.DocumentRef {
	return s.client.Collection(s.customersCollection).Doc(customerID)
}

func encodeState(state *loyalty.CustomerState) map[string]interface{} {
	return map[string]interface{}{
		"cumulativeLiters":   state.CumulativeLiters.String(),
		"cumulativePoints":   state.CumulativePoints,
		"cumulativeSpend":    state.CumulativeSpend.String(),
		"cumulativeCashback": state.CumulativeCashback.String(),
		"commissionBalance":  state.CommissionBalance.String(),
		"purchaseCount":      state.PurchaseCount,
		"referrerId":         state.ReferrerID,
		"customerSince":      state.CustomerSince.UTC(),
		"updatedAt":          state.UpdatedAt.UTC(),
	}
}

func decodeState(customerID string, data map[string]interface{}) (*loyalty.CustomerState, error) {
	state := &loyalty.CustomerState{
		CustomerID:       customerID,
		CumulativePoints: getInt64(data, "cumulativePoints"),
		PurchaseCount:    int(getInt64(data, "purchaseCount")),
		ReferrerID:       getString(data, "referrerId"),
		CustomerSince:    getTime(data, "customerSince"),
		UpdatedAt:        getTime(data, "updatedAt"),
	}
	var err error
	if state.CumulativeLiters, err = getDecimal(data, "cumulativeLiters"); err != nil {
		return nil, err
	}
	if state.CumulativeSpend, err = getDecimal(data, "cumulativeSpend"); err != nil {
		return nil, err
	}
	if state.CumulativeCashback, err = getDecimal(data, "cumulativeCashback"); err != nil {
		return nil, err
	}
	if state.CommissionBalance, err = getDecimal(data, "commissionBalance"); err != nil {
		return nil, err
	}
	return state, nil
}

func encodeEntry(entry *loyalty.LedgerEntry) map[string]interface{} {
	data := map[string]interface{}{
		"kind":             string(entry.Kind),
		"liters":           entry.Liters.String(),
		"amount":           entry.Amount.String(),
		"points":           entry.Points,
		"cashback":         entry.Cashback.String(),
		"commission":       entry.Commission.String(),
		"tier":             entry.Tier,
		"sourceCustomerId": entry.SourceCustomerID,
		"timestamp":        entry.Timestamp.UTC(),
	}
	if len(entry.Metadata) > 0 {
		data["metadata"] = entry.Metadata
	}
	return data
}

func decodeEntry(customerID, entryID string, data map[string]interface{}) (*loyalty.LedgerEntry, error) {
	entry := &loyalty.LedgerEntry{
		ID:               entryID,
		CustomerID:       customerID,
		Kind:             loyalty.EntryKind(getString(data, "kind")),
		Points:           getInt64(data, "points"),
		Tier:             getString(data, "tier"),
		SourceCustomerID: getString(data, "sourceCustomerId"),
		Timestamp:        getTime(data, "timestamp"),
	}
	for key, dst := range map[string]*decimal.Decimal{
		"liters":     &entry.Liters,
		"amount":     &entry.Amount,
		"cashback":   &entry.Cashback,
		"commission": &entry.Commission,
	} {
		d, err := getDecimal(data, key)
		if err != nil {
			return nil, err
		}
		*dst = d
	}
	if raw, ok := data["metadata"].(map[string]interface{}); ok {
		entry.Metadata = make(map[string]string, len(raw))
		for k, v := range raw {
			if sv, ok := v.(string); ok {
				entry.Metadata[k] = sv
			}
		}
	}
	return entry, nil
}

// Helper functions for type conversion from Firestore data

func getString(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

func getInt64(data map[string]interface{}, key string) int64 {
	switch v := data[key].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(math.Round(v))
	default:
		return 0
	}
}

func getTime(data map[string]interface{}, key string) time.Time {
	if v, ok := data[key].(time.Time); ok {
		return v
	}
	return time.Time{}
}

func getDecimal(data map[string]interface{}, key string) (decimal.Decimal, error) {
	raw := getString(data, key)
	if raw == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}
