package firestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/shopspring/decimal"

	"github.com/mihaimyh/goloyalty/pkg/loyalty"
)

const testProjectID = "test-project"

// setupFirestoreClient connects to the emulator named by FIRESTORE_EMULATOR_HOST
func setupFirestoreClient(t *testing.T) *firestore.Client {
	t.Helper()

	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}

	client, err := firestore.NewClient(context.Background(), testProjectID)
	if err != nil {
		t.Fatalf("Failed to create Firestore client: %v", err)
	}
	return client
}

// setupTestStorage uses unique collection names for each test run
func setupTestStorage(t *testing.T, name string) *Storage {
	t.Helper()
	client := setupFirestoreClient(t)
	t.Cleanup(func() { _ = client.Close() })

	suffix := fmt.Sprintf("%s_%d", name, time.Now().UnixNano())
	storage, err := New(client, Config{
		CustomersCollection: "test_customers_" + suffix,
		ConfigCollection:    "test_config_" + suffix,
	})
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	return storage
}

func purchase(customerID, id, liters string, ts time.Time) *loyalty.LedgerEntry {
	return &loyalty.LedgerEntry{
		ID:         id,
		CustomerID: customerID,
		Kind:       loyalty.EntryKindPurchase,
		Liters:     decimal.RequireFromString(liters),
		Amount:     decimal.RequireFromString("15.75"),
		Points:     8,
		Tier:       "Bronze",
		Timestamp:  ts,
	}
}

func TestNew_RequiresClient(t *testing.T) {
	if _, err := New(nil, Config{}); err == nil {
		t.Error("Expected error for nil client")
	}
}

func TestEncodeDecodeState(t *testing.T) {
	since := time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)
	state := &loyalty.CustomerState{
		CustomerID:         "c1",
		CumulativeLiters:   decimal.RequireFromString("1000.125"),
		CumulativePoints:   15000,
		CumulativeSpend:    decimal.RequireFromString("5000.10"),
		CumulativeCashback: decimal.RequireFromString("75.00"),
		CommissionBalance:  decimal.RequireFromString("3.33"),
		PurchaseCount:      12,
		ReferrerID:         "r1",
		CustomerSince:      since,
		UpdatedAt:          since.Add(time.Hour),
	}

	got, err := decodeState("c1", encodeState(state))
	if err != nil {
		t.Fatalf("decodeState failed: %v", err)
	}
	if !got.CumulativeLiters.Equal(state.CumulativeLiters) || !got.CumulativeSpend.Equal(state.CumulativeSpend) ||
		got.CumulativePoints != 15000 || got.PurchaseCount != 12 || got.ReferrerID != "r1" {
		t.Errorf("State not preserved: %+v", got)
	}

	if _, err := decodeState("c1", map[string]interface{}{"cumulativeLiters": "abc"}); err == nil {
		t.Error("Expected error for malformed decimal")
	}
}

func TestDecodeEntry_Metadata(t *testing.T) {
	in := purchase("c1", "p1", "3.5", time.Now().UTC())
	in.Metadata = map[string]string{"station": "north"}

	data := encodeEntry(in)
	// Firestore returns nested maps as map[string]interface{}
	data["metadata"] = map[string]interface{}{"station": "north"}

	got, err := decodeEntry("c1", "p1", data)
	if err != nil {
		t.Fatalf("decodeEntry failed: %v", err)
	}
	if got.Metadata["station"] != "north" || !got.Liters.Equal(in.Liters) || got.Kind != loyalty.EntryKindPurchase {
		t.Errorf("Entry not preserved: %+v", got)
	}
}

func TestFirestore_Tiers(t *testing.T) {
	storage := setupTestStorage(t, "tiers")
	ctx := context.Background()

	if _, err := storage.GetTiers(ctx); !errors.Is(err, loyalty.ErrTiersNotConfigured) {
		t.Fatalf("Expected ErrTiersNotConfigured, got %v", err)
	}

	tiers := []loyalty.TierDefinition{
		{Name: "Bronze", LevelNumber: 1},
		{Name: "Silver", LevelNumber: 2, Requirements: loyalty.TierRequirements{MinimumLiters: decimal.NewFromInt(500)}},
	}
	if err := storage.SetTiers(ctx, tiers); err != nil {
		t.Fatalf("SetTiers failed: %v", err)
	}

	got, err := storage.GetTiers(ctx)
	if err != nil {
		t.Fatalf("GetTiers failed: %v", err)
	}
	if len(got) != 2 || !got[1].Requirements.MinimumLiters.Equal(decimal.NewFromInt(500)) {
		t.Errorf("Unexpected tiers: %+v", got)
	}
}

func TestFirestore_ApplyEntry(t *testing.T) {
	storage := setupTestStorage(t, "apply")
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	if _, err := storage.GetCustomer(ctx, "c1"); !errors.Is(err, loyalty.ErrCustomerNotFound) {
		t.Errorf("Expected ErrCustomerNotFound, got %v", err)
	}

	state, err := storage.ApplyEntry(ctx, purchase("c1", "p1", "20", now))
	if err != nil {
		t.Fatalf("ApplyEntry failed: %v", err)
	}
	if !state.CumulativeLiters.Equal(decimal.NewFromInt(20)) {
		t.Errorf("Expected 20 liters, got %s", state.CumulativeLiters)
	}

	if _, err := storage.ApplyEntry(ctx, purchase("c1", "p1", "20", now)); !errors.Is(err, loyalty.ErrDuplicateEntry) {
		t.Errorf("Expected ErrDuplicateEntry, got %v", err)
	}

	stored, err := storage.GetCustomer(ctx, "c1")
	if err != nil {
		t.Fatalf("GetCustomer failed: %v", err)
	}
	if stored.PurchaseCount != 1 {
		t.Errorf("Replay changed state: %+v", stored)
	}

	entry, err := storage.GetEntry(ctx, "c1", "p1")
	if err != nil || entry == nil {
		t.Fatalf("GetEntry failed: %v", err)
	}
	if !entry.Amount.Equal(decimal.RequireFromString("15.75")) {
		t.Errorf("Entry not preserved: %+v", entry)
	}

	missing, err := storage.GetEntry(ctx, "c1", "nope")
	if err != nil || missing != nil {
		t.Errorf("Expected nil, nil for missing entry, got %v, %v", missing, err)
	}
}

func TestFirestore_ApplyEntry_PriorLiters(t *testing.T) {
	storage := setupTestStorage(t, "prior")
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	if _, err := storage.ApplyEntry(ctx, purchase("c1", "p1", "40", now)); err != nil {
		t.Fatalf("ApplyEntry failed: %v", err)
	}

	stale := purchase("c1", "p2", "10", now)
	zero := decimal.Zero
	stale.PriorLiters = &zero
	if _, err := storage.ApplyEntry(ctx, stale); !errors.Is(err, loyalty.ErrStateConflict) {
		t.Fatalf("Expected ErrStateConflict, got %v", err)
	}
	if entry, _ := storage.GetEntry(ctx, "c1", "p2"); entry != nil {
		t.Errorf("Rejected entry must not be stored, got %+v", entry)
	}
}

func TestFirestore_ReplaceCustomer(t *testing.T) {
	storage := setupTestStorage(t, "replace")
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	rebuilt := loyalty.NewCustomerState("c1")
	if err := storage.ReplaceCustomer(ctx, rebuilt, rebuilt); !errors.Is(err, loyalty.ErrCustomerNotFound) {
		t.Errorf("Expected ErrCustomerNotFound, got %v", err)
	}

	read, err := storage.ApplyEntry(ctx, purchase("c1", "p1", "10", now))
	if err != nil {
		t.Fatalf("ApplyEntry failed: %v", err)
	}
	if _, err := storage.ApplyEntry(ctx, purchase("c1", "p2", "5", now)); err != nil {
		t.Fatalf("ApplyEntry failed: %v", err)
	}

	rebuilt.CumulativeLiters = decimal.NewFromInt(10)
	if err := storage.ReplaceCustomer(ctx, read, rebuilt); !errors.Is(err, loyalty.ErrStateConflict) {
		t.Fatalf("Expected ErrStateConflict, got %v", err)
	}

	stored, err := storage.GetCustomer(ctx, "c1")
	if err != nil {
		t.Fatalf("GetCustomer failed: %v", err)
	}
	rebuilt.CumulativeLiters = decimal.NewFromInt(99)
	if err := storage.ReplaceCustomer(ctx, stored, rebuilt); err != nil {
		t.Fatalf("ReplaceCustomer failed: %v", err)
	}
	stored, _ = storage.GetCustomer(ctx, "c1")
	if !stored.CumulativeLiters.Equal(decimal.NewFromInt(99)) {
		t.Errorf("Expected 99 liters, got %s", stored.CumulativeLiters)
	}
}

func TestFirestore_ListEntries(t *testing.T) {
	storage := setupTestStorage(t, "list")
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if _, err := storage.ApplyEntry(ctx, purchase("c1", fmt.Sprintf("p%d", i), "1", base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatalf("ApplyEntry failed: %v", err)
		}
	}

	all, err := storage.ListEntries(ctx, "c1", loyalty.LedgerFilter{})
	if err != nil {
		t.Fatalf("ListEntries failed: %v", err)
	}
	if len(all) != 3 || all[0].ID != "p2" {
		t.Errorf("Expected newest first, got %+v", all)
	}

	limited, _ := storage.ListEntries(ctx, "c1", loyalty.LedgerFilter{Limit: 1})
	if len(limited) != 1 {
		t.Errorf("Expected 1 entry, got %d", len(limited))
	}
}
