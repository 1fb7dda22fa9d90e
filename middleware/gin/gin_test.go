package gin

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	gongin "github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/mihaimyh/goloyalty/pkg/loyalty"
	"github.com/mihaimyh/goloyalty/storage/memory"
)

// errorStorage is a mock storage that always fails on GetCustomer
type errorStorage struct {
	*memory.Storage
}

func (s *errorStorage) GetCustomer(_ context.Context, _ string) (*loyalty.CustomerState, error) {
	return nil, errors.New("connection refused")
}

func init() {
	gongin.SetMode(gongin.TestMode)
}

func tiers() []loyalty.TierDefinition {
	return []loyalty.TierDefinition{
		{Name: "Lead", LevelNumber: 1},
		{Name: "Silver", LevelNumber: 2, Requirements: loyalty.TierRequirements{MinimumLiters: decimal.NewFromInt(50)}},
		{
			Name:         "Gold",
			LevelNumber:  3,
			Requirements: loyalty.TierRequirements{MinimumLiters: decimal.NewFromInt(150)},
			Benefits:     loyalty.TierBenefits{PrioritySupport: true},
		},
	}
}

// Test helper to create a test engine
func setupTestEngine(t *testing.T, storage loyalty.Storage) *loyalty.Engine {
	t.Helper()

	engine, err := loyalty.NewEngine(storage, nil)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	if _, err := engine.SetTiers(context.Background(), tiers()); err != nil {
		t.Fatalf("Failed to set tiers: %v", err)
	}
	return engine
}

func setupLiters(t *testing.T, engine *loyalty.Engine, customerID string, liters int64) {
	t.Helper()

	_, err := engine.RecordPurchase(context.Background(), loyalty.PurchaseEvent{
		CustomerID: customerID,
		Liters:     decimal.NewFromInt(liters),
	})
	if err != nil {
		t.Fatalf("Failed to record purchase: %v", err)
	}
}

func newRouter(cfg Config) *gongin.Engine {
	r := gongin.New()
	r.Use(Middleware(cfg))
	r.GET("/api/test", func(c *gongin.Context) {
		standing, _ := StandingFromContext(c)
		c.String(http.StatusOK, standing.Current.Name)
	})
	return r
}

func serve(r http.Handler, customerID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", "/api/test", http.NoBody)
	if customerID != "" {
		req.Header.Set("X-Customer-ID", customerID)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_Success(t *testing.T) {
	engine := setupTestEngine(t, memory.New())
	setupLiters(t, engine, "customer1", 180)

	r := newRouter(Config{
		Engine:         engine,
		GetCustomerID:  FromHeader("X-Customer-ID"),
		MinimumLevel:   2,
		RequireBenefit: loyalty.BenefitPrioritySupport,
	})

	rec := serve(r, "customer1")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != "Gold" {
		t.Errorf("Expected standing Gold in context, got %s", rec.Body.String())
	}
	if rec.Header().Get(HeaderLevel) != "3" {
		t.Errorf("Expected level header 3, got %s", rec.Header().Get(HeaderLevel))
	}
}

func TestMiddleware_Forbidden(t *testing.T) {
	engine := setupTestEngine(t, memory.New())
	setupLiters(t, engine, "customer1", 60)

	r := newRouter(Config{
		Engine:              engine,
		GetCustomerID:       FromHeader("X-Customer-ID"),
		MinimumLevel:        3,
		ForbiddenStatusCode: http.StatusPaymentRequired,
	})

	rec := serve(r, "customer1")
	if rec.Code != http.StatusPaymentRequired {
		t.Errorf("Expected status 402, got %d", rec.Code)
	}
	if rec.Header().Get(HeaderTier) != "" {
		t.Error("Expected no tier header on rejected request")
	}
}

func TestMiddleware_MissingAuth(t *testing.T) {
	engine := setupTestEngine(t, memory.New())

	rec := serve(newRouter(Config{Engine: engine, GetCustomerID: FromHeader("X-Customer-ID")}), "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", rec.Code)
	}
}

func TestMiddleware_StorageError(t *testing.T) {
	engine := setupTestEngine(t, &errorStorage{Storage: memory.New()})

	rec := serve(newRouter(Config{Engine: engine, GetCustomerID: FromHeader("X-Customer-ID")}), "customer1")
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", rec.Code)
	}
}

func TestMiddleware_CircuitOpen(t *testing.T) {
	storage := &errorStorage{Storage: memory.New()}
	engine, err := loyalty.NewEngine(storage, &loyalty.Config{
		CacheConfig:          &loyalty.CacheConfig{Enabled: true},
		CircuitBreakerConfig: &loyalty.CircuitBreakerConfig{Enabled: true, FailureThreshold: 1},
	})
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	if _, err := engine.SetTiers(context.Background(), tiers()); err != nil {
		t.Fatalf("Failed to set tiers: %v", err)
	}
	// Warm the tier cache so only customer reads reach storage
	if _, err := engine.GetTiers(context.Background()); err != nil {
		t.Fatalf("Failed to load tiers: %v", err)
	}

	r := newRouter(Config{Engine: engine, GetCustomerID: FromHeader("X-Customer-ID")})
	_ = serve(r, "customer1") // trips the breaker

	rec := serve(r, "customer1")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", rec.Code)
	}
}

func TestMiddleware_PanicsWithoutEngine(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Expected panic for missing engine")
		}
	}()
	Middleware(Config{GetCustomerID: FromHeader("X-Customer-ID")})
}

func TestExtractors(t *testing.T) {
	r := gongin.New()
	r.GET("/customers/:id", func(c *gongin.Context) {
		c.Set("CustomerID", "from-context")
		c.String(http.StatusOK, FromParam("id")(c)+","+FromQuery("c")(c)+","+FromContext("CustomerID")(c))
	})

	req := httptest.NewRequest("GET", "/customers/abc?c=xyz", http.NoBody)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Body.String() != "abc,xyz,from-context" {
		t.Errorf("Unexpected extractor output: %s", rec.Body.String())
	}
}
