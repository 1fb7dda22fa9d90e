package loyalty

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	// commissionEntryPrefix prefixes the ledger ID of the commission credited for a purchase
	commissionEntryPrefix = "commission:"

	// maxStateAttempts bounds the re-reads after a concurrent write to the same customer
	maxStateAttempts = 5
)

// Engine sequences tier lookup, accrual and persistence for customers.
// The calculation functions it calls are pure; Engine owns the I/O around them.
type Engine struct {
	storage Storage
	cache   Cache
	config  Config
	metrics Metrics
	logger  Logger
	now     func() time.Time

	mu             sync.RWMutex
	lastKnownTiers []TierDefinition
}

// NewEngine creates an engine with the given storage and configuration
func NewEngine(storage Storage, config *Config) (*Engine, error) {
	if storage == nil {
		return nil, ErrStorageUnavailable
	}

	var cfg Config
	if config != nil {
		cfg = *config
	}
	if cfg.Metrics == nil {
		cfg.Metrics = &NoopMetrics{}
	}
	if cfg.Logger == nil {
		cfg.Logger = &NoopLogger{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	var cache Cache = NewNoopCache()
	if cc := cfg.CacheConfig; cc != nil && cc.Enabled {
		if cc.TierTTL == 0 {
			cc.TierTTL = 5 * time.Minute
		}
		if cc.CustomerTTL == 0 {
			cc.CustomerTTL = 10 * time.Second
		}
		if cc.MaxCustomers == 0 {
			cc.MaxCustomers = 10000
		}
		cache = NewLRUCache(cc.MaxCustomers)
	}

	if cb := cfg.CircuitBreakerConfig; cb != nil && cb.Enabled {
		if cb.FailureThreshold == 0 {
			cb.FailureThreshold = 5
		}
		if cb.ResetTimeout == 0 {
			cb.ResetTimeout = 30 * time.Second
		}
		metrics, logger := cfg.Metrics, cfg.Logger
		breaker := NewDefaultCircuitBreaker(cb.FailureThreshold, cb.ResetTimeout, func(state CircuitBreakerState) {
			metrics.RecordCircuitBreakerStateChange(string(state))
			logger.Warn("storage circuit breaker changed state", Field{"state", string(state)})
		})
		storage = NewCircuitBreakerStorage(storage, breaker)
	}

	return &Engine{
		storage: storage,
		cache:   cache,
		config:  cfg,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
		now:     cfg.Now,
	}, nil
}

// Catalog returns the display name catalog, or nil when none is configured
func (e *Engine) Catalog() *Catalog {
	return e.config.Catalog
}

func (e *Engine) observe(operation string, start time.Time, err error) {
	e.metrics.RecordStorageOperation(operation, time.Since(start), err)
}

// SetTiers validates, sorts and stores the tier list. Non-fatal findings are
// logged and returned as warnings.
func (e *Engine) SetTiers(ctx context.Context, tiers []TierDefinition) ([]string, error) {
	sorted := CloneTiers(tiers)
	SortTiers(sorted)

	warnings, err := ValidateTiers(sorted)
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		e.logger.Warn("tier configuration warning", Field{"warning", w})
	}

	start := time.Now()
	err = e.storage.SetTiers(ctx, sorted)
	e.observe("set_tiers", start, err)
	if err != nil {
		return warnings, fmt.Errorf("failed to store tiers: %w", err)
	}

	e.cache.InvalidateTiers()
	e.rememberTiers(sorted)
	e.logger.Info("tier configuration updated", Field{"tiers", len(sorted)})
	return warnings, nil
}

// GetTiers returns the tier list sorted by level. When storage fails, the last
// list successfully loaded is served instead.
func (e *Engine) GetTiers(ctx context.Context) ([]TierDefinition, error) {
	if tiers, ok := e.cache.GetTiers(); ok {
		e.metrics.RecordCacheHit("tiers")
		return tiers, nil
	}
	e.metrics.RecordCacheMiss("tiers")

	start := time.Now()
	tiers, err := e.storage.GetTiers(ctx)
	e.observe("get_tiers", start, err)
	if err != nil {
		if errors.Is(err, ErrTiersNotConfigured) {
			return nil, &ConfigurationError{Reason: "no tiers configured", Err: err}
		}
		if fallback := e.knownTiers(); fallback != nil {
			e.metrics.RecordFallback("tiers")
			e.logger.Warn("serving last known tiers after storage failure", Field{"error", err.Error()})
			return fallback, nil
		}
		return nil, err
	}

	SortTiers(tiers)
	if err := checkTierOrder(tiers); err != nil {
		return nil, err
	}

	if cc := e.config.CacheConfig; cc != nil && cc.Enabled {
		e.cache.SetTiers(tiers, cc.TierTTL)
	}
	e.rememberTiers(tiers)
	return tiers, nil
}

func (e *Engine) rememberTiers(tiers []TierDefinition) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastKnownTiers = CloneTiers(tiers)
}

func (e *Engine) knownTiers() []TierDefinition {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return CloneTiers(e.lastKnownTiers)
}

// GetCustomer returns the stored state of a customer
func (e *Engine) GetCustomer(ctx context.Context, customerID string) (*CustomerState, error) {
	if state, ok := e.cache.GetCustomer(customerID); ok {
		e.metrics.RecordCacheHit("customer")
		return state, nil
	}
	e.metrics.RecordCacheMiss("customer")

	start := time.Now()
	state, err := e.storage.GetCustomer(ctx, customerID)
	e.observe("get_customer", start, err)
	if err != nil {
		return nil, err
	}
	e.cacheCustomer(state)
	return state, nil
}

func (e *Engine) cacheCustomer(state *CustomerState) {
	if cc := e.config.CacheConfig; cc != nil && cc.Enabled {
		e.cache.SetCustomer(state, cc.CustomerTTL)
	}
}

// RegisterCustomer creates an empty state for a new customer, optionally
// recording who referred them. A zero since defaults to now.
func (e *Engine) RegisterCustomer(ctx context.Context, customerID, referrerID string,
	since time.Time) (*CustomerState, error) {
	if customerID == "" {
		return nil, fmt.Errorf("%w: customer id is required", ErrInvalidState)
	}
	if referrerID == customerID {
		return nil, fmt.Errorf("%w: customer %s cannot refer themselves", ErrInvalidState, customerID)
	}

	_, err := e.storage.GetCustomer(ctx, customerID)
	switch {
	case err == nil:
		return nil, ErrCustomerExists
	case !errors.Is(err, ErrCustomerNotFound):
		return nil, err
	}

	now := e.now().UTC()
	if since.IsZero() {
		since = now
	}
	state := NewCustomerState(customerID)
	state.ReferrerID = referrerID
	state.CustomerSince = since.UTC()
	state.UpdatedAt = now

	start := time.Now()
	err = e.storage.SetCustomer(ctx, state)
	e.observe("set_customer", start, err)
	if err != nil {
		return nil, err
	}
	e.cache.InvalidateCustomer(customerID)
	e.logger.Info("customer registered",
		Field{"customer_id", customerID},
		Field{"referrer_id", referrerID},
	)
	return state, nil
}

// GetStanding returns the customer's tier, next tier, progress and the
// requirements of the next tier. Unknown customers have a zero state.
// Display names are resolved for locale through the configured Catalog.
func (e *Engine) GetStanding(ctx context.Context, customerID, locale string) (*Standing, error) {
	start := time.Now()
	defer func() { e.metrics.RecordStandingCheck(time.Since(start)) }()

	var (
		tiers []TierDefinition
		state *CustomerState
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		tiers, err = e.GetTiers(gctx)
		return err
	})
	g.Go(func() error {
		s, err := e.GetCustomer(gctx, customerID)
		if errors.Is(err, ErrCustomerNotFound) {
			state = NewCustomerState(customerID)
			return nil
		}
		state = s
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return e.standing(state, tiers, locale)
}

func (e *Engine) standing(state *CustomerState, tiers []TierDefinition, locale string) (*Standing, error) {
	res, err := ResolveTier(state.CumulativeLiters, tiers)
	if err != nil {
		return nil, err
	}
	progress, err := ComputeProgress(state.CumulativeLiters, res.Current, res.Next)
	if err != nil {
		return nil, err
	}

	s := &Standing{
		CustomerID:         state.CustomerID,
		State:              *state,
		Current:            res.Current,
		Next:               res.Next,
		Progress:           progress,
		CurrentDisplayName: e.config.Catalog.TierName(locale, res.Current.Name),
	}
	if res.Next != nil {
		reqs := EvaluateRequirements(state, *res.Next, e.now())
		s.NextRequirements = &reqs
		s.NextDisplayName = e.config.Catalog.TierName(locale, res.Next.Name)
	}
	return s, nil
}

// RecordPurchase accrues a purchase for purchase.CustomerID.
//
// The tier at time of purchase is resolved from the liters held before the
// purchase. The purchase and its state delta are stored atomically under
// PurchaseID, so replaying a purchase returns ErrDuplicateEntry. If another
// write changes the customer's liters first, the accrual is computed again.
// If the customer was referred, a commission computed at the referrer's tier
// is credited to the referrer; failing to credit it does not fail the purchase.
func (e *Engine) RecordPurchase(ctx context.Context, purchase PurchaseEvent) (*PurchaseOutcome, error) {
	if purchase.CustomerID == "" {
		return nil, &InvalidPurchaseError{Field: "customer_id", Reason: "is required"}
	}
	if err := ValidatePurchase(purchase); err != nil {
		e.metrics.RecordPurchase("", 0, false)
		return nil, err
	}
	if purchase.PurchaseID == "" {
		purchase.PurchaseID = uuid.NewString()
	}
	if purchase.Timestamp.IsZero() {
		purchase.Timestamp = e.now()
	}
	purchase.Timestamp = purchase.Timestamp.UTC()

	tiers, err := e.GetTiers(ctx)
	if err != nil {
		return nil, err
	}
	var (
		before  Resolution
		accrual AccrualResult
		state   *CustomerState
	)
	for attempt := 1; ; attempt++ {
		before, accrual, state, err = e.applyPurchase(ctx, tiers, purchase)
		if !errors.Is(err, ErrStateConflict) || attempt == maxStateAttempts {
			break
		}
		e.logger.Debug("customer changed during purchase, recomputing",
			Field{"purchase_id", purchase.PurchaseID},
			Field{"attempt", attempt},
		)
	}
	if err != nil {
		if before.Current.Name != "" {
			e.metrics.RecordPurchase(before.Current.Name, 0, false)
		}
		return nil, err
	}
	e.cacheCustomer(state)

	e.metrics.RecordPurchase(before.Current.Name, accrual.PointsAwarded, true)
	e.metrics.RecordCashback(before.Current.Name, accrual.CashbackAwarded.InexactFloat64())

	after, err := ResolveTier(state.CumulativeLiters, tiers)
	if err != nil {
		return nil, err
	}
	progress, err := ComputeProgress(state.CumulativeLiters, after.Current, after.Next)
	if err != nil {
		return nil, err
	}

	outcome := &PurchaseOutcome{
		PurchaseID: purchase.PurchaseID,
		Accrual:    accrual,
		State:      *state,
		Current:    after.Current,
		Next:       after.Next,
		Progress:   progress,
		Promoted:   after.Current.LevelNumber > before.Current.LevelNumber,
	}
	if outcome.Promoted {
		e.metrics.RecordTierPromotion(before.Current.Name, after.Current.Name)
		e.logger.Info("customer promoted",
			Field{"customer_id", purchase.CustomerID},
			Field{"from", before.Current.Name},
			Field{"to", after.Current.Name},
		)
	}

	if state.ReferrerID != "" && state.ReferrerID != purchase.CustomerID {
		commission, err := e.creditCommission(ctx, tiers, purchase, state.ReferrerID)
		if err != nil {
			e.logger.Error("failed to credit referral commission",
				Field{"purchase_id", purchase.PurchaseID},
				Field{"referrer_id", state.ReferrerID},
				Field{"error", err.Error()},
			)
		}
		outcome.Commission = commission
	}

	e.logger.Debug("purchase recorded",
		Field{"customer_id", purchase.CustomerID},
		Field{"purchase_id", purchase.PurchaseID},
		Field{"points", accrual.PointsAwarded},
		Field{"tier", before.Current.Name},
	)
	return outcome, nil
}

// applyPurchase resolves the tier from the customer's stored liters, computes
// the accrual and stores it expecting those liters to be unchanged.
func (e *Engine) applyPurchase(ctx context.Context, tiers []TierDefinition,
	purchase PurchaseEvent) (Resolution, AccrualResult, *CustomerState, error) {
	prior, err := e.currentState(ctx, purchase.CustomerID)
	if err != nil {
		return Resolution{}, AccrualResult{}, nil, err
	}
	before, err := ResolveTier(prior.CumulativeLiters, tiers)
	if err != nil {
		return Resolution{}, AccrualResult{}, nil, err
	}
	accrual, err := ComputeAccrual(purchase, before.Current)
	if err != nil {
		return before, AccrualResult{}, nil, err
	}

	priorLiters := prior.CumulativeLiters
	entry := &LedgerEntry{
		ID:          purchase.PurchaseID,
		CustomerID:  purchase.CustomerID,
		Kind:        EntryKindPurchase,
		Liters:      purchase.Liters,
		Amount:      purchase.Amount,
		Points:      accrual.PointsAwarded,
		Cashback:    accrual.CashbackAwarded,
		Tier:        before.Current.Name,
		Timestamp:   purchase.Timestamp,
		Metadata:    purchase.Metadata,
		PriorLiters: &priorLiters,
	}

	start := time.Now()
	state, err := e.storage.ApplyEntry(ctx, entry)
	e.observe("apply_entry", start, err)
	switch {
	case err == nil:
		return before, accrual, state, nil
	case errors.Is(err, ErrDuplicateEntry):
		return before, accrual, nil, fmt.Errorf("purchase %s: %w", purchase.PurchaseID, err)
	default:
		return before, accrual, nil, fmt.Errorf("failed to record purchase %s: %w", purchase.PurchaseID, err)
	}
}

// currentState reads straight from storage; accrual must not use a cached balance
func (e *Engine) currentState(ctx context.Context, customerID string) (*CustomerState, error) {
	start := time.Now()
	state, err := e.storage.GetCustomer(ctx, customerID)
	e.observe("get_customer", start, err)
	if errors.Is(err, ErrCustomerNotFound) {
		return NewCustomerState(customerID), nil
	}
	return state, err
}

func (e *Engine) creditCommission(ctx context.Context, tiers []TierDefinition, purchase PurchaseEvent,
	referrerID string) (*CommissionOutcome, error) {
	for attempt := 1; ; attempt++ {
		outcome, err := e.applyCommission(ctx, tiers, purchase, referrerID)
		if !errors.Is(err, ErrStateConflict) || attempt == maxStateAttempts {
			return outcome, err
		}
	}
}

// applyCommission credits the referrer at the tier their stored liters
// resolve to, expecting those liters to be unchanged when the entry lands.
func (e *Engine) applyCommission(ctx context.Context, tiers []TierDefinition, purchase PurchaseEvent,
	referrerID string) (*CommissionOutcome, error) {
	referrer, err := e.currentState(ctx, referrerID)
	if err != nil {
		return nil, err
	}
	res, err := ResolveTier(referrer.CumulativeLiters, tiers)
	if err != nil {
		return nil, err
	}
	amount, err := ComputeCommission(purchase, res.Current)
	if err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, nil
	}

	priorLiters := referrer.CumulativeLiters
	entry := &LedgerEntry{
		ID:               commissionEntryPrefix + purchase.PurchaseID,
		CustomerID:       referrerID,
		Kind:             EntryKindCommission,
		Amount:           purchase.Amount,
		Commission:       amount,
		Tier:             res.Current.Name,
		SourceCustomerID: purchase.CustomerID,
		Timestamp:        purchase.Timestamp,
		PriorLiters:      &priorLiters,
	}
	start := time.Now()
	state, err := e.storage.ApplyEntry(ctx, entry)
	e.observe("apply_entry", start, err)
	if err != nil && !errors.Is(err, ErrDuplicateEntry) {
		return nil, err
	}
	if state != nil {
		e.cacheCustomer(state)
	}

	e.metrics.RecordCommission(res.Current.Name, amount.InexactFloat64())
	return &CommissionOutcome{ReferrerID: referrerID, Amount: amount, Tier: res.Current.Name}, nil
}

// AdjustPoints records a manual correction of a customer's points balance.
// An empty entryID is generated. The balance never drops below zero.
func (e *Engine) AdjustPoints(ctx context.Context, customerID, entryID string, points int64,
	reason string) (*CustomerState, error) {
	if customerID == "" {
		return nil, fmt.Errorf("%w: customer id is required", ErrInvalidState)
	}
	if entryID == "" {
		entryID = uuid.NewString()
	}

	entry := &LedgerEntry{
		ID:         entryID,
		CustomerID: customerID,
		Kind:       EntryKindAdjustment,
		Points:     points,
		Timestamp:  e.now().UTC(),
	}
	if reason != "" {
		entry.Metadata = map[string]string{"reason": reason}
	}

	start := time.Now()
	state, err := e.storage.ApplyEntry(ctx, entry)
	e.observe("apply_entry", start, err)
	if err != nil {
		return nil, err
	}
	e.cacheCustomer(state)
	e.logger.Info("points adjusted",
		Field{"customer_id", customerID},
		Field{"points", points},
		Field{"reason", reason},
	)
	return state, nil
}

// History returns the customer's ledger entries, newest first
func (e *Engine) History(ctx context.Context, customerID string, filter LedgerFilter) ([]*LedgerEntry, error) {
	start := time.Now()
	entries, err := e.storage.ListEntries(ctx, customerID, filter)
	e.observe("list_entries", start, err)
	return entries, err
}

// Reconcile rebuilds a customer's aggregates from the ledger and overwrites
// the stored state when they differ. The ledger is the source of truth. The
// overwrite only lands if no entry was applied since the state was read;
// otherwise the rebuild starts over.
func (e *Engine) Reconcile(ctx context.Context, customerID string) (*ReconcileResult, error) {
	for attempt := 1; ; attempt++ {
		result, err := e.reconcile(ctx, customerID)
		if !errors.Is(err, ErrStateConflict) || attempt == maxStateAttempts {
			return result, err
		}
		e.logger.Debug("customer changed during reconciliation, retrying",
			Field{"customer_id", customerID},
			Field{"attempt", attempt},
		)
	}
}

func (e *Engine) reconcile(ctx context.Context, customerID string) (*ReconcileResult, error) {
	start := time.Now()
	stored, err := e.storage.GetCustomer(ctx, customerID)
	e.observe("get_customer", start, err)
	if err != nil {
		return nil, err
	}

	entries, err := e.History(ctx, customerID, LedgerFilter{})
	if err != nil {
		return nil, err
	}

	rebuilt := NewCustomerState(customerID)
	rebuilt.ReferrerID = stored.ReferrerID
	rebuilt.CustomerSince = stored.CustomerSince
	rebuilt.UpdatedAt = stored.UpdatedAt
	for i := len(entries) - 1; i >= 0; i-- {
		rebuilt.Apply(entries[i])
	}

	result := &ReconcileResult{
		Before:  *stored,
		After:   *stored,
		Entries: len(entries),
	}
	if stored.SameTotals(rebuilt) {
		e.metrics.RecordReconciliation(false)
		return result, nil
	}

	rebuilt.UpdatedAt = e.now().UTC()
	start = time.Now()
	err = e.storage.ReplaceCustomer(ctx, stored, rebuilt)
	e.observe("replace_customer", start, err)
	if err != nil {
		return nil, err
	}
	e.cache.InvalidateCustomer(customerID)

	result.After = *rebuilt
	result.Drifted = true
	e.metrics.RecordReconciliation(true)
	e.logger.Warn("customer state drifted from ledger",
		Field{"customer_id", customerID},
		Field{"stored_liters", stored.CumulativeLiters.String()},
		Field{"ledger_liters", rebuilt.CumulativeLiters.String()},
		Field{"stored_points", stored.CumulativePoints},
		Field{"ledger_points", rebuilt.CumulativePoints},
	)
	return result, nil
}

// CheckGiveawayEligibility evaluates the configured giveaway rule against
// the customer's purchase history
func (e *Engine) CheckGiveawayEligibility(ctx context.Context, customerID string) (*GiveawayEligibility, error) {
	now := e.now().UTC()
	rule := e.config.Giveaway

	entries, err := e.History(ctx, customerID, LedgerFilter{
		Kind:  EntryKindPurchase,
		Since: rule.Since(now),
		Until: &now,
	})
	if err != nil {
		return nil, err
	}
	res := rule.Evaluate(entries, now)
	return &res, nil
}
