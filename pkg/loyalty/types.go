package loyalty

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Benefit names accepted by TierBenefits.Has
const (
	BenefitFreeDelivery    = "free_delivery"
	BenefitPrioritySupport = "priority_support"
	BenefitCashback        = "cashback"
	BenefitCommission      = "commission"
	BenefitDiscount        = "discount"
)

// TierRequirements holds the thresholds of a tier.
// MinimumLiters is the only qualifying threshold; the remaining fields are
// reported to customers but never gate tier membership.
type TierRequirements struct {
	MinimumLiters    decimal.Decimal  `json:"minimum_liters" yaml:"minimum_liters"`
	MinimumPoints    *int64           `json:"minimum_points,omitempty" yaml:"minimum_points,omitempty"`
	MinimumPurchases *int             `json:"minimum_purchases,omitempty" yaml:"minimum_purchases,omitempty"`
	MinimumSpend     *decimal.Decimal `json:"minimum_spend,omitempty" yaml:"minimum_spend,omitempty"`
	MonthsAsCustomer *int             `json:"months_as_customer,omitempty" yaml:"months_as_customer,omitempty"`
}

// TierBenefits holds the rewards granted by a tier. Rates are percentages.
type TierBenefits struct {
	CashbackRate       *decimal.Decimal `json:"cashback_rate,omitempty" yaml:"cashback_rate,omitempty"`
	CommissionRate     *decimal.Decimal `json:"commission_rate,omitempty" yaml:"commission_rate,omitempty"`
	DiscountPercentage *decimal.Decimal `json:"discount_percentage,omitempty" yaml:"discount_percentage,omitempty"`
	FreeDelivery       bool             `json:"free_delivery,omitempty" yaml:"free_delivery,omitempty"`
	PrioritySupport    bool             `json:"priority_support,omitempty" yaml:"priority_support,omitempty"`

	// PointsMultiplier overrides the level based multiplier when set and positive
	PointsMultiplier *decimal.Decimal `json:"points_multiplier,omitempty" yaml:"points_multiplier,omitempty"`
}

// Has reports whether the benefit with the given name is granted.
func (b TierBenefits) Has(name string) bool {
	switch name {
	case BenefitFreeDelivery:
		return b.FreeDelivery
	case BenefitPrioritySupport:
		return b.PrioritySupport
	case BenefitCashback:
		return b.CashbackRate != nil && b.CashbackRate.IsPositive()
	case BenefitCommission:
		return b.CommissionRate != nil && b.CommissionRate.IsPositive()
	case BenefitDiscount:
		return b.DiscountPercentage != nil && b.DiscountPercentage.IsPositive()
	default:
		return false
	}
}

// TierDefinition is a named rank unlocked by cumulative purchase volume
type TierDefinition struct {
	Name         string           `json:"name" yaml:"name"`
	LevelNumber  int              `json:"level_number" yaml:"level_number"`
	Requirements TierRequirements `json:"requirements" yaml:"requirements"`
	Benefits     TierBenefits     `json:"benefits" yaml:"benefits"`
}

// CustomerState is the cumulative accrual state of a customer.
// The current tier is never stored; it is always derived from CumulativeLiters.
type CustomerState struct {
	CustomerID         string          `json:"customer_id"`
	CumulativeLiters   decimal.Decimal `json:"cumulative_liters"`
	CumulativePoints   int64           `json:"cumulative_points"`
	CumulativeSpend    decimal.Decimal `json:"cumulative_spend"`
	CumulativeCashback decimal.Decimal `json:"cumulative_cashback"`
	CommissionBalance  decimal.Decimal `json:"commission_balance"`
	PurchaseCount      int             `json:"purchase_count"`
	ReferrerID         string          `json:"referrer_id,omitempty"`
	CustomerSince      time.Time       `json:"customer_since"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// NewCustomerState returns an empty state for the given customer
func NewCustomerState(customerID string) *CustomerState {
	return &CustomerState{CustomerID: customerID}
}

// Clone returns a copy of the state
func (s *CustomerState) Clone() *CustomerState {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// Apply adds the deltas carried by a ledger entry to the state.
// Points never drop below zero.
func (s *CustomerState) Apply(entry *LedgerEntry) {
	switch entry.Kind {
	case EntryKindPurchase:
		s.CumulativeLiters = s.CumulativeLiters.Add(entry.Liters)
		s.CumulativeSpend = s.CumulativeSpend.Add(entry.Amount)
		s.CumulativeCashback = s.CumulativeCashback.Add(entry.Cashback)
		s.CumulativePoints += entry.Points
		s.PurchaseCount++
	case EntryKindCommission:
		s.CommissionBalance = s.CommissionBalance.Add(entry.Commission)
	case EntryKindAdjustment:
		s.CumulativePoints += entry.Points
	}
	if s.CumulativePoints < 0 {
		s.CumulativePoints = 0
	}
	if entry.Timestamp.After(s.UpdatedAt) {
		s.UpdatedAt = entry.Timestamp
	}
}

// SameTotals reports whether two states carry the same aggregates
func (s *CustomerState) SameTotals(o *CustomerState) bool {
	return s.CumulativeLiters.Equal(o.CumulativeLiters) &&
		s.CumulativePoints == o.CumulativePoints &&
		s.CumulativeSpend.Equal(o.CumulativeSpend) &&
		s.CumulativeCashback.Equal(o.CumulativeCashback) &&
		s.CommissionBalance.Equal(o.CommissionBalance) &&
		s.PurchaseCount == o.PurchaseCount
}

// PurchaseEvent is a verified purchase reported by a sales or billing collaborator
type PurchaseEvent struct {
	PurchaseID string            `json:"purchase_id"`
	CustomerID string            `json:"customer_id"`
	Liters     decimal.Decimal   `json:"liters"`
	Amount     decimal.Decimal   `json:"amount"`
	Timestamp  time.Time         `json:"timestamp"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// AccrualResult is the reward produced by a single purchase
type AccrualResult struct {
	PointsAwarded        int64           `json:"points_awarded"`
	CashbackAwarded      decimal.Decimal `json:"cashback_awarded"`
	TierAtTimeOfPurchase TierDefinition  `json:"tier_at_time_of_purchase"`
}

// Resolution is the outcome of resolving a customer's tier
type Resolution struct {
	Current TierDefinition
	Next    *TierDefinition // nil at the top tier
}

// IsMaxLevel reports whether the current tier is the highest one
func (r Resolution) IsMaxLevel() bool {
	return r.Next == nil
}

// ProgressReport describes how far a customer is from the next tier
type ProgressReport struct {
	IsMaxLevel         bool            `json:"is_max_level"`
	ProgressPercentage float64         `json:"progress_percentage"`
	LitersRemaining    decimal.Decimal `json:"liters_remaining"`
	TargetLiters       decimal.Decimal `json:"target_liters"`
}

// EntryKind classifies ledger entries
type EntryKind string

const (
	// EntryKindPurchase credits liters, spend, points and cashback to the purchaser
	EntryKindPurchase EntryKind = "purchase"
	// EntryKindCommission credits a referral commission to the referrer
	EntryKindCommission EntryKind = "commission"
	// EntryKindAdjustment corrects the points balance
	EntryKindAdjustment EntryKind = "adjustment"
)

// LedgerEntry is an append-only record of a change to a customer's state.
// ID is unique per customer and doubles as the idempotency key.
type LedgerEntry struct {
	ID               string            `json:"id"`
	CustomerID       string            `json:"customer_id"`
	Kind             EntryKind         `json:"kind"`
	Liters           decimal.Decimal   `json:"liters"`
	Amount           decimal.Decimal   `json:"amount"`
	Points           int64             `json:"points"`
	Cashback         decimal.Decimal   `json:"cashback"`
	Commission       decimal.Decimal   `json:"commission"`
	Tier             string            `json:"tier"`
	SourceCustomerID string            `json:"source_customer_id,omitempty"`
	Timestamp        time.Time         `json:"timestamp"`
	Metadata         map[string]string `json:"metadata,omitempty"`

	// PriorLiters, when set, are the cumulative liters the entry was computed
	// from. ApplyEntry refuses the entry if the customer holds a different amount.
	PriorLiters *decimal.Decimal `json:"prior_liters,omitempty"`
}

// Clone returns a deep copy of the entry
func (e *LedgerEntry) Clone() *LedgerEntry {
	if e == nil {
		return nil
	}
	c := *e
	if e.PriorLiters != nil {
		prior := *e.PriorLiters
		c.PriorLiters = &prior
	}
	if e.Metadata != nil {
		c.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// CheckPrior returns ErrStateConflict when the entry was computed from other
// cumulative liters than state holds. A nil state holds zero liters.
func (e *LedgerEntry) CheckPrior(state *CustomerState) error {
	if e.PriorLiters == nil {
		return nil
	}
	held := decimal.Zero
	if state != nil {
		held = state.CumulativeLiters
	}
	if !held.Equal(*e.PriorLiters) {
		return fmt.Errorf("%w: entry %s computed at %s liters, customer %s holds %s",
			ErrStateConflict, e.ID, e.PriorLiters, e.CustomerID, held)
	}
	return nil
}

// LedgerFilter narrows ListEntries results
type LedgerFilter struct {
	Kind  EntryKind  // empty matches all kinds
	Since *time.Time // inclusive
	Until *time.Time // inclusive
	Limit int        // 0 returns every match
}

// Matches reports whether the entry passes the filter (Limit is not considered)
func (f LedgerFilter) Matches(e *LedgerEntry) bool {
	if f.Kind != "" && e.Kind != f.Kind {
		return false
	}
	if f.Since != nil && e.Timestamp.Before(*f.Since) {
		return false
	}
	if f.Until != nil && e.Timestamp.After(*f.Until) {
		return false
	}
	return true
}

// Standing is everything a customer-facing level page needs
type Standing struct {
	CustomerID         string             `json:"customer_id"`
	State              CustomerState      `json:"state"`
	Current            TierDefinition     `json:"current"`
	Next               *TierDefinition    `json:"next,omitempty"`
	Progress           ProgressReport     `json:"progress"`
	NextRequirements   *RequirementStatus `json:"next_requirements,omitempty"`
	CurrentDisplayName string             `json:"current_display_name"`
	NextDisplayName    string             `json:"next_display_name,omitempty"`
}

// Allows reports whether the standing satisfies a minimum level and an optional benefit
func (s *Standing) Allows(minimumLevel int, benefit string) bool {
	if s == nil {
		return false
	}
	if s.Current.LevelNumber < minimumLevel {
		return false
	}
	if benefit != "" && !s.Current.Benefits.Has(benefit) {
		return false
	}
	return true
}

// CommissionOutcome describes a commission credited to a referrer
type CommissionOutcome struct {
	ReferrerID string          `json:"referrer_id"`
	Amount     decimal.Decimal `json:"amount"`
	Tier       string          `json:"tier"`
}

// PurchaseOutcome is the result of Engine.RecordPurchase
type PurchaseOutcome struct {
	PurchaseID string             `json:"purchase_id"`
	Accrual    AccrualResult      `json:"accrual"`
	Commission *CommissionOutcome `json:"commission,omitempty"`
	State      CustomerState      `json:"state"`
	Current    TierDefinition     `json:"current"`
	Next       *TierDefinition    `json:"next,omitempty"`
	Progress   ProgressReport     `json:"progress"`
	Promoted   bool               `json:"promoted"`
}

// ReconcileResult is the result of Engine.Reconcile
type ReconcileResult struct {
	Before  CustomerState `json:"before"`
	After   CustomerState `json:"after"`
	Drifted bool          `json:"drifted"`
	Entries int           `json:"entries"`
}

// CacheConfig holds cache configuration
type CacheConfig struct {
	// Enabled determines if caching is active
	Enabled bool

	// TierTTL is the TTL for the cached tier list (default: 5 minutes)
	TierTTL time.Duration

	// CustomerTTL is the TTL for cached customer states (default: 10 seconds)
	CustomerTTL time.Duration

	// MaxCustomers is the maximum number of customer states to cache (default: 10000)
	MaxCustomers int
}

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	// Enabled determines if the circuit breaker is active
	Enabled bool

	// FailureThreshold is the number of consecutive failures before opening the circuit (default: 5)
	FailureThreshold int

	// ResetTimeout is the duration to wait before transitioning from Open to Half-Open (default: 30 seconds)
	ResetTimeout time.Duration
}

// Config holds engine configuration
type Config struct {
	// CacheConfig configures the caching layer
	CacheConfig *CacheConfig

	// CircuitBreakerConfig wraps the storage with a circuit breaker when enabled
	CircuitBreakerConfig *CircuitBreakerConfig

	// Giveaway is the eligibility rule used by CheckGiveawayEligibility
	Giveaway GiveawayRule

	// Catalog resolves localized tier names (default: tier names are returned as is)
	Catalog *Catalog

	// Metrics is used for tracking accrual operations (default: NoopMetrics)
	Metrics Metrics

	// Logger is used for structured logging (default: NoopLogger)
	Logger Logger

	// Now returns the current time (default: time.Now)
	Now func() time.Time
}
