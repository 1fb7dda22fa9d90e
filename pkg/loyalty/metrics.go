package loyalty

import "time"

// Metrics defines the interface for tracking accrual operations and performance.
type Metrics interface {
	// RecordPurchase records a purchase accrual attempt and the points it produced.
	RecordPurchase(tier string, points int64, success bool)

	// RecordCashback records cashback credited at a tier.
	RecordCashback(tier string, amount float64)

	// RecordCommission records a referral commission credited at the referrer's tier.
	RecordCommission(tier string, amount float64)

	// RecordTierPromotion records a customer moving up from one tier to another.
	RecordTierPromotion(fromTier, toTier string)

	// RecordStandingCheck records the latency of a standing lookup.
	RecordStandingCheck(duration time.Duration)

	// RecordReconciliation records a reconciliation run and whether it found drift.
	RecordReconciliation(drifted bool)

	// RecordCacheHit records a cache hit for a specific cache type (e.g., "tiers", "customer").
	RecordCacheHit(cacheType string)

	// RecordCacheMiss records a cache miss for a specific cache type.
	RecordCacheMiss(cacheType string)

	// RecordStorageOperation records the duration and status of a storage operation.
	RecordStorageOperation(operation string, duration time.Duration, err error)

	// RecordCircuitBreakerStateChange records a circuit breaker state change.
	RecordCircuitBreakerStateChange(state string)

	// RecordFallback records serving data from the last known good copy.
	RecordFallback(source string)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordPurchase(tier string, points int64, success bool)                     {}
func (n *NoopMetrics) RecordCashback(tier string, amount float64)                                 {}
func (n *NoopMetrics) RecordCommission(tier string, amount float64)                               {}
func (n *NoopMetrics) RecordTierPromotion(fromTier, toTier string)                                {}
func (n *NoopMetrics) RecordStandingCheck(duration time.Duration)                                 {}
func (n *NoopMetrics) RecordReconciliation(drifted bool)                                          {}
func (n *NoopMetrics) RecordCacheHit(cacheType string)                                            {}
func (n *NoopMetrics) RecordCacheMiss(cacheType string)                                           {}
func (n *NoopMetrics) RecordStorageOperation(operation string, duration time.Duration, err error) {}
func (n *NoopMetrics) RecordCircuitBreakerStateChange(state string)                               {}
func (n *NoopMetrics) RecordFallback(source string)                                               {}
