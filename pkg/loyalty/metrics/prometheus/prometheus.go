// Package prommetrics implements loyalty.Metrics with Prometheus collectors.
package prommetrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics implements loyalty.Metrics using Prometheus.
type Metrics struct {
	purchasesTotal             *prometheus.CounterVec
	pointsAwarded              *prometheus.CounterVec
	cashbackAwarded            *prometheus.CounterVec
	commissionCredited         *prometheus.CounterVec
	tierPromotionsTotal        *prometheus.CounterVec
	standingCheckDuration      prometheus.Histogram
	reconciliationsTotal       *prometheus.CounterVec
	cacheHitsTotal             *prometheus.CounterVec
	cacheMissesTotal           *prometheus.CounterVec
	storageOpsDuration         *prometheus.HistogramVec
	storageOpsErrors           *prometheus.CounterVec
	circuitBreakerStateChanges *prometheus.CounterVec
	fallbackTotal              *prometheus.CounterVec
}

// NewMetrics creates a new Prometheus metrics implementation.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		purchasesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "purchases_total",
			Help:      "Total number of purchase accrual attempts.",
		}, []string{"tier", "success"}),

		pointsAwarded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "points_awarded_total",
			Help:      "Total loyalty points awarded.",
		}, []string{"tier"}),

		cashbackAwarded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cashback_awarded_total",
			Help:      "Total cashback credited, in currency units.",
		}, []string{"tier"}),

		commissionCredited: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commission_credited_total",
			Help:      "Total referral commission credited, in currency units.",
		}, []string{"tier"}),

		tierPromotionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tier_promotions_total",
			Help:      "Total number of tier promotions.",
		}, []string{"from", "to"}),

		standingCheckDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "standing_check_duration_seconds",
			Help:      "Latency of standing lookups.",
			Buckets:   prometheus.DefBuckets,
		}),

		reconciliationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliations_total",
			Help:      "Total number of ledger reconciliations.",
		}, []string{"drifted"}),

		cacheHitsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits.",
		}, []string{"type"}),

		cacheMissesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses.",
		}, []string{"type"}),

		storageOpsDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "storage_operation_duration_seconds",
			Help:      "Latency of storage operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		storageOpsErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_operation_errors_total",
			Help:      "Total number of storage operation errors.",
		}, []string{"operation"}),

		circuitBreakerStateChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state_changes_total",
			Help:      "Total number of circuit breaker state changes.",
		}, []string{"state"}),

		fallbackTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallback_total",
			Help:      "Total number of reads served from the last known good copy.",
		}, []string{"source"}),
	}
}

func (m *Metrics) RecordPurchase(tier string, points int64, success bool) {
	m.purchasesTotal.WithLabelValues(tier, strconv.FormatBool(success)).Inc()
	if success && points > 0 {
		m.pointsAwarded.WithLabelValues(tier).Add(float64(points))
	}
}

func (m *Metrics) RecordCashback(tier string, amount float64) {
	if amount > 0 {
		m.cashbackAwarded.WithLabelValues(tier).Add(amount)
	}
}

func (m *Metrics) RecordCommission(tier string, amount float64) {
	if amount > 0 {
		m.commissionCredited.WithLabelValues(tier).Add(amount)
	}
}

func (m *Metrics) RecordTierPromotion(fromTier, toTier string) {
	m.tierPromotionsTotal.WithLabelValues(fromTier, toTier).Inc()
}

func (m *Metrics) RecordStandingCheck(duration time.Duration) {
	m.standingCheckDuration.Observe(duration.Seconds())
}

func (m *Metrics) RecordReconciliation(drifted bool) {
	m.reconciliationsTotal.WithLabelValues(strconv.FormatBool(drifted)).Inc()
}

func (m *Metrics) RecordCacheHit(cacheType string) {
	m.cacheHitsTotal.WithLabelValues(cacheType).Inc()
}

func (m *Metrics) RecordCacheMiss(cacheType string) {
	m.cacheMissesTotal.WithLabelValues(cacheType).Inc()
}

func (m *Metrics) RecordStorageOperation(operation string, duration time.Duration, err error) {
	m.storageOpsDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		m.storageOpsErrors.WithLabelValues(operation).Inc()
	}
}

func (m *Metrics) RecordCircuitBreakerStateChange(state string) {
	m.circuitBreakerStateChanges.WithLabelValues(state).Inc()
}

func (m *Metrics) RecordFallback(source string) {
	m.fallbackTotal.WithLabelValues(source).Inc()
}

// DefaultMetrics returns a Metrics implementation using the default Prometheus registerer.
func DefaultMetrics(namespace string) *Metrics {
	return NewMetrics(prometheus.DefaultRegisterer, namespace)
}
