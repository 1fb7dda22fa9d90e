package prommetrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/goloyalty/pkg/loyalty"
)

var _ loyalty.Metrics = (*Metrics)(nil)

// gather returns the metric families of reg keyed by name
func gather(t *testing.T, reg *prometheus.Registry) map[string]*dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	out := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		out[f.GetName()] = f
	}
	return out
}

func labelValue(m *dto.Metric, name string) string {
	for _, l := range m.GetLabel() {
		if l.GetName() == name {
			return l.GetValue()
		}
	}
	return ""
}

func TestMetrics_RecordPurchase(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	metrics.RecordPurchase("Gold", 150, true)
	metrics.RecordPurchase("Gold", 50, true)
	metrics.RecordPurchase("Gold", 0, false)

	families := gather(t, reg)

	purchases := families["test_purchases_total"]
	require.NotNil(t, purchases)
	for _, m := range purchases.GetMetric() {
		switch labelValue(m, "success") {
		case "true":
			assert.Equal(t, float64(2), m.GetCounter().GetValue())
		case "false":
			assert.Equal(t, float64(1), m.GetCounter().GetValue())
		}
	}

	points := families["test_points_awarded_total"]
	require.NotNil(t, points)
	assert.Equal(t, float64(200), points.GetMetric()[0].GetCounter().GetValue())
}

func TestMetrics_Money(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	metrics.RecordCashback("Silver", 2.5)
	metrics.RecordCashback("Silver", 0)
	metrics.RecordCommission("Gold", 1.25)

	families := gather(t, reg)
	assert.Equal(t, 2.5, families["test_cashback_awarded_total"].GetMetric()[0].GetCounter().GetValue())
	assert.Equal(t, 1.25, families["test_commission_credited_total"].GetMetric()[0].GetCounter().GetValue())
}

func TestMetrics_TierPromotion(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	metrics.RecordTierPromotion("Bronze", "Silver")

	m := gather(t, reg)["test_tier_promotions_total"].GetMetric()[0]
	assert.Equal(t, "Bronze", labelValue(m, "from"))
	assert.Equal(t, "Silver", labelValue(m, "to"))
}

func TestMetrics_StorageOperation(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	metrics.RecordStorageOperation("apply_entry", 10*time.Millisecond, nil)
	metrics.RecordStorageOperation("apply_entry", 20*time.Millisecond, errors.New("boom"))

	families := gather(t, reg)
	hist := families["test_storage_operation_duration_seconds"].GetMetric()[0].GetHistogram()
	assert.Equal(t, uint64(2), hist.GetSampleCount())
	assert.Equal(t, float64(1), families["test_storage_operation_errors_total"].GetMetric()[0].GetCounter().GetValue())
}

func TestMetrics_Misc(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	metrics.RecordStandingCheck(5 * time.Millisecond)
	metrics.RecordReconciliation(true)
	metrics.RecordCacheHit("tiers")
	metrics.RecordCacheMiss("customer")
	metrics.RecordCircuitBreakerStateChange("open")
	metrics.RecordFallback("tiers")

	families := gather(t, reg)
	for _, name := range []string{
		"test_standing_check_duration_seconds",
		"test_reconciliations_total",
		"test_cache_hits_total",
		"test_cache_misses_total",
		"test_circuit_breaker_state_changes_total",
		"test_fallback_total",
	} {
		assert.Contains(t, families, name)
	}
}
