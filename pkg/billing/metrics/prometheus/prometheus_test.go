package prommetrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/mihaimyh/goloyalty/pkg/billing"
)

var _ billing.Metrics = (*Metrics)(nil)

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, "test")

	m.RecordWebhookEvent("stripe", "checkout.session.completed", "success")
	m.RecordWebhookEvent("stripe", "checkout.session.completed", "success")
	m.RecordWebhookEvent("stripe", "checkout.session.completed", "duplicate")
	m.RecordWebhookError("stripe", "auth_failed")
	m.RecordPurchaseImported("stripe", "Lead", 60.5, 605)
	m.RecordPurchaseImported("stripe", "Silver", 10, 0)
	m.RecordTierChange("stripe", "Lead", "Silver")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.webhookEventsTotal.WithLabelValues("stripe", "checkout.session.completed", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.webhookEventsTotal.WithLabelValues("stripe", "checkout.session.completed", "duplicate")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.webhookErrorsTotal.WithLabelValues("stripe", "auth_failed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.purchasesImportedTotal.WithLabelValues("stripe", "Lead")))
	assert.Equal(t, 60.5, testutil.ToFloat64(m.litersImportedTotal.WithLabelValues("stripe", "Lead")))
	assert.Equal(t, float64(605), testutil.ToFloat64(m.pointsImportedTotal.WithLabelValues("stripe", "Lead")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.pointsImportedTotal, "test_billing_points_imported_total"))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.tierChangesTotal.WithLabelValues("stripe", "Lead", "Silver")))
}

func TestMetrics_ProcessingDuration(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, "test")

	m.RecordWebhookProcessingDuration("stripe", "checkout.session.completed", 120*time.Millisecond)

	assert.Equal(t, 1, testutil.CollectAndCount(m.webhookProcessingDuration, "test_billing_webhook_processing_duration_seconds"))
}
