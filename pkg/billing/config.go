package billing

import (
	"context"

	"github.com/mihaimyh/goloyalty/pkg/loyalty"
)

// Config defines the standard configuration all providers should accept
type Config struct {
	// Engine is the loyalty engine that records purchases reported by the provider
	Engine *loyalty.Engine

	// WebhookSecret is used to verify incoming webhook requests
	WebhookSecret string

	// Metrics is an optional metrics collector for tracking billing provider operations.
	// If nil, metrics will be silently ignored (no-op).
	// Use billing/metrics/prometheus.DefaultMetrics(namespace) for Prometheus metrics.
	Metrics Metrics

	// Logger is used for structured logging (default: loyalty.NoopLogger)
	Logger loyalty.Logger

	// OnPurchase is called after a purchase from the provider was recorded.
	// Replayed events do not trigger it. An error fails the webhook so the
	// provider retries, but the recorded purchase is not rolled back.
	OnPurchase func(ctx context.Context, event WebhookEvent) error
}
