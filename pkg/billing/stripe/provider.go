package stripe

import (
	"net/http"
	"strings"
	"time"

	"github.com/mihaimyh/goloyalty/pkg/billing"
	"github.com/mihaimyh/goloyalty/pkg/billing/internal"
	"github.com/mihaimyh/goloyalty/pkg/loyalty"
)

const (
	providerName               = "stripe"
	defaultRateLimitWindow     = time.Minute
	defaultRateLimitRequests   = 100
	defaultMaxBodyBytes        = 256 * 1024
	defaultLitersMetadataKey   = "liters"
	defaultCustomerMetadataKey = "customer_id"
)

// Config extends billing.Config with Stripe-specific options
type Config struct {
	billing.Config // Base config (Engine, Metrics, etc.)

	// StripeWebhookSecret is the endpoint signing secret (whsec_...).
	// Falls back to Config.WebhookSecret when empty.
	StripeWebhookSecret string

	// LitersMetadataKey is the checkout session metadata key holding the purchased volume
	// Default: "liters"
	LitersMetadataKey string

	// CustomerMetadataKey is the metadata key used when client_reference_id is empty
	// Default: "customer_id"
	CustomerMetadataKey string

	// MaxBodyBytes caps the webhook payload size (default: 256KB)
	MaxBodyBytes int64

	// RateLimitRequests and RateLimitWindow bound webhook requests per client IP
	// Default: 100 per minute
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// IgnoreAPIVersionMismatch accepts events rendered for another Stripe API version
	IgnoreAPIVersionMismatch bool
}

// Provider implements the billing.Provider interface for Stripe.
// Paid checkout sessions are recorded as loyalty purchases keyed by session ID.
type Provider struct {
	engine        *loyalty.Engine
	config        Config
	rateLimiter   *internal.RateLimiter
	webhookSecret string
	metrics       billing.Metrics
	logger        loyalty.Logger
}

// NewProvider creates a new Stripe billing provider
func NewProvider(config Config) (*Provider, error) {
	if config.Engine == nil {
		return nil, billing.ErrProviderNotConfigured
	}

	secret := strings.TrimSpace(config.StripeWebhookSecret)
	if secret == "" {
		secret = strings.TrimSpace(config.WebhookSecret)
	}
	if secret == "" {
		return nil, billing.ErrProviderNotConfigured
	}

	// Apply defaults
	if config.LitersMetadataKey == "" {
		config.LitersMetadataKey = defaultLitersMetadataKey
	}
	if config.CustomerMetadataKey == "" {
		config.CustomerMetadataKey = defaultCustomerMetadataKey
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = defaultMaxBodyBytes
	}
	if config.RateLimitRequests <= 0 {
		config.RateLimitRequests = defaultRateLimitRequests
	}
	if config.RateLimitWindow <= 0 {
		config.RateLimitWindow = defaultRateLimitWindow
	}

	metrics := config.Metrics
	if metrics == nil {
		metrics = &billing.NoopMetrics{}
	}
	logger := config.Logger
	if logger == nil {
		logger = &loyalty.NoopLogger{}
	}

	return &Provider{
		engine:        config.Engine,
		config:        config,
		rateLimiter:   internal.NewRateLimiter(config.RateLimitRequests, config.RateLimitWindow),
		webhookSecret: secret,
		metrics:       metrics,
		logger:        logger,
	}, nil
}

// Name returns the provider name
func (p *Provider) Name() string {
	return providerName
}

// WebhookHandler returns the HTTP handler for Stripe webhooks
func (p *Provider) WebhookHandler() http.Handler {
	return p.rateLimiter.Middleware(http.HandlerFunc(p.handleWebhook))
}

var _ billing.Provider = (*Provider)(nil)
