package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mihaimyh/goloyalty/pkg/loyalty"
)

// Config holds configuration for the loyalty API handler
type Config struct {
	// Engine is the loyalty engine instance (required)
	Engine *loyalty.Engine

	// GetCustomerID extracts the customer ID from HTTP request (required)
	// Similar to middleware/http pattern
	GetCustomerID func(*http.Request) string

	// GetLocale returns the locale used for tier display names.
	// If nil, the Accept-Language header is used.
	GetLocale func(*http.Request) string

	// OnError handles errors (auth, validation, internal, etc.)
	// If nil, uses default error handling
	OnError func(http.ResponseWriter, *http.Request, error)

	// Logger records internal failures (default: NoopLogger)
	Logger loyalty.Logger
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Engine == nil {
		return fmt.Errorf("engine is required")
	}
	if c.GetCustomerID == nil {
		return fmt.Errorf("getCustomerID is required")
	}
	return nil
}

// NewHandler creates a new loyalty API handler with the given configuration
func NewHandler(config Config) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if config.GetLocale == nil {
		config.GetLocale = FromHeader("Accept-Language")
	}
	if config.Logger == nil {
		config.Logger = &loyalty.NoopLogger{}
	}
	return &Handler{
		config:   config,
		validate: newValidator(),
	}, nil
}

// Helper functions for common CustomerID extraction patterns

// FromHeader returns a function that extracts a value from a header
func FromHeader(headerName string) func(*http.Request) string {
	return func(r *http.Request) string {
		return r.Header.Get(headerName)
	}
}

// FromContext returns a GetCustomerID function that extracts the customer ID from request context
// Uses the same context key pattern as middleware/http
func FromContext(key interface{}) func(*http.Request) string {
	return func(r *http.Request) string {
		if customerID, ok := r.Context().Value(key).(string); ok {
			return customerID
		}
		return ""
	}
}

// FromURLParam returns a GetCustomerID function reading a chi route parameter
func FromURLParam(name string) func(*http.Request) string {
	return func(r *http.Request) string {
		return chi.URLParam(r, name)
	}
}
