// Package http provides HTTP middleware gating routes on loyalty tiers
package http

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/mihaimyh/goloyalty/pkg/loyalty"
)

// Response headers set on admitted requests
const (
	HeaderTier  = "X-Loyalty-Tier"
	HeaderLevel = "X-Loyalty-Level"
)

// CustomerIDExtractor extracts the customer ID from an HTTP request
// Return empty string if customer is not authenticated
type CustomerIDExtractor func(r *http.Request) string

// Config holds middleware configuration
type Config struct {
	// Engine is the loyalty engine instance
	Engine *loyalty.Engine

	// GetCustomerID extracts customer ID from request (required)
	GetCustomerID CustomerIDExtractor

	// MinimumLevel is the lowest tier level admitted (0 admits every tier)
	MinimumLevel int

	// RequireBenefit names a benefit the current tier must grant,
	// such as loyalty.BenefitFreeDelivery. Empty disables the check.
	RequireBenefit string

	// OnForbidden is called when the customer's tier does not qualify
	// If nil, returns 403 Forbidden
	OnForbidden func(w http.ResponseWriter, r *http.Request, standing *loyalty.Standing)

	// OnUnauthorized is called when customer is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(w http.ResponseWriter, r *http.Request)

	// OnError is called when an internal error occurs
	// If nil, returns 500 Internal Server Error
	OnError func(w http.ResponseWriter, r *http.Request, err error)
}

// Middleware creates an HTTP middleware that admits customers whose tier qualifies
func Middleware(config Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Extract customer ID
			customerID := config.GetCustomerID(r)
			if customerID == "" {
				if config.OnUnauthorized != nil {
					config.OnUnauthorized(w, r)
				} else {
					http.Error(w, "Unauthorized", http.StatusUnauthorized)
				}
				return
			}

			ctx := r.Context()
			standing, err := config.Engine.GetStanding(ctx, customerID, r.Header.Get("Accept-Language"))
			if err != nil {
				if config.OnError != nil {
					config.OnError(w, r, err)
				} else {
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
				return
			}

			if !standing.Allows(config.MinimumLevel, config.RequireBenefit) {
				if config.OnForbidden != nil {
					config.OnForbidden(w, r, standing)
				} else {
					msg := fmt.Sprintf("Tier %s (level %d) does not qualify", standing.Current.Name, standing.Current.LevelNumber)
					http.Error(w, msg, http.StatusForbidden)
				}
				return
			}

			// Tier qualifies, proceed to handler
			w.Header().Set(HeaderTier, standing.Current.Name)
			w.Header().Set(HeaderLevel, strconv.Itoa(standing.Current.LevelNumber))
			next.ServeHTTP(w, r.WithContext(WithStanding(ctx, standing)))
		})
	}
}

// HandlerFunc creates an HTTP middleware that admits qualifying tiers (HandlerFunc version)
func HandlerFunc(config Config) func(http.HandlerFunc) http.HandlerFunc {
	middleware := Middleware(config)
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			middleware(next).ServeHTTP(w, r)
		}
	}
}

// ContextKey is a type for context keys
type ContextKey string

const (
	// CustomerIDKey is the context key for customer ID
	CustomerIDKey ContextKey = "loyalty:customerID"

	// StandingKey is the context key for the standing of an admitted customer
	StandingKey ContextKey = "loyalty:standing"
)

// FromContext returns a CustomerIDExtractor that gets customer ID from request context
func FromContext(key ContextKey) CustomerIDExtractor {
	return func(r *http.Request) string {
		if customerID, ok := r.Context().Value(key).(string); ok {
			return customerID
		}
		return ""
	}
}

// FromHeader returns a CustomerIDExtractor that gets customer ID from a header
func FromHeader(headerName string) CustomerIDExtractor {
	return func(r *http.Request) string {
		return r.Header.Get(headerName)
	}
}

// WithCustomerID adds customer ID to request context
func WithCustomerID(ctx context.Context, customerID string) context.Context {
	return context.WithValue(ctx, CustomerIDKey, customerID)
}

// WithStanding adds a standing to request context
func WithStanding(ctx context.Context, standing *loyalty.Standing) context.Context {
	return context.WithValue(ctx, StandingKey, standing)
}

// StandingFromContext returns the standing stored by Middleware, if any
func StandingFromContext(ctx context.Context) (*loyalty.Standing, bool) {
	standing, ok := ctx.Value(StandingKey).(*loyalty.Standing)
	return standing, ok
}
