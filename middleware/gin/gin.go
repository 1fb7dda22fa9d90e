// Package gin provides Gin middleware gating routes on loyalty tiers
package gin

import (
	"errors"
	"net/http"
	"strconv"

	gongin "github.com/gin-gonic/gin"

	"github.com/mihaimyh/goloyalty/pkg/loyalty"
)

// Response headers set on admitted requests
const (
	HeaderTier  = "X-Loyalty-Tier"
	HeaderLevel = "X-Loyalty-Level"
)

// StandingKey is the Gin context key holding the standing of an admitted customer
const StandingKey = "loyalty.standing"

// CustomerIDExtractor extracts the customer ID from a Gin context
// Return empty string if customer is not authenticated
type CustomerIDExtractor func(c *gongin.Context) string

// Config holds middleware configuration
type Config struct {
	// Engine is the loyalty engine instance
	Engine *loyalty.Engine

	// GetCustomerID extracts customer ID from context (required)
	GetCustomerID CustomerIDExtractor

	// MinimumLevel is the lowest tier level admitted (0 admits every tier)
	MinimumLevel int

	// RequireBenefit names a benefit the current tier must grant. Empty disables the check.
	RequireBenefit string

	// ForbiddenStatusCode is the HTTP status code returned when the tier does not qualify
	// Default: 403 (Forbidden)
	ForbiddenStatusCode int

	// OnForbidden is called when the customer's tier does not qualify
	// If nil, uses default response: ForbiddenStatusCode JSON with tier info
	OnForbidden func(c *gongin.Context, standing *loyalty.Standing)

	// OnUnauthorized is called when customer is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(c *gongin.Context)

	// OnError is called when an internal error occurs
	// If nil, returns 500 Internal Server Error (503 when storage is unavailable)
	OnError func(c *gongin.Context, err error)
}

// Middleware creates a Gin middleware that admits customers whose tier qualifies
func Middleware(cfg Config) gongin.HandlerFunc {
	// Validate required configuration at startup (fail fast)
	if cfg.Engine == nil {
		panic("goloyalty/gin: Config.Engine is required")
	}
	if cfg.GetCustomerID == nil {
		panic("goloyalty/gin: Config.GetCustomerID is required")
	}

	// Set defaults
	if cfg.ForbiddenStatusCode == 0 {
		cfg.ForbiddenStatusCode = http.StatusForbidden
	}

	return func(c *gongin.Context) {
		// Extract customer ID
		customerID := cfg.GetCustomerID(c)
		if customerID == "" {
			if cfg.OnUnauthorized != nil {
				cfg.OnUnauthorized(c)
			} else {
				defaultUnauthorized(c)
			}
			c.Abort()
			return
		}

		standing, err := cfg.Engine.GetStanding(c.Request.Context(), customerID, c.GetHeader("Accept-Language"))
		if err != nil {
			if cfg.OnError != nil {
				cfg.OnError(c, err)
			} else {
				defaultError(c, err)
			}
			c.Abort()
			return
		}

		if !standing.Allows(cfg.MinimumLevel, cfg.RequireBenefit) {
			if cfg.OnForbidden != nil {
				cfg.OnForbidden(c, standing)
			} else {
				defaultForbidden(c, standing, cfg)
			}
			c.Abort()
			return
		}

		c.Header(HeaderTier, standing.Current.Name)
		c.Header(HeaderLevel, strconv.Itoa(standing.Current.LevelNumber))
		c.Set(StandingKey, standing)

		// Proceed to handler
		c.Next()
	}
}

// StandingFromContext returns the standing stored by Middleware, if any
func StandingFromContext(c *gongin.Context) (*loyalty.Standing, bool) {
	val, exists := c.Get(StandingKey)
	if !exists {
		return nil, false
	}
	standing, ok := val.(*loyalty.Standing)
	return standing, ok
}

// Default error handlers

func defaultUnauthorized(c *gongin.Context) {
	c.JSON(http.StatusUnauthorized, gongin.H{"error": "Unauthorized"})
}

func defaultForbidden(c *gongin.Context, standing *loyalty.Standing, cfg Config) {
	body := gongin.H{
		"error":          "Tier does not qualify",
		"tier":           standing.Current.Name,
		"level":          standing.Current.LevelNumber,
		"required_level": cfg.MinimumLevel,
	}
	if cfg.RequireBenefit != "" {
		body["required_benefit"] = cfg.RequireBenefit
	}
	c.JSON(cfg.ForbiddenStatusCode, body)
}

func defaultError(c *gongin.Context, err error) {
	if errors.Is(err, loyalty.ErrCircuitOpen) || errors.Is(err, loyalty.ErrStorageUnavailable) {
		c.JSON(http.StatusServiceUnavailable, gongin.H{"error": "Service Unavailable"})
		return
	}
	c.JSON(http.StatusInternalServerError, gongin.H{"error": "Internal Server Error"})
}

// Convenience extractors for Customer ID

// FromContext returns a CustomerIDExtractor that gets customer ID from Gin context values
// This is the recommended approach for integrating with auth middleware that sets
// customer information via c.Set("CustomerID", "...") or similar.
//
// Example:
//
//	// In your auth middleware:
//	c.Set("CustomerID", customerID)
//
//	// In loyalty middleware config:
//	GetCustomerID: gin.FromContext("CustomerID")
func FromContext(key string) CustomerIDExtractor {
	return func(c *gongin.Context) string {
		if val, exists := c.Get(key); exists {
			if str, ok := val.(string); ok {
				return str
			}
		}
		return ""
	}
}

// FromHeader returns a CustomerIDExtractor that gets customer ID from a header
func FromHeader(headerName string) CustomerIDExtractor {
	return func(c *gongin.Context) string {
		return c.GetHeader(headerName)
	}
}

// FromParam returns a CustomerIDExtractor that gets customer ID from a route parameter
func FromParam(paramName string) CustomerIDExtractor {
	return func(c *gongin.Context) string {
		return c.Param(paramName)
	}
}

// FromQuery returns a CustomerIDExtractor that gets customer ID from a query parameter
func FromQuery(queryName string) CustomerIDExtractor {
	return func(c *gongin.Context) string {
		return c.Query(queryName)
	}
}
