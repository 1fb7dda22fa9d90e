// Package echo provides Echo middleware gating routes on loyalty tiers
package echo

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/mihaimyh/goloyalty/pkg/loyalty"
)

// Response headers set on admitted requests
const (
	HeaderTier  = "X-Loyalty-Tier"
	HeaderLevel = "X-Loyalty-Level"
)

// StandingKey is the Echo context key holding the standing of an admitted customer
const StandingKey = "loyalty.standing"

// CustomerIDExtractor extracts the customer ID from an Echo context
// Return empty string if customer is not authenticated
type CustomerIDExtractor func(c echo.Context) string

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
	OnForbidden func(c echo.Context, standing *loyalty.Standing) error

	// OnUnauthorized is called when customer is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(c echo.Context) error

	// OnError is called when an internal error occurs
	// If nil, returns 500 Internal Server Error (503 when storage is unavailable)
	OnError func(c echo.Context, err error) error
}

// Middleware creates an Echo middleware that admits customers whose tier qualifies
func Middleware(cfg Config) echo.MiddlewareFunc {
	// Validate required configuration at startup (fail fast)
	if cfg.Engine == nil {
		panic("goloyalty/echo: Config.Engine is required")
	}
	if cfg.GetCustomerID == nil {
		panic("goloyalty/echo: Config.GetCustomerID is required")
	}

	// Set defaults
	if cfg.ForbiddenStatusCode == 0 {
		cfg.ForbiddenStatusCode = http.StatusForbidden
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			// Extract customer ID
			customerID := cfg.GetCustomerID(c)
			if customerID == "" {
				if cfg.OnUnauthorized != nil {
					return cfg.OnUnauthorized(c)
				}
				return defaultUnauthorized(c)
			}

			req := c.Request()
			standing, err := cfg.Engine.GetStanding(req.Context(), customerID, req.Header.Get("Accept-Language"))
			if err != nil {
				if cfg.OnError != nil {
					return cfg.OnError(c, err)
				}
				return defaultError(c, err)
			}

			if !standing.Allows(cfg.MinimumLevel, cfg.RequireBenefit) {
				if cfg.OnForbidden != nil {
					return cfg.OnForbidden(c, standing)
				}
				return defaultForbidden(c, standing, cfg)
			}

			c.Response().Header().Set(HeaderTier, standing.Current.Name)
			c.Response().Header().Set(HeaderLevel, strconv.Itoa(standing.Current.LevelNumber))
			c.Set(StandingKey, standing)

			// Proceed to handler
			return next(c)
		}
	}
}

// StandingFromContext returns the standing stored by Middleware, if any
func StandingFromContext(c echo.Context) (*loyalty.Standing, bool) {
	standing, ok := c.Get(StandingKey).(*loyalty.Standing)
	return standing, ok
}

// Default error handlers

func defaultUnauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
}

func defaultForbidden(c echo.Context, standing *loyalty.Standing, cfg Config) error {
	body := map[string]interface{}{
		"error":          "Tier does not qualify",
		"tier":           standing.Current.Name,
		"level":          standing.Current.LevelNumber,
		"required_level": cfg.MinimumLevel,
	}
	if cfg.RequireBenefit != "" {
		body["required_benefit"] = cfg.RequireBenefit
	}
	return c.JSON(cfg.ForbiddenStatusCode, body)
}

func defaultError(c echo.Context, err error) error {
	if errors.Is(err, loyalty.ErrCircuitOpen) || errors.Is(err, loyalty.ErrStorageUnavailable) {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "Service Unavailable"})
	}
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
}

// Convenience extractors for Customer ID

// FromContext returns a CustomerIDExtractor that gets customer ID from Echo context values
// This is the recommended approach for integrating with auth middleware that sets
// customer information via c.Set("CustomerID", "...") or similar.
//
// Example:
//
//	// In your auth middleware:
//	c.Set("CustomerID", customerID)
//
//	// In loyalty middleware config:
//	GetCustomerID: echo.FromContext("CustomerID")
func FromContext(key string) CustomerIDExtractor {
	return func(c echo.Context) string {
		if str, ok := c.Get(key).(string); ok {
			return str
		}
		return ""
	}
}

// FromHeader returns a CustomerIDExtractor that gets customer ID from a header
func FromHeader(headerName string) CustomerIDExtractor {
	return func(c echo.Context) string {
		return c.Request().Header.Get(headerName)
	}
}

// FromParam returns a CustomerIDExtractor that gets customer ID from a route parameter
func FromParam(paramName string) CustomerIDExtractor {
	return func(c echo.Context) string {
		return c.Param(paramName)
	}
}

// FromQuery returns a CustomerIDExtractor that gets customer ID from a query parameter
func FromQuery(queryName string) CustomerIDExtractor {
	return func(c echo.Context) string {
		return c.QueryParam(queryName)
	}
}
