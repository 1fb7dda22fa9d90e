// Package fiber provides Fiber middleware gating routes on loyalty tiers
package fiber

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/mihaimyh/goloyalty/pkg/loyalty"
)

// Response headers set on admitted requests
const (
	HeaderTier  = "X-Loyalty-Tier"
	HeaderLevel = "X-Loyalty-Level"
)

// StandingKey is the Fiber Locals key holding the standing of an admitted customer
const StandingKey = "loyalty.standing"

// CustomerIDExtractor extracts the customer ID from a Fiber context
// Return empty string if customer is not authenticated
type CustomerIDExtractor func(c *fiber.Ctx) string

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
	OnForbidden func(c *fiber.Ctx, standing *loyalty.Standing) error

	// OnUnauthorized is called when customer is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(c *fiber.Ctx) error

	// OnError is called when an internal error occurs
	// If nil, returns 500 Internal Server Error (503 when storage is unavailable)
	OnError func(c *fiber.Ctx, err error) error
}

// Middleware creates a Fiber middleware that admits customers whose tier qualifies
func Middleware(cfg Config) fiber.Handler {
	// Validate required configuration at startup (fail fast)
	if cfg.Engine == nil {
		panic("goloyalty/fiber: Config.Engine is required")
	}
	if cfg.GetCustomerID == nil {
		panic("goloyalty/fiber: Config.GetCustomerID is required")
	}

	// Set defaults
	if cfg.ForbiddenStatusCode == 0 {
		cfg.ForbiddenStatusCode = fiber.StatusForbidden
	}

	return func(c *fiber.Ctx) error {
		// Extract customer ID
		customerID := cfg.GetCustomerID(c)
		if customerID == "" {
			if cfg.OnUnauthorized != nil {
				return cfg.OnUnauthorized(c)
			}
			return defaultUnauthorized(c)
		}

		standing, err := cfg.Engine.GetStanding(c.UserContext(), customerID, c.Get(fiber.HeaderAcceptLanguage))
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

		c.Set(HeaderTier, standing.Current.Name)
		c.Set(HeaderLevel, strconv.Itoa(standing.Current.LevelNumber))
		c.Locals(StandingKey, standing)

		// Proceed to handler
		return c.Next()
	}
}

// StandingFromContext returns the standing stored by Middleware, if any
func StandingFromContext(c *fiber.Ctx) (*loyalty.Standing, bool) {
	standing, ok := c.Locals(StandingKey).(*loyalty.Standing)
	return standing, ok
}

// Default error handlers

func defaultUnauthorized(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
}

func defaultForbidden(c *fiber.Ctx, standing *loyalty.Standing, cfg Config) error {
	body := fiber.Map{
		"error":          "Tier does not qualify",
		"tier":           standing.Current.Name,
		"level":          standing.Current.LevelNumber,
		"required_level": cfg.MinimumLevel,
	}
	if cfg.RequireBenefit != "" {
		body["required_benefit"] = cfg.RequireBenefit
	}
	return c.Status(cfg.ForbiddenStatusCode).JSON(body)
}

func defaultError(c *fiber.Ctx, err error) error {
	if errors.Is(err, loyalty.ErrCircuitOpen) || errors.Is(err, loyalty.ErrStorageUnavailable) {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Service Unavailable"})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Internal Server Error"})
}

// Convenience extractors for Customer ID

// FromContext returns a CustomerIDExtractor that gets customer ID from Fiber context values (Locals)
// This is the recommended approach for integrating with auth middleware that sets
// customer information via c.Locals("CustomerID", "...") or similar.
//
// Example:
//
//	// In your auth middleware:
//	c.Locals("CustomerID", customerID)
//
//	// In loyalty middleware config:
//	GetCustomerID: fiber.FromContext("CustomerID")
func FromContext(key string) CustomerIDExtractor {
	return func(c *fiber.Ctx) string {
		if val := c.Locals(key); val != nil {
			if str, ok := val.(string); ok {
				return str
			}
		}
		return ""
	}
}

// FromHeader returns a CustomerIDExtractor that gets customer ID from a header
// Fiber v2 uses c.Get() for headers (not c.GetHeader())
func FromHeader(headerName string) CustomerIDExtractor {
	return func(c *fiber.Ctx) string {
		return c.Get(headerName)
	}
}

// FromParam returns a CustomerIDExtractor that gets customer ID from a route parameter
func FromParam(paramName string) CustomerIDExtractor {
	return func(c *fiber.Ctx) string {
		return c.Params(paramName)
	}
}

// FromQuery returns a CustomerIDExtractor that gets customer ID from a query parameter
func FromQuery(queryName string) CustomerIDExtractor {
	return func(c *fiber.Ctx) string {
		return c.Query(queryName)
	}
}
