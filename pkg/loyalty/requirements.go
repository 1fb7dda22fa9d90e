package loyalty

import (
	"time"

	"github.com/shopspring/decimal"
)

// Requirement names reported by EvaluateRequirements
const (
	RequirementLiters           = "minimum_liters"
	RequirementPoints           = "minimum_points"
	RequirementPurchases        = "minimum_purchases"
	RequirementSpend            = "minimum_spend"
	RequirementMonthsAsCustomer = "months_as_customer"
)

// RequirementCheck compares one tier requirement with the customer's value
type RequirementCheck struct {
	Name     string          `json:"name"`
	Required decimal.Decimal `json:"required"`
	Actual   decimal.Decimal `json:"actual"`
	Met      bool            `json:"met"`
}

// RequirementStatus lists every requirement configured on a tier
type RequirementStatus struct {
	Tier   string             `json:"tier"`
	Checks []RequirementCheck `json:"checks"`
	AllMet bool               `json:"all_met"`
}

// EvaluateRequirements compares a customer's state with every requirement of
// tier. Only liters decide membership; the other checks are informational.
func EvaluateRequirements(state *CustomerState, tier TierDefinition, now time.Time) RequirementStatus {
	if state == nil {
		state = &CustomerState{}
	}
	req := tier.Requirements
	status := RequirementStatus{Tier: tier.Name, AllMet: true}

	add := func(name string, required, actual decimal.Decimal) {
		met := actual.GreaterThanOrEqual(required)
		status.Checks = append(status.Checks, RequirementCheck{
			Name:     name,
			Required: required,
			Actual:   actual,
			Met:      met,
		})
		status.AllMet = status.AllMet && met
	}

	add(RequirementLiters, req.MinimumLiters, state.CumulativeLiters)
	if req.MinimumPoints != nil {
		add(RequirementPoints, decimal.NewFromInt(*req.MinimumPoints), decimal.NewFromInt(state.CumulativePoints))
	}
	if req.MinimumPurchases != nil {
		add(RequirementPurchases, decimal.NewFromInt(int64(*req.MinimumPurchases)), decimal.NewFromInt(int64(state.PurchaseCount)))
	}
	if req.MinimumSpend != nil {
		add(RequirementSpend, *req.MinimumSpend, state.CumulativeSpend)
	}
	if req.MonthsAsCustomer != nil {
		months := MonthsAsCustomer(state.CustomerSince, now)
		add(RequirementMonthsAsCustomer, decimal.NewFromInt(int64(*req.MonthsAsCustomer)), decimal.NewFromInt(int64(months)))
	}
	return status
}
