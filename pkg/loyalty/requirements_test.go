package loyalty

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateRequirements(t *testing.T) {
	now := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)

	points := int64(1000)
	purchases := 5
	months := 3
	gold := fuelTiers()[2]
	gold.Requirements.MinimumPoints = &points
	gold.Requirements.MinimumPurchases = &purchases
	gold.Requirements.MinimumSpend = dp("500")
	gold.Requirements.MonthsAsCustomer = &months

	state := &CustomerState{
		CustomerID:       "c-1",
		CumulativeLiters: d("120"),
		CumulativePoints: 1500,
		CumulativeSpend:  d("499.99"),
		PurchaseCount:    5,
		CustomerSince:    time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
	}

	status := EvaluateRequirements(state, gold, now)
	assert.Equal(t, "Gold", status.Tier)
	assert.False(t, status.AllMet)
	require.Len(t, status.Checks, 5)

	met := make(map[string]bool)
	for _, c := range status.Checks {
		met[c.Name] = c.Met
	}
	assert.Equal(t, map[string]bool{
		RequirementLiters:           false,
		RequirementPoints:           true,
		RequirementPurchases:        true,
		RequirementSpend:            false,
		RequirementMonthsAsCustomer: true,
	}, met)
}

func TestEvaluateRequirements_LitersOnly(t *testing.T) {
	status := EvaluateRequirements(nil, fuelTiers()[1], time.Now())
	require.Len(t, status.Checks, 1)
	assert.Equal(t, RequirementLiters, status.Checks[0].Name)
	assert.True(t, status.Checks[0].Actual.IsZero())
	assert.False(t, status.AllMet)

	status = EvaluateRequirements(&CustomerState{CumulativeLiters: d("50")}, fuelTiers()[1], time.Now())
	assert.True(t, status.AllMet)
}
