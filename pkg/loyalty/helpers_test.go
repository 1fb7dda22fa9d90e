package loyalty

import (
	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func dp(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

func tier(name string, level int, minLiters string) TierDefinition {
	return TierDefinition{
		Name:         name,
		LevelNumber:  level,
		Requirements: TierRequirements{MinimumLiters: d(minLiters)},
	}
}

// fuelTiers is the reference ladder: Lead 0L, Silver 50L 2%, Gold 150L 4%, Platinum 300L 6%
func fuelTiers() []TierDefinition {
	lead := tier("Lead", 1, "0")

	silver := tier("Silver", 2, "50")
	silver.Benefits.CashbackRate = dp("2")
	silver.Benefits.CommissionRate = dp("1")

	gold := tier("Gold", 3, "150")
	gold.Benefits.CashbackRate = dp("4")
	gold.Benefits.CommissionRate = dp("2.5")
	gold.Benefits.FreeDelivery = true

	platinum := tier("Platinum", 4, "300")
	platinum.Benefits.CashbackRate = dp("6")
	platinum.Benefits.CommissionRate = dp("5")
	platinum.Benefits.FreeDelivery = true
	platinum.Benefits.PrioritySupport = true

	return []TierDefinition{lead, silver, gold, platinum}
}
