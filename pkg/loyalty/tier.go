package loyalty

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// ResolveTier returns the customer's current tier and the tier above it.
//
// Tiers must be sorted ascending by LevelNumber with non-decreasing
// MinimumLiters, and the first tier must be a zero floor. The current tier is
// the last one whose MinimumLiters is <= cumulativeLiters, so thresholds are
// inclusive and a duplicated threshold resolves to the higher level.
func ResolveTier(cumulativeLiters decimal.Decimal, tiers []TierDefinition) (Resolution, error) {
	if err := checkTierOrder(tiers); err != nil {
		return Resolution{}, err
	}
	if cumulativeLiters.IsNegative() {
		return Resolution{}, fmt.Errorf("%w: cumulative liters %s is negative", ErrInvalidState, cumulativeLiters)
	}

	idx := -1
	for i := range tiers {
		if tiers[i].Requirements.MinimumLiters.GreaterThan(cumulativeLiters) {
			break
		}
		idx = i
	}
	if idx < 0 {
		return Resolution{}, configErr("no tier qualifies for %s liters", cumulativeLiters)
	}

	res := Resolution{Current: tiers[idx]}
	if idx+1 < len(tiers) {
		next := tiers[idx+1]
		res.Next = &next
	}
	return res, nil
}

// ValidateTiers checks a tier list and returns non-fatal warnings.
// Fatal problems are returned as *ConfigurationError.
func ValidateTiers(tiers []TierDefinition) ([]string, error) {
	if err := checkTierOrder(tiers); err != nil {
		return nil, err
	}

	var warnings []string
	names := make(map[string]bool, len(tiers))
	prevMultiplier := decimal.Zero
	for i, t := range tiers {
		if t.Name == "" {
			return nil, configErr("tier at level %d has no name", t.LevelNumber)
		}
		if names[t.Name] {
			return nil, configErr("tier name %q is used twice", t.Name)
		}
		names[t.Name] = true

		m := TierMultiplier(t)
		if m.LessThan(prevMultiplier) {
			return nil, configErr("points multiplier of %q (%s) is lower than the tier below (%s)",
				t.Name, m, prevMultiplier)
		}
		prevMultiplier = m

		if i > 0 && t.Requirements.MinimumLiters.Equal(tiers[i-1].Requirements.MinimumLiters) {
			warnings = append(warnings, fmt.Sprintf("tiers %q and %q share the threshold %s liters; %q wins",
				tiers[i-1].Name, t.Name, t.Requirements.MinimumLiters, t.Name))
		}
		for name, rate := range map[string]*decimal.Decimal{
			"cashback_rate":       t.Benefits.CashbackRate,
			"commission_rate":     t.Benefits.CommissionRate,
			"discount_percentage": t.Benefits.DiscountPercentage,
		} {
			if rate != nil && rate.IsNegative() {
				warnings = append(warnings, fmt.Sprintf("tier %q has a negative %s; it pays nothing", t.Name, name))
			}
		}
	}
	sort.Strings(warnings)
	return warnings, nil
}

// SortTiers orders tiers ascending by LevelNumber in place
func SortTiers(tiers []TierDefinition) {
	sort.SliceStable(tiers, func(i, j int) bool {
		return tiers[i].LevelNumber < tiers[j].LevelNumber
	})
}

// CloneTiers returns a copy of the slice
func CloneTiers(tiers []TierDefinition) []TierDefinition {
	if tiers == nil {
		return nil
	}
	out := make([]TierDefinition, len(tiers))
	copy(out, tiers)
	return out
}

func checkTierOrder(tiers []TierDefinition) error {
	if len(tiers) == 0 {
		return configErr("tier list is empty")
	}
	for i, t := range tiers {
		if t.LevelNumber < 1 {
			return configErr("tier %q has level %d; levels start at 1", t.Name, t.LevelNumber)
		}
		if t.Requirements.MinimumLiters.IsNegative() {
			return configErr("tier %q has a negative minimum_liters", t.Name)
		}
		if i == 0 {
			continue
		}
		prev := tiers[i-1]
		if t.LevelNumber <= prev.LevelNumber {
			return configErr("tier levels are not strictly ascending (%q=%d after %q=%d)",
				t.Name, t.LevelNumber, prev.Name, prev.LevelNumber)
		}
		if t.Requirements.MinimumLiters.LessThan(prev.Requirements.MinimumLiters) {
			return configErr("tier %q requires fewer liters (%s) than %q (%s)",
				t.Name, t.Requirements.MinimumLiters, prev.Name, prev.Requirements.MinimumLiters)
		}
	}
	if !tiers[0].Requirements.MinimumLiters.IsZero() {
		return configErr("no floor tier: lowest tier %q requires %s liters",
			tiers[0].Name, tiers[0].Requirements.MinimumLiters)
	}
	return nil
}
