package loyalty

import (
	"github.com/shopspring/decimal"
)

// ComputeProgress reports how far cumulativeLiters is between the current
// tier threshold and the next one.
func ComputeProgress(cumulativeLiters decimal.Decimal, current TierDefinition, next *TierDefinition) (ProgressReport, error) {
	if next == nil {
		return ProgressReport{
			IsMaxLevel:         true,
			ProgressPercentage: 100,
			LitersRemaining:    decimal.Zero,
			TargetLiters:       current.Requirements.MinimumLiters,
		}, nil
	}

	floor := current.Requirements.MinimumLiters
	target := next.Requirements.MinimumLiters
	span := target.Sub(floor)
	if !span.IsPositive() {
		return ProgressReport{}, configErr("tier %q does not require more liters than %q", next.Name, current.Name)
	}

	pct := cumulativeLiters.Sub(floor).Div(span).Mul(hundred).InexactFloat64()
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}

	remaining := target.Sub(cumulativeLiters)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}

	return ProgressReport{
		ProgressPercentage: pct,
		LitersRemaining:    remaining,
		TargetLiters:       target,
	}, nil
}
