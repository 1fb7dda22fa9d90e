package loyalty

import (
	"github.com/shopspring/decimal"
)

// PointsPerLiter is the base number of points earned per liter purchased
const PointsPerLiter = 10

var (
	hundred = decimal.NewFromInt(100)

	// level -> multiplier used when a tier does not configure its own
	levelMultipliers = []decimal.Decimal{
		decimal.NewFromInt(1),
		decimal.RequireFromString("1.2"),
		decimal.RequireFromString("1.5"),
		decimal.NewFromInt(2),
	}
)

// TierMultiplier returns the points multiplier of a tier.
// Unless the tier sets a positive PointsMultiplier, levels 1..4 map to
// 1.0, 1.2, 1.5 and 2.0; higher levels keep 2.0.
func TierMultiplier(tier TierDefinition) decimal.Decimal {
	if m := tier.Benefits.PointsMultiplier; m != nil && m.IsPositive() {
		return *m
	}
	idx := tier.LevelNumber - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(levelMultipliers) {
		idx = len(levelMultipliers) - 1
	}
	return levelMultipliers[idx]
}

// ComputeAccrual computes the points and cashback earned by a purchase at the given tier
func ComputeAccrual(purchase PurchaseEvent, tier TierDefinition) (AccrualResult, error) {
	if err := ValidatePurchase(purchase); err != nil {
		return AccrualResult{}, err
	}

	points := purchase.Liters.
		Mul(decimal.NewFromInt(PointsPerLiter)).
		Mul(TierMultiplier(tier)).
		Round(0)

	return AccrualResult{
		PointsAwarded:        points.IntPart(),
		CashbackAwarded:      percentOf(purchase.Amount, tier.Benefits.CashbackRate),
		TierAtTimeOfPurchase: tier,
	}, nil
}

// ComputeCommission computes the referral commission owed for a purchase.
// referrerTier is the tier of the referrer, not of the purchaser.
func ComputeCommission(purchase PurchaseEvent, referrerTier TierDefinition) (decimal.Decimal, error) {
	if err := ValidatePurchase(purchase); err != nil {
		return decimal.Zero, err
	}
	return percentOf(purchase.Amount, referrerTier.Benefits.CommissionRate), nil
}

// ValidatePurchase checks the liters and amount of a purchase
func ValidatePurchase(purchase PurchaseEvent) error {
	if !purchase.Liters.IsPositive() {
		return &InvalidPurchaseError{Field: "liters", Reason: "must be greater than zero"}
	}
	if purchase.Amount.IsNegative() {
		return &InvalidPurchaseError{Field: "amount", Reason: "must not be negative"}
	}
	return nil
}

// percentOf returns amount*rate/100 rounded to currency precision.
// Missing or negative rates pay nothing.
func percentOf(amount decimal.Decimal, rate *decimal.Decimal) decimal.Decimal {
	if rate == nil || !rate.IsPositive() || !amount.IsPositive() {
		return decimal.Zero
	}
	return amount.Mul(*rate).Div(hundred).Round(2)
}
