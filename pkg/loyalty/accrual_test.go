package loyalty

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func purchase(liters, amount string) PurchaseEvent {
	return PurchaseEvent{PurchaseID: "p-1", CustomerID: "c-1", Liters: d(liters), Amount: d(amount)}
}

func TestComputeAccrual(t *testing.T) {
	tiers := fuelTiers()

	tests := []struct {
		name         string
		tier         TierDefinition
		liters       string
		amount       string
		wantPoints   int64
		wantCashback string
	}{
		{"gold multiplier", tiers[2], "20", "0", 300, "0"},
		{"silver cashback", tiers[1], "10", "1000", 120, "20"},
		{"lead earns base points only", tiers[0], "7.5", "100", 75, "0"},
		{"platinum doubles points", tiers[3], "1", "10", 20, "0.6"},
		{"points round half up", tiers[1], "0.125", "0", 2, "0"},
		{"cashback rounds to cents", tiers[1], "1", "0.33", 12, "0.01"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := ComputeAccrual(purchase(tt.liters, tt.amount), tt.tier)
			require.NoError(t, err)
			assert.Equal(t, tt.wantPoints, res.PointsAwarded)
			assert.True(t, d(tt.wantCashback).Equal(res.CashbackAwarded), "cashback %s", res.CashbackAwarded)
			assert.Equal(t, tt.tier.Name, res.TierAtTimeOfPurchase.Name)
		})
	}
}

func TestComputeAccrual_InvalidPurchase(t *testing.T) {
	tests := []struct {
		name   string
		liters string
		amount string
		field  string
	}{
		{"zero liters", "0", "10", "liters"},
		{"negative liters", "-1", "10", "liters"},
		{"negative amount", "1", "-0.01", "amount"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ComputeAccrual(purchase(tt.liters, tt.amount), fuelTiers()[1])
			require.ErrorIs(t, err, ErrInvalidPurchase)

			var perr *InvalidPurchaseError
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, tt.field, perr.Field)
		})
	}
}

func TestComputeAccrual_NegativeCashbackRatePaysNothing(t *testing.T) {
	silver := fuelTiers()[1]
	silver.Benefits.CashbackRate = dp("-3")

	res, err := ComputeAccrual(purchase("10", "500"), silver)
	require.NoError(t, err)
	assert.True(t, res.CashbackAwarded.IsZero())
}

func TestTierMultiplier(t *testing.T) {
	tests := []struct {
		level int
		want  string
	}{
		{1, "1"},
		{2, "1.2"},
		{3, "1.5"},
		{4, "2"},
		{7, "2"},
		{0, "1"},
	}
	for _, tt := range tests {
		got := TierMultiplier(TierDefinition{LevelNumber: tt.level})
		assert.True(t, d(tt.want).Equal(got), "level %d: got %s", tt.level, got)
	}

	custom := TierDefinition{LevelNumber: 1, Benefits: TierBenefits{PointsMultiplier: dp("3")}}
	assert.True(t, d("3").Equal(TierMultiplier(custom)))

	ignored := TierDefinition{LevelNumber: 2, Benefits: TierBenefits{PointsMultiplier: dp("0")}}
	assert.True(t, d("1.2").Equal(TierMultiplier(ignored)))
}

func TestComputeCommission(t *testing.T) {
	tiers := fuelTiers()

	got, err := ComputeCommission(purchase("10", "200"), tiers[2])
	require.NoError(t, err)
	assert.True(t, d("5").Equal(got), "got %s", got)

	got, err = ComputeCommission(purchase("10", "200"), tiers[0])
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	_, err = ComputeCommission(purchase("0", "200"), tiers[2])
	assert.ErrorIs(t, err, ErrInvalidPurchase)
}

func TestComputeAccrual_StableAndNonNegative(t *testing.T) {
	tiers := fuelTiers()

	negativeMultiplier := tier("Odd", 2, "0")
	negativeMultiplier.Benefits.PointsMultiplier = dp("-1.5")
	negativeMultiplier.Benefits.CashbackRate = dp("3")

	negativeRates := tier("Broken", 3, "0")
	negativeRates.Benefits.CashbackRate = dp("-4")
	negativeRates.Benefits.CommissionRate = dp("-2.5")

	negativeLevel := tier("Below", -2, "0")
	negativeLevel.Benefits.CommissionRate = dp("0")

	candidates := append(tiers,
		TierDefinition{Name: "Bare", LevelNumber: 1},
		negativeMultiplier,
		negativeRates,
		negativeLevel,
	)
	purchases := []PurchaseEvent{
		purchase("0.001", "0"),
		purchase("0.04", "0.01"),
		purchase("1", "0"),
		purchase("12.345", "99.99"),
		purchase("500", "1000000"),
	}

	for _, tr := range candidates {
		for _, p := range purchases {
			t.Run(tr.Name+"/"+p.Liters.String()+"L/"+p.Amount.String(), func(t *testing.T) {
				first, err := ComputeAccrual(p, tr)
				require.NoError(t, err)
				second, err := ComputeAccrual(p, tr)
				require.NoError(t, err)

				assert.Equal(t, first.PointsAwarded, second.PointsAwarded)
				assert.True(t, first.CashbackAwarded.Equal(second.CashbackAwarded))
				assert.Equal(t, first.TierAtTimeOfPurchase.Name, second.TierAtTimeOfPurchase.Name)

				assert.GreaterOrEqual(t, first.PointsAwarded, int64(0))
				assert.False(t, first.CashbackAwarded.IsNegative(), "cashback %s", first.CashbackAwarded)

				commission, err := ComputeCommission(p, tr)
				require.NoError(t, err)
				assert.False(t, commission.IsNegative(), "commission %s", commission)
			})
		}
	}
}
