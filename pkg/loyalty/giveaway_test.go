package loyalty

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGiveawayRule_Evaluate(t *testing.T) {
	now := time.Date(2025, 6, 30, 12, 0, 0, 0, time.UTC)
	entry := func(kind EntryKind, liters string, ago time.Duration) *LedgerEntry {
		return &LedgerEntry{Kind: kind, Liters: d(liters), Timestamp: now.Add(-ago)}
	}

	entries := []*LedgerEntry{
		entry(EntryKindPurchase, "30", time.Hour),
		entry(EntryKindPurchase, "25", 10*24*time.Hour),
		entry(EntryKindPurchase, "80", 60*24*time.Hour),
		entry(EntryKindCommission, "0", 2*time.Hour),
		entry(EntryKindPurchase, "5", -time.Hour), // future
		nil,
	}

	t.Run("window excludes old purchases", func(t *testing.T) {
		rule := GiveawayRule{MinimumLiters: d("50"), MinimumPurchases: 2, Window: 30 * 24 * time.Hour}
		res := rule.Evaluate(entries, now)
		assert.True(t, res.Eligible)
		assert.True(t, d("55").Equal(res.Liters))
		assert.Equal(t, 2, res.Purchases)
		assert.Empty(t, res.Reason)
	})

	t.Run("not enough liters", func(t *testing.T) {
		rule := GiveawayRule{MinimumLiters: d("60"), Window: 30 * 24 * time.Hour}
		res := rule.Evaluate(entries, now)
		assert.False(t, res.Eligible)
		assert.Contains(t, res.Reason, "liters")
	})

	t.Run("not enough purchases", func(t *testing.T) {
		rule := GiveawayRule{MinimumPurchases: 4}
		res := rule.Evaluate(entries, now)
		assert.False(t, res.Eligible)
		assert.Equal(t, 3, res.Purchases)
		assert.Contains(t, res.Reason, "3 of 4")
	})

	t.Run("lifetime rule", func(t *testing.T) {
		rule := GiveawayRule{MinimumLiters: d("135")}
		assert.Nil(t, rule.Since(now))
		assert.True(t, rule.Evaluate(entries, now).Eligible)
	})
}
