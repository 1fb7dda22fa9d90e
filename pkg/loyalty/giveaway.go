package loyalty

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// GiveawayRule decides giveaway eligibility from recent purchase history
type GiveawayRule struct {
	// MinimumLiters is the volume that must be purchased inside Window
	MinimumLiters decimal.Decimal

	// MinimumPurchases is the number of purchases required inside Window
	MinimumPurchases int

	// Window is how far back purchases count (0 = lifetime)
	Window time.Duration
}

// GiveawayEligibility is the outcome of GiveawayRule.Evaluate
type GiveawayEligibility struct {
	Eligible  bool            `json:"eligible"`
	Liters    decimal.Decimal `json:"liters"`
	Purchases int             `json:"purchases"`
	Reason    string          `json:"reason,omitempty"`
}

// Since returns the start of the rule window relative to now, or nil for lifetime rules
func (r GiveawayRule) Since(now time.Time) *time.Time {
	if r.Window <= 0 {
		return nil
	}
	since := now.Add(-r.Window)
	return &since
}

// Evaluate checks the purchase entries of a customer against the rule.
// Entries of other kinds or outside the window are ignored.
func (r GiveawayRule) Evaluate(entries []*LedgerEntry, now time.Time) GiveawayEligibility {
	filter := LedgerFilter{Kind: EntryKindPurchase, Since: r.Since(now), Until: &now}

	res := GiveawayEligibility{Liters: decimal.Zero}
	for _, e := range entries {
		if e == nil || !filter.Matches(e) {
			continue
		}
		res.Liters = res.Liters.Add(e.Liters)
		res.Purchases++
	}

	switch {
	case res.Liters.LessThan(r.MinimumLiters):
		res.Reason = fmt.Sprintf("purchased %s of %s liters required", res.Liters, r.MinimumLiters)
	case res.Purchases < r.MinimumPurchases:
		res.Reason = fmt.Sprintf("made %d of %d purchases required", res.Purchases, r.MinimumPurchases)
	default:
		res.Eligible = true
	}
	return res
}
