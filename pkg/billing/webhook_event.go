package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// WebhookEvent describes a purchase recorded from a provider webhook.
// It is passed to Config.OnPurchase after the ledger entry was stored.
type WebhookEvent struct {
	// Provider is the billing provider name ("stripe")
	Provider string

	// EventType is the provider-specific event type
	// Stripe: "checkout.session.completed", "checkout.session.async_payment_succeeded"
	EventType string

	// EventTimestamp is when the event occurred (from provider)
	EventTimestamp time.Time

	// CustomerID is the loyalty customer identifier
	CustomerID string

	// PurchaseID is the ledger entry ID, derived from the provider object ID
	PurchaseID string

	Liters decimal.Decimal
	Amount decimal.Decimal

	// PointsAwarded and CashbackAwarded are the rewards granted for the purchase
	PointsAwarded   int64
	CashbackAwarded decimal.Decimal

	// PreviousTier is the tier the purchase accrued at
	PreviousTier string

	// NewTier is the tier after the purchase
	NewTier string

	// Metadata contains provider-specific additional data
	Metadata map[string]string
}

// Promoted reports whether the purchase moved the customer to a new tier
func (e WebhookEvent) Promoted() bool {
	return e.PreviousTier != e.NewTier
}
