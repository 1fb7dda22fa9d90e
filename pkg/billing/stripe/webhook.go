package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/webhook"

	"github.com/mihaimyh/goloyalty/pkg/billing"
	"github.com/mihaimyh/goloyalty/pkg/billing/internal"
	"github.com/mihaimyh/goloyalty/pkg/loyalty"
)

// Event processing outcomes reported to metrics
const (
	statusSuccess   = "success"
	statusDuplicate = "duplicate"
	statusIgnored   = "ignored"
	statusError     = "error"
)

// Stripe currencies without a minor unit; amounts are already whole units
var zeroDecimalCurrencies = map[string]bool{
	"bif": true, "clp": true, "djf": true, "gnf": true, "jpy": true, "kmf": true,
	"krw": true, "mga": true, "pyg": true, "rwf": true, "ugx": true, "vnd": true,
	"vuv": true, "xaf": true, "xof": true, "xpf": true,
}

// Stripe currencies with three minor-unit digits
var threeDecimalCurrencies = map[string]bool{
	"bhd": true, "jod": true, "kwd": true, "omr": true, "tnd": true,
}

// handleWebhook processes incoming Stripe webhook events
func (p *Provider) handleWebhook(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	internal.SetSecurityHeaders(w)

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := internal.ReadBodyStrict(w, r, p.config.MaxBodyBytes)
	if err != nil {
		if errors.Is(err, internal.ErrPayloadTooLarge) {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			p.metrics.RecordWebhookError(providerName, "payload_too_large")
		} else {
			http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
			p.metrics.RecordWebhookError(providerName, "invalid_payload")
		}
		return
	}

	event, err := webhook.ConstructEventWithOptions(body, r.Header.Get("Stripe-Signature"), p.webhookSecret,
		webhook.ConstructEventOptions{
			Tolerance:                webhook.DefaultTolerance,
			IgnoreAPIVersionMismatch: p.config.IgnoreAPIVersionMismatch,
		})
	if err != nil {
		p.logger.Warn("stripe webhook rejected",
			loyalty.Field{Key: "error", Value: err.Error()},
		)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		p.metrics.RecordWebhookError(providerName, "auth_failed")
		return
	}

	eventType := string(event.Type)
	if eventType == "" {
		eventType = "UNKNOWN"
	}

	status, err := p.processWebhookEvent(r.Context(), &event)
	p.metrics.RecordWebhookProcessingDuration(providerName, eventType, time.Since(startTime))
	if err != nil {
		p.metrics.RecordWebhookEvent(providerName, eventType, statusError)
		p.logger.Error("stripe webhook failed",
			loyalty.Field{Key: "event_id", Value: event.ID},
			loyalty.Field{Key: "event_type", Value: eventType},
			loyalty.Field{Key: "error", Value: err.Error()},
		)
		if isPermanent(err) {
			p.metrics.RecordWebhookError(providerName, "invalid_event")
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		p.metrics.RecordWebhookError(providerName, "processing_error")
		http.Error(w, "failed to process webhook", http.StatusInternalServerError)
		return
	}

	p.metrics.RecordWebhookEvent(providerName, eventType, status)
	if err := internal.WriteJSON(w, http.StatusOK, map[string]string{"status": status}); err != nil {
		p.logger.Warn("failed to write webhook response", loyalty.Field{Key: "error", Value: err.Error()})
	}
}

// isPermanent reports whether retrying the event can never succeed
func isPermanent(err error) bool {
	return errors.Is(err, billing.ErrInvalidWebhookPayload) ||
		errors.Is(err, billing.ErrMissingCustomer) ||
		errors.Is(err, billing.ErrMissingLiters) ||
		errors.Is(err, loyalty.ErrInvalidPurchase)
}

// processWebhookEvent dispatches a verified event and returns its processing status
func (p *Provider) processWebhookEvent(ctx context.Context, event *stripe.Event) (string, error) {
	switch event.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		return p.handleCheckoutSession(ctx, event)
	default:
		// Unknown event type - acknowledge so Stripe stops retrying
		return statusIgnored, nil
	}
}

// handleCheckoutSession records a paid checkout session as a purchase.
// The session ID is the purchase ID, so redelivered events are no-ops.
func (p *Provider) handleCheckoutSession(ctx context.Context, event *stripe.Event) (string, error) {
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return statusError, fmt.Errorf("%w: event %s has no data", billing.ErrInvalidWebhookPayload, event.ID)
	}
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return statusError, fmt.Errorf("%w: checkout session: %v", billing.ErrInvalidWebhookPayload, err)
	}

	// Async payment methods complete the session before the money arrives
	if session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		return statusIgnored, nil
	}

	purchase, err := p.purchaseFromSession(&session, event)
	if err != nil {
		return statusError, err
	}

	outcome, err := p.engine.RecordPurchase(ctx, purchase)
	if errors.Is(err, loyalty.ErrDuplicateEntry) {
		p.logger.Debug("stripe checkout session already recorded",
			loyalty.Field{Key: "session_id", Value: session.ID},
		)
		return statusDuplicate, nil
	}
	if err != nil {
		return statusError, fmt.Errorf("failed to record checkout session %s: %w", session.ID, err)
	}

	previousTier := outcome.Accrual.TierAtTimeOfPurchase.Name
	p.metrics.RecordPurchaseImported(providerName, previousTier,
		purchase.Liters.InexactFloat64(), outcome.Accrual.PointsAwarded)
	if outcome.Promoted {
		p.metrics.RecordTierChange(providerName, previousTier, outcome.Current.Name)
	}
	p.logger.Info("stripe purchase recorded",
		loyalty.Field{Key: "customer_id", Value: purchase.CustomerID},
		loyalty.Field{Key: "session_id", Value: session.ID},
		loyalty.Field{Key: "points", Value: outcome.Accrual.PointsAwarded},
	)

	if p.config.OnPurchase != nil {
		err := p.config.OnPurchase(ctx, billing.WebhookEvent{
			Provider:        providerName,
			EventType:       string(event.Type),
			EventTimestamp:  purchase.Timestamp,
			CustomerID:      purchase.CustomerID,
			PurchaseID:      purchase.PurchaseID,
			Liters:          purchase.Liters,
			Amount:          purchase.Amount,
			PointsAwarded:   outcome.Accrual.PointsAwarded,
			CashbackAwarded: outcome.Accrual.CashbackAwarded,
			PreviousTier:    previousTier,
			NewTier:         outcome.Current.Name,
			Metadata:        purchase.Metadata,
		})
		if err != nil {
			return statusError, fmt.Errorf("purchase callback: %w", err)
		}
	}
	return statusSuccess, nil
}

// purchaseFromSession maps a checkout session onto a loyalty purchase
func (p *Provider) purchaseFromSession(session *stripe.CheckoutSession, event *stripe.Event) (loyalty.PurchaseEvent, error) {
	customerID := strings.TrimSpace(session.ClientReferenceID)
	if customerID == "" {
		customerID = strings.TrimSpace(session.Metadata[p.config.CustomerMetadataKey])
	}
	if customerID == "" {
		return loyalty.PurchaseEvent{}, fmt.Errorf("%w: checkout session %s", billing.ErrMissingCustomer, session.ID)
	}

	raw := strings.TrimSpace(session.Metadata[p.config.LitersMetadataKey])
	if raw == "" {
		return loyalty.PurchaseEvent{}, fmt.Errorf("%w: checkout session %s", billing.ErrMissingLiters, session.ID)
	}
	liters, err := decimal.NewFromString(raw)
	if err != nil {
		return loyalty.PurchaseEvent{}, fmt.Errorf("%w: metadata %s=%q", billing.ErrInvalidWebhookPayload, p.config.LitersMetadataKey, raw)
	}

	metadata := map[string]string{
		"stripe_event_id": event.ID,
	}
	if session.Currency != "" {
		metadata["currency"] = string(session.Currency)
	}

	created := event.Created
	if session.Created > 0 {
		created = session.Created
	}

	return loyalty.PurchaseEvent{
		PurchaseID: session.ID,
		CustomerID: customerID,
		Liters:     liters,
		Amount:     amountFromMinorUnits(session.AmountTotal, string(session.Currency)),
		Timestamp:  time.Unix(created, 0).UTC(),
		Metadata:   metadata,
	}, nil
}

// amountFromMinorUnits converts a Stripe amount into currency units
func amountFromMinorUnits(amount int64, currency string) decimal.Decimal {
	currency = strings.ToLower(currency)
	switch {
	case zeroDecimalCurrencies[currency]:
		return decimal.NewFromInt(amount)
	case threeDecimalCurrencies[currency]:
		return decimal.New(amount, -3)
	default:
		return decimal.New(amount, -2)
	}
}
