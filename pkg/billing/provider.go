package billing

import (
	"net/http"
)

// Provider is the interface a payment backend implements to feed verified
// purchases into the loyalty engine.
type Provider interface {
	// Name returns the provider name (e.g., "stripe")
	Name() string

	// WebhookHandler returns the HTTP handler that processes real-time events.
	// The implementation handles validation, parsing, and Engine updates internally.
	WebhookHandler() http.Handler
}
