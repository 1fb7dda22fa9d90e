package loyalty

// Field is a key/value pair attached to an engine log line, such as
// customer_id, purchase_id or tier.
type Field struct {
	Key   string
	Value interface{}
}

// Logger receives the engine's structured events: tier configuration
// changes, registrations, promotions, commission failures and ledger drift.
// The zerolog adapter lives under pkg/loyalty/logger.
type Logger interface {
	// Debug receives per-purchase detail and concurrency retries.
	Debug(msg string, fields ...Field)

	// Info receives customer lifecycle events.
	Info(msg string, fields ...Field)

	// Warn receives recoverable problems such as stale tier reads.
	Warn(msg string, fields ...Field)

	// Error receives failures the engine could not surface to the caller.
	Error(msg string, fields ...Field)
}

// NoopLogger discards every event. Engines and handlers use it when no
// Logger is configured.
type NoopLogger struct{}

func (n *NoopLogger) Debug(msg string, fields ...Field) {}
func (n *NoopLogger) Info(msg string, fields ...Field)  {}
func (n *NoopLogger) Warn(msg string, fields ...Field)  {}
func (n *NoopLogger) Error(msg string, fields ...Field) {}
