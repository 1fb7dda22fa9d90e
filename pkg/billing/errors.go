package billing

import "errors"

var (
	// ErrProviderNotConfigured is returned when a provider is not properly configured
	ErrProviderNotConfigured = errors.New("billing provider not configured")

	// ErrInvalidWebhookSignature is returned when webhook signature validation fails
	ErrInvalidWebhookSignature = errors.New("invalid webhook signature")

	// ErrInvalidWebhookPayload is returned when webhook payload cannot be parsed
	ErrInvalidWebhookPayload = errors.New("invalid webhook payload")

	// ErrMissingCustomer is returned when an event cannot be attributed to a customer
	ErrMissingCustomer = errors.New("customer reference missing from billing event")

	// ErrMissingLiters is returned when a paid event does not state the purchased volume
	ErrMissingLiters = errors.New("liters missing from billing event")
)
