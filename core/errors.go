package core

import "errors"

// Error taxonomy for the service. Handlers map these onto HTTP statuses;
// anything wrapping ErrProviderUnavailable is retryable by the caller's
// own redelivery mechanism.
var (
	// ErrInvalidRequest marks malformed client input. Not retried.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrUnauthorized marks an identity token that could not be resolved.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidSignature marks a webhook whose provider signature failed
	// verification. Permanent rejection.
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrMalformedPayload marks a webhook envelope missing required fields.
	ErrMalformedPayload = errors.New("malformed webhook payload")

	// ErrProviderUnavailable marks a failed or timed-out external call.
	ErrProviderUnavailable = errors.New("provider unavailable")
)
