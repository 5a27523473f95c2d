package domain

import "errors"

// Error taxonomy of the core. Callers match with errors.Is; wrapping sites
// attach operation context with fmt.Errorf("...: %w", err).
var (
	// ErrUnknownTenant: the tenant short code is not in the registry.
	ErrUnknownTenant = errors.New("unknown tenant")

	// ErrWindowOutOfRange: the analysis window is outside [1, 365] days.
	ErrWindowOutOfRange = errors.New("window out of range")

	// ErrUpstreamUnavailable: the warehouse or model provider failed
	// terminally after retries. Fatal to the enclosing operation.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrInsufficientData: sample size below the baseline threshold.
	// Not a failure; surfaced as a sentinel in the response summary.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrSessionExpired: the session identifier no longer resolves.
	ErrSessionExpired = errors.New("session expired")

	// ErrModelProtocolViolation: model output failed grounding or schema
	// after the configured retries.
	ErrModelProtocolViolation = errors.New("model protocol violation")
)
