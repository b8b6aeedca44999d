package core

import "errors"

var (
	// ErrEmptyLogText is returned when an analysis request carries no text
	ErrEmptyLogText = errors.New("log text is required")
	// ErrUnknownStage is returned when a stage plan names a stage that does not exist
	ErrUnknownStage = errors.New("unknown stage")
	// ErrMalformedEnvelope is returned for push deliveries that cannot be decoded
	ErrMalformedEnvelope = errors.New("malformed push envelope")
	// ErrAnalyzerUnavailable is returned when no remote analysis endpoint is configured
	ErrAnalyzerUnavailable = errors.New("analysis service not configured")
	// ErrPollerDisabled is returned when a poll cycle is requested while disabled
	ErrPollerDisabled = errors.New("poller is disabled")
	// ErrSinkDisabled is returned by persistence sinks that were not configured
	ErrSinkDisabled = errors.New("sink not configured")
)
