package discovery

import "errors"

// Discovery run failures. They are recorded in Metrics and returned from
// Run; the next trigger retries.
var (
	// ErrSendFailed is returned when no probe could be sent to any target.
	ErrSendFailed = errors.New("discovery: every probe failed to send")

	// ErrTimeout is returned when the listen window closed with no replies
	// and no device is known.
	ErrTimeout = errors.New("discovery: no devices replied")

	// ErrNoTargets is returned when there is nowhere to send probes.
	ErrNoTargets = errors.New("discovery: no probe targets")
)

// ErrUnknownTrigger is returned when decoding a trigger name other than
// "manual" or "timer".
var ErrUnknownTrigger = errors.New("discovery: unknown trigger")
