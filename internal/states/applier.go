package states

import (
	"context"
	"errors"
	"time"

	"github.com/ktheindifferent/lifx-api-server/internal/device"
	"github.com/ktheindifferent/lifx-api-server/internal/gateway"
)

// Retry policy defaults: three attempts, sleeping 100ms then 200ms, never
// more than 400ms.
const (
	DefaultMaxAttempts = 3
	DefaultBaseBackoff = 100 * time.Millisecond
	DefaultMaxBackoff  = 400 * time.Millisecond
)

// Gateway is the part of the gateway Manager the applier needs.
type Gateway interface {
	List(sel device.Selector) []device.Snapshot
	ApplyState(ctx context.Context, id device.ID, c device.Change) error
}

// Logger defines the logging interface used by the applier.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Status is the per-device outcome.
type Status string

// Per-device outcomes.
const (
	StatusOK       Status = "ok"
	StatusError    Status = "error"
	StatusTimedOut Status = "timed_out"
)

// Result is the outcome for one targeted device.
type Result struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	Status   Status `json:"status"`
	Error    string `json:"error,omitempty"`
	Attempts int    `json:"-"`
}

// Response aggregates one Result per targeted device, in the order the
// devices were attempted.
type Response struct {
	Results []Result `json:"results"`
}

// Policy controls per-device retries.
type Policy struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultPolicy returns the standard retry policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		BaseBackoff: DefaultBaseBackoff,
		MaxBackoff:  DefaultMaxBackoff,
	}
}

// backoff returns the sleep before attempt n+1, doubling from BaseBackoff
// and capped at MaxBackoff.
func (p Policy) backoff(n int) time.Duration {
	d := p.BaseBackoff
	for i := 1; i < n && d < p.MaxBackoff; i++ {
		d *= 2
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	return d
}

// Applier validates and applies state requests. Items are applied strictly
// in input order and devices one at a time, so command order on the wire is
// deterministic for a single call.
type Applier struct {
	gw     Gateway
	policy Policy
	logger Logger

	// sleep is not interruptible; waits are bounded by MaxBackoff.
	sleep func(time.Duration)
}

// NewApplier creates an Applier. A zero policy gets DefaultPolicy and a nil
// logger disables logging.
func NewApplier(gw Gateway, policy Policy, logger Logger) *Applier {
	if policy.MaxAttempts < 1 {
		policy = DefaultPolicy()
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Applier{gw: gw, policy: policy, logger: logger, sleep: time.Sleep}
}

// Apply validates req and, if valid, applies every state.
//
// Returns:
//   - Response: one Result per targeted device; device failures are
//     reported here, not as an error
//   - error: *ValidationError if the request is invalid, in which case no
//     device was touched
func (a *Applier) Apply(ctx context.Context, req Request) (Response, error) {
	plans, err := req.validate()
	if err != nil {
		return Response{}, err
	}

	resp := Response{Results: []Result{}}
	for _, p := range plans {
		for _, snap := range a.gw.List(p.selector) {
			resp.Results = append(resp.Results, a.applyDevice(ctx, snap, p))
		}
	}
	return resp, nil
}

// ApplyOne applies a single state to selector through the same path as one
// element of a bulk request.
func (a *Applier) ApplyOne(ctx context.Context, selector string, u Update) (Response, error) {
	u.Selector = selector
	return a.Apply(ctx, Request{States: []Update{u}})
}

func (a *Applier) applyDevice(ctx context.Context, snap device.Snapshot, p plan) Result {
	res := Result{ID: snap.ID.String(), Label: snap.Label}

	attempts := a.policy.MaxAttempts
	if p.fast {
		attempts = 1
	}

	var err error
	for res.Attempts = 1; ; res.Attempts++ {
		err = a.gw.ApplyState(ctx, snap.ID, p.change)
		if err == nil {
			res.Status = StatusOK
			return res
		}
		if res.Attempts >= attempts || ctx.Err() != nil {
			break
		}
		delay := a.policy.backoff(res.Attempts)
		a.logger.Debug("retrying device", "id", res.ID, "attempt", res.Attempts, "backoff", delay.String(), "error", err)
		a.sleep(delay)
	}

	res.Error = err.Error()
	if errors.Is(err, gateway.ErrDeviceUnreachable) || errors.Is(err, context.DeadlineExceeded) {
		res.Status = StatusTimedOut
	} else {
		res.Status = StatusError
	}
	a.logger.Warn("device state not applied", "id", res.ID, "label", res.Label, "attempts", res.Attempts, "error", err)
	return res
}
