package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ktheindifferent/lifx-api-server/internal/safesync"
)

// ErrRateLimited is wrapped by every LimitError.
var ErrRateLimited = errors.New("ratelimit: too many requests")

// Kind selects one of the independent windows.
type Kind int

const (
	// KindAuth counts failed authentication attempts.
	KindAuth Kind = iota

	// KindConfig counts configuration-mutating calls such as relabelling.
	KindConfig
)

// String returns the kind name used in logs and metrics.
func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindConfig:
		return "config"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Rule is a limit of Limit events per sliding Window.
type Rule struct {
	Limit  int
	Window time.Duration
}

// DefaultRules returns 5 auth failures per minute and 5 configuration
// changes per five minutes.
func DefaultRules() map[Kind]Rule {
	return map[Kind]Rule{
		KindAuth:   {Limit: 5, Window: time.Minute},
		KindConfig: {Limit: 5, Window: 5 * time.Minute},
	}
}

// Decision is the outcome of a check.
type Decision struct {
	Allowed bool

	// RetryAfter is how long until the oldest counted event leaves the
	// window. Zero when Allowed.
	RetryAfter time.Duration

	// Remaining is how many further events the window would accept.
	Remaining int
}

// LimitError reports a denied event and when to retry.
type LimitError struct {
	Kind       Kind
	RetryAfter time.Duration
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%s: %s limit exceeded, retry after %s", ErrRateLimited, e.Kind, e.RetryAfter.Round(time.Second))
}

func (e *LimitError) Unwrap() error { return ErrRateLimited }

// Err converts a denial into a *LimitError. It returns nil when allowed.
func (d Decision) Err(kind Kind) error {
	if d.Allowed {
		return nil
	}
	return &LimitError{Kind: kind, RetryAfter: d.RetryAfter}
}

type table map[Kind]map[string][]time.Time

// Limiter enforces per-address sliding windows. It never blocks: every
// call returns a decision immediately.
type Limiter struct {
	rules map[Kind]Rule
	table *safesync.Guard[table]
	now   func() time.Time
}

// New creates a Limiter. Kinds missing from rules are unlimited.
func New(rules map[Kind]Rule, monitor *safesync.Monitor) *Limiter {
	return &Limiter{
		rules: rules,
		table: safesync.NewGuard("ratelimit", table{}, monitor),
		now:   time.Now,
	}
}

// SetClock replaces the time source. Intended for tests.
func (l *Limiter) SetClock(now func() time.Time) {
	l.now = now
}

// Rule returns the configured rule for kind.
func (l *Limiter) Rule(kind Kind) (Rule, bool) {
	r, ok := l.rules[kind]
	return r, ok && r.Limit > 0
}

// Check records an event for addr if the window allows it.
//
// Timestamps outside the window are discarded first. If the remaining
// count has reached the limit the event is denied and RetryAfter is
// window - (now - oldest).
func (l *Limiter) Check(kind Kind, addr string) Decision {
	return l.evaluate(kind, addr, true)
}

// Blocked reports whether the next event for addr would be denied, without
// recording one.
func (l *Limiter) Blocked(kind Kind, addr string) Decision {
	return l.evaluate(kind, addr, false)
}

func (l *Limiter) evaluate(kind Kind, addr string, record bool) Decision {
	rule, ok := l.Rule(kind)
	if !ok {
		return Decision{Allowed: true, Remaining: -1}
	}

	now := l.now()
	cutoff := now.Add(-rule.Window)
	d := Decision{Allowed: true}

	err := l.table.Do(func(t *table) {
		byAddr := (*t)[kind]
		if byAddr == nil {
			byAddr = make(map[string][]time.Time)
			(*t)[kind] = byAddr
		}

		timestamps := byAddr[addr]
		valid := timestamps[:0]
		for _, ts := range timestamps {
			if ts.After(cutoff) {
				valid = append(valid, ts)
			}
		}

		if len(valid) >= rule.Limit {
			d.Allowed = false
			d.RetryAfter = rule.Window - now.Sub(valid[0])
			byAddr[addr] = valid
			return
		}

		if record {
			valid = append(valid, now)
		}
		d.Remaining = rule.Limit - len(valid)
		if len(valid) == 0 {
			delete(byAddr, addr)
			return
		}
		byAddr[addr] = valid
	})
	if err != nil {
		// The table is rebuilt from scratch by later calls; let the event
		// through rather than lock a client out on an internal fault.
		return Decision{Allowed: true}
	}
	return d
}

// Sweep drops addresses with no timestamps left inside their window and
// returns how many were removed.
func (l *Limiter) Sweep() int {
	now := l.now()
	removed := 0
	_ = l.table.Do(func(t *table) {
		for kind, byAddr := range *t {
			rule, ok := l.Rule(kind)
			if !ok {
				delete(*t, kind)
				continue
			}
			cutoff := now.Add(-rule.Window)
			for addr, timestamps := range byAddr {
				if len(timestamps) == 0 || !timestamps[len(timestamps)-1].After(cutoff) {
					delete(byAddr, addr)
					removed++
				}
			}
		}
	})
	return removed
}

// Tracked returns the number of addresses currently holding timestamps.
func (l *Limiter) Tracked() int {
	n := 0
	_ = l.table.Do(func(t *table) {
		for _, byAddr := range *t {
			n += len(byAddr)
		}
	})
	return n
}

// Run sweeps every interval until ctx is cancelled.
func (l *Limiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}
