package ratelimit

import (
	"errors"
	"testing"
	"time"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter() (*Limiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	l := New(DefaultRules(), nil)
	l.SetClock(clock.now)
	return l, clock
}

func TestAuthWindow(t *testing.T) {
	l, clock := newTestLimiter()

	for i := 0; i < 5; i++ {
		d := l.Check(KindAuth, "10.0.0.1")
		if !d.Allowed {
			t.Fatalf("attempt %d denied", i+1)
		}
		if d.Remaining != 4-i {
			t.Errorf("attempt %d Remaining = %d, want %d", i+1, d.Remaining, 4-i)
		}
		clock.advance(time.Second)
	}

	// 5 seconds have passed since the first attempt.
	d := l.Check(KindAuth, "10.0.0.1")
	if d.Allowed {
		t.Fatal("6th attempt allowed")
	}
	if d.RetryAfter != 55*time.Second {
		t.Errorf("RetryAfter = %v, want 55s", d.RetryAfter)
	}

	var le *LimitError
	if err := d.Err(KindAuth); !errors.As(err, &le) || !errors.Is(err, ErrRateLimited) {
		t.Errorf("Err() = %v, want *LimitError wrapping ErrRateLimited", err)
	}

	if !l.Check(KindAuth, "10.0.0.2").Allowed {
		t.Error("different address was denied")
	}
	if !l.Check(KindConfig, "10.0.0.1").Allowed {
		t.Error("config window affected by auth failures")
	}
}

func TestWindowSlides(t *testing.T) {
	l, clock := newTestLimiter()

	for i := 0; i < 5; i++ {
		l.Check(KindAuth, "a")
		clock.advance(10 * time.Second)
	}
	// Oldest attempt at t=0, now t=50s.
	if l.Check(KindAuth, "a").Allowed {
		t.Fatal("attempt inside window allowed")
	}

	clock.advance(10*time.Second + time.Millisecond)
	d := l.Check(KindAuth, "a")
	if !d.Allowed {
		t.Fatalf("attempt after oldest aged out denied, RetryAfter = %v", d.RetryAfter)
	}
}

func TestBlockedDoesNotRecord(t *testing.T) {
	l, _ := newTestLimiter()

	for i := 0; i < 10; i++ {
		if !l.Blocked(KindConfig, "a").Allowed {
			t.Fatal("Blocked() denied with no recorded events")
		}
	}
	for i := 0; i < 5; i++ {
		l.Check(KindConfig, "a")
	}
	d := l.Blocked(KindConfig, "a")
	if d.Allowed {
		t.Error("Blocked() allowed after limit reached")
	}
	if d.RetryAfter != 5*time.Minute {
		t.Errorf("RetryAfter = %v, want 5m", d.RetryAfter)
	}
}

func TestSweep(t *testing.T) {
	l, clock := newTestLimiter()

	l.Check(KindAuth, "a")
	l.Check(KindConfig, "b")
	if got := l.Tracked(); got != 2 {
		t.Fatalf("Tracked() = %d, want 2", got)
	}

	clock.advance(2 * time.Minute)
	if removed := l.Sweep(); removed != 1 {
		t.Errorf("Sweep() removed %d, want 1 (auth entry only)", removed)
	}

	clock.advance(5 * time.Minute)
	l.Sweep()
	if got := l.Tracked(); got != 0 {
		t.Errorf("Tracked() = %d after full expiry, want 0", got)
	}
}

func TestUnconfiguredKindUnlimited(t *testing.T) {
	l := New(map[Kind]Rule{KindAuth: {Limit: 1, Window: time.Minute}}, nil)
	for i := 0; i < 20; i++ {
		if !l.Check(KindConfig, "a").Allowed {
			t.Fatal("unconfigured kind was limited")
		}
	}
}
