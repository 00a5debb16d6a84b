package safesync

import (
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// ErrPoisoned is returned to a caller whose critical section panicked.
// Subsequent callers never see it: they recover the guard and proceed.
var ErrPoisoned = errors.New("safesync: critical section panicked")

// Logger defines the logging interface used by the Monitor.
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

// Monitor counts poisoning recoveries across every guard that shares it.
// It is safe for concurrent use.
type Monitor struct {
	recoveries atomic.Uint64
	lastNanos  atomic.Int64
	logger     Logger
}

// NewMonitor creates a Monitor. A nil logger disables logging.
func NewMonitor(logger Logger) *Monitor {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Monitor{logger: logger}
}

// Stats is a point-in-time view of a Monitor.
type Stats struct {
	Recoveries   uint64     `json:"recoveries"`
	LastRecovery *time.Time `json:"last_recovery,omitempty"`
}

// Stats returns the current recovery count and the time of the last recovery.
func (m *Monitor) Stats() Stats {
	s := Stats{Recoveries: m.recoveries.Load()}
	if n := m.lastNanos.Load(); n != 0 {
		t := time.Unix(0, n)
		s.LastRecovery = &t
	}
	return s
}

func (m *Monitor) record(name string) {
	m.recoveries.Add(1)
	m.lastNanos.Store(time.Now().UnixNano())
	m.logger.Warn("recovered poisoned guard", "guard", name)
}

// Guard owns a value and serialises access to it.
//
// Go mutexes are released normally when a holder panics, so the standard
// library has no notion of a poisoned lock. Guard adds one: a panic inside
// a critical section is caught, converted into an error for that caller,
// and leaves the guard marked poisoned. The next caller to acquire the guard
// records a recovery on the Monitor, optionally normalises the value, clears
// the mark and proceeds with the inner value as it was left.
type Guard[T any] struct {
	name     string
	mu       sync.Mutex
	value    T
	poisoned bool
	monitor  *Monitor
}

// NewGuard creates a Guard holding value. name identifies the guard in logs.
// A nil monitor gets a private Monitor with no logging.
func NewGuard[T any](name string, value T, monitor *Monitor) *Guard[T] {
	if monitor == nil {
		monitor = NewMonitor(nil)
	}
	return &Guard[T]{name: name, value: value, monitor: monitor}
}

// Do runs fn with exclusive access to the guarded value.
//
// Returns:
//   - error: wraps ErrPoisoned if fn panicked; nil otherwise
func (g *Guard[T]) Do(fn func(v *T)) error {
	return g.DoWithRecovery(nil, fn)
}

// DoWithRecovery is Do with a normalisation step. If the guard was poisoned
// by an earlier caller, normalize runs on the value before fn.
func (g *Guard[T]) DoWithRecovery(normalize func(v *T), fn func(v *T)) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.recoverLocked(normalize); err != nil {
		return err
	}
	return g.run(fn)
}

// TryDo runs fn only if the guard is free right now.
//
// Returns:
//   - bool: false if the guard was held and fn did not run
//   - error: wraps ErrPoisoned if fn panicked
func (g *Guard[T]) TryDo(fn func(v *T)) (bool, error) {
	return g.TryDoWithRecovery(nil, fn)
}

// TryDoWithRecovery is TryDo with the normalisation step of DoWithRecovery.
func (g *Guard[T]) TryDoWithRecovery(normalize func(v *T), fn func(v *T)) (bool, error) {
	if !g.mu.TryLock() {
		return false, nil
	}
	defer g.mu.Unlock()

	if err := g.recoverLocked(normalize); err != nil {
		return true, err
	}
	return true, g.run(fn)
}

// Poisoned reports whether the last critical section panicked and no caller
// has recovered the guard since.
func (g *Guard[T]) Poisoned() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.poisoned
}

func (g *Guard[T]) recoverLocked(normalize func(v *T)) error {
	if !g.poisoned {
		return nil
	}
	g.monitor.record(g.name)
	g.poisoned = false
	if normalize == nil {
		return nil
	}
	// A normalize step that itself panics leaves the guard poisoned for the
	// next caller.
	return g.run(normalize)
}

func (g *Guard[T]) run(fn func(v *T)) (err error) {
	defer func() {
		if r := recover(); r != nil {
			g.poisoned = true
			g.monitor.logger.Error("critical section panicked",
				"guard", g.name,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("%w: %s: %v", ErrPoisoned, g.name, r)
		}
	}()
	fn(&g.value)
	return nil
}
