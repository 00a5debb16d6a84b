package discovery

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/ktheindifferent/lifx-api-server/internal/device"
	"github.com/ktheindifferent/lifx-api-server/internal/safesync"
)

// DefaultListenWindow is how long a run waits for StateService replies when
// Options.ListenWindow is zero.
const DefaultListenWindow = time.Second

// Trigger identifies what started a discovery run.
type Trigger int

const (
	// TriggerManual is an on-demand run, such as POST /v1/discover.
	TriggerManual Trigger = iota

	// TriggerTimer is a periodic run from Loop.
	TriggerTimer
)

// String returns the trigger name used in logs and events.
func (t Trigger) String() string {
	if t == TriggerTimer {
		return "timer"
	}
	return "manual"
}

// MarshalText encodes the trigger by name.
func (t Trigger) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText decodes a trigger name written by MarshalText.
func (t *Trigger) UnmarshalText(text []byte) error {
	switch string(text) {
	case "manual":
		*t = TriggerManual
	case "timer":
		*t = TriggerTimer
	default:
		return fmt.Errorf("%w: %q", ErrUnknownTrigger, text)
	}
	return nil
}

// Status is the outcome of the most recent run.
type Status string

// Run outcomes.
const (
	StatusNever     Status = "never"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Prober sends probes on behalf of the engine. The gateway implements it.
type Prober interface {
	// Probe sends one GetService broadcast frame to dst.
	Probe(dst netip.AddrPort) error

	// Known returns how many devices the gateway currently tracks.
	Known() int
}

// Observer is notified after every completed run.
type Observer interface {
	DiscoveryCompleted(Result)
}

// Logger defines the logging interface used by the engine.
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

// Options configures an Engine.
type Options struct {
	// ListenWindow is how long each run waits for replies.
	ListenWindow time.Duration

	// Targets are probed in addition to the interface broadcast addresses.
	Targets []netip.AddrPort

	// DisableBroadcast probes Targets only.
	DisableBroadcast bool

	// Broadcasts overrides interface enumeration. Nil uses BroadcastAddrs.
	Broadcasts func() ([]netip.AddrPort, error)

	Monitor *safesync.Monitor
	Logger  Logger
}

// Result describes one completed run.
type Result struct {
	Trigger  Trigger       `json:"trigger"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Targets  int           `json:"targets"`
	Replies  int           `json:"replies"`
	Known    int           `json:"devices_known"`
	Status   Status        `json:"status"`
	Error    string        `json:"error,omitempty"`
}

// Metrics is the process-wide discovery history. Counters only grow.
type Metrics struct {
	Total             uint64     `json:"total_discoveries"`
	Succeeded         uint64     `json:"successful_discoveries"`
	Failed            uint64     `json:"failed_discoveries"`
	DevicesDiscovered int        `json:"devices_discovered"`
	LastTime          *time.Time `json:"last_discovery_time,omitempty"`
	LastStatus        Status     `json:"last_discovery_status"`
	LastError         string     `json:"last_error,omitempty"`
}

// replyWindow collects the devices that answered during the active run.
type replyWindow struct {
	open bool
	seen map[device.ID]struct{}
}

// Engine runs discovery. Manual and timer triggers go through Run, which
// serialises runs so Metrics always describe whole runs.
//
// Thread Safety: All methods are safe for concurrent use.
type Engine struct {
	prober Prober
	opts   Options
	logger Logger

	runMu   sync.Mutex
	metrics *safesync.Guard[Metrics]
	window  *safesync.Guard[replyWindow]

	observersMu sync.RWMutex
	observers   []Observer

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates an Engine that probes through p.
func New(p Prober, opts Options) *Engine {
	if opts.ListenWindow <= 0 {
		opts.ListenWindow = DefaultListenWindow
	}
	if opts.Broadcasts == nil {
		opts.Broadcasts = BroadcastAddrs
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &Engine{
		prober:  p,
		opts:    opts,
		logger:  logger,
		metrics: safesync.NewGuard("discovery.metrics", Metrics{LastStatus: StatusNever}, opts.Monitor),
		window:  safesync.NewGuard("discovery.window", replyWindow{}, opts.Monitor),
		now:     time.Now,
		sleep:   sleepCtx,
	}
}

// AddObserver registers o for completed runs.
func (e *Engine) AddObserver(o Observer) {
	e.observersMu.Lock()
	defer e.observersMu.Unlock()
	e.observers = append(e.observers, o)
}

// Observe records a StateService reply. Replies outside a run are ignored.
func (e *Engine) Observe(id device.ID) {
	_ = e.window.Do(func(w *replyWindow) {
		if w.open {
			w.seen[id] = struct{}{}
		}
	})
}

// Metrics returns a copy of the current metrics.
func (e *Engine) Metrics() Metrics {
	var m Metrics
	_ = e.metrics.Do(func(v *Metrics) {
		m = *v
		if v.LastTime != nil {
			t := *v.LastTime
			m.LastTime = &t
		}
	})
	return m
}

// Run performs one discovery pass: probe every target, wait the listen
// window, then classify the outcome and update Metrics.
//
// Returns:
//   - Result: always populated, also on failure
//   - error: ErrSendFailed, ErrTimeout, ErrNoTargets or the context error
func (e *Engine) Run(ctx context.Context, trigger Trigger) (Result, error) {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	res := Result{Trigger: trigger, Started: e.now()}
	err := e.probeAndListen(ctx, &res)
	res.Duration = e.now().Sub(res.Started)
	res.Known = e.prober.Known()

	if err == nil && res.Replies == 0 && res.Known == 0 {
		err = ErrTimeout
	}
	if err != nil {
		res.Status = StatusFailed
		res.Error = err.Error()
		e.logger.Warn("discovery failed", "trigger", trigger.String(), "error", err)
	} else {
		res.Status = StatusSucceeded
		e.logger.Info("discovery completed",
			"trigger", trigger.String(),
			"replies", res.Replies,
			"devices", res.Known,
			"duration", res.Duration.String())
	}

	e.record(res)
	e.notify(res)
	return res, err
}

func (e *Engine) probeAndListen(ctx context.Context, res *Result) error {
	targets := e.targets()
	res.Targets = len(targets)
	if len(targets) == 0 {
		return ErrNoTargets
	}

	_ = e.window.Do(func(w *replyWindow) {
		w.open = true
		w.seen = make(map[device.ID]struct{})
	})
	defer func() {
		_ = e.window.Do(func(w *replyWindow) {
			res.Replies = len(w.seen)
			w.open = false
			w.seen = nil
		})
	}()

	var sent int
	var lastErr error
	for _, dst := range targets {
		if err := e.prober.Probe(dst); err != nil {
			lastErr = err
			e.logger.Debug("discovery probe failed", "target", dst.String(), "error", err)
			continue
		}
		sent++
	}
	if sent == 0 {
		return errors.Join(ErrSendFailed, lastErr)
	}

	return e.sleep(ctx, e.opts.ListenWindow)
}

func (e *Engine) targets() []netip.AddrPort {
	var out []netip.AddrPort
	if !e.opts.DisableBroadcast {
		bcasts, err := e.opts.Broadcasts()
		if err != nil {
			e.logger.Warn("enumerating broadcast addresses", "error", err)
		}
		out = append(out, bcasts...)
	}
	return append(out, e.opts.Targets...)
}

func (e *Engine) record(res Result) {
	_ = e.metrics.Do(func(m *Metrics) {
		m.Total++
		if res.Status == StatusSucceeded {
			m.Succeeded++
			m.LastError = ""
		} else {
			m.Failed++
			m.LastError = res.Error
		}
		m.DevicesDiscovered = res.Known
		t := res.Started
		m.LastTime = &t
		m.LastStatus = res.Status
	})
}

func (e *Engine) notify(res Result) {
	e.observersMu.RLock()
	observers := append([]Observer(nil), e.observers...)
	e.observersMu.RUnlock()

	for _, o := range observers {
		o.DiscoveryCompleted(res)
	}
}

// Loop runs timer-triggered discovery every interval until ctx is done.
// Failures are logged and left for the next tick.
func (e *Engine) Loop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = e.Run(ctx, TriggerTimer)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
