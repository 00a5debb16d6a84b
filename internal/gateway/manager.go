package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ktheindifferent/lifx-api-server/internal/device"
	"github.com/ktheindifferent/lifx-api-server/internal/discovery"
	"github.com/ktheindifferent/lifx-api-server/internal/lan"
	"github.com/ktheindifferent/lifx-api-server/internal/ratelimit"
	"github.com/ktheindifferent/lifx-api-server/internal/safesync"
)

// Logger defines the logging interface used by the Manager.
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

// Observer receives device and discovery events. Callbacks run on the
// goroutine that produced the event and must not block.
type Observer interface {
	DeviceChanged(device.Snapshot)
	DiscoveryCompleted(discovery.Result)
}

type deviceMap map[device.ID]*device.Record

// Manager owns the UDP socket and the device map. HTTP handlers, the
// receive loop and the refresh loop all go through it.
//
// Thread Safety: All methods are safe for concurrent use.
type Manager struct {
	opts      Options
	conn      net.PacketConn
	tx        *transport
	devices   *safesync.Guard[deviceMap]
	discovery *discovery.Engine
	logger    Logger

	observersMu sync.RWMutex
	observers   []Observer

	packets      atomic.Uint64
	decodeErrors atomic.Uint64
	panics       atomic.Uint64

	started  atomic.Int64 // unix nanoseconds, zero until Start
	now      func() time.Time
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New opens the socket (unless Options.Conn is set) and builds the Manager.
// Call Start to begin receiving.
func New(opts Options) (*Manager, error) {
	if err := opts.applyDefaults(); err != nil {
		return nil, err
	}

	conn := opts.Conn
	if conn == nil {
		c, err := net.ListenPacket("udp4", opts.Bind)
		if err != nil {
			return nil, fmt.Errorf("binding %s: %w", opts.Bind, err)
		}
		conn = c
	}

	var logger Logger = noopLogger{}
	if opts.Logger != nil {
		logger = opts.Logger
	}

	m := &Manager{
		opts:    opts,
		conn:    conn,
		tx:      newTransport(conn, opts.Source),
		devices: safesync.NewGuard("gateway.devices", deviceMap{}, opts.Monitor),
		logger:  logger,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	m.discovery = discovery.New(m, opts.Discovery)
	m.discovery.AddObserver(m)
	return m, nil
}

// Start launches the receive loop, the refresh loop and, when enabled, the
// discovery timer. An initial discovery run is started immediately.
func (m *Manager) Start(ctx context.Context) {
	m.started.Store(m.now().UnixNano())
	ctx, cancel := context.WithCancel(ctx)

	m.wg.Add(3)
	go m.receiveLoop()
	go func() {
		defer m.wg.Done()
		defer cancel()
		select {
		case <-m.done:
		case <-ctx.Done():
		}
	}()
	go m.refreshLoop(ctx)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		_, _ = m.discovery.Run(ctx, discovery.TriggerTimer)
		if m.opts.DiscoveryInterval > 0 {
			m.discovery.Loop(ctx, m.opts.DiscoveryInterval)
		}
	}()

	m.logger.Info("gateway started",
		"addr", m.conn.LocalAddr().String(),
		"source", fmt.Sprintf("%08x", m.opts.Source),
		"auto_discovery", m.opts.DiscoveryInterval > 0)
}

// Close stops every loop and closes the socket.
func (m *Manager) Close() error {
	var err error
	m.stopOnce.Do(func() {
		close(m.done)
		err = m.conn.Close()
		m.wg.Wait()
		m.logger.Info("gateway stopped")
	})
	return err
}

// Subscribe registers o for device and discovery events.
func (m *Manager) Subscribe(o Observer) {
	m.observersMu.Lock()
	defer m.observersMu.Unlock()
	m.observers = append(m.observers, o)
}

func (m *Manager) snapshotObservers() []Observer {
	m.observersMu.RLock()
	defer m.observersMu.RUnlock()
	return append([]Observer(nil), m.observers...)
}

// DiscoveryCompleted implements discovery.Observer by fanning the result
// out to subscribers.
func (m *Manager) DiscoveryCompleted(res discovery.Result) {
	for _, o := range m.snapshotObservers() {
		o.DiscoveryCompleted(res)
	}
}

func (m *Manager) deviceChanged(s device.Snapshot) {
	for _, o := range m.snapshotObservers() {
		o.DeviceChanged(s)
	}
}

// withDevices runs fn under the device map guard. Poisoning is recovered
// by the next caller, which first drops nil entries left by an interrupted
// insert.
func (m *Manager) withDevices(fn func(devs deviceMap)) error {
	return m.devices.DoWithRecovery(pruneNil, func(d *deviceMap) { fn(*d) })
}

func pruneNil(d *deviceMap) {
	if *d == nil {
		*d = deviceMap{}
		return
	}
	for id, r := range *d {
		if r == nil {
			delete(*d, id)
		}
	}
}

// List returns snapshots of the devices matching sel, ordered by label
// then id. It never returns nil.
func (m *Manager) List(sel device.Selector) []device.Snapshot {
	out := []device.Snapshot{}
	err := m.withDevices(func(devs deviceMap) {
		for _, r := range sel.Filter(devs) {
			out = append(out, r.Snapshot())
		}
	})
	if err != nil {
		m.logger.Error("listing devices", "error", err)
	}
	return out
}

// Known implements discovery.Prober.
func (m *Manager) Known() int {
	var n int
	_ = m.withDevices(func(devs deviceMap) { n = len(devs) })
	return n
}

// Probe implements discovery.Prober.
func (m *Manager) Probe(dst netip.AddrPort) error {
	return m.tx.Broadcast(dst, lan.Query(lan.MsgGetService))
}

// ApplyState sends c to one device and waits for every acknowledgement.
// Commands are issued under the device map lock; the wait happens outside
// it. With c.NoAck set the call returns as soon as the frames are sent.
//
// Returns:
//   - error: ErrUnknownDevice, a send error, ErrDeviceUnreachable on ack
//     timeout, or the context error
func (m *Manager) ApplyState(ctx context.Context, id device.ID, c device.Change) error {
	var (
		acks []<-chan struct{}
		snap device.Snapshot
		err  error
	)
	gerr := m.withDevices(func(devs deviceMap) {
		r, ok := devs[id]
		if !ok {
			err = fmt.Errorf("%w: %s", ErrUnknownDevice, id)
			return
		}
		acks, err = r.ApplyChange(m.tx, c, m.now())
		snap = r.Snapshot()
	})
	if gerr != nil {
		return gerr
	}
	if err != nil {
		return err
	}
	m.deviceChanged(snap)
	err = m.awaitAcks(ctx, id, acks)
	if errors.Is(err, ErrDeviceUnreachable) {
		m.discardUnconfirmed(id)
	}
	return err
}

// discardUnconfirmed drops the optimistic state of a write the device never
// acknowledged and tells observers when that changed anything.
func (m *Manager) discardUnconfirmed(id device.ID) {
	var (
		snap    device.Snapshot
		dropped bool
	)
	_ = m.withDevices(func(devs deviceMap) {
		if r, ok := devs[id]; ok && r.DiscardProvisional() {
			dropped = true
			snap = r.Snapshot()
		}
	})
	if dropped {
		m.deviceChanged(snap)
	}
}

func (m *Manager) awaitAcks(ctx context.Context, id device.ID, acks []<-chan struct{}) error {
	if len(acks) == 0 {
		return nil
	}
	timer := time.NewTimer(m.opts.AckTimeout)
	defer timer.Stop()

	for _, ch := range acks {
		select {
		case <-ch:
		case <-timer.C:
			m.tx.release(acks)
			return fmt.Errorf("%w: %s after %s", ErrDeviceUnreachable, id, m.opts.AckTimeout)
		case <-ctx.Done():
			m.tx.release(acks)
			return ctx.Err()
		case <-m.done:
			m.tx.release(acks)
			return ErrClosed
		}
	}
	return nil
}

// LabelOutcome is the per-device result of SetLabel.
type LabelOutcome struct {
	ID    device.ID
	Label string
	Err   error
}

// SetLabel renames every device matching sel. Each call counts once against
// the client's configuration-change limit, checked before any device is
// touched.
//
// Returns:
//   - []LabelOutcome: one entry per matched device
//   - error: *ratelimit.LimitError when the client is over its limit, or a
//     label validation error
func (m *Manager) SetLabel(ctx context.Context, client string, sel device.Selector, label string) ([]LabelOutcome, error) {
	if err := lan.ValidateLabel(label); err != nil {
		return nil, err
	}
	if m.opts.Limiter != nil {
		if d := m.opts.Limiter.Check(ratelimit.KindConfig, client); !d.Allowed {
			return nil, d.Err(ratelimit.KindConfig)
		}
	}

	type pending struct {
		id   device.ID
		ack  <-chan struct{}
		err  error
		snap device.Snapshot
	}
	var sent []pending
	err := m.withDevices(func(devs deviceMap) {
		for _, r := range sel.Filter(devs) {
			ack, err := r.SetLabel(m.tx, label, device.Options{}, m.now())
			sent = append(sent, pending{id: r.ID(), ack: ack, err: err, snap: r.Snapshot()})
		}
	})
	if err != nil {
		return nil, err
	}

	out := make([]LabelOutcome, 0, len(sent))
	for _, p := range sent {
		o := LabelOutcome{ID: p.id, Label: label, Err: p.err}
		if p.err == nil {
			m.deviceChanged(p.snap)
			if p.ack != nil {
				o.Err = m.awaitAcks(ctx, p.id, []<-chan struct{}{p.ack})
				if errors.Is(o.Err, ErrDeviceUnreachable) {
					m.discardUnconfirmed(p.id)
				}
			}
		}
		out = append(out, o)
	}
	m.logger.Info("label changed", "selector", sel.String(), "label", label, "devices", len(out))
	return out, nil
}

// Discover runs discovery now.
func (m *Manager) Discover(ctx context.Context) (discovery.Result, error) {
	return m.discovery.Run(ctx, discovery.TriggerManual)
}

// DiscoveryMetrics returns the discovery counters.
func (m *Manager) DiscoveryMetrics() discovery.Metrics {
	return m.discovery.Metrics()
}

// Stats is a point-in-time view of gateway health.
type Stats struct {
	Devices      int            `json:"devices"`
	Packets      uint64         `json:"packets_received"`
	DecodeErrors uint64         `json:"decode_errors"`
	Panics       uint64         `json:"handler_panics"`
	FramesSent   uint64         `json:"frames_sent"`
	SendErrors   uint64         `json:"send_errors"`
	PendingAcks  int            `json:"pending_acks"`
	Poisoning    safesync.Stats `json:"lock_recoveries"`
	Uptime       time.Duration  `json:"uptime"`
}

// Stats returns current counters. The device count is best effort: if the
// device map is busy it is reported as -1 rather than waiting.
func (m *Manager) Stats() Stats {
	s := Stats{
		Devices:      -1,
		Packets:      m.packets.Load(),
		DecodeErrors: m.decodeErrors.Load(),
		Panics:       m.panics.Load(),
		FramesSent:   m.tx.sent.Load(),
		SendErrors:   m.tx.failed.Load(),
		PendingAcks:  m.tx.waiting(),
		Poisoning:    m.opts.Monitor.Stats(),
	}
	_, _ = m.devices.TryDoWithRecovery(pruneNil, func(d *deviceMap) { s.Devices = len(*d) })
	if ns := m.started.Load(); ns != 0 {
		s.Uptime = m.now().Sub(time.Unix(0, ns))
	}
	return s
}

func (m *Manager) closed() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}

// receiveLoop reads datagrams until the socket is closed. Read errors back
// off from 100ms, doubling up to 30s, and reset on the next good read.
func (m *Manager) receiveLoop() {
	defer m.wg.Done()

	buf := make([]byte, lan.MaxFrameSize)
	backoff := time.Duration(0)
	for {
		n, from, err := m.conn.ReadFrom(buf)
		if err != nil {
			if m.closed() || errors.Is(err, net.ErrClosed) {
				return
			}
			backoff = nextBackoff(backoff)
			m.logger.Warn("udp read failed", "error", err, "backoff", backoff.String())
			select {
			case <-m.done:
				return
			case <-time.After(backoff):
			}
			continue
		}
		backoff = 0
		m.packets.Add(1)
		m.handlePacket(buf[:n], from)
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d <= 0 {
		return minReadBackoff
	}
	d *= 2
	if d > maxReadBackoff {
		d = maxReadBackoff
	}
	return d
}

// handlePacket processes one datagram. A panic is contained to the packet.
func (m *Manager) handlePacket(data []byte, from net.Addr) {
	defer func() {
		if r := recover(); r != nil {
			m.panics.Add(1)
			m.logger.Error("packet handler panicked", "from", from.String(), "panic", fmt.Sprint(r))
		}
	}()

	frame, err := lan.Decode(data)
	if err != nil {
		m.decodeErrors.Add(1)
		m.logger.Debug("dropping malformed frame", "from", from.String(), "error", err)
		return
	}
	// Broadcasts from other clients, including our own GetService probes.
	if frame.Target.IsZero() {
		return
	}
	if frame.Type == lan.MsgAcknowledgement {
		m.tx.acknowledge(frame.Target, frame.Sequence)
		return
	}
	msg, err := frame.Message()
	if err != nil {
		if !errors.Is(err, lan.ErrUnknownMessage) {
			m.decodeErrors.Add(1)
		}
		m.logger.Debug("ignoring frame", "from", from.String(), "type", frame.Type.String(), "error", err)
		return
	}
	if svc, ok := msg.(lan.StateService); ok && svc.Service != lan.ServiceUDP {
		return
	}

	addr := addrPortOf(from)
	id := device.ID(frame.Target)
	now := m.now()

	var (
		created, changed bool
		snap             device.Snapshot
		queries          []lan.MessageType
	)
	gerr := m.withDevices(func(devs deviceMap) {
		r, ok := devs[id]
		if !ok {
			r = device.NewRecord(id, addr, m.opts.Policy, now)
			devs[id] = r
			created = true
		}
		r.Seen(addr, now)
		changed = r.Apply(msg, now)
		if created || changed {
			snap = r.Snapshot()
		}
		if created {
			queries = r.RefreshQueries(now)
		}
	})
	if gerr != nil {
		m.logger.Error("updating device", "id", id.String(), "error", gerr)
		return
	}

	if _, ok := msg.(lan.StateService); ok {
		m.discovery.Observe(id)
	}
	if created {
		m.logger.Info("device discovered", "id", id.String(), "addr", addr.String())
		m.query(id, addr, queries)
	}
	if created || changed {
		m.deviceChanged(snap)
	}
}

func addrPortOf(a net.Addr) netip.AddrPort {
	if u, ok := a.(*net.UDPAddr); ok {
		ap := u.AddrPort()
		return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
	}
	ap, _ := netip.ParseAddrPort(a.String())
	return ap
}

func (m *Manager) query(id device.ID, addr netip.AddrPort, types []lan.MessageType) {
	for _, t := range types {
		if _, err := m.tx.Send(id, addr, lan.Query(t), false); err != nil {
			m.logger.Debug("refresh query failed", "id", id.String(), "type", t.String(), "error", err)
		}
	}
}

// refreshLoop re-queries stale attributes every RefreshInterval.
func (m *Manager) refreshLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.opts.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.refresh()
		}
	}
}

type refreshJob struct {
	id      device.ID
	addr    netip.AddrPort
	queries []lan.MessageType
}

// refresh collects due queries under the lock and sends them after it is
// released.
func (m *Manager) refresh() {
	now := m.now()
	var jobs []refreshJob
	err := m.withDevices(func(devs deviceMap) {
		for id, r := range devs {
			if q := r.RefreshQueries(now); len(q) > 0 && r.Addr().IsValid() {
				jobs = append(jobs, refreshJob{id: id, addr: r.Addr(), queries: q})
			}
		}
	})
	if err != nil {
		m.logger.Error("collecting refresh queries", "error", err)
		return
	}
	for _, j := range jobs {
		m.query(j.id, j.addr, j.queries)
	}
}
