package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ktheindifferent/lifx-api-server/internal/device"
	"github.com/ktheindifferent/lifx-api-server/internal/discovery"
	"github.com/ktheindifferent/lifx-api-server/internal/states"
)

const (
	// mirrorQueueSize bounds the events waiting to be published. Observer
	// callbacks never block; events beyond it are dropped and counted.
	mirrorQueueSize = 256

	// commandTimeout bounds one inbound command, retries included.
	commandTimeout = 10 * time.Second
)

// ErrInvalidCommand is returned for command messages that cannot be applied.
var ErrInvalidCommand = errors.New("mqtt: invalid command")

// Publisher is the publishing side of Client.
type Publisher interface {
	PublishRetained(topic string, payload []byte) error
	PublishEvent(topic string, payload []byte) error
}

// StateApplier applies an inbound state command.
type StateApplier interface {
	ApplyOne(ctx context.Context, selector string, u states.Update) (states.Response, error)
}

type outbound struct {
	topic    string
	payload  []byte
	retained bool
}

// MirrorStats counts mirror activity.
type MirrorStats struct {
	Published uint64 `json:"published"`
	Failed    uint64 `json:"failed"`
	Dropped   uint64 `json:"dropped"`
	Commands  uint64 `json:"commands"`
}

// Mirror republishes gateway events to MQTT and, when given an applier,
// accepts state commands on <prefix>/set/<selector>.
//
// It implements gateway.Observer. Callbacks only enqueue; Run does the
// publishing so a slow broker never stalls the UDP receive loop.
type Mirror struct {
	pub     Publisher
	topics  Topics
	applier StateApplier
	logger  Logger
	now     func() time.Time

	queue     chan outbound
	published atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
	commands  atomic.Uint64
}

// NewMirror creates a Mirror. applier may be nil to disable commands.
func NewMirror(pub Publisher, topics Topics, applier StateApplier, logger Logger) *Mirror {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Mirror{
		pub:     pub,
		topics:  topics,
		applier: applier,
		logger:  logger,
		now:     time.Now,
		queue:   make(chan outbound, mirrorQueueSize),
	}
}

type noopLogger struct{}

func (noopLogger) Error(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// DeviceChanged queues the device's view as a retained message.
func (m *Mirror) DeviceChanged(s device.Snapshot) {
	m.enqueue(m.topics.State(s.ID.String()), s.View(m.now()), true)
}

// DiscoveryCompleted queues the run result as a plain event.
func (m *Mirror) DiscoveryCompleted(res discovery.Result) {
	m.enqueue(m.topics.Discovery(), res, false)
}

func (m *Mirror) enqueue(topic string, v any, retained bool) {
	payload, err := json.Marshal(v)
	if err != nil {
		m.logger.Error("encoding MQTT payload", "topic", topic, "error", err)
		return
	}
	select {
	case m.queue <- outbound{topic: topic, payload: payload, retained: retained}:
	default:
		m.dropped.Add(1)
	}
}

// Run publishes queued events until ctx is cancelled.
func (m *Mirror) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case out := <-m.queue:
			m.publish(out)
		}
	}
}

func (m *Mirror) publish(out outbound) {
	var err error
	if out.retained {
		err = m.pub.PublishRetained(out.topic, out.payload)
	} else {
		err = m.pub.PublishEvent(out.topic, out.payload)
	}
	if err != nil {
		m.failed.Add(1)
		if !errors.Is(err, ErrNotConnected) {
			m.logger.Warn("MQTT publish failed", "topic", out.topic, "error", err)
		}
		return
	}
	m.published.Add(1)
}

// HandleCommand is a MessageHandler for the set topics. The payload is a
// JSON state object with the same fields as the HTTP state endpoint.
func (m *Mirror) HandleCommand(topic string, payload []byte) error {
	if m.applier == nil {
		return fmt.Errorf("%w: commands disabled", ErrInvalidCommand)
	}
	selector, ok := m.topics.SelectorFromSet(topic)
	if !ok {
		return fmt.Errorf("%w: unexpected topic %q", ErrInvalidCommand, topic)
	}
	var u states.Update
	if err := json.Unmarshal(payload, &u); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}
	m.commands.Add(1)

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	resp, err := m.applier.ApplyOne(ctx, selector, u)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}
	for _, r := range resp.Results {
		if r.Status != states.StatusOK {
			m.logger.Warn("MQTT command not applied", "selector", selector, "id", r.ID, "status", string(r.Status), "error", r.Error)
		}
	}
	return nil
}

// Stats returns the mirror counters.
func (m *Mirror) Stats() MirrorStats {
	return MirrorStats{
		Published: m.published.Load(),
		Failed:    m.failed.Load(),
		Dropped:   m.dropped.Load(),
		Commands:  m.commands.Load(),
	}
}
