package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ktheindifferent/lifx-api-server/internal/device"
	"github.com/ktheindifferent/lifx-api-server/internal/discovery"
	"github.com/ktheindifferent/lifx-api-server/internal/states"
)

type published struct {
	Topic    string
	Retained bool
	Payload  string
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
	sent chan struct{}
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{sent: make(chan struct{}, 64)}
}

func (p *fakePublisher) PublishRetained(topic string, payload []byte) error {
	return p.record(topic, payload, true)
}

func (p *fakePublisher) PublishEvent(topic string, payload []byte) error {
	return p.record(topic, payload, false)
}

func (p *fakePublisher) record(topic string, payload []byte, retained bool) error {
	defer func() { p.sent <- struct{}{} }()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, published{Topic: topic, Retained: retained, Payload: string(payload)})
	return nil
}

func (p *fakePublisher) wait(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-p.sent:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for publish %d of %d", i+1, n)
		}
	}
}

type fakeApplier struct {
	selector string
	update   states.Update
	resp     states.Response
	err      error
}

func (a *fakeApplier) ApplyOne(_ context.Context, selector string, u states.Update) (states.Response, error) {
	a.selector = selector
	a.update = u
	return a.resp, a.err
}

func testSnapshot(t *testing.T) device.Snapshot {
	t.Helper()
	id, err := device.ParseID("d073d5010203")
	if err != nil {
		t.Fatal(err)
	}
	power := uint16(65535)
	return device.Snapshot{
		ID:       id,
		Label:    "Desk",
		Power:    &power,
		LastSeen: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func runMirror(t *testing.T, m *Mirror) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestMirrorPublishesStateAndDiscovery(t *testing.T) {
	pub := newFakePublisher()
	m := NewMirror(pub, Topics{Prefix: "lifx"}, nil, nil)
	m.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 5, 0, time.UTC) }
	runMirror(t, m)

	m.DeviceChanged(testSnapshot(t))
	m.DiscoveryCompleted(discovery.Result{Targets: 1, Replies: 2, Known: 2, Status: discovery.StatusSucceeded})
	pub.wait(t, 2)

	pub.mu.Lock()
	defer pub.mu.Unlock()

	gotTopics := []published{
		{Topic: pub.msgs[0].Topic, Retained: pub.msgs[0].Retained},
		{Topic: pub.msgs[1].Topic, Retained: pub.msgs[1].Retained},
	}
	want := []published{
		{Topic: "lifx/state/d073d5010203", Retained: true},
		{Topic: "lifx/discovery", Retained: false},
	}
	if diff := cmp.Diff(want, gotTopics); diff != "" {
		t.Errorf("published (-want +got):\n%s", diff)
	}

	var view device.View
	if err := json.Unmarshal([]byte(pub.msgs[0].Payload), &view); err != nil {
		t.Fatalf("state payload: %v", err)
	}
	if view.ID != "d073d5010203" || view.Label != "Desk" || view.Power != "on" || !view.Connected {
		t.Errorf("view = %+v", view)
	}
	if view.SecondsSinceSeen != 5 {
		t.Errorf("SecondsSinceSeen = %v, want 5", view.SecondsSinceSeen)
	}

	if got := m.Stats(); got.Published != 2 || got.Failed != 0 {
		t.Errorf("Stats() = %+v", got)
	}
}

func TestMirrorCountsFailures(t *testing.T) {
	pub := newFakePublisher()
	pub.err = ErrNotConnected
	log := &recordingLogger{}
	m := NewMirror(pub, Topics{}, nil, log)
	runMirror(t, m)

	m.DeviceChanged(testSnapshot(t))
	pub.wait(t, 1)

	pub.mu.Lock()
	pub.err = errors.New("broker rejected")
	pub.mu.Unlock()
	m.DeviceChanged(testSnapshot(t))
	pub.wait(t, 1)

	// The send signal fires before Run updates its counters.
	deadline := time.Now().Add(2 * time.Second)
	for m.Stats().Failed < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := m.Stats(); got.Failed != 2 || got.Published != 0 {
		t.Errorf("Stats() = %+v", got)
	}
	// Only the second failure is logged; disconnects are expected.
	if got := log.all(); len(got) != 1 || got[0] != "WARN MQTT publish failed" {
		t.Errorf("log = %v", got)
	}
}

func TestMirrorDropsWhenQueueFull(t *testing.T) {
	m := NewMirror(newFakePublisher(), Topics{}, nil, nil)
	snap := testSnapshot(t)

	// Nothing drains the queue.
	for i := 0; i < mirrorQueueSize+3; i++ {
		m.DeviceChanged(snap)
	}
	if got := m.Stats().Dropped; got != 3 {
		t.Errorf("Dropped = %d, want 3", got)
	}
}

func TestMirrorHandleCommand(t *testing.T) {
	applier := &fakeApplier{resp: states.Response{Results: []states.Result{
		{ID: "d073d5010203", Status: states.StatusOK},
		{ID: "d073d5010204", Status: states.StatusTimedOut},
	}}}
	log := &recordingLogger{}
	m := NewMirror(newFakePublisher(), Topics{Prefix: "lifx"}, applier, log)

	err := m.HandleCommand("lifx/set/group:Bedroom", []byte(`{"power":"off","duration":2}`))
	if err != nil {
		t.Fatalf("HandleCommand() = %v", err)
	}
	if applier.selector != "group:Bedroom" {
		t.Errorf("selector = %q", applier.selector)
	}
	if applier.update.Power == nil || *applier.update.Power != "off" ||
		applier.update.Duration == nil || *applier.update.Duration != 2 {
		t.Errorf("update = %+v", applier.update)
	}
	if got := m.Stats().Commands; got != 1 {
		t.Errorf("Commands = %d, want 1", got)
	}
	if got := log.all(); len(got) != 1 || got[0] != "WARN MQTT command not applied" {
		t.Errorf("log = %v", got)
	}
}

func TestMirrorHandleCommandErrors(t *testing.T) {
	tests := []struct {
		name    string
		applier StateApplier
		topic   string
		payload string
	}{
		{"commands disabled", nil, "lifx/set/all", `{"power":"on"}`},
		{"wrong topic", &fakeApplier{}, "lifx/state/all", `{"power":"on"}`},
		{"nested selector", &fakeApplier{}, "lifx/set/a/b", `{"power":"on"}`},
		{"bad json", &fakeApplier{}, "lifx/set/all", `{"power":`},
		{"rejected", &fakeApplier{err: states.ErrInvalidRequest}, "lifx/set/all", `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMirror(newFakePublisher(), Topics{Prefix: "lifx"}, tt.applier, nil)
			err := m.HandleCommand(tt.topic, []byte(tt.payload))
			if !errors.Is(err, ErrInvalidCommand) {
				t.Errorf("HandleCommand() = %v, want ErrInvalidCommand", err)
			}
		})
	}
}
