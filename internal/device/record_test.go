package device

import (
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ktheindifferent/lifx-api-server/internal/color"
	"github.com/ktheindifferent/lifx-api-server/internal/lan"
)

type sent struct {
	id  ID
	msg lan.Message
	ack bool
}

type fakeTransmitter struct {
	sent []sent
	err  error
}

func (f *fakeTransmitter) Send(id ID, _ netip.AddrPort, msg lan.Message, ack bool) (<-chan struct{}, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, sent{id: id, msg: msg, ack: ack})
	if !ack {
		return nil, nil
	}
	ch := make(chan struct{})
	close(ch)
	return ch, nil
}

var (
	testID   = ID{0xd0, 0x73, 0xd5, 0x12, 0x34, 0x56}
	testAddr = netip.MustParseAddrPort("192.168.1.20:56700")
)

func newTestRecord(now time.Time) *Record {
	return NewRecord(testID, testAddr, DefaultCachePolicy(), now)
}

func TestParseID(t *testing.T) {
	id, err := ParseID("D073D5123456")
	if err != nil {
		t.Fatalf("ParseID() error = %v", err)
	}
	if id != testID {
		t.Errorf("ParseID() = %v, want %v", id, testID)
	}
	for _, bad := range []string{"", "d073d5", "d073d512345g", "d073d51234567"} {
		if _, err := ParseID(bad); !errors.Is(err, ErrInvalidID) {
			t.Errorf("ParseID(%q) error = %v, want ErrInvalidID", bad, err)
		}
	}
}

func TestRecordUUIDStable(t *testing.T) {
	a := newTestRecord(time.Now())
	b := newTestRecord(time.Now().Add(time.Hour))
	if a.UUID() != b.UUID() {
		t.Errorf("UUID differs across records for the same id: %s vs %s", a.UUID(), b.UUID())
	}
}

func TestRecordApply(t *testing.T) {
	now := time.Now()
	r := newTestRecord(now)
	hsbk := color.HSBK{Hue: 1000, Saturation: 65535, Brightness: 40000, Kelvin: 3500}

	if !r.Apply(lan.LightState{Color: hsbk, Power: PowerOn, Label: "Desk"}, now) {
		t.Fatal("Apply(LightState) reported no change on first reply")
	}
	if r.Apply(lan.LightState{Color: hsbk, Power: PowerOn, Label: "Desk"}, now) {
		t.Error("Apply(LightState) reported change for identical reply")
	}
	r.Apply(lan.StateGroup{Collection: lan.Collection{ID: [16]byte{0xAB}, Label: "Bedroom"}}, now)
	r.Apply(lan.StateLocation{Collection: lan.Collection{ID: [16]byte{0xCD}, Label: "Home"}}, now)
	r.Apply(lan.StateVersion{Vendor: 1, Product: 29}, now)
	r.Apply(lan.StateHostFirmware{VersionMajor: 3, VersionMinor: 70}, now)

	s := r.Snapshot()
	if s.Label != "Desk" || !s.On() {
		t.Errorf("snapshot label/power = %q/%v", s.Label, s.On())
	}
	if diff := cmp.Diff(&hsbk, s.Color); diff != "" {
		t.Errorf("color mismatch (-want +got):\n%s", diff)
	}
	if s.Group == nil || s.Group.Name != "Bedroom" || s.Group.ID != "ab000000000000000000000000000000" {
		t.Errorf("group = %+v", s.Group)
	}
	if s.Product == nil || !s.Product.Infrared {
		t.Errorf("product = %+v, want infrared-capable", s.Product)
	}
	if s.Firmware == nil || s.Firmware.String() != "3.70" {
		t.Errorf("firmware = %+v", s.Firmware)
	}
	if s.Provisional {
		t.Error("snapshot provisional after device replies only")
	}
}

func TestRecordSetPowerOptimistic(t *testing.T) {
	now := time.Now()
	r := newTestRecord(now)
	tx := &fakeTransmitter{}

	ack, err := r.SetPower(tx, true, Options{Transition: time.Second}, now)
	if err != nil {
		t.Fatalf("SetPower() error = %v", err)
	}
	if ack == nil {
		t.Error("SetPower() returned nil ack channel with ack requested")
	}
	if !r.On() {
		t.Error("power not updated optimistically")
	}
	if len(tx.sent) != 1 {
		t.Fatalf("sent %d frames, want 1", len(tx.sent))
	}
	want := lan.LightSetPower{Level: PowerOn, Duration: 1000}
	if diff := cmp.Diff(lan.Message(want), tx.sent[0].msg); diff != "" {
		t.Errorf("message mismatch (-want +got):\n%s", diff)
	}
	if !r.Snapshot().Provisional {
		t.Error("snapshot not provisional after optimistic write")
	}
}

func TestRecordDiscardProvisional(t *testing.T) {
	now := time.Now()
	r := newTestRecord(now)
	r.Apply(lan.LightState{Color: color.HSBK{Hue: 100, Kelvin: 3500}, Power: 0, Label: "Desk"}, now)

	if r.DiscardProvisional() {
		t.Error("DiscardProvisional() dropped confirmed values")
	}

	if _, err := r.SetPower(&fakeTransmitter{}, true, Options{}, now); err != nil {
		t.Fatalf("SetPower() error = %v", err)
	}
	if !r.DiscardProvisional() {
		t.Fatal("DiscardProvisional() kept the unconfirmed power write")
	}
	if _, ok := r.Power(); ok {
		t.Error("power still known after discard")
	}
	if _, ok := r.Color(); !ok {
		t.Error("confirmed colour was dropped")
	}
	if r.Snapshot().Provisional {
		t.Error("snapshot still provisional after discard")
	}
}

func TestRecordSetColorNoAck(t *testing.T) {
	now := time.Now()
	r := newTestRecord(now)
	tx := &fakeTransmitter{}
	c := color.HSBK{Hue: 1, Saturation: 2, Brightness: 3, Kelvin: 3500}

	ack, err := r.SetColor(tx, c, Options{NoAck: true, Transition: 2 * MaxTransition}, now)
	if err != nil {
		t.Fatalf("SetColor() error = %v", err)
	}
	if ack != nil {
		t.Error("ack channel returned for fire-and-forget send")
	}
	got := tx.sent[0].msg.(lan.LightSetColor)
	if got.Duration != 1<<32-1 {
		t.Errorf("Duration = %d, want clamped to max uint32", got.Duration)
	}
	if cur, _ := r.Color(); cur != c {
		t.Errorf("Color() = %v, want %v", cur, c)
	}
}

func TestRecordSendFailureLeavesCache(t *testing.T) {
	now := time.Now()
	r := newTestRecord(now)
	r.Apply(lan.StateLabel{Label: "old"}, now)
	tx := &fakeTransmitter{err: errors.New("network down")}

	if _, err := r.SetLabel(tx, "new", Options{}, now); err == nil {
		t.Fatal("SetLabel() error = nil, want send error")
	}
	if l, _ := r.Label(); l != "old" {
		t.Errorf("label = %q after failed send, want unchanged", l)
	}

	if _, err := r.SetLabel(&fakeTransmitter{}, string(make([]byte, 40)), Options{}, now); !errors.Is(err, lan.ErrLabelTooLong) {
		t.Errorf("SetLabel(long) error = %v, want ErrLabelTooLong", err)
	}
}

func TestRecordNoAddress(t *testing.T) {
	r := NewRecord(testID, netip.AddrPort{}, DefaultCachePolicy(), time.Now())
	if _, err := r.SetInfrared(&fakeTransmitter{}, 100, Options{}, time.Now()); !errors.Is(err, ErrNoAddress) {
		t.Errorf("SetInfrared() error = %v, want ErrNoAddress", err)
	}
}

func TestRecordRefreshQueries(t *testing.T) {
	now := time.Now()
	r := newTestRecord(now)

	got := r.RefreshQueries(now)
	want := []lan.MessageType{lan.MsgLightGet, lan.MsgGetGroup, lan.MsgGetLocation, lan.MsgGetVersion, lan.MsgGetHostFirmware}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("fresh record queries mismatch (-want +got):\n%s", diff)
	}

	r.Apply(lan.LightState{Label: "x", Power: PowerOn}, now)
	r.Apply(lan.StateGroup{}, now)
	r.Apply(lan.StateLocation{}, now)
	r.Apply(lan.StateVersion{Vendor: 1, Product: 29}, now)
	r.Apply(lan.StateHostFirmware{}, now)

	got = r.RefreshQueries(now.Add(100 * time.Millisecond))
	want = []lan.MessageType{lan.MsgLightGetInfrared}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("populated record queries mismatch (-want +got):\n%s", diff)
	}

	r.Apply(lan.LightStateInfrared{Brightness: 0}, now)
	if got := r.RefreshQueries(now.Add(time.Second)); len(got) != 1 || got[0] != lan.MsgLightGet {
		t.Errorf("after power max age queries = %v, want [LightGet]", got)
	}
}

func TestRecordSeen(t *testing.T) {
	now := time.Now()
	r := newTestRecord(now)
	next := netip.MustParseAddrPort("192.168.1.99:56700")
	r.Seen(next, now.Add(time.Minute))
	if r.Addr() != next {
		t.Errorf("Addr() = %v, want %v", r.Addr(), next)
	}
	if !r.LastSeen().Equal(now.Add(time.Minute)) {
		t.Errorf("LastSeen() = %v", r.LastSeen())
	}
	if d := r.Snapshot().SinceSeen(now.Add(2 * time.Minute)); d != time.Minute {
		t.Errorf("SinceSeen() = %v, want 1m", d)
	}
}
