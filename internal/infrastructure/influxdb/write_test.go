package influxdb

import (
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/ktheindifferent/lifx-api-server/internal/color"
	"github.com/ktheindifferent/lifx-api-server/internal/device"
	"github.com/ktheindifferent/lifx-api-server/internal/discovery"
	"github.com/ktheindifferent/lifx-api-server/internal/gateway"
	"github.com/ktheindifferent/lifx-api-server/internal/infrastructure/config"
)

type capturedPoint struct {
	Name   string
	Tags   map[string]string
	Fields map[string]interface{}
	Time   time.Time
}

func capture(p *write.Point) capturedPoint {
	c := capturedPoint{
		Name:   p.Name(),
		Tags:   map[string]string{},
		Fields: map[string]interface{}{},
		Time:   p.Time(),
	}
	for _, t := range p.TagList() {
		c.Tags[t.Key] = t.Value
	}
	for _, f := range p.FieldList() {
		c.Fields[f.Key] = f.Value
	}
	return c
}

type fakeWriter struct {
	mu      sync.Mutex
	points  []capturedPoint
	flushes int
}

func (w *fakeWriter) WritePoint(p *write.Point) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.points = append(w.points, capture(p))
}

func (w *fakeWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.flushes++
}

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestClient() (*Client, *fakeWriter) {
	w := &fakeWriter{}
	c := newClient(config.InfluxDBConfig{Enabled: true}, w)
	c.now = func() time.Time { return testNow }
	return c, w
}

func bulb(t *testing.T) device.Snapshot {
	t.Helper()
	id, err := device.ParseID("d073d5010203")
	if err != nil {
		t.Fatal(err)
	}
	power := uint16(65535)
	ir := uint16(32768)
	product, _ := device.LookupProduct(device.VendorLIFX, 29)
	return device.Snapshot{
		ID:       id,
		Label:    "Porch",
		Power:    &power,
		Color:    &color.HSBK{Hue: 0, Saturation: 0, Brightness: 65535, Kelvin: 3500},
		Infrared: &ir,
		Group:    &device.Collection{ID: "g1", Name: "Outside"},
		Product:  &product,
		LastSeen: testNow.Add(-time.Second),
	}
}

func TestLightStatePoint(t *testing.T) {
	snap := bulb(t)
	got := capture(lightStatePoint(snap, testNow))

	want := capturedPoint{
		Name: MeasurementLightState,
		Tags: map[string]string{
			"device_id": "d073d5010203",
			"label":     "Porch",
			"group":     "Outside",
			"product":   snap.Product.Name,
		},
		Fields: map[string]interface{}{
			"on":         true,
			"hue":        0.0,
			"saturation": 0.0,
			"brightness": 1.0,
			"kelvin":     int64(3500),
			"infrared":   color.Fraction(32768),
		},
		Time: testNow.Add(-time.Second),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("point (-want +got):\n%s", diff)
	}
}

func TestLightStatePointUnknownState(t *testing.T) {
	id, _ := device.ParseID("d073d5aabbcc")
	got := capture(lightStatePoint(device.Snapshot{ID: id}, testNow))

	want := capturedPoint{
		Name:   MeasurementLightState,
		Tags:   map[string]string{"device_id": "d073d5aabbcc"},
		Fields: map[string]interface{}{"on": false},
		Time:   testNow,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("point (-want +got):\n%s", diff)
	}
}

func TestDeviceChangedSkipsProvisional(t *testing.T) {
	c, w := newTestClient()

	snap := bulb(t)
	snap.Provisional = true
	c.DeviceChanged(snap)
	snap.Provisional = false
	c.DeviceChanged(snap)

	if len(w.points) != 1 {
		t.Fatalf("wrote %d points, want 1", len(w.points))
	}
}

func TestDiscoveryPoint(t *testing.T) {
	c, w := newTestClient()
	c.DiscoveryCompleted(discovery.Result{
		Trigger:  discovery.TriggerTimer,
		Started:  testNow,
		Duration: 1500 * time.Millisecond,
		Targets:  2,
		Replies:  5,
		Known:    3,
		Status:   discovery.StatusFailed,
		Error:    "send failed",
	})

	want := []capturedPoint{{
		Name: MeasurementDiscovery,
		Tags: map[string]string{"trigger": "timer", "status": "failed"},
		Fields: map[string]interface{}{
			"duration_ms":   int64(1500),
			"targets":       int64(2),
			"replies":       int64(5),
			"devices_known": int64(3),
			"error":         "send failed",
		},
		Time: testNow,
	}}
	if diff := cmp.Diff(want, w.points); diff != "" {
		t.Errorf("points (-want +got):\n%s", diff)
	}
}

func TestGatewayPoint(t *testing.T) {
	tests := []struct {
		name        string
		devices     int
		wantDevices bool
	}{
		{"counted", 4, true},
		{"map busy", -1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := capture(gatewayPoint(gateway.Stats{Devices: tt.devices, Packets: 10, Uptime: time.Minute}, testNow))
			if got.Name != MeasurementGateway || got.Fields["packets_received"] != int64(10) || got.Fields["uptime_s"] != 60.0 {
				t.Errorf("point = %+v", got)
			}
			_, ok := got.Fields["devices"]
			if ok != tt.wantDevices {
				t.Errorf("devices field present = %v, want %v", ok, tt.wantDevices)
			}
		})
	}
}

func TestClosedClientDropsWrites(t *testing.T) {
	c, w := newTestClient()

	if err := c.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	c.DeviceChanged(bulb(t))
	c.WriteGatewayStats(gateway.Stats{})
	c.Flush()

	if len(w.points) != 0 {
		t.Errorf("wrote %d points after Close", len(w.points))
	}
	if w.flushes != 1 {
		t.Errorf("flushes = %d, want 1 (from Close)", w.flushes)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close() = %v", err)
	}
}
