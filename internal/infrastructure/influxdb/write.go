package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/ktheindifferent/lifx-api-server/internal/color"
	"github.com/ktheindifferent/lifx-api-server/internal/device"
	"github.com/ktheindifferent/lifx-api-server/internal/discovery"
	"github.com/ktheindifferent/lifx-api-server/internal/gateway"
)

// Measurement names.
const (
	MeasurementLightState = "light_state"
	MeasurementDiscovery  = "discovery"
	MeasurementGateway    = "gateway"
)

// DeviceChanged records the confirmed state of a light. Provisional
// snapshots are skipped; the confirmation or the next poll records the
// real value.
func (c *Client) DeviceChanged(s device.Snapshot) {
	if s.Provisional {
		return
	}
	c.writePoint(lightStatePoint(s, c.now()))
}

// DiscoveryCompleted records one discovery run.
func (c *Client) DiscoveryCompleted(res discovery.Result) {
	c.writePoint(discoveryPoint(res))
}

// WriteGatewayStats records the gateway counters. lifxd calls it on the
// flush interval.
func (c *Client) WriteGatewayStats(s gateway.Stats) {
	c.writePoint(gatewayPoint(s, c.now()))
}

// lightStatePoint tags by id and label. Group and location names are tags
// too: they change rarely and are what dashboards filter on.
func lightStatePoint(s device.Snapshot, now time.Time) *write.Point {
	tags := map[string]string{
		"device_id": s.ID.String(),
	}
	if s.Label != "" {
		tags["label"] = s.Label
	}
	if s.Group != nil && s.Group.Name != "" {
		tags["group"] = s.Group.Name
	}
	if s.Location != nil && s.Location.Name != "" {
		tags["location"] = s.Location.Name
	}
	if s.Product != nil {
		tags["product"] = s.Product.Name
	}

	fields := map[string]interface{}{
		"on": s.On(),
	}
	if s.Color != nil {
		fields["hue"] = s.Color.Degrees()
		fields["saturation"] = color.Fraction(s.Color.Saturation)
		fields["brightness"] = color.Fraction(s.Color.Brightness)
		fields["kelvin"] = int64(s.Color.Kelvin)
	}
	if s.Infrared != nil {
		fields["infrared"] = color.Fraction(*s.Infrared)
	}

	ts := s.LastSeen
	if ts.IsZero() {
		ts = now
	}
	return write.NewPoint(MeasurementLightState, tags, fields, ts)
}

func discoveryPoint(res discovery.Result) *write.Point {
	fields := map[string]interface{}{
		"duration_ms":   res.Duration.Milliseconds(),
		"targets":       int64(res.Targets),
		"replies":       int64(res.Replies),
		"devices_known": int64(res.Known),
	}
	if res.Error != "" {
		fields["error"] = res.Error
	}
	return write.NewPoint(MeasurementDiscovery,
		map[string]string{
			"trigger": res.Trigger.String(),
			"status":  string(res.Status),
		},
		fields,
		res.Started,
	)
}

func gatewayPoint(s gateway.Stats, now time.Time) *write.Point {
	// #nosec G115 -- process counters stay far below MaxInt64
	fields := map[string]interface{}{
		"packets_received": int64(s.Packets),
		"decode_errors":    int64(s.DecodeErrors),
		"handler_panics":   int64(s.Panics),
		"frames_sent":      int64(s.FramesSent),
		"send_errors":      int64(s.SendErrors),
		"pending_acks":     int64(s.PendingAcks),
		"uptime_s":         s.Uptime.Seconds(),
	}
	// -1 means the device map was busy when sampled.
	if s.Devices >= 0 {
		fields["devices"] = int64(s.Devices)
	}
	return write.NewPoint(MeasurementGateway, nil, fields, now)
}
