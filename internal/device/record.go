package device

import (
	"encoding/hex"
	"fmt"
	"math"
	"net/netip"
	"time"

	"github.com/google/uuid"

	"github.com/ktheindifferent/lifx-api-server/internal/color"
	"github.com/ktheindifferent/lifx-api-server/internal/lan"
)

// PowerOn is the level devices report when switched on.
const PowerOn = math.MaxUint16

// MaxTransition is the longest transition the wire format can carry.
const MaxTransition = time.Duration(math.MaxUint32) * time.Millisecond

// recordNamespace scopes the name-based UUIDs derived from device ids so
// the same bulb keeps its UUID across restarts.
var recordNamespace = uuid.MustParse("5a3c4f55-8d0e-4b7a-9b6e-6c1f0f2b9d11")

// CachePolicy sets the max age of each cached attribute.
type CachePolicy struct {
	Label    time.Duration
	Power    time.Duration
	Color    time.Duration
	Infrared time.Duration
	Group    time.Duration
	Location time.Duration

	// ConfirmWithin bounds how long an optimistic write is trusted without
	// a corroborating device reply.
	ConfirmWithin time.Duration
}

// DefaultCachePolicy returns the max ages used when none are configured.
func DefaultCachePolicy() CachePolicy {
	return CachePolicy{
		Label:         time.Hour,
		Power:         500 * time.Millisecond,
		Color:         15 * time.Second,
		Infrared:      15 * time.Second,
		Group:         time.Hour,
		Location:      time.Hour,
		ConfirmWithin: 3 * time.Second,
	}
}

// Collection is a group or location a device belongs to.
type Collection struct {
	ID        string
	Name      string
	UpdatedAt time.Time
}

// Version is the vendor/product/version triple from StateVersion.
type Version struct {
	Vendor  uint32
	Product uint32
	Version uint32
}

// Firmware is the host firmware version from StateHostFirmware.
type Firmware struct {
	Build time.Time
	Major uint16
	Minor uint16
}

// String returns "major.minor".
func (f Firmware) String() string {
	return fmt.Sprintf("%d.%d", f.Major, f.Minor)
}

// Options controls how a mutator issues its command.
type Options struct {
	// Transition is the fade duration. It is clamped to MaxTransition.
	Transition time.Duration

	// NoAck sends without requesting an acknowledgement.
	NoAck bool
}

// Transmitter sends a message to one device. When ack is true the returned
// channel is closed once the device acknowledges the frame; otherwise the
// channel is nil.
type Transmitter interface {
	Send(id ID, addr netip.AddrPort, msg lan.Message, ack bool) (<-chan struct{}, error)
}

// Record is the gateway's cached view of one device.
//
// Records are owned by the gateway's device map and must only be touched
// while holding its guard. Every mutable attribute is a Cell; version and
// firmware are cached permanently once known.
type Record struct {
	id   ID
	uuid uuid.UUID
	addr netip.AddrPort

	label    Cell[string]
	power    Cell[uint16]
	color    Cell[color.HSBK]
	infrared Cell[uint16]
	group    Cell[Collection]
	location Cell[Collection]
	version  Cell[Version]
	firmware Cell[Firmware]

	firstSeen time.Time
	lastSeen  time.Time
}

// NewRecord creates a record for a newly discovered device.
func NewRecord(id ID, addr netip.AddrPort, policy CachePolicy, now time.Time) *Record {
	confirm := policy.ConfirmWithin
	return &Record{
		id:        id,
		uuid:      uuid.NewSHA1(recordNamespace, id[:]),
		addr:      addr,
		label:     NewCell[string](policy.Label).WithConfirmWindow(confirm),
		power:     NewCell[uint16](policy.Power).WithConfirmWindow(confirm),
		color:     NewCell[color.HSBK](policy.Color).WithConfirmWindow(confirm),
		infrared:  NewCell[uint16](policy.Infrared).WithConfirmWindow(confirm),
		group:     NewCell[Collection](policy.Group),
		location:  NewCell[Collection](policy.Location),
		version:   NewCell[Version](0),
		firmware:  NewCell[Firmware](0),
		firstSeen: now,
		lastSeen:  now,
	}
}

// ID returns the device identifier.
func (r *Record) ID() ID { return r.id }

// UUID returns the stable UUID derived from the device identifier.
func (r *Record) UUID() uuid.UUID { return r.uuid }

// Addr returns the last known network address.
func (r *Record) Addr() netip.AddrPort { return r.addr }

// Label returns the cached label.
func (r *Record) Label() (string, bool) { return r.label.Get() }

// Power returns the cached power level.
func (r *Record) Power() (uint16, bool) { return r.power.Get() }

// On reports whether the cached power level is non-zero.
func (r *Record) On() bool {
	p, _ := r.power.Get()
	return p > 0
}

// Color returns the cached colour.
func (r *Record) Color() (color.HSBK, bool) { return r.color.Get() }

// Infrared returns the cached infrared level.
func (r *Record) Infrared() (uint16, bool) { return r.infrared.Get() }

// Group returns the cached group.
func (r *Record) Group() (Collection, bool) { return r.group.Get() }

// Location returns the cached location.
func (r *Record) Location() (Collection, bool) { return r.location.Get() }

// Product returns the device's capabilities once StateVersion has arrived.
func (r *Record) Product() (Product, bool) {
	v, ok := r.version.Get()
	if !ok {
		return Product{}, false
	}
	p, _ := LookupProduct(v.Vendor, v.Product)
	return p, true
}

// Firmware returns the cached host firmware version.
func (r *Record) Firmware() (Firmware, bool) { return r.firmware.Get() }

// LastSeen returns the time of the last frame received from the device.
func (r *Record) LastSeen() time.Time { return r.lastSeen }

// Seen records a frame from the device at addr.
func (r *Record) Seen(addr netip.AddrPort, now time.Time) {
	if addr.IsValid() {
		r.addr = addr
	}
	r.lastSeen = now
}

// Apply ingests a decoded device reply.
//
// Returns true when the reply changed a value visible in Snapshot, so the
// caller can notify observers.
func (r *Record) Apply(msg lan.Message, now time.Time) bool {
	switch m := msg.(type) {
	case lan.StateLabel:
		return updateCell(&r.label, m.Label, now)
	case lan.StatePower:
		return updateCell(&r.power, m.Level, now)
	case lan.LightStatePower:
		return updateCell(&r.power, m.Level, now)
	case lan.LightState:
		changed := updateCell(&r.color, m.Color, now)
		changed = updateCell(&r.power, m.Power, now) || changed
		changed = updateCell(&r.label, m.Label, now) || changed
		return changed
	case lan.LightStateInfrared:
		return updateCell(&r.infrared, m.Brightness, now)
	case lan.StateGroup:
		return updateCell(&r.group, collectionFrom(m.Collection), now)
	case lan.StateLocation:
		return updateCell(&r.location, collectionFrom(m.Collection), now)
	case lan.StateVersion:
		return updateCell(&r.version, Version{Vendor: m.Vendor, Product: m.Product, Version: m.Version}, now)
	case lan.StateHostFirmware:
		fw := Firmware{Build: time.Unix(0, int64(m.Build)), Major: m.VersionMajor, Minor: m.VersionMinor}
		return updateCell(&r.firmware, fw, now)
	}
	return false
}

func updateCell[T comparable](c *Cell[T], v T, now time.Time) bool {
	old, ok := c.Get()
	c.Update(v, now)
	return !ok || old != v
}

func collectionFrom(c lan.Collection) Collection {
	return Collection{
		ID:        hex.EncodeToString(c.ID[:]),
		Name:      c.Label,
		UpdatedAt: time.Unix(0, int64(c.UpdatedAt)),
	}
}

// RefreshQueries lists the queries needed to refresh stale attributes.
// LightGet answers colour, power and label in one reply, so a separate
// GetLabel is only sent when colour and power are both fresh.
func (r *Record) RefreshQueries(now time.Time) []lan.MessageType {
	var out []lan.MessageType
	if r.color.NeedsRefresh(now) || r.power.NeedsRefresh(now) {
		out = append(out, lan.MsgLightGet)
	} else if r.label.NeedsRefresh(now) {
		out = append(out, lan.MsgGetLabel)
	}
	if p, ok := r.Product(); ok && p.Infrared && r.infrared.NeedsRefresh(now) {
		out = append(out, lan.MsgLightGetInfrared)
	}
	if r.group.NeedsRefresh(now) {
		out = append(out, lan.MsgGetGroup)
	}
	if r.location.NeedsRefresh(now) {
		out = append(out, lan.MsgGetLocation)
	}
	if r.version.NeedsRefresh(now) {
		out = append(out, lan.MsgGetVersion)
	}
	if r.firmware.NeedsRefresh(now) {
		out = append(out, lan.MsgGetHostFirmware)
	}
	return out
}

// SetPower switches the device on or off and records the intent locally.
func (r *Record) SetPower(tx Transmitter, on bool, opts Options, now time.Time) (<-chan struct{}, error) {
	level := uint16(0)
	if on {
		level = PowerOn
	}
	msg := lan.LightSetPower{Level: level, Duration: transitionMillis(opts.Transition)}
	ack, err := r.send(tx, msg, opts)
	if err != nil {
		return nil, err
	}
	r.power.UpdateProvisional(level, now)
	return ack, nil
}

// SetColor changes the device colour and records the intent locally.
func (r *Record) SetColor(tx Transmitter, c color.HSBK, opts Options, now time.Time) (<-chan struct{}, error) {
	msg := lan.LightSetColor{Color: c, Duration: transitionMillis(opts.Transition)}
	ack, err := r.send(tx, msg, opts)
	if err != nil {
		return nil, err
	}
	r.color.UpdateProvisional(c, now)
	return ack, nil
}

// SetInfrared changes the infrared channel level and records the intent
// locally.
func (r *Record) SetInfrared(tx Transmitter, level uint16, opts Options, now time.Time) (<-chan struct{}, error) {
	ack, err := r.send(tx, lan.LightSetInfrared{Brightness: level}, opts)
	if err != nil {
		return nil, err
	}
	r.infrared.UpdateProvisional(level, now)
	return ack, nil
}

// SetLabel renames the device and records the intent locally.
func (r *Record) SetLabel(tx Transmitter, label string, opts Options, now time.Time) (<-chan struct{}, error) {
	if err := lan.ValidateLabel(label); err != nil {
		return nil, err
	}
	ack, err := r.send(tx, lan.SetLabel{Label: label}, opts)
	if err != nil {
		return nil, err
	}
	r.label.UpdateProvisional(label, now)
	return ack, nil
}

// DiscardProvisional drops every optimistic value the device never
// confirmed, so the record stops reporting a write that may not have
// happened and the next refresh re-queries it. It reports whether anything
// was dropped.
func (r *Record) DiscardProvisional() bool {
	dropped := r.power.discardProvisional()
	dropped = r.color.discardProvisional() || dropped
	dropped = r.infrared.discardProvisional() || dropped
	dropped = r.label.discardProvisional() || dropped
	return dropped
}

func (r *Record) send(tx Transmitter, msg lan.Message, opts Options) (<-chan struct{}, error) {
	if !r.addr.IsValid() {
		return nil, fmt.Errorf("%w: %s", ErrNoAddress, r.id)
	}
	return tx.Send(r.id, r.addr, msg, !opts.NoAck)
}

func transitionMillis(d time.Duration) uint32 {
	switch {
	case d <= 0:
		return 0
	case d >= MaxTransition:
		return math.MaxUint32
	}
	return uint32(d / time.Millisecond)
}
