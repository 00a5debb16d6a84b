package device

import (
	"time"

	"github.com/ktheindifferent/lifx-api-server/internal/color"
)

// Snapshot is an immutable copy of a Record, safe to use after the device
// map guard is released. Optional attributes are nil until first reported.
type Snapshot struct {
	ID        ID
	UUID      string
	Address   string
	Label     string
	Power     *uint16
	Color     *color.HSBK
	Infrared  *uint16
	Group     *Collection
	Location  *Collection
	Product   *Product
	Firmware  *Firmware
	FirstSeen time.Time
	LastSeen  time.Time

	// Provisional is true while any optimistic write awaits confirmation.
	Provisional bool
}

// On reports whether the snapshot's power is known and non-zero.
func (s Snapshot) On() bool {
	return s.Power != nil && *s.Power > 0
}

// SinceSeen returns how long ago the device was last heard from.
func (s Snapshot) SinceSeen(now time.Time) time.Duration {
	return now.Sub(s.LastSeen)
}

// Snapshot copies the record's current state.
func (r *Record) Snapshot() Snapshot {
	s := Snapshot{
		ID:        r.id,
		UUID:      r.uuid.String(),
		Label:     valueOr(r.label.Get()),
		Power:     optional(r.power.Get()),
		Color:     optional(r.color.Get()),
		Infrared:  optional(r.infrared.Get()),
		Group:     optional(r.group.Get()),
		Location:  optional(r.location.Get()),
		Firmware:  optional(r.firmware.Get()),
		FirstSeen: r.firstSeen,
		LastSeen:  r.lastSeen,
	}
	s.Provisional = r.power.Provisional() || r.color.Provisional() ||
		r.label.Provisional() || r.infrared.Provisional()
	if r.addr.IsValid() {
		s.Address = r.addr.String()
	}
	if p, ok := r.Product(); ok {
		s.Product = &p
	}
	return s
}

func optional[T any](v T, ok bool) *T {
	if !ok {
		return nil
	}
	return &v
}

func valueOr[T any](v T, _ bool) T {
	return v
}
