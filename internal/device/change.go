package device

import (
	"time"

	"github.com/ktheindifferent/lifx-api-server/internal/color"
)

// Change is a partial state for one device. Nil fields and a zero Color are
// left untouched.
type Change struct {
	Power    *bool
	Color    color.Change
	Infrared *uint16
	Options
}

// IsZero reports whether the change would send nothing.
func (c Change) IsZero() bool {
	return c.Power == nil && c.Color.IsZero() && c.Infrared == nil
}

// ApplyChange issues the commands for c in a fixed order: power, colour,
// infrared. Partial colours are resolved against the cached colour, or the
// default white when none has been reported yet.
//
// Returns the acknowledgement channels of the commands sent so far; on error
// the commands before the failing one have already been issued.
func (r *Record) ApplyChange(tx Transmitter, c Change, now time.Time) ([]<-chan struct{}, error) {
	var acks []<-chan struct{}
	add := func(ch <-chan struct{}) {
		if ch != nil {
			acks = append(acks, ch)
		}
	}

	if c.Power != nil {
		ch, err := r.SetPower(tx, *c.Power, c.Options, now)
		if err != nil {
			return acks, err
		}
		add(ch)
	}

	if !c.Color.IsZero() {
		base, ok := r.Color()
		if !ok {
			base = color.Default()
		}
		ch, err := r.SetColor(tx, c.Color.Apply(base), c.Options, now)
		if err != nil {
			return acks, err
		}
		add(ch)
	}

	if c.Infrared != nil {
		if p, ok := r.Product(); ok && !p.Infrared {
			return acks, nil
		}
		ch, err := r.SetInfrared(tx, *c.Infrared, c.Options, now)
		if err != nil {
			return acks, err
		}
		add(ch)
	}

	return acks, nil
}
