package device

import (
	"time"

	"github.com/ktheindifferent/lifx-api-server/internal/color"
)

// ConnectedWithin is how recently a device must have replied to be reported
// as connected. Colour is re-queried every 15s, so a live bulb is heard from
// well inside this window.
const ConnectedWithin = time.Minute

// View is the external JSON form of a light, shaped like the LIFX HTTP API
// list response. Hue is in degrees; saturation and brightness are fractions.
type View struct {
	ID               string          `json:"id"`
	UUID             string          `json:"uuid"`
	Label            string          `json:"label"`
	Connected        bool            `json:"connected"`
	Power            string          `json:"power"`
	Color            *ColorView      `json:"color"`
	Brightness       float64         `json:"brightness"`
	Infrared         *float64        `json:"infrared,omitempty"`
	Group            *CollectionView `json:"group"`
	Location         *CollectionView `json:"location"`
	Product          *Product        `json:"product"`
	Firmware         string          `json:"firmware,omitempty"`
	Address          string          `json:"address,omitempty"`
	LastSeen         string          `json:"last_seen"`
	SecondsSinceSeen int64           `json:"seconds_since_seen"`
	Provisional      bool            `json:"provisional,omitempty"`
}

// ColorView is a colour in API units.
type ColorView struct {
	Hue        float64 `json:"hue"`
	Saturation float64 `json:"saturation"`
	Kelvin     uint16  `json:"kelvin"`
	Brightness float64 `json:"brightness"`
}

// CollectionView is a group or location reference.
type CollectionView struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// View converts the snapshot for output. Unknown power reads as "off" and
// unknown colour as null.
func (s Snapshot) View(now time.Time) View {
	since := s.SinceSeen(now)
	v := View{
		ID:               s.ID.String(),
		UUID:             s.UUID,
		Label:            s.Label,
		Connected:        !s.LastSeen.IsZero() && since <= ConnectedWithin,
		Power:            "off",
		Product:          s.Product,
		Address:          s.Address,
		LastSeen:         s.LastSeen.UTC().Format(time.RFC3339),
		SecondsSinceSeen: int64(since / time.Second),
		Provisional:      s.Provisional,
	}
	if s.On() {
		v.Power = "on"
	}
	if s.Color != nil {
		c := *s.Color
		v.Color = &ColorView{
			Hue:        c.Degrees(),
			Saturation: color.Fraction(c.Saturation),
			Kelvin:     c.Kelvin,
			Brightness: color.Fraction(c.Brightness),
		}
		v.Brightness = v.Color.Brightness
	}
	if s.Infrared != nil {
		ir := color.Fraction(*s.Infrared)
		v.Infrared = &ir
	}
	if s.Group != nil {
		v.Group = &CollectionView{ID: s.Group.ID, Name: s.Group.Name}
	}
	if s.Location != nil {
		v.Location = &CollectionView{ID: s.Location.ID, Name: s.Location.Name}
	}
	if s.Firmware != nil {
		v.Firmware = s.Firmware.String()
	}
	return v
}

// Views converts a slice of snapshots, preserving order. The result is never
// nil.
func Views(snaps []Snapshot, now time.Time) []View {
	out := make([]View, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, s.View(now))
	}
	return out
}
