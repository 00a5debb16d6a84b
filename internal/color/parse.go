package color

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidColor is returned when colour text does not match the grammar.
var ErrInvalidColor = errors.New("color: invalid color")

// Change is a partial colour update. Nil fields keep the device's current
// value when the change is applied.
type Change struct {
	Hue        *uint16
	Saturation *uint16
	Brightness *uint16
	Kelvin     *uint16
}

// IsZero reports whether the change sets no component.
func (c Change) IsZero() bool {
	return c.Hue == nil && c.Saturation == nil && c.Brightness == nil && c.Kelvin == nil
}

// Apply merges the change onto base.
func (c Change) Apply(base HSBK) HSBK {
	out := base
	if c.Hue != nil {
		out.Hue = *c.Hue
	}
	if c.Saturation != nil {
		out.Saturation = *c.Saturation
	}
	if c.Brightness != nil {
		out.Brightness = *c.Brightness
	}
	if c.Kelvin != nil {
		out.Kelvin = *c.Kelvin
	}
	return out
}

// WithBrightness returns a copy of c with brightness overridden.
func (c Change) WithBrightness(b uint16) Change {
	c.Brightness = &b
	return c
}

// Parse parses colour text into a Change.
//
// Accepted forms, combinable with whitespace:
//
//	red | orange | yellow | green | cyan | blue | purple | pink | white
//	hue:<0-360>  saturation:<0-1>  brightness:<0-1>  kelvin:<2500-9000>
//	rgb:<r>,<g>,<b>  #rrggbb
//
// A kelvin component also sets saturation to zero, matching how the LIFX
// HTTP API treats a white-point request.
func Parse(s string) (Change, error) {
	fields := strings.Fields(strings.ToLower(s))
	if len(fields) == 0 {
		return Change{}, fmt.Errorf("%w: empty", ErrInvalidColor)
	}

	var ch Change
	for _, f := range fields {
		if err := parseField(&ch, f); err != nil {
			return Change{}, err
		}
	}
	return ch, nil
}

func parseField(ch *Change, f string) error {
	if named, ok := Named(f); ok {
		ch.Hue = ptr(named.Hue)
		ch.Saturation = ptr(named.Saturation)
		return nil
	}

	if strings.HasPrefix(f, "#") {
		rgb, err := parseHex(f[1:])
		if err != nil {
			return err
		}
		setRGB(ch, rgb)
		return nil
	}

	key, val, ok := strings.Cut(f, ":")
	if !ok {
		return fmt.Errorf("%w: %q is not a colour name (known: %s)", ErrInvalidColor, f, strings.Join(Names(), ", "))
	}
	if val == "" {
		return fmt.Errorf("%w: %q", ErrInvalidColor, f)
	}

	switch key {
	case "hue":
		deg, err := parseRange(val, 0, 360)
		if err != nil {
			return fmt.Errorf("%w: hue %w", ErrInvalidColor, err)
		}
		ch.Hue = ptr(HueFromDegrees(deg))
	case "saturation":
		v, err := parseRange(val, 0, 1)
		if err != nil {
			return fmt.Errorf("%w: saturation %w", ErrInvalidColor, err)
		}
		ch.Saturation = ptr(FromFraction(v))
	case "brightness":
		v, err := parseRange(val, 0, 1)
		if err != nil {
			return fmt.Errorf("%w: brightness %w", ErrInvalidColor, err)
		}
		ch.Brightness = ptr(FromFraction(v))
	case "kelvin":
		k, err := strconv.Atoi(val)
		if err != nil || k < KelvinMin || k > KelvinMax {
			return fmt.Errorf("%w: kelvin must be an integer in [%d, %d]", ErrInvalidColor, KelvinMin, KelvinMax)
		}
		ch.Kelvin = ptr(uint16(k))
		ch.Saturation = ptr(uint16(0))
	case "rgb":
		rgb, err := parseRGBTriple(val)
		if err != nil {
			return err
		}
		setRGB(ch, rgb)
	default:
		return fmt.Errorf("%w: unknown component %q", ErrInvalidColor, key)
	}
	return nil
}

func setRGB(ch *Change, rgb [3]uint8) {
	c := FromRGB(rgb[0], rgb[1], rgb[2])
	ch.Hue = ptr(c.Hue)
	ch.Saturation = ptr(c.Saturation)
	ch.Brightness = ptr(c.Brightness)
}

func parseRange(s string, lo, hi float64) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%q is not a number", s)
	}
	if v < lo || v > hi {
		return 0, fmt.Errorf("%v out of range [%v, %v]", v, lo, hi)
	}
	return v, nil
}

func parseRGBTriple(s string) ([3]uint8, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return [3]uint8{}, fmt.Errorf("%w: rgb needs three components", ErrInvalidColor)
	}
	var out [3]uint8
	for i, p := range parts {
		v, err := strconv.ParseUint(strings.TrimSpace(p), 10, 8)
		if err != nil {
			return [3]uint8{}, fmt.Errorf("%w: rgb component %q must be 0-255", ErrInvalidColor, p)
		}
		out[i] = uint8(v)
	}
	return out, nil
}

func parseHex(s string) ([3]uint8, error) {
	if len(s) != 6 {
		return [3]uint8{}, fmt.Errorf("%w: hex colour must be #rrggbb", ErrInvalidColor)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return [3]uint8{}, fmt.Errorf("%w: hex colour must be #rrggbb", ErrInvalidColor)
	}
	return [3]uint8{b[0], b[1], b[2]}, nil
}

func ptr[T any](v T) *T {
	return &v
}
