package color

import (
	"fmt"
	"math"
)

// Scale constants for the device's 16-bit colour representation.
const (
	// hueSteps is the number of discrete hue positions in one revolution.
	// Degrees are converted with the exact factor hueSteps/360.
	hueSteps = 65536

	// MaxLevel is the full-scale value for saturation, brightness and infrared.
	MaxLevel = 65535

	// KelvinMin and KelvinMax bound the accepted white point.
	KelvinMin = 2500
	KelvinMax = 9000

	// DefaultKelvin is used when a device has not yet reported its colour.
	DefaultKelvin = 6500
)

// HSBK is a device colour: hue, saturation and brightness on the 16-bit
// device scale plus a colour temperature in kelvin.
type HSBK struct {
	Hue        uint16 `json:"hue"`
	Saturation uint16 `json:"saturation"`
	Brightness uint16 `json:"brightness"`
	Kelvin     uint16 `json:"kelvin"`
}

// Default returns the colour assumed for a device whose colour is unknown:
// full-brightness white at DefaultKelvin.
func Default() HSBK {
	return HSBK{Brightness: MaxLevel, Kelvin: DefaultKelvin}
}

// HueFromDegrees converts an angle in degrees to the internal hue scale.
// The result wraps modulo 65536 so 360° maps to 0 and negative angles wrap
// backwards.
func HueFromDegrees(deg float64) uint16 {
	steps := math.Round(deg * hueSteps / 360)
	steps = math.Mod(steps, hueSteps)
	if steps < 0 {
		steps += hueSteps
	}
	return uint16(steps)
}

// DegreesFromHue converts an internal hue value back to degrees in [0, 360).
func DegreesFromHue(h uint16) float64 {
	return float64(h) * 360 / hueSteps
}

// FromFraction converts a 0..1 fraction to the 16-bit level scale.
// Values outside the range are clamped.
func FromFraction(f float64) uint16 {
	switch {
	case math.IsNaN(f) || f <= 0:
		return 0
	case f >= 1:
		return MaxLevel
	}
	return uint16(math.Round(f * MaxLevel))
}

// Fraction converts a 16-bit level back to a 0..1 fraction.
func Fraction(v uint16) float64 {
	return float64(v) / MaxLevel
}

// Degrees reports the hue in degrees.
func (c HSBK) Degrees() float64 {
	return DegreesFromHue(c.Hue)
}

// String returns a compact human-readable form used in logs.
func (c HSBK) String() string {
	return fmt.Sprintf("hue:%.1f saturation:%.3f brightness:%.3f kelvin:%d",
		c.Degrees(), Fraction(c.Saturation), Fraction(c.Brightness), c.Kelvin)
}

// FromRGB converts 8-bit RGB components to hue, saturation and brightness on
// the device scale. Kelvin is left zero; callers merge it with the current
// white point.
func FromRGB(r, g, b uint8) HSBK {
	rf := float64(r) / 255
	gf := float64(g) / 255
	bf := float64(b) / 255

	maxC := math.Max(rf, math.Max(gf, bf))
	minC := math.Min(rf, math.Min(gf, bf))
	delta := maxC - minC

	var hue float64
	switch {
	case delta == 0:
		hue = 0
	case maxC == rf:
		hue = 60 * math.Mod((gf-bf)/delta, 6)
	case maxC == gf:
		hue = 60 * ((bf-rf)/delta + 2)
	default:
		hue = 60 * ((rf-gf)/delta + 4)
	}

	var sat float64
	if maxC > 0 {
		sat = delta / maxC
	}

	return HSBK{
		Hue:        HueFromDegrees(hue),
		Saturation: FromFraction(sat),
		Brightness: FromFraction(maxC),
	}
}
