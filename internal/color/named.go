package color

import "strings"

// namedColor is a named entry defined on the external scale.
type namedColor struct {
	name       string
	degrees    float64
	saturation float64
}

// namedColors mirrors the names accepted by the LIFX HTTP API.
var namedColors = []namedColor{
	{"white", 0, 0},
	{"red", 0, 1},
	{"orange", 39, 1},
	{"yellow", 60, 1},
	{"green", 120, 1},
	{"cyan", 180, 1},
	{"blue", 240, 1},
	{"purple", 275, 1},
	{"pink", 350, 0.38},
}

// namedTable holds the precomputed device-scale hue and saturation for each
// named colour. Brightness and kelvin are carried over from the device.
var namedTable = func() map[string]HSBK {
	m := make(map[string]HSBK, len(namedColors))
	for _, nc := range namedColors {
		m[nc.name] = HSBK{
			Hue:        HueFromDegrees(nc.degrees),
			Saturation: FromFraction(nc.saturation),
		}
	}
	return m
}()

// Named returns the hue and saturation for a named colour. Brightness and
// Kelvin are zero in the result. The lookup is case-insensitive.
func Named(name string) (HSBK, bool) {
	c, ok := namedTable[strings.ToLower(strings.TrimSpace(name))]
	return c, ok
}

// NameOf returns the name whose hue and saturation exactly match c, or ""
// when c is not a named colour.
func NameOf(c HSBK) string {
	for _, nc := range namedColors {
		n := namedTable[nc.name]
		if n.Hue == c.Hue && n.Saturation == c.Saturation {
			return nc.name
		}
	}
	return ""
}

// Names lists the recognised colour names in table order.
func Names() []string {
	out := make([]string, len(namedColors))
	for i, nc := range namedColors {
		out[i] = nc.name
	}
	return out
}
