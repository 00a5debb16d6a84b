package color

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestHueRoundTrip(t *testing.T) {
	const maxDrift = 1.0 / 65536 // revolutions

	for d := 0.0; d < 360; d += 0.37 {
		got := DegreesFromHue(HueFromDegrees(d))
		diff := math.Abs(got - d)
		diff = math.Min(diff, 360-diff)
		if drift := diff / 360; drift > maxDrift {
			t.Fatalf("DegreesFromHue(HueFromDegrees(%v)) = %v, drift %v rev, want <= %v", d, got, drift, maxDrift)
		}
	}
}

func TestHueWraps(t *testing.T) {
	tests := []struct {
		deg  float64
		want uint16
	}{
		{0, 0},
		{360, 0},
		{720, 0},
		{180, 32768},
		{90, 16384},
		{-90, 49152},
	}
	for _, tt := range tests {
		if got := HueFromDegrees(tt.deg); got != tt.want {
			t.Errorf("HueFromDegrees(%v) = %d, want %d", tt.deg, got, tt.want)
		}
	}
	if HueFromDegrees(360) != HueFromDegrees(0) {
		t.Error("hue(360) != hue(0)")
	}
}

func TestFraction(t *testing.T) {
	tests := []struct {
		in   float64
		want uint16
	}{
		{0, 0},
		{1, 65535},
		{0.5, 32768},
		{-0.2, 0},
		{1.5, 65535},
		{math.NaN(), 0},
	}
	for _, tt := range tests {
		if got := FromFraction(tt.in); got != tt.want {
			t.Errorf("FromFraction(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
	if got := Fraction(65535); got != 1 {
		t.Errorf("Fraction(65535) = %v, want 1", got)
	}
}

func TestNamedRoundTrip(t *testing.T) {
	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			c, ok := Named(name)
			if !ok {
				t.Fatalf("Named(%q) not found", name)
			}
			back := NameOf(c)
			if back != name {
				t.Fatalf("NameOf(Named(%q)) = %q", name, back)
			}
			again, _ := Named(back)
			if diff := cmp.Diff(c, again); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestNamedCaseInsensitive(t *testing.T) {
	if _, ok := Named("  BLUE "); !ok {
		t.Error("Named(BLUE) not found")
	}
	if _, ok := Named("mauve"); ok {
		t.Error("Named(mauve) found, want missing")
	}
}

func TestFromRGB(t *testing.T) {
	tests := []struct {
		name    string
		r, g, b uint8
		wantDeg float64
		wantSat uint16
		wantBri uint16
	}{
		{"red", 255, 0, 0, 0, 65535, 65535},
		{"green", 0, 255, 0, 120, 65535, 65535},
		{"blue", 0, 0, 255, 240, 65535, 65535},
		{"white", 255, 255, 255, 0, 0, 65535},
		{"black", 0, 0, 0, 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := FromRGB(tt.r, tt.g, tt.b)
			if c.Hue != HueFromDegrees(tt.wantDeg) {
				t.Errorf("hue = %d, want %d", c.Hue, HueFromDegrees(tt.wantDeg))
			}
			if c.Saturation != tt.wantSat {
				t.Errorf("saturation = %d, want %d", c.Saturation, tt.wantSat)
			}
			if c.Brightness != tt.wantBri {
				t.Errorf("brightness = %d, want %d", c.Brightness, tt.wantBri)
			}
		})
	}
}

func TestParse(t *testing.T) {
	base := HSBK{Hue: 100, Saturation: 200, Brightness: 300, Kelvin: 3500}
	blue, _ := Named("blue")

	tests := []struct {
		in   string
		want HSBK
	}{
		{"blue", HSBK{Hue: blue.Hue, Saturation: blue.Saturation, Brightness: 300, Kelvin: 3500}},
		{"hue:180", HSBK{Hue: 32768, Saturation: 200, Brightness: 300, Kelvin: 3500}},
		{"saturation:1", HSBK{Hue: 100, Saturation: 65535, Brightness: 300, Kelvin: 3500}},
		{"brightness:0", HSBK{Hue: 100, Saturation: 200, Brightness: 0, Kelvin: 3500}},
		{"kelvin:2700", HSBK{Hue: 100, Saturation: 0, Brightness: 300, Kelvin: 2700}},
		{"rgb:255,0,0", HSBK{Hue: 0, Saturation: 65535, Brightness: 65535, Kelvin: 3500}},
		{"#00FF00", HSBK{Hue: HueFromDegrees(120), Saturation: 65535, Brightness: 65535, Kelvin: 3500}},
		{"hue:90 saturation:0.5 brightness:1", HSBK{Hue: 16384, Saturation: 32768, Brightness: 65535, Kelvin: 3500}},
		{"red brightness:0.5", HSBK{Hue: 0, Saturation: 65535, Brightness: 32768, Kelvin: 3500}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			ch, err := Parse(tt.in)
			if err != nil {
				t.Fatalf("Parse(%q) error = %v", tt.in, err)
			}
			if diff := cmp.Diff(tt.want, ch.Apply(base)); diff != "" {
				t.Errorf("Apply mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseInvalid(t *testing.T) {
	inputs := []string{
		"",
		"   ",
		"mauve",
		"hue:361",
		"hue:-1",
		"hue:abc",
		"saturation:1.5",
		"brightness:NaN",
		"kelvin:1000",
		"kelvin:9001",
		"kelvin:3500.5",
		"rgb:1,2",
		"rgb:256,0,0",
		"#12345",
		"#gggggg",
		"hue:",
		"blue sparkle",
	}
	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			_, err := Parse(in)
			if !errors.Is(err, ErrInvalidColor) {
				t.Errorf("Parse(%q) error = %v, want ErrInvalidColor", in, err)
			}
		})
	}
}

func TestParseUnknownNameListsNames(t *testing.T) {
	_, err := Parse("mauve")
	if !errors.Is(err, ErrInvalidColor) {
		t.Fatalf("Parse(mauve) error = %v, want ErrInvalidColor", err)
	}
	for _, name := range []string{"white", "purple"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("error %q does not list %q", err, name)
		}
	}
}

func TestChangeWithBrightness(t *testing.T) {
	ch, err := Parse("blue brightness:0.1")
	if err != nil {
		t.Fatal(err)
	}
	got := ch.WithBrightness(MaxLevel).Apply(Default())
	if got.Brightness != MaxLevel {
		t.Errorf("Brightness = %d, want %d", got.Brightness, MaxLevel)
	}
	if (Change{}).IsZero() != true {
		t.Error("zero Change not reported as zero")
	}
}
