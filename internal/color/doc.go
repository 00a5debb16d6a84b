// Package color converts between the device's 16-bit HSBK colour model and
// the external forms accepted over HTTP: degrees, 0..1 fractions, named
// colours, RGB triples and #rrggbb hex.
//
// Hue uses the exact factor 65536/360 and wraps modulo 65536, so 360° and 0°
// are the same device value. Saturation, brightness and infrared use the
// factor 65535.
//
// Colour text is parsed into a Change, a partial update that is applied on
// top of the device's current colour:
//
//	ch, err := color.Parse("blue saturation:0.5")
//	if err != nil {
//	    // errors.Is(err, color.ErrInvalidColor)
//	}
//	next := ch.Apply(current)
package color
