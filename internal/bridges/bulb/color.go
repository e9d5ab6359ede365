package bulb

import (
	"fmt"
	"math"
)

// Brightness levels supported by the bulb firmware.
const (
	// MinBrightness is the dimmest level accepted by control operations.
	MinBrightness = 1

	// MaxBrightness is the brightest level; it is also the number of
	// discrete steps reported by BrightnessRange.
	MaxBrightness = 16

	minKelvin = 1000
	maxKelvin = 40000
)

// RGB is an 8-bit-per-channel colour.
type RGB struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

// White is full-scale white, the base colour reported in white mode.
var White = RGB{R: 255, G: 255, B: 255}

// String returns the colour as a lowercase hex triplet, e.g. "ff8040".
func (c RGB) String() string {
	return fmt.Sprintf("%02x%02x%02x", c.R, c.G, c.B)
}

// HSV is a colour in hue/saturation/value form.
// Hue is in degrees [0, 360); Sat and Val are in [0, 1].
type HSV struct {
	Hue float64 `json:"hue"`
	Sat float64 `json:"sat"`
	Val float64 `json:"val"`
}

// RGBToHSV converts an RGB colour to HSV using the six-sector formula.
// Hue is 0 for greys (no chroma).
func RGBToHSV(c RGB) HSV {
	r := float64(c.R) / 255
	g := float64(c.G) / 255
	b := float64(c.B) / 255

	hi := math.Max(r, math.Max(g, b))
	lo := math.Min(r, math.Min(g, b))
	delta := hi - lo

	var hue float64
	switch {
	case delta == 0:
		hue = 0
	case hi == r:
		hue = 60 * math.Mod((g-b)/delta, 6)
	case hi == g:
		hue = 60 * ((b-r)/delta + 2)
	default:
		hue = 60 * ((r-g)/delta + 4)
	}
	if hue < 0 {
		hue += 360
	}

	var sat float64
	if hi != 0 {
		sat = delta / hi
	}

	return HSV{Hue: hue, Sat: sat, Val: hi}
}

// HSVToRGB converts an HSV colour to RGB. Hue wraps modulo 360; saturation
// and value are clamped to [0, 1]. Channels are rounded half away from zero.
func HSVToRGB(h HSV) RGB {
	hue := math.Mod(h.Hue, 360)
	if hue < 0 {
		hue += 360
	}
	sat := clampUnit(h.Sat)
	val := clampUnit(h.Val)

	chroma := val * sat
	x := chroma * (1 - math.Abs(math.Mod(hue/60, 2)-1))
	m := val - chroma

	var r, g, b float64
	switch {
	case hue < 60:
		r, g, b = chroma, x, 0
	case hue < 120:
		r, g, b = x, chroma, 0
	case hue < 180:
		r, g, b = 0, chroma, x
	case hue < 240:
		r, g, b = 0, x, chroma
	case hue < 300:
		r, g, b = x, 0, chroma
	default:
		r, g, b = chroma, 0, x
	}

	return RGB{
		R: channel((r + m) * 255),
		G: channel((g + m) * 255),
		B: channel((b + m) * 255),
	}
}

// NormalizeColorBrightness splits a colour into a brightness level in
// [MinBrightness, MaxBrightness] and a base colour whose largest channel
// is 255.
//
// A colour that already has a full-scale channel keeps its channels and
// gets MaxBrightness. Black has no hue to recover and maps to
// (MinBrightness, White).
//
// Example:
//
//	level, base := bulb.NormalizeColorBrightness(bulb.RGB{R: 200, G: 100, B: 50})
//	// level == 13, base == RGB{255, 128, 64}
func NormalizeColorBrightness(c RGB) (int, RGB) {
	peak := int(max(c.R, c.G, c.B, 1))
	if peak == 255 {
		return MaxBrightness, c
	}
	if c == (RGB{}) {
		return MinBrightness, White
	}

	level := int(math.Ceil(float64(peak) / 16))
	scale := func(v uint8) uint8 {
		return channel(float64(v) * 255 / float64(peak))
	}

	return level, RGB{R: scale(c.R), G: scale(c.G), B: scale(c.B)}
}

// ScaleColor scales a base colour by level/16, rounding each channel.
// The level is clamped to [MinBrightness, MaxBrightness].
func ScaleColor(c RGB, level int) RGB {
	factor := float64(clampLevel(level)) / MaxBrightness
	return RGB{
		R: channel(float64(c.R) * factor),
		G: channel(float64(c.G) * factor),
		B: channel(float64(c.B) * factor),
	}
}

// TemperatureToRGB approximates the colour of a black body at the given
// temperature in kelvin and scales it by level/16.
//
// Kelvin is clamped to [1000, 40000] and level to [MinBrightness,
// MaxBrightness]. The curve is the Tanner Helland fit; below 1900K the
// blue channel is zero.
func TemperatureToRGB(kelvin, level int) RGB {
	kelvin = min(max(kelvin, minKelvin), maxKelvin)
	t := float64(kelvin) / 100

	var r, g, b float64

	if t <= 66 {
		r = 255
		g = 99.4708025861*math.Log(t) - 161.1195681661
	} else {
		r = 329.698727446 * math.Pow(t-60, -0.1332047592)
		g = 288.1221695283 * math.Pow(t-60, -0.0755148492)
	}

	switch {
	case t >= 66:
		b = 255
	case t <= 19:
		b = 0
	default:
		b = 138.5177312231*math.Log(t-10) - 305.0447927307
	}

	full := RGB{R: channel(r), G: channel(g), B: channel(b)}
	return ScaleColor(full, level)
}

// channel rounds v half away from zero and clamps it to a byte.
func channel(v float64) uint8 {
	v = math.Round(v)
	switch {
	case v < 0 || math.IsNaN(v):
		return 0
	case v > 255:
		return 255
	default:
		return uint8(v)
	}
}

func clampUnit(v float64) float64 {
	switch {
	case v < 0 || math.IsNaN(v):
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func clampLevel(level int) int {
	return min(max(level, MinBrightness), MaxBrightness)
}

// validLevel reports whether level is an accepted brightness.
func validLevel(level int) bool {
	return level >= MinBrightness && level <= MaxBrightness
}
