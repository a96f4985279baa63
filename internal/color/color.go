// Package color converts between the HSV and RGB color spaces used on the
// wire and the [0,1] hue/saturation/temperature values lights expose.
package color

import (
	"math"
	"strconv"
	"strings"
)

// Range limits.
const (
	MaxHue     = 360
	MaxPercent = 100
	MaxChannel = 255
)

// Color temperature limits in mireds, mapped linearly onto a device
// temperature of 0 (cold) to 1 (warm).
const (
	MinMired = 153
	MaxMired = 500
)

// HSV is hue in degrees [0,360], saturation and value in percent [0,100].
type HSV struct {
	H, S, V float64
}

// RGB channels are in [0,255].
type RGB struct {
	R, G, B float64
}

// Clamp limits every component to its range.
func (c HSV) Clamp() HSV {
	return HSV{
		H: clamp(c.H, 0, MaxHue),
		S: clamp(c.S, 0, MaxPercent),
		V: clamp(c.V, 0, MaxPercent),
	}
}

// Clamp limits every channel to [0,255].
func (c RGB) Clamp() RGB {
	return RGB{
		R: clamp(c.R, 0, MaxChannel),
		G: clamp(c.G, 0, MaxChannel),
		B: clamp(c.B, 0, MaxChannel),
	}
}

// String renders "h,s,v" with integer components.
func (c HSV) String() string {
	c = c.Clamp()
	return join(c.H, c.S, c.V)
}

// String renders "r,g,b" with integer components.
func (c RGB) String() string {
	c = c.Clamp()
	return join(c.R, c.G, c.B)
}

// FromNative builds an HSV from device values in [0,1].
func FromNative(hue, saturation, value float64) HSV {
	return HSV{
		H: clamp(hue, 0, 1) * MaxHue,
		S: clamp(saturation, 0, 1) * MaxPercent,
		V: clamp(value, 0, 1) * MaxPercent,
	}
}

// Native returns hue, saturation and value in [0,1].
func (c HSV) Native() (hue, saturation, value float64) {
	c = c.Clamp()
	return c.H / MaxHue, c.S / MaxPercent, c.V / MaxPercent
}

// HSVToRGB converts with the input clamped first.
func HSVToRGB(c HSV) RGB {
	c = c.Clamp()
	h := math.Mod(c.H, MaxHue) / 60
	s := c.S / MaxPercent
	v := c.V / MaxPercent

	chroma := v * s
	x := chroma * (1 - math.Abs(math.Mod(h, 2)-1))
	m := v - chroma

	var r, g, b float64
	switch {
	case h < 1:
		r, g, b = chroma, x, 0
	case h < 2:
		r, g, b = x, chroma, 0
	case h < 3:
		r, g, b = 0, chroma, x
	case h < 4:
		r, g, b = 0, x, chroma
	case h < 5:
		r, g, b = x, 0, chroma
	default:
		r, g, b = chroma, 0, x
	}

	return RGB{
		R: (r + m) * MaxChannel,
		G: (g + m) * MaxChannel,
		B: (b + m) * MaxChannel,
	}
}

// RGBToHSV converts with the input clamped first. Grey has hue 0.
func RGBToHSV(c RGB) HSV {
	c = c.Clamp()
	r := c.R / MaxChannel
	g := c.G / MaxChannel
	b := c.B / MaxChannel

	hi := max(r, g, b)
	lo := min(r, g, b)
	delta := hi - lo

	var h float64
	switch {
	case delta == 0:
		h = 0
	case hi == r:
		h = 60 * math.Mod((g-b)/delta, 6)
	case hi == g:
		h = 60 * ((b-r)/delta + 2)
	default:
		h = 60 * ((r-g)/delta + 4)
	}
	if h < 0 {
		h += MaxHue
	}

	var s float64
	if hi > 0 {
		s = delta / hi
	}

	return HSV{H: h, S: s * MaxPercent, V: hi * MaxPercent}
}

// ParseTuple splits a comma separated list of numbers. It returns nil
// when the input is empty or any element is not a number.
func ParseTuple(s string) []float64 {
	s = strings.Trim(strings.TrimSpace(s), `"'`)
	if s == "" {
		return nil
	}

	parts := strings.Split(s, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
		out = append(out, f)
	}
	return out
}

// MiredToTemperature maps a mired value onto the device range [0,1].
func MiredToTemperature(mired float64) float64 {
	return clamp((mired-MinMired)/(MaxMired-MinMired), 0, 1)
}

// TemperatureToMired is the inverse of MiredToTemperature.
func TemperatureToMired(t float64) float64 {
	return MinMired + clamp(t, 0, 1)*(MaxMired-MinMired)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

func join(vals ...float64) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = strconv.FormatInt(int64(math.Round(v)), 10)
	}
	return strings.Join(parts, ",")
}
