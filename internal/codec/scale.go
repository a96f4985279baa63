package codec

import (
	"github.com/nerrad567/homie-hub/internal/device"
)

// PercentageScale selects how "%" capabilities are presented on the wire.
type PercentageScale string

// Percentage scales.
const (
	ScaleDefault PercentageScale = "default"
	ScaleInt     PercentageScale = "int"
	ScaleFloat   PercentageScale = "float"
)

// ParsePercentageScale maps a configuration string to a scale.
// Unknown strings fall back to ScaleDefault with ok=false.
func ParsePercentageScale(s string) (PercentageScale, bool) {
	switch PercentageScale(s) {
	case ScaleDefault, "":
		return ScaleDefault, true
	case ScaleInt:
		return ScaleInt, true
	case ScaleFloat:
		return ScaleFloat, true
	default:
		return ScaleDefault, false
	}
}

// factor returns the multiplier from device value to wire value, or 0
// when the capability is not rescaled under s.
func factor(c device.Capability, s PercentageScale) float64 {
	if !c.IsPercentage() {
		return 0
	}
	lo, hi, ok := c.Range()
	if !ok || lo != 0 {
		return 0
	}
	switch {
	case s == ScaleInt && hi == 1:
		return 100
	case s == ScaleFloat && hi == 100:
		return 0.01
	default:
		return 0
	}
}

// Scaled reports whether c is rescaled under s.
func Scaled(c device.Capability, s PercentageScale) bool {
	return factor(c, s) != 0
}

// WireRange returns the capability's min and max as they appear on the
// wire under s.
func WireRange(c device.Capability, s PercentageScale) (lo, hi float64, ok bool) {
	lo, hi, ok = c.Range()
	if !ok {
		return 0, 0, false
	}
	if f := factor(c, s); f != 0 {
		return cleanFloat(lo * f), cleanFloat(hi * f), true
	}
	return lo, hi, true
}
