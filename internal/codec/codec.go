package codec

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/nerrad567/homie-hub/internal/device"
)

// noiseDigits bounds float noise introduced by rescaling when the
// capability declares no decimals.
const noiseDigits = 9

// Parse converts a wire value into the typed value for c.
//
// Returned types by capability type:
//   - boolean: bool
//   - number, float: float64
//   - integer: int
//   - string: string, or nil for a falsy input
//   - enum, color and unknown types: float64 when numeric, else the input
func Parse(wire any, c device.Capability, scale PercentageScale) any {
	switch c.Type {
	case device.TypeBoolean:
		return Bool(wire)

	case device.TypeNumber, device.TypeFloat:
		v := Float(wire)
		if f := factor(c, scale); f != 0 {
			v /= f
		}
		if d, ok := c.DecimalPlaces(); ok {
			return Round(v, d)
		}
		return cleanFloat(v)

	case device.TypeInteger:
		if f := factor(c, scale); f != 0 {
			return int(math.Round(Float(wire) / f))
		}
		return leadingInt(wire)

	case device.TypeString:
		if falsy(wire) {
			return nil
		}
		return text(wire)

	default:
		if v, ok := numeric(wire); ok {
			return v
		}
		if b, ok := wire.([]byte); ok {
			return string(b)
		}
		return wire
	}
}

// Format renders a typed value for c as a wire string. A nil value
// formats as "".
func Format(value any, c device.Capability, scale PercentageScale) string {
	if value == nil {
		return ""
	}

	switch c.Type {
	case device.TypeBoolean:
		return strconv.FormatBool(Bool(value))

	case device.TypeNumber, device.TypeFloat, device.TypeInteger:
		v := Float(value)
		d, ok := c.DecimalPlaces()
		if c.Type == device.TypeInteger {
			d, ok = 0, true
		}
		// Precision follows the wire side: rescaling by 0.01 needs two
		// more digits, by 100 two fewer.
		if f := factor(c, scale); f != 0 {
			v *= f
			d = max(d-int(math.Round(math.Log10(f))), 0)
		}
		if ok {
			v = Round(v, d)
		} else {
			v = cleanFloat(v)
		}
		if v == 0 {
			v = 0 // drop the sign of negative zero
		}
		return strconv.FormatFloat(v, 'f', -1, 64)

	default:
		return text(value)
	}
}

// Round rounds v to d fractional digits, half away from zero.
func Round(v float64, d int) float64 {
	p := math.Pow10(d)
	return math.Round(v*p) / p
}

func cleanFloat(v float64) float64 {
	return Round(v, noiseDigits)
}

// Bool reports whether v is one of true, 1, "1", "on", "yes" or "true",
// ignoring case, surrounding space and quotes.
func Bool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case nil:
		return false
	case int:
		return b == 1
	case int64:
		return b == 1
	case float64:
		return b == 1
	}

	s := strings.ToLower(strings.Trim(strings.TrimSpace(text(v)), `"'`))
	switch s {
	case "true", "1", "on", "yes":
		return true
	default:
		return false
	}
}

// Float coerces v to a number. Invalid input becomes 0.
func Float(v any) float64 {
	f, _ := numeric(v)
	return f
}

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	case nil:
		return 0, false
	}

	s := strings.Trim(strings.TrimSpace(text(v)), `"'`)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// leadingInt parses the optional sign and digits at the start of v.
// "12abc" is 12, "3.7" is 3, anything else is 0.
func leadingInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case bool:
		if n {
			return 1
		}
		return 0
	}

	s := strings.Trim(strings.TrimSpace(text(v)), `"'`)
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digits {
		return 0
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0
	}
	return n
}

func falsy(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case []byte:
		return len(x) == 0
	case bool:
		return !x
	case int:
		return x == 0
	case float64:
		return x == 0 || math.IsNaN(x)
	}
	return false
}

func text(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}
