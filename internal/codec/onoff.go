package codec

// OnOffStyle is the wire rendering of a boolean on the legacy topics.
type OnOffStyle string

// On/off styles.
const (
	OnOffBool  OnOffStyle = "bool"
	OnOffInt   OnOffStyle = "int"
	OnOffOnOff OnOffStyle = "onoff"
	OnOffYesNo OnOffStyle = "yesno"
)

// ParseOnOffStyle maps a configuration string to a style. Unknown
// strings fall back to OnOffBool with ok=false.
func ParseOnOffStyle(s string) (OnOffStyle, bool) {
	switch OnOffStyle(s) {
	case OnOffBool, "":
		return OnOffBool, true
	case OnOffInt, OnOffOnOff, OnOffYesNo:
		return OnOffStyle(s), true
	default:
		return OnOffBool, false
	}
}

// FormatOnOff renders on in the given style. Unknown styles render as
// "true"/"false".
func FormatOnOff(on bool, style OnOffStyle) string {
	var t, f string
	switch style {
	case OnOffInt:
		t, f = "1", "0"
	case OnOffOnOff:
		t, f = "on", "off"
	case OnOffYesNo:
		t, f = "yes", "no"
	default:
		t, f = "true", "false"
	}
	if on {
		return t
	}
	return f
}
