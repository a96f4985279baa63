package device

import (
	"maps"
	"slices"
	"strings"
)

// CapabilityType is the value type a capability carries.
type CapabilityType string

// Capability types reported by the platform.
const (
	TypeBoolean CapabilityType = "boolean"
	TypeNumber  CapabilityType = "number"
	TypeInteger CapabilityType = "integer"
	TypeFloat   CapabilityType = "float"
	TypeString  CapabilityType = "string"
	TypeEnum    CapabilityType = "enum"
	TypeColor   CapabilityType = "color"
)

// AllCapabilityTypes returns every known capability type.
func AllCapabilityTypes() []CapabilityType {
	return []CapabilityType{
		TypeBoolean, TypeNumber, TypeInteger, TypeFloat,
		TypeString, TypeEnum, TypeColor,
	}
}

// IsNumeric reports whether values of this type are numbers.
func (t CapabilityType) IsNumeric() bool {
	return t == TypeNumber || t == TypeInteger || t == TypeFloat
}

// Well-known capability IDs the hub treats specially.
const (
	CapOnOff            = "onoff"
	CapDim              = "dim"
	CapLightHue         = "light_hue"
	CapLightSaturation  = "light_saturation"
	CapLightTemperature = "light_temperature"
)

// IsColorCapability reports whether id belongs to a light's color group.
func IsColorCapability(id string) bool {
	switch id {
	case CapLightHue, CapLightSaturation, CapLightTemperature:
		return true
	}
	return false
}

// PercentUnit marks capabilities subject to percentage scaling.
const PercentUnit = "%"

// EnumValue is one allowed value of an enum capability.
type EnumValue struct {
	ID    string `json:"id" yaml:"id"`
	Title string `json:"title,omitempty" yaml:"title,omitempty"`
}

// Capability is one typed, named property of a device.
//
// Min and Max are only meaningful together. Decimals only applies to
// numeric types; nil means no rounding.
type Capability struct {
	ID       string         `json:"id" yaml:"id"`
	Title    string         `json:"title,omitempty" yaml:"title,omitempty"`
	Type     CapabilityType `json:"type" yaml:"type"`
	Units    string         `json:"units,omitempty" yaml:"units,omitempty"`
	Min      *float64       `json:"min,omitempty" yaml:"min,omitempty"`
	Max      *float64       `json:"max,omitempty" yaml:"max,omitempty"`
	Decimals *int           `json:"decimals,omitempty" yaml:"decimals,omitempty"`
	Setable  bool           `json:"setable" yaml:"setable"`
	Getable  bool           `json:"getable" yaml:"getable"`
	Values   []EnumValue    `json:"values,omitempty" yaml:"values,omitempty"`
	Value    any            `json:"value,omitempty" yaml:"value,omitempty"`
}

// Range returns Min and Max when both are set.
func (c Capability) Range() (lo, hi float64, ok bool) {
	if c.Min == nil || c.Max == nil {
		return 0, 0, false
	}
	return *c.Min, *c.Max, true
}

// IsPercentage reports whether the capability is expressed in percent.
func (c Capability) IsPercentage() bool {
	return c.Units == PercentUnit
}

// DecimalPlaces returns the rounding precision for numeric types.
func (c Capability) DecimalPlaces() (int, bool) {
	if c.Decimals == nil || *c.Decimals < 0 {
		return 0, false
	}
	return *c.Decimals, true
}

// DisplayName returns the title, falling back to the id.
func (c Capability) DisplayName() string {
	if t := strings.TrimSpace(c.Title); t != "" {
		return t
	}
	return c.ID
}

// Zone is the area a device lives in.
type Zone struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// Device is a platform device as the hub sees it.
//
// ID is immutable and globally unique. Name may change and is not a key.
type Device struct {
	ID           string                `json:"id" yaml:"id"`
	Name         string                `json:"name" yaml:"name"`
	Class        string                `json:"class,omitempty" yaml:"class,omitempty"`
	Zone         *Zone                 `json:"zone,omitempty" yaml:"zone,omitempty"`
	Capabilities map[string]Capability `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
}

// ZoneName returns the zone name or "" when the device has no zone.
func (d *Device) ZoneName() string {
	if d == nil || d.Zone == nil {
		return ""
	}
	return d.Zone.Name
}

// Capability looks up a capability by id.
func (d *Device) Capability(id string) (Capability, bool) {
	if d == nil {
		return Capability{}, false
	}
	c, ok := d.Capabilities[id]
	return c, ok
}

// HasCapability reports whether the device exposes id.
func (d *Device) HasCapability(id string) bool {
	_, ok := d.Capability(id)
	return ok
}

// CapabilityIDs returns capability ids in sorted order.
func (d *Device) CapabilityIDs() []string {
	if d == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(d.Capabilities))
}

// DeepCopy creates an independent copy of the Device. Capability values
// that are maps or slices are copied recursively.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}

	cpy := *d

	if d.Zone != nil {
		z := *d.Zone
		cpy.Zone = &z
	}

	if d.Capabilities != nil {
		cpy.Capabilities = make(map[string]Capability, len(d.Capabilities))
		for id, c := range d.Capabilities {
			cpy.Capabilities[id] = c.deepCopy()
		}
	}

	return &cpy
}

func (c Capability) deepCopy() Capability {
	cpy := c
	if c.Min != nil {
		v := *c.Min
		cpy.Min = &v
	}
	if c.Max != nil {
		v := *c.Max
		cpy.Max = &v
	}
	if c.Decimals != nil {
		v := *c.Decimals
		cpy.Decimals = &v
	}
	cpy.Values = slices.Clone(c.Values)
	cpy.Value = deepCopyValue(c.Value)
	return cpy
}

// deepCopyValue recursively copies a value, handling nested maps and slices.
func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		cpy := make(map[string]any, len(val))
		for k, e := range val {
			cpy[k] = deepCopyValue(e)
		}
		return cpy
	case []any:
		cpy := make([]any, len(val))
		for i, e := range val {
			cpy[i] = deepCopyValue(e)
		}
		return cpy
	default:
		return v
	}
}
