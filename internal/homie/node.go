package homie

import (
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/nerrad567/homie-hub/internal/codec"
	"github.com/nerrad567/homie-hub/internal/device"
	"github.com/nerrad567/homie-hub/internal/infrastructure/mqtt"
	"github.com/nerrad567/homie-hub/internal/topic"
)

// Convention constants.
const (
	Version        = "3.0.1"
	Implementation = "homie-hub"
)

// Device states published on {base}/$state.
const (
	StateInit         = "init"
	StateReady        = "ready"
	StateDisconnected = "disconnected"
	StateLost         = "lost"
)

// Attribute topic levels.
const (
	attrHomie          = "$homie"
	attrName           = "$name"
	attrState          = "$state"
	attrImplementation = "$implementation"
	attrExtensions     = "$extensions"
	attrNodes          = "$nodes"
	attrType           = "$type"
	attrProperties     = "$properties"
	attrDatatype       = "$datatype"
	attrSettable       = "$settable"
	attrRetained       = "$retained"
	attrUnit           = "$unit"
	attrFormat         = "$format"
	levelSet           = "set"
)

// ColorPropertyID is the id of a consolidated color property.
const ColorPropertyID = "color"

// Extra retained topics carrying both color representations.
const (
	colorHSVLevel = "color-hsv"
	colorRGBLevel = "color-rgb"
)

// Datatype is a Homie property datatype.
type Datatype string

// Homie datatypes.
const (
	DatatypeInteger Datatype = "integer"
	DatatypeFloat   Datatype = "float"
	DatatypeBoolean Datatype = "boolean"
	DatatypeString  Datatype = "string"
	DatatypeEnum    Datatype = "enum"
	DatatypeColor   Datatype = "color"
)

// Property is a snapshot of one advertised property.
type Property struct {
	ID       string
	Name     string
	Datatype Datatype
	Unit     string
	Format   string
	Settable bool
	Retained bool
	Topic    string

	// Capability is the source capability id. It is empty for a
	// consolidated color property.
	Capability string
}

// Node is a snapshot of one advertised node.
type Node struct {
	ID         string
	DeviceID   string
	Name       string
	Type       string
	Zone       string
	Topic      string
	Properties []Property
}

// Property returns the property with the given id.
func (n Node) Property(id string) (Property, bool) {
	for _, p := range n.Properties {
		if p.ID == id {
			return p, true
		}
	}
	return Property{}, false
}

type property struct {
	Property
	capability device.Capability
}

type node struct {
	id       string
	deviceID string
	name     string
	class    string
	topic    string
	device   *device.Device

	props map[string]*property // by property id
	byCap map[string]*property // by capability id, color group excluded
	color colorGroup
}

func (n *node) snapshot() Node {
	out := Node{
		ID:       n.id,
		DeviceID: n.deviceID,
		Name:     n.name,
		Type:     n.class,
		Zone:     n.device.ZoneName(),
		Topic:    n.topic,
	}
	for _, id := range slices.Sorted(maps.Keys(n.props)) {
		out.Properties = append(out.Properties, n.props[id].Property)
	}
	return out
}

func (n *node) propertyIDs() []string {
	return slices.Sorted(maps.Keys(n.props))
}

// colorGroup records which color capabilities a device exposes.
type colorGroup struct {
	hue         bool
	saturation  bool
	temperature bool
	dim         bool
}

func (g colorGroup) present() bool {
	return g.hue || g.saturation || g.temperature
}

// capabilities returns the group's capability ids in write order: hue
// last.
func (g colorGroup) capabilities() []string {
	var out []string
	if g.saturation {
		out = append(out, device.CapLightSaturation)
	}
	if g.temperature {
		out = append(out, device.CapLightTemperature)
	}
	if g.hue {
		out = append(out, device.CapLightHue)
	}
	return out
}

// detectColor finds the device's color group. It runs before any
// property is built so exactly one color property is advertised.
func detectColor(d *device.Device) colorGroup {
	return colorGroup{
		hue:         d.HasCapability(device.CapLightHue),
		saturation:  d.HasCapability(device.CapLightSaturation),
		temperature: d.HasCapability(device.CapLightTemperature),
		dim:         d.HasCapability(device.CapDim),
	}
}

// nodeID derives the node id from the registry slug, prefixed with the
// class and zone when configured.
func nodeID(d *device.Device, slug string, s Settings) string {
	clean := topic.Sanitize
	if s.Normalize {
		clean = topic.Normalize
	}

	var parts []string
	if s.IncludeClass && d.Class != "" {
		parts = append(parts, clean(d.Class))
	}
	if s.IncludeZone && d.ZoneName() != "" {
		parts = append(parts, clean(d.ZoneName()))
	}
	if s.Normalize && slug != "" {
		parts = append(parts, slug)
	} else {
		parts = append(parts, clean(d.Name))
	}
	return strings.Join(slices.DeleteFunc(parts, func(p string) bool { return p == "" }), "-")
}

func propertyID(capabilityID string, s Settings) string {
	if s.Normalize {
		return topic.Normalize(capabilityID)
	}
	return topic.Sanitize(capabilityID)
}

// buildNode computes the node and its properties for d.
func buildNode(d *device.Device, slug, base string, s Settings) *node {
	id := nodeID(d, slug, s)
	n := &node{
		id:       id,
		deviceID: d.ID,
		name:     d.Name,
		class:    d.Class,
		topic:    mqtt.JoinTopic(base, id),
		device:   d.DeepCopy(),
		props:    make(map[string]*property),
		byCap:    make(map[string]*property),
	}

	consolidate := s.ColorFormat != ColorValues
	if consolidate {
		n.color = detectColor(d)
	}

	if n.color.present() {
		settable := false
		for _, c := range n.color.capabilities() {
			if cp, _ := d.Capability(c); cp.Setable {
				settable = true
			}
		}
		n.props[ColorPropertyID] = &property{Property: Property{
			ID:       ColorPropertyID,
			Name:     "Color",
			Datatype: DatatypeColor,
			Unit:     string(s.ColorFormat),
			Format:   string(s.ColorFormat),
			Settable: settable,
			Retained: true,
			Topic:    mqtt.JoinTopic(n.topic, ColorPropertyID),
		}}
	}

	for _, capID := range d.CapabilityIDs() {
		if n.color.present() && device.IsColorCapability(capID) {
			continue
		}
		c := d.Capabilities[capID]
		pid := propertyID(capID, s)
		if pid == "" {
			continue
		}
		if _, taken := n.props[pid]; taken {
			continue
		}
		p := &property{
			Property: Property{
				ID:         pid,
				Name:       c.DisplayName(),
				Datatype:   datatypeOf(c, s.PercentageScale),
				Unit:       c.Units,
				Format:     formatOf(c, s.PercentageScale),
				Settable:   c.Setable,
				Retained:   true,
				Topic:      mqtt.JoinTopic(n.topic, pid),
				Capability: capID,
			},
			capability: c,
		}
		n.props[pid] = p
		n.byCap[capID] = p
	}
	return n
}

// datatypeOf picks the Homie datatype. Percentage scaling decides first,
// then the capability type; numbers are float only with decimals > 0.
func datatypeOf(c device.Capability, scale codec.PercentageScale) Datatype {
	if codec.Scaled(c, scale) {
		if scale == codec.ScaleInt {
			return DatatypeInteger
		}
		return DatatypeFloat
	}

	switch c.Type {
	case device.TypeBoolean:
		return DatatypeBoolean
	case device.TypeEnum:
		return DatatypeEnum
	case device.TypeNumber, device.TypeFloat, device.TypeInteger:
		if d, ok := c.DecimalPlaces(); ok && d > 0 {
			return DatatypeFloat
		}
		return DatatypeInteger
	default:
		return DatatypeString
	}
}

// formatOf returns "min:max" for ranged numbers and the comma joined
// value ids for enums.
func formatOf(c device.Capability, scale codec.PercentageScale) string {
	if c.Type == device.TypeEnum {
		ids := make([]string, 0, len(c.Values))
		for _, v := range c.Values {
			ids = append(ids, v.ID)
		}
		return strings.Join(ids, ",")
	}
	if !c.Type.IsNumeric() {
		return ""
	}
	lo, hi, ok := codec.WireRange(c, scale)
	if !ok {
		return ""
	}
	return formatNumber(lo) + ":" + formatNumber(hi)
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// sameShape reports whether a and b publish the same tree, ignoring
// capability values.
func sameShape(a, b *device.Device) bool {
	if a.Name != b.Name || a.Class != b.Class || a.ZoneName() != b.ZoneName() {
		return false
	}
	if len(a.Capabilities) != len(b.Capabilities) {
		return false
	}
	for id, ca := range a.Capabilities {
		cb, ok := b.Capabilities[id]
		if !ok {
			return false
		}
		ca.Value, cb.Value = nil, nil
		if !capabilityEqual(ca, cb) {
			return false
		}
	}
	return true
}

func capabilityEqual(a, b device.Capability) bool {
	if a.ID != b.ID || a.Title != b.Title || a.Type != b.Type || a.Units != b.Units ||
		a.Setable != b.Setable || a.Getable != b.Getable {
		return false
	}
	if !ptrEqual(a.Min, b.Min) || !ptrEqual(a.Max, b.Max) || !ptrEqual(a.Decimals, b.Decimals) {
		return false
	}
	return slices.Equal(a.Values, b.Values)
}

func ptrEqual[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
