package hass

import (
	"strconv"
	"strings"

	"github.com/nerrad567/homie-hub/internal/homie"
	"github.com/nerrad567/homie-hub/internal/infrastructure/mqtt"
)

// Component is a Home Assistant entity platform.
type Component string

// Components the hub advertises.
const (
	ComponentSwitch       Component = "switch"
	ComponentBinarySensor Component = "binary_sensor"
	ComponentSensor       Component = "sensor"
	ComponentNumber       Component = "number"
	ComponentSelect       Component = "select"
	ComponentText         Component = "text"
	ComponentLight        Component = "light"
)

// Boolean payloads used on the Homie tree.
const (
	payloadTrue  = "true"
	payloadFalse = "false"
)

// DeviceInfo groups entities under one device in Home Assistant.
type DeviceInfo struct {
	Identifiers   []string `json:"identifiers"`
	Name          string   `json:"name"`
	Model         string   `json:"model,omitempty"`
	Manufacturer  string   `json:"manufacturer"`
	SuggestedArea string   `json:"suggested_area,omitempty"`
	ViaDevice     string   `json:"via_device,omitempty"`
}

// Entity is one discovery document.
type Entity struct {
	Name              string     `json:"name"`
	UniqueID          string     `json:"unique_id"`
	ObjectID          string     `json:"object_id,omitempty"`
	StateTopic        string     `json:"state_topic,omitempty"`
	CommandTopic      string     `json:"command_topic,omitempty"`
	AvailabilityTopic string     `json:"availability_topic"`
	PayloadAvailable  string     `json:"payload_available"`
	PayloadNotAvail   string     `json:"payload_not_available"`
	PayloadOn         string     `json:"payload_on,omitempty"`
	PayloadOff        string     `json:"payload_off,omitempty"`
	Unit              string     `json:"unit_of_measurement,omitempty"`
	Min               *float64   `json:"min,omitempty"`
	Max               *float64   `json:"max,omitempty"`
	Step              float64    `json:"step,omitempty"`
	Options           []string   `json:"options,omitempty"`
	RGBStateTopic     string     `json:"rgb_state_topic,omitempty"`
	RGBCommandTopic   string     `json:"rgb_command_topic,omitempty"`
	HSCommandTopic    string     `json:"hs_command_topic,omitempty"`
	Device            DeviceInfo `json:"device"`

	component Component
	property  string
}

// Component returns the entity platform.
func (e Entity) Component() Component { return e.component }

// componentOf maps a Homie property to an entity platform.
func componentOf(p homie.Property) Component {
	switch p.Datatype {
	case homie.DatatypeBoolean:
		if p.Settable {
			return ComponentSwitch
		}
		return ComponentBinarySensor
	case homie.DatatypeInteger, homie.DatatypeFloat:
		if _, _, ok := parseRange(p.Format); ok && p.Settable {
			return ComponentNumber
		}
		return ComponentSensor
	case homie.DatatypeEnum:
		if p.Settable {
			return ComponentSelect
		}
		return ComponentSensor
	case homie.DatatypeColor:
		return ComponentLight
	default:
		if p.Settable {
			return ComponentText
		}
		return ComponentSensor
	}
}

// entities builds the discovery documents for a node. A node with a color
// property yields one light that also carries its on/off property.
func entities(n homie.Node, s homie.Settings) []Entity {
	base := s.Base()
	dev := DeviceInfo{
		Identifiers:   []string{s.DeviceID + "_" + n.ID},
		Name:          n.Name,
		Model:         n.Type,
		Manufacturer:  homie.Implementation,
		SuggestedArea: n.Zone,
		ViaDevice:     s.DeviceID,
	}

	newEntity := func(p homie.Property, c Component) Entity {
		return Entity{
			Name:              p.Name,
			UniqueID:          strings.Join([]string{s.DeviceID, n.ID, p.ID}, "_"),
			ObjectID:          n.ID + "_" + p.ID,
			StateTopic:        p.Topic,
			AvailabilityTopic: mqtt.JoinTopic(base, "$state"),
			PayloadAvailable:  homie.StateReady,
			PayloadNotAvail:   homie.StateLost,
			Unit:              p.Unit,
			Device:            dev,
			component:         c,
			property:          p.ID,
		}
	}

	color, hasColor := n.Property(homie.ColorPropertyID)
	onoff, hasOnOff := n.Property("onoff")

	var out []Entity
	for _, p := range n.Properties {
		c := componentOf(p)
		if hasColor && hasOnOff && p.ID == onoff.ID {
			continue
		}

		e := newEntity(p, c)
		if p.Settable {
			e.CommandTopic = mqtt.JoinTopic(p.Topic, "set")
		}

		switch c {
		case ComponentSwitch, ComponentBinarySensor:
			e.PayloadOn, e.PayloadOff = payloadTrue, payloadFalse
		case ComponentNumber:
			lo, hi, _ := parseRange(p.Format)
			e.Min, e.Max = &lo, &hi
			e.Step = 1
			if p.Datatype == homie.DatatypeFloat {
				e.Step = stepFor(lo, hi)
			}
		case ComponentSelect:
			e.Options = strings.Split(p.Format, ",")
		case ComponentLight:
			e = lightEntity(e, n, color, onoff, hasOnOff)
		}
		out = append(out, e)
	}
	return out
}

func lightEntity(e Entity, n homie.Node, color, onoff homie.Property, hasOnOff bool) Entity {
	e.Name = n.Name
	e.Unit = ""
	e.StateTopic = ""
	e.CommandTopic = ""
	e.RGBStateTopic = mqtt.JoinTopic(n.Topic, "color-rgb")

	if color.Settable {
		if color.Format == string(homie.ColorRGB) {
			e.RGBCommandTopic = mqtt.JoinTopic(color.Topic, "set")
		} else {
			e.HSCommandTopic = mqtt.JoinTopic(color.Topic, "set")
		}
	}
	if hasOnOff {
		e.StateTopic = onoff.Topic
		if onoff.Settable {
			e.CommandTopic = mqtt.JoinTopic(onoff.Topic, "set")
		}
		e.PayloadOn, e.PayloadOff = payloadTrue, payloadFalse
	}
	return e
}

// parseRange reads a Homie "min:max" format.
func parseRange(format string) (lo, hi float64, ok bool) {
	a, b, found := strings.Cut(format, ":")
	if !found {
		return 0, 0, false
	}
	lo, err := strconv.ParseFloat(a, 64)
	if err != nil {
		return 0, 0, false
	}
	hi, err = strconv.ParseFloat(b, 64)
	if err != nil {
		return 0, 0, false
	}
	return lo, hi, true
}

func stepFor(lo, hi float64) float64 {
	if hi-lo <= 1 {
		return 0.01
	}
	return 0.1
}
