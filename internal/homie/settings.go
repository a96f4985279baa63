package homie

import (
	"errors"
	"fmt"
	"maps"
	"strings"

	"github.com/nerrad567/homie-hub/internal/codec"
	"github.com/nerrad567/homie-hub/internal/infrastructure/config"
	"github.com/nerrad567/homie-hub/internal/infrastructure/mqtt"
)

// ColorFormat selects how consolidated color properties are presented.
type ColorFormat string

// Color formats.
const (
	ColorHSV    ColorFormat = "hsv"
	ColorRGB    ColorFormat = "rgb"
	ColorValues ColorFormat = "values"
)

// deviceIDPlaceholder is replaced by Settings.DeviceID in Settings.Topic.
const deviceIDPlaceholder = "{deviceId}"

// Settings configures the published tree.
type Settings struct {
	Topic           string                `json:"topic"`
	DeviceID        string                `json:"device_id"`
	Name            string                `json:"name"`
	IncludeClass    bool                  `json:"include_class"`
	IncludeZone     bool                  `json:"include_zone"`
	PercentageScale codec.PercentageScale `json:"percentage_scale"`
	ColorFormat     ColorFormat           `json:"color_format"`
	Broadcast       bool                  `json:"broadcast"`
	Normalize       bool                  `json:"normalize"`

	// Devices holds enablement overrides. Changing it never rebuilds.
	Devices map[string]bool `json:"devices,omitempty"`
}

// shape is the subset of Settings whose change requires a rebuild.
type shape struct {
	base         string
	normalize    bool
	includeClass bool
	includeZone  bool
	scale        codec.PercentageScale
	color        ColorFormat
	broadcast    bool
}

func (s Settings) shape() shape {
	return shape{
		base:         s.Base(),
		normalize:    s.Normalize,
		includeClass: s.IncludeClass,
		includeZone:  s.IncludeZone,
		scale:        s.PercentageScale,
		color:        s.ColorFormat,
		broadcast:    s.Broadcast,
	}
}

// DefaultSettings returns the settings of a fresh install.
func DefaultSettings() Settings {
	return Settings{
		Topic:           "homie/" + deviceIDPlaceholder,
		DeviceID:        "homey",
		Name:            "Homey",
		PercentageScale: codec.ScaleDefault,
		ColorFormat:     ColorHSV,
		Broadcast:       true,
		Normalize:       true,
	}
}

// SettingsFromConfig builds settings from the homie config section and
// the device overrides.
func SettingsFromConfig(cfg config.HomieConfig, devices map[string]bool) Settings {
	scale, _ := codec.ParsePercentageScale(cfg.PercentageScale)
	return Settings{
		Topic:           cfg.Topic,
		DeviceID:        cfg.DeviceID,
		Name:            cfg.Name,
		IncludeClass:    cfg.IncludeClass,
		IncludeZone:     cfg.IncludeZone,
		PercentageScale: scale,
		ColorFormat:     ColorFormat(cfg.ColorFormat),
		Broadcast:       cfg.Broadcast,
		Normalize:       cfg.Normalize,
		Devices:         maps.Clone(devices),
	}
}

// Base returns the device base topic with the placeholder expanded.
func (s Settings) Base() string {
	base := strings.ReplaceAll(s.Topic, deviceIDPlaceholder, s.DeviceID)
	return strings.Trim(base, "/")
}

// DisplayName returns Name, falling back to DeviceID.
func (s Settings) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return s.DeviceID
}

// Will returns the last will that marks the Homie device lost.
func (s Settings) Will(qos byte) mqtt.Will {
	return mqtt.Will{
		Topic:    mqtt.JoinTopic(s.Base(), attrState),
		Payload:  StateLost,
		QoS:      qos,
		Retained: true,
	}
}

// Validate checks the settings.
func (s Settings) Validate() error {
	var errs []string

	base := s.Base()
	switch {
	case base == "":
		errs = append(errs, "topic is required")
	case strings.ContainsAny(base, "+#"):
		errs = append(errs, "topic must not contain wildcards")
	case strings.Contains(s.Topic, deviceIDPlaceholder) && s.DeviceID == "":
		errs = append(errs, "device_id is required by the topic template")
	}

	if _, ok := codec.ParsePercentageScale(string(s.PercentageScale)); !ok {
		errs = append(errs, fmt.Sprintf("percentage_scale %q is not default, int or float", s.PercentageScale))
	}

	switch s.ColorFormat {
	case ColorHSV, ColorRGB, ColorValues:
	default:
		errs = append(errs, fmt.Sprintf("color_format %q is not hsv, rgb or values", s.ColorFormat))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidSettings, errors.New(strings.Join(errs, "; ")))
	}
	return nil
}
