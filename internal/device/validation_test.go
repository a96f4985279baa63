package device

import (
	"errors"
	"strings"
	"testing"
)

func ptr[T any](v T) *T { return &v }

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"valid name", "Living Room Dimmer", nil},
		{"valid name with special characters", "Kitchen (Main) Light", nil},
		{"empty name", "", ErrInvalidName},
		{"whitespace only", "   ", ErrInvalidName},
		{"name at max length", strings.Repeat("a", maxNameLength), nil},
		{"name exceeds max length", strings.Repeat("a", maxNameLength+1), ErrInvalidName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateName(%q) = %v, want %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestValidateCapability(t *testing.T) {
	tests := []struct {
		name    string
		cap     Capability
		wantErr error
	}{
		{"boolean", Capability{Type: TypeBoolean}, nil},
		{"number with range", Capability{Type: TypeNumber, Min: ptr(0.0), Max: ptr(1.0), Decimals: ptr(2)}, nil},
		{"enum with values", Capability{Type: TypeEnum, Values: []EnumValue{{ID: "a"}}}, nil},
		{"unknown type", Capability{Type: "matrix"}, ErrInvalidCapability},
		{"min without max", Capability{Type: TypeNumber, Min: ptr(0.0)}, ErrInvalidCapability},
		{"inverted range", Capability{Type: TypeNumber, Min: ptr(5.0), Max: ptr(1.0)}, ErrInvalidCapability},
		{"decimals on string", Capability{Type: TypeString, Decimals: ptr(1)}, ErrInvalidCapability},
		{"enum without values", Capability{Type: TypeEnum}, ErrInvalidCapability},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCapability(tt.cap)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateCapability() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateDevice(t *testing.T) {
	tests := []struct {
		name    string
		device  *Device
		wantErr error
	}{
		{"nil", nil, ErrInvalidDevice},
		{"valid", lamp("d1", "Lamp"), nil},
		{"missing id", &Device{Name: "x"}, ErrInvalidDevice},
		{"missing name", &Device{ID: "d1"}, ErrInvalidName},
		{
			name: "capability keyed wrongly",
			device: &Device{ID: "d1", Name: "x", Capabilities: map[string]Capability{
				"dim": {ID: "onoff", Type: TypeBoolean},
			}},
			wantErr: ErrInvalidCapability,
		},
		{
			name: "invalid capability",
			device: &Device{ID: "d1", Name: "x", Capabilities: map[string]Capability{
				"dim": {Type: "nope"},
			}},
			wantErr: ErrInvalidCapability,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDevice(tt.device)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateDevice() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCapabilityHelpers(t *testing.T) {
	c := Capability{ID: "dim", Type: TypeNumber, Units: "%", Min: ptr(0.0), Max: ptr(1.0), Decimals: ptr(2)}

	if lo, hi, ok := c.Range(); !ok || lo != 0 || hi != 1 {
		t.Errorf("Range() = %v, %v, %v, want 0, 1, true", lo, hi, ok)
	}
	if !c.IsPercentage() {
		t.Error("IsPercentage() = false, want true")
	}
	if d, ok := c.DecimalPlaces(); !ok || d != 2 {
		t.Errorf("DecimalPlaces() = %d, %v, want 2, true", d, ok)
	}
	if c.DisplayName() != "dim" {
		t.Errorf("DisplayName() = %q, want dim", c.DisplayName())
	}
	if !IsColorCapability(CapLightHue) || IsColorCapability(CapDim) {
		t.Error("IsColorCapability() misclassified")
	}
}

func TestDeviceDeepCopy(t *testing.T) {
	orig := &Device{
		ID:   "d1",
		Name: "Lamp",
		Zone: &Zone{Name: "Hall"},
		Capabilities: map[string]Capability{
			"dim": {ID: "dim", Type: TypeNumber, Min: ptr(0.0), Max: ptr(1.0), Value: map[string]any{"a": []any{1}}},
		},
	}

	cpy := orig.DeepCopy()
	cpy.Zone.Name = "Kitchen"
	*cpy.Capabilities["dim"].Min = 5
	cpy.Capabilities["dim"].Value.(map[string]any)["a"].([]any)[0] = 2

	if orig.Zone.Name != "Hall" {
		t.Error("zone shared between copies")
	}
	if *orig.Capabilities["dim"].Min != 0 {
		t.Error("min pointer shared between copies")
	}
	if orig.Capabilities["dim"].Value.(map[string]any)["a"].([]any)[0] != 1 {
		t.Error("nested value shared between copies")
	}
	if ids := orig.CapabilityIDs(); len(ids) != 1 || ids[0] != "dim" {
		t.Errorf("CapabilityIDs() = %v", ids)
	}
	if (*Device)(nil).DeepCopy() != nil {
		t.Error("nil DeepCopy should be nil")
	}
}
