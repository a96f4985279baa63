package device

import (
	"fmt"
	"strings"
)

const (
	maxNameLength   = 100
	maxCapabilities = 64
)

var validCapabilityTypes map[CapabilityType]struct{}

func init() {
	validCapabilityTypes = make(map[CapabilityType]struct{}, len(AllCapabilityTypes()))
	for _, t := range AllCapabilityTypes() {
		validCapabilityTypes[t] = struct{}{}
	}
}

// ValidateDevice checks the fields the registry depends on.
// Returns an error describing the first failure found.
func ValidateDevice(d *Device) error {
	if d == nil {
		return ErrInvalidDevice
	}
	if strings.TrimSpace(d.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidDevice)
	}
	if err := ValidateName(d.Name); err != nil {
		return err
	}
	if len(d.Capabilities) > maxCapabilities {
		return fmt.Errorf("%w: more than %d capabilities", ErrInvalidDevice, maxCapabilities)
	}
	for id, c := range d.Capabilities {
		if c.ID != "" && c.ID != id {
			return fmt.Errorf("%w: %q keyed as %q", ErrInvalidCapability, c.ID, id)
		}
		if err := ValidateCapability(c); err != nil {
			return fmt.Errorf("capability %q: %w", id, err)
		}
	}
	return nil
}

// ValidateName checks that a device name is non-empty and not too long.
func ValidateName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidName)
	}
	if len(trimmed) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	return nil
}

// ValidateCapability checks the type and the numeric metadata.
func ValidateCapability(c Capability) error {
	if _, ok := validCapabilityTypes[c.Type]; !ok {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidCapability, c.Type)
	}
	if (c.Min == nil) != (c.Max == nil) {
		return fmt.Errorf("%w: min and max must be set together", ErrInvalidCapability)
	}
	if lo, hi, ok := c.Range(); ok && lo > hi {
		return fmt.Errorf("%w: min %v greater than max %v", ErrInvalidCapability, lo, hi)
	}
	if c.Decimals != nil && !c.Type.IsNumeric() {
		return fmt.Errorf("%w: decimals on %s capability", ErrInvalidCapability, c.Type)
	}
	if c.Type == TypeEnum && len(c.Values) == 0 {
		return fmt.Errorf("%w: enum without values", ErrInvalidCapability)
	}
	return nil
}
