package platform

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/homie-hub/internal/device"
)

// devicesFile is the on-disk seed for a Memory platform.
//
//	zones:
//	  - id: living
//	    name: Living Room
//	devices:
//	  - id: d1
//	    name: Living Room Light
//	    class: light
//	    zone: living
//	    capabilities:
//	      onoff: {type: boolean, setable: true, getable: true, value: false}
type devicesFile struct {
	Zones   []device.Zone `yaml:"zones"`
	Devices []fileDevice  `yaml:"devices"`
}

type fileDevice struct {
	ID           string                       `yaml:"id"`
	Name         string                       `yaml:"name"`
	Class        string                       `yaml:"class"`
	Zone         string                       `yaml:"zone"`
	Capabilities map[string]device.Capability `yaml:"capabilities"`
}

// LoadFile reads a YAML devices file into a new Memory platform.
// A missing file yields an empty platform.
func LoadFile(path string) (*Memory, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from trusted configuration
	if errors.Is(err, os.ErrNotExist) {
		return NewMemory(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading devices file: %w", err)
	}
	return Parse(data)
}

// Parse builds a Memory platform from YAML devices data.
func Parse(data []byte) (*Memory, error) {
	var f devicesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDevicesFile, err)
	}

	m := NewMemory()
	zones := make(map[string]device.Zone, len(f.Zones))
	for _, z := range f.Zones {
		if z.ID == "" {
			return nil, fmt.Errorf("%w: zone without id", ErrInvalidDevicesFile)
		}
		if z.Name == "" {
			z.Name = z.ID
		}
		zones[z.ID] = z
		m.AddZone(z)
	}

	for i, fd := range f.Devices {
		d := &device.Device{
			ID:           fd.ID,
			Name:         fd.Name,
			Class:        fd.Class,
			Capabilities: fd.Capabilities,
		}
		if fd.Zone != "" {
			z, ok := zones[fd.Zone]
			if !ok {
				return nil, fmt.Errorf("%w: device %d references unknown zone %q", ErrInvalidDevicesFile, i, fd.Zone)
			}
			d.Zone = &z
		}
		for id, c := range d.Capabilities {
			if c.ID == "" {
				c.ID = id
				d.Capabilities[id] = c
			}
		}
		if err := m.AddDevice(d); err != nil {
			return nil, fmt.Errorf("%w: device %d: %w", ErrInvalidDevicesFile, i, err)
		}
	}
	return m, nil
}
