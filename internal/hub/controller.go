package hub

import (
	"context"
	"fmt"
	"maps"

	"github.com/nerrad567/homie-hub/internal/device"
	"github.com/nerrad567/homie-hub/internal/homie"
	"github.com/nerrad567/homie-hub/internal/state"
)

// HomieSettings returns the applied settings.
func (h *Hub) HomieSettings() homie.Settings {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s := h.settings
	s.Devices = maps.Clone(s.Devices)
	return s
}

// ApplyHomieSettings validates, persists and applies s. It reports
// whether the Homie tree was rebuilt.
//
// The broker's last will keeps the base topic the connection was opened
// with until the next restart.
func (h *Hub) ApplyHomieSettings(ctx context.Context, s homie.Settings) (bool, error) {
	if err := s.Validate(); err != nil {
		return false, err
	}
	s.Devices = maps.Clone(s.Devices)

	h.applyMu.Lock()
	defer h.applyMu.Unlock()

	if err := h.store.SaveHomie(ctx, s); err != nil {
		return false, fmt.Errorf("%w: %w", ErrStore, err)
	}

	prevBase := h.HomieSettings().Base()
	rebuilt, err := h.apply(ctx, s)
	if err != nil {
		return false, err
	}
	if prevBase != s.Base() {
		h.log.Info("homie base topic changed, last will follows on restart", "from", prevBase, "to", s.Base())
	}
	return rebuilt, nil
}

// SetDeviceEnabled persists and applies one enablement override.
func (h *Hub) SetDeviceEnabled(ctx context.Context, deviceID string, enabled bool) error {
	if !h.registry.IsRegistered(deviceID) {
		return fmt.Errorf("%w: %s", device.ErrDeviceNotFound, deviceID)
	}

	h.applyMu.Lock()
	defer h.applyMu.Unlock()

	if err := h.store.SetDeviceEnabled(ctx, deviceID, enabled); err != nil {
		return fmt.Errorf("%w: %w", ErrStore, err)
	}

	s := h.HomieSettings()
	if s.Devices == nil {
		s.Devices = make(map[string]bool)
	}
	s.Devices[deviceID] = enabled

	if _, err := h.apply(ctx, s); err != nil {
		return err
	}
	h.log.Info("device enablement changed", "device_id", deviceID, "enabled", enabled)
	return nil
}

// apply pushes s to every publisher. Caller holds applyMu.
func (h *Hub) apply(ctx context.Context, s homie.Settings) (bool, error) {
	rebuilt := false
	if h.homie != nil {
		var err error
		rebuilt, err = h.homie.Init(ctx, s)
		if err != nil {
			return false, fmt.Errorf("applying homie settings: %w", err)
		}
	} else {
		applyEnablement(h.registry, s.Devices)
	}

	h.mu.Lock()
	h.settings = s
	h.mu.Unlock()

	if h.legacy != nil {
		h.legacy.Sync(ctx)
	}
	return rebuilt, nil
}

// Node returns the advertised Homie node of a device.
func (h *Hub) Node(deviceID string) (homie.Node, bool) {
	if h.homie == nil {
		return homie.Node{}, false
	}
	return h.homie.Node(deviceID)
}

// SystemState returns the current hub state.
func (h *Hub) SystemState() state.SystemState {
	return h.system.Snapshot()
}
