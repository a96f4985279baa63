package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/homie-hub/internal/audit"
	"github.com/nerrad567/homie-hub/internal/device"
	"github.com/nerrad567/homie-hub/internal/homie"
)

// DeviceResponse is one device as the API reports it.
type DeviceResponse struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Slug         string        `json:"slug"`
	Class        string        `json:"class,omitempty"`
	Zone         string        `json:"zone,omitempty"`
	Enabled      bool          `json:"enabled"`
	Capabilities []string      `json:"capabilities"`
	Node         *NodeResponse `json:"node,omitempty"`
}

// NodeResponse is the advertised Homie node of a device.
type NodeResponse struct {
	ID         string             `json:"id"`
	Topic      string             `json:"topic"`
	Type       string             `json:"type"`
	Properties []PropertyResponse `json:"properties"`
}

// PropertyResponse is one advertised Homie property.
type PropertyResponse struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Datatype string `json:"datatype"`
	Unit     string `json:"unit,omitempty"`
	Format   string `json:"format,omitempty"`
	Settable bool   `json:"settable"`
	Topic    string `json:"topic"`
}

// EnabledRequest is the body of PUT /devices/{id}/enabled.
type EnabledRequest struct {
	Enabled *bool `json:"enabled"`
}

// handleListDevices returns all devices, with optional query filters.
//
// Query parameters:
//   - class: filter by device class
//   - zone: filter by zone name
//   - enabled: filter by enablement (true/false)
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var enabledFilter *bool
	if raw := q.Get("enabled"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeBadRequest(w, "enabled must be true or false")
			return
		}
		enabledFilter = &v
	}

	ids := s.registry.IDs()
	slices.Sort(ids)

	devices := make([]DeviceResponse, 0, len(ids))
	for _, id := range ids {
		resp, ok := s.deviceResponse(id)
		if !ok {
			continue
		}
		if class := q.Get("class"); class != "" && resp.Class != class {
			continue
		}
		if zone := q.Get("zone"); zone != "" && resp.Zone != zone {
			continue
		}
		if enabledFilter != nil && resp.Enabled != *enabledFilter {
			continue
		}
		devices = append(devices, resp)
	}

	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns one device by id, name or slug.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id, ok := s.registry.ResolveID(chi.URLParam(r, "id"))
	if !ok {
		writeNotFound(w, "device not found")
		return
	}

	resp, ok := s.deviceResponse(id)
	if !ok {
		writeNotFound(w, "device not found")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleSetDeviceEnabled enables or disables a device on every convention.
func (s *Server) handleSetDeviceEnabled(w http.ResponseWriter, r *http.Request) {
	var req EnabledRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Enabled == nil {
		writeValidationError(w, "enabled is required")
		return
	}

	id, ok := s.registry.ResolveID(chi.URLParam(r, "id"))
	if !ok {
		writeNotFound(w, "device not found")
		return
	}

	if err := s.controller.SetDeviceEnabled(r.Context(), id, *req.Enabled); err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		s.logger.Error("failed to set device enablement", "device_id", id, "error", err)
		writeInternalError(w, "failed to update device")
		return
	}

	action := audit.ActionDisable
	if *req.Enabled {
		action = audit.ActionEnable
	}
	s.recordChange(r.Context(), &audit.Entry{
		Action:     action,
		EntityType: audit.EntityDevice,
		EntityID:   id,
	})

	resp, _ := s.deviceResponse(id)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) deviceResponse(id string) (DeviceResponse, bool) {
	d, ok := s.registry.Device(id)
	if !ok {
		return DeviceResponse{}, false
	}
	slug, _ := s.registry.Slug(id)

	resp := DeviceResponse{
		ID:           d.ID,
		Name:         d.Name,
		Slug:         slug,
		Class:        d.Class,
		Zone:         d.ZoneName(),
		Enabled:      s.registry.IsEnabled(id),
		Capabilities: d.CapabilityIDs(),
	}
	if n, ok := s.controller.Node(id); ok {
		resp.Node = nodeResponse(n)
	}
	return resp, true
}

func nodeResponse(n homie.Node) *NodeResponse {
	props := make([]PropertyResponse, 0, len(n.Properties))
	for _, p := range n.Properties {
		props = append(props, PropertyResponse{
			ID:       p.ID,
			Name:     p.Name,
			Datatype: string(p.Datatype),
			Unit:     p.Unit,
			Format:   p.Format,
			Settable: p.Settable,
			Topic:    p.Topic,
		})
	}
	return &NodeResponse{
		ID:         n.ID,
		Topic:      n.Topic,
		Type:       n.Type,
		Properties: props,
	}
}
