package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/homie-hub/internal/audit"
	"github.com/nerrad567/homie-hub/internal/homie"
)

// SettingsResponse wraps the applied settings.
type SettingsResponse struct {
	Settings homie.Settings `json:"settings"`
	Base     string         `json:"base"`
	Rebuilt  bool           `json:"rebuilt"`
}

// handleGetHomieSettings returns the active Homie settings.
func (s *Server) handleGetHomieSettings(w http.ResponseWriter, _ *http.Request) {
	current := s.controller.HomieSettings()
	writeJSON(w, http.StatusOK, SettingsResponse{Settings: current, Base: current.Base()})
}

// handlePutHomieSettings applies new Homie settings.
//
// Fields missing from the body keep their current value.
func (s *Server) handlePutHomieSettings(w http.ResponseWriter, r *http.Request) {
	next := s.controller.HomieSettings()
	if err := json.NewDecoder(r.Body).Decode(&next); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	rebuilt, err := s.controller.ApplyHomieSettings(r.Context(), next)
	if err != nil {
		if errors.Is(err, homie.ErrInvalidSettings) {
			writeValidationError(w, err.Error())
			return
		}
		s.logger.Error("failed to apply homie settings", "error", err)
		writeInternalError(w, "failed to apply settings")
		return
	}

	applied := s.controller.HomieSettings()
	s.recordChange(r.Context(), &audit.Entry{
		Action:     audit.ActionUpdate,
		EntityType: audit.EntitySettings,
		EntityID:   "homie",
		Details:    map[string]any{"base": applied.Base(), "rebuilt": rebuilt},
	})
	writeJSON(w, http.StatusOK, SettingsResponse{
		Settings: applied,
		Base:     applied.Base(),
		Rebuilt:  rebuilt,
	})
}
