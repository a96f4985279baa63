package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/nerrad567/homie-hub/internal/audit"
)

// handleListChanges returns recorded changes, newest first.
//
// Query parameters:
//   - action: enable, disable or update
//   - entity_type: device or settings
//   - entity_id: filter by device id
//   - limit, offset: pagination
func (s *Server) handleListChanges(w http.ResponseWriter, r *http.Request) {
	if s.changes == nil {
		writeJSON(w, http.StatusOK, audit.ListResult{Entries: []audit.Entry{}, Limit: audit.DefaultLimit})
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action:     q.Get("action"),
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			writeBadRequest(w, name+" must be a non-negative integer")
			return
		}
		*dst = v
	}

	result, err := s.changes.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list changes", "error", err)
		writeInternalError(w, "failed to list changes")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// recordChange stores e with the API as source. Failures are logged and
// never fail the request that made the change.
func (s *Server) recordChange(ctx context.Context, e *audit.Entry) {
	if s.changes == nil {
		return
	}
	e.Source = audit.SourceAPI
	if err := s.changes.Create(ctx, e); err != nil {
		s.logger.Warn("failed to record change", "action", e.Action, "entity_id", e.EntityID, "error", err)
	}
}
