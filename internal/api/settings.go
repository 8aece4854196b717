package api

import (
	"encoding/json"
	"net/http"
)

type patchSettingsRequest struct {
	Version  *int64          `json:"version"`
	Settings json.RawMessage `json:"settings"`
}

// handleGetClientSettings returns the companion app's settings document.
func (s *Server) handleGetClientSettings(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFromContext(r.Context())
	st, err := s.settings.Get(r.Context(), p.UserID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handlePatchClientSettings merges a patch into the settings document. The
// caller must send the version it last read; a stale version answers 409.
func (s *Server) handlePatchClientSettings(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFromContext(r.Context())
	var req patchSettingsRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if req.Version == nil || *req.Version < 0 {
		writeValidation(w, "version is required")
		return
	}
	if len(req.Settings) == 0 {
		writeValidation(w, "settings is required")
		return
	}

	st, err := s.settings.Patch(r.Context(), p.UserID, *req.Version, req.Settings)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
