package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type heartbeatRequest struct {
	SessionID string `json:"session_id"`
}

// handleListSessions returns the caller's sessions, newest first.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFromContext(r.Context())
	list, err := s.sessions.List(r.Context(), p.UserID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": list,
		"count":    len(list),
	})
}

// handleHeartbeat keeps one of the caller's sessions online. The session ID
// comes from the body or the session_id cookie.
func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFromContext(r.Context())
	var req heartbeatRequest
	if err := decodeJSON(r, &req, true); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	id := req.SessionID
	if id == "" {
		id = cookieValue(r, cookieSessionID)
	}
	if !validUUID(id) {
		writeValidation(w, "session_id must be a UUID")
		return
	}

	if err := s.sessions.Heartbeat(r.Context(), id, p.UserID); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "ok"})
}

// handleCloseSession ends one of the caller's sessions and reports its duration.
func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFromContext(r.Context())
	id := chi.URLParam(r, "id")
	if !validUUID(id) {
		writeValidation(w, "session id must be a UUID")
		return
	}

	closed, err := s.sessions.Close(r.Context(), id, p.UserID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, closed)
}

func (s *Server) handleMyStats(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFromContext(r.Context())
	stats, err := s.sessions.Stats(r.Context(), p.UserID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// maxReportedOnlineTime caps a single client report at one day.
const maxReportedOnlineTime = 24 * 60 * 60

type reportStatsRequest struct {
	OnlineTime *int64 `json:"online_time"`
}

// handleReportStats adds client-measured online seconds to the caller's total.
func (s *Server) handleReportStats(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFromContext(r.Context())
	var req reportStatsRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	switch {
	case req.OnlineTime == nil:
		writeValidation(w, "online_time is required")
		return
	case *req.OnlineTime < 0 || *req.OnlineTime > maxReportedOnlineTime:
		writeValidation(w, "online_time must be between 0 and 86400 seconds")
		return
	}

	stats, err := s.sessions.AddOnlineTime(r.Context(), p.UserID, *req.OnlineTime)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
