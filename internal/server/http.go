package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/alfredjeanlab/coedit/internal/model"
	"github.com/alfredjeanlab/coedit/internal/store"
)

// maxBodyBytes bounds request bodies; the largest legal body carries a full
// code buffer.
const maxBodyBytes = model.MaxCodeBytes + 64<<10

// NewHTTPHandler returns an http.Handler with all routes registered. ws, when
// non-nil, is mounted at GET /ws for real-time clients. allowedOrigins
// configures CORS for the /api routes.
func (s *SessionServer) NewHTTPHandler(ws http.Handler, allowedOrigins []string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("PUT /api/sessions/{id}", s.handleUpdateCode)
	mux.HandleFunc("POST /api/sessions/{id}/lock", s.handleSetLocked(true))
	mux.HandleFunc("POST /api/sessions/{id}/unlock", s.handleSetLocked(false))
	mux.HandleFunc("GET /api/sessions/{id}/participants", s.handleListParticipants)
	mux.HandleFunc("DELETE /api/sessions/{id}/participants/{name}", s.handleRemoveParticipant)
	mux.HandleFunc("GET /api/events/stream", s.handleEventStream)
	mux.HandleFunc("GET /api/activity", s.handleActivity)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	if ws != nil {
		mux.Handle("GET /ws", ws)
	}
	return RequestLogger(CORSMiddleware(allowedOrigins, mux))
}

// createSessionInput accepts the creator id under either spelling.
type createSessionInput struct {
	CreatorID  string `json:"creatorId"`
	CreatorID2 string `json:"creator_id"`
	Code       string `json:"code"`
}

func (in createSessionInput) creator() string {
	if in.CreatorID != "" {
		return in.CreatorID
	}
	return in.CreatorID2
}

type updateCodeInput struct {
	Code *string `json:"code"`
}

// handleCreateSession handles POST /api/sessions.
func (s *SessionServer) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var in createSessionInput
	if !decodeBody(w, r, &in) {
		return
	}
	sess, err := s.createSession(r.Context(), in.creator(), in.Code)
	if err != nil {
		writeRequestError(w, err, "create session")
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

// handleListSessions handles GET /api/sessions.
func (s *SessionServer) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.listSessions(r.Context())
	if err != nil {
		writeRequestError(w, err, "list sessions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"total":    len(sessions),
	})
}

// handleGetSession handles GET /api/sessions/{id}.
func (s *SessionServer) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.getSession(r.Context(), r.PathValue("id"))
	if err != nil {
		writeRequestError(w, err, "get session")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// handleUpdateCode handles PUT /api/sessions/{id}.
func (s *SessionServer) handleUpdateCode(w http.ResponseWriter, r *http.Request) {
	var in updateCodeInput
	if !decodeBody(w, r, &in) {
		return
	}
	if in.Code == nil {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}
	if err := s.updateCode(r.Context(), r.PathValue("id"), *in.Code); err != nil {
		writeRequestError(w, err, "update code")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSetLocked handles POST /api/sessions/{id}/lock and /unlock.
func (s *SessionServer) handleSetLocked(locked bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.setLocked(r.Context(), r.PathValue("id"), locked); err != nil {
			writeRequestError(w, err, "set lock")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleListParticipants handles GET /api/sessions/{id}/participants.
func (s *SessionServer) handleListParticipants(w http.ResponseWriter, r *http.Request) {
	names, err := s.listParticipants(r.Context(), r.PathValue("id"))
	if err != nil {
		writeRequestError(w, err, "list participants")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"participants": names})
}

// handleRemoveParticipant handles DELETE /api/sessions/{id}/participants/{name}.
func (s *SessionServer) handleRemoveParticipant(w http.ResponseWriter, r *http.Request) {
	if err := s.removeParticipant(r.Context(), r.PathValue("id"), r.PathValue("name")); err != nil {
		writeRequestError(w, err, "remove participant")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleHealth handles GET /api/health.
// handleActivity handles GET /api/activity. The optional stale parameter
// (a Go duration) hides sessions quiet for longer.
func (s *SessionServer) handleActivity(w http.ResponseWriter, r *http.Request) {
	var stale time.Duration
	if v := r.URL.Query().Get("stale"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			writeError(w, http.StatusBadRequest, "invalid stale duration")
			return
		}
		stale = d
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": s.activity.Snapshot(stale)})
}

func (s *SessionServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decodeBody decodes a JSON request body into v, writing a 400 and returning
// false on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// writeRequestError maps a core error to an HTTP status: input errors to 400,
// unknown sessions to 404, and everything else to 500.
func writeRequestError(w http.ResponseWriter, err error, action string) {
	var ie inputError
	switch {
	case errors.As(err, &ie):
		writeError(w, http.StatusBadRequest, ie.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	default:
		slog.Warn("failed to "+action, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to "+action)
	}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
