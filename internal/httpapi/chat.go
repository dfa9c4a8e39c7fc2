package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ggurov/local-llm/internal/agent"
	"github.com/ggurov/local-llm/internal/providers"
)

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

type chatResponse struct {
	Response  string `json:"response"`
	SessionID string `json:"session_id"`
}

// handleChat runs one agent turn on a session. Concurrent requests for the
// same session queue behind each other at the store.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "use POST")
		return
	}
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION", "malformed request body: "+err.Error())
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION", "message is required")
		return
	}

	sess, release, err := s.opts.Sessions.Acquire(r.Context(), req.SessionID)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "INTERNAL", "session unavailable: "+err.Error())
		return
	}
	defer release()

	answer, err := s.opts.Loop.Run(r.Context(), sess, req.Message)
	if err != nil {
		writeAgentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{Response: answer, SessionID: sess.ID})
}

func writeAgentError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, agent.ErrTurnLimit):
		writeError(w, http.StatusUnprocessableEntity, "TURN_LIMIT_EXCEEDED", err.Error())
	case errors.Is(err, providers.ErrBackendUnavailable):
		writeError(w, http.StatusBadGateway, "BACKEND_UNAVAILABLE", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
	}
}
