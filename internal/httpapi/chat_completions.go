package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ggurov/local-llm/internal/providers"
)

type chatCompletionsRequest struct {
	Model    string                  `json:"model"`
	Messages []providers.ChatMessage `json:"messages"`
	User     string                  `json:"user,omitempty"`
}

// handleChatCompletions serves the OpenAI-compatible surface. The last user
// message drives an agent turn; prior messages from the payload are ignored
// because the session carries its own history, keyed by the user field when
// the client sets one.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "use POST")
		return
	}
	var req chatCompletionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION", "malformed request body: "+err.Error())
		return
	}
	userMessage := lastUserMessage(req.Messages)
	if userMessage == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION", "no user message in request")
		return
	}

	sess, release, err := s.opts.Sessions.Acquire(r.Context(), req.User)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "INTERNAL", "session unavailable: "+err.Error())
		return
	}
	defer release()

	answer, err := s.opts.Loop.Run(r.Context(), sess, userMessage)
	if err != nil {
		writeAgentError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":      "chatcmpl-" + uuid.NewString(),
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   req.Model,
		"choices": []map[string]interface{}{
			{
				"index": 0,
				"message": map[string]interface{}{
					"role":    "assistant",
					"content": answer,
				},
				"finish_reason": "stop",
			},
		},
	})
}

func lastUserMessage(messages []providers.ChatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	return ""
}
