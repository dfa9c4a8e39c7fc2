package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/ggurov/local-llm/internal/tools"
)

// handleToolSchemas returns the registered tool definitions in the format
// sent to the model.
func (s *Server) handleToolSchemas(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "use GET")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tools": s.opts.Registry.Specs(),
	})
}

type toolExecuteRequest struct {
	ToolName  string                 `json:"tool_name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// handleToolExecute runs one tool directly, outside any conversation.
func (s *Server) handleToolExecute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "use POST")
		return
	}
	var req toolExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION", "malformed request body: "+err.Error())
		return
	}
	if req.ToolName == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION", "tool_name is required")
		return
	}

	s.logger.Info("direct tool execution", "tool", req.ToolName)
	res := s.opts.Registry.Execute(r.Context(), req.ToolName, req.Arguments)
	if res.IsError {
		writeError(w, statusForCode(res.Code), res.Code, res.Content)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"result":      rawOrString(res.Content),
		"duration_ms": res.Duration.Milliseconds(),
	})
}

func statusForCode(code string) int {
	switch code {
	case tools.CodeValidation:
		return http.StatusBadRequest
	case tools.CodeSandboxViolation:
		return http.StatusForbidden
	case tools.CodeNotFound:
		return http.StatusNotFound
	case tools.CodeExecutionFailure:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
