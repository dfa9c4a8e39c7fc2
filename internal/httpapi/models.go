package httpapi

import "net/http"

// handleModels proxies the backend's model list in OpenAI format.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "use GET")
		return
	}
	models, err := s.opts.Provider.ListModels(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, "BACKEND_UNAVAILABLE", err.Error())
		return
	}
	data := make([]map[string]interface{}, 0, len(models))
	for _, m := range models {
		data = append(data, map[string]interface{}{
			"id":     m.ID,
			"object": "model",
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"object": "list",
		"data":   data,
	})
}
