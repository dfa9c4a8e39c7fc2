package httpapi

import (
	"context"
	"net/http"
	"time"
)

type componentHealth struct {
	Healthy   bool   `json:"healthy"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// handleHealth reports component status. The endpoint itself always answers
// 200; a down backend shows up in the body, not the status code, so probes
// can tell "orchestrator down" from "backend down".
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "use GET")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	components := map[string]componentHealth{
		"backend": checkComponent(ctx, s.opts.Provider.HealthCheck),
	}
	if s.opts.Retriever != nil {
		components["retrieval"] = checkComponent(ctx, s.opts.Retriever.HealthCheck)
	}

	status := "ok"
	for _, c := range components {
		if !c.Healthy {
			status = "degraded"
			break
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":        status,
		"components":    components,
		"live_sessions": s.opts.Sessions.Len(),
		"tools":         s.opts.Registry.Names(),
	})
}

func checkComponent(ctx context.Context, check func(context.Context) error) componentHealth {
	start := time.Now()
	err := check(ctx)
	h := componentHealth{
		Healthy:   err == nil,
		LatencyMS: time.Since(start).Milliseconds(),
	}
	if err != nil {
		h.Error = err.Error()
	}
	return h
}
