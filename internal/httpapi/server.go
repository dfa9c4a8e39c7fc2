package httpapi

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/ggurov/local-llm/internal/agent"
	"github.com/ggurov/local-llm/internal/providers"
	"github.com/ggurov/local-llm/internal/retrieval"
	"github.com/ggurov/local-llm/internal/sessions"
	"github.com/ggurov/local-llm/internal/tools"
)

const maxRequestBody = 1 << 20

// Options wires the server's collaborators.
type Options struct {
	Addr      string
	Token     string
	Registry  *tools.Registry
	Sessions  *sessions.Store
	Loop      *agent.Loop
	Provider  providers.Provider
	Retriever *retrieval.Retriever // nil when retrieval is disabled
	Limiter   *RateLimiter
	Logger    *slog.Logger
}

// Server exposes the orchestrator HTTP API.
type Server struct {
	opts   Options
	logger *slog.Logger
	srv    *http.Server
}

func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{opts: opts, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/models", s.protected(s.handleModels))
	mux.HandleFunc("/tools/schemas", s.protected(s.handleToolSchemas))
	mux.HandleFunc("/tools/execute", s.protected(s.handleToolExecute))
	mux.HandleFunc("/chat", s.protected(s.handleChat))
	mux.HandleFunc("/chat/completions", s.protected(s.handleChatCompletions))

	s.srv = &http.Server{
		Addr:              opts.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// protected applies auth, rate limiting and the body size cap. The health
// endpoint stays open so probes work without credentials.
func (s *Server) protected(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !tokenMatch(extractBearerToken(r), s.opts.Token) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid token")
			return
		}
		if s.opts.Limiter != nil && !s.opts.Limiter.Allow(clientKey(r)) {
			writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
		next(w, r)
	}
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Start serves until Shutdown or listener failure.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.opts.Addr)
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Handler exposes the routing tree for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}
