package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// Config is the root orchestrator configuration, loaded from a JSON5 file
// with environment variable overrides applied on top.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Backend   BackendConfig   `json:"backend"`
	Agent     AgentConfig     `json:"agent"`
	Tools     ToolsConfig     `json:"tools"`
	Sessions  SessionsConfig  `json:"sessions"`
	Retrieval RetrievalConfig `json:"retrieval"`
	Tracing   TracingConfig   `json:"tracing"`

	// LogLevel: "debug", "info", "warn", "error".
	LogLevel string `json:"logLevel"`
}

// ServerConfig configures the HTTP API surface.
type ServerConfig struct {
	Addr string `json:"addr"`

	// Token is the bearer token required on API requests. Empty = no auth.
	Token string `json:"token"`

	// RateLimitRPM limits requests per minute per client (0 = disabled).
	RateLimitRPM   int `json:"rateLimitRpm"`
	RateLimitBurst int `json:"rateLimitBurst"`
}

// BackendConfig configures the OpenAI-compatible model backend (vLLM etc.).
type BackendConfig struct {
	BaseURL     string  `json:"baseUrl"`
	APIKey      string  `json:"apiKey"`
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"maxTokens"`

	// TimeoutSeconds bounds a single completion request.
	TimeoutSeconds int `json:"timeoutSeconds"`

	// StrictSchemas strips JSON Schema keys the backend's tool-call parser
	// rejects ($ref, $defs, ...) before advertising tools.
	StrictSchemas bool `json:"strictSchemas"`
}

// AgentConfig tunes the control loop.
type AgentConfig struct {
	// MaxToolRounds is the hard cap on model/tool round-trips per user turn.
	MaxToolRounds int `json:"maxToolRounds"`

	// SessionIdleMinutes: sessions idle longer than this are evicted.
	SessionIdleMinutes int `json:"sessionIdleMinutes"`

	// ReaperIntervalSeconds: how often the session reaper runs.
	ReaperIntervalSeconds int `json:"reaperIntervalSeconds"`
}

// ToolsConfig configures the tool executors and their sandbox roots.
type ToolsConfig struct {
	// WorkspaceDir is the root for file_operations. All paths are confined here.
	WorkspaceDir string `json:"workspaceDir"`

	// LogDir is the root search_logs may scan.
	LogDir string `json:"logDir"`

	// ProjectDir is the root for run_tests and apply_patch.
	ProjectDir string `json:"projectDir"`

	// TestCommand is executed by run_tests inside the project dir.
	TestCommand string `json:"testCommand"`

	// TimeoutSeconds bounds a single tool execution (subprocesses included).
	TimeoutSeconds int `json:"timeoutSeconds"`

	// MapFile optionally seeds get_map with extra entries (JSON object file).
	MapFile string `json:"mapFile"`
}

// SessionsConfig configures session persistence.
type SessionsConfig struct {
	// DBPath is the SQLite file for session persistence. Empty = memory only.
	DBPath string `json:"dbPath"`
}

// RetrievalConfig configures context retrieval against the vector store.
type RetrievalConfig struct {
	Enabled        bool    `json:"enabled"`
	EmbedURL       string  `json:"embedUrl"`
	QdrantURL      string  `json:"qdrantUrl"`
	Collection     string  `json:"collection"`
	Limit          int     `json:"limit"`
	ScoreThreshold float64 `json:"scoreThreshold"`
	CacheSize      int     `json:"cacheSize"`
}

// TracingConfig configures the OTLP span exporter. Disabled unless Endpoint is set.
type TracingConfig struct {
	Endpoint    string `json:"endpoint"`
	Protocol    string `json:"protocol"` // "grpc" (default) or "http"
	Insecure    bool   `json:"insecure"`
	ServiceName string `json:"serviceName"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:           ":8001",
			RateLimitBurst: 5,
		},
		Backend: BackendConfig{
			BaseURL:        "http://localhost:8000/v1",
			Model:          "Qwen/Qwen2.5-7B-Instruct-AWQ",
			Temperature:    0.7,
			TimeoutSeconds: 60,
		},
		Agent: AgentConfig{
			MaxToolRounds:         3,
			SessionIdleMinutes:    30,
			ReaperIntervalSeconds: 60,
		},
		Tools: ToolsConfig{
			WorkspaceDir:   "~/.orchestrator/workspace",
			LogDir:         "~/.orchestrator/logs",
			ProjectDir:     "~/.orchestrator/project",
			TestCommand:    "go test ./...",
			TimeoutSeconds: 120,
		},
		Retrieval: RetrievalConfig{
			EmbedURL:       "http://localhost:8081",
			QdrantURL:      "http://localhost:6333",
			Collection:     "documents",
			Limit:          3,
			ScoreThreshold: 0.7,
			CacheSize:      256,
		},
		LogLevel: "info",
	}
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return ExpandHome("~/.orchestrator/config.json5")
}

// Load reads a JSON5 config file, applies defaults for absent fields, then
// environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnv(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	applyEnv(cfg)
	return cfg, nil
}

// Save writes the config as indented JSON (valid JSON5).
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}

// applyEnv overlays environment variables onto cfg. Names follow the
// deployment's env contract (OPENAI_COMPAT_URL etc.).
func applyEnv(cfg *Config) {
	if v := os.Getenv("OPENAI_COMPAT_URL"); v != "" {
		cfg.Backend.BaseURL = v
	}
	if v := os.Getenv("EMBED_URL"); v != "" {
		cfg.Retrieval.EmbedURL = v
	}
	if v := os.Getenv("QDRANT_URL"); v != "" {
		cfg.Retrieval.QdrantURL = v
	}
	if v := os.Getenv("ORCHESTRATOR_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Addr = fmt.Sprintf(":%d", p)
		}
	}
	if v := os.Getenv("ORCHESTRATOR_TOKEN"); v != "" {
		cfg.Server.Token = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
}

// ExpandHome expands a leading "~/" to the user's home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		if path == "~" {
			return home
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
