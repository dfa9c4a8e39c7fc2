package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ggurov/local-llm/internal/agent"
	"github.com/ggurov/local-llm/internal/config"
	"github.com/ggurov/local-llm/internal/httpapi"
	"github.com/ggurov/local-llm/internal/providers"
	"github.com/ggurov/local-llm/internal/retrieval"
	"github.com/ggurov/local-llm/internal/sessions"
	"github.com/ggurov/local-llm/internal/tools"
	"github.com/ggurov/local-llm/internal/tracing"
	"github.com/ggurov/local-llm/internal/tracing/otelexport"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator HTTP server",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	provider := buildProvider(cfg)
	registry, err := buildRegistry(cfg, logger)
	if err != nil {
		logger.Error("tool registry setup failed", "error", err)
		os.Exit(1)
	}

	var persister sessions.Persister
	if cfg.Sessions.DBPath != "" {
		p, err := sessions.NewSQLitePersister(config.ExpandHome(cfg.Sessions.DBPath))
		if err != nil {
			logger.Error("session persistence setup failed", "error", err)
			os.Exit(1)
		}
		persister = p
	}
	store := sessions.NewStore(persister,
		time.Duration(cfg.Agent.SessionIdleMinutes)*time.Minute, logger)
	store.StartReaper(time.Duration(cfg.Agent.ReaperIntervalSeconds) * time.Second)

	var retriever *retrieval.Retriever
	if cfg.Retrieval.Enabled {
		retriever, err = retrieval.New(
			retrieval.NewClient(cfg.Retrieval.EmbedURL, cfg.Retrieval.QdrantURL),
			retrieval.Config{
				Collection:     cfg.Retrieval.Collection,
				Limit:          cfg.Retrieval.Limit,
				ScoreThreshold: cfg.Retrieval.ScoreThreshold,
				CacheSize:      cfg.Retrieval.CacheSize,
			}, logger)
		if err != nil {
			logger.Error("retrieval setup failed", "error", err)
			os.Exit(1)
		}
	}

	collector := tracing.NewCollector(logger)
	if cfg.Tracing.Endpoint != "" {
		exp, err := otelexport.New(context.Background(), otelexport.Config{
			Endpoint:    cfg.Tracing.Endpoint,
			Protocol:    cfg.Tracing.Protocol,
			Insecure:    cfg.Tracing.Insecure,
			ServiceName: cfg.Tracing.ServiceName,
		})
		if err != nil {
			logger.Error("otel exporter setup failed", "error", err)
			os.Exit(1)
		}
		collector.SetExporter(exp)
	}
	collector.Start()

	var loopRetriever agent.Retriever
	if retriever != nil {
		loopRetriever = retriever
	}
	loop := agent.NewLoop(provider, registry, agent.Options{
		Model:         cfg.Backend.Model,
		Temperature:   cfg.Backend.Temperature,
		MaxTokens:     cfg.Backend.MaxTokens,
		MaxToolRounds: cfg.Agent.MaxToolRounds,
		Retriever:     loopRetriever,
		Tracer:        collector,
		Logger:        logger,
	})

	limiter := httpapi.NewRateLimiter(cfg.Server.RateLimitRPM, cfg.Server.RateLimitBurst)
	server := httpapi.NewServer(httpapi.Options{
		Addr:      cfg.Server.Addr,
		Token:     cfg.Server.Token,
		Registry:  registry,
		Sessions:  store,
		Loop:      loop,
		Provider:  provider,
		Retriever: retriever,
		Limiter:   limiter,
		Logger:    logger,
	})

	watcher := startConfigWatcher(logger)
	warmUpBackend(provider, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			logger.Error("server failed", "error", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("server shutdown incomplete", "error", err)
	}
	if watcher != nil {
		watcher.Stop()
	}
	limiter.Stop()
	collector.Stop()
	if err := store.Close(); err != nil {
		logger.Warn("session store close failed", "error", err)
	}
	logger.Info("stopped")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func buildProvider(cfg *config.Config) *providers.OpenAIProvider {
	p := providers.NewOpenAIProvider("backend", cfg.Backend.APIKey, cfg.Backend.BaseURL, cfg.Backend.Model)
	if cfg.Backend.TimeoutSeconds > 0 {
		p.SetTimeout(time.Duration(cfg.Backend.TimeoutSeconds) * time.Second)
	}
	p.SetStrictSchemas(cfg.Backend.StrictSchemas)
	return p
}

// buildRegistry wires the five executors into a frozen registry.
func buildRegistry(cfg *config.Config, logger *slog.Logger) (*tools.Registry, error) {
	workspace, err := tools.NewSandbox(config.ExpandHome(cfg.Tools.WorkspaceDir))
	if err != nil {
		return nil, fmt.Errorf("workspace sandbox: %w", err)
	}
	logs, err := tools.NewSandbox(config.ExpandHome(cfg.Tools.LogDir))
	if err != nil {
		return nil, fmt.Errorf("log sandbox: %w", err)
	}
	project, err := tools.NewSandbox(config.ExpandHome(cfg.Tools.ProjectDir))
	if err != nil {
		return nil, fmt.Errorf("project sandbox: %w", err)
	}

	mapTool := tools.NewGetMapTool()
	if cfg.Tools.MapFile != "" {
		if err := mapTool.LoadFile(config.ExpandHome(cfg.Tools.MapFile)); err != nil {
			return nil, err
		}
	}

	timeout := time.Duration(cfg.Tools.TimeoutSeconds) * time.Second
	runTests := tools.NewRunTestsTool(project, cfg.Tools.TestCommand, timeout)

	registry := tools.NewRegistry(timeout, logger)
	for _, t := range []tools.Tool{
		mapTool,
		tools.NewSearchLogsTool(logs),
		runTests,
		tools.NewApplyPatchTool(project, runTests),
		tools.NewFileOperationsTool(workspace),
	} {
		if err := registry.Register(t); err != nil {
			return nil, err
		}
	}
	registry.Freeze()
	logger.Info("tool registry ready", "tools", registry.Names())
	return registry, nil
}

// startConfigWatcher reloads on config edits. Only the log level takes
// effect live; everything else needs a restart, which the log line says.
func startConfigWatcher(logger *slog.Logger) *config.Watcher {
	watcher, err := config.NewWatcher(resolveConfigPath())
	if err != nil {
		logger.Warn("config watcher unavailable", "error", err)
		return nil
	}
	watcher.OnChange(func(cfg *config.Config) {
		slog.SetDefault(newLogger(cfg.LogLevel))
		logger.Info("config reloaded, restart to apply server and backend changes")
	})
	if err := watcher.Start(); err != nil {
		logger.Warn("config watcher failed to start", "error", err)
		return nil
	}
	return watcher
}

// warmUpBackend issues a tiny completion so the first real request does not
// pay model load time. Failure is not fatal; the backend may come up later.
func warmUpBackend(provider *providers.OpenAIProvider, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := provider.WarmUp(ctx); err != nil {
		logger.Warn("backend warm-up failed", "error", err)
		return
	}
	logger.Info("backend warmed up")
}
