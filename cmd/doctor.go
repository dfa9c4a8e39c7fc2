package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/ggurov/local-llm/internal/config"
	"github.com/ggurov/local-llm/internal/retrieval"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration and backend reachability",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("orchestrator doctor")
	fmt.Printf("  OS:  %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:  %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:  %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, using defaults)")
	} else {
		fmt.Println(" (OK)")
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %v\n", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	fmt.Println()
	fmt.Printf("  Backend:  %s (%s)\n", cfg.Backend.BaseURL, cfg.Backend.Model)
	provider := buildProvider(cfg)
	start := time.Now()
	if err := provider.HealthCheck(ctx); err != nil {
		fmt.Printf("    UNREACHABLE: %v\n", err)
	} else {
		fmt.Printf("    OK (%dms)\n", time.Since(start).Milliseconds())
	}

	if cfg.Retrieval.Enabled {
		fmt.Printf("  Qdrant:   %s\n", cfg.Retrieval.QdrantURL)
		client := retrieval.NewClient(cfg.Retrieval.EmbedURL, cfg.Retrieval.QdrantURL)
		start = time.Now()
		if err := client.HealthCheck(ctx); err != nil {
			fmt.Printf("    UNREACHABLE: %v\n", err)
		} else {
			fmt.Printf("    OK (%dms)\n", time.Since(start).Milliseconds())
		}
	}

	fmt.Println()
	for _, dir := range []struct{ name, path string }{
		{"Workspace", cfg.Tools.WorkspaceDir},
		{"Logs", cfg.Tools.LogDir},
		{"Project", cfg.Tools.ProjectDir},
	} {
		expanded := config.ExpandHome(dir.path)
		fmt.Printf("  %s:  %s", dir.name, expanded)
		if _, err := os.Stat(expanded); err != nil {
			fmt.Println(" (will be created)")
		} else {
			fmt.Println(" (OK)")
		}
	}
}
