package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ggurov/local-llm/internal/config"
)

var configFlag string

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orchestrator",
		Short: "Local LLM tool-calling orchestrator",
		Long: "orchestrator runs a tool-calling agent against a local OpenAI-compatible\n" +
			"backend, exposing chat and direct tool execution over HTTP.",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
	cmd.PersistentFlags().StringVar(&configFlag, "config", "", "path to config file")
	cmd.AddCommand(serveCmd())
	cmd.AddCommand(chatCmd())
	cmd.AddCommand(toolsCmd())
	cmd.AddCommand(doctorCmd())
	return cmd
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// resolveConfigPath prefers the --config flag, falling back to the default
// location under the home directory.
func resolveConfigPath() string {
	if configFlag != "" {
		return configFlag
	}
	return config.DefaultPath()
}

func loadConfig() *config.Config {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}
