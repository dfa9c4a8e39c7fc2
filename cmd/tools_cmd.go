package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ggurov/local-llm/internal/tools"
)

func toolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Inspect and run tools locally, without the server",
	}
	cmd.AddCommand(toolsListCmd())
	cmd.AddCommand(toolsExecCmd())
	return cmd
}

func toolsListCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered tools",
		Run: func(cmd *cobra.Command, args []string) {
			runToolsList(jsonOutput)
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func runToolsList(jsonOutput bool) {
	registry := mustRegistry()
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(registry.Specs())
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tDESCRIPTION")
	for _, spec := range registry.Specs() {
		fmt.Fprintf(w, "%s\t%s\n", spec.Function.Name, spec.Function.Description)
	}
	w.Flush()
}

func toolsExecCmd() *cobra.Command {
	var argsJSON string
	cmd := &cobra.Command{
		Use:   "exec <tool>",
		Short: "Execute one tool with JSON arguments",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			runToolsExec(args[0], argsJSON)
		},
	}
	cmd.Flags().StringVar(&argsJSON, "args", "{}", "tool arguments as a JSON object")
	return cmd
}

func runToolsExec(name, argsJSON string) {
	var args map[string]interface{}
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: --args is not a JSON object: %v\n", err)
		os.Exit(1)
	}

	registry := mustRegistry()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	res := registry.Execute(ctx, name, args)
	if res.IsError {
		fmt.Fprintf(os.Stderr, "Error (%s): %s\n", res.Code, res.Content)
		os.Exit(1)
	}
	fmt.Println(res.Content)
}

func mustRegistry() *tools.Registry {
	cfg := loadConfig()
	registry, err := buildRegistry(cfg, newLogger(cfg.LogLevel))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return registry
}
