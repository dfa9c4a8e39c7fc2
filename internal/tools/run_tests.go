package tools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	shellwords "github.com/mattn/go-shellwords"
)

// RunTestsTool runs the configured test command inside the project root.
// The command line comes from configuration, not from the model; the model
// only chooses where to run it and an optional filter argument.
type RunTestsTool struct {
	sandbox     *Sandbox
	testCommand string
	timeout     time.Duration
}

func NewRunTestsTool(sandbox *Sandbox, testCommand string, timeout time.Duration) *RunTestsTool {
	return &RunTestsTool{sandbox: sandbox, testCommand: testCommand, timeout: timeout}
}

func (t *RunTestsTool) Name() string { return "run_tests" }

func (t *RunTestsTool) Description() string {
	return "Run the project's test suite and report exit status with captured output."
}

func (t *RunTestsTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"project_path": map[string]interface{}{
				"type":        "string",
				"description": "Directory under the project root to run tests in. Defaults to the project root.",
			},
			"test_filter": map[string]interface{}{
				"type":        "string",
				"description": "Optional filter appended to the test command, such as a package path or test name pattern.",
			},
		},
		"additionalProperties": false,
	}
}

func (t *RunTestsTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	projectPath, _ := args["project_path"].(string)
	filter, _ := args["test_filter"].(string)
	res, argv, err := t.runSuite(ctx, projectPath, filter)
	if err != nil {
		if errors.Is(err, ErrSandboxViolation) {
			return Errorf(CodeSandboxViolation, "project path outside project root: %s", projectPath)
		}
		return Errorf(CodeExecutionFailure, "run tests: %v", err)
	}
	return suiteResult(strings.Join(argv, " "), res)
}

// runSuite resolves the directory, parses the configured command line and
// executes it. apply_patch reuses this path for its verification run.
func (t *RunTestsTool) runSuite(ctx context.Context, projectPath, filter string) (*ExecResult, []string, error) {
	dir, err := t.sandbox.Resolve(projectPath)
	if err != nil {
		return nil, nil, err
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("stat project path: %w", err)
	}
	if !info.IsDir() {
		return nil, nil, fmt.Errorf("project path is not a directory: %s", projectPath)
	}
	argv, err := shellwords.Parse(t.testCommand)
	if err != nil {
		return nil, nil, fmt.Errorf("parse test command %q: %w", t.testCommand, err)
	}
	if len(argv) == 0 {
		return nil, nil, fmt.Errorf("empty test command")
	}
	if filter != "" {
		argv = append(argv, filter)
	}
	res, err := runCommand(ctx, dir, argv, t.timeout)
	if err != nil {
		return nil, nil, err
	}
	return res, argv, nil
}

// suiteResult formats an ExecResult for the model. A failing suite is an
// error result carrying the full output so the model can act on it.
func suiteResult(command string, res *ExecResult) *Result {
	payload := map[string]interface{}{
		"command":     command,
		"exit_code":   res.ExitCode,
		"passed":      res.ExitCode == 0 && !res.TimedOut,
		"timed_out":   res.TimedOut,
		"duration_ms": res.Duration.Milliseconds(),
		"stdout":      res.Stdout,
		"stderr":      res.Stderr,
	}
	out := JSONResult(payload)
	if res.TimedOut {
		out.IsError = true
		out.Code = CodeExecutionFailure
	} else if res.ExitCode != 0 {
		out.IsError = true
		out.Code = CodeExecutionFailure
	}
	return out
}
