package tools

import (
	"context"
	"errors"
	"os"
	"strings"
)

// ApplyPatchTool applies a unified diff to a file under the project root,
// then verifies the change by running the test suite. If the tests fail or
// cannot run, the original file content is restored before the result is
// returned, so a failed patch leaves the tree exactly as it was.
type ApplyPatchTool struct {
	sandbox *Sandbox
	tests   *RunTestsTool
}

func NewApplyPatchTool(sandbox *Sandbox, tests *RunTestsTool) *ApplyPatchTool {
	return &ApplyPatchTool{sandbox: sandbox, tests: tests}
}

func (t *ApplyPatchTool) Name() string { return "apply_patch" }

func (t *ApplyPatchTool) Description() string {
	return "Apply a unified diff to a file, run the test suite, and roll the file back if the tests fail."
}

func (t *ApplyPatchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "File under the project root to patch.",
			},
			"patch": map[string]interface{}{
				"type":        "string",
				"description": "Unified diff to apply to the file.",
			},
		},
		"required":             []interface{}{"path", "patch"},
		"additionalProperties": false,
	}
}

func (t *ApplyPatchTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	path, _ := args["path"].(string)
	patch, _ := args["patch"].(string)

	abs, err := t.sandbox.Resolve(path)
	if err != nil {
		if errors.Is(err, ErrSandboxViolation) {
			return Errorf(CodeSandboxViolation, "path outside project root: %s", path)
		}
		return Errorf(CodeExecutionFailure, "resolve path: %v", err)
	}
	original, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return Errorf(CodeNotFound, "no such file: %s", path)
		}
		return Errorf(CodeExecutionFailure, "read %s: %v", path, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return Errorf(CodeExecutionFailure, "stat %s: %v", path, err)
	}

	patched, err := applyUnifiedDiff(string(original), patch)
	if err != nil {
		return Errorf(patchErrorCode(err), "apply patch to %s: %v", path, err)
	}
	if err := os.WriteFile(abs, []byte(patched), info.Mode().Perm()); err != nil {
		return Errorf(CodeExecutionFailure, "write %s: %v", path, err)
	}

	res, argv, err := t.tests.runSuite(ctx, "", "")
	if err != nil {
		t.rollback(abs, original, info.Mode().Perm())
		return Errorf(CodeExecutionFailure, "verification run failed, patch rolled back: %v", err)
	}
	if res.ExitCode != 0 || res.TimedOut {
		t.rollback(abs, original, info.Mode().Perm())
		out := JSONResult(map[string]interface{}{
			"applied":     false,
			"rolled_back": true,
			"command":     strings.Join(argv, " "),
			"exit_code":   res.ExitCode,
			"timed_out":   res.TimedOut,
			"stdout":      res.Stdout,
			"stderr":      res.Stderr,
		})
		out.IsError = true
		out.Code = CodeExecutionFailure
		return out
	}
	return JSONResult(map[string]interface{}{
		"applied":      true,
		"path":         path,
		"tests_passed": true,
		"command":      strings.Join(argv, " "),
	})
}

func (t *ApplyPatchTool) rollback(abs string, original []byte, mode os.FileMode) {
	// Restore failures would leave a patched file behind; retry once.
	if err := os.WriteFile(abs, original, mode); err != nil {
		_ = os.WriteFile(abs, original, mode)
	}
}

// patchErrorCode maps diff parse errors to VALIDATION and everything else
// to EXECUTION_FAILURE.
func patchErrorCode(err error) string {
	msg := err.Error()
	if strings.Contains(msg, "malformed") || strings.Contains(msg, "mismatch") {
		return CodeValidation
	}
	return CodeExecutionFailure
}
