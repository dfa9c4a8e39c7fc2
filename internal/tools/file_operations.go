package tools

import (
	"context"
	"errors"
	"os"
	"path/filepath"
)

// maxReadBytes caps file reads since contents flow back into model context.
const maxReadBytes = 1 << 20

// FileOperationsTool exposes basic filesystem access inside the workspace
// sandbox: read, write, list and delete. Every operation resolves its path
// through the sandbox first and refuses anything that escapes.
type FileOperationsTool struct {
	sandbox *Sandbox
}

func NewFileOperationsTool(sandbox *Sandbox) *FileOperationsTool {
	return &FileOperationsTool{sandbox: sandbox}
}

func (t *FileOperationsTool) Name() string { return "file_operations" }

func (t *FileOperationsTool) Description() string {
	return "Read, write, list or delete files inside the workspace directory."
}

func (t *FileOperationsTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"operation": map[string]interface{}{
				"type":        "string",
				"enum":        []interface{}{"read", "write", "list", "delete"},
				"description": "Filesystem operation to perform.",
			},
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Path relative to the workspace root.",
			},
			"content": map[string]interface{}{
				"type":        "string",
				"description": "File content for the write operation.",
			},
		},
		"required":             []interface{}{"operation", "path"},
		"additionalProperties": false,
	}
}

func (t *FileOperationsTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	operation, _ := args["operation"].(string)
	path, _ := args["path"].(string)

	abs, err := t.sandbox.Resolve(path)
	if err != nil {
		if errors.Is(err, ErrSandboxViolation) {
			return Errorf(CodeSandboxViolation, "path outside workspace: %s", path)
		}
		return Errorf(CodeExecutionFailure, "resolve path: %v", err)
	}

	switch operation {
	case "read":
		return t.read(abs, path)
	case "write":
		content, ok := args["content"].(string)
		if !ok {
			return Errorf(CodeValidation, "write requires content")
		}
		return t.write(abs, path, content)
	case "list":
		return t.list(abs, path)
	case "delete":
		return t.remove(abs, path)
	default:
		return Errorf(CodeValidation, "unknown operation: %s", operation)
	}
}

func (t *FileOperationsTool) read(abs, path string) *Result {
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return Errorf(CodeNotFound, "no such file: %s", path)
		}
		return Errorf(CodeExecutionFailure, "stat %s: %v", path, err)
	}
	if info.IsDir() {
		return Errorf(CodeValidation, "%s is a directory, use list", path)
	}
	if info.Size() > maxReadBytes {
		return Errorf(CodeExecutionFailure, "%s is too large to read (%d bytes)", path, info.Size())
	}
	raw, err := os.ReadFile(abs)
	if err != nil {
		return Errorf(CodeExecutionFailure, "read %s: %v", path, err)
	}
	return JSONResult(map[string]interface{}{
		"path":    path,
		"size":    len(raw),
		"content": string(raw),
	})
}

func (t *FileOperationsTool) write(abs, path, content string) *Result {
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return Errorf(CodeExecutionFailure, "create parent directory: %v", err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return Errorf(CodeExecutionFailure, "write %s: %v", path, err)
	}
	return JSONResult(map[string]interface{}{
		"path":    path,
		"written": len(content),
	})
}

func (t *FileOperationsTool) list(abs, path string) *Result {
	entries, err := os.ReadDir(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return Errorf(CodeNotFound, "no such directory: %s", path)
		}
		return Errorf(CodeExecutionFailure, "list %s: %v", path, err)
	}
	files := make([]map[string]interface{}, 0, len(entries))
	for _, e := range entries {
		item := map[string]interface{}{
			"name":   e.Name(),
			"is_dir": e.IsDir(),
		}
		if info, err := e.Info(); err == nil && !e.IsDir() {
			item["size"] = info.Size()
		}
		files = append(files, item)
	}
	return JSONResult(map[string]interface{}{
		"path":  path,
		"files": files,
		"count": len(files),
	})
}

func (t *FileOperationsTool) remove(abs, path string) *Result {
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return Errorf(CodeNotFound, "no such file: %s", path)
		}
		return Errorf(CodeExecutionFailure, "stat %s: %v", path, err)
	}
	if info.IsDir() {
		return Errorf(CodeValidation, "%s is a directory, refusing to delete", path)
	}
	if err := os.Remove(abs); err != nil {
		return Errorf(CodeExecutionFailure, "delete %s: %v", path, err)
	}
	return JSONResult(map[string]interface{}{
		"path":    path,
		"deleted": true,
	})
}
