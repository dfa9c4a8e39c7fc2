package tools

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

const (
	maxLogScanBytes = 32 << 20
	maxLogMatches   = 200
	maxLogLineLen   = 512
)

// SearchLogsTool scans log files under a dedicated log directory for lines
// matching a regular expression. Scanning is bounded in both bytes read and
// matches returned so a pathological pattern cannot hold a request open.
type SearchLogsTool struct {
	sandbox *Sandbox
}

func NewSearchLogsTool(sandbox *Sandbox) *SearchLogsTool {
	return &SearchLogsTool{sandbox: sandbox}
}

func (t *SearchLogsTool) Name() string { return "search_logs" }

func (t *SearchLogsTool) Description() string {
	return "Search log files for lines matching a regular expression. Returns matching lines with file and line number."
}

func (t *SearchLogsTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"pattern": map[string]interface{}{
				"type":        "string",
				"description": "Regular expression to match against log lines.",
			},
			"path": map[string]interface{}{
				"type":        "string",
				"description": "File or directory under the log root to search. Defaults to the whole log root.",
			},
		},
		"required":             []interface{}{"pattern"},
		"additionalProperties": false,
	}
}

type logMatch struct {
	File string `json:"file"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

func (t *SearchLogsTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	pattern, _ := args["pattern"].(string)
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Errorf(CodeValidation, "invalid pattern: %v", err)
	}
	subpath, _ := args["path"].(string)
	root, err := t.sandbox.Resolve(subpath)
	if err != nil {
		if errors.Is(err, ErrSandboxViolation) {
			return Errorf(CodeSandboxViolation, "path outside log root: %s", subpath)
		}
		return Errorf(CodeExecutionFailure, "resolve path: %v", err)
	}

	var (
		matches     []logMatch
		scannedByte int64
		truncated   bool
	)
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		done, err := t.scanFile(path, re, &matches, &scannedByte)
		if err != nil {
			return err
		}
		if done {
			truncated = true
			return fs.SkipAll
		}
		return nil
	})
	if walkErr != nil {
		if errors.Is(walkErr, os.ErrNotExist) {
			return Errorf(CodeNotFound, "no such log path: %s", subpath)
		}
		if errors.Is(walkErr, context.DeadlineExceeded) || errors.Is(walkErr, context.Canceled) {
			return Errorf(CodeExecutionFailure, "log search cancelled: %v", walkErr)
		}
		return Errorf(CodeExecutionFailure, "scan logs: %v", walkErr)
	}
	return JSONResult(map[string]interface{}{
		"pattern":       pattern,
		"matches":       matches,
		"total_matches": len(matches),
		"truncated":     truncated,
	})
}

// scanFile appends matches from one file, enforcing the global byte and
// match budgets. It reports done=true once either budget is exhausted.
func (t *SearchLogsTool) scanFile(path string, re *regexp.Regexp, matches *[]logMatch, scanned *int64) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64<<10), 1<<20)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		*scanned += int64(len(line)) + 1
		if re.MatchString(line) {
			text := strings.TrimRight(line, "\r\n")
			if len(text) > maxLogLineLen {
				text = text[:maxLogLineLen] + "..."
			}
			*matches = append(*matches, logMatch{
				File: t.sandbox.Rel(path),
				Line: lineNo,
				Text: text,
			})
			if len(*matches) >= maxLogMatches {
				return true, nil
			}
		}
		if *scanned >= maxLogScanBytes {
			return true, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return false, fmt.Errorf("scan %s: %w", path, err)
	}
	return false, nil
}
