package tools

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Sandbox confines file access to a single directory tree. Every executor
// that touches the filesystem resolves paths through a Sandbox; a path that
// escapes the root, whether by "..", absolute prefix, or symlink, is refused
// before any I/O happens.
type Sandbox struct {
	root string
}

// NewSandbox creates the root directory if needed and canonicalizes it so
// later prefix checks compare resolved paths.
func NewSandbox(root string) (*Sandbox, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve sandbox root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create sandbox root: %w", err)
	}
	canon, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("canonicalize sandbox root: %w", err)
	}
	return &Sandbox{root: canon}, nil
}

// Root returns the canonical sandbox root.
func (s *Sandbox) Root() string {
	return s.root
}

// Resolve maps a caller-supplied path to an absolute path under the root.
// Relative paths are joined to the root; absolute paths are accepted only
// when already inside it. Symlinks along the existing portion of the path
// are resolved so a link pointing outside cannot smuggle access.
func (s *Sandbox) Resolve(p string) (string, error) {
	if p == "" {
		p = "."
	}
	var abs string
	if filepath.IsAbs(p) {
		abs = filepath.Clean(p)
	} else {
		abs = filepath.Join(s.root, p)
	}
	if !s.contains(abs) {
		return "", fmt.Errorf("%w: %s", ErrSandboxViolation, p)
	}
	canon, err := s.canonicalize(abs)
	if err != nil {
		return "", err
	}
	if !s.contains(canon) {
		return "", fmt.Errorf("%w: %s", ErrSandboxViolation, p)
	}
	return canon, nil
}

// canonicalize resolves symlinks on the deepest existing ancestor and
// reattaches the not-yet-created remainder.
func (s *Sandbox) canonicalize(abs string) (string, error) {
	existing := abs
	var tail []string
	for {
		resolved, err := filepath.EvalSymlinks(existing)
		if err == nil {
			if len(tail) == 0 {
				return resolved, nil
			}
			parts := append([]string{resolved}, tail...)
			return filepath.Join(parts...), nil
		}
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("resolve path: %w", err)
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			return "", fmt.Errorf("%w: %s", ErrSandboxViolation, abs)
		}
		tail = append([]string{filepath.Base(existing)}, tail...)
		existing = parent
	}
}

func (s *Sandbox) contains(abs string) bool {
	if abs == s.root {
		return true
	}
	return strings.HasPrefix(abs, s.root+string(filepath.Separator))
}

// Rel returns abs relative to the root for display in results, falling back
// to the input when it cannot be relativized.
func (s *Sandbox) Rel(abs string) string {
	rel, err := filepath.Rel(s.root, abs)
	if err != nil {
		return abs
	}
	return rel
}
