package tools

import "errors"

// Error codes attached to tool Results. The API layer passes them through so
// callers can distinguish recoverable failure classes without string matching.
const (
	CodeValidation       = "VALIDATION"
	CodeSandboxViolation = "SANDBOX_VIOLATION"
	CodeNotFound         = "NOT_FOUND"
	CodeExecutionFailure = "EXECUTION_FAILURE"
	CodeInternal         = "INTERNAL"
)

var (
	// ErrDuplicateTool is returned by Registry.Register on a name collision.
	ErrDuplicateTool = errors.New("tool already registered")

	// ErrRegistryFrozen is returned when registering after startup completes.
	ErrRegistryFrozen = errors.New("registry is frozen")

	// ErrToolNotFound is returned by Registry.Lookup for unknown names.
	ErrToolNotFound = errors.New("tool not found")

	// ErrSandboxViolation marks a path that resolves outside its sandbox root.
	ErrSandboxViolation = errors.New("path escapes sandbox root")
)
