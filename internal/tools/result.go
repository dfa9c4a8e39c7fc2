package tools

import (
	"encoding/json"
	"fmt"
	"time"
)

// Result is the outcome of one tool call. Content holds the payload the
// model sees: a JSON document on success, a human-readable description on
// error. The registry fills in ToolCallID and Duration.
type Result struct {
	ToolCallID string        `json:"tool_call_id,omitempty"`
	Content    string        `json:"content"`
	IsError    bool          `json:"is_error"`
	Code       string        `json:"code,omitempty"`
	Duration   time.Duration `json:"-"`
}

// JSONResult marshals v into a success result. Marshal failures degrade to
// an internal error result rather than panicking mid-call.
func JSONResult(v interface{}) *Result {
	b, err := json.Marshal(v)
	if err != nil {
		return ErrorResult(CodeInternal, fmt.Sprintf("encode result: %v", err))
	}
	return &Result{Content: string(b)}
}

// TextResult wraps plain text in a success result.
func TextResult(s string) *Result {
	return &Result{Content: s}
}

// ErrorResult builds a failed result with a taxonomy code.
func ErrorResult(code, msg string) *Result {
	return &Result{Content: msg, IsError: true, Code: code}
}

// Errorf is ErrorResult with formatting.
func Errorf(code, format string, args ...interface{}) *Result {
	return ErrorResult(code, fmt.Sprintf(format, args...))
}
