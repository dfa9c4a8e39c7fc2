package tools

import "context"

// Tool is a single callable capability exposed to the model. Parameters
// returns a JSON Schema object describing the arguments; the registry
// compiles it once at registration and validates every call against it,
// so Execute can trust the shape of args.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) *Result
}
