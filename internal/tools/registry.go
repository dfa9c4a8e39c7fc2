package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/ggurov/local-llm/internal/providers"
)

type registeredTool struct {
	tool   Tool
	schema *jsonschema.Schema
}

// Registry holds the tool set exposed to the model. Registration happens
// during startup, then Freeze makes the registry immutable; after that all
// reads are lock-free because nothing mutates.
type Registry struct {
	tools       map[string]*registeredTool
	frozen      bool
	callTimeout time.Duration
	logger      *slog.Logger
}

// NewRegistry returns an empty registry. callTimeout bounds every Execute
// call; zero means no registry-imposed deadline.
func NewRegistry(callTimeout time.Duration, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:       make(map[string]*registeredTool),
		callTimeout: callTimeout,
		logger:      logger,
	}
}

// Register adds a tool and compiles its parameter schema. Duplicate names
// and registration after Freeze are rejected.
func (r *Registry) Register(t Tool) error {
	if r.frozen {
		return fmt.Errorf("%w: %s", ErrRegistryFrozen, t.Name())
	}
	name := t.Name()
	if name == "" {
		return fmt.Errorf("register tool: empty name")
	}
	if _, ok := r.tools[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, name)
	}
	schema, err := compileSchema(name, t.Parameters())
	if err != nil {
		return fmt.Errorf("compile schema for %s: %w", name, err)
	}
	r.tools[name] = &registeredTool{tool: t, schema: schema}
	return nil
}

// Freeze closes the registry for registration. Call it once startup wiring
// is complete, before the first request is served.
func (r *Registry) Freeze() {
	r.frozen = true
}

// Lookup returns the tool for name.
func (r *Registry) Lookup(name string) (Tool, error) {
	rt, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return rt.tool, nil
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Specs renders the registry as provider tool definitions, sorted by name
// so the schema payload sent to the model is deterministic.
func (r *Registry) Specs() []providers.ToolDefinition {
	defs := make([]providers.ToolDefinition, 0, len(r.tools))
	for _, name := range r.Names() {
		rt := r.tools[name]
		defs = append(defs, providers.ToolDefinition{
			Type: "function",
			Function: providers.ToolFunctionSchema{
				Name:        name,
				Description: rt.tool.Description(),
				Parameters:  rt.tool.Parameters(),
			},
		})
	}
	return defs
}

// Execute validates args against the tool's schema and runs it under the
// registry timeout. Failures of any kind come back as an error Result, never
// as a panic or a bare error; the agent loop feeds results straight back to
// the model.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]interface{}) *Result {
	start := time.Now()
	rt, ok := r.tools[name]
	if !ok {
		return stamp(Errorf(CodeNotFound, "unknown tool: %s", name), start)
	}
	if err := validateArgs(rt.schema, args); err != nil {
		return stamp(Errorf(CodeValidation, "invalid arguments for %s: %v", name, err), start)
	}
	if r.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.callTimeout)
		defer cancel()
	}
	res := r.run(ctx, rt.tool, args)
	stamp(res, start)
	r.logger.Debug("tool executed",
		"tool", name,
		"is_error", res.IsError,
		"code", res.Code,
		"duration_ms", res.Duration.Milliseconds())
	return res
}

// run isolates the recover so a misbehaving executor cannot take down the
// request that invoked it.
func (r *Registry) run(ctx context.Context, t Tool, args map[string]interface{}) (res *Result) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("tool panicked", "tool", t.Name(), "panic", rec)
			res = Errorf(CodeInternal, "tool %s failed internally", t.Name())
		}
	}()
	res = t.Execute(ctx, args)
	if res == nil {
		res = Errorf(CodeInternal, "tool %s returned no result", t.Name())
	}
	return res
}

func stamp(res *Result, start time.Time) *Result {
	res.Duration = time.Since(start)
	return res
}

func compileSchema(name string, params map[string]interface{}) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	resource := name + ".schema.json"
	if err := compiler.AddResource(resource, doc); err != nil {
		return nil, err
	}
	return compiler.Compile(resource)
}

func validateArgs(schema *jsonschema.Schema, args map[string]interface{}) error {
	if args == nil {
		args = map[string]interface{}{}
	}
	// Round-trip through JSON so numeric types match what the validator
	// expects regardless of how the caller built the map.
	raw, err := json.Marshal(args)
	if err != nil {
		return err
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return err
	}
	return schema.Validate(doc)
}
