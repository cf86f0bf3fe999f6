// Package tools implements the tool registry: named handlers with JSON
// parameter schemas, callable by the model during an agent turn. Handlers
// return strings and never raise to the caller; every dispatch emits a
// tool:start / tool:end event pair on the bus.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/OGODEVO/studious-system/pkg/events"
	"github.com/OGODEVO/studious-system/pkg/llm"
)

// Handler executes one tool invocation. Returned errors are mapped to
// "Error executing <tool>: <msg>" result strings by the registry.
type Handler func(ctx context.Context, args map[string]any) (string, error)

// Spec declares one tool at registry construction time.
type Spec struct {
	Name        string
	Description string
	// Schema is the JSON-schema for the arguments object.
	Schema json.RawMessage
	// Label renders the human label for tool:start events. Optional;
	// falls back to "Using <name>".
	Label func(args map[string]any) string
	// Handler runs the tool.
	Handler Handler
}

type compiledTool struct {
	spec   Spec
	schema *jsonschema.Schema
}

// Registry holds the immutable post-startup tool table.
type Registry struct {
	bus   *events.Bus
	tools map[string]*compiledTool
	order []string
}

// NewRegistry compiles every spec's schema and builds the registry.
// Duplicate names and invalid schemas are construction errors.
func NewRegistry(bus *events.Bus, specs ...Spec) (*Registry, error) {
	r := &Registry{
		bus:   bus,
		tools: make(map[string]*compiledTool, len(specs)),
	}
	for _, spec := range specs {
		if spec.Name == "" || spec.Handler == nil {
			return nil, fmt.Errorf("tools: spec requires name and handler")
		}
		if _, dup := r.tools[spec.Name]; dup {
			return nil, fmt.Errorf("tools: duplicate tool %q", spec.Name)
		}
		schemaJSON := spec.Schema
		if len(schemaJSON) == 0 {
			schemaJSON = json.RawMessage(`{"type":"object"}`)
			spec.Schema = schemaJSON
		}
		compiler := jsonschema.NewCompiler()
		url := spec.Name + ".schema.json"
		if err := compiler.AddResource(url, strings.NewReader(string(schemaJSON))); err != nil {
			return nil, fmt.Errorf("tools: schema for %s: %w", spec.Name, err)
		}
		schema, err := compiler.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("tools: schema for %s: %w", spec.Name, err)
		}
		r.tools[spec.Name] = &compiledTool{spec: spec, schema: schema}
		r.order = append(r.order, spec.Name)
	}
	return r, nil
}

// Has reports whether the named tool is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.tools[name]
	return ok
}

// Names returns the tool names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Definitions returns the tool table in the LLM request shape.
func (r *Registry) Definitions() []llm.ToolDefinition {
	defs := make([]llm.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		defs = append(defs, llm.ToolDefinition{
			Name:        t.spec.Name,
			Description: t.spec.Description,
			Parameters:  t.spec.Schema,
		})
	}
	return defs
}

// Execute dispatches a model-issued tool call. rawArgs is the concatenated
// argument JSON from the stream; empty means no arguments.
func (r *Registry) Execute(ctx context.Context, name, rawArgs string) string {
	t, ok := r.tools[name]
	if !ok {
		return "Unknown tool: " + name
	}
	args, err := parseArgs(rawArgs)
	if err != nil {
		return fmt.Sprintf("Error executing %s: %v", name, err)
	}
	return r.run(ctx, t, args)
}

// ExecuteArgs dispatches with pre-parsed arguments. Used by the
// deterministic router and the integrity guards.
func (r *Registry) ExecuteArgs(ctx context.Context, name string, args map[string]any) string {
	t, ok := r.tools[name]
	if !ok {
		return "Unknown tool: " + name
	}
	if args == nil {
		args = map[string]any{}
	}
	return r.run(ctx, t, args)
}

func (r *Registry) run(ctx context.Context, t *compiledTool, args map[string]any) string {
	name := t.spec.Name
	if err := t.schema.Validate(toAnyMap(args)); err != nil {
		return fmt.Sprintf("Error executing %s: invalid arguments: %v", name, err)
	}

	r.bus.PublishToolStart(name, args, r.label(t, args))
	start := time.Now()
	output := r.invoke(ctx, t, args)
	r.bus.PublishToolEnd(name, time.Since(start), !strings.HasPrefix(output, "Error"), output)
	return output
}

// invoke runs the handler, converting errors and panics into result strings.
func (r *Registry) invoke(ctx context.Context, t *compiledTool, args map[string]any) (output string) {
	defer func() {
		if rec := recover(); rec != nil {
			output = fmt.Sprintf("Error executing %s: panic: %v", t.spec.Name, rec)
		}
	}()
	out, err := t.spec.Handler(ctx, args)
	if err != nil {
		return fmt.Sprintf("Error executing %s: %v", t.spec.Name, err)
	}
	return out
}

func (r *Registry) label(t *compiledTool, args map[string]any) string {
	if t.spec.Label != nil {
		return t.spec.Label(args)
	}
	return "Using " + t.spec.Name
}

func parseArgs(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("invalid arguments JSON: %w", err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

// toAnyMap re-types the args for the schema validator, which expects the
// generic decode shape (map[string]interface{} values all the way down —
// already guaranteed by json.Unmarshal into map[string]any).
func toAnyMap(args map[string]any) any {
	out := make(map[string]interface{}, len(args))
	for k, v := range args {
		out[k] = v
	}
	return out
}

// StringArg reads an optional string argument.
func StringArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

// NumberArg reads an optional numeric argument (JSON numbers decode as
// float64), returning def when absent.
func NumberArg(args map[string]any, key string, def float64) float64 {
	if v, ok := args[key].(float64); ok {
		return v
	}
	return def
}
