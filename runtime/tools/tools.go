// Package tools implements the tool registry the reasoning graph invokes
// tools through. Collaborators register tools at startup; each tool exposes a
// unique name, a JSON Schema for its arguments and an invoke function. The
// registry compiles schemas at registration time and validates arguments
// before every invocation, so malformed model output surfaces as tool-turn
// error content rather than a runtime failure.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/quadracode/quadracode/runtime/model"
)

// ErrUnknownTool is returned by Invoke when no tool is registered under the
// requested name. The graph turns it into an "error: unknown tool" turn and
// keeps the loop running.
var ErrUnknownTool = errors.New("unknown tool")

type (
	// Tool is one registered capability. The core does not interpret tool
	// semantics; it only validates arguments and relays content.
	Tool struct {
		// Name uniquely identifies the tool within the registry.
		Name string
		// Description documents the tool for the model.
		Description string
		// InputSchema is the JSON Schema object for the tool's arguments.
		// Nil means any arguments are accepted.
		InputSchema map[string]any
		// Invoke runs the tool and returns its content. Errors surface as
		// tool-turn error content.
		Invoke func(ctx context.Context, args json.RawMessage) (string, error)
	}

	// Registry holds the ambient tool set. Safe for concurrent use.
	Registry struct {
		mu      sync.RWMutex
		tools   map[string]Tool
		schemas map[string]*jsonschema.Schema
	}
)

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
	}
}

// Register adds a tool to the registry. It fails when the name is empty or
// already taken, when Invoke is nil, or when the input schema does not
// compile.
func (r *Registry) Register(tool Tool) error {
	if tool.Name == "" {
		return errors.New("tool name is required")
	}
	if tool.Invoke == nil {
		return fmt.Errorf("tool %q: invoke function is required", tool.Name)
	}
	var schema *jsonschema.Schema
	if tool.InputSchema != nil {
		compiled, err := compileSchema(tool.Name, tool.InputSchema)
		if err != nil {
			return fmt.Errorf("tool %q: %w", tool.Name, err)
		}
		schema = compiled
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name]; exists {
		return fmt.Errorf("tool %q: already registered", tool.Name)
	}
	r.tools[tool.Name] = tool
	if schema != nil {
		r.schemas[tool.Name] = schema
	}
	return nil
}

// Invoke validates args against the tool's schema and runs it. Unknown names
// fail with ErrUnknownTool; validation failures and tool errors are returned
// as ordinary errors for the caller to surface as tool-turn content.
func (r *Registry) Invoke(ctx context.Context, name string, args json.RawMessage) (string, error) {
	r.mu.RLock()
	tool, ok := r.tools[name]
	schema := r.schemas[name]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	if schema != nil {
		if err := validateArgs(schema, args); err != nil {
			return "", fmt.Errorf("invalid arguments for %s: %w", name, err)
		}
	}
	return tool.Invoke(ctx, args)
}

// Definitions returns the tool schemas in name order, ready to pass to a
// model request.
func (r *Registry) Definitions() []model.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]model.ToolDefinition, 0, len(r.tools))
	for _, tool := range r.tools {
		defs = append(defs, model.ToolDefinition{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Len reports the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

func compileSchema(name string, doc map[string]any) (*jsonschema.Schema, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	resource, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	url := name + ".schema.json"
	if err := c.AddResource(url, resource); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

func validateArgs(schema *jsonschema.Schema, args json.RawMessage) error {
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	value, err := jsonschema.UnmarshalJSON(bytes.NewReader(args))
	if err != nil {
		return fmt.Errorf("decode arguments: %w", err)
	}
	return schema.Validate(value)
}
