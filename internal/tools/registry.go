package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"codeframe/internal/llm"
	"codeframe/internal/shared/logging"
)

// Registry holds the tool set for an engine and validates arguments against
// each tool's JSON schema before execution.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema
	logger  logging.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(logger logging.Logger) *Registry {
	return &Registry{
		tools:   map[string]Tool{},
		schemas: map[string]*jsonschema.Schema{},
		logger:  logging.OrNop(logger),
	}
}

// Register adds a tool, compiling its parameter schema.
func (r *Registry) Register(t Tool) error {
	def := t.Definition()
	schema, err := compileSchema(def.Parameters)
	if err != nil {
		return fmt.Errorf("tool %s: %w", def.Name, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("tool %s already registered", def.Name)
	}
	r.tools[def.Name] = t
	r.schemas[def.Name] = schema
	return nil
}

// MustRegister panics on registration failure; used at wiring time where a
// bad schema is a programming error.
func (r *Registry) MustRegister(ts ...Tool) {
	for _, t := range ts {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
}

// Definitions lists all tool definitions, sorted by name for prompt
// stability.
func (r *Registry) Definitions() []llm.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]llm.ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t.Definition())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Execute parses and validates the raw JSON arguments of a tool call, then
// runs the tool. Unknown tools and invalid arguments come back as error
// observations for the model, never as engine failures.
func (r *Registry) Execute(ctx context.Context, call llm.ToolCall) *Result {
	r.mu.RLock()
	tool, ok := r.tools[call.Name]
	schema := r.schemas[call.Name]
	r.mu.RUnlock()
	if !ok {
		return errResult(fmt.Errorf("unknown tool %q", call.Name))
	}

	args := map[string]any{}
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return errResult(fmt.Errorf("tool %s: arguments are not valid JSON: %v", call.Name, err))
		}
	}
	if schema != nil {
		if err := schema.Validate(anyMap(args)); err != nil {
			return errResult(fmt.Errorf("tool %s: invalid arguments: %v", call.Name, err))
		}
	}

	r.logger.Debug("tools: executing %s", call.Name)
	return tool.Execute(ctx, args)
}

func compileSchema(params map[string]any) (*jsonschema.Schema, error) {
	if params == nil {
		return nil, nil
	}
	// Round-trip through JSON so the compiler sees canonical types.
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := c.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

// anyMap re-types map[string]any into the any the validator expects.
func anyMap(m map[string]any) any { return m }

// objectSchema is a convenience builder for the common flat tool schema.
func objectSchema(required []string, props map[string]any) map[string]any {
	s := map[string]any{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func strProp(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

func boolProp(description string) map[string]any {
	return map[string]any{"type": "boolean", "description": description}
}

func intProp(description string) map[string]any {
	return map[string]any{"type": "integer", "description": description}
}
