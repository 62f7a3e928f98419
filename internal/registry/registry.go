// Package registry holds the three name/URI-keyed maps from descriptor
// to handler callback that back tools/list, resources/list, and
// prompts/get dispatch. Registration is last-write-wins; enumeration
// order is registration order but callers must not rely on it being
// stable across registers of the same key.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/HyphaGroup/mcpcore/internal/protocol"
)

// CallContext is the subset of the operation manager's per-call context
// a handler needs: identity for logging, and cooperative cancellation.
// It is satisfied by the engine's concrete invocation context without
// this package importing the operation or session packages.
type CallContext interface {
	SessionID() string
	OperationID() string
	IsCancelled() bool
	Progress(progress float64, message string)
}

// ToolHandler handles a tools/call invocation with raw JSON arguments.
type ToolHandler func(ctx context.Context, cc CallContext, arguments json.RawMessage) (*protocol.CallToolResult, error)

// ResourceHandler handles a resources/read invocation.
type ResourceHandler func(ctx context.Context, cc CallContext, uri string, params map[string]any) (*protocol.ReadResourceResult, error)

// PromptHandler handles a prompts/get invocation.
type PromptHandler func(ctx context.Context, cc CallContext, arguments map[string]any) (*protocol.PromptResult, error)

// ToolRegistry maps tool name to descriptor and handler.
type ToolRegistry struct {
	mu       sync.RWMutex
	tools    map[string]protocol.ToolDescriptor
	handlers map[string]ToolHandler
	order    []string
}

// NewToolRegistry creates an empty tool registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools:    make(map[string]protocol.ToolDescriptor),
		handlers: make(map[string]ToolHandler),
	}
}

// Register adds a tool under def.Name, generating its input schema from
// P by reflection when def.InputSchema is nil. Re-registering an
// existing name overwrites it in place (order is not reshuffled).
func Register[P any](r *ToolRegistry, def protocol.ToolDescriptor, handler func(ctx context.Context, cc CallContext, params P) (*protocol.CallToolResult, error)) {
	if def.InputSchema == nil {
		def.InputSchema = GenerateSchema[P]()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[def.Name]; !exists {
		r.order = append(r.order, def.Name)
	}
	r.tools[def.Name] = def
	r.handlers[def.Name] = wrapToolHandler(handler)
}

// RegisterRaw adds a tool with a pre-built descriptor and a handler that
// receives raw JSON arguments, bypassing schema generation.
func (r *ToolRegistry) RegisterRaw(def protocol.ToolDescriptor, handler ToolHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[def.Name]; !exists {
		r.order = append(r.order, def.Name)
	}
	r.tools[def.Name] = def
	r.handlers[def.Name] = handler
}

// Lookup returns the handler registered for name, if any.
func (r *ToolRegistry) Lookup(name string) (ToolHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// List returns all registered tool descriptors. Order matches
// registration order but is not a stability guarantee per spec.
func (r *ToolRegistry) List() []protocol.ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]protocol.ToolDescriptor, 0, len(r.order))
	for _, name := range r.order {
		if def, ok := r.tools[name]; ok {
			out = append(out, def)
		}
	}
	return out
}

func wrapToolHandler[P any](handler func(ctx context.Context, cc CallContext, params P) (*protocol.CallToolResult, error)) ToolHandler {
	return func(ctx context.Context, cc CallContext, arguments json.RawMessage) (*protocol.CallToolResult, error) {
		var params P
		if len(arguments) > 0 {
			if err := json.Unmarshal(arguments, &params); err != nil {
				return nil, fmt.Errorf("invalid arguments: %w", err)
			}
		}
		return handler(ctx, cc, params)
	}
}

// ResourceRegistry maps resource URI to descriptor and handler.
type ResourceRegistry struct {
	mu        sync.RWMutex
	resources map[string]protocol.ResourceDescriptor
	handlers  map[string]ResourceHandler
	order     []string
}

// NewResourceRegistry creates an empty resource registry.
func NewResourceRegistry() *ResourceRegistry {
	return &ResourceRegistry{
		resources: make(map[string]protocol.ResourceDescriptor),
		handlers:  make(map[string]ResourceHandler),
	}
}

// Register adds a resource under def.URI.
func (r *ResourceRegistry) Register(def protocol.ResourceDescriptor, handler ResourceHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.resources[def.URI]; !exists {
		r.order = append(r.order, def.URI)
	}
	r.resources[def.URI] = def
	r.handlers[def.URI] = handler
}

// Lookup returns the handler registered for uri, if any. Lookup is by
// exact match; URI templates are not implemented.
func (r *ResourceRegistry) Lookup(uri string) (ResourceHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[uri]
	return h, ok
}

// List returns all registered resource descriptors.
func (r *ResourceRegistry) List() []protocol.ResourceDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]protocol.ResourceDescriptor, 0, len(r.order))
	for _, uri := range r.order {
		if def, ok := r.resources[uri]; ok {
			out = append(out, def)
		}
	}
	return out
}

// PromptRegistry maps prompt name to descriptor and handler.
type PromptRegistry struct {
	mu       sync.RWMutex
	prompts  map[string]protocol.PromptDescriptor
	handlers map[string]PromptHandler
	order    []string
}

// NewPromptRegistry creates an empty prompt registry.
func NewPromptRegistry() *PromptRegistry {
	return &PromptRegistry{
		prompts:  make(map[string]protocol.PromptDescriptor),
		handlers: make(map[string]PromptHandler),
	}
}

// Register adds a prompt under def.Name.
func (r *PromptRegistry) Register(def protocol.PromptDescriptor, handler PromptHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.prompts[def.Name]; !exists {
		r.order = append(r.order, def.Name)
	}
	r.prompts[def.Name] = def
	r.handlers[def.Name] = handler
}

// Lookup returns the handler registered for name, if any.
func (r *PromptRegistry) Lookup(name string) (PromptHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// List returns all registered prompt descriptors.
func (r *PromptRegistry) List() []protocol.PromptDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]protocol.PromptDescriptor, 0, len(r.order))
	for _, name := range r.order {
		if def, ok := r.prompts[name]; ok {
			out = append(out, def)
		}
	}
	return out
}

// GenerateSchema builds a JSON-Schema object describing P by reflecting
// over its exported fields and `json`/`jsonschema` tags, via
// google/jsonschema-go's struct inference. The resulting *jsonschema.Schema
// is round-tripped through JSON into a map so ToolDescriptor.InputSchema
// stays a plain wire-shaped value regardless of which schema library
// produced it.
func GenerateSchema[P any]() map[string]any {
	schema, err := jsonschema.For[P]()
	if err != nil {
		return map[string]any{"type": "object"}
	}

	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}

	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]any{"type": "object"}
	}
	return out
}
