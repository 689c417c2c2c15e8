package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// ToolSpec represents the static specification of a tool (name, description,
// parameters). Specs are immutable and can be shared across registries; the
// executor carries the runtime dependencies.
type ToolSpec interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
}

// ToolExecutor handles the actual execution of a tool with specific runtime dependencies.
type ToolExecutor interface {
	Execute(ctx context.Context, params map[string]interface{}) *ToolResult
}

// Tool combines ToolSpec and ToolExecutor for tools without injected dependencies.
type Tool interface {
	ToolSpec
	ToolExecutor
}

// ToolFactory creates tool executors with specific runtime dependencies.
// The factory receives the registry so tools can reach other registered tools.
type ToolFactory func(registry *Registry) ToolExecutor

// ToolCall represents a tool call from the LLM
type ToolCall struct {
	ID         string                 `json:"id"`
	Name       string                 `json:"name"`
	Parameters map[string]interface{} `json:"parameters"`
}

// ToolResult represents the result of a tool execution
type ToolResult struct {
	ID     string      `json:"id"`
	Result interface{} `json:"result"`
	Error  string      `json:"error,omitempty"`

	// TaskComplete marks the dispatch loop as finished. Set by tools whose
	// invocation means the model considers its work done.
	TaskComplete bool `json:"task_complete,omitempty"`
}

type registryEntry struct {
	spec     ToolSpec
	executor ToolExecutor
}

// Registry manages available tools. Safe for concurrent use so parallel
// sessions can share one registry.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*registryEntry
}

// NewRegistry creates a new tool registry
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*registryEntry),
	}
}

// Register adds a self-contained tool to the registry
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[tool.Name()] = &registryEntry{spec: tool, executor: tool}
}

// RegisterSpec adds a tool spec with a factory to the registry
func (r *Registry) RegisterSpec(spec ToolSpec, factory ToolFactory) {
	executor := factory(r)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[spec.Name()] = &registryEntry{spec: spec, executor: executor}
}

// GetExecutor retrieves a tool executor by name
func (r *Registry) GetExecutor(name string) (ToolExecutor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return entry.executor, true
}

// ListSpecs returns all registered tool specs, sorted by name.
func (r *Registry) ListSpecs() []ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]ToolSpec, 0, len(r.entries))
	for _, entry := range r.entries {
		result = append(result, entry.spec)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Name() < result[j].Name()
	})
	return result
}

// Execute executes a tool call. Unknown tools, nil results, and panicking
// executors all come back as structured errors rather than Go errors so the
// model can react to them.
func (r *Registry) Execute(ctx context.Context, call *ToolCall) (result *ToolResult) {
	executor, ok := r.GetExecutor(call.Name)
	if !ok {
		return &ToolResult{
			ID:    call.ID,
			Error: "tool not found: " + call.Name,
		}
	}

	defer func() {
		if rec := recover(); rec != nil {
			result = &ToolResult{
				ID:    call.ID,
				Error: fmt.Sprintf("tool %s panicked: %v", call.Name, rec),
			}
		}
	}()

	result = executor.Execute(ctx, call.Parameters)
	if result == nil {
		return &ToolResult{
			ID:    call.ID,
			Error: "tool returned nil result",
		}
	}

	result.ID = call.ID
	return result
}

// ToJSONSchema converts tools to JSON schema format for LLM
func (r *Registry) ToJSONSchema() []map[string]interface{} {
	specs := r.ListSpecs()
	schemas := make([]map[string]interface{}, 0, len(specs))
	for _, spec := range specs {
		schemas = append(schemas, map[string]interface{}{
			"type": "function",
			"function": map[string]interface{}{
				"name":        spec.Name(),
				"description": spec.Description(),
				"parameters":  spec.Parameters(),
			},
		})
	}
	return schemas
}

// GetStringParam returns a string parameter or the default.
func GetStringParam(params map[string]interface{}, key string, defaultVal string) string {
	if val, ok := params[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return defaultVal
}

// GetIntParam returns an int parameter or the default.
func GetIntParam(params map[string]interface{}, key string, defaultVal int) int {
	if val, ok := params[key]; ok {
		switch v := val.(type) {
		case int:
			return v
		case float64:
			return int(v)
		case json.Number:
			if i, err := v.Int64(); err == nil {
				return int(i)
			}
		}
	}
	return defaultVal
}

// GetBoolParam returns a bool parameter or the default.
func GetBoolParam(params map[string]interface{}, key string, defaultVal bool) bool {
	if val, ok := params[key]; ok {
		if b, ok := val.(bool); ok {
			return b
		}
	}
	return defaultVal
}
