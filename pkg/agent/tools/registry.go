package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/kelvincushman/browserclaw/pkg/llm"
)

// Registry holds the tools available to the agent. It is safe for
// concurrent use; tools may be registered while a turn is in flight and
// become visible on the next model call.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool, replacing any existing tool with the same name.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Definitions returns the definitions of all visible tools for the model
// request, in stable (registration-independent, name-sorted) order.
func (r *Registry) Definitions() []llm.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]llm.ToolDefinition, 0, len(r.tools))
	for _, tool := range r.tools {
		if cv, ok := tool.(ConditionallyVisible); ok && !cv.ShouldShow() {
			continue
		}
		defs = append(defs, llm.ToolDefinition{
			Name:        tool.Name(),
			Description: tool.Description(),
			Parameters:  tool.Schema(),
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Invoke dispatches a call to the named tool. Unknown tool names return an
// error rather than panicking so the model's mistake flows back as a tool
// result it can correct.
func (r *Registry) Invoke(ctx context.Context, name string, input map[string]interface{}) (interface{}, error) {
	tool, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
	return tool.Execute(ctx, input)
}
