// Package tools defines the capability contract for the agent and the
// registry that dispatches model-proposed calls to implementations.
package tools

import (
	"context"
)

// Tool represents a capability the agent can invoke during a turn. Tools
// receive the arguments the model produced, already parsed from JSON, and
// return a JSON-serializable result.
type Tool interface {
	// Name returns the unique identifier for this tool (e.g., "open_tab").
	Name() string

	// Description returns a human-readable description of what this tool
	// does, surfaced to the model in the tool definition.
	Description() string

	// Schema returns the JSON Schema object describing the tool's input
	// parameters.
	Schema() map[string]interface{}

	// Execute runs the tool. The input map holds the model's parsed
	// arguments. The returned value is serialized and sent back to the
	// model as the tool result.
	Execute(ctx context.Context, input map[string]interface{}) (interface{}, error)
}

// ConditionallyVisible is an optional interface tools implement when their
// availability depends on runtime state, such as a browser session being
// attached. Hidden tools are excluded from the definitions sent to the
// model but still dispatchable if named directly.
type ConditionallyVisible interface {
	ShouldShow() bool
}
