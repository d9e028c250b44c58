// Package llm provides abstractions for LLM provider integration.
//
// Providers handle API communication with the model endpoint and return
// simple StreamChunk instances. This design keeps providers focused on LLM
// concerns without coupling them to agent-level events or orchestration:
// the agent layer converts chunks into state-store updates and bus events,
// so providers stay reusable and independently testable.
package llm

import (
	"context"

	"github.com/kelvincushman/browserclaw/pkg/types"
)

// ToolDefinition describes one callable capability advertised to the model
// in the wire request's "tools" array.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// ToolCallDelta is one incremental fragment of a streamed tool call. Deltas
// for the same call share an Index; the ID and Name usually arrive on the
// first fragment while Arguments accumulate across fragments.
type ToolCallDelta struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

// Usage reports token consumption for one completed model call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// StreamChunk is one unit of a streaming completion.
type StreamChunk struct {
	// Content is a text delta, possibly empty.
	Content string

	// ToolCalls carries indexed tool-call deltas from this frame.
	ToolCalls []ToolCallDelta

	// Role is set on the first chunk of a response.
	Role string

	// Finished marks the final chunk of a successful stream.
	Finished bool

	// Usage is populated on the final chunk when the endpoint reports it.
	Usage *Usage

	// Error is set for stream-time failures; the channel closes afterwards.
	Error error
}

// IsError returns true when the chunk carries a stream-time error.
func (c *StreamChunk) IsError() bool {
	return c.Error != nil
}

// Config carries the reconfigurable connection settings for a provider.
// Empty fields mean "leave unchanged"; a nil ExtraHeaders map is also unchanged.
type Config struct {
	Model        string
	BaseURL      string
	APIKey       string
	ExtraHeaders map[string]string
}

// Provider defines the interface for model endpoint integrations.
type Provider interface {
	// StreamCompletion opens one streaming request against the endpoint.
	//
	// The returned channel emits StreamChunk instances and is closed when
	// streaming completes or fails. Returns an error only if streaming
	// cannot be initiated (non-success status, network unavailable);
	// stream-time errors arrive as chunks with Error set.
	StreamCompletion(ctx context.Context, messages []*types.Message, tools []ToolDefinition) (<-chan *StreamChunk, error)

	// GetModel returns the model name being used.
	GetModel() string

	// GetBaseURL returns the base URL being used for API requests.
	GetBaseURL() string
}

// Reconfigurable is an optional interface providers implement to support
// hot configuration updates without rebuilding the agent. The returned
// provider shares transport with the original; the original is unchanged.
type Reconfigurable interface {
	Reconfigure(cfg Config) Provider
}
