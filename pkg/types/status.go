package types

// Status is the externally observable conversation state.
type Status string

const (
	StatusIdle      Status = "idle"      // StatusIdle means no cycle is running and the queue is empty.
	StatusSubmitted Status = "submitted" // StatusSubmitted means a cycle started but no text has streamed yet.
	StatusStreaming Status = "streaming" // StatusStreaming means text tokens are being received.
	StatusError     Status = "error"     // StatusError means an unrecoverable failure stopped the cycle.
)
