package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/kelvincushman/browserclaw/pkg/cancel"
	"github.com/kelvincushman/browserclaw/pkg/types"
)

// toolResult is one dispatch outcome, folded back by tool call ID.
type toolResult struct {
	toolCallID string
	state      types.ToolState
	output     interface{}
	errorText  string
}

// executeTools runs every pending tool part of the owning assistant message
// concurrently. One store update marks the parts executing, one folds every
// outcome back; observers never see a partially-updated batch. A panicking
// tool or a lost outcome degrades to output-error, never to a part stuck in
// executing.
func (c *Conversation) executeTools(ownerID string, parts []*types.ToolPart, token *cancel.Token) {
	if len(parts) == 0 {
		return
	}

	targets := make(map[string]bool, len(parts))
	for _, part := range parts {
		targets[part.ToolCallID] = true
	}

	c.store.Update(func(list []*types.Message) []*types.Message {
		for _, m := range list {
			if m.ID != ownerID {
				continue
			}
			for _, part := range m.ToolParts() {
				if targets[part.ToolCallID] && part.State == types.ToolStateInputAvailable {
					part.State = types.ToolStateExecuting
				}
			}
		}
		return list
	})

	ctx, cleanup := token.Context(context.Background())
	defer cleanup()

	results := make([]toolResult, len(parts))
	var wg sync.WaitGroup
	for i, part := range parts {
		wg.Add(1)
		go func(i int, name, callID string, input map[string]interface{}) {
			defer wg.Done()
			results[i] = c.dispatchTool(ctx, token, name, callID, input)
		}(i, part.ToolName, part.ToolCallID, part.Input)
	}
	wg.Wait()

	byCallID := make(map[string]toolResult, len(results))
	for _, res := range results {
		byCallID[res.toolCallID] = res
	}

	c.store.Update(func(list []*types.Message) []*types.Message {
		for _, m := range list {
			if m.ID != ownerID {
				continue
			}
			for _, part := range m.ToolParts() {
				if !targets[part.ToolCallID] {
					continue
				}
				res, ok := byCallID[part.ToolCallID]
				if !ok {
					// An outcome that went missing still resolves the part.
					res = toolResult{state: types.ToolStateOutputError, errorText: "tool execution produced no outcome"}
				}
				part.State = res.state
				part.Output = res.output
				part.ErrorText = res.errorText
			}
		}
		return list
	})
}

// dispatchTool invokes one tool, classifying the outcome. Cancellation at
// any point yields the cancelled outcome rather than an error; a tool that
// was never started because the token fired stays untouched by side effects.
func (c *Conversation) dispatchTool(ctx context.Context, token *cancel.Token, name, callID string, input map[string]interface{}) (res toolResult) {
	res = toolResult{toolCallID: callID}
	defer func() {
		if r := recover(); r != nil {
			c.log.Errorf("tool %s panicked: %v", name, r)
			res.state = types.ToolStateOutputError
			res.output = nil
			res.errorText = fmt.Sprintf("tool panicked: %v", r)
		}
	}()

	if token.Cancelled() {
		res.state = types.ToolStateOutputError
		res.errorText = types.CancelledErrorText
		return res
	}

	output, err := c.registry.Invoke(ctx, name, input)
	switch {
	case err != nil && (token.Cancelled() || errors.Is(err, context.Canceled)):
		res.state = types.ToolStateOutputError
		res.errorText = types.CancelledErrorText
	case err != nil:
		c.log.Warnf("tool %s failed: %v", name, err)
		res.state = types.ToolStateOutputError
		res.errorText = err.Error()
	default:
		res.state = types.ToolStateOutputAvailable
		res.output = output
	}
	return res
}
