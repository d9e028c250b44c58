// Package agent implements the turn-loop controller at the heart of the
// BrowserClaw core: it owns the conversation state, drives the streaming
// exchange with the model endpoint, orchestrates concurrent tool execution,
// and folds results back until the turn settles. Observers follow along on
// the event bus; the controller never calls out to a rendering layer.
package agent

import (
	"fmt"
	"sync"
	"time"

	"github.com/kelvincushman/browserclaw/pkg/agent/tools"
	"github.com/kelvincushman/browserclaw/pkg/cancel"
	"github.com/kelvincushman/browserclaw/pkg/conversation"
	"github.com/kelvincushman/browserclaw/pkg/events"
	"github.com/kelvincushman/browserclaw/pkg/llm"
	"github.com/kelvincushman/browserclaw/pkg/llm/tokenizer"
	"github.com/kelvincushman/browserclaw/pkg/logging"
	"github.com/kelvincushman/browserclaw/pkg/policy"
	"github.com/kelvincushman/browserclaw/pkg/types"
)

const (
	// defaultMaxIterations bounds one processing cycle. Hitting the ceiling
	// indicates a tool or the model is cycling, so it is treated as fatal.
	defaultMaxIterations = 24

	// defaultPaceInterval is the tick interval of the character pacer.
	defaultPaceInterval = 5 * time.Millisecond

	// nudgeText is appended to the wire history (never stored) after tool
	// results when the nudge option is enabled.
	nudgeText = "Continue with the previous result."
)

// Conversation is one chat session: state store, event bus, cancellation,
// and the turn loop. All exported methods are safe for concurrent use.
type Conversation struct {
	bus       *events.Bus
	store     *conversation.Store
	registry  *tools.Registry
	validator *policy.Validator
	tokenizer *tokenizer.Tokenizer
	log       *logging.Logger

	maxIterations int
	paceInterval  time.Duration
	systemPrompt  string
	nudge         bool

	mu        sync.Mutex
	provider  llm.Provider
	status    types.Status
	token     *cancel.Token
	running   bool
	destroyed bool
	wg        sync.WaitGroup
}

// Option configures a Conversation.
type Option func(*Conversation)

// WithSystemPrompt sets instruction content prepended to every model call.
func WithSystemPrompt(prompt string) Option {
	return func(c *Conversation) { c.systemPrompt = prompt }
}

// WithMaxIterations overrides the runaway-loop ceiling.
func WithMaxIterations(n int) Option {
	return func(c *Conversation) {
		if n > 0 {
			c.maxIterations = n
		}
	}
}

// WithPaceInterval overrides the character pacer tick interval. A zero or
// negative interval disables pacing; text deltas commit as they arrive.
func WithPaceInterval(d time.Duration) Option {
	return func(c *Conversation) { c.paceInterval = d }
}

// WithValidator installs pre-flight host-mention validation for user
// messages. Without a validator every message is admitted.
func WithValidator(v *policy.Validator) Option {
	return func(c *Conversation) { c.validator = v }
}

// WithNudgeAfterToolResults appends a short continuation prompt to the wire
// history after tool results. Off by default.
func WithNudgeAfterToolResults() Option {
	return func(c *Conversation) { c.nudge = true }
}

// NewConversation creates an idle conversation around the given provider
// and tool registry.
func NewConversation(provider llm.Provider, registry *tools.Registry, opts ...Option) *Conversation {
	log, _ := logging.NewLogger("agent")
	bus := events.NewBus()
	tok, err := tokenizer.New()
	if err != nil {
		log.Warnf("token counting degraded to estimates: %v", err)
	}

	c := &Conversation{
		bus:           bus,
		store:         conversation.NewStore(bus),
		provider:      provider,
		registry:      registry,
		tokenizer:     tok,
		log:           log,
		maxIterations: defaultMaxIterations,
		paceInterval:  defaultPaceInterval,
		status:        types.StatusIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Bus returns the event bus observers subscribe to.
func (c *Conversation) Bus() *events.Bus { return c.bus }

// Messages returns a snapshot of the conversation.
func (c *Conversation) Messages() []*types.Message { return c.store.Messages() }

// Status returns the current conversation status.
func (c *Conversation) Status() types.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// SendMessage submits a user message built from text plus optional
// attachments and context items. The message always enters the pending
// queue first; if no cycle is running one starts immediately, otherwise the
// running cycle drains the queue at its next iteration.
func (c *Conversation) SendMessage(text string, attachments []*types.FilePart, contextItems []*types.ContextPart) error {
	extra := make([]types.Part, 0, len(attachments)+len(contextItems))
	for _, a := range attachments {
		extra = append(extra, a)
	}
	for _, ci := range contextItems {
		extra = append(extra, ci)
	}
	return c.Send(types.NewUserMessage(text, extra...))
}

// Send submits a fully-formed user message.
func (c *Conversation) Send(msg *types.Message) error {
	c.mu.Lock()
	destroyed := c.destroyed
	c.mu.Unlock()
	if destroyed {
		return fmt.Errorf("conversation destroyed")
	}

	c.store.Enqueue(msg)
	c.startCycle()
	return nil
}

// Regenerate discards the trailing assistant turn and re-runs the model
// against the last user message.
func (c *Conversation) Regenerate() error {
	c.mu.Lock()
	switch {
	case c.destroyed:
		c.mu.Unlock()
		return fmt.Errorf("conversation destroyed")
	case c.running:
		c.mu.Unlock()
		return fmt.Errorf("cannot regenerate while a cycle is active")
	}
	c.mu.Unlock()

	messages := c.store.Messages()
	end := len(messages)
	for end > 0 && messages[end-1].Role != types.RoleUser {
		end--
	}
	if end == 0 {
		return fmt.Errorf("no user message to regenerate from")
	}
	if end < len(messages) {
		c.store.Update(func(list []*types.Message) []*types.Message {
			return list[:end]
		})
	}

	c.startCycle()
	return nil
}

// StopStream cancels the active cycle without touching the pending queue.
// Queued messages start a fresh cycle once the cancelled one unwinds.
func (c *Conversation) StopStream() {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token != nil {
		token.Cancel()
	}
}

// Abort cancels the active cycle and discards every queued message.
func (c *Conversation) Abort() {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()

	c.store.ClearQueue()
	if token != nil {
		token.Cancel()
	}
}

// ResetMessages aborts any active cycle and clears the conversation.
func (c *Conversation) ResetMessages() {
	c.Abort()
	c.store.Reset(nil)
}

// UpdateConfig applies partial connection settings to the provider. Takes
// effect on the next model call; an in-flight stream is unaffected.
func (c *Conversation) UpdateConfig(cfg llm.Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.provider.(llm.Reconfigurable)
	if !ok {
		return fmt.Errorf("provider does not support reconfiguration")
	}
	c.provider = r.Reconfigure(cfg)
	return nil
}

// Destroy aborts, waits for the cycle goroutine to unwind, and closes the
// bus so no observer outlives the session. The conversation is unusable
// afterwards.
func (c *Conversation) Destroy() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.destroyed = true
	token := c.token
	c.mu.Unlock()

	c.store.ClearQueue()
	if token != nil {
		token.Cancel()
	}
	c.wg.Wait()
	c.bus.Close()
	if c.log != nil {
		c.log.Close()
	}
}

// Wait blocks until the active cycle (if any) settles. Primarily for the
// CLI and tests; observers normally follow status_changed events instead.
func (c *Conversation) Wait() {
	c.wg.Wait()
}

// startCycle launches a processing cycle if none is running.
func (c *Conversation) startCycle() {
	c.mu.Lock()
	if c.running || c.destroyed {
		c.mu.Unlock()
		return
	}
	token := cancel.NewToken()
	c.token = token
	c.running = true
	changed := c.setStatusLocked(types.StatusSubmitted)
	c.wg.Add(1)
	c.mu.Unlock()

	if changed {
		c.bus.Emit(events.KindStatusChanged, types.StatusSubmitted)
	}
	go c.runCycle(token)
}

// runCycle drives one processing cycle and, on exit, either chains into a
// fresh cycle for queued work or settles to the loop's final status.
func (c *Conversation) runCycle(token *cancel.Token) {
	defer c.wg.Done()

	final := c.loop(token)

	c.mu.Lock()
	if c.token == token {
		c.token = nil
	}
	c.running = false
	restart := !c.destroyed && final != types.StatusError && c.store.QueueLen() > 0
	changed := false
	if !restart {
		changed = c.setStatusLocked(final)
	}
	c.mu.Unlock()

	if changed {
		c.bus.Emit(events.KindStatusChanged, final)
	}
	if restart {
		c.startCycle()
	}
}

// loop is the iteration engine: drain the queue, inspect the shape of the
// last message, act, repeat. Returns the status the cycle settles to.
func (c *Conversation) loop(token *cancel.Token) types.Status {
	for iteration := 0; ; iteration++ {
		if token.Cancelled() {
			return types.StatusIdle
		}
		if iteration >= c.maxIterations {
			c.log.Errorf("iteration ceiling (%d) exceeded, stopping cycle", c.maxIterations)
			c.store.Append(types.NewAssistantTextMessage(
				fmt.Sprintf("Stopped after %d iterations without the turn settling.", c.maxIterations)))
			return types.StatusError
		}

		if drained := c.store.DrainQueue(); len(drained) > 0 {
			c.store.Append(drained...)
		}

		last := c.store.Last()
		if last == nil {
			return types.StatusIdle
		}

		switch last.Role {
		case types.RoleUser:
			if c.validator != nil {
				if allowed, reason := c.validator.Validate(last); !allowed {
					c.store.Append(types.NewAssistantTextMessage(reason))
					return types.StatusIdle
				}
			}
			if status, done := c.streamStep(token, false); done {
				return status
			}

		case types.RoleTool:
			if status, done := c.streamStep(token, true); done {
				return status
			}

		case types.RoleAssistant:
			pending := last.PendingToolParts()
			switch {
			case len(pending) > 0:
				c.executeTools(last.ID, pending, token)
			case last.AllToolsResolved():
				if status, done := c.streamStep(token, true); done {
					return status
				}
			case last.Text() == "":
				c.log.Warnf("assistant message %s settled with no content", last.ID)
				return types.StatusIdle
			default:
				// Text present, no unresolved tools: the turn is complete.
				return types.StatusIdle
			}

		default:
			// A trailing system message has nothing to respond to.
			return types.StatusIdle
		}
	}
}

// streamStep runs one model call. done reports that the cycle must stop
// with the returned status; otherwise the loop continues.
func (c *Conversation) streamStep(token *cancel.Token, afterToolResults bool) (types.Status, bool) {
	switch c.streamModel(token, afterToolResults) {
	case streamCancelled:
		return types.StatusIdle, true
	case streamFailed:
		return types.StatusError, true
	default:
		return types.StatusIdle, false
	}
}

// setStatusLocked records a status transition and reports whether it
// changed. Callers emit the status_changed event after releasing c.mu so
// subscribers may call back into the conversation.
func (c *Conversation) setStatusLocked(status types.Status) bool {
	if c.status == status {
		return false
	}
	c.status = status
	return true
}

// setStatus transitions the published status.
func (c *Conversation) setStatus(status types.Status) {
	c.mu.Lock()
	changed := c.setStatusLocked(status)
	c.mu.Unlock()
	if changed {
		c.bus.Emit(events.KindStatusChanged, status)
	}
}

// currentProvider snapshots the provider pointer so UpdateConfig applies to
// the next call without racing an in-flight one.
func (c *Conversation) currentProvider() llm.Provider {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.provider
}

// historyForModel assembles the wire history: configured system prompt
// first, then the stored conversation, then the optional nudge.
func (c *Conversation) historyForModel(afterToolResults bool) []*types.Message {
	stored := c.store.Messages()
	history := make([]*types.Message, 0, len(stored)+2)

	if c.systemPrompt != "" && (len(stored) == 0 || stored[0].Role != types.RoleSystem) {
		history = append(history, types.NewMessage(types.RoleSystem, &types.TextPart{Text: c.systemPrompt}))
	}
	history = append(history, stored...)

	if c.nudge && afterToolResults {
		history = append(history, types.NewUserMessage(nudgeText))
	}
	return history
}
