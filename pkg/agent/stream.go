package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kelvincushman/browserclaw/pkg/cancel"
	"github.com/kelvincushman/browserclaw/pkg/events"
	"github.com/kelvincushman/browserclaw/pkg/llm"
	"github.com/kelvincushman/browserclaw/pkg/types"
)

// streamOutcome classifies how one model call ended.
type streamOutcome int

const (
	streamCompleted streamOutcome = iota
	streamCancelled
	streamFailed
)

const emptyTurnText = "The model returned no content. Please try again."

// streamModel runs one model call: open the stream, consume deltas into the
// trailing assistant message, settle the pacer, report usage. Transport
// failures synthesize an assistant error message; cancellation is never a
// failure and keeps whatever content was committed.
func (c *Conversation) streamModel(token *cancel.Token, afterToolResults bool) streamOutcome {
	ctx, cleanup := token.Context(context.Background())
	defer cleanup()

	provider := c.currentProvider()
	history := c.historyForModel(afterToolResults)
	var defs []llm.ToolDefinition
	if c.registry != nil {
		defs = c.registry.Definitions()
	}

	chunks, err := provider.StreamCompletion(ctx, history, defs)
	if err != nil {
		if token.Cancelled() {
			return streamCancelled
		}
		c.log.Errorf("model request failed: %v", err)
		c.store.Append(types.NewAssistantTextMessage(fmt.Sprintf("The model request failed: %v", err)))
		return streamFailed
	}

	assistant := types.NewAssistantMessage()
	c.store.Append(assistant)

	consumer := newStreamConsumer(c, assistant.ID, token)
	outcome := consumer.consume(chunks)
	consumer.settle()

	if outcome == streamCompleted && token.Cancelled() {
		outcome = streamCancelled
	}
	if outcome == streamCompleted {
		c.reportUsage(consumer.usage, history, assistant.ID)
		c.synthesizeEmptyTurn(assistant.ID)
	}
	return outcome
}

// synthesizeEmptyTurn replaces a content-free assistant message with a
// placeholder so the turn never ends in silence.
func (c *Conversation) synthesizeEmptyTurn(messageID string) {
	empty := false
	msg := c.findMessage(messageID)
	if msg != nil && msg.Text() == "" && len(msg.ToolParts()) == 0 {
		empty = true
	}
	if !empty {
		return
	}
	c.log.Warnf("model call produced neither text nor tool calls")
	c.store.Update(func(list []*types.Message) []*types.Message {
		for _, m := range list {
			if m.ID == messageID {
				m.Parts = append(m.Parts, &types.TextPart{Text: emptyTurnText})
			}
		}
		return list
	})
}

// reportUsage publishes token accounting after a model call, falling back
// to tokenizer estimates when the endpoint reports nothing.
func (c *Conversation) reportUsage(usage *llm.Usage, history []*types.Message, assistantID string) {
	if usage == nil && c.tokenizer != nil {
		prompt := c.tokenizer.CountMessagesTokens(history)
		completion := 0
		if msg := c.findMessage(assistantID); msg != nil {
			completion = c.tokenizer.CountTokens(msg.Text())
		}
		usage = &llm.Usage{
			PromptTokens:     prompt,
			CompletionTokens: completion,
			TotalTokens:      prompt + completion,
		}
	}
	if usage != nil {
		c.bus.Emit(events.KindUsageReported, usage)
	}
}

func (c *Conversation) findMessage(id string) *types.Message {
	for _, m := range c.store.Messages() {
		if m.ID == id {
			return m
		}
	}
	return nil
}

// streamConsumer turns provider chunks into state-store updates: text
// deltas feed the character pacer, tool-call deltas accumulate per index
// into tool parts on the owning assistant message.
type streamConsumer struct {
	conv      *Conversation
	messageID string
	token     *cancel.Token
	pacer     *charPacer
	calls     map[int]*toolCallBuffer
	usage     *llm.Usage
}

// toolCallBuffer accumulates one indexed tool call across frames.
type toolCallBuffer struct {
	index   int
	id      string
	name    string
	args    strings.Builder
	created bool
}

func newStreamConsumer(c *Conversation, messageID string, token *cancel.Token) *streamConsumer {
	return &streamConsumer{
		conv:      c,
		messageID: messageID,
		token:     token,
		pacer:     newCharPacer(c, messageID, token),
		calls:     make(map[int]*toolCallBuffer),
	}
}

// consume drains the chunk channel until it closes, an error chunk arrives,
// or cancellation fires.
func (sc *streamConsumer) consume(chunks <-chan *llm.StreamChunk) streamOutcome {
	for {
		select {
		case <-sc.token.Done():
			return streamCancelled
		case chunk, ok := <-chunks:
			if !ok {
				return streamCompleted
			}
			if chunk.IsError() {
				if sc.token.Cancelled() {
					return streamCancelled
				}
				sc.conv.log.Errorf("stream failed: %v", chunk.Error)
				sc.pacer.flush()
				sc.conv.store.Update(func(list []*types.Message) []*types.Message {
					for _, m := range list {
						if m.ID == sc.messageID {
							m.Parts = append(m.Parts, &types.TextPart{
								Text: fmt.Sprintf("\nThe response stream failed: %v", chunk.Error),
							})
						}
					}
					return list
				})
				return streamFailed
			}
			sc.apply(chunk)
		}
	}
}

// apply folds one chunk into the pacer buffer and the tool-call buffers.
func (sc *streamConsumer) apply(chunk *llm.StreamChunk) {
	if chunk.Usage != nil {
		sc.usage = chunk.Usage
	}
	if chunk.Content != "" {
		sc.pacer.feed(chunk.Content)
		if sc.conv.Status() == types.StatusSubmitted {
			sc.conv.setStatus(types.StatusStreaming)
		}
	}
	for _, delta := range chunk.ToolCalls {
		sc.applyToolCallDelta(delta)
	}
}

// applyToolCallDelta merges one tool-call fragment. Every time an index's
// argument buffer parses as a JSON object the matching tool part is created
// or its input refreshed; a part already past input-available is left alone.
func (sc *streamConsumer) applyToolCallDelta(delta llm.ToolCallDelta) {
	buf := sc.calls[delta.Index]
	if buf == nil {
		buf = &toolCallBuffer{index: delta.Index}
		sc.calls[delta.Index] = buf
	}
	if delta.ID != "" {
		buf.id = delta.ID
	}
	if delta.Name != "" {
		buf.name = delta.Name
	}
	buf.args.WriteString(delta.Arguments)

	var input map[string]interface{}
	if err := json.Unmarshal([]byte(buf.args.String()), &input); err != nil {
		return
	}
	sc.upsertToolPart(buf, input)
}

// settle flushes remaining paced text and finalizes tool calls whose
// argument buffers never became valid JSON (empty or truncated arguments).
func (sc *streamConsumer) settle() {
	sc.pacer.close()
	sc.pacer.wait()

	if sc.token.Cancelled() {
		return
	}
	for _, buf := range sc.calls {
		if buf.created || buf.name == "" {
			continue
		}
		input := map[string]interface{}{}
		raw := strings.TrimSpace(buf.args.String())
		if raw != "" {
			if err := json.Unmarshal([]byte(raw), &input); err != nil {
				sc.conv.log.Warnf("tool call %s arguments never parsed: %q", buf.name, raw)
				input = map[string]interface{}{}
			}
		}
		sc.upsertToolPart(buf, input)
	}
}

// upsertToolPart creates the tool part on first valid parse and refreshes
// its input on later parses without regressing state.
func (sc *streamConsumer) upsertToolPart(buf *toolCallBuffer, input map[string]interface{}) {
	if buf.name == "" {
		return
	}
	if buf.id == "" {
		buf.id = fmt.Sprintf("call_%s_%d", sc.messageID[:8], buf.index)
	}

	sc.conv.store.Update(func(list []*types.Message) []*types.Message {
		for _, m := range list {
			if m.ID != sc.messageID {
				continue
			}
			if part := m.FindToolPart(buf.id); part != nil {
				if part.State == types.ToolStateInputAvailable {
					part.Input = input
				}
				return list
			}
			m.Parts = append(m.Parts, &types.ToolPart{
				ToolName:   buf.name,
				ToolCallID: buf.id,
				Input:      input,
				State:      types.ToolStateInputAvailable,
			})
		}
		return list
	})
	buf.created = true
}

// charPacer drains streamed text one rune per tick through the state store,
// decoupling commit pace from network chunk arrival. Cancellation stops it
// instantly and discards the undrained remainder; committed text stays.
type charPacer struct {
	conv      *Conversation
	messageID string
	interval  time.Duration

	mu        sync.Mutex
	buf       []rune
	closed    bool
	drainAll  bool
	cancelled bool

	once sync.Once
	done chan struct{}
}

func newCharPacer(c *Conversation, messageID string, token *cancel.Token) *charPacer {
	p := &charPacer{
		conv:      c,
		messageID: messageID,
		interval:  c.paceInterval,
		done:      make(chan struct{}),
	}
	token.OnCancel(p.cancel)
	if p.interval > 0 {
		go p.run()
	}
	return p
}

// feed appends streamed text to the pending buffer. With pacing disabled
// the text commits immediately.
func (p *charPacer) feed(text string) {
	p.mu.Lock()
	if p.cancelled || p.closed {
		p.mu.Unlock()
		return
	}
	if p.interval <= 0 {
		p.mu.Unlock()
		p.commit(text)
		return
	}
	p.buf = append(p.buf, []rune(text)...)
	p.mu.Unlock()
}

// close marks the end of input; the pacer finishes draining then stops.
func (p *charPacer) close() {
	p.mu.Lock()
	p.closed = true
	instant := p.interval <= 0
	p.mu.Unlock()
	if instant {
		p.finish()
	}
}

// wait blocks until the pacer has fully drained or been cancelled.
func (p *charPacer) wait() {
	<-p.done
}

// flush commits whatever has not drained yet in one write and stops the
// pacer. Used when the stream errors mid-turn so buffered content lands
// before the error text instead of trickling in after it. The drain itself
// stays on the pacer goroutine so committed text keeps its order.
func (p *charPacer) flush() {
	p.mu.Lock()
	p.closed = true
	p.drainAll = true
	pacing := p.interval > 0
	p.mu.Unlock()

	// With pacing disabled feed commits immediately; nothing is buffered.
	if !pacing {
		p.finish()
		return
	}
	p.wait()
}

// cancel stops pacing immediately and discards the undrained remainder. It
// runs from Token.Cancel; a commit already in flight may still land, but
// nothing is committed after it.
func (p *charPacer) cancel() {
	p.mu.Lock()
	p.cancelled = true
	p.buf = nil
	p.mu.Unlock()
	p.finish()
}

func (p *charPacer) finish() {
	p.once.Do(func() { close(p.done) })
}

func (p *charPacer) run() {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for range ticker.C {
		p.mu.Lock()
		if p.cancelled {
			p.mu.Unlock()
			p.finish()
			return
		}
		if len(p.buf) == 0 {
			if p.closed {
				p.mu.Unlock()
				p.finish()
				return
			}
			p.mu.Unlock()
			continue
		}
		var text string
		if p.drainAll {
			text = string(p.buf)
			p.buf = nil
		} else {
			text = string(p.buf[0])
			p.buf = p.buf[1:]
		}
		p.mu.Unlock()

		p.commit(text)
	}
}

// commit appends text to the owning message's trailing text part. It runs
// without holding p.mu: the store update emits to subscribers, and a
// subscriber may call back into Abort or StopStream, which reaches cancel
// on this same goroutine. The cancelled flag is re-checked first so nothing
// commits once cancel has run.
func (p *charPacer) commit(text string) {
	p.mu.Lock()
	cancelled := p.cancelled
	p.mu.Unlock()
	if cancelled {
		return
	}
	p.conv.store.Update(func(list []*types.Message) []*types.Message {
		for _, m := range list {
			if m.ID != p.messageID {
				continue
			}
			if n := len(m.Parts); n > 0 {
				if tp, ok := m.Parts[n-1].(*types.TextPart); ok {
					tp.Text += text
					return list
				}
			}
			m.Parts = append(m.Parts, &types.TextPart{Text: text})
		}
		return list
	})
}
