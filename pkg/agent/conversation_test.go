package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kelvincushman/browserclaw/pkg/agent/tools"
	"github.com/kelvincushman/browserclaw/pkg/events"
	"github.com/kelvincushman/browserclaw/pkg/llm"
	"github.com/kelvincushman/browserclaw/pkg/policy"
	"github.com/kelvincushman/browserclaw/pkg/types"
)

// scriptedResponse is one model call's scripted stream.
type scriptedResponse struct {
	chunks     []*llm.StreamChunk
	chunkDelay time.Duration
	err        error
}

// fakeProvider replays scripted responses in order and records the history
// of every call. When the script is exhausted defaultResponse (if set)
// repeats forever.
type fakeProvider struct {
	mu              sync.Mutex
	model           string
	script          []scriptedResponse
	defaultResponse *scriptedResponse
	calls           [][]*types.Message
}

func (f *fakeProvider) StreamCompletion(ctx context.Context, messages []*types.Message, _ []llm.ToolDefinition) (<-chan *llm.StreamChunk, error) {
	f.mu.Lock()
	f.calls = append(f.calls, messages)
	var resp scriptedResponse
	switch {
	case len(f.script) > 0:
		resp = f.script[0]
		f.script = f.script[1:]
	case f.defaultResponse != nil:
		resp = *f.defaultResponse
	default:
		resp = scriptedResponse{err: errors.New("script exhausted")}
	}
	f.mu.Unlock()

	if resp.err != nil {
		return nil, resp.err
	}

	ch := make(chan *llm.StreamChunk, len(resp.chunks))
	go func() {
		defer close(ch)
		for _, chunk := range resp.chunks {
			if resp.chunkDelay > 0 {
				select {
				case <-time.After(resp.chunkDelay):
				case <-ctx.Done():
					return
				}
			}
			select {
			case ch <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (f *fakeProvider) GetModel() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.model == "" {
		return "fake-model"
	}
	return f.model
}

func (f *fakeProvider) GetBaseURL() string { return "http://fake" }

func (f *fakeProvider) Reconfigure(cfg llm.Config) llm.Provider {
	f.mu.Lock()
	defer f.mu.Unlock()
	clone := &fakeProvider{model: f.model, defaultResponse: f.defaultResponse}
	clone.script = f.script
	if cfg.Model != "" {
		clone.model = cfg.Model
	}
	return clone
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeProvider) call(i int) []*types.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[i]
}

func textResponse(text string) scriptedResponse {
	return scriptedResponse{chunks: []*llm.StreamChunk{
		{Content: text, Role: "assistant"},
		{Finished: true},
	}}
}

func toolCallResponse(id, name, args string) scriptedResponse {
	return scriptedResponse{chunks: []*llm.StreamChunk{
		{ToolCalls: []llm.ToolCallDelta{{Index: 0, ID: id, Name: name, Arguments: args}}},
		{Finished: true},
	}}
}

// fnTool adapts a function into a registry tool.
type fnTool struct {
	name string
	fn   func(ctx context.Context, input map[string]interface{}) (interface{}, error)
}

func (t *fnTool) Name() string                    { return t.name }
func (t *fnTool) Description() string             { return t.name }
func (t *fnTool) Schema() map[string]interface{}  { return map[string]interface{}{"type": "object"} }
func (t *fnTool) Execute(ctx context.Context, input map[string]interface{}) (interface{}, error) {
	return t.fn(ctx, input)
}

func newTestConversation(t *testing.T, provider llm.Provider, registry *tools.Registry, opts ...Option) *Conversation {
	t.Helper()
	if registry == nil {
		registry = tools.NewRegistry()
	}
	opts = append([]Option{WithPaceInterval(0)}, opts...)
	conv := NewConversation(provider, registry, opts...)
	t.Cleanup(conv.Destroy)
	return conv
}

func waitIdle(t *testing.T, conv *Conversation) {
	t.Helper()
	require.Eventually(t, func() bool {
		return conv.Status() == types.StatusIdle
	}, 5*time.Second, 2*time.Millisecond)
}

func waitStatus(t *testing.T, conv *Conversation, status types.Status) {
	t.Helper()
	require.Eventually(t, func() bool {
		return conv.Status() == status
	}, 5*time.Second, 2*time.Millisecond)
}

func TestHelloStreamsSingleAssistantMessage(t *testing.T) {
	provider := &fakeProvider{script: []scriptedResponse{textResponse("Hi")}}
	conv := newTestConversation(t, provider, nil)

	require.NoError(t, conv.SendMessage("hello", nil, nil))
	waitIdle(t, conv)

	messages := conv.Messages()
	require.Len(t, messages, 2)
	assert.Equal(t, types.RoleUser, messages[0].Role)
	assert.Equal(t, types.RoleAssistant, messages[1].Role)
	require.Len(t, messages[1].Parts, 1)
	assert.Equal(t, "Hi", messages[1].Text())
}

func TestToolCallRoundTrip(t *testing.T) {
	provider := &fakeProvider{script: []scriptedResponse{
		toolCallResponse("c1", "get_all_tabs", "{}"),
		textResponse("you have no tabs"),
	}}
	registry := tools.NewRegistry()
	registry.Register(&fnTool{name: "get_all_tabs", fn: func(context.Context, map[string]interface{}) (interface{}, error) {
		return []interface{}{}, nil
	}})
	conv := newTestConversation(t, provider, registry)

	require.NoError(t, conv.SendMessage("list my tabs", nil, nil))
	waitIdle(t, conv)

	messages := conv.Messages()
	require.Len(t, messages, 3)

	toolParts := messages[1].ToolParts()
	require.Len(t, toolParts, 1)
	assert.Equal(t, types.ToolStateOutputAvailable, toolParts[0].State)
	assert.Equal(t, []interface{}{}, toolParts[0].Output)

	// The continuation call carried the resolved tool part in its history.
	require.Equal(t, 2, provider.callCount())
	second := provider.call(1)
	lastSent := second[len(second)-1]
	assert.Equal(t, types.RoleAssistant, lastSent.Role)
	assert.True(t, lastSent.AllToolsResolved())

	assert.Equal(t, "you have no tabs", messages[2].Text())
}

func TestPolicyDenialShortCircuitsBeforeModel(t *testing.T) {
	provider := &fakeProvider{script: []scriptedResponse{textResponse("should never stream")}}
	allowlist, err := policy.NewAllowlist([]string{"example.com"})
	require.NoError(t, err)
	conv := newTestConversation(t, provider, nil, WithValidator(policy.NewValidator(allowlist)))

	require.NoError(t, conv.SendMessage("go to youtube.com", nil, nil))
	waitIdle(t, conv)

	assert.Equal(t, 0, provider.callCount(), "no network call for a denied message")
	messages := conv.Messages()
	require.Len(t, messages, 2)
	assert.Equal(t, types.RoleAssistant, messages[1].Role)
	assert.Contains(t, messages[1].Text(), "youtube.com")
}

func TestAbortMidStreamKeepsPartialText(t *testing.T) {
	long := strings.Repeat("a", 2000)
	provider := &fakeProvider{script: []scriptedResponse{
		{chunks: []*llm.StreamChunk{{Content: long}, {Finished: true}}, chunkDelay: 10 * time.Millisecond},
		textResponse("fresh"),
	}}
	conv := newTestConversation(t, provider, nil, WithPaceInterval(time.Millisecond))

	require.NoError(t, conv.SendMessage("tell me a story", nil, nil))
	waitStatus(t, conv, types.StatusStreaming)
	time.Sleep(50 * time.Millisecond)
	conv.Abort()
	waitIdle(t, conv)

	messages := conv.Messages()
	require.Len(t, messages, 2)
	partial := messages[1].Text()
	assert.Less(t, len(partial), len(long), "abort stops the drain before completion")

	// No further characters commit once Abort has returned.
	settled := messages[1].Text()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, settled, conv.Messages()[1].Text())

	// A fresh send runs an independent cycle.
	require.NoError(t, conv.SendMessage("again", nil, nil))
	waitIdle(t, conv)
	messages = conv.Messages()
	assert.Equal(t, "fresh", messages[len(messages)-1].Text())
}

func TestQueueDrainsFIFO(t *testing.T) {
	provider := &fakeProvider{
		script: []scriptedResponse{
			{chunks: []*llm.StreamChunk{{Content: "one"}, {Finished: true}}, chunkDelay: 30 * time.Millisecond},
		},
		defaultResponse: &scriptedResponse{chunks: []*llm.StreamChunk{{Content: "ack"}, {Finished: true}}},
	}
	conv := newTestConversation(t, provider, nil)

	require.NoError(t, conv.SendMessage("first", nil, nil))
	require.NoError(t, conv.SendMessage("second", nil, nil))
	require.NoError(t, conv.SendMessage("third", nil, nil))
	waitIdle(t, conv)

	var userTexts []string
	for _, m := range conv.Messages() {
		if m.Role == types.RoleUser {
			userTexts = append(userTexts, m.Text())
		}
	}
	assert.Equal(t, []string{"first", "second", "third"}, userTexts)
	assert.Equal(t, 0, len(conv.store.Queue()))
}

func TestRunawayLoopGuard(t *testing.T) {
	provider := &fakeProvider{
		defaultResponse: &scriptedResponse{chunks: []*llm.StreamChunk{
			{ToolCalls: []llm.ToolCallDelta{{Index: 0, ID: "loop", Name: "spin", Arguments: "{}"}}},
			{Finished: true},
		}},
	}
	registry := tools.NewRegistry()
	registry.Register(&fnTool{name: "spin", fn: func(context.Context, map[string]interface{}) (interface{}, error) {
		return "again", nil
	}})
	conv := newTestConversation(t, provider, registry, WithMaxIterations(6))

	require.NoError(t, conv.SendMessage("spin forever", nil, nil))
	waitStatus(t, conv, types.StatusError)

	messages := conv.Messages()
	assert.Contains(t, messages[len(messages)-1].Text(), "Stopped after 6 iterations")
}

func TestToolFailureDoesNotAbortSiblings(t *testing.T) {
	provider := &fakeProvider{script: []scriptedResponse{
		{chunks: []*llm.StreamChunk{
			{ToolCalls: []llm.ToolCallDelta{
				{Index: 0, ID: "ok", Name: "works", Arguments: "{}"},
				{Index: 1, ID: "bad", Name: "fails", Arguments: "{}"},
			}},
			{Finished: true},
		}},
		textResponse("handled it"),
	}}
	registry := tools.NewRegistry()
	registry.Register(&fnTool{name: "works", fn: func(context.Context, map[string]interface{}) (interface{}, error) {
		return "fine", nil
	}})
	registry.Register(&fnTool{name: "fails", fn: func(context.Context, map[string]interface{}) (interface{}, error) {
		return nil, errors.New("disk on fire")
	}})
	conv := newTestConversation(t, provider, registry)

	require.NoError(t, conv.SendMessage("do both", nil, nil))
	waitIdle(t, conv)

	messages := conv.Messages()
	okPart := messages[1].FindToolPart("ok")
	badPart := messages[1].FindToolPart("bad")
	require.NotNil(t, okPart)
	require.NotNil(t, badPart)
	assert.Equal(t, types.ToolStateOutputAvailable, okPart.State)
	assert.Equal(t, "fine", okPart.Output)
	assert.Equal(t, types.ToolStateOutputError, badPart.State)
	assert.Equal(t, "disk on fire", badPart.ErrorText)

	// A tool failure routes back to the model, it is not a global error.
	assert.Equal(t, types.StatusIdle, conv.Status())
	assert.Equal(t, 2, provider.callCount())
}

func TestToolPanicResolvesToError(t *testing.T) {
	provider := &fakeProvider{script: []scriptedResponse{
		toolCallResponse("p1", "explode", "{}"),
		textResponse("recovered"),
	}}
	registry := tools.NewRegistry()
	registry.Register(&fnTool{name: "explode", fn: func(context.Context, map[string]interface{}) (interface{}, error) {
		panic("kaboom")
	}})
	conv := newTestConversation(t, provider, registry)

	require.NoError(t, conv.SendMessage("explode", nil, nil))
	waitIdle(t, conv)

	part := conv.Messages()[1].FindToolPart("p1")
	require.NotNil(t, part)
	assert.Equal(t, types.ToolStateOutputError, part.State)
	assert.Contains(t, part.ErrorText, "kaboom")
}

func TestToolCallArgumentsAssembleAcrossFrames(t *testing.T) {
	provider := &fakeProvider{script: []scriptedResponse{
		{chunks: []*llm.StreamChunk{
			{ToolCalls: []llm.ToolCallDelta{{Index: 0, ID: "c1", Name: "echo", Arguments: `{"ur`}}},
			{ToolCalls: []llm.ToolCallDelta{{Index: 0, Arguments: `l":"https://ex`}}},
			{ToolCalls: []llm.ToolCallDelta{{Index: 0, Arguments: `ample.com"}`}}},
			{Finished: true},
		}},
		textResponse("opened"),
	}}
	registry := tools.NewRegistry()
	var received map[string]interface{}
	registry.Register(&fnTool{name: "echo", fn: func(_ context.Context, input map[string]interface{}) (interface{}, error) {
		received = input
		return input, nil
	}})
	conv := newTestConversation(t, provider, registry)

	require.NoError(t, conv.SendMessage("open example", nil, nil))
	waitIdle(t, conv)

	require.NotNil(t, received)
	assert.Equal(t, "https://example.com", received["url"])
}

func TestIDLessToolCallsGetDistinctIDs(t *testing.T) {
	provider := &fakeProvider{script: []scriptedResponse{
		{chunks: []*llm.StreamChunk{
			{ToolCalls: []llm.ToolCallDelta{
				{Index: 0, Name: "alpha", Arguments: `{"a`},
				{Index: 1, Name: "beta", Arguments: `{"b`},
			}},
			{ToolCalls: []llm.ToolCallDelta{
				{Index: 0, Arguments: `":1}`},
				{Index: 1, Arguments: `":2}`},
			}},
			{Finished: true},
		}},
		textResponse("both ran"),
	}}
	registry := tools.NewRegistry()
	var mu sync.Mutex
	inputs := make(map[string]map[string]interface{})
	record := func(name string) *fnTool {
		return &fnTool{name: name, fn: func(_ context.Context, input map[string]interface{}) (interface{}, error) {
			mu.Lock()
			defer mu.Unlock()
			inputs[name] = input
			return "ok", nil
		}}
	}
	registry.Register(record("alpha"))
	registry.Register(record("beta"))
	conv := newTestConversation(t, provider, registry)

	require.NoError(t, conv.SendMessage("run both", nil, nil))
	waitIdle(t, conv)

	parts := conv.Messages()[1].ToolParts()
	require.Len(t, parts, 2)
	assert.NotEqual(t, parts[0].ToolCallID, parts[1].ToolCallID)
	for _, part := range parts {
		assert.Equal(t, types.ToolStateOutputAvailable, part.State)
	}

	// Both calls dispatched, each with its own assembled arguments.
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, inputs, 2)
	assert.Equal(t, float64(1), inputs["alpha"]["a"])
	assert.Equal(t, float64(2), inputs["beta"]["b"])
}

func TestAbortFromSubscriberDoesNotDeadlock(t *testing.T) {
	long := strings.Repeat("b", 2000)
	provider := &fakeProvider{script: []scriptedResponse{
		{chunks: []*llm.StreamChunk{{Content: long}, {Finished: true}}},
	}}
	conv := newTestConversation(t, provider, nil, WithPaceInterval(time.Millisecond))

	// The handler runs on the pacer goroutine during a commit; aborting from
	// inside it must not wedge the cycle.
	var once sync.Once
	conv.Bus().Subscribe(events.KindMessagesUpdated, func(payload interface{}) {
		messages := payload.([]*types.Message)
		last := messages[len(messages)-1]
		if last.Role == types.RoleAssistant && len(last.Text()) >= 5 {
			once.Do(conv.Abort)
		}
	})

	require.NoError(t, conv.SendMessage("stream then abort", nil, nil))
	waitIdle(t, conv)

	partial := conv.Messages()[1].Text()
	assert.GreaterOrEqual(t, len(partial), 5)
	assert.Less(t, len(partial), len(long))
}

func TestStreamErrorLandsAfterBufferedText(t *testing.T) {
	provider := &fakeProvider{script: []scriptedResponse{
		{chunks: []*llm.StreamChunk{
			{Content: "hello world"},
			{Error: fmt.Errorf("connection reset")},
		}},
	}}
	conv := newTestConversation(t, provider, nil, WithPaceInterval(time.Millisecond))

	require.NoError(t, conv.SendMessage("hi", nil, nil))
	waitStatus(t, conv, types.StatusError)

	// Buffered characters drain before the error text; nothing trickles in
	// after it.
	text := conv.Messages()[1].Text()
	assert.Equal(t, "hello world\nThe response stream failed: connection reset", text)
}

func TestTransportErrorSynthesizesAssistantMessage(t *testing.T) {
	provider := &fakeProvider{script: []scriptedResponse{
		{err: errors.New("API request failed with status 502")},
	}}
	conv := newTestConversation(t, provider, nil)

	require.NoError(t, conv.SendMessage("hello", nil, nil))
	waitStatus(t, conv, types.StatusError)

	messages := conv.Messages()
	require.Len(t, messages, 2)
	assert.Contains(t, messages[1].Text(), "502")
}

func TestEmptyTurnSynthesizesPlaceholder(t *testing.T) {
	provider := &fakeProvider{script: []scriptedResponse{
		{chunks: []*llm.StreamChunk{{Finished: true}}},
	}}
	conv := newTestConversation(t, provider, nil)

	require.NoError(t, conv.SendMessage("hello", nil, nil))
	waitIdle(t, conv)

	messages := conv.Messages()
	require.Len(t, messages, 2)
	assert.Equal(t, emptyTurnText, messages[1].Text())
}

func TestRegenerateReplacesAssistantTurn(t *testing.T) {
	provider := &fakeProvider{script: []scriptedResponse{
		textResponse("first answer"),
		textResponse("second answer"),
	}}
	conv := newTestConversation(t, provider, nil)

	require.NoError(t, conv.SendMessage("question", nil, nil))
	waitIdle(t, conv)
	require.NoError(t, conv.Regenerate())
	waitIdle(t, conv)

	messages := conv.Messages()
	require.Len(t, messages, 2)
	assert.Equal(t, "second answer", messages[1].Text())
}

func TestRegenerateWithoutUserMessage(t *testing.T) {
	conv := newTestConversation(t, &fakeProvider{}, nil)
	assert.Error(t, conv.Regenerate())
}

func TestResetMessagesClearsEverything(t *testing.T) {
	provider := &fakeProvider{script: []scriptedResponse{textResponse("hi")}}
	conv := newTestConversation(t, provider, nil)

	require.NoError(t, conv.SendMessage("hello", nil, nil))
	waitIdle(t, conv)
	conv.ResetMessages()

	assert.Empty(t, conv.Messages())
	assert.Equal(t, types.StatusIdle, conv.Status())
}

func TestUpdateConfigAppliesToNextCall(t *testing.T) {
	provider := &fakeProvider{model: "model-a", script: []scriptedResponse{textResponse("hi")}}
	conv := newTestConversation(t, provider, nil)

	require.NoError(t, conv.UpdateConfig(llm.Config{Model: "model-b"}))
	assert.Equal(t, "model-b", conv.currentProvider().GetModel())
}

func TestSendAfterDestroyFails(t *testing.T) {
	conv := NewConversation(&fakeProvider{}, tools.NewRegistry(), WithPaceInterval(0))
	conv.Destroy()
	assert.Error(t, conv.SendMessage("too late", nil, nil))
}

func TestUsageReportedAfterModelCall(t *testing.T) {
	provider := &fakeProvider{script: []scriptedResponse{
		{chunks: []*llm.StreamChunk{
			{Content: "hi"},
			{Finished: true, Usage: &llm.Usage{PromptTokens: 9, CompletionTokens: 1, TotalTokens: 10}},
		}},
	}}
	conv := newTestConversation(t, provider, nil)

	var mu sync.Mutex
	var reported *llm.Usage
	conv.Bus().Subscribe(events.KindUsageReported, func(payload interface{}) {
		mu.Lock()
		defer mu.Unlock()
		reported = payload.(*llm.Usage)
	})

	require.NoError(t, conv.SendMessage("hello", nil, nil))
	waitIdle(t, conv)

	mu.Lock()
	defer mu.Unlock()
	require.NotNil(t, reported)
	assert.Equal(t, 10, reported.TotalTokens)
}

func TestSendMessageAttachesPartsInOrder(t *testing.T) {
	provider := &fakeProvider{script: []scriptedResponse{textResponse("ok")}}
	conv := newTestConversation(t, provider, nil)

	file := &types.FilePart{MediaType: "application/pdf", Filename: "report.pdf", URL: "file:///tmp/report.pdf"}
	ctxItem := &types.ContextPart{ContextType: "clipboard", Label: "Clipboard", Value: "pasted"}
	require.NoError(t, conv.SendMessage("read this", []*types.FilePart{file}, []*types.ContextPart{ctxItem}))
	waitIdle(t, conv)

	user := conv.Messages()[0]
	require.Len(t, user.FileParts(), 1)
	require.Len(t, user.ContextParts(), 1)
	assert.Equal(t, "read this", user.Text())
}

func TestStatusTransitionsDuringTurn(t *testing.T) {
	provider := &fakeProvider{script: []scriptedResponse{
		{chunks: []*llm.StreamChunk{{Content: "hi"}, {Finished: true}}, chunkDelay: 5 * time.Millisecond},
	}}
	conv := newTestConversation(t, provider, nil)

	var mu sync.Mutex
	var seen []types.Status
	conv.Bus().Subscribe(events.KindStatusChanged, func(payload interface{}) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, payload.(types.Status))
	})

	require.NoError(t, conv.SendMessage("hello", nil, nil))
	waitIdle(t, conv)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []types.Status{types.StatusSubmitted, types.StatusStreaming, types.StatusIdle}, seen)
}

func TestCancelledToolPartsMarkedCancelled(t *testing.T) {
	started := make(chan struct{})
	provider := &fakeProvider{script: []scriptedResponse{
		toolCallResponse("slow1", "slow", "{}"),
	}}
	registry := tools.NewRegistry()
	registry.Register(&fnTool{name: "slow", fn: func(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}})
	conv := newTestConversation(t, provider, registry)

	require.NoError(t, conv.SendMessage("run the slow tool", nil, nil))
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("tool never started")
	}
	conv.Abort()
	waitIdle(t, conv)

	part := conv.Messages()[1].FindToolPart("slow1")
	require.NotNil(t, part)
	assert.Equal(t, types.ToolStateOutputError, part.State)
	assert.Equal(t, types.CancelledErrorText, part.ErrorText)
	assert.True(t, part.Cancelled())
}

func TestNudgeAppendedToWireHistoryOnly(t *testing.T) {
	provider := &fakeProvider{script: []scriptedResponse{
		toolCallResponse("c1", "noop", "{}"),
		textResponse("done"),
	}}
	registry := tools.NewRegistry()
	registry.Register(&fnTool{name: "noop", fn: func(context.Context, map[string]interface{}) (interface{}, error) {
		return "ok", nil
	}})
	conv := newTestConversation(t, provider, registry, WithNudgeAfterToolResults())

	require.NoError(t, conv.SendMessage("go", nil, nil))
	waitIdle(t, conv)

	require.Equal(t, 2, provider.callCount())
	second := provider.call(1)
	assert.Equal(t, nudgeText, second[len(second)-1].Text(), "nudge sent on the wire")
	for _, m := range conv.Messages() {
		assert.NotEqual(t, nudgeText, m.Text(), "nudge never stored")
	}
}

func TestSystemPromptPrepended(t *testing.T) {
	provider := &fakeProvider{script: []scriptedResponse{textResponse("hi")}}
	conv := newTestConversation(t, provider, nil, WithSystemPrompt("you are a browser agent"))

	require.NoError(t, conv.SendMessage("hello", nil, nil))
	waitIdle(t, conv)

	first := provider.call(0)[0]
	assert.Equal(t, types.RoleSystem, first.Role)
	assert.Equal(t, "you are a browser agent", first.Text())

	// The prompt lives on the wire, not in the store.
	assert.Equal(t, types.RoleUser, conv.Messages()[0].Role)
}

func TestStateTransitionsNeverRegress(t *testing.T) {
	provider := &fakeProvider{script: []scriptedResponse{
		toolCallResponse("c1", "track", "{}"),
		textResponse("done"),
	}}
	registry := tools.NewRegistry()
	registry.Register(&fnTool{name: "track", fn: func(context.Context, map[string]interface{}) (interface{}, error) {
		return "ok", nil
	}})
	conv := newTestConversation(t, provider, registry)

	var mu sync.Mutex
	var observed []types.ToolState
	conv.Bus().Subscribe(events.KindMessagesUpdated, func(payload interface{}) {
		mu.Lock()
		defer mu.Unlock()
		for _, m := range payload.([]*types.Message) {
			if part := m.FindToolPart("c1"); part != nil {
				if n := len(observed); n == 0 || observed[n-1] != part.State {
					observed = append(observed, part.State)
				}
				return
			}
		}
	})

	require.NoError(t, conv.SendMessage("go", nil, nil))
	waitIdle(t, conv)

	mu.Lock()
	defer mu.Unlock()
	expected := []types.ToolState{
		types.ToolStateInputAvailable,
		types.ToolStateExecuting,
		types.ToolStateOutputAvailable,
	}
	assert.Subset(t, expected, observed)
	for i := 1; i < len(observed); i++ {
		assert.NotEqual(t, types.ToolStateInputAvailable, observed[i], "state never regresses")
	}
}

func TestStreamFailureMidwayEndsInError(t *testing.T) {
	provider := &fakeProvider{script: []scriptedResponse{
		{chunks: []*llm.StreamChunk{
			{Content: "partial "},
			{Error: fmt.Errorf("connection reset")},
		}},
	}}
	conv := newTestConversation(t, provider, nil)

	require.NoError(t, conv.SendMessage("hello", nil, nil))
	waitStatus(t, conv, types.StatusError)

	last := conv.Messages()[1]
	assert.Contains(t, last.Text(), "connection reset")
}
