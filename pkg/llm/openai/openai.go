// Package openai provides an OpenAI-compatible streaming provider for the
// agent core.
//
// The implementation uses raw HTTP streaming and decodes SSE events
// directly, which gives better compatibility with OpenAI-compatible APIs
// (local models, gateways, proxies) that may include SSE comments or have
// slight format variations. Message params are built with the openai-go
// SDK types so the wire format stays canonical.
package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/openai/openai-go"

	"github.com/kelvincushman/browserclaw/pkg/llm"
	"github.com/kelvincushman/browserclaw/pkg/types"
)

const (
	// DefaultBaseURL is the default OpenAI API base URL
	DefaultBaseURL = "https://api.openai.com/v1"

	// DefaultModel is used when no model is configured.
	DefaultModel = "gpt-4o"
)

// Provider implements llm.Provider for OpenAI-compatible APIs.
type Provider struct {
	httpClient   *http.Client
	apiKey       string
	baseURL      string
	model        string
	extraHeaders map[string]string
}

// ProviderOption is a function that configures a Provider.
type ProviderOption func(*Provider)

// WithModel sets the model to use for completions.
func WithModel(model string) ProviderOption {
	return func(p *Provider) {
		p.model = model
	}
}

// WithBaseURL sets a custom base URL for OpenAI-compatible APIs.
// This enables using gateways, local models, or other compatible services.
func WithBaseURL(baseURL string) ProviderOption {
	return func(p *Provider) {
		p.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithExtraHeaders sets additional headers sent with every request.
func WithExtraHeaders(headers map[string]string) ProviderOption {
	return func(p *Provider) {
		p.extraHeaders = headers
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) ProviderOption {
	return func(p *Provider) {
		p.httpClient = client
	}
}

// NewProvider creates a new OpenAI-compatible provider.
//
// If apiKey is empty it falls back to the OPENAI_API_KEY environment
// variable; if no base URL is set via option, OPENAI_BASE_URL is consulted
// before the default.
func NewProvider(apiKey string, opts ...ProviderOption) (*Provider, error) {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required (provide via parameter or OPENAI_API_KEY environment variable)")
	}

	p := &Provider{
		model:      DefaultModel,
		apiKey:     apiKey,
		httpClient: &http.Client{},
		baseURL:    DefaultBaseURL,
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.baseURL == DefaultBaseURL {
		if envBaseURL := os.Getenv("OPENAI_BASE_URL"); envBaseURL != "" {
			p.baseURL = strings.TrimRight(envBaseURL, "/")
		}
	}

	return p, nil
}

// Reconfigure returns a copy of p with the non-empty fields of cfg applied.
// The copy shares the HTTP client (connection pool) with the original. It
// implements llm.Reconfigurable.
func (p *Provider) Reconfigure(cfg llm.Config) llm.Provider {
	clone := *p
	if cfg.Model != "" {
		clone.model = cfg.Model
	}
	if cfg.BaseURL != "" {
		clone.baseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.APIKey != "" {
		clone.apiKey = cfg.APIKey
	}
	if cfg.ExtraHeaders != nil {
		headers := make(map[string]string, len(cfg.ExtraHeaders))
		for k, v := range cfg.ExtraHeaders {
			headers[k] = v
		}
		clone.extraHeaders = headers
	}
	return &clone
}

// GetModel returns the model name being used.
func (p *Provider) GetModel() string {
	return p.model
}

// GetBaseURL returns the base URL being used.
func (p *Provider) GetBaseURL() string {
	return p.baseURL
}

// StreamCompletion opens one streaming POST against /chat/completions and
// decodes the SSE response into StreamChunk instances.
func (p *Provider) StreamCompletion(ctx context.Context, messages []*types.Message, tools []llm.ToolDefinition) (<-chan *llm.StreamChunk, error) {
	resp, err := p.sendStreamRequest(ctx, messages, tools)
	if err != nil {
		return nil, err
	}
	if resp.Body == nil {
		return nil, fmt.Errorf("API response has no body")
	}

	chunks := make(chan *llm.StreamChunk, 10)
	go p.processStreamResponse(ctx, resp, chunks)
	return chunks, nil
}

// sendStreamRequest creates and sends the HTTP request for streaming
func (p *Provider) sendStreamRequest(ctx context.Context, messages []*types.Message, tools []llm.ToolDefinition) (*http.Response, error) {
	reqBody := map[string]interface{}{
		"model":    p.model,
		"messages": convertMessages(messages),
		"stream":   true,
		"stream_options": map[string]interface{}{
			"include_usage": true,
		},
	}
	if len(tools) > 0 {
		reqBody["tools"] = convertTools(tools)
		reqBody["tool_choice"] = "auto"
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := p.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Accept", "text/event-stream")
	for key, value := range p.extraHeaders {
		req.Header.Set(key, value)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, fmt.Errorf("API request failed with status %d (failed to read error body: %w)", resp.StatusCode, readErr)
		}
		return nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return resp, nil
}

// sseChunk mirrors the wire shape of one streamed completion frame.
type sseChunk struct {
	Choices []struct {
		Delta struct {
			Role      string `json:"role"`
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// processStreamResponse processes the SSE stream and sends chunks to the channel
func (p *Provider) processStreamResponse(ctx context.Context, resp *http.Response, chunks chan<- *llm.StreamChunk) {
	defer close(chunks)
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	firstChunk := true
	var usage *llm.Usage

	for scanner.Scan() {
		line := scanner.Text()

		if !isValidSSELine(line) {
			continue
		}

		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			p.sendChunk(ctx, &llm.StreamChunk{Finished: true, Usage: usage}, chunks)
			return
		}

		var frame sseChunk
		if err := json.Unmarshal([]byte(data), &frame); err != nil {
			continue // Skip malformed frames silently
		}

		if frame.Usage != nil {
			usage = &llm.Usage{
				PromptTokens:     frame.Usage.PromptTokens,
				CompletionTokens: frame.Usage.CompletionTokens,
				TotalTokens:      frame.Usage.TotalTokens,
			}
		}

		if len(frame.Choices) == 0 {
			continue
		}

		delta := frame.Choices[0].Delta
		chunk := &llm.StreamChunk{Content: delta.Content}

		if firstChunk && delta.Role != "" {
			chunk.Role = delta.Role
			firstChunk = false
		}

		for _, tc := range delta.ToolCalls {
			chunk.ToolCalls = append(chunk.ToolCalls, llm.ToolCallDelta{
				Index:     tc.Index,
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}

		if chunk.Content == "" && len(chunk.ToolCalls) == 0 && chunk.Role == "" {
			continue
		}

		if !p.sendChunk(ctx, chunk, chunks) {
			return
		}
	}

	if err := scanner.Err(); err != nil {
		chunks <- &llm.StreamChunk{Error: fmt.Errorf("stream read error: %w", err)}
	}
}

// sendChunk delivers a chunk, aborting if the context is cancelled.
func (p *Provider) sendChunk(ctx context.Context, chunk *llm.StreamChunk, chunks chan<- *llm.StreamChunk) bool {
	select {
	case chunks <- chunk:
		return true
	case <-ctx.Done():
		chunks <- &llm.StreamChunk{Error: ctx.Err()}
		return false
	}
}

// isValidSSELine checks if a line is a valid SSE data line
func isValidSSELine(line string) bool {
	return line != "" && !strings.HasPrefix(line, ":") && strings.HasPrefix(line, "data: ")
}

// convertMessages converts conversation history into the OpenAI wire format.
// An assistant message with resolved tool parts expands into the assistant
// message carrying tool_calls followed by one role:"tool" result message
// per resolved part, joined by tool_call_id.
func convertMessages(messages []*types.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))

	for _, msg := range messages {
		switch msg.Role {
		case types.RoleSystem:
			out = append(out, openai.SystemMessage(msg.Text()))
		case types.RoleUser:
			out = append(out, openai.UserMessage(renderUserContent(msg)))
		case types.RoleAssistant:
			out = append(out, convertAssistantMessage(msg)...)
		case types.RoleTool:
			// Standalone tool messages only appear in externally seeded
			// histories; results produced by this core live on tool parts.
			for _, part := range msg.ToolParts() {
				out = append(out, openai.ToolMessage(renderToolOutput(part), part.ToolCallID))
			}
		}
	}

	return out
}

// convertAssistantMessage renders one assistant message, expanding tool
// parts into tool_calls plus tool result messages.
func convertAssistantMessage(msg *types.Message) []openai.ChatCompletionMessageParamUnion {
	text := msg.Text()
	toolParts := msg.ToolParts()

	if len(toolParts) == 0 {
		if text == "" {
			return nil
		}
		return []openai.ChatCompletionMessageParamUnion{openai.AssistantMessage(text)}
	}

	toolCalls := make([]openai.ChatCompletionMessageToolCallParam, 0, len(toolParts))
	for _, part := range toolParts {
		args, err := json.Marshal(part.Input)
		if err != nil || len(args) == 0 {
			args = []byte("{}")
		}
		toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallParam{
			ID: part.ToolCallID,
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      part.ToolName,
				Arguments: string(args),
			},
		})
	}

	assistant := openai.ChatCompletionAssistantMessageParam{ToolCalls: toolCalls}
	if text != "" {
		assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{OfString: openai.String(text)}
	}

	out := []openai.ChatCompletionMessageParamUnion{{OfAssistant: &assistant}}
	for _, part := range toolParts {
		if part.Resolved() {
			out = append(out, openai.ToolMessage(renderToolOutput(part), part.ToolCallID))
		}
	}
	return out
}

// renderUserContent flattens a user message's text, file, and context parts
// into a single content string.
func renderUserContent(msg *types.Message) string {
	var b strings.Builder
	b.WriteString(msg.Text())

	for _, fp := range msg.FileParts() {
		b.WriteString("\n\n[attachment")
		if fp.Filename != "" {
			b.WriteString(": " + fp.Filename)
		}
		b.WriteString(" (" + fp.MediaType + ")] " + fp.URL)
	}
	for _, cp := range msg.ContextParts() {
		fmt.Fprintf(&b, "\n\n[%s context: %s]\n%s", cp.ContextType, cp.Label, cp.Value)
	}
	return b.String()
}

// renderToolOutput serializes a tool part's outcome for the model.
func renderToolOutput(part *types.ToolPart) string {
	if part.State == types.ToolStateOutputError {
		return fmt.Sprintf(`{"error":%q}`, part.ErrorText)
	}
	data, err := json.Marshal(part.Output)
	if err != nil {
		return fmt.Sprintf(`{"error":"unserializable tool output: %v"}`, err)
	}
	return string(data)
}

// convertTools renders tool definitions for the request's "tools" array.
func convertTools(tools []llm.ToolDefinition) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(tools))
	for _, tool := range tools {
		params := tool.Parameters
		if params == nil {
			params = map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
		}
		out = append(out, map[string]interface{}{
			"type": "function",
			"function": map[string]interface{}{
				"name":        tool.Name,
				"description": tool.Description,
				"parameters":  params,
			},
		})
	}
	return out
}
