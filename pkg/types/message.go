// Package types defines the shared data model for the BrowserClaw agent
// core: conversation messages, their part variants, tool-call state, and
// the conversation status enum published to observers.
package types

import (
	"strings"

	"github.com/google/uuid"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"      // RoleUser is a message authored by the end user.
	RoleAssistant Role = "assistant" // RoleAssistant is a message produced by the model.
	RoleSystem    Role = "system"    // RoleSystem is instruction content sent ahead of the conversation.
	RoleTool      Role = "tool"      // RoleTool carries a tool execution result back to the model.
)

// PartKind discriminates the variants of a message Part.
type PartKind string

const (
	PartKindText    PartKind = "text"    // PartKindText is streamed assistant or user text.
	PartKindTool    PartKind = "tool"    // PartKindTool is a model-proposed tool invocation and its outcome.
	PartKindFile    PartKind = "file"    // PartKindFile is an immutable file attachment.
	PartKindContext PartKind = "context" // PartKindContext is user-supplied reference material.
)

// ToolState tracks a tool part through its lifecycle. Transitions only move
// forward: input-available -> executing -> output-available | output-error.
type ToolState string

const (
	ToolStateInputAvailable  ToolState = "input-available"  // ToolStateInputAvailable means the model proposed a call with parsed arguments.
	ToolStateExecuting       ToolState = "executing"        // ToolStateExecuting means the orchestrator dispatched the call.
	ToolStateOutputAvailable ToolState = "output-available" // ToolStateOutputAvailable means the tool succeeded.
	ToolStateOutputError     ToolState = "output-error"     // ToolStateOutputError means the tool failed or was cancelled.
)

// CancelledErrorText is the error text used for tool parts whose execution
// was cancelled rather than genuinely failing.
const CancelledErrorText = "cancelled"

// Part is the tagged union of message content variants.
type Part interface {
	Kind() PartKind
}

// TextPart accumulates characters while an assistant message streams and is
// immutable afterwards.
type TextPart struct {
	Text string
}

// Kind returns PartKindText.
func (p *TextPart) Kind() PartKind { return PartKindText }

// ToolPart represents one model-proposed tool call and, after execution, its
// outcome. ToolCallID is unique within the owning message and is the join
// key between the model's call and the orchestrator's result.
type ToolPart struct {
	ToolName   string
	ToolCallID string
	Input      map[string]interface{}
	State      ToolState
	Output     interface{}
	ErrorText  string
}

// Kind returns PartKindTool.
func (p *ToolPart) Kind() PartKind { return PartKindTool }

// Resolved reports whether the tool part reached a terminal state.
func (p *ToolPart) Resolved() bool {
	return p.State == ToolStateOutputAvailable || p.State == ToolStateOutputError
}

// Cancelled reports whether the part ended as a cancelled execution rather
// than a genuine tool failure.
func (p *ToolPart) Cancelled() bool {
	return p.State == ToolStateOutputError && p.ErrorText == CancelledErrorText
}

// FilePart is an immutable file attachment on a user message.
type FilePart struct {
	MediaType string
	Filename  string
	URL       string
}

// Kind returns PartKindFile.
func (p *FilePart) Kind() PartKind { return PartKindFile }

// ContextPart is user-supplied reference material attached to a message,
// such as a tab, page excerpt, clipboard content, or bookmark.
type ContextPart struct {
	ContextType string
	Label       string
	Value       string
	Metadata    map[string]interface{}
}

// Kind returns PartKindContext.
func (p *ContextPart) Kind() PartKind { return PartKindContext }

// Message is one entry in the conversation. Messages are immutable once
// fully constructed except for the assistant message currently being
// streamed, which is appended to in place until the turn settles.
type Message struct {
	ID    string
	Role  Role
	Parts []Part
}

// NewMessage creates a message with a fresh unique ID.
func NewMessage(role Role, parts ...Part) *Message {
	return &Message{
		ID:    uuid.New().String(),
		Role:  role,
		Parts: parts,
	}
}

// NewUserMessage creates a user message with a single text part followed by
// any additional parts (attachments, context items).
func NewUserMessage(text string, extra ...Part) *Message {
	parts := make([]Part, 0, len(extra)+1)
	parts = append(parts, &TextPart{Text: text})
	parts = append(parts, extra...)
	return NewMessage(RoleUser, parts...)
}

// NewAssistantMessage creates an empty assistant message ready to receive
// streamed parts.
func NewAssistantMessage() *Message {
	return NewMessage(RoleAssistant)
}

// NewAssistantTextMessage creates a fully-formed assistant message holding a
// single text part. Used for synthesized denial, placeholder, and error
// messages.
func NewAssistantTextMessage(text string) *Message {
	return NewMessage(RoleAssistant, &TextPart{Text: text})
}

// Text concatenates the message's text parts in order.
func (m *Message) Text() string {
	var b strings.Builder
	for _, p := range m.Parts {
		if tp, ok := p.(*TextPart); ok {
			b.WriteString(tp.Text)
		}
	}
	return b.String()
}

// ToolParts returns the message's tool parts in order.
func (m *Message) ToolParts() []*ToolPart {
	var parts []*ToolPart
	for _, p := range m.Parts {
		if tp, ok := p.(*ToolPart); ok {
			parts = append(parts, tp)
		}
	}
	return parts
}

// PendingToolParts returns tool parts still waiting to be dispatched.
func (m *Message) PendingToolParts() []*ToolPart {
	var parts []*ToolPart
	for _, p := range m.ToolParts() {
		if p.State == ToolStateInputAvailable {
			parts = append(parts, p)
		}
	}
	return parts
}

// AllToolsResolved reports whether every tool part reached a terminal state.
// It returns false when the message has no tool parts at all.
func (m *Message) AllToolsResolved() bool {
	parts := m.ToolParts()
	if len(parts) == 0 {
		return false
	}
	for _, p := range parts {
		if !p.Resolved() {
			return false
		}
	}
	return true
}

// FindToolPart returns the tool part with the given call ID, or nil.
func (m *Message) FindToolPart(toolCallID string) *ToolPart {
	for _, p := range m.ToolParts() {
		if p.ToolCallID == toolCallID {
			return p
		}
	}
	return nil
}

// ContextParts returns the message's context parts in order.
func (m *Message) ContextParts() []*ContextPart {
	var parts []*ContextPart
	for _, p := range m.Parts {
		if cp, ok := p.(*ContextPart); ok {
			parts = append(parts, cp)
		}
	}
	return parts
}

// FileParts returns the message's file parts in order.
func (m *Message) FileParts() []*FilePart {
	var parts []*FilePart
	for _, p := range m.Parts {
		if fp, ok := p.(*FilePart); ok {
			parts = append(parts, fp)
		}
	}
	return parts
}
