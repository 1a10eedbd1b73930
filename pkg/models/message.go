// Package models defines the shared data model for the orchestration core:
// conversation messages, agent context, tool contracts, plans, and
// research jobs. Pure data — no behavior beyond small helpers.
package models

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ContentBlockType identifies a typed content block within a message.
type ContentBlockType string

const (
	BlockText       ContentBlockType = "text"
	BlockImageRef   ContentBlockType = "image_ref"
	BlockToolUse    ContentBlockType = "tool_use"
	BlockToolResult ContentBlockType = "tool_result"
)

// ContentBlock is one typed element of a multi-part message body.
type ContentBlock struct {
	Type ContentBlockType `json:"type"`
	// Text is set for BlockText blocks.
	Text string `json:"text,omitempty"`
	// MediaType and Data carry an inline base64 image for BlockImageRef.
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	// ToolCallID and Name identify the call for BlockToolUse / BlockToolResult.
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Name       string         `json:"name,omitempty"`
	Input      map[string]any `json:"input,omitempty"`
}

// ToolCall is a model-requested tool invocation attached to an assistant
// message.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Message is one immutable entry in a conversation. Content carries plain
// text; Blocks carries structured multi-part bodies (images, tool results).
// At most one of the two is populated.
type Message struct {
	Role    Role           `json:"role"`
	Content string         `json:"content,omitempty"`
	Blocks  []ContentBlock `json:"blocks,omitempty"`

	// ToolCalls is set on assistant messages that request tool execution.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	// ToolCallID is set on tool-role replies and links back to the call.
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// Text returns the textual portion of the message: Content when set,
// otherwise the concatenation of text blocks.
func (m Message) Text() string {
	if m.Content != "" {
		return m.Content
	}
	var out string
	for _, b := range m.Blocks {
		if b.Type == BlockText {
			out += b.Text
		}
	}
	return out
}

// IsEmpty reports whether the message carries no content at all.
func (m Message) IsEmpty() bool {
	return m.Content == "" && len(m.Blocks) == 0 && len(m.ToolCalls) == 0
}

// StripImages returns a copy of the message with image blocks removed.
// Used when folding history into summarization prompts.
func (m Message) StripImages() Message {
	if len(m.Blocks) == 0 {
		return m
	}
	out := m
	out.Blocks = make([]ContentBlock, 0, len(m.Blocks))
	for _, b := range m.Blocks {
		if b.Type == BlockImageRef {
			continue
		}
		out.Blocks = append(out.Blocks, b)
	}
	return out
}

// TokenUsage aggregates token consumption across model calls.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Add accumulates usage from a single call.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
}
