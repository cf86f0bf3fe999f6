// Package models holds the shared conversation and task types used across
// the queue, scheduler, agent and API layers.
package models

// Role identifies the author of a conversation message.
type Role string

// Conversation roles.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ContentPart is one element of a multi-part message body. Text parts carry
// Text; image parts carry ImageURL. Exactly one of the two is set.
type ContentPart struct {
	Type     string `json:"type"` // "text" or "image_url"
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// ToolCall is a model-issued tool invocation. Arguments is the raw JSON
// string as emitted by the provider (fragments already concatenated).
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is a single entry in a conversation. Content holds plain text;
// Parts is set instead when the message carries multi-part content (e.g. an
// attached image). Tool-role messages reference the call they answer via
// ToolCallID.
type Message struct {
	Role       Role          `json:"role"`
	Content    string        `json:"content"`
	Parts      []ContentPart `json:"parts,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall    `json:"tool_calls,omitempty"`
}

// Text returns the textual content of the message, flattening parts.
func (m Message) Text() string {
	if len(m.Parts) == 0 {
		return m.Content
	}
	var s string
	for _, p := range m.Parts {
		if p.Type == "text" {
			s += p.Text
		}
	}
	return s
}

// Sanitize returns a copy safe for JSON persistence: non-text parts are
// replaced by a text placeholder so persisted history never embeds image
// payloads.
func (m Message) Sanitize() Message {
	if len(m.Parts) == 0 {
		return m
	}
	out := m
	out.Parts = make([]ContentPart, 0, len(m.Parts))
	for _, p := range m.Parts {
		if p.Type == "text" {
			out.Parts = append(out.Parts, p)
			continue
		}
		out.Parts = append(out.Parts, ContentPart{Type: "text", Text: "[image was attached]"})
	}
	return out
}
