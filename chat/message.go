package chat

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Role identifies the sender of a message. The set is closed.
type Role string

const (
	// RoleSystem marks system prompt messages.
	RoleSystem Role = "system"
	// RoleUser marks user messages.
	RoleUser Role = "user"
	// RoleAssistant marks model responses.
	RoleAssistant Role = "assistant"
	// RoleTool marks tool results from a tool-calling round trip.
	RoleTool Role = "tool"
)

// Valid reports whether r is one of the allowed roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	default:
		return false
	}
}

// Content part types.
const (
	PartTypeText     = "text"
	PartTypeImageURL = "image_url"
)

// Message is one entry of a conversation. At least one of Content,
// ToolCalls, Refusal or FileAttachments must be present.
type Message struct {
	Role            Role             `json:"role"`
	Content         *Content         `json:"content,omitempty"`
	ToolCalls       []ToolCall       `json:"tool_calls,omitempty"`
	ToolCallID      string           `json:"tool_call_id,omitempty"`
	Refusal         *string          `json:"refusal,omitempty"`
	FileAttachments []FileAttachment `json:"file_attachments,omitempty"`
}

// NewMessage builds a plain text message.
func NewMessage(role Role, text string) Message {
	return Message{Role: role, Content: TextContent(text)}
}

// Content is either plain text or an ordered list of typed parts. On the
// wire it serializes as a JSON string or a JSON array respectively.
type Content struct {
	Text  string
	Parts []ContentPart
}

// TextContent wraps a string as message content.
func TextContent(text string) *Content {
	return &Content{Text: text}
}

// PartsContent wraps a list of typed parts as message content.
func PartsContent(parts ...ContentPart) *Content {
	return &Content{Parts: parts}
}

// AsText flattens the content to plain text, joining text parts with
// newlines when the structured form is used.
func (c *Content) AsText() string {
	if c == nil {
		return ""
	}
	if c.Parts == nil {
		return c.Text
	}
	var texts []string
	for _, p := range c.Parts {
		if p.Type == PartTypeText {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// MarshalJSON encodes the content as a string or a part array.
func (c Content) MarshalJSON() ([]byte, error) {
	if c.Parts != nil {
		return json.Marshal(c.Parts)
	}
	return json.Marshal(c.Text)
}

// UnmarshalJSON accepts both the string and the part-array form.
func (c *Content) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		c.Text = text
		c.Parts = nil
		return nil
	}
	var parts []ContentPart
	if err := json.Unmarshal(data, &parts); err == nil {
		c.Text = ""
		c.Parts = parts
		return nil
	}
	return fmt.Errorf("content must be a string or a list of typed parts")
}

// ContentPart is one typed segment of structured content.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// TextPart builds a text content part.
func TextPart(text string) ContentPart {
	return ContentPart{Type: PartTypeText, Text: text}
}

// ImagePart builds an image_url content part. The URL may be a regular URI
// or a base64 data URI.
func ImagePart(url string) ContentPart {
	return ContentPart{Type: PartTypeImageURL, ImageURL: &ImageURL{URL: url}}
}

// ImageURL references an image by URI.
type ImageURL struct {
	URL string `json:"url"`
}

// ToolCall is an assistant-requested tool invocation.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall names the tool and carries its serialized argument payload.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// NewToolCall builds a function tool call with a generated id.
func NewToolCall(name, arguments string) ToolCall {
	return ToolCall{
		ID:       "call_" + uuid.NewString(),
		Type:     "function",
		Function: FunctionCall{Name: name, Arguments: arguments},
	}
}

// FileAttachment describes a file carried with a message.
type FileAttachment struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
	URL      string `json:"url,omitempty"`
}
