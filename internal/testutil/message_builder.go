package testutil

import (
	"github.com/hupe1980/burrow/chat"
)

// MessageBuilder provides a fluent helper for constructing message
// sequences in tests. Example:
//
//	msgs := NewMessageBuilder().System("be brief").User("hi").Assistant("hello").Build()
//
// Chain only the parts you need.
type MessageBuilder struct {
	messages []chat.Message
}

// NewMessageBuilder creates an empty builder.
func NewMessageBuilder() *MessageBuilder { return &MessageBuilder{} }

// System appends a system message (chainable).
func (b *MessageBuilder) System(text string) *MessageBuilder {
	b.messages = append(b.messages, chat.NewMessage(chat.RoleSystem, text))
	return b
}

// User appends a user message (chainable).
func (b *MessageBuilder) User(text string) *MessageBuilder {
	b.messages = append(b.messages, chat.NewMessage(chat.RoleUser, text))
	return b
}

// Assistant appends an assistant message (chainable).
func (b *MessageBuilder) Assistant(text string) *MessageBuilder {
	b.messages = append(b.messages, chat.NewMessage(chat.RoleAssistant, text))
	return b
}

// ToolRoundTrip appends an assistant tool-call message followed by the tool
// result message, linked by a generated call id (chainable).
func (b *MessageBuilder) ToolRoundTrip(name, args, result string) *MessageBuilder {
	call := chat.NewToolCall(name, args)
	b.messages = append(b.messages,
		chat.Message{Role: chat.RoleAssistant, ToolCalls: []chat.ToolCall{call}},
		chat.Message{Role: chat.RoleTool, ToolCallID: call.ID, Content: chat.TextContent(result)},
	)
	return b
}

// Message appends a custom message (chainable).
func (b *MessageBuilder) Message(msg chat.Message) *MessageBuilder {
	b.messages = append(b.messages, msg)
	return b
}

// Build returns the assembled sequence.
func (b *MessageBuilder) Build() []chat.Message {
	return append([]chat.Message(nil), b.messages...)
}
