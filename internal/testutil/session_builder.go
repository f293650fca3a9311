package testutil

import (
	"github.com/hupe1980/burrow/chat"
	"github.com/hupe1980/burrow/config"
)

// SessionBuilder helps construct populated live sessions with fluent
// chaining for tests. Example:
//
//	sess := NewSessionBuilder(cfg).Alias("work").User("hi").Assistant("hello").Build()
//
// The built session's history is committed so it round-trips through
// persistence unchanged. Callers own the session and must Close it.
type SessionBuilder struct {
	cfg          *config.Config
	alias        string
	title        string
	lastPrompt   string
	lastResponse string
	messages     *MessageBuilder
}

// NewSessionBuilder creates a builder bound to a configuration.
func NewSessionBuilder(cfg *config.Config) *SessionBuilder {
	return &SessionBuilder{cfg: cfg, messages: NewMessageBuilder()}
}

// Alias sets the session alias (chainable).
func (b *SessionBuilder) Alias(alias string) *SessionBuilder { b.alias = alias; return b }

// Title sets the session title (chainable).
func (b *SessionBuilder) Title(title string) *SessionBuilder { b.title = title; return b }

// LastExchange sets the last prompt/response pair (chainable).
func (b *SessionBuilder) LastExchange(prompt, response string) *SessionBuilder {
	b.lastPrompt = prompt
	b.lastResponse = response
	return b
}

// User appends a user message to the history (chainable).
func (b *SessionBuilder) User(text string) *SessionBuilder {
	b.messages.User(text)
	return b
}

// Assistant appends an assistant message to the history (chainable).
func (b *SessionBuilder) Assistant(text string) *SessionBuilder {
	b.messages.Assistant(text)
	return b
}

// Build returns a live session with pre-populated, committed history.
func (b *SessionBuilder) Build() *chat.Session {
	sess := chat.NewSession(b.cfg, b.cfg.Bus(), nil)
	sess.Alias = b.alias
	sess.Title = b.title
	sess.LastPrompt = b.lastPrompt
	sess.LastResponse = b.lastResponse

	if msgs := b.messages.Build(); len(msgs) > 0 {
		if err := sess.History.SetHistory(msgs); err != nil {
			panic(err)
		}
	}
	return sess
}
