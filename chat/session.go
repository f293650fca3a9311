package chat

import (
	"time"

	"github.com/hupe1980/burrow/config"
	"github.com/hupe1980/burrow/event"
	"github.com/hupe1980/burrow/internal/util"
	"github.com/hupe1980/burrow/logging"
)

// SystemPromptKey is the configuration key holding the system prompt
// template rendered by SystemPrompt.
const SystemPromptKey = "session.system_prompt_template"

// Session is the live state of one conversation: identity, the last
// exchange, and the message log. A session with ID 0 has never been saved.
type Session struct {
	ID           int
	Alias        string
	Title        string
	LastPrompt   string
	LastResponse string
	History      *History

	cfg    *config.Config
	logger logging.Logger
}

// NewSession creates a fresh unsaved session bound to the given
// configuration and bus.
func NewSession(cfg *config.Config, bus *event.Bus, logger logging.Logger) *Session {
	logger = logging.OrNoOp(logger)
	return &Session{
		History: NewHistory(cfg, bus, logger),
		cfg:     cfg,
		logger:  logger,
	}
}

// Config returns the configuration the session was created with.
func (s *Session) Config() *config.Config {
	return s.cfg
}

// NewConversation resets the session to a blank conversation. The saved
// identity and alias survive only when requested; title and the last
// exchange are always dropped.
func (s *Session) NewConversation(preserveID, preserveAlias bool) {
	if !preserveID {
		s.ID = 0
	}
	if !preserveAlias {
		s.Alias = ""
	}
	s.Title = ""
	s.LastPrompt = ""
	s.LastResponse = ""
	s.History.Clear()
}

// Turn runs fn inside the conversation's transactional boundary: messages
// appended during fn become permanent when fn returns nil and are discarded
// when it returns an error or panics. Panics are re-raised after rollback.
func (s *Session) Turn(fn func() error) (err error) {
	start := time.Now()
	committed := false

	defer func() {
		if !committed {
			s.History.Rollback()
		}
		if bl, ok := s.logger.(*logging.BurrowLogger); ok {
			bl.LogTurn(s.ID, s.History.NumMessages(), committed, time.Since(start))
		}
	}()

	if err = fn(); err != nil {
		return err
	}

	s.History.Commit()
	committed = true
	return nil
}

// SystemPrompt renders the configured system prompt template against the
// current configuration values. On render failure the raw template is
// returned so a malformed template never blocks a conversation.
func (s *Session) SystemPrompt() string {
	raw := s.cfg.String(SystemPromptKey)
	rendered, err := util.RenderTemplate(raw, s.cfg.Snapshot())
	if err != nil {
		s.logger.Warn("Failed to render system prompt template", "error", err)
		return raw
	}
	return rendered
}

// Close releases the session's event subscriptions.
func (s *Session) Close() {
	s.History.Close()
}
