package chat

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/hupe1980/burrow/config"
	"github.com/hupe1980/burrow/event"
	"github.com/hupe1980/burrow/logging"
)

// MaxLengthKey is the configuration key bounding the observable history
// length. A typed-null value means unbounded; zero is invalid and is
// corrected to one.
const MaxLengthKey = "session.max_history_length"

// History is the ordered message sequence of one conversation with a
// commit/rollback boundary around each turn.
//
// The full sequence is kept internally between commits so Rollback can
// always restore the finalized state; the configured maximum applies to the
// observable view (Messages) and the stored sequence is trimmed on Commit
// and SetHistory.
type History struct {
	mu        sync.Mutex
	cfg       *config.Config
	logger    logging.Logger
	group     *event.Group
	messages  []Message
	finalized int
}

// NewHistory creates an empty log. When a bus is supplied the history
// subscribes to config.update to keep the configured maximum valid; callers
// owning the history must Close it to release that subscription.
func NewHistory(cfg *config.Config, bus *event.Bus, logger logging.Logger) *History {
	h := &History{cfg: cfg, logger: logging.OrNoOp(logger)}
	if bus != nil {
		h.group = bus.NewGroup()
		h.group.Subscribe(config.EventUpdate, func(any) { h.validateConfig() })
	}
	h.validateConfig()
	return h
}

// Close releases the history's event subscriptions.
func (h *History) Close() {
	if h.group != nil {
		h.group.Close()
	}
}

// validateConfig corrects an invalid configured maximum. Zero cannot express
// a sensible bound; it is coerced to one, and the correction is persisted
// without firing config.update since this may run inside its delivery.
func (h *History) validateConfig() {
	if h.cfg == nil {
		return
	}
	if n, ok := h.cfg.NullableInt(MaxLengthKey); ok && n == 0 {
		h.logger.Warn("Invalid max history length 0; must be greater than 0, using 1", "key", MaxLengthKey)
		if err := h.cfg.SetSilent(MaxLengthKey, 1); err != nil {
			h.logger.Error("Failed to persist corrected max history length", "key", MaxLengthKey, "error", err)
		}
	}
}

// maxLength returns the effective maximum (0 = unbounded).
func (h *History) maxLength() int {
	if h.cfg == nil {
		return 0
	}
	n, ok := h.cfg.NullableInt(MaxLengthKey)
	if !ok {
		return 0
	}
	if n < 1 {
		return 1
	}
	return n
}

// AddMessage appends a single message with plain text content. The tool
// role is rejected here; tool round-trip messages carry extra fields and go
// through AddToolMessages.
func (h *History) AddMessage(role Role, text string) error {
	if role == RoleTool {
		return fmt.Errorf("role tool requires AddToolMessages")
	}
	if !role.Valid() {
		return fmt.Errorf("unknown role: %s", role)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, NewMessage(role, text))
	return nil
}

// AddToolMessages appends the assistant/tool messages produced by a
// tool-calling round trip.
func (h *History) AddToolMessages(messages []Message) error {
	for _, msg := range messages {
		if msg.Role != RoleTool && msg.Role != RoleAssistant {
			return fmt.Errorf("AddToolMessages accepts only tool or assistant messages, got role %q", msg.Role)
		}
		if msg.Role == RoleTool && msg.ToolCallID == "" {
			return fmt.Errorf("tool message requires a tool_call_id")
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, messages...)
	return nil
}

// SetHistory validates the full sequence against the message schema and
// replaces the log wholesale, truncating and finalizing the result.
func (h *History) SetHistory(messages []Message) error {
	if err := ValidateMessages(messages); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append([]Message(nil), messages...)
	h.truncateLocked()
	h.finalized = len(h.messages)
	return nil
}

// Messages returns the observable history: the most recent messages within
// the configured maximum. The slice is a copy.
func (h *History) Messages() []Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.viewLocked()
}

func (h *History) viewLocked() []Message {
	msgs := h.messages
	if max := h.maxLength(); max > 0 && len(msgs) > max {
		msgs = msgs[len(msgs)-max:]
	}
	return append([]Message(nil), msgs...)
}

// NumMessages returns the total number of stored messages, including
// not-yet-committed ones.
func (h *History) NumMessages() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.messages)
}

// MessagesJSONL renders the observable history as one JSON object per line.
func (h *History) MessagesJSONL() (string, error) {
	var lines []string
	for _, msg := range h.Messages() {
		data, err := json.Marshal(msg)
		if err != nil {
			return "", err
		}
		lines = append(lines, string(data))
	}
	return strings.Join(lines, "\n"), nil
}

// Clear removes all messages and resets the finalized marker.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = nil
	h.finalized = 0
}

// Commit makes every message appended since the last commit permanent: the
// stored sequence is trimmed to the configured maximum and the finalized
// marker advances to the current length.
func (h *History) Commit() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.truncateLocked()
	h.finalized = len(h.messages)
	h.logger.Debug("History committed", "finalized", h.finalized)
}

// Rollback discards every message appended since the last commit. It never
// fails, so the error that triggered it remains the one surfaced.
func (h *History) Rollback() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.logger.Debug("History rolled back", "finalized", h.finalized, "discarded", len(h.messages)-h.finalized)
	h.messages = h.messages[:h.finalized]
}

func (h *History) truncateLocked() {
	if max := h.maxLength(); max > 0 && len(h.messages) > max {
		h.messages = append([]Message(nil), h.messages[len(h.messages)-max:]...)
	}
}
