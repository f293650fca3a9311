package session

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hupe1980/burrow/chat"
)

// Record versions. VersionLegacy records are still readable; new writes
// always produce VersionCurrent.
const (
	VersionCurrent = "0.2"
	VersionLegacy  = "0.1"
)

// ErrUnknownVersion is returned when a stored record declares a version this
// codec does not understand.
var ErrUnknownVersion = errors.New("unknown session record version")

// Record is the persisted form of a session: identity, the configuration
// diff captured at save time, the conversation context and the full message
// history.
type Record struct {
	Version      string
	Settings     map[string]any
	ID           int
	Alias        string
	Title        string
	Mode         string
	ModelName    string
	LastPrompt   string
	LastResponse string
	History      []chat.Message
}

// recordV2 is the current wire layout: session-scoped fields are grouped
// under a "session" sub-object.
type recordV2 struct {
	Version  string         `json:"version"`
	Settings map[string]any `json:"settings"`
	ID       int            `json:"id"`
	Alias    string         `json:"alias,omitempty"`
	Title    string         `json:"title,omitempty"`
	Session  struct {
		Mode         string `json:"mode"`
		ModelName    string `json:"model_name"`
		LastPrompt   string `json:"last_prompt"`
		LastResponse string `json:"last_response"`
	} `json:"session"`
	History []chat.Message `json:"history"`
}

// recordV1 is the legacy flat layout.
type recordV1 struct {
	Version      string         `json:"version"`
	Settings     map[string]any `json:"settings"`
	ID           int            `json:"id"`
	Alias        string         `json:"alias,omitempty"`
	Title        string         `json:"title,omitempty"`
	Mode         string         `json:"mode"`
	ModelName    string         `json:"model_name"`
	LastPrompt   string         `json:"last_prompt"`
	LastResponse string         `json:"last_response"`
	History      []chat.Message `json:"history"`
}

// MarshalJSON always encodes the current wire layout.
func (r Record) MarshalJSON() ([]byte, error) {
	out := recordV2{
		Version:  VersionCurrent,
		Settings: r.Settings,
		ID:       r.ID,
		Alias:    r.Alias,
		Title:    r.Title,
		History:  r.History,
	}
	if out.Settings == nil {
		out.Settings = map[string]any{}
	}
	out.Session.Mode = r.Mode
	out.Session.ModelName = r.ModelName
	out.Session.LastPrompt = r.LastPrompt
	out.Session.LastResponse = r.LastResponse
	return json.Marshal(out)
}

// UnmarshalJSON decodes both the current and the legacy layout, keyed off
// the record's declared version.
func (r *Record) UnmarshalJSON(data []byte) error {
	var probe struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}

	switch probe.Version {
	case VersionCurrent:
		var v2 recordV2
		if err := json.Unmarshal(data, &v2); err != nil {
			return err
		}
		*r = Record{
			Version:      VersionCurrent,
			Settings:     v2.Settings,
			ID:           v2.ID,
			Alias:        v2.Alias,
			Title:        v2.Title,
			Mode:         v2.Session.Mode,
			ModelName:    v2.Session.ModelName,
			LastPrompt:   v2.Session.LastPrompt,
			LastResponse: v2.Session.LastResponse,
			History:      v2.History,
		}
	case VersionLegacy:
		var v1 recordV1
		if err := json.Unmarshal(data, &v1); err != nil {
			return err
		}
		*r = Record{
			Version:      VersionLegacy,
			Settings:     v1.Settings,
			ID:           v1.ID,
			Alias:        v1.Alias,
			Title:        v1.Title,
			Mode:         v1.Mode,
			ModelName:    v1.ModelName,
			LastPrompt:   v1.LastPrompt,
			LastResponse: v1.LastResponse,
			History:      v1.History,
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownVersion, probe.Version)
	}
	return nil
}

// ToRecord captures a live session as a persistable record: configuration
// keys diverging from the defaults, the active mode and model, and the
// observable message history.
func ToRecord(sess *chat.Session) *Record {
	cfg := sess.Config()
	return &Record{
		Version:      VersionCurrent,
		Settings:     cfg.Modified(),
		ID:           sess.ID,
		Alias:        sess.Alias,
		Title:        sess.Title,
		Mode:         cfg.ActiveMode(),
		ModelName:    cfg.String("model.name"),
		LastPrompt:   sess.LastPrompt,
		LastResponse: sess.LastResponse,
		History:      sess.History.Messages(),
	}
}

// ApplyRecord overlays a stored record onto a live session: the recorded
// mode becomes active, the settings diff is restored, the identity fields
// are transferred and the history is bulk-replaced after validation. All
// configuration changes coalesce into a single update delivery.
func ApplyRecord(rec *Record, sess *chat.Session) error {
	cfg := sess.Config()

	mode := rec.Mode
	if mode == "" {
		mode = cfg.ActiveMode()
	}

	var cfgErr error
	cfg.Bus().DeferEvents(true, func() {
		// Re-enter the mode even when it is already active: the switch must
		// discard runtime mutations made since the record was saved, leaving
		// only the record's own settings diff on top of the mode table.
		if err := cfg.ChangeMode(mode); err != nil {
			cfgErr = err
			return
		}
		if len(rec.Settings) > 0 {
			cfgErr = cfg.Update(rec.Settings, true)
		}
	})
	if cfgErr != nil {
		return cfgErr
	}

	if err := sess.History.SetHistory(rec.History); err != nil {
		return err
	}

	sess.ID = rec.ID
	sess.Alias = rec.Alias
	sess.Title = rec.Title
	sess.LastPrompt = rec.LastPrompt
	sess.LastResponse = rec.LastResponse
	return nil
}
