package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/burrow/event"
	"github.com/hupe1980/burrow/logging"
)

//go:embed settings.yaml
var defaultSettings []byte

// Event names fired on the injected bus.
const (
	// EventUpdate signals that one or more active settings changed.
	EventUpdate = "config.update"
	// EventChangeMode signals that the active mode was replaced. It is
	// always followed by EventUpdate.
	EventChangeMode = "config.change_mode"
)

// DefaultMode is the name of the immutable baseline mode.
const DefaultMode = "_default"

var (
	// ErrUnknownKey is returned when a key is absent from the default mode.
	ErrUnknownKey = errors.New("unknown configuration key")
	// ErrInvalidType is returned when a value cannot be cast to a key's declared type.
	ErrInvalidType = errors.New("invalid configuration value")
	// ErrUnknownMode is returned when a mode name is not defined.
	ErrUnknownMode = errors.New("unknown configuration mode")
)

// Kind is the declared value type of a configuration key, fixed once from
// the default mode definition. Every kind is independently nullable: a nil
// value with a recorded kind is the typed null.
type Kind int

const (
	// KindBool marks boolean keys.
	KindBool Kind = iota
	// KindInt marks integer keys.
	KindInt
	// KindFloat marks floating point keys.
	KindFloat
	// KindString marks string keys.
	KindString
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	default:
		return "unknown"
	}
}

// nullSentinels map the default-file markers for nullable keys to their
// declared kind. The sentinel is translated once, at load, into a nil value
// with the kind recorded; it never leaks past this package's loader.
var nullSentinels = map[string]Kind{
	"__null_bool":  KindBool,
	"__null_int":   KindInt,
	"__null_float": KindFloat,
	"__null_str":   KindString,
}

// Config resolves modes and holds the live, mutable active table. It is safe
// for concurrent access so a file watcher may trigger Reload while the
// interactive loop reads settings.
type Config struct {
	mu sync.RWMutex

	userPath string
	bus      *event.Bus
	logger   logging.Logger

	kinds    map[string]Kind
	defaults map[string]any            // resolved default table (immutable baseline)
	modes    map[string]map[string]any // resolved table per mode, including DefaultMode
	explicit map[string]map[string]any // per user mode: only the keys it sets itself

	active     map[string]any
	activeMode string
}

// Load parses the bundled default-mode definition and, if userPath names an
// existing file, the user override file defining zero or more modes plus an
// optional default_mode directive selecting the startup mode.
func Load(userPath string, bus *event.Bus, logger logging.Logger) (*Config, error) {
	c := &Config{
		userPath: userPath,
		bus:      bus,
		logger:   logging.OrNoOp(logger),
	}
	if c.bus == nil {
		c.bus = event.New(c.logger)
	}

	if err := c.load(true); err != nil {
		return nil, err
	}
	return c, nil
}

// load rebuilds all mode tables from the embedded defaults and the user
// file. When applyDirective is true the user file's default_mode directive
// selects the active mode; otherwise the previously active mode is preserved
// if it still exists. Events are not fired; callers decide what to announce.
func (c *Config) load(applyDirective bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	prevMode := c.activeMode

	if err := c.initDefaultMode(); err != nil {
		return err
	}

	directive, err := c.loadUserFile()
	if err != nil {
		return err
	}

	switch {
	case applyDirective && directive != "":
		if _, ok := c.modes[directive]; !ok {
			return fmt.Errorf("%w: default_mode %q", ErrUnknownMode, directive)
		}
		c.activeMode = directive
	case prevMode != "":
		if _, ok := c.modes[prevMode]; !ok {
			prevMode = DefaultMode
		}
		c.activeMode = prevMode
	default:
		c.activeMode = DefaultMode
	}

	c.active = copyTable(c.modes[c.activeMode])
	return nil
}

// initDefaultMode parses the embedded settings and derives each key's kind,
// translating typed-null sentinels into nil values.
func (c *Config) initDefaultMode() error {
	var raw map[string]any
	if err := yaml.Unmarshal(defaultSettings, &raw); err != nil {
		return fmt.Errorf("parse default settings: %w", err)
	}

	kinds := make(map[string]Kind, len(raw))
	defaults := make(map[string]any, len(raw))
	for key, value := range raw {
		switch v := value.(type) {
		case bool:
			kinds[key] = KindBool
			defaults[key] = v
		case int:
			kinds[key] = KindInt
			defaults[key] = v
		case float64:
			kinds[key] = KindFloat
			defaults[key] = v
		case string:
			if kind, ok := nullSentinels[v]; ok {
				kinds[key] = kind
				defaults[key] = nil
			} else {
				kinds[key] = KindString
				defaults[key] = v
			}
		default:
			return fmt.Errorf("default settings: key %q has unsupported type %T", key, value)
		}
	}

	c.kinds = kinds
	c.defaults = defaults
	c.modes = map[string]map[string]any{DefaultMode: copyTable(defaults)}
	c.explicit = map[string]map[string]any{}
	return nil
}

// loadUserFile layers user-defined modes onto the defaults and returns the
// default_mode directive, if any. A missing file is not an error. Caller
// must hold the write lock.
func (c *Config) loadUserFile() (string, error) {
	if c.userPath == "" {
		return "", nil
	}
	data, err := os.ReadFile(c.userPath)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read config file %s: %w", c.userPath, err)
	}

	modes, directive, err := parseUserConfig(data)
	if err != nil {
		return "", fmt.Errorf("parse config file %s: %w", c.userPath, err)
	}

	for _, m := range modes {
		if _, ok := c.modes[m.name]; !ok {
			// A newly defined mode starts with a copy of the defaults.
			c.modes[m.name] = copyTable(c.defaults)
			c.explicit[m.name] = copyTable(m.settings)
		}
		resolved := c.modes[m.name]
		for _, parent := range m.inherit {
			for k, v := range c.explicit[parent] {
				resolved[k] = v
			}
		}
		// The mode's own settings take final precedence.
		for k, v := range m.settings {
			resolved[k] = v
		}
	}

	return directive, nil
}

// Get returns the active mode's value for key. Keys absent from the default
// mode are unknown and yield ErrUnknownKey.
func (c *Config) Get(key string) (any, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	value, ok := c.active[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	return value, nil
}

// GetOr returns the active value for key, or fallback when the key is not
// recognized.
func (c *Config) GetOr(key string, fallback any) any {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if value, ok := c.active[key]; ok {
		return value
	}
	return fallback
}

// String returns the active value for a string key, or "" when unset.
func (c *Config) String(key string) string {
	if v, _ := c.Get(key); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Bool returns the active value for a boolean key, or false when unset.
func (c *Config) Bool(key string) bool {
	if v, _ := c.Get(key); v != nil {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return false
}

// Int returns the active value for an integer key, or 0 when unset.
func (c *Config) Int(key string) int {
	v, ok := c.NullableInt(key)
	if !ok {
		return 0
	}
	return v
}

// Int64 returns the active value for an integer key as int64, or 0 when unset.
func (c *Config) Int64(key string) int64 {
	return int64(c.Int(key))
}

// Float returns the active value for a float key, or 0 when unset.
func (c *Config) Float(key string) float64 {
	if v, _ := c.Get(key); v != nil {
		switch n := v.(type) {
		case float64:
			return n
		case int:
			return float64(n)
		}
	}
	return 0
}

// NullableInt returns the active value for an integer key plus whether it is
// set; a typed-null value reports ok == false.
func (c *Config) NullableInt(key string) (int, bool) {
	v, err := c.Get(key)
	if err != nil || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// Set validates key, casts value to the key's declared type and stores it in
// the active table, firing config.update on success.
func (c *Config) Set(key string, value any) error {
	return c.set(key, value, false, true)
}

// SetSilent behaves like Set but does not fire config.update. It exists for
// subscribers that must persist a correction from inside a config.update
// handler without re-entering delivery.
func (c *Config) SetSilent(key string, value any) error {
	return c.set(key, value, false, false)
}

// ForceSet stores value without key validation or casting. Used for bulk
// programmatic restores. Fires config.update.
func (c *Config) ForceSet(key string, value any) {
	_ = c.set(key, value, true, true)
}

func (c *Config) set(key string, value any, force, fire bool) error {
	c.mu.Lock()
	if force {
		c.active[key] = value
		c.mu.Unlock()
		if fire {
			c.bus.Fire(EventUpdate, nil)
		}
		return nil
	}

	if _, ok := c.defaults[key]; !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}

	cast, err := c.castValue(key, value)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.active[key] = cast
	c.mu.Unlock()

	if fire {
		c.bus.Fire(EventUpdate, nil)
	}
	return nil
}

// castValue converts value to the declared type of key. Empty string or nil
// becomes the typed null for numeric/boolean keys and "" for string keys.
// Caller must hold the lock (read access to kinds only).
func (c *Config) castValue(key string, value any) (any, error) {
	kind := c.kinds[key]

	if value == nil || value == "" {
		if kind == KindString {
			return "", nil
		}
		return nil, nil
	}

	switch kind {
	case KindBool:
		switch v := value.(type) {
		case bool:
			return v, nil
		case string:
			if strings.EqualFold(v, "true") {
				return true, nil
			}
			if strings.EqualFold(v, "false") {
				return false, nil
			}
		}
	case KindInt:
		switch v := value.(type) {
		case int:
			return v, nil
		case int64:
			return int(v), nil
		case float64:
			return int(v), nil
		case string:
			if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
				return int(n), nil
			}
		}
	case KindFloat:
		switch v := value.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				return f, nil
			}
		}
	case KindString:
		switch v := value.(type) {
		case string:
			return v, nil
		case bool:
			return strconv.FormatBool(v), nil
		case int:
			return strconv.Itoa(v), nil
		case float64:
			return strconv.FormatFloat(v, 'g', -1, 64), nil
		}
	}

	return nil, fmt.Errorf("%w: %q cannot be cast as %s [key=%s]", ErrInvalidType, fmt.Sprintf("%v", value), kind, key)
}

// Update applies each entry via Set semantics, coalescing into one trailing
// config.update event instead of one per key. With force true the entries
// are stored raw.
func (c *Config) Update(entries map[string]any, force bool) error {
	for key, value := range entries {
		if err := c.set(key, value, force, false); err != nil {
			return err
		}
	}
	c.bus.Fire(EventUpdate, nil)
	return nil
}

// ChangeMode replaces the active table with a fresh copy of the named mode's
// resolved table and fires config.change_mode followed by config.update.
func (c *Config) ChangeMode(name string) error {
	c.mu.Lock()
	mode, ok := c.modes[name]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownMode, name)
	}
	c.active = copyTable(mode)
	c.activeMode = name
	c.mu.Unlock()

	c.bus.Fire(EventChangeMode, nil)
	c.bus.Fire(EventUpdate, nil)
	return nil
}

// Reload re-parses the defaults and the user override file, preserving the
// currently active mode name if it still exists and falling back to the
// default mode otherwise. Live runtime mutations of the active table are
// discarded. Fires config.update.
func (c *Config) Reload() error {
	if err := c.load(false); err != nil {
		return err
	}
	c.bus.Fire(EventUpdate, nil)
	return nil
}

// Modified returns only the active entries whose value differs from the
// default mode's value. The result feeds session persistence and diffing.
func (c *Config) Modified() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()

	diff := make(map[string]any)
	for key, value := range c.active {
		if !reflect.DeepEqual(c.defaults[key], value) {
			diff[key] = value
		}
	}
	return diff
}

// ActiveMode returns the name of the mode the active table was copied from.
func (c *Config) ActiveMode() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.activeMode
}

// Modes returns the names of all defined modes, including the default.
func (c *Config) Modes() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.modes))
	for name := range c.modes {
		names = append(names, name)
	}
	return names
}

// Snapshot returns a copy of the full active table.
func (c *Config) Snapshot() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return copyTable(c.active)
}

// Kind reports the declared kind for key.
func (c *Config) Kind(key string) (Kind, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	kind, ok := c.kinds[key]
	return kind, ok
}

// Bus exposes the event bus the configuration announces changes on.
func (c *Config) Bus() *event.Bus {
	return c.bus
}

func copyTable(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
