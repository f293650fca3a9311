package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/burrow/event"
)

func writeUserConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func mustLoad(t *testing.T, userFile string) *Config {
	t.Helper()
	cfg, err := Load(userFile, event.New(nil), nil)
	require.NoError(t, err)
	return cfg
}

func TestLoad_DefaultsOnly(t *testing.T) {
	cfg := mustLoad(t, "")

	assert.Equal(t, DefaultMode, cfg.ActiveMode())
	assert.Equal(t, "gpt-4o", cfg.String("model.name"))
	assert.True(t, cfg.Bool("session.auto_generate_titles.enabled"))

	// Typed-null sentinels become unset values with the kind preserved.
	v, err := cfg.Get("session.max_history_length")
	require.NoError(t, err)
	assert.Nil(t, v)
	kind, ok := cfg.Kind("session.max_history_length")
	require.True(t, ok)
	assert.Equal(t, KindInt, kind)

	_, ok = cfg.NullableInt("session.max_history_length")
	assert.False(t, ok)
}

func TestLoad_ModeResolutionWithInheritance(t *testing.T) {
	path := writeUserConfig(t, `
base:
  model.temperature: 0.5
  model.name: base-model
child:
  _inherit: [base]
  model.name: child-model
`)
	cfg := mustLoad(t, path)

	require.NoError(t, cfg.ChangeMode("child"))
	// Inherited from base's explicit settings.
	assert.Equal(t, 0.5, cfg.Float("model.temperature"))
	// Own settings take final precedence.
	assert.Equal(t, "child-model", cfg.String("model.name"))
	// Everything else falls through to the defaults.
	assert.True(t, cfg.Bool("chat.attachments_enabled"))
}

func TestLoad_InheritListOrder(t *testing.T) {
	path := writeUserConfig(t, `
a:
  model.name: from-a
b:
  model.name: from-b
c:
  _inherit: "[a, b]"
`)
	cfg := mustLoad(t, path)

	require.NoError(t, cfg.ChangeMode("c"))
	assert.Equal(t, "from-b", cfg.String("model.name"), "later inherit entries override earlier ones")
}

func TestLoad_DefaultModeDirective(t *testing.T) {
	path := writeUserConfig(t, `
default_mode: work
work:
  model.name: work-model
`)
	cfg := mustLoad(t, path)

	assert.Equal(t, "work", cfg.ActiveMode())
	assert.Equal(t, "work-model", cfg.String("model.name"))
}

func TestLoad_UnknownDefaultModeFails(t *testing.T) {
	path := writeUserConfig(t, "default_mode: missing\n")
	_, err := Load(path, event.New(nil), nil)
	assert.ErrorIs(t, err, ErrUnknownMode)
}

func TestGet_UnknownKey(t *testing.T) {
	cfg := mustLoad(t, "")

	_, err := cfg.Get("no.such.key")
	assert.ErrorIs(t, err, ErrUnknownKey)

	assert.Equal(t, "fallback", cfg.GetOr("no.such.key", "fallback"))
}

func TestSet_CastingRules(t *testing.T) {
	cfg := mustLoad(t, "")

	// Booleans accept a small literal set, case-insensitive.
	require.NoError(t, cfg.Set("tools.enabled", "True"))
	assert.True(t, cfg.Bool("tools.enabled"))
	require.NoError(t, cfg.Set("tools.enabled", "false"))
	assert.False(t, cfg.Bool("tools.enabled"))
	assert.ErrorIs(t, cfg.Set("tools.enabled", "yes"), ErrInvalidType)

	// Numeric strings cast to the declared kind.
	require.NoError(t, cfg.Set("session.max_history_length", "25"))
	n, ok := cfg.NullableInt("session.max_history_length")
	require.True(t, ok)
	assert.Equal(t, 25, n)
	assert.ErrorIs(t, cfg.Set("session.max_history_length", "2.5"), ErrInvalidType)

	require.NoError(t, cfg.Set("model.temperature", "0.7"))
	assert.Equal(t, 0.7, cfg.Float("model.temperature"))

	// Empty string or nil become the typed null for numeric/bool keys...
	require.NoError(t, cfg.Set("model.temperature", ""))
	v, err := cfg.Get("model.temperature")
	require.NoError(t, err)
	assert.Nil(t, v)

	require.NoError(t, cfg.Set("tools.enabled", nil))
	v, err = cfg.Get("tools.enabled")
	require.NoError(t, err)
	assert.Nil(t, v)

	// ...and empty string for string keys.
	require.NoError(t, cfg.Set("model.name", nil))
	assert.Equal(t, "", cfg.String("model.name"))

	// Unknown keys are rejected unless forced.
	assert.ErrorIs(t, cfg.Set("bogus", 1), ErrUnknownKey)
	cfg.ForceSet("bogus", 1)
	assert.Equal(t, 1, cfg.GetOr("bogus", nil))
}

func TestSet_FiresUpdateEvent(t *testing.T) {
	bus := event.New(nil)
	cfg, err := Load("", bus, nil)
	require.NoError(t, err)

	updates := 0
	bus.Subscribe(EventUpdate, func(any) { updates++ })

	require.NoError(t, cfg.Set("model.name", "other"))
	assert.Equal(t, 1, updates)

	require.NoError(t, cfg.SetSilent("model.name", "quiet"))
	assert.Equal(t, 1, updates)
}

func TestUpdate_CoalescesIntoOneEvent(t *testing.T) {
	bus := event.New(nil)
	cfg, err := Load("", bus, nil)
	require.NoError(t, err)

	updates := 0
	bus.Subscribe(EventUpdate, func(any) { updates++ })

	require.NoError(t, cfg.Update(map[string]any{
		"model.name":               "m",
		"tools.enabled":            true,
		"model.temperature":        0.3,
		"chat.attachments_enabled": false,
	}, false))

	assert.Equal(t, 1, updates)
	assert.Equal(t, "m", cfg.String("model.name"))
}

func TestChangeMode_EventsAndUnknownMode(t *testing.T) {
	path := writeUserConfig(t, "work:\n  model.name: work-model\n")
	bus := event.New(nil)
	cfg, err := Load(path, bus, nil)
	require.NoError(t, err)

	var fired []string
	bus.Subscribe(EventChangeMode, func(any) { fired = append(fired, EventChangeMode) })
	bus.Subscribe(EventUpdate, func(any) { fired = append(fired, EventUpdate) })

	require.NoError(t, cfg.ChangeMode("work"))
	assert.Equal(t, []string{EventChangeMode, EventUpdate}, fired)

	assert.ErrorIs(t, cfg.ChangeMode("nope"), ErrUnknownMode)
}

func TestChangeMode_ReplacesRuntimeMutations(t *testing.T) {
	cfg := mustLoad(t, "")

	require.NoError(t, cfg.Set("model.name", "scratch"))
	require.NoError(t, cfg.ChangeMode(DefaultMode))
	assert.Equal(t, "gpt-4o", cfg.String("model.name"), "active table is a fresh copy")
}

func TestReload_PreservesActiveModeWhenStillDefined(t *testing.T) {
	path := writeUserConfig(t, "work:\n  model.name: work-model\n")
	cfg := mustLoad(t, path)
	require.NoError(t, cfg.ChangeMode("work"))

	require.NoError(t, cfg.Set("model.name", "runtime-override"))
	require.NoError(t, cfg.Reload())

	assert.Equal(t, "work", cfg.ActiveMode())
	assert.Equal(t, "work-model", cfg.String("model.name"), "runtime mutations discarded")
}

func TestReload_FallsBackWhenModeRemoved(t *testing.T) {
	path := writeUserConfig(t, "work:\n  model.name: work-model\n")
	cfg := mustLoad(t, path)
	require.NoError(t, cfg.ChangeMode("work"))

	require.NoError(t, os.WriteFile(path, []byte(""), 0o600))
	require.NoError(t, cfg.Reload())

	assert.Equal(t, DefaultMode, cfg.ActiveMode())
}

func TestModified_ReturnsOnlyDiffsFromDefaults(t *testing.T) {
	cfg := mustLoad(t, "")

	assert.Empty(t, cfg.Modified())

	require.NoError(t, cfg.Set("model.name", "changed"))
	require.NoError(t, cfg.Set("session.max_history_length", 10))

	diff := cfg.Modified()
	assert.Equal(t, map[string]any{
		"model.name":                 "changed",
		"session.max_history_length": 10,
	}, diff)
}

func TestParseInherit_Forms(t *testing.T) {
	assert.Nil(t, parseInherit(""))
	assert.Equal(t, []string{"a"}, parseInherit("a"))
	assert.Equal(t, []string{"a", "b"}, parseInherit("[a, 'b']"))
	assert.Equal(t, []string{"a", "b"}, parseInherit([]any{"a", "b"}))
}

func TestWatch_ReloadsOnFileChange(t *testing.T) {
	path := writeUserConfig(t, "work:\n  model.name: one\n")
	cfg := mustLoad(t, path)
	require.NoError(t, cfg.ChangeMode("work"))

	w, err := cfg.Watch()
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte("work:\n  model.name: two\n"), 0o600))

	assert.Eventually(t, func() bool {
		return cfg.String("model.name") == "two"
	}, 3*time.Second, 20*time.Millisecond)
}
