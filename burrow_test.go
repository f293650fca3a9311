package burrow

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/burrow/chat"
	"github.com/hupe1980/burrow/config"
)

func newTestApp(t *testing.T, optFns ...func(o *Options)) *App {
	t.Helper()

	dir := t.TempDir()
	app, err := New(append([]func(o *Options){func(o *Options) {
		o.SessionDBPath = filepath.Join(dir, "sessions")
		o.AgentDBPath = filepath.Join(dir, "agents")
	}}, optFns...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })
	return app
}

func TestAppLifecycle(t *testing.T) {
	app := newTestApp(t)

	sess := app.NewSession()
	t.Cleanup(sess.Close)

	err := sess.Turn(func() error {
		if err := sess.History.AddMessage(chat.RoleUser, "ping"); err != nil {
			return err
		}
		return sess.History.AddMessage(chat.RoleAssistant, "pong")
	})
	require.NoError(t, err)

	require.NoError(t, app.Sessions.Add(sess))
	require.NoError(t, app.Sessions.SetAlias(strconv.Itoa(sess.ID), "smoke"))

	restored := app.NewSession()
	t.Cleanup(restored.Close)
	require.NoError(t, app.Sessions.SwitchTo("smoke", restored))

	assert.Equal(t, sess.ID, restored.ID)
	assert.Equal(t, "smoke", restored.Alias)
	assert.Equal(t, 2, restored.History.NumMessages())
}

func TestAppSharesBus(t *testing.T) {
	app := newTestApp(t)

	updates := 0
	id := app.Bus.Subscribe(config.EventUpdate, func(any) { updates++ })
	defer app.Bus.Unsubscribe(id)

	require.NoError(t, app.Config.Set("model.name", "gpt-4o-mini"))
	assert.Equal(t, 1, updates)
}

func TestAppUserConfig(t *testing.T) {
	dir := t.TempDir()
	userFile := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(userFile, []byte(
		"default_mode: fast\nfast:\n  model.name: gpt-4o-mini\n"), 0o644))

	app := newTestApp(t, func(o *Options) {
		o.UserConfigPath = userFile
	})

	assert.Equal(t, "fast", app.Config.ActiveMode())
	assert.Equal(t, "gpt-4o-mini", app.Config.String("model.name"))
}
