// Package burrow provides a high-level façade over the application-state
// services of an interactive assistant: configuration resolution (modes,
// inheritance, typed nulls), a synchronous event bus, and the persistent
// session and agent stores. Most applications interact with this package by:
//  1. Creating an App via New() (optionally pointing it at a user config
//     file and custom store paths)
//  2. Creating live sessions and running turns against them
//  3. Persisting and switching sessions through app.Sessions
//
// The façade wires the shared bus and configuration into every component.
// All defaults are safe for local development and testing; the stores are
// created lazily under the user's home directory unless overridden.
package burrow

import (
	"github.com/hupe1980/burrow/agent"
	"github.com/hupe1980/burrow/chat"
	"github.com/hupe1980/burrow/config"
	"github.com/hupe1980/burrow/event"
	"github.com/hupe1980/burrow/logging"
	"github.com/hupe1980/burrow/session"
)

// Options configures the App instance.
type Options struct {
	// UserConfigPath names the user's mode override file. Empty means
	// defaults only.
	UserConfigPath string

	// SessionDBPath / AgentDBPath override the configured store locations,
	// typically for tests. Applied after the configuration is loaded.
	SessionDBPath string
	AgentDBPath   string

	// WatchConfig enables hot reload of the user config file.
	WatchConfig bool

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// App is the high-level façade aggregating configuration, the event bus and
// the persistent stores.
type App struct {
	Config   *config.Config
	Bus      *event.Bus
	Sessions *session.Store
	Agents   *agent.Store
	Logger   logging.Logger

	watcher *config.Watcher
}

// New creates a new App with optional overrides.
func New(optFns ...func(o *Options)) (*App, error) {
	opts := Options{
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	bus := event.New(opts.Logger)

	cfg, err := config.Load(opts.UserConfigPath, bus, opts.Logger)
	if err != nil {
		return nil, err
	}
	if opts.SessionDBPath != "" {
		if err := cfg.Set("database.sessions.path", opts.SessionDBPath); err != nil {
			return nil, err
		}
	}
	if opts.AgentDBPath != "" {
		if err := cfg.Set("database.agents.path", opts.AgentDBPath); err != nil {
			return nil, err
		}
	}

	sessions, err := session.NewStore(cfg, opts.Logger)
	if err != nil {
		return nil, err
	}

	agents, err := agent.NewStore(cfg, opts.Logger)
	if err != nil {
		_ = sessions.Close()
		return nil, err
	}

	app := &App{
		Config:   cfg,
		Bus:      bus,
		Sessions: sessions,
		Agents:   agents,
		Logger:   opts.Logger,
	}

	if opts.WatchConfig && opts.UserConfigPath != "" {
		w, err := cfg.Watch()
		if err != nil {
			_ = app.Close()
			return nil, err
		}
		app.watcher = w
	}
	return app, nil
}

// NewSession creates a live session wired to the app's configuration and
// bus. The caller owns it and must Close it.
func (a *App) NewSession() *chat.Session {
	return chat.NewSession(a.Config, a.Bus, a.Logger)
}

// Close releases the config watcher and closes both stores. The first error
// encountered is returned, but every resource is released regardless.
func (a *App) Close() error {
	var first error
	if a.watcher != nil {
		if err := a.watcher.Close(); err != nil {
			first = err
		}
	}
	if err := a.Sessions.Close(); err != nil && first == nil {
		first = err
	}
	if err := a.Agents.Close(); err != nil && first == nil {
		first = err
	}
	return first
}
