package config

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/hupe1980/burrow/logging"
)

// Watcher reloads the configuration whenever the user override file changes
// on disk. The live active table is rebuilt (see Reload), so subscribers of
// config.update pick up edits without restarting the process.
type Watcher struct {
	fw     *fsnotify.Watcher
	cfg    *Config
	target string
	logger logging.Logger
	done   chan struct{}
}

// Watch starts watching the configuration's user file. It watches the parent
// directory so editors that replace the file (rename + create) are seen.
// Callers must Close the watcher when done.
func (c *Config) Watch() (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(c.userPath)); err != nil {
		_ = fw.Close()
		return nil, err
	}

	w := &Watcher{
		fw:     fw,
		cfg:    c,
		target: filepath.Clean(c.userPath),
		logger: c.logger,
		done:   make(chan struct{}),
	}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.logger.Debug("config: user file changed, reloading", "file", w.target, "op", ev.Op.String())
			if err := w.cfg.Reload(); err != nil {
				w.logger.Error("config: reload failed", "error", err)
			}
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.logger.Error("config: watch error", "error", err)
		}
	}
}

// Close stops watching and waits for the event loop to exit.
func (w *Watcher) Close() error {
	err := w.fw.Close()
	<-w.done
	return err
}
