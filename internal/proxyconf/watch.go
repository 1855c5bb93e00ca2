package proxyconf

import (
	"fmt"

	"github.com/AdguardTeam/golibs/log"
	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a settings document from disk whenever it changes,
// grounded on the teacher's aghos.FSWatcher (internal/aghos/fswatcher.go)
// but scoped to the single file this package cares about instead of that
// type's general directory-tracking machinery.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	updates chan *Config
	done    chan struct{}
}

// WatchFile starts watching path for writes and parses+validates it on
// every change. Send on the returned Watcher's Updates channel happens
// only for changes that parse and validate cleanly; bad edits are logged
// and otherwise ignored, so a config file briefly saved mid-edit never
// propagates a half-written document.
func WatchFile(path string) (w *Watcher, err error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("proxyconf: starting watcher: %w", err)
	}

	if err = fsw.Add(path); err != nil {
		_ = fsw.Close()

		return nil, fmt.Errorf("proxyconf: watching %q: %w", path, err)
	}

	w = &Watcher{
		path:    path,
		watcher: fsw,
		updates: make(chan *Config, 1),
		done:    make(chan struct{}),
	}

	go w.run()

	return w, nil
}

// Updates returns the channel on which successfully reloaded configs are
// sent. The channel is closed when the Watcher is closed.
func (w *Watcher) Updates() (updates <-chan *Config) {
	return w.updates
}

// Close stops the watcher and releases the underlying fsnotify handle.
func (w *Watcher) Close() (err error) {
	err = w.watcher.Close()
	<-w.done

	return err
}

func (w *Watcher) run() {
	defer close(w.done)
	defer close(w.updates)

	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			c, err := Load(w.path)
			if err != nil {
				log.Info("proxyconf: reload %s: %s", w.path, err)

				continue
			}

			select {
			case w.updates <- c:
			default:
				log.Debug("proxyconf: reload %s: update dropped, channel full", w.path)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}

			log.Info("proxyconf: watch %s: %s", w.path, err)
		}
	}
}
