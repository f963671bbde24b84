// Package watch reloads a model file when it changes on disk.
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/samcharles93/tradepolicy/internal/logger"
)

// DefaultDelay is how long the file must stay quiet before a reload fires.
const DefaultDelay = 250 * time.Millisecond

// Watcher calls OnChange once a burst of writes to Path has settled.
type Watcher struct {
	Path     string
	Delay    time.Duration
	OnChange func(ctx context.Context) error
	Logger   logger.Logger

	mu       sync.Mutex
	debounce *time.Timer
	// held while OnChange runs; a timer firing mid-reload waits its turn
	reload sync.Mutex
}

// Start begins watching the directory that holds Path. It returns once the
// watch is registered; events are handled in the background until ctx is
// done.
func (w *Watcher) Start(ctx context.Context) error {
	if w.OnChange == nil {
		return fmt.Errorf("watch %s: no change handler", w.Path)
	}
	if w.Delay <= 0 {
		w.Delay = DefaultDelay
	}
	if w.Logger == nil {
		w.Logger = logger.Discard()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch %s: %w", w.Path, err)
	}
	// a rename over the file drops a watch on the file itself
	if err := fw.Add(filepath.Dir(w.Path)); err != nil {
		_ = fw.Close()
		return fmt.Errorf("watch %s: %w", w.Path, err)
	}
	go w.loop(ctx, fw)
	return nil
}

func (w *Watcher) loop(ctx context.Context, fw *fsnotify.Watcher) {
	defer func() { _ = fw.Close() }()
	name := filepath.Base(w.Path)
	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			if w.debounce != nil {
				w.debounce.Stop()
			}
			w.mu.Unlock()
			return

		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.schedule(ctx)

		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.Logger.Warn("model watcher error", "path", w.Path, "error", err)
		}
	}
}

func (w *Watcher) schedule(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.debounce = time.AfterFunc(w.Delay, func() {
		w.reload.Lock()
		defer w.reload.Unlock()
		if ctx.Err() != nil {
			return
		}
		if err := w.OnChange(ctx); err != nil {
			w.Logger.Error("model reload failed", "path", w.Path, "error", err)
			return
		}
		w.Logger.Info("model reloaded", "path", w.Path)
	})
}
