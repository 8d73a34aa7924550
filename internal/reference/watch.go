package reference

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a Store when YAML files in its directory change. Bursts
// of events are debounced into one reload.
type Watcher struct {
	store    *Store
	watcher  *fsnotify.Watcher
	debounce time.Duration
	logger   *slog.Logger

	mu    sync.Mutex
	timer *time.Timer
}

// NewWatcher creates a watcher for store's directory.
func NewWatcher(store *Store, debounce time.Duration) (*Watcher, error) {
	if store.Dir() == "" {
		return nil, fmt.Errorf("embedded reference data cannot be watched")
	}
	if debounce <= 0 {
		debounce = 100 * time.Millisecond
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := fw.Add(store.Dir()); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch %q: %w", store.Dir(), err)
	}
	return &Watcher{
		store:    store,
		watcher:  fw,
		debounce: debounce,
		logger:   slog.Default().With("component", "reference_watcher"),
	}, nil
}

// Run processes file events until ctx is cancelled. onReload, when set,
// is called after every successful reload.
func (w *Watcher) Run(ctx context.Context, onReload func(*Snapshot)) error {
	defer w.watcher.Close()
	w.logger.Info("watching reference data",
		"dir", w.store.Dir(),
		"debounce_ms", w.debounce.Milliseconds(),
	)

	for {
		select {
		case <-ctx.Done():
			w.stopTimer()
			return nil

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if !relevant(ev) {
				continue
			}
			w.logger.Debug("reference file event", "path", ev.Name, "op", ev.Op.String())
			w.trigger(ctx, onReload)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			w.logger.Error("reference watcher error", "error", err)
		}
	}
}

func (w *Watcher) trigger(ctx context.Context, onReload func(*Snapshot)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		if ctx.Err() != nil {
			return
		}
		snap, err := w.store.Reload()
		if err != nil {
			w.logger.Error("reference reload failed, keeping previous revision",
				"error", err,
				"revision", w.store.Snapshot().Revision(),
			)
			return
		}
		if onReload != nil {
			onReload(snap)
		}
	})
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
}

func relevant(ev fsnotify.Event) bool {
	if ev.Op == fsnotify.Chmod {
		return false
	}
	base := filepath.Base(ev.Name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	ext := strings.ToLower(filepath.Ext(base))
	return ext == ".yaml" || ext == ".yml"
}
