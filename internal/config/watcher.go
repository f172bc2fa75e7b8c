package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ducminhle1904/futures-guardian/internal/logger"
)

// ReloadFunc receives a freshly loaded and validated configuration
type ReloadFunc func(cfg *GuardianConfig) error

// Watcher reloads the config file when it changes. A reload that fails to
// parse or validate is logged and dropped; the running configuration stays.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	onReload ReloadFunc
	logger   *logger.Logger
	debounce time.Duration

	mu       sync.Mutex
	reloads  int
	failures int
}

// NewWatcher watches the directory holding path, so editors that replace
// the file on save are picked up too.
func NewWatcher(log *logger.Logger, path string, onReload ReloadFunc) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		fw.Close()
		return nil, err
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch %q: %w", path, err)
	}
	return &Watcher{
		path:     abs,
		watcher:  fw,
		onReload: onReload,
		logger:   log.Named("config"),
		debounce: 500 * time.Millisecond,
	}, nil
}

// Run watches for file changes. Blocks until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	var debounce *time.Timer
	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(w.debounce, w.reload)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.LogError("File watcher", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := LoadGuardianConfig(w.path)
	if err == nil {
		err = w.onReload(cfg)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err != nil {
		w.failures++
		w.logger.LogError("Config hot-reload rejected, keeping running configuration", err)
		return
	}
	w.reloads++
	w.logger.Info("Config hot-reload applied: %s", cfg.Summary())
}

// Stats returns the number of applied and rejected reloads
func (w *Watcher) Stats() (reloads, failures int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reloads, w.failures
}
