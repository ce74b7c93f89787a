package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/alberthild/vainplex-openclaw-sub002/internal/config"
)

// DefaultDebounce is how long the reloader waits after the last change.
const DefaultDebounce = 500 * time.Millisecond

// Reloader watches the configuration file and reloads the engine when it
// changes. The parent directory is watched so editors that replace the file
// by rename are picked up too.
type Reloader struct {
	engine   *Engine
	path     string
	watcher  *fsnotify.Watcher
	debounce time.Duration
	logger   *zap.Logger

	mu       sync.Mutex
	reloads  int
	failures int
}

// NewReloader creates a watcher for the configuration at path.
func NewReloader(e *Engine, path string, logger *zap.Logger) (*Reloader, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("engine: resolve %q: %w", path, err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("engine: create file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("engine: watch %q: %w", filepath.Dir(abs), err)
	}
	if logger == nil {
		logger = e.logger
	}
	return &Reloader{
		engine:   e,
		path:     abs,
		watcher:  watcher,
		debounce: DefaultDebounce,
		logger:   logger,
	}, nil
}

// Run processes file events until ctx is cancelled.
func (r *Reloader) Run(ctx context.Context) error {
	defer r.watcher.Close()

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-r.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != r.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(r.debounce, r.reload)

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("config watcher error", zap.Error(err))
		}
	}
}

// reload swaps the file into the engine. A file that fails to load or
// compile leaves the running configuration in place.
func (r *Reloader) reload() {
	// A missing file is mid-replace; the Create that follows triggers again.
	if _, err := os.Stat(r.path); err != nil {
		return
	}
	cfg, hash, err := config.LoadWithHash(r.path)
	if err == nil {
		if hash == r.engine.ConfigHash() {
			return
		}
		err = r.engine.Reload(cfg, hash)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.failures++
		r.logger.Error("config reload failed, keeping previous configuration",
			zap.String("path", r.path), zap.Error(err))
		return
	}
	r.reloads++
}

// Stats returns the number of successful and failed reloads.
func (r *Reloader) Stats() (reloads, failures int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reloads, r.failures
}
