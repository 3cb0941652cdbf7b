package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 100 * time.Millisecond

// Watcher keeps the most recent successfully parsed configuration.
type Watcher struct {
	path    string
	logger  *slog.Logger
	watcher *fsnotify.Watcher
	onLoad  func(*File)

	mu      sync.RWMutex
	current *File

	done chan struct{}
}

// Watch loads path and reloads it whenever it changes. The directory is
// watched rather than the file so editors that replace the file on save
// are followed. Parse failures are logged and the previous configuration
// kept. onLoad, if set, runs after each successful reload. Watching stops
// when ctx is done.
func Watch(ctx context.Context, path string, logger *slog.Logger, onLoad func(*File)) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(cfg.Path())
	if err != nil {
		_ = fw.Close()
		return nil, err
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		_ = fw.Close()
		return nil, err
	}

	w := &Watcher{
		path:    abs,
		logger:  logger,
		watcher: fw,
		onLoad:  onLoad,
		current: cfg,
		done:    make(chan struct{}),
	}
	go w.run(ctx)
	return w, nil
}

// Current returns the latest configuration.
func (w *Watcher) Current() *File {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Done is closed once the watcher has stopped.
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)
	defer w.watcher.Close()

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
			} else {
				timer.Reset(watchDebounce)
			}
			fire = timer.C
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watch error", "path", w.path, "error", err)
		case <-fire:
			fire = nil
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn("config reload failed, keeping previous", "path", w.path, "error", err)
		return
	}
	w.mu.Lock()
	w.current = cfg
	w.mu.Unlock()
	w.logger.Info("config reloaded", "path", w.path, "servers", cfg.Names())
	if w.onLoad != nil {
		w.onLoad(cfg)
	}
}
