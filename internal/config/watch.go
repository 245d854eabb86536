package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Snapshot holds the current configuration. Runs read it once at start and
// keep that pointer, so a reload never changes a run mid-flight.
type Snapshot struct {
	cfg atomic.Pointer[Config]
}

// NewSnapshot creates a snapshot holding cfg.
func NewSnapshot(cfg *Config) *Snapshot {
	s := &Snapshot{}
	s.cfg.Store(cfg)
	return s
}

// Load returns the current configuration.
func (s *Snapshot) Load() *Config { return s.cfg.Load() }

// Store swaps in a new configuration.
func (s *Snapshot) Store(cfg *Config) { s.cfg.Store(cfg) }

// WatchOptions configures Watch.
type WatchOptions struct {
	// Debounce coalesces bursts of file events. Defaults to 250ms.
	Debounce time.Duration

	Logger *slog.Logger

	// OnChange is called after a successful reload.
	OnChange func(*Config)
}

// Watcher reloads a config file into a Snapshot when it changes.
type Watcher struct {
	path     string
	snapshot *Snapshot
	opts     WatchOptions
	watcher  *fsnotify.Watcher
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// Watch starts reloading path into snap. The directory is watched rather
// than the file so atomic-rename saves are seen. Invalid edits are logged
// and the previous snapshot is kept.
func Watch(ctx context.Context, path string, snap *Snapshot, opts WatchOptions) (*Watcher, error) {
	if opts.Debounce <= 0 {
		opts.Debounce = 250 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(absPath)); err != nil {
		_ = fw.Close()
		return nil, err
	}

	watchCtx, cancel := context.WithCancel(ctx)
	w := &Watcher{
		path:     absPath,
		snapshot: snap,
		opts:     opts,
		watcher:  fw,
		cancel:   cancel,
	}
	w.wg.Add(1)
	go w.loop(watchCtx)
	return w, nil
}

// Close stops watching.
func (w *Watcher) Close() error {
	w.cancel()
	err := w.watcher.Close()
	w.wg.Wait()
	return err
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()

	var mu sync.Mutex
	var timer *time.Timer
	scheduleReload := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(w.opts.Debounce, w.reload)
	}
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				scheduleReload()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.opts.Logger.Warn("config watch error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.opts.Logger.Warn("config reload failed; keeping previous config", "path", w.path, "error", err)
		return
	}
	w.snapshot.Store(cfg)
	w.opts.Logger.Info("config reloaded", "path", w.path, "summary", cfg.String())
	if w.opts.OnChange != nil {
		w.opts.OnChange(cfg)
	}
}
