package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/therealutkarshpriyadarshi/nodewatch/internal/logging"
)

// Provider hands out the configuration in effect for one request
type Provider interface {
	Current() *Config
}

// Static is a Provider that never changes
type Static struct {
	cfg *Config
}

// NewStatic wraps a fixed configuration
func NewStatic(cfg *Config) *Static {
	return &Static{cfg: cfg}
}

// Current returns the wrapped configuration
func (s *Static) Current() *Config {
	return s.cfg
}

// Watcher reloads the configuration file when it changes on disk. A file
// that is missing, empty or fails to validate is ignored and the previous
// configuration stays in effect
type Watcher struct {
	path     string
	current  atomic.Pointer[Config]
	watcher  *fsnotify.Watcher
	logger   *logging.Logger
	onReload func(*Config)
	done     chan struct{}
	wg       sync.WaitGroup
}

// NewWatcher creates a watcher seeded with the configuration already loaded
// from path
func NewWatcher(path string, initial *Config, logger *logging.Logger) (*Watcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	// Watch the directory so editors that replace the file are seen too
	if err := fsw.Add(filepath.Dir(absPath)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(absPath), err)
	}

	w := &Watcher{
		path:    absPath,
		watcher: fsw,
		logger:  logger.WithComponent("config-watcher"),
		done:    make(chan struct{}),
	}
	w.current.Store(initial)

	return w, nil
}

// OnReload registers a callback invoked with every accepted configuration
// It must be set before Start
func (w *Watcher) OnReload(fn func(*Config)) {
	w.onReload = fn
}

// Current returns the configuration in effect
func (w *Watcher) Current() *Config {
	return w.current.Load()
}

// Start begins watching in the background
func (w *Watcher) Start() {
	w.wg.Add(1)
	go w.loop()
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("Config watcher error")
		}
	}
}

// reload loads the file and swaps it in when valid
func (w *Watcher) reload() {
	// Missing and empty files are transient during editor saves
	cfg, err := loadFile(w.path)
	if err != nil {
		w.logger.Warn().Err(err).Str("path", w.path).Msg("Ignoring invalid configuration change")
		return
	}

	w.current.Store(cfg)
	w.logger.Info().Str("path", w.path).Msg("Configuration reloaded")

	if w.onReload != nil {
		w.onReload(cfg)
	}
}

// Name identifies the watcher for shutdown
func (w *Watcher) Name() string {
	return "config-watcher"
}

// Stop stops watching
func (w *Watcher) Stop(ctx context.Context) error {
	close(w.done)
	err := w.watcher.Close()

	stopped := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}
