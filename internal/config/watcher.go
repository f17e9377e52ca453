package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/moolen/sleuth/internal/logging"
)

// PolicyCallback receives the analysis section after every successful
// reload. If it returns an error, the error is logged and watching
// continues.
type PolicyCallback func(policy AnalysisConfig) error

// PolicyWatcherConfig holds configuration for the PolicyWatcher.
type PolicyWatcherConfig struct {
	// FilePath is the config file to watch
	FilePath string

	// DebounceMillis coalesces bursts of change events into one reload.
	// Default: 500ms
	DebounceMillis int
}

// PolicyWatcher reloads the config file when it changes and hands the
// analysis policy to a callback. A file that fails to load or validate is
// logged and ignored; the previous policy stays in effect.
type PolicyWatcher struct {
	config   PolicyWatcherConfig
	callback PolicyCallback
	logger   *logging.Logger
	cancel   context.CancelFunc
	stopped  chan struct{}
	ready    chan struct{} // closed once the fsnotify watch is in place
	mu       sync.Mutex

	debounceTimer *time.Timer
}

// NewPolicyWatcher creates a watcher for the given config file.
func NewPolicyWatcher(config PolicyWatcherConfig, callback PolicyCallback) (*PolicyWatcher, error) {
	if config.FilePath == "" {
		return nil, fmt.Errorf("FilePath cannot be empty")
	}

	if callback == nil {
		return nil, fmt.Errorf("callback cannot be nil")
	}

	if config.DebounceMillis == 0 {
		config.DebounceMillis = 500
	}

	return &PolicyWatcher{
		config:   config,
		callback: callback,
		logger:   logging.GetLogger("config.watcher"),
		stopped:  make(chan struct{}),
		ready:    make(chan struct{}),
	}, nil
}

// Name implements lifecycle.Component.
func (w *PolicyWatcher) Name() string {
	return "policy-watcher"
}

// Start begins watching and returns once the watch is established. The
// initial policy is not delivered; callers already hold it from Load.
func (w *PolicyWatcher) Start(ctx context.Context) error {
	watchCtx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel

	go w.watchLoop(watchCtx)

	select {
	case <-w.ready:
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	case <-time.After(5 * time.Second):
		cancel()
		return fmt.Errorf("timeout waiting for file watcher to initialize")
	}

	return nil
}

func (w *PolicyWatcher) signalReady() {
	w.mu.Lock()
	defer w.mu.Unlock()
	select {
	case <-w.ready:
	default:
		close(w.ready)
	}
}

func (w *PolicyWatcher) watchLoop(ctx context.Context) {
	defer close(w.stopped)
	defer w.signalReady()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Error("Failed to create file watcher: %v", err)
		return
	}
	defer watcher.Close()

	if err := watcher.Add(w.config.FilePath); err != nil {
		w.logger.Error("Failed to watch file %s: %v", w.config.FilePath, err)
		return
	}

	w.logger.Info("Watching %s for policy changes (debounce: %dms)", w.config.FilePath, w.config.DebounceMillis)
	w.signalReady()

	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			if w.debounceTimer != nil {
				w.debounceTimer.Stop()
			}
			w.mu.Unlock()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}
			// Editors replace the file on save, which drops the watch.
			if event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
				time.Sleep(50 * time.Millisecond)
				if err := watcher.Add(w.config.FilePath); err != nil {
					w.logger.Warn("Failed to re-add watch after %s: %v", event.Op, err)
				}
			}
			w.handleFileChange()

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Watcher error: %v", err)
		}
	}
}

func (w *PolicyWatcher) handleFileChange() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(
		time.Duration(w.config.DebounceMillis)*time.Millisecond,
		w.reload,
	)
}

func (w *PolicyWatcher) reload() {
	cfg, err := Load(w.config.FilePath)
	if err != nil {
		w.logger.Warn("Failed to reload config, keeping previous policy: %v", err)
		return
	}
	if err := w.callback(cfg.Analysis); err != nil {
		w.logger.Warn("Policy callback failed: %v", err)
		return
	}
	w.logger.Info("Analysis policy reloaded from %s", w.config.FilePath)
}

// Stop ends the watch loop, waiting up to ctx's deadline.
func (w *PolicyWatcher) Stop(ctx context.Context) error {
	if w.cancel == nil {
		return nil
	}
	w.cancel()

	select {
	case <-w.stopped:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timeout waiting for watcher to stop: %w", ctx.Err())
	}
}
