package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bft-labs/gracehost/pkg/log"
)

// DefaultDebounceDelay is the delay between the last file event and the
// reload.
const DefaultDebounceDelay = 100 * time.Millisecond

// Watcher reloads a Store when one of its files is written.
type Watcher struct {
	store  *Store
	delay  time.Duration
	logger log.Logger

	mu        sync.Mutex
	debounce  *time.Timer
	listeners []func(error)

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWatcher creates a watcher for store. A non-positive delay uses
// DefaultDebounceDelay.
func NewWatcher(store *Store, delay time.Duration, logger log.Logger) *Watcher {
	if delay <= 0 {
		delay = DefaultDebounceDelay
	}
	logger = log.OrNoop(logger)
	return &Watcher{store: store, delay: delay, logger: logger}
}

// OnReload registers fn to be called after every reload attempt with the
// Load error, if any.
func (w *Watcher) OnReload(fn func(error)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listeners = append(w.listeners, fn)
}

// Start begins watching the store directory. It returns once the
// underlying watcher is registered.
func (w *Watcher) Start(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	watched := map[string]bool{}
	dirs := map[string]bool{}
	for _, p := range w.store.Paths() {
		abs, err := filepath.Abs(p)
		if err != nil {
			abs = p
		}
		watched[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	for dir := range dirs {
		if err := fw.Add(dir); err != nil {
			fw.Close()
			return err
		}
	}

	watchCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.wg.Add(1)
	go w.watchLoop(watchCtx, fw, watched)
	return nil
}

// Stop ends the watch loop and waits for it.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()

	w.mu.Lock()
	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.mu.Unlock()
}

func (w *Watcher) watchLoop(ctx context.Context, fw *fsnotify.Watcher, watched map[string]bool) {
	defer w.wg.Done()
	defer fw.Close()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			name, err := filepath.Abs(event.Name)
			if err != nil {
				name = event.Name
			}
			if !watched[name] {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.scheduleReload(ctx)

		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Error("config watcher error", log.Err(err))
		}
	}
}

func (w *Watcher) scheduleReload(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.debounce = time.AfterFunc(w.delay, func() {
		if ctx.Err() != nil {
			return
		}
		w.reload()
	})
}

// Reload reloads the store now and notifies listeners.
func (w *Watcher) Reload() {
	w.reload()
}

func (w *Watcher) reload() {
	err := w.store.Load()
	if err != nil {
		w.logger.Error("config reload failed", log.Err(err))
	} else {
		w.logger.Info("config reloaded", log.String("dir", w.store.Dir()))
	}

	w.mu.Lock()
	listeners := append([]func(error){}, w.listeners...)
	w.mu.Unlock()

	for _, fn := range listeners {
		fn(err)
	}
}
