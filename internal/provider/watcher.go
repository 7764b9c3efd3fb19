package provider

import (
	"context"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"chat2edit/internal/logging"
)

// ExemplarWatcher reloads an ExemplarSet when exemplar files in a
// directory change. Rapid saves are debounced.
type ExemplarWatcher struct {
	mu          sync.Mutex
	watcher     *fsnotify.Watcher
	set         *ExemplarSet
	dir         string
	pending     time.Time
	debounceDur time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
	reloads     int

	// OnReload, if set, is called after each reload attempt.
	OnReload func(err error)
}

// NewExemplarWatcher creates a watcher for dir feeding set.
func NewExemplarWatcher(dir string, set *ExemplarSet) (*ExemplarWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &ExemplarWatcher{
		watcher:     w,
		set:         set,
		dir:         dir,
		debounceDur: 300 * time.Millisecond,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start begins watching. It is non-blocking.
func (ew *ExemplarWatcher) Start(ctx context.Context) error {
	ew.mu.Lock()
	if ew.running {
		ew.mu.Unlock()
		return nil
	}
	ew.running = true
	ew.mu.Unlock()

	if err := ew.watcher.Add(ew.dir); err != nil {
		ew.mu.Lock()
		ew.running = false
		ew.mu.Unlock()
		return err
	}
	logging.Provider("ExemplarWatcher: watching directory: %s", ew.dir)

	go ew.run(ctx)
	return nil
}

// Stop stops the watcher and waits for cleanup.
func (ew *ExemplarWatcher) Stop() {
	ew.mu.Lock()
	wasRunning := ew.running
	ew.running = false
	ew.mu.Unlock()

	if wasRunning {
		close(ew.stopCh)
		<-ew.doneCh
	}
	if err := ew.watcher.Close(); err != nil {
		logging.ProviderWarn("ExemplarWatcher: error closing watcher: %v", err)
	}
}

// Reloads returns how many reloads have run.
func (ew *ExemplarWatcher) Reloads() int {
	ew.mu.Lock()
	defer ew.mu.Unlock()
	return ew.reloads
}

func (ew *ExemplarWatcher) run(ctx context.Context) {
	defer close(ew.doneCh)

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ew.stopCh:
			return
		case event, ok := <-ew.watcher.Events:
			if !ok {
				return
			}
			ew.handleEvent(event)
		case err, ok := <-ew.watcher.Errors:
			if !ok {
				return
			}
			logging.ProviderWarn("ExemplarWatcher error: %v", err)
		case <-ticker.C:
			ew.reloadIfSettled()
		}
	}
}

func (ew *ExemplarWatcher) handleEvent(event fsnotify.Event) {
	if !isExemplarFile(event.Name) {
		return
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}
	logging.ProviderDebug("ExemplarWatcher: %s %s", event.Op, event.Name)
	ew.mu.Lock()
	ew.pending = time.Now()
	ew.mu.Unlock()
}

func (ew *ExemplarWatcher) reloadIfSettled() {
	ew.mu.Lock()
	if ew.pending.IsZero() || time.Since(ew.pending) < ew.debounceDur {
		ew.mu.Unlock()
		return
	}
	ew.pending = time.Time{}
	ew.mu.Unlock()

	err := ew.set.LoadDir(ew.dir)
	if err != nil {
		logging.ProviderWarn("ExemplarWatcher: reload failed, keeping previous exemplars: %v", err)
	} else {
		logging.Provider("ExemplarWatcher: exemplars reloaded from %s", ew.dir)
	}

	ew.mu.Lock()
	ew.reloads++
	ew.mu.Unlock()
	if ew.OnReload != nil {
		ew.OnReload(err)
	}
}
