package tasks

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"

	"github.com/solarhq/solar/internal/logging"
)

// Watcher dispatches active task files to an executor. It combines fsnotify
// events on <task root>/active with a periodic cron rescan that catches files
// dropped while the process was down or events the OS coalesced away.
type Watcher struct {
	root     string // task root; active/ lives beneath it
	schedule string // cron spec for the rescan
	exec     *Executor

	mu       sync.Mutex
	inflight map[string]bool
}

// NewWatcher builds a Watcher over the task root.
func NewWatcher(root, schedule string, exec *Executor) *Watcher {
	return &Watcher{
		root:     root,
		schedule: schedule,
		exec:     exec,
		inflight: make(map[string]bool),
	}
}

// Run blocks until ctx is cancelled. It scans once at startup, then reacts
// to filesystem events and the periodic rescan.
func (w *Watcher) Run(ctx context.Context) error {
	activeDir := filepath.Join(w.root, "active")
	if err := os.MkdirAll(activeDir, 0o755); err != nil {
		return fmt.Errorf("create active dir: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("start filesystem watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(activeDir); err != nil {
		return fmt.Errorf("watch %s: %w", activeDir, err)
	}

	sched := cron.New()
	if _, err := sched.AddFunc(w.schedule, func() { w.scan(ctx, activeDir) }); err != nil {
		return fmt.Errorf("schedule rescan %q: %w", w.schedule, err)
	}
	sched.Start()
	defer sched.Stop()

	logging.Infof("watching %s (rescan %s)", activeDir, w.schedule)
	w.scan(ctx, activeDir)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				w.maybeDispatch(ctx, event.Name)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logging.Errorf("watcher error: %v", err)
		}
	}
}

// scan dispatches every eligible file currently in the active directory.
func (w *Watcher) scan(ctx context.Context, activeDir string) {
	entries, err := os.ReadDir(activeDir)
	if err != nil {
		logging.Errorf("scan %s: %v", activeDir, err)
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		w.maybeDispatch(ctx, filepath.Join(activeDir, entry.Name()))
	}
}

// maybeDispatch runs one task in a goroutine unless it is already running.
func (w *Watcher) maybeDispatch(ctx context.Context, path string) {
	if !strings.HasSuffix(path, ".md") {
		return
	}
	meta, _, err := ParseTaskFile(path)
	if err != nil {
		// Partially written files show up mid-copy; the rescan retries.
		return
	}
	if meta.Status != StatusActive {
		return
	}

	w.mu.Lock()
	if w.inflight[path] {
		w.mu.Unlock()
		return
	}
	w.inflight[path] = true
	w.mu.Unlock()

	go func() {
		defer func() {
			w.mu.Lock()
			delete(w.inflight, path)
			w.mu.Unlock()
		}()
		if err := w.exec.Execute(ctx, path); err != nil {
			logging.Errorf("task %s: %v", filepath.Base(path), err)
		}
	}()
}
