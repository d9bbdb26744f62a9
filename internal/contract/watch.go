package contract

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/lance13c/uimap/internal/logging"
)

// Watcher re-runs a callback when any of a fixed set of files changes.
// Parent directories are watched so editors that replace files by rename
// are still seen.
type Watcher struct {
	files    map[string]bool
	watcher  *fsnotify.Watcher
	debounce time.Duration

	mu           sync.Mutex
	isWatching   bool
	pendingFiles map[string]time.Time

	onChange func(files []string) error
}

// NewWatcher watches paths, collapsing bursts shorter than debounce
func NewWatcher(paths []string, debounce time.Duration) (*Watcher, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("nothing to watch")
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	w := &Watcher{
		files:        map[string]bool{},
		watcher:      fw,
		debounce:     debounce,
		pendingFiles: map[string]time.Time{},
	}
	dirs := map[string]bool{}
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			fw.Close()
			return nil, err
		}
		w.files[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	for d := range dirs {
		if err := fw.Add(d); err != nil {
			fw.Close()
			return nil, fmt.Errorf("failed to watch %s: %w", d, err)
		}
	}
	return w, nil
}

// OnChange sets the callback run with the changed files
func (w *Watcher) OnChange(fn func(files []string) error) {
	w.onChange = fn
}

// Start blocks until ctx is done. Callback errors are logged and watching
// continues.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.isWatching {
		w.mu.Unlock()
		return fmt.Errorf("watcher is already running")
	}
	w.isWatching = true
	w.mu.Unlock()
	defer w.Stop()

	tick := w.debounce / 2
	if tick <= 0 {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	logging.Info("watching %d file(s) (debounce %s)", len(w.files), w.debounce)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if w.shouldIgnoreEvent(event) {
				continue
			}
			w.mu.Lock()
			w.pendingFiles[filepath.Clean(event.Name)] = time.Now()
			w.mu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			logging.Warn("file watcher error: %v", err)

		case <-ticker.C:
			if err := w.processPending(time.Now()); err != nil {
				logging.Error("rebuild after change failed: %v", err)
			}
		}
	}
}

// Stop closes the underlying watcher
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.isWatching {
		w.watcher.Close()
		w.isWatching = false
	}
}

func (w *Watcher) shouldIgnoreEvent(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return true
	}
	abs, err := filepath.Abs(event.Name)
	if err != nil {
		return true
	}
	return !w.files[abs]
}

// processPending fires the callback for files quiet for at least debounce
func (w *Watcher) processPending(now time.Time) error {
	w.mu.Lock()
	threshold := now.Add(-w.debounce)
	var ready []string
	for file, ts := range w.pendingFiles {
		if !ts.After(threshold) {
			ready = append(ready, file)
			delete(w.pendingFiles, file)
		}
	}
	w.mu.Unlock()

	if len(ready) == 0 || w.onChange == nil {
		return nil
	}
	sort.Strings(ready)
	logging.Info("detected changes in %d file(s)%s", len(ready), logging.KV("files", ready))
	return w.onChange(ready)
}
