// Package watch reruns a callback when Go source under a directory tree
// changes. Bursts of events are debounced into a single run.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jward/capwire/internal/logging"
)

// ChangeFunc is called with the changed paths, sorted and deduplicated.
type ChangeFunc func(ctx context.Context, paths []string) error

// Watcher watches a directory tree for Go source changes.
type Watcher struct {
	root     string
	debounce time.Duration
	skipDir  func(name string) bool
	skipFile func(path string) bool
	onChange ChangeFunc

	watcher *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]bool
	timer   *time.Timer
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets how long the watcher waits for events to settle.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// WithSkipDir skips directories whose base name matches.
func WithSkipDir(fn func(name string) bool) Option {
	return func(w *Watcher) { w.skipDir = fn }
}

// WithSkipFile ignores events for matching files, such as generated ones.
func WithSkipFile(fn func(path string) bool) Option {
	return func(w *Watcher) { w.skipFile = fn }
}

// New creates a watcher on every directory under root.
func New(root string, onChange ChangeFunc, opts ...Option) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	w := &Watcher{
		root:     root,
		debounce: 300 * time.Millisecond,
		skipDir:  func(string) bool { return false },
		skipFile: func(string) bool { return false },
		onChange: onChange,
		watcher:  fw,
		pending:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(w)
	}
	if err := w.addTree(root); err != nil {
		fw.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && w.skipDir(d.Name()) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}

// Run processes events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			if w.timer != nil {
				w.timer.Stop()
			}
			w.mu.Unlock()
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			logging.Logger.Warnw("watcher error", "error", err)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, event fsnotify.Event) {
	if event.Op&fsnotify.Create == fsnotify.Create {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if !w.skipDir(filepath.Base(event.Name)) {
				if err := w.addTree(event.Name); err != nil {
					logging.Logger.Warnw("watcher failed to add directory", "dir", event.Name, "error", err)
				}
			}
			return
		}
	}
	if !strings.HasSuffix(event.Name, ".go") || w.skipFile(event.Name) {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	logging.Logger.Debugw("watcher detected change", "file", event.Name, "op", event.Op.String())
	w.schedule(ctx, event.Name)
}

// schedule records path and restarts the debounce timer.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending[path] = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() { w.flush(ctx) })
}

func (w *Watcher) flush(ctx context.Context) {
	w.mu.Lock()
	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	w.pending = make(map[string]bool)
	w.mu.Unlock()

	if len(paths) == 0 || ctx.Err() != nil {
		return
	}
	sort.Strings(paths)
	if err := w.onChange(ctx, paths); err != nil {
		logging.Logger.Warnw("watch callback failed", "error", err)
	}
}
