package loader

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce groups bursts of writes, e.g. an editor's save sequence.
const DefaultDebounce = 100 * time.Millisecond

// Filter decides whether a changed path is reported.
type Filter func(path string) bool

// ExtFilter reports paths with extension ext.
func ExtFilter(ext string) Filter {
	return func(path string) bool { return filepath.Ext(path) == ext }
}

// NoHidden skips dotfiles such as editor swap files.
func NoHidden(path string) bool {
	return !strings.HasPrefix(filepath.Base(path), ".")
}

// Watcher reports changed files under a directory tree. Events are
// debounced and deduplicated; onChange receives the sorted changed paths
// and is never called concurrently with itself.
type Watcher struct {
	fs       *fsnotify.Watcher
	onChange func(paths []string)
	filters  []Filter
	delay    time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]struct{}
	timer   *time.Timer

	// deliver serializes onChange calls across debounce timers.
	deliver sync.Mutex
}

type WatchOption func(*Watcher)

func WithDebounce(d time.Duration) WatchOption {
	return func(w *Watcher) { w.delay = d }
}

func WithFilter(f Filter) WatchOption {
	return func(w *Watcher) { w.filters = append(w.filters, f) }
}

func WithWatchLogger(l *slog.Logger) WatchOption {
	return func(w *Watcher) { w.logger = l }
}

// NewWatcher watches root and all of its subdirectories. Directories created
// later are added as they appear.
func NewWatcher(root string, onChange func(paths []string), opts ...WatchOption) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		fs:       fw,
		onChange: onChange,
		filters:  []Filter{NoHidden},
		delay:    DefaultDebounce,
		logger:   slog.Default(),
		pending:  map[string]struct{}{},
	}
	for _, o := range opts {
		o(w)
	}
	if err := w.addRecursive(root); err != nil {
		_ = fw.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, de fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !de.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(de.Name(), ".") {
			return filepath.SkipDir
		}
		return w.fs.Add(path)
	})
}

// Run delivers events until ctx is done or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			w.handle(ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("template watcher error", "error", err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(ev.Name); err != nil && !errors.Is(err, fs.ErrNotExist) {
				w.logger.Warn("watch new directory", "path", ev.Name, "error", err)
			}
			return
		}
	}
	if ev.Op == fsnotify.Chmod {
		return
	}
	for _, f := range w.filters {
		if !f(ev.Name) {
			return
		}
	}
	w.logger.Debug("template changed", "path", ev.Name, "op", ev.Op.String())

	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending[ev.Name] = struct{}{}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.delay, w.flush)
}

func (w *Watcher) flush() {
	w.deliver.Lock()
	defer w.deliver.Unlock()
	w.mu.Lock()
	paths := slices.Sorted(maps.Keys(w.pending))
	clear(w.pending)
	w.mu.Unlock()
	if len(paths) > 0 {
		w.onChange(paths)
	}
}

// Close stops watching. Run returns once the event channels drain.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	return w.fs.Close()
}
