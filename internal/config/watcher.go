package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads configuration when the config file or any certificate
// file changes. Parent directories are watched rather than the files
// themselves, so atomic replace-by-rename (the usual editor and deployment
// behavior) is seen as a change instead of losing the watch.
type Watcher struct {
	fsw      *fsnotify.Watcher
	log      *slog.Logger
	debounce time.Duration
	onChange func()

	mu    sync.Mutex
	files map[string]struct{}
	dirs  map[string]struct{}
}

// NewWatcher creates a watcher that invokes onChange once events have
// settled for the debounce interval. Call SetPaths to choose the files and
// Run to start delivering.
func NewWatcher(debounce time.Duration, log *slog.Logger, onChange func()) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		fsw:      fsw,
		log:      log,
		debounce: debounce,
		onChange: onChange,
		files:    make(map[string]struct{}),
		dirs:     make(map[string]struct{}),
	}, nil
}

// SetPaths replaces the watched file set. Paths that cannot be resolved or
// watched are logged and skipped; the rest stay watched.
func (w *Watcher) SetPaths(paths []string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.files = make(map[string]struct{}, len(paths))
	wantDirs := make(map[string]struct{}, len(paths))
	for _, path := range paths {
		if path == "" {
			continue
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			w.log.Warn("watch path", "path", path, "error", err)
			continue
		}
		w.files[abs] = struct{}{}
		wantDirs[filepath.Dir(abs)] = struct{}{}
	}

	for dir := range w.dirs {
		if _, keep := wantDirs[dir]; !keep {
			if err := w.fsw.Remove(dir); err != nil {
				w.log.Debug("unwatch directory", "dir", dir, "error", err)
			}
			delete(w.dirs, dir)
		}
	}
	for dir := range wantDirs {
		if _, have := w.dirs[dir]; have {
			continue
		}
		if err := w.fsw.Add(dir); err != nil {
			w.log.Warn("watch directory", "dir", dir, "error", err)
			continue
		}
		w.dirs[dir] = struct{}{}
	}
}

// Run delivers debounced change notifications until the context is
// cancelled.
func (w *Watcher) Run(ctx context.Context) {
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !w.relevant(ev) {
				continue
			}
			w.log.Debug("file changed", "path", ev.Name, "op", ev.Op.String())
			timer.Reset(w.debounce)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("file watcher", "error", err)
		case <-timer.C:
			w.onChange()
		}
	}
}

func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.files[filepath.Clean(ev.Name)]
	return ok
}

// Close stops the underlying filesystem watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
