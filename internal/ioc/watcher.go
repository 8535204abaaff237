package ioc

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 250 * time.Millisecond

// Watcher reloads a Set whenever one of its source files changes. The
// parent directories are watched so files replaced by rename are picked up.
type Watcher struct {
	set     *Set
	paths   []string
	files   map[string]bool
	watcher *fsnotify.Watcher
	logger  *slog.Logger
	onLoad  func(n int)
}

func NewWatcher(set *Set, paths []string, logger *slog.Logger) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	files := make(map[string]bool, len(paths))
	dirs := make(map[string]bool)
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			w.Close()
			return nil, fmt.Errorf("resolve %s: %w", p, err)
		}
		files[abs] = true
		dirs[filepath.Dir(abs)] = true
	}

	for dir := range dirs {
		if err := w.Add(dir); err != nil {
			w.Close()
			return nil, fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	return &Watcher{
		set:     set,
		paths:   paths,
		files:   files,
		watcher: w,
		logger:  logger,
	}, nil
}

// OnReload registers a callback invoked with the new set size after each reload.
func (w *Watcher) OnReload(fn func(n int)) {
	w.onLoad = fn
}

// Reload reads all files and swaps the set. On any read error the current
// set is kept.
func (w *Watcher) Reload() error {
	hashes, err := LoadFiles(w.paths...)
	if err != nil {
		return err
	}
	n := w.set.Replace(hashes)
	w.logger.Info("ioc set loaded", "hashes", n, "files", len(w.paths))
	if w.onLoad != nil {
		w.onLoad(n)
	}
	return nil
}

// Run processes file events until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	defer w.watcher.Close()

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Chmod == fsnotify.Chmod {
				continue
			}
			abs, err := filepath.Abs(event.Name)
			if err != nil || !w.files[abs] {
				continue
			}
			pending = time.After(reloadDebounce)

		case <-pending:
			pending = nil
			if err := w.Reload(); err != nil {
				w.logger.Error("ioc reload failed, keeping previous set", "error", err)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("ioc watcher error", "error", err)
		}
	}
}
