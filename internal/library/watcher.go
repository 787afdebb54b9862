package library

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	// watcherDebounceInterval is how often pending filesystem events are
	// checked, batching camera-import bursts into one trigger.
	watcherDebounceInterval = 500 * time.Millisecond

	// watcherQuietPeriod is how long a file must be quiet before its
	// event fires. Partially copied files keep resetting this.
	watcherQuietPeriod = 2 * time.Second
)

// Watcher monitors the library directory and signals when assets are
// added, changed, or removed. It does not track individual identifiers:
// the reconciliation pipeline recomputes the candidate set on each
// trigger, so a single coalesced signal per burst is enough.
type Watcher struct {
	lib     *DirLibrary
	logger  *slog.Logger
	trigger chan struct{}
	watcher *fsnotify.Watcher
}

// NewWatcher creates a watcher over the given directory library.
func NewWatcher(lib *DirLibrary, logger *slog.Logger) *Watcher {
	return &Watcher{
		lib:     lib,
		logger:  logger,
		trigger: make(chan struct{}, 1),
	}
}

// Changes returns the channel that receives one signal per settled burst
// of library mutations. The channel has capacity one; signals that
// arrive while a previous one is unconsumed are coalesced.
func (w *Watcher) Changes() <-chan struct{} {
	return w.trigger
}

// Watch starts watching the library directory recursively. It blocks
// until the context is cancelled.
func (w *Watcher) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}

	w.watcher = watcher
	defer watcher.Close()

	if err := w.addRecursive(w.lib.Root()); err != nil {
		return fmt.Errorf("watching library dir: %w", err)
	}

	w.logger.Info("library watcher started", slog.String("dir", w.lib.Root()))

	pending := make(map[string]time.Time)

	ticker := time.NewTicker(watcherDebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("fsnotify events channel closed unexpectedly")
			}

			if w.shouldIgnore(event.Name) {
				continue
			}

			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				pending[event.Name] = time.Now()

				// Watch newly created directories. Use Lstat to avoid
				// following symlinks pointing outside the library.
				if event.Has(fsnotify.Create) {
					info, err := os.Lstat(event.Name)
					if err == nil && info.IsDir() && info.Mode()&os.ModeSymlink == 0 {
						_ = w.addRecursive(event.Name)
					}
				}
			}

			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				delete(pending, event.Name)
				_ = watcher.Remove(event.Name)
				// Removals matter too: orphan cleanup runs on the next
				// reconciliation, so fire without a quiet period.
				w.fire()
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("fsnotify errors channel closed unexpectedly")
			}

			w.logger.Warn("watcher error", slog.String("error", err.Error()))

		case <-ticker.C:
			now := time.Now()

			fired := false
			for path, t := range pending {
				if now.Sub(t) < watcherQuietPeriod {
					continue
				}

				delete(pending, path)

				if !fired {
					w.fire()
					fired = true
				}
			}
		}
	}
}

func (w *Watcher) fire() {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.IsDir() {
			return nil
		}

		if w.shouldIgnore(path) && path != w.lib.Root() {
			return filepath.SkipDir
		}

		if d.Type()&os.ModeSymlink != 0 {
			return filepath.SkipDir
		}

		return w.watcher.Add(path)
	})
}

func (w *Watcher) shouldIgnore(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return true
	}

	// Editor and transfer droppings.
	return strings.HasSuffix(base, "~") ||
		strings.HasSuffix(base, ".tmp") ||
		strings.HasSuffix(base, ".part")
}
