package knowledge

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the watcher waits after the last file event
// before reporting a change.
const DefaultDebounce = 500 * time.Millisecond

// Watcher reports changes to knowledge files. Editors often write a file in
// several steps, so bursts of events collapse into one callback.
type Watcher struct {
	watcher  *fsnotify.Watcher
	files    map[string]bool
	debounce time.Duration
	logger   *slog.Logger
}

// NewWatcher watches the parent directories of paths. Directories that do not
// exist are skipped; at least one must exist.
func NewWatcher(paths []string, debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	files := make(map[string]bool, len(paths))
	dirs := make(map[string]bool)
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			continue
		}
		files[abs] = true
		dir := filepath.Dir(abs)
		if dirs[dir] {
			continue
		}
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			continue
		}
		if err := w.Add(dir); err != nil {
			logger.Warn("cannot watch knowledge directory", "dir", dir, "error", err)
			continue
		}
		dirs[dir] = true
	}

	if len(dirs) == 0 {
		_ = w.Close()
		return nil, errors.New("no knowledge directory to watch")
	}

	return &Watcher{
		watcher:  w,
		files:    files,
		debounce: debounce,
		logger:   logger.With("component", "knowledge_watcher"),
	}, nil
}

// Run calls onChange after watched files change until ctx is done. It closes
// the underlying watcher on return.
func (w *Watcher) Run(ctx context.Context, onChange func(context.Context)) {
	defer w.watcher.Close()

	timer := time.NewTimer(w.debounce)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			w.logger.Debug("knowledge file event", "path", event.Name, "op", event.Op.String())
			timer.Reset(w.debounce)

		case <-timer.C:
			w.logger.Info("knowledge file changed")
			onChange(ctx)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("knowledge watcher error", "error", err)
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if !w.files[filepath.Clean(event.Name)] {
		return false
	}
	return event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) != 0
}
