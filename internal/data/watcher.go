package data

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// defaultSettle is how long the watcher waits after the last file event
// before reloading, so a file written in several chunks is read once.
const defaultSettle = 500 * time.Millisecond

// Watcher reloads an Index when its dataset file is replaced or rewritten.
type Watcher struct {
	index   *Index
	watcher *fsnotify.Watcher
	settle  time.Duration
	logger  *slog.Logger
}

// NewWatcher watches the directory holding the index dataset. Watching the
// directory instead of the file keeps working across atomic renames.
func NewWatcher(index *Index, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(index.Path())); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", index.Path(), err)
	}
	return &Watcher{
		index:    index,
		watcher:  fw,
		settle:   defaultSettle,
		logger:  logger,
	}, nil
}

// Run processes file events until ctx is cancelled. Reload failures are
// logged and the previous dataset stays in place.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	target := filepath.Clean(w.index.Path())
	timer := time.NewTimer(w.settle)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				w.logger.Debug("geo dataset changed", "path", event.Name, "op", event.Op.String())
				timer.Reset(w.settle)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("geo dataset watcher error", "error", err)
		case <-timer.C:
			if err := w.index.Reload(); err != nil {
				w.logger.Error("geo dataset reload failed, keeping previous dataset", "path", target, "error", err)
			}
		}
	}
}
