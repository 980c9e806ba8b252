// Package watch observes the storage root for changes made by sibling
// processes and reports them to the inspector's event broker. The root
// is flat (the path encoder folds directories into file names), so a
// single non-recursive watch suffices.
package watch

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/marginalia/internal/editlock"
	"github.com/starford/marginalia/internal/pathenc"
)

// EventCallback is called after an observed change. kind is one of
// "annotations.updated" or "editors.updated"; project and path identify
// the annotated source file and are empty for editor changes.
type EventCallback func(kind, project, path string)

// Watch processes file change events on root until ctx is cancelled.
// Atomic writes surface as Create events (the rename target), so Create,
// Write and Remove are all treated as updates.
func Watch(ctx context.Context, root string, logger *slog.Logger, cb EventCallback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(root); err != nil {
		return err
	}
	logger.Info("watcher: started", slog.String("root", root))

	for {
		select {
		case <-ctx.Done():
			logger.Info("watcher: stopped")
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			name := filepath.Base(ev.Name)
			if strings.HasPrefix(name, ".marginalia-tmp-") {
				continue
			}

			switch {
			case name == editlock.RecordName:
				logger.Debug("watcher: editors changed")
				if cb != nil {
					cb("editors.updated", "", "")
				}
			default:
				project, rel, decErr := pathenc.Decode(name)
				if decErr != nil {
					continue
				}
				logger.Debug("watcher: annotations changed",
					slog.String("project", project), slog.String("path", rel))
				if cb != nil {
					cb("annotations.updated", project, rel)
				}
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}
