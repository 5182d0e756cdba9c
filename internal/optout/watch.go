package optout

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the registry whenever the opt-out file changes on disk,
// so operator edits take effect without a restart. Blocks until ctx is
// done. Watches the parent directory: editors and the registry's own
// atomic save both replace the file by rename, which would drop a
// watch placed on the file itself.
func (r *FileRegistry) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(r.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("add watch path: %w", err)
	}

	name := filepath.Base(r.path)
	r.logger.Info(ctx, "Watching opt-out file for changes: %s", r.path)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				r.logger.Debug(ctx, "Opt-out file changed (%s), reloading", event.Op)
				r.reload(ctx)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			r.logger.Error(ctx, "Opt-out watcher error: %v", err)
		}
	}
}
