package file

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 500 * time.Millisecond

// Watch calls onChange whenever the backing file is replaced or written by
// someone other than this store. It blocks until ctx is done.
//
// The parent directory is watched rather than the file, because Save replaces
// the file by rename and a watch on the old inode would go silent.
func (s *Store) Watch(ctx context.Context, onChange func(context.Context)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	slog.Info("watching subscription file", "path", s.path)

	target := filepath.Clean(s.path)
	var debounce <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			debounce = time.After(defaultDebounce)

		case <-debounce:
			debounce = nil
			if s.wroteItself() {
				continue
			}
			slog.Info("subscription file changed externally, reloading", "path", s.path)
			onChange(ctx)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("subscription file watcher error", "error", err)
		}
	}
}
