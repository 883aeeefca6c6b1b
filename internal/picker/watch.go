package picker

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/fakeyudi/scanup/internal/session"
)

// DefaultDebounce is how long the watcher waits after the last new file
// before reporting a batch.
const DefaultDebounce = 500 * time.Millisecond

// WatchOptions configures Watch.
type WatchOptions struct {
	Accept   Accept
	Debounce time.Duration
	Logger   *slog.Logger
}

// Watch reports files created in dir until ctx is cancelled. Files that
// arrive within one debounce window are handed to emit as a single
// selection, in the order they appeared. A batch still pending when ctx is
// cancelled is flushed before Watch returns.
func Watch(ctx context.Context, dir string, opts WatchOptions, emit func([]session.FileHandle)) error {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return err
	}
	logger.Info("watching for scans", "dir", dir, "accept", opts.Accept.String())

	timer := time.NewTimer(opts.Debounce)
	timer.Stop()
	defer timer.Stop()

	var pending []session.FileHandle
	queued := map[string]bool{}
	flush := func() {
		if len(pending) == 0 {
			return
		}
		batch := pending
		pending = nil
		queued = map[string]bool{}
		logger.Debug("selection from watched directory", "files", len(batch))
		emit(batch)
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return nil

		case <-timer.C:
			flush()

		case event, ok := <-watcher.Events:
			if !ok {
				flush()
				return nil
			}
			if !event.Has(fsnotify.Create) {
				continue
			}
			path := event.Name
			if queued[path] || strings.HasPrefix(filepath.Base(path), ".") {
				continue
			}
			if !opts.Accept.Matches(path) {
				logger.Debug("skipping file outside accept list", "path", path)
				continue
			}
			info, err := os.Stat(path)
			if err != nil || !info.Mode().IsRegular() {
				continue
			}
			queued[path] = true
			pending = append(pending, LocalFile{Path: path})
			timer.Reset(opts.Debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				flush()
				return nil
			}
			// Watcher errors are non-fatal; keep watching.
			logger.Warn("watcher error", "error", err)
		}
	}
}
