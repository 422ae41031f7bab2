package config

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/edaniels/golog"
	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"
)

// Watch re-reads the configuration whenever the file at path changes
// and hands valid results to onChange. Invalid or unreadable updates
// are logged and skipped; the previous configuration stays in effect.
// The parent directory is watched so editors that replace the file via
// rename are seen too. The returned stop function cancels the watch
// and waits for the worker to exit.
func Watch(path string, onChange func(*Config), logger golog.Logger) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "cannot create config watcher")
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		goutils.UncheckedError(watcher.Close())
		return nil, errors.Wrapf(err, "cannot watch config directory for %q", path)
	}

	ctx, cancel := context.WithCancel(context.Background())
	var workers sync.WaitGroup
	workers.Add(1)
	goutils.ManagedGo(func() {
		watchLoop(ctx, watcher, path, onChange, logger)
	}, workers.Done)

	return func() {
		cancel()
		goutils.UncheckedError(watcher.Close())
		workers.Wait()
	}, nil
}

func watchLoop(ctx context.Context, watcher *fsnotify.Watcher, path string, onChange func(*Config), logger golog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			cfg, err := Read(path)
			if err != nil {
				logger.Errorw("ignoring config update", "error", err)
				continue
			}
			logger.Infow("config updated", "path", path)
			onChange(cfg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Errorw("config watcher error", "error", err)
		}
	}
}
