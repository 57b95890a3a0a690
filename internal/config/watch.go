package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// reloadDelay lets editors finish writing before the file is re-read.
const reloadDelay = 100 * time.Millisecond

// Watch reloads the config file on write or create and hands every valid
// result to onChange. Invalid files are logged and skipped. Watch blocks
// until ctx ends; without a config file it returns immediately.
func (l *Loader) Watch(ctx context.Context, logger *zap.SugaredLogger, onChange func(*Config)) error {
	path := l.File()
	if path == "" {
		logger.Debug("No config file in use, hot reload disabled")
		return nil
	}
	path, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	// Editors often replace the file, so watch its directory.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch directory %s: %w", dir, err)
	}

	logger.Infof("Watching %s for changes", path)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != filepath.Base(path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			select {
			case <-time.After(reloadDelay):
			case <-ctx.Done():
				return nil
			}
			drain(watcher.Events)

			cfg, err := l.Load()
			if err != nil {
				logger.Errorf("Failed to reload config: %v", err)
				continue
			}
			logger.Info("Config reloaded")
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Errorf("File watcher error: %v", err)
		}
	}
}

// drain discards events queued while a reload was pending.
func drain(events <-chan fsnotify.Event) {
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		default:
			return
		}
	}
}
