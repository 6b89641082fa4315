package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"toolbridge/internal/logging"
)

// DefaultDebounce collapses the bursts of events an editor save produces.
const DefaultDebounce = 300 * time.Millisecond

// Watch reloads the config at path whenever it changes and hands each
// valid result to fn. Invalid files are logged and skipped. Watch blocks
// until ctx is done.
//
// The parent directory is watched, not the file, so saves that replace
// the file by rename are seen.
func Watch(ctx context.Context, path string, fn func(*Config)) error {
	return watch(ctx, path, DefaultDebounce, fn)
}

func watch(ctx context.Context, path string, debounce time.Duration, fn func(*Config)) error {
	log := logging.Get(logging.CategoryConfig)

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}
	log.Info("Watching config %s", abs)

	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug("Config watcher stopped")
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			log.Debug("Config event %s", event.Op)
			timer.Reset(debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error("Config watcher error: %v", err)

		case <-timer.C:
			cfg, err := Load(abs)
			if err == nil {
				err = cfg.Validate()
			}
			if err != nil {
				log.Warn("Ignoring config change: %v", err)
				continue
			}
			log.Info("Config reloaded with %d servers", len(cfg.Servers))
			fn(cfg)
		}
	}
}
