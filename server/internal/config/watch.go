package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce collapses the burst of events a single save produces.
const reloadDebounce = 100 * time.Millisecond

// Watch reloads the config at path whenever it changes and passes the new
// Config to onChange. It runs until ctx is cancelled.
//
// The parent directory is watched rather than the file so that editors that
// save by rename keep triggering reloads. A reload that fails to parse or
// validate is logged and skipped; the previous config stays active.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	target := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return err
	}

	slog.Info("config: watching for changes", "path", path)

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			cfg, err := Load(path)
			if err != nil {
				slog.Error("config: reload failed, keeping previous config", "path", path, "err", err)
				continue
			}
			slog.Info("config: reloaded", "path", path,
				"interval", cfg.Refresher.Interval,
				"poll_interval", cfg.Stream.PollInterval,
				"log_level", cfg.Log.Level)
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("config: watcher error", "err", err)
		}
	}
}
