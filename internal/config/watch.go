package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/asheshgoplani/snipdeck/internal/logging"
)

// reloadDebounce coalesces the burst of events editors produce on save.
const reloadDebounce = 100 * time.Millisecond

// Watch re-loads path whenever it changes and passes the new Config to
// onChange. Invalid files are logged and skipped. Watch blocks until ctx is
// done.
func Watch(ctx context.Context, path string, onChange func(Config)) error {
	if path == "" {
		return fmt.Errorf("config: watch requires a path")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("config: resolve %s: %w", path, err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: create watcher: %w", err)
	}
	defer w.Close()

	// Watch the directory so atomic rename-on-save is observed.
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("config: watch %s: %w", filepath.Dir(abs), err)
	}

	log := logging.ForComponent(logging.CompConfig)
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(reloadDebounce)
			fire = timer.C
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("config_watch_error", slog.String("error", err.Error()))
		case <-fire:
			fire = nil
			cfg, err := Load(abs)
			if err != nil {
				log.Warn("config_reload_failed", slog.String("path", abs), slog.String("error", err.Error()))
				continue
			}
			log.Info("config_reloaded", slog.String("path", abs))
			onChange(cfg)
		}
	}
}
