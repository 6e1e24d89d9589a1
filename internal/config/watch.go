package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"cxl-sched/internal/logging"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// reloadDebounce coalesces the burst of events editors produce for one save.
const reloadDebounce = 200 * time.Millisecond

// Watch reloads the file on change and hands every successfully parsed configuration
// to onChange. Invalid edits are logged and skipped. The parent directory is watched
// so atomic rename-on-save keeps working. Watch blocks until ctx is done.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	defer w.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve config path %s: %w", path, err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	logger := logging.GetLogger()
	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			pending = time.After(reloadDebounce)
		case <-pending:
			pending = nil
			cfg, err := LoadConfig(abs)
			if err != nil {
				logger.WithError(err).WithField("filepath", abs).Warn("Ignoring invalid configuration change")
				continue
			}
			logger.WithFields(logrus.Fields{
				"filepath":   abs,
				"read_mbps":  cfg.TokenBucket.ReadMBps,
				"write_mbps": cfg.TokenBucket.WriteMBps,
				"log_level":  cfg.Scheduler.LogLevel,
			}).Info("Configuration reloaded")
			onChange(cfg)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.WithError(err).Warn("Config watcher error")
		}
	}
}
