package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/platinummonkey/audittrail/pkg/observability"
)

// WatchMonitoredTables reloads path whenever it changes and passes the new
// monitored table list to onChange. It blocks until ctx is done.
//
// The parent directory is watched rather than the file so that editors which
// replace the file through a rename are still picked up. A file that fails to
// parse is logged and the previous list stays active.
func WatchMonitoredTables(ctx context.Context, path string, logger *observability.Logger, onChange func([]string)) error {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	path = filepath.Clean(path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}

	log := logger.WithField("config_file", path)
	log.Info("Watching monitored tables")

	reload := func() {
		defer observability.RecoverPanic(log, "config.WatchMonitoredTables")

		fc, err := LoadFile(path)
		if err != nil {
			log.WithError(err).Warn("Keeping previous monitored tables")
			return
		}
		if fc.MonitoredTables == nil {
			return
		}
		log.WithField("tables", fc.MonitoredTables).Info("Monitored tables reloaded")
		onChange(append([]string(nil), fc.MonitoredTables...))
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				reload()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.WithError(err).Warn("Config watcher error")
		}
	}
}
