// SPDX-License-Identifier: MIT

package config

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// WatchLogLevel watches the config file at path and applies log level
// changes at runtime. Only the log level is hot-reloadable; everything
// else requires a restart. An empty path is a no-op (ENV-only setup).
func WatchLogLevel(ctx context.Context, path string, logger zerolog.Logger) error {
	if path == "" {
		logger.Info().Msg("config watcher disabled, no config file")
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: create watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("config: watch %s: %w", path, err)
	}

	logger.Info().Str("path", path).Msg("watching config file for log level changes")
	go watchLoop(ctx, watcher, path, logger)
	return nil
}

func watchLoop(ctx context.Context, watcher *fsnotify.Watcher, path string, logger zerolog.Logger) {
	// Debounce so editors that write in several bursts trigger one reload.
	var debounce *time.Timer
	const debounceDelay = 500 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			_ = watcher.Close()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceDelay, func() {
				applyLogLevel(path, logger)
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Warn().Err(err).Msg("config watcher error")
		}
	}
}

func applyLogLevel(path string, logger zerolog.Logger) {
	cfg, err := Load(path)
	if err != nil {
		// Keep running on the old configuration.
		logger.Warn().Err(err).Msg("config reload failed, keeping current log level")
		return
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.Warn().Str("level", cfg.LogLevel).Msg("unknown log level in config file")
		return
	}
	if zerolog.GlobalLevel() == level {
		return
	}
	zerolog.SetGlobalLevel(level)
	logger.Info().Str("level", level.String()).Msg("log level updated")
}
