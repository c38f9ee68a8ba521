package registry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDelay debounces bursts of filesystem events into one reload.
const reloadDelay = 500 * time.Millisecond

// Watch monitors the registry's source directory and invokes reloadFn with a
// freshly loaded registry after module files change. Events are debounced so
// an editor writing several files triggers one reload. Watching stops when
// the context is cancelled. Only registries built by Load can be watched.
func (r *Registry) Watch(ctx context.Context, reloadFn func(*Registry) error) error {
	if r.Directory == "" {
		return fmt.Errorf("registry was not loaded from a directory")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	if err := watcher.Add(r.Directory); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", r.Directory, err)
	}

	go r.processEvents(ctx, watcher, reloadFn)

	r.logger.Info().
		Str("directory", r.Directory).
		Msg("Watching module directory for changes")

	return nil
}

// processEvents drains filesystem events and triggers debounced reloads.
func (r *Registry) processEvents(ctx context.Context, watcher *fsnotify.Watcher, reloadFn func(*Registry) error) {
	var reloadTimer *time.Timer

	for {
		select {
		case <-ctx.Done():
			_ = watcher.Close()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(event.Name, ".yaml") {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}

			r.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("Module directory changed")

			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(reloadDelay, func() {
				fresh, err := Load(r.Directory, r.logger)
				if err != nil {
					r.logger.Error().Err(err).Msg("Failed to reload module registry")
					return
				}
				if err := reloadFn(fresh); err != nil {
					r.logger.Error().Err(err).Msg("Registry reload callback failed")
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			r.logger.Warn().Err(err).Msg("Module directory watch error")
		}
	}
}
