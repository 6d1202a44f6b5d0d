package metadata

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/singleflight"
)

// reloadDebounce coalesces the burst of filesystem events a single file
// write produces.
const reloadDebounce = 500 * time.Millisecond

// Watch reloads the registry whenever files in its directory change. It
// blocks until ctx is cancelled. Concurrent reload triggers collapse into a
// single Reload call.
func (r *Registry) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create metadata watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(r.dir); err != nil {
		return fmt.Errorf("failed to watch metadata directory: %w", err)
	}
	r.log.WithField("dir", r.dir).Info("Watching metadata directory for changes")

	var group singleflight.Group
	var timer *time.Timer
	reload := func() {
		_, err, _ := group.Do("reload", func() (interface{}, error) {
			return nil, r.Reload()
		})
		if err != nil {
			r.log.WithError(err).Error("Failed to reload service provider metadata")
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDebounce, reload)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.log.WithError(err).Error("Metadata watcher error")
		}
	}
}
