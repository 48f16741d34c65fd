// internal/daemon/reload.go
package daemon

import (
	"context"
	"path/filepath"
	"reflect"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/colebrumley/amitrigger/internal/config"
	"github.com/colebrumley/amitrigger/internal/security"
)

const reloadDebounce = time.Second

// loadTriggers reads the triggers directory and starts every enabled
// definition. Invalid files are logged and skipped.
func (d *Daemon) loadTriggers(ctx context.Context) error {
	defs, failed, err := config.LoadTriggersDir(d.triggersDir)
	if err != nil {
		return err
	}
	for _, f := range failed {
		d.logger.Error("skipping invalid trigger definition", "file", f.File, "error", f.Err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, def := range defs {
		if !def.Enabled {
			d.logger.Debug("skipping disabled trigger", "trigger", def.Name)
			d.disabled[def.Name] = def
			continue
		}
		if err := d.startTrigger(ctx, def, time.Time{}); err != nil {
			d.logger.Error("failed to start trigger", "trigger", def.Name, "error", err)
		}
	}
	return nil
}

// watchTriggers reloads definitions when YAML files in the triggers
// directory change, once writes have settled.
func (d *Daemon) watchTriggers(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		d.logger.Error("could not create triggers watcher", "error", err)
		return
	}
	defer watcher.Close()

	if err := watcher.Add(d.triggersDir); err != nil {
		d.logger.Error("could not watch triggers directory", "error", err, "dir", d.triggersDir)
		return
	}

	d.logger.Info("hot-reload watcher started", "dir", d.triggersDir)

	var debounceTimer *time.Timer
	debounceCh := make(chan struct{}, 1)
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			ext := filepath.Ext(event.Name)
			if ext != ".yaml" && ext != ".yml" {
				continue
			}

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(reloadDebounce, func() {
				select {
				case debounceCh <- struct{}{}:
				default:
				}
			})

		case <-debounceCh:
			d.logger.Info("reloading triggers (hot-reload)")
			d.reloadTriggers(ctx)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			d.logger.Error("triggers watcher error", "error", err)

		case <-ctx.Done():
			return
		}
	}
}

// reloadTriggers applies the current contents of the triggers directory.
// Unchanged definitions keep running untouched. A changed definition gets a
// new engine that carries over the old freshness marker once the old
// engine's in-flight pass has finished.
func (d *Daemon) reloadTriggers(ctx context.Context) {
	if err := security.ValidateTriggersDir(d.triggersDir); err != nil {
		d.logger.Error("CRITICAL: triggers directory has unsafe permissions during reload", "error", err)
		return
	}

	defs, failed, err := config.LoadTriggersDir(d.triggersDir)
	if err != nil {
		d.logger.Error("failed to reload triggers", "error", err)
		return
	}
	for _, f := range failed {
		d.logger.Error("skipping invalid trigger definition", "file", f.File, "error", f.Err)
	}

	next := make(map[string]*config.TriggerDef, len(defs))
	for _, def := range defs {
		next[def.Name] = def
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for name := range d.triggers {
		if _, ok := next[name]; !ok {
			d.logger.Info("stopping trigger for removed definition", "trigger", name)
			d.stopTrigger(name)
		}
	}
	d.disabled = make(map[string]*config.TriggerDef)

	for name, def := range next {
		old, running := d.triggers[name]

		if !def.Enabled {
			if running {
				d.logger.Info("stopping disabled trigger", "trigger", name)
				d.stopTrigger(name)
			}
			d.disabled[name] = def
			continue
		}

		if running && reflect.DeepEqual(old.def, def) {
			continue
		}

		var lastRun time.Time
		if running {
			d.stopTrigger(name)
			lastRun = old.engine.LastRun()
		}
		if err := d.startTrigger(ctx, def, lastRun); err != nil {
			d.logger.Error("failed to start trigger during reload", "trigger", name, "error", err)
			continue
		}
		d.logger.Info("reloaded trigger", "trigger", name)
	}

	d.logger.Info("triggers reloaded", "enabled", len(d.triggers), "disabled", len(d.disabled))
}
