package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "timerd/pkg/logx"
)

// Watch re-parses the config file whenever it changes and hands each valid
// result to onChange. Parse failures are logged and the previous config
// stays in effect. Watch blocks until ctx is cancelled.
//
// The parent directory is watched rather than the file itself, so
// atomic-rename writes (the common editor and deploy pattern) are picked up.
func Watch(ctx context.Context, path string, log logx.Logger, onChange func(*Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		return err
	}

	base := filepath.Base(path)
	var debounce *time.Timer
	var debounceC <-chan time.Time

	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			// Editors fire bursts of events per save; coalesce them.
			if debounce == nil {
				debounce = time.NewTimer(250 * time.Millisecond)
				debounceC = debounce.C
			} else {
				debounce.Reset(250 * time.Millisecond)
			}

		case <-debounceC:
			debounce = nil
			debounceC = nil
			cfg, err := Load(path)
			if err != nil {
				log.Warn("config reload failed, keeping previous", logx.Err(err))
				continue
			}
			log.Info("config reloaded", logx.String("path", path))
			onChange(cfg)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("config watcher error", logx.Err(err))

		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil
		}
	}
}
