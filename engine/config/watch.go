package config

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/spaghettifunk/lumen/engine/core"
)

// Watch re-reads path whenever it changes and hands the post-process tunables to fn.
// Only scalar tunables are live; structural renderer settings need a restart.
// Watch blocks until ctx is cancelled.
func Watch(ctx context.Context, path string, fn func(PostProcessConfig)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	// editors often replace the file, so watch the directory
	if err := w.Add(filepath.Dir(path)); err != nil {
		return err
	}
	target := filepath.Clean(path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(e.Name) != target {
				continue
			}
			if e.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			cfg, err := Load(path)
			if err != nil {
				core.LogWarn("ignoring config change: %s", err.Error())
				continue
			}
			fn(cfg.Renderer.PostProcess)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			core.LogError(err.Error())
		}
	}
}
