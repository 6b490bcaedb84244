// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package modpath

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/aplane-algo/embedbridge/internal/util"
)

// DebounceDelay is how long Watch waits for the filesystem to settle.
const DebounceDelay = 250 * time.Millisecond

// Watch invalidates cached modules when files under the search directories
// change. onChange, if non-nil, receives the changed paths after each
// debounced batch. Missing directories are skipped. Watch returns once the
// watcher is running; it stops when ctx is done.
func (r *Resolver) Watch(ctx context.Context, onChange func(paths []string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}

	watched := 0
	for _, dir := range r.dirs {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			continue
		}
		// fsnotify is not recursive; add each package directory.
		walkErr := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() {
				if err := watcher.Add(p); err != nil {
					return fmt.Errorf("failed to watch %s: %w", p, err)
				}
				watched++
			}
			return nil
		})
		if walkErr != nil {
			_ = watcher.Close()
			return walkErr
		}
	}
	util.Debug("module watcher started", "dirs", watched)

	go func() {
		defer func() { _ = watcher.Close() }()

		var (
			mu      sync.Mutex
			pending = make(map[string]bool)
			timer   *time.Timer
		)
		flush := func() {
			mu.Lock()
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			pending = make(map[string]bool)
			mu.Unlock()

			r.Invalidate(paths...)
			util.Debug("modules invalidated", "paths", paths)
			if onChange != nil && ctx.Err() == nil {
				onChange(paths)
			}
		}

		for {
			select {
			case <-ctx.Done():
				mu.Lock()
				if timer != nil {
					timer.Stop()
				}
				mu.Unlock()
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				// New package directories need their own watch.
				if event.Op&fsnotify.Create != 0 {
					if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
						_ = watcher.Add(event.Name)
					}
				}

				mu.Lock()
				pending[event.Name] = true
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(DebounceDelay, flush)
				mu.Unlock()

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				util.Logger.Warn("module watcher error", "error", err)
			}
		}
	}()

	return nil
}
