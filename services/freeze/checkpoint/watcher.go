// Copyright (C) 2025 LatticeForge (oss@latticeforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package checkpoint

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Watcher reports checkpoint files as a trainer writes them.
//
// # Description
//
// The training stage streams live events to the client; seeing "wrote
// c0_run-0_epoch-5.pt" as it happens is far more reassuring during an
// hours-long run than silence until exit. Watcher wraps fsnotify over
// the replica checkpoint directories and invokes a callback for every
// new or rewritten *.pt file.
//
// The watcher is strictly advisory: any setup or runtime failure is
// logged and otherwise ignored, and the caller's pipeline proceeds
// without it. The resolver, not the watcher, decides which artifact is
// canonical.
//
// # Thread Safety
//
// The callback is invoked from a single internal goroutine.
type Watcher struct {
	fsw    *fsnotify.Watcher
	onFile func(path string)
	logger *slog.Logger
}

// Watch starts watching dirs for checkpoint writes until ctx ends.
//
// Directories that do not exist yet are skipped (the trainer creates
// them later; missing one only costs advisory events). Returns nil and
// logs when the platform watcher cannot be created at all.
func Watch(ctx context.Context, dirs []string, onFile func(path string), logger *slog.Logger) *Watcher {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("checkpoint watcher unavailable", "error", err)
		return nil
	}

	w := &Watcher{fsw: fsw, onFile: onFile, logger: logger}
	for _, dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			logger.Debug("not watching checkpoint dir", "dir", dir, "error", err)
		}
	}

	go w.loop(ctx)
	return w
}

// Close stops the watcher. Safe on a nil receiver so callers can
// blindly defer it next to Watch.
func (w *Watcher) Close() {
	if w == nil {
		return
	}
	_ = w.fsw.Close()
}

func (w *Watcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !strings.EqualFold(filepath.Ext(event.Name), Ext) {
				continue
			}
			w.onFile(event.Name)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Debug("checkpoint watcher error", "error", err)
		}
	}
}
