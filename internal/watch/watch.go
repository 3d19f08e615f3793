// Package watch reports changes to dataset files on disk. Datasets are
// loaded once per process, so a change is only ever reported, never applied.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/TomasB/geolookup/internal/data"
	"github.com/fsnotify/fsnotify"
)

// Change is one observed modification of a dataset file.
type Change struct {
	Kind data.DatasetKind
	Path string
	Op   fsnotify.Op
}

// Watcher observes the directories holding dataset files. Directories are
// watched instead of the files so that replacements by rename are seen.
type Watcher struct {
	fsw      *fsnotify.Watcher
	files    map[string]data.DatasetKind
	onChange func(Change)
	logger   *slog.Logger
}

// New starts watching every source. onChange is called from the goroutine
// running Run.
func New(sources []data.Source, onChange func(Change), logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	w := &Watcher{
		fsw:      fsw,
		files:    make(map[string]data.DatasetKind, len(sources)),
		onChange: onChange,
		logger:   logger,
	}

	dirs := make(map[string]bool)
	for _, src := range sources {
		path, err := filepath.Abs(src.Path)
		if err != nil {
			fsw.Close()
			return nil, fmt.Errorf("resolve %s: %w", src.Path, err)
		}
		w.files[path] = src.Kind

		dir := filepath.Dir(path)
		if dirs[dir] {
			continue
		}
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("watch %s: %w", dir, err)
		}
		dirs[dir] = true
	}

	return w, nil
}

// Run delivers changes until ctx is done, then releases the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if ev.Op == fsnotify.Chmod {
				continue
			}
			kind, ok := w.files[filepath.Clean(ev.Name)]
			if !ok {
				continue
			}
			w.logger.Debug("dataset file event", "dataset", kind, "path", ev.Name, "op", ev.Op.String())
			if w.onChange != nil {
				w.onChange(Change{Kind: kind, Path: ev.Name, Op: ev.Op})
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("dataset watcher error", "error", err)
		}
	}
}

// WarnRestart returns an onChange callback that logs that a restart is
// needed for the change to take effect.
func WarnRestart(logger *slog.Logger) func(Change) {
	return func(c Change) {
		logger.Warn("dataset file changed on disk, restart to load it",
			"dataset", c.Kind, "path", c.Path, "op", c.Op.String())
	}
}
