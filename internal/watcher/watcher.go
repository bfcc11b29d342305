// Package watcher triggers catalog rescans when the clips directory
// changes on disk. Dashcams dump new footage in bursts, so events are
// debounced into a single rescan.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dashgrid/dashgrid-agent/internal/logging"
)

const DefaultDebounce = 2 * time.Second

// Watcher recursively watches the clips directory and invokes the
// rescan callback after file activity settles.
type Watcher struct {
	root     string
	debounce time.Duration
	onChange func(ctx context.Context)
	logger   *slog.Logger

	fsw *fsnotify.Watcher
}

func New(root string, debounce time.Duration, onChange func(ctx context.Context), logger *slog.Logger) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	w := &Watcher{
		root:     root,
		debounce: debounce,
		onChange: onChange,
		logger:   logger,
		fsw:      fsw,
	}
	if err := w.addRecursive(root); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

// Run blocks until the context is cancelled, firing the rescan callback
// one debounce interval after the last relevant event.
func (w *Watcher) Run(ctx context.Context) {
	defer w.fsw.Close()

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}

			// New subdirectories need their own watch before the
			// files inside them produce events.
			if event.Op.Has(fsnotify.Create) {
				if err := w.addRecursive(event.Name); err == nil {
					w.logger.Debug("watching new path", "path", logging.SanitizePath(event.Name))
				}
			}

			if timer == nil {
				timer = time.NewTimer(w.debounce)
				fire = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "error", err)

		case <-fire:
			timer = nil
			fire = nil
			w.logger.Info("clips directory changed, rescanning")
			w.onChange(ctx)
		}
	}
}

// relevant filters out hidden files and events we never act on.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	base := filepath.Base(event.Name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	return event.Op.Has(fsnotify.Create) ||
		event.Op.Has(fsnotify.Write) ||
		event.Op.Has(fsnotify.Remove) ||
		event.Op.Has(fsnotify.Rename)
}

// addRecursive watches path and every directory beneath it. Non-directory
// paths are ignored so Create events for plain files can be passed in
// unconditionally.
func (w *Watcher) addRecursive(path string) error {
	return filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") && p != path {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(p); err != nil {
			return fmt.Errorf("failed to watch %s: %w", logging.SanitizePath(p), err)
		}
		return nil
	})
}
