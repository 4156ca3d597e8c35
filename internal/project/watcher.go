package project

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the watcher waits for more changes before
// calling its handler.
const DefaultDebounce = 500 * time.Millisecond

// ChangeHandler is called once per debounced batch of changes with the
// changed project file paths.
type ChangeHandler func(ctx context.Context, paths []string)

// Watcher watches the status directories of a Library for project file
// changes and reports them in batches.
//
// The handler runs on a single goroutine; batches never overlap.
type Watcher struct {
	lib      *Library
	watcher  *fsnotify.Watcher
	handler  ChangeHandler
	debounce time.Duration
	logger   *slog.Logger

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewWatcher creates a watcher. A zero debounce uses DefaultDebounce.
func NewWatcher(lib *Library, handler ChangeHandler, debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	return &Watcher{
		lib:      lib,
		watcher:  fw,
		handler:  handler,
		debounce: debounce,
		logger:   logger,
		done:     make(chan struct{}),
	}, nil
}

// Start creates the status directories, watches them and begins
// delivering batches until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.lib.EnsureDirs(); err != nil {
		return err
	}
	for _, s := range Statuses() {
		if err := w.watcher.Add(w.lib.Dir(s)); err != nil {
			return fmt.Errorf("watch %s: %w", w.lib.Dir(s), err)
		}
	}

	w.wg.Add(1)
	go w.loop(ctx)
	return nil
}

// Stop ends watching and waits for a running handler to return.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.watcher.Close()
	})
	w.wg.Wait()
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()

	pending := map[string]struct{}{}
	var timer *time.Timer
	var timerC <-chan time.Time

	flush := func() {
		if len(pending) == 0 {
			return
		}
		paths := make([]string, 0, len(pending))
		for p := range pending {
			paths = append(paths, p)
		}
		pending = map[string]struct{}{}
		if w.handler != nil {
			w.handler(ctx, paths)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !IsProjectFile(filepath.Base(event.Name)) {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			pending[event.Name] = struct{}{}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}

		case <-timerC:
			timer = nil
			timerC = nil
			flush()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("project watcher error", slog.String("error", err.Error()))
		}
	}
}
