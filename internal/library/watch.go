package library

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/rjeczalik/notify"
)

const (
	// DefaultQuietPeriod is how long the tree must stay unchanged before a
	// burst of events triggers a cycle.
	DefaultQuietPeriod = 10 * time.Second

	watchBufferSize = 64
)

// Watcher observes the sync root recursively and calls a trigger function
// once local changes have settled.
type Watcher struct {
	lib   *Library
	quiet time.Duration
	log   *slog.Logger
}

// NewWatcher returns a Watcher for lib's root.
func NewWatcher(lib *Library, quiet time.Duration, logger *slog.Logger) *Watcher {
	if quiet <= 0 {
		quiet = DefaultQuietPeriod
	}
	return &Watcher{lib: lib, quiet: quiet, log: logger}
}

// Run watches until ctx is cancelled. Events on hidden, temporary and ignored
// paths do not count as changes. trigger is called from Run's goroutine and
// reports whether the cycle was accepted.
func (w *Watcher) Run(ctx context.Context, trigger func() bool) error {
	events := make(chan notify.EventInfo, watchBufferSize)
	recursive := filepath.Join(w.lib.Root(), "...")
	if err := notify.Watch(recursive, events, notify.Create, notify.Remove, notify.Write, notify.Rename); err != nil {
		return fmt.Errorf("watching %q: %w", w.lib.Root(), err)
	}
	defer notify.Stop(events)
	w.log.Info("watching root folder", "root", w.lib.Root())

	w.debounce(ctx, events, trigger)
	return nil
}

// debounce calls trigger once events have been quiet for w.quiet. A refused
// trigger keeps the change pending and is tried again after another quiet
// period, so changes made during a running cycle are not lost.
func (w *Watcher) debounce(ctx context.Context, events <-chan notify.EventInfo, trigger func() bool) {
	timer := time.NewTimer(w.quiet)
	timer.Stop()
	pending := false

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case ev := <-events:
			if !w.relevant(ev.Path()) {
				continue
			}
			w.log.Debug("local change", "event", ev.Event().String(), "path", ev.Path())
			timer.Reset(w.quiet)
			pending = true
		case <-timer.C:
			if !pending {
				continue
			}
			if trigger() {
				pending = false
				continue
			}
			w.log.Debug("sync busy, local changes deferred")
			timer.Reset(w.quiet)
		}
	}
}

// relevant reports whether a change at p should trigger a cycle.
func (w *Watcher) relevant(p string) bool {
	rel, err := filepath.Rel(w.lib.Root(), p)
	if err != nil || strings.HasPrefix(rel, "..") {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if hidden(part) {
			return false
		}
	}
	name := filepath.Base(rel)
	switch {
	case name == ExclusionFile:
		return true
	case strings.HasSuffix(name, tmpSuffix):
		return false
	}
	return !w.lib.ignored(name)
}
