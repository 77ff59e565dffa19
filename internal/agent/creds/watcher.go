package creds

import (
	"context"
	"fmt"

	"github.com/fsnotify/fsnotify"

	"github.com/tidewatch-io/tidewatch/pkg/log"
)

// Watcher surfaces credential-directory changes as coalesced events, so a
// device provisioned through the web form starts its bus without a restart.
type Watcher struct {
	dir    string
	events chan struct{}
	log    log.Logger
}

// NewWatcher creates a watcher for the given credentials directory.
func NewWatcher(dir string, logger log.Logger) *Watcher {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Watcher{
		dir:    dir,
		events: make(chan struct{}, 1),
		log:    logger.WithName("creds-watcher"),
	}
}

// Events delivers at most one pending notification; bursts of file writes
// collapse into a single event.
func (w *Watcher) Events() <-chan struct{} {
	return w.events
}

// Start runs the watch loop until the context is canceled.
func (w *Watcher) Start(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}

	w.log.Info("Watching credentials directory", "dir", w.dir)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			// Provisioning writes via temp+rename, so Create/Rename are the
			// interesting operations; plain writes are covered too.
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			w.log.Debug("Credentials changed", "file", ev.Name, "op", ev.Op.String())
			select {
			case w.events <- struct{}{}:
			default:
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Error(err, "Credentials watch error")
		}
	}
}
