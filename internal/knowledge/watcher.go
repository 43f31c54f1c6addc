package knowledge

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the catalog when pack files change on disk or when a
// reload is requested explicitly.
type Watcher struct {
	catalog  *Catalog
	dir      string
	logger   *slog.Logger
	reloadCh chan struct{}
}

// NewWatcher wires a watcher for the catalog's knowledge directory.
func NewWatcher(catalog *Catalog, dir string, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Watcher{
		catalog:  catalog,
		dir:      dir,
		logger:   logger.With("component", "knowledge"),
		reloadCh: make(chan struct{}, 1),
	}
}

// TriggerReload requests a reload without blocking. Requests arriving while
// one is already queued coalesce.
func (w *Watcher) TriggerReload() {
	select {
	case w.reloadCh <- struct{}{}:
	default:
	}
}

// Run watches until ctx is done. When the filesystem watch cannot be
// established the watcher still serves explicit reload requests.
func (w *Watcher) Run(ctx context.Context) {
	var (
		events <-chan fsnotify.Event
		errs   <-chan error
	)
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Warn("filesystem watch unavailable, packs reload on request only", "err", err)
	} else {
		defer fsw.Close()
		if w.dir != "" {
			if err := fsw.Add(w.dir); err != nil {
				w.logger.Warn("knowledge directory not watchable", "dir", w.dir, "err", err)
			}
		}
		events = fsw.Events
		errs = fsw.Errors
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if isPackEvent(event) {
				w.logger.Debug("knowledge pack changed", "path", event.Name, "op", event.Op.String())
				w.TriggerReload()
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			w.logger.Warn("knowledge watch error", "err", err)
		case <-w.reloadCh:
			// Let an editor or sync tool finish its burst before reading.
			select {
			case <-ctx.Done():
				return
			case <-time.After(200 * time.Millisecond):
			}
			reloadCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err := w.catalog.Reload(reloadCtx)
			cancel()
			if err != nil {
				w.logger.Error("knowledge reload failed, keeping previous catalog", "err", err)
			}
		}
	}
}

func isPackEvent(event fsnotify.Event) bool {
	if filepath.Ext(event.Name) != ".json" {
		return false
	}
	return event.Op.Has(fsnotify.Create) ||
		event.Op.Has(fsnotify.Write) ||
		event.Op.Has(fsnotify.Remove) ||
		event.Op.Has(fsnotify.Rename)
}
