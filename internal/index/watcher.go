package index

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/ansuz/internal/storage"
)

// Event kinds reported to an EventCallback.
const (
	EventCreated = "created"
	EventUpdated = "updated"
	EventDeleted = "deleted"
)

const reconcileDelay = 200 * time.Millisecond

// EventCallback is called after a watcher-driven catalog change with one of
// the Event kinds and the vault-relative path.
type EventCallback func(kind string, path string)

type watcher struct {
	db     Catalog
	store  storage.Provider
	root   string
	logger *slog.Logger
	cb     EventCallback
}

func (w *watcher) emit(kind, rel string) {
	if w.cb != nil {
		w.cb(kind, rel)
	}
}

// Watch keeps the catalog in step with the vault until ctx is cancelled.
// Directories created at runtime are watched too. A rename only reports the
// old path, so it triggers a debounced reconcile against the disk listing.
func Watch(ctx context.Context, db Catalog, store storage.Provider, vaultRoot string, logger *slog.Logger, cb EventCallback) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := addDirsRecursive(fw, vaultRoot); err != nil {
		return err
	}

	w := &watcher{db: db, store: store, root: vaultRoot, logger: logger, cb: cb}
	logger.Info("watcher: started", slog.String("root", vaultRoot))

	var (
		reconcileTimer *time.Timer
		reconcileCh    <-chan time.Time
	)
	scheduleReconcile := func() {
		if reconcileTimer == nil {
			reconcileTimer = time.NewTimer(reconcileDelay)
			reconcileCh = reconcileTimer.C
			return
		}
		reconcileTimer.Reset(reconcileDelay)
	}

	for {
		select {
		case <-ctx.Done():
			if reconcileTimer != nil {
				reconcileTimer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-reconcileCh:
			w.reconcile()

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if !strings.HasPrefix(info.Name(), ".") {
						w.watchNewDir(fw, ev.Name)
					}
					continue
				}
			}
			w.handle(ev, scheduleReconcile)

		case watchErr, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

func (w *watcher) rel(abs string) (string, bool) {
	rel, err := filepath.Rel(w.root, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

func (w *watcher) handle(ev fsnotify.Event, scheduleReconcile func()) {
	if !strings.HasSuffix(ev.Name, ".md") {
		return
	}
	rel, ok := w.rel(ev.Name)
	if !ok {
		return
	}

	switch {
	case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
		kind := EventUpdated
		if ev.Op&fsnotify.Create != 0 {
			kind = EventCreated
		}
		if w.index(rel) {
			w.logger.Debug("watcher: indexed", slog.String("path", rel), slog.String("op", kind))
			w.emit(kind, rel)
		}

	case ev.Op&fsnotify.Remove != 0:
		if err := w.db.DeleteNote(rel); err != nil {
			w.logger.Warn("watcher: delete failed", slog.String("path", rel), slog.String("error", err.Error()))
			return
		}
		w.logger.Debug("watcher: deleted", slog.String("path", rel))
		w.emit(EventDeleted, rel)

	case ev.Op&fsnotify.Rename != 0:
		if err := w.db.DeleteNote(rel); err != nil {
			w.logger.Warn("watcher: rename delete failed", slog.String("path", rel), slog.String("error", err.Error()))
		} else {
			w.emit(EventDeleted, rel)
		}
		scheduleReconcile()
	}
}

// index reads and catalogs one file, skipping it when the content is unchanged.
func (w *watcher) index(rel string) bool {
	data, err := w.store.Read(rel)
	if err != nil {
		w.logger.Warn("watcher: read failed", slog.String("path", rel), slog.String("error", err.Error()))
		return false
	}
	rec, err := BuildRecord(rel, data)
	if err != nil {
		w.logger.Warn("watcher: parse failed", slog.String("path", rel), slog.String("error", err.Error()))
		return false
	}
	if cs, _ := w.db.GetChecksum(rel); cs == rec.Checksum {
		return false
	}
	if err := w.db.UpsertNote(rec); err != nil {
		w.logger.Warn("watcher: index failed", slog.String("path", rel), slog.String("error", err.Error()))
		return false
	}
	return true
}

// reconcile removes catalog rows without a file and indexes files the
// catalog is missing or holds stale.
func (w *watcher) reconcile() {
	checksums, err := w.db.AllChecksums()
	if err != nil {
		w.logger.Warn("reconcile: all checksums failed", slog.String("error", err.Error()))
		return
	}
	metas, err := w.store.List("")
	if err != nil {
		w.logger.Warn("reconcile: list failed", slog.String("error", err.Error()))
		return
	}

	disk := make(map[string]string, len(metas))
	for _, m := range metas {
		disk[m.Path] = m.Checksum
	}

	for p := range checksums {
		if _, ok := disk[p]; ok {
			continue
		}
		if err := w.db.DeleteNote(p); err == nil {
			w.logger.Debug("reconcile: removed stale", slog.String("path", p))
			w.emit(EventDeleted, p)
		}
	}

	for p, cs := range disk {
		old, known := checksums[p]
		if known && old == cs {
			continue
		}
		if w.index(p) {
			kind := EventCreated
			if known {
				kind = EventUpdated
			}
			w.logger.Debug("reconcile: indexed", slog.String("path", p))
			w.emit(kind, p)
		}
	}
}

func (w *watcher) watchNewDir(fw *fsnotify.Watcher, dir string) {
	if err := addDirsRecursive(fw, dir); err != nil {
		w.logger.Warn("watcher: add new dir failed", slog.String("path", dir), slog.String("error", err.Error()))
	} else {
		w.logger.Debug("watcher: watching new dir", slog.String("path", dir))
	}

	// Files may land before the directory watch is in place.
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".md") {
			return nil
		}
		rel, ok := w.rel(path)
		if !ok {
			return nil
		}
		if w.index(rel) {
			w.emit(EventCreated, rel)
		}
		return nil
	})
}

// addDirsRecursive adds root and its non-hidden subdirectories to the watcher.
func addDirsRecursive(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return fw.Add(path)
	})
}
