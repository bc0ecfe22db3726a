package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/facts"
	"github.com/starford/ansuz/internal/index"
)

// Warm loads every catalog record into the store. Notes open in the editor
// keep their editor revision.
func (w *Workspace) Warm(catalog index.Catalog) error {
	recs, err := catalog.AllNotes()
	if err != nil {
		return fmt.Errorf("workspace: warm: %w", err)
	}
	loaded := 0
	for _, rec := range recs {
		ok, err := w.ApplyRecord(rec)
		if err != nil {
			w.logger.Warn("workspace: skip record", slog.String("path", rec.Path), slog.String("error", err.Error()))
			continue
		}
		if ok {
			loaded++
		}
	}
	w.logger.Info("workspace: warmed", slog.Int("notes", loaded))
	return nil
}

// ApplyRecord stores the on-disk revision held by rec. It reports false when
// the note is open in the editor, whose text takes precedence.
func (w *Workspace) ApplyRecord(rec index.NoteRecord) (bool, error) {
	abs, err := w.vault.Abs(rec.Path)
	if err != nil {
		return false, err
	}
	w.openMu.Lock()
	defer w.openMu.Unlock()
	if _, ok := w.open[abs]; ok {
		return false, nil
	}
	w.store.Put(facts.NoteInput{
		Path:      abs,
		Name:      rec.Name,
		Text:      rec.Content,
		Structure: rec.Structure(),
	})
	return true, nil
}

// removeClosed drops the note unless it is open in the editor.
func (w *Workspace) removeClosed(abs string) bool {
	w.openMu.Lock()
	defer w.openMu.Unlock()
	if _, ok := w.open[abs]; ok {
		return false
	}
	return w.store.Remove(abs)
}

// HandleEvent applies one catalog change reported by the watcher and
// rechecks the vault.
func (w *Workspace) HandleEvent(ctx context.Context, catalog index.Catalog, kind, rel string) error {
	abs, err := w.vault.Abs(rel)
	if err != nil {
		return err
	}

	switch kind {
	case index.EventDeleted:
		if !w.removeClosed(abs) {
			return nil
		}
	case index.EventCreated, index.EventUpdated:
		rec, err := catalog.GetNote(rel)
		if errors.Is(err, apperr.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("workspace: load %s: %w", rel, err)
		}
		applied, err := w.ApplyRecord(*rec)
		if err != nil || !applied {
			return err
		}
	default:
		return fmt.Errorf("workspace: unknown event kind %q", kind)
	}

	_, err = w.Recheck(ctx)
	return err
}
