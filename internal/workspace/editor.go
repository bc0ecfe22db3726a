package workspace

import (
	"context"
	"errors"
	"fmt"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/facts"
)

// Open overlays the editor's text for the note at path and rechecks.
// The opened note's report is published even when its diagnostics are
// unchanged.
func (w *Workspace) Open(ctx context.Context, path, text string, rev facts.Revision) error {
	abs, err := w.abs(path)
	if err != nil {
		return err
	}
	in, err := w.input(abs, []byte(text), rev)
	if err != nil {
		return err
	}
	w.putOpen(in)

	res, err := w.Recheck(ctx)
	if err != nil {
		return err
	}
	if res.Published(abs) {
		return nil
	}
	return w.Publish(ctx, abs)
}

// Change replaces the editor's text for the note at path and rechecks.
func (w *Workspace) Change(ctx context.Context, path, text string, rev facts.Revision) error {
	abs, err := w.abs(path)
	if err != nil {
		return err
	}
	in, err := w.input(abs, []byte(text), rev)
	if err != nil {
		return err
	}
	w.putOpen(in)

	_, err = w.Recheck(ctx)
	return err
}

// Close drops the editor overlay. The note reverts to its on-disk content,
// or disappears when the file no longer exists.
func (w *Workspace) Close(ctx context.Context, path string) error {
	abs, err := w.abs(path)
	if err != nil {
		return err
	}
	rel, err := w.vault.Rel(abs)
	if err != nil {
		return err
	}
	data, err := w.vault.Read(rel)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return fmt.Errorf("workspace: reload %s: %w", rel, err)
	}
	found := err == nil
	var in facts.NoteInput
	if found {
		if in, err = w.input(abs, data, 0); err != nil {
			return err
		}
	}

	w.openMu.Lock()
	delete(w.open, abs)
	if found {
		w.store.Put(in)
	} else {
		w.store.Remove(abs)
	}
	w.openMu.Unlock()

	_, err = w.Recheck(ctx)
	return err
}
