package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"
	"golang.org/x/sync/errgroup"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/diag"
	"github.com/starford/ansuz/internal/facts"
)

// RecheckResult describes one recheck pass.
type RecheckResult struct {
	Checked  int           `json:"checked"`
	Changed  int           `json:"changed"`
	Cleared  int           `json:"cleared"`
	Duration time.Duration `json:"duration_ns"`

	published map[string]struct{}
}

// Published reports whether the pass published a report for the absolute path.
func (r RecheckResult) Published(path string) bool {
	_, ok := r.published[path]
	return ok
}

// Recheck evaluates every note of one snapshot, stores the new diagnostic
// sets, and publishes the reports of files whose set changed. Files that left
// the vault are dropped and published with no diagnostics.
func (w *Workspace) Recheck(ctx context.Context) (RecheckResult, error) {
	w.recheckMu.Lock()
	defer w.recheckMu.Unlock()

	start := time.Now()
	snap := w.store.Snapshot()
	views := snap.Views()
	sets := make([]diag.Set, len(views))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(w.workers)
	for i, v := range views {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			sets[i] = diag.Check(snap, v)
			w.logChecked(gCtx, v, sets[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return RecheckResult{}, fmt.Errorf("workspace: recheck: %w", err)
	}

	var changed []facts.NoteFile
	for i, v := range views {
		if w.diags.Replace(v.File, sets[i]) {
			changed = append(changed, v.File)
		}
	}

	var cleared []facts.NoteFile
	for _, f := range w.diags.Files() {
		if _, ok := snap.ResolveByPath(f.Path); ok {
			continue
		}
		w.diags.Remove(f)
		cleared = append(cleared, f)
	}

	published := make(map[string]struct{}, len(changed))
	for _, f := range changed {
		if report, ok := diag.ToPublish(f, w.diags.Get(f), snap); ok {
			w.publish(ctx, report)
			published[f.Path] = struct{}{}
		}
	}
	for _, f := range cleared {
		w.publish(ctx, &protocol.PublishDiagnosticsParams{
			URI:         uri.File(f.Path),
			Diagnostics: []protocol.Diagnostic{},
		})
	}

	res := RecheckResult{
		Checked:  len(views),
		Changed:  len(changed),
		Cleared:  len(cleared),
		Duration: time.Since(start),

		published: published,
	}
	w.logger.Debug("workspace: rechecked",
		slog.Int("checked", res.Checked),
		slog.Int("changed", res.Changed),
		slog.Int("cleared", res.Cleared),
		slog.Duration("took", res.Duration))
	return res, nil
}

// logChecked logs the structure and diagnostic counts of one checked note.
func (w *Workspace) logChecked(ctx context.Context, v *facts.NoteView, set diag.Set) {
	if !w.logger.Enabled(ctx, slog.LevelDebug) {
		return
	}
	var titles int
	headings := v.Structure.Headings()
	for _, h := range headings {
		if h.Level == 1 {
			titles++
		}
	}
	counts := set.CountByCode()
	w.logger.LogAttrs(ctx, slog.LevelDebug, "workspace: checked note",
		slog.String("path", v.File.Path),
		slog.Int("titles", titles),
		slog.Int("headings", len(headings)-titles),
		slog.Int("links", len(v.Structure.InternLinks())),
		slog.Int("dup_titles", counts[diag.CodeDupTitle]),
		slog.Int("dup_headings", counts[diag.CodeDupHeading]),
		slog.Int("broken_links", counts[diag.CodeBrokenNoteLink]+counts[diag.CodeBrokenHeadingLink]))
}

// Publish republishes the cached report for one note.
func (w *Workspace) Publish(ctx context.Context, path string) error {
	report, err := w.Report(path)
	if err != nil {
		return err
	}
	w.publish(ctx, report)
	return nil
}

// PublishAll republishes every cached report.
func (w *Workspace) PublishAll(ctx context.Context) {
	for _, r := range w.Reports() {
		w.publish(ctx, r)
	}
}

// Report builds the current report for a vault-relative or absolute path.
func (w *Workspace) Report(path string) (*protocol.PublishDiagnosticsParams, error) {
	abs, err := w.abs(path)
	if err != nil {
		return nil, err
	}
	file := facts.NoteFile{Path: abs}
	if !w.diags.Has(file) {
		return nil, fmt.Errorf("workspace: report %s: %w", path, apperr.ErrNotFound)
	}
	report, ok := diag.ToPublish(file, w.diags.Get(file), w.store.Snapshot())
	if !ok {
		return nil, fmt.Errorf("workspace: report %s: %w", path, apperr.ErrNotFound)
	}
	return report, nil
}

// Reports returns the current report of every checked note, ordered by URI.
func (w *Workspace) Reports() []*protocol.PublishDiagnosticsParams {
	snap := w.store.Snapshot()
	files := w.diags.Files()
	out := make([]*protocol.PublishDiagnosticsParams, 0, len(files))
	for _, f := range files {
		if report, ok := diag.ToPublish(f, w.diags.Get(f), snap); ok {
			out = append(out, report)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URI < out[j].URI })
	return out
}

// Summary counts checked notes and diagnostics.
type Summary struct {
	Notes       int            `json:"notes"`
	Files       int            `json:"files_with_diagnostics"`
	Diagnostics int            `json:"diagnostics"`
	ByCode      map[string]int `json:"by_code"`
}

// Summary tallies the current diagnostics.
func (w *Workspace) Summary() Summary {
	s := Summary{ByCode: make(map[string]int, len(diag.Codes()))}
	for _, c := range diag.Codes() {
		s.ByCode[c] = 0
	}
	for _, f := range w.diags.Files() {
		set := w.diags.Get(f)
		s.Notes++
		if len(set) == 0 {
			continue
		}
		s.Files++
		s.Diagnostics += len(set)
		for code, n := range set.CountByCode() {
			s.ByCode[code] += n
		}
	}
	return s
}
