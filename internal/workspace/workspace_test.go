package workspace

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/diag"
	"github.com/starford/ansuz/internal/facts"
	"github.com/starford/ansuz/internal/index"
	"github.com/starford/ansuz/internal/testutil"
)

type recorder struct {
	mu      sync.Mutex
	reports []*protocol.PublishDiagnosticsParams
}

func (r *recorder) Publish(_ context.Context, p *protocol.PublishDiagnosticsParams) error {
	r.mu.Lock()
	r.reports = append(r.reports, p)
	r.mu.Unlock()
	return nil
}

func (r *recorder) take() []*protocol.PublishDiagnosticsParams {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.reports
	r.reports = nil
	return out
}

func (r *recorder) forPath(path string) []*protocol.PublishDiagnosticsParams {
	var out []*protocol.PublishDiagnosticsParams
	for _, p := range r.take() {
		if p.URI == uri.File(path) {
			out = append(out, p)
		}
	}
	return out
}

type env struct {
	dir string
	db  *index.DB
	ws  *Workspace
	rec *recorder
}

func setup(t *testing.T, notes map[string]string) *env {
	t.Helper()
	dir, vault := testutil.TestVault(t)
	for rel, content := range notes {
		testutil.WriteNote(t, dir, rel, content)
	}
	db := testutil.TestDB(t)
	if err := index.Sync(db, vault, testutil.Logger()); err != nil {
		t.Fatal(err)
	}
	rec := &recorder{}
	ws := New(vault, WithWorkers(2), WithLogger(testutil.Logger()), WithPublisher(rec))
	if err := ws.Warm(db); err != nil {
		t.Fatal(err)
	}
	return &env{dir: dir, db: db, ws: ws, rec: rec}
}

func (e *env) abs(rel string) string { return filepath.Join(e.dir, rel) }

func TestRecheck_PublishesOnlyChanged(t *testing.T) {
	e := setup(t, map[string]string{
		"a.md": "# A\n[[missing]]\n",
		"b.md": "# B\n[[a]]\n",
	})
	ctx := context.Background()

	res, err := e.ws.Recheck(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Checked != 2 || res.Changed != 2 {
		t.Errorf("first pass = %+v", res)
	}
	if got := len(e.rec.take()); got != 2 {
		t.Errorf("published = %d, want 2", got)
	}

	res, err = e.ws.Recheck(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Changed != 0 {
		t.Errorf("second pass changed = %d", res.Changed)
	}
	if got := len(e.rec.take()); got != 0 {
		t.Errorf("published = %d, want 0", got)
	}
}

func TestReport_BrokenLink(t *testing.T) {
	e := setup(t, map[string]string{
		"a.md": "# A\nsee [[missing]]\n",
	})
	if _, err := e.ws.Recheck(context.Background()); err != nil {
		t.Fatal(err)
	}
	r, err := e.ws.Report("a.md")
	if err != nil {
		t.Fatal(err)
	}
	if len(r.Diagnostics) != 1 {
		t.Fatalf("diagnostics = %+v", r.Diagnostics)
	}
	d := r.Diagnostics[0]
	if d.Message != "Reference to non-existent note `missing`" {
		t.Errorf("message = %q", d.Message)
	}
	if d.Range.Start.Line != 1 || d.Range.Start.Character != 4 {
		t.Errorf("range = %+v", d.Range)
	}
}

func TestReport_Unknown(t *testing.T) {
	e := setup(t, nil)
	if _, err := e.ws.Report("nope.md"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestEditor_OpenChangeClose(t *testing.T) {
	e := setup(t, map[string]string{
		"a.md": "# A\n",
		"b.md": "# B\n[[a#Setup]]\n",
	})
	ctx := context.Background()
	if _, err := e.ws.Recheck(ctx); err != nil {
		t.Fatal(err)
	}
	e.rec.take()

	// Adding the heading in the editor fixes b's link.
	if err := e.ws.Open(ctx, e.abs("a.md"), "# A\n", 1); err != nil {
		t.Fatal(err)
	}
	if got := e.rec.forPath(e.abs("a.md")); len(got) != 1 || got[0].Version != 1 {
		t.Errorf("open should publish a's report once with version 1, got %+v", got)
	}
	if err := e.ws.Change(ctx, e.abs("a.md"), "# A\n## Setup\n", 2); err != nil {
		t.Fatal(err)
	}
	b := e.rec.forPath(e.abs("b.md"))
	if len(b) != 1 || len(b[0].Diagnostics) != 0 {
		t.Errorf("b should be republished clean, got %+v", b)
	}

	// Closing reverts to disk, where the heading does not exist.
	if err := e.ws.Close(ctx, e.abs("a.md")); err != nil {
		t.Fatal(err)
	}
	b = e.rec.forPath(e.abs("b.md"))
	if len(b) != 1 || len(b[0].Diagnostics) != 1 {
		t.Fatalf("b should be republished broken, got %+v", b)
	}
	if b[0].Diagnostics[0].Message != "Reference to non-existent heading `a`Setup" {
		t.Errorf("message = %q", b[0].Diagnostics[0].Message)
	}
}

func TestEditor_OpenOutsideVault(t *testing.T) {
	e := setup(t, nil)
	err := e.ws.Open(context.Background(), "/elsewhere/x.md", "# x", 1)
	if !errors.Is(err, apperr.ErrOutsideVault) {
		t.Errorf("err = %v, want ErrOutsideVault", err)
	}
}

func TestHandleEvent_DeleteClearsReport(t *testing.T) {
	e := setup(t, map[string]string{
		"a.md": "# A\n[[gone]]\n",
		"b.md": "# B\n[[a]]\n",
	})
	ctx := context.Background()
	if _, err := e.ws.Recheck(ctx); err != nil {
		t.Fatal(err)
	}
	e.rec.take()

	_ = os.Remove(e.abs("a.md"))
	_ = e.db.DeleteNote("a.md")
	if err := e.ws.HandleEvent(ctx, e.db, index.EventDeleted, "a.md"); err != nil {
		t.Fatal(err)
	}

	reports := e.rec.take()
	var sawA, sawB bool
	for _, r := range reports {
		switch r.URI {
		case uri.File(e.abs("a.md")):
			sawA = len(r.Diagnostics) == 0
		case uri.File(e.abs("b.md")):
			sawB = len(r.Diagnostics) == 1
		}
	}
	if !sawA || !sawB {
		t.Errorf("reports = %+v", reports)
	}
	if _, err := e.ws.Report("a.md"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("a.md report err = %v", err)
	}
}

func TestHandleEvent_IgnoresDiskUpdateWhileOpen(t *testing.T) {
	e := setup(t, map[string]string{"a.md": "# A\n"})
	ctx := context.Background()
	if err := e.ws.Open(ctx, e.abs("a.md"), "# A\n[[x]]\n", 3); err != nil {
		t.Fatal(err)
	}

	testutil.WriteNote(t, e.dir, "a.md", "# A changed\n")
	rec, err := index.BuildRecord("a.md", []byte("# A changed\n"))
	if err != nil {
		t.Fatal(err)
	}
	_ = e.db.UpsertNote(rec)
	if err := e.ws.HandleEvent(ctx, e.db, index.EventUpdated, "a.md"); err != nil {
		t.Fatal(err)
	}

	r, err := e.ws.Report("a.md")
	if err != nil {
		t.Fatal(err)
	}
	if r.Version != 3 || len(r.Diagnostics) != 1 {
		t.Errorf("editor revision should win, got %+v", r)
	}
}

// view returns the stored revision of the note at rel.
func (e *env) view(t *testing.T, rel string) *facts.NoteView {
	t.Helper()
	snap := e.ws.store.Snapshot()
	id, ok := snap.ResolveByPath(e.abs(rel))
	if !ok {
		t.Fatalf("%s not stored", rel)
	}
	v, _ := snap.NoteView(id)
	return v
}

func TestApplyRecord_SkipsOpenNote(t *testing.T) {
	e := setup(t, map[string]string{"a.md": "# A\n"})
	if err := e.ws.Open(context.Background(), "a.md", "# A\n[[x]]\n", 4); err != nil {
		t.Fatal(err)
	}
	rec, err := index.BuildRecord("a.md", []byte("# A on disk\n"))
	if err != nil {
		t.Fatal(err)
	}
	applied, err := e.ws.ApplyRecord(rec)
	if err != nil {
		t.Fatal(err)
	}
	if applied {
		t.Error("disk record applied over an open note")
	}
	if v := e.view(t, "a.md"); v.Revision != 4 || v.Text.Text() != "# A\n[[x]]\n" {
		t.Errorf("view = rev %d %q", v.Revision, v.Text.Text())
	}
}

func TestApplyRecord_ConcurrentWithOpen(t *testing.T) {
	e := setup(t, map[string]string{"a.md": "# A\n"})
	ctx := context.Background()
	rec, err := index.BuildRecord("a.md", []byte("# A on disk\n"))
	if err != nil {
		t.Fatal(err)
	}

	for i := 1; i <= 50; i++ {
		rev := facts.Revision(i)
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := e.ws.ApplyRecord(rec); err != nil {
				t.Error(err)
			}
		}()
		go func() {
			defer wg.Done()
			if err := e.ws.Open(ctx, "a.md", "# A in editor\n", rev); err != nil {
				t.Error(err)
			}
		}()
		wg.Wait()

		// Whatever the order, the open note keeps the editor's revision.
		if v := e.view(t, "a.md"); v.Revision != rev || v.Text.Text() != "# A in editor\n" {
			t.Fatalf("round %d: view = rev %d %q", i, v.Revision, v.Text.Text())
		}
		if err := e.ws.Close(ctx, "a.md"); err != nil {
			t.Fatal(err)
		}
	}
}

func TestRecheck_LogsPerNoteCounts(t *testing.T) {
	e := setup(t, map[string]string{"a.md": "# A\n# Again\n## S\n## S\n[[none]]\n"})
	var buf bytes.Buffer
	e.ws.logger = slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	if _, err := e.ws.Recheck(context.Background()); err != nil {
		t.Fatal(err)
	}

	var line map[string]any
	for _, raw := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var m map[string]any
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			t.Fatal(err)
		}
		if m["msg"] == "workspace: checked note" {
			line = m
		}
	}
	if line == nil {
		t.Fatalf("no per-note line in %s", buf.String())
	}
	want := map[string]float64{"titles": 2, "headings": 2, "links": 1, "dup_titles": 1, "dup_headings": 1, "broken_links": 1}
	for k, v := range want {
		if line[k] != v {
			t.Errorf("%s = %v, want %v", k, line[k], v)
		}
	}
	if line["path"] != e.abs("a.md") {
		t.Errorf("path = %v", line["path"])
	}
}

func TestSummary(t *testing.T) {
	e := setup(t, map[string]string{
		"a.md": "# A\n# Again\n## S\n## S\n[[none]]\n",
		"b.md": "# B\n",
	})
	if _, err := e.ws.Recheck(context.Background()); err != nil {
		t.Fatal(err)
	}
	s := e.ws.Summary()
	if s.Notes != 2 || s.Files != 1 || s.Diagnostics != 3 {
		t.Errorf("summary = %+v", s)
	}
	if s.ByCode[diag.CodeDupTitle] != 1 || s.ByCode[diag.CodeDupHeading] != 1 || s.ByCode[diag.CodeBrokenNoteLink] != 1 {
		t.Errorf("by code = %v", s.ByCode)
	}
	if s.ByCode[diag.CodeBrokenHeadingLink] != 0 {
		t.Errorf("by code = %v", s.ByCode)
	}
}

func TestReports_SortedByURI(t *testing.T) {
	e := setup(t, map[string]string{"z.md": "# Z\n", "a.md": "# A\n", "m/n.md": "# N\n"})
	if _, err := e.ws.Recheck(context.Background()); err != nil {
		t.Fatal(err)
	}
	rs := e.ws.Reports()
	if len(rs) != 3 {
		t.Fatalf("reports = %d", len(rs))
	}
	for i := 1; i < len(rs); i++ {
		if rs[i-1].URI >= rs[i].URI {
			t.Errorf("not sorted: %s >= %s", rs[i-1].URI, rs[i].URI)
		}
	}
}

func TestFanout_DeliversToAllAndKeepsFirstError(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	boom := errors.New("boom")
	failing := PublisherFunc(func(context.Context, *protocol.PublishDiagnosticsParams) error { return boom })

	report := &protocol.PublishDiagnosticsParams{URI: uri.File("/vault/a.md"), Diagnostics: []protocol.Diagnostic{}}
	err := Fanout{a, failing, b}.Publish(context.Background(), report)
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
	if len(a.take()) != 1 || len(b.take()) != 1 {
		t.Error("every publisher should receive the report")
	}
}
