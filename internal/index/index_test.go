package index

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/storage"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	f, err := os.CreateTemp("", "ansuz-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	db, err := Open(f.Name())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func mustRecord(t *testing.T, path, content string) NoteRecord {
	t.Helper()
	rec, err := BuildRecord(path, []byte(content))
	if err != nil {
		t.Fatalf("BuildRecord: %v", err)
	}
	return rec
}

func TestSchemaCreation(t *testing.T) {
	db := testDB(t)
	var count int
	if err := db.conn.QueryRow(`SELECT count(*) FROM notes`).Scan(&count); err != nil {
		t.Fatalf("notes table missing: %v", err)
	}
}

func TestBuildRecord(t *testing.T) {
	rec := mustRecord(t, "topics/go.md", "# Go\n## Setup\nsee [[other#Intro]]\n")
	if rec.Name != "topics/go" {
		t.Errorf("name = %q", rec.Name)
	}
	if rec.Title != "Go" || rec.Checksum == "" {
		t.Errorf("record = %+v", rec)
	}
	if len(rec.Headings) != 2 || len(rec.Links) != 1 {
		t.Fatalf("headings = %d, links = %d", len(rec.Headings), len(rec.Links))
	}
	if rec.Links[0].Note != "other" || rec.Links[0].Heading != "Intro" {
		t.Errorf("link = %+v", rec.Links[0])
	}
}

func TestNoteRecord_LinkTargetsDedup(t *testing.T) {
	rec := mustRecord(t, "a.md", "[[a]] [[a#x]] [[#self]] [[b]]")
	got := rec.LinkTargets()
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("targets = %v", got)
	}
}

func TestUpsertAndGetNote_RoundTripsTitleAndTags(t *testing.T) {
	db := testDB(t)
	content := "---\ntags: [go]\n---\n# Hello\nmore #ansuz\n"
	if err := db.UpsertNote(mustRecord(t, "hello.md", content)); err != nil {
		t.Fatalf("UpsertNote: %v", err)
	}
	got, err := db.GetNote("hello.md")
	if err != nil {
		t.Fatalf("GetNote: %v", err)
	}
	if got.Title != "Hello" {
		t.Errorf("title = %q", got.Title)
	}
	if len(got.Tags) != 2 || got.Tags[0] != "go" || got.Tags[1] != "ansuz" {
		t.Errorf("tags = %v", got.Tags)
	}
}

func TestUpsertAndGetNote_RoundTripsStructure(t *testing.T) {
	db := testDB(t)
	content := "# Hello\n## Part\n[[x#y]] and [[#Part]]\n"
	if err := db.UpsertNote(mustRecord(t, "hello.md", content)); err != nil {
		t.Fatalf("UpsertNote: %v", err)
	}

	got, err := db.GetNote("hello.md")
	if err != nil {
		t.Fatalf("GetNote: %v", err)
	}
	if got.Content != content || got.Name != "hello" {
		t.Errorf("record = %+v", got)
	}
	st := got.Structure()
	hs := st.Headings()
	if len(hs) != 2 || hs[1].Text != "Part" || hs[1].Level != 2 {
		t.Errorf("headings = %+v", hs)
	}
	if content[hs[1].Span.Start:hs[1].Span.End] != "## Part" {
		t.Errorf("heading span = %+v", hs[1].Span)
	}
	links := st.InternLinks()
	if len(links) != 2 || links[0].Note != "x" || links[1].Note != "" || links[1].Heading != "Part" {
		t.Errorf("links = %+v", links)
	}
}

func TestGetNote_NotFound(t *testing.T) {
	db := testDB(t)
	_, err := db.GetNote("missing.md")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestUpsertUpdatesExisting(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertNote(mustRecord(t, "up.md", "# Old\n"))
	_ = db.UpsertNote(mustRecord(t, "up.md", "# New\n"))

	got, err := db.GetNote("up.md")
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "New" {
		t.Errorf("title = %q, want New", got.Title)
	}
	notes, _ := db.AllNotes()
	if len(notes) != 1 {
		t.Errorf("notes = %d, want 1", len(notes))
	}
}

func TestDeleteNote(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertNote(mustRecord(t, "del.md", "body"))

	if err := db.DeleteNote("del.md"); err != nil {
		t.Fatalf("DeleteNote: %v", err)
	}
	cs, _ := db.GetChecksum("del.md")
	if cs != "" {
		t.Errorf("deleted note still has checksum %q", cs)
	}
}

func TestGetChecksum_NotFound(t *testing.T) {
	db := testDB(t)
	cs, err := db.GetChecksum("nonexistent.md")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cs != "" {
		t.Errorf("expected empty checksum, got %q", cs)
	}
}

func TestSync_IndexesAndRemovesStale(t *testing.T) {
	db := testDB(t)
	dir := t.TempDir()
	store, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	_ = os.WriteFile(filepath.Join(dir, "a.md"), []byte("# A\n"), 0o644)
	_ = os.MkdirAll(filepath.Join(dir, "sub"), 0o755)
	_ = os.WriteFile(filepath.Join(dir, "sub", "b.md"), []byte("# B\n"), 0o644)
	_ = db.UpsertNote(mustRecord(t, "stale.md", "gone"))

	if err := Sync(db, store, quietLogger()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	paths, _ := db.AllPaths()
	if len(paths) != 2 {
		t.Fatalf("paths = %v", paths)
	}
	if _, ok := paths["sub/b.md"]; !ok {
		t.Errorf("sub/b.md missing: %v", paths)
	}
	rec, err := db.GetNote("sub/b.md")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Name != "sub/b" {
		t.Errorf("name = %q", rec.Name)
	}
}
