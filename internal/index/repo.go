package index

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/facts"
)

// UpsertNote inserts or replaces a note row.
func (db *DB) UpsertNote(rec NoteRecord) error {
	tags := rec.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, _ := json.Marshal(tags)

	blob, err := encodeStructure(rec.Headings, rec.Links)
	if err != nil {
		return err
	}

	_, err = db.conn.Exec(`
		INSERT INTO notes (path, name, title, checksum, tags, content, structure, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			name       = excluded.name,
			title      = excluded.title,
			checksum   = excluded.checksum,
			tags       = excluded.tags,
			content    = excluded.content,
			structure  = excluded.structure,
			updated_at = excluded.updated_at
	`, rec.Path, string(rec.Name), rec.Title, rec.Checksum, string(tagsJSON), rec.Content, blob, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("index: upsert note: %w", err)
	}
	return nil
}

// DeleteNote removes a note row.
func (db *DB) DeleteNote(path string) error {
	if _, err := db.conn.Exec(`DELETE FROM notes WHERE path = ?`, path); err != nil {
		return fmt.Errorf("index: delete note: %w", err)
	}
	return nil
}

// GetChecksum returns the stored checksum for a note, or empty string if not found.
func (db *DB) GetChecksum(path string) (string, error) {
	var cs string
	err := db.conn.QueryRow(`SELECT checksum FROM notes WHERE path = ?`, path).Scan(&cs)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("index: get checksum: %w", err)
	}
	return cs, nil
}

const selectNote = `SELECT path, name, title, checksum, tags, content, structure, updated_at FROM notes`

type scanner interface {
	Scan(dest ...any) error
}

func scanNote(s scanner) (NoteRecord, error) {
	var (
		rec      NoteRecord
		name     string
		tagsJSON string
		blob     []byte
	)
	if err := s.Scan(&rec.Path, &name, &rec.Title, &rec.Checksum, &tagsJSON, &rec.Content, &blob, &rec.UpdatedAt); err != nil {
		return NoteRecord{}, err
	}
	rec.Name = facts.NoteName(name)
	_ = json.Unmarshal([]byte(tagsJSON), &rec.Tags)

	headings, links, err := decodeStructure(blob)
	if err != nil {
		return NoteRecord{}, err
	}
	rec.Headings, rec.Links = headings, links
	return rec, nil
}

// GetNote returns one note row, or apperr.ErrNotFound.
func (db *DB) GetNote(path string) (*NoteRecord, error) {
	rec, err := scanNote(db.conn.QueryRow(selectNote+` WHERE path = ?`, path))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("index: note %s: %w", path, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("index: get note: %w", err)
	}
	return &rec, nil
}

// AllNotes returns every note row ordered by path.
func (db *DB) AllNotes() ([]NoteRecord, error) {
	rows, err := db.conn.Query(selectNote + ` ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("index: all notes: %w", err)
	}
	defer rows.Close()

	var out []NoteRecord
	for rows.Next() {
		rec, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("index: scan note: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// AllPaths returns every indexed note path.
func (db *DB) AllPaths() (map[string]struct{}, error) {
	rows, err := db.conn.Query(`SELECT path FROM notes`)
	if err != nil {
		return nil, fmt.Errorf("index: all paths: %w", err)
	}
	defer rows.Close()
	out := make(map[string]struct{})
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out[p] = struct{}{}
	}
	return out, rows.Err()
}

// AllChecksums returns path → checksum for every indexed note.
func (db *DB) AllChecksums() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT path, checksum FROM notes`)
	if err != nil {
		return nil, fmt.Errorf("index: all checksums: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var p, cs string
		if err := rows.Scan(&p, &cs); err != nil {
			return nil, err
		}
		out[p] = cs
	}
	return out, rows.Err()
}
