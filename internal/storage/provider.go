// Package storage defines the read-only vault file-system abstraction.
package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Provider is the interface for vault file access.
type Provider interface {
	// Root returns the absolute vault directory.
	Root() string
	// List returns metadata for every .md file under dir (relative to vault root).
	List(dir string) ([]NoteMetadata, error)
	// Read returns the raw bytes of the file at path (relative to vault root).
	Read(path string) ([]byte, error)
	// Abs resolves path (relative to vault root) to an absolute path.
	Abs(path string) (string, error)
	// Rel converts an absolute path inside the vault to a vault-relative one.
	Rel(abs string) (string, error)
}

// NoteMetadata describes one note file found by List.
type NoteMetadata struct {
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Checksum returns the hex SHA-256 of a note's content. The catalog keys
// change detection on it.
func Checksum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
