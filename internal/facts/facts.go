// Package facts holds the parsed, versioned view of every note in the vault
// that the diagnostics engine reads from.
package facts

import (
	"path/filepath"
	"strings"
)

// NoteName is the canonical name a note is linked by. Comparison is exact
// and case-sensitive.
type NoteName string

// NoteID identifies a note within one Store. IDs are never reused.
type NoteID int

// NoteFile identifies a note by its storage location (absolute path).
type NoteFile struct {
	Path string
}

// Revision is the text revision a view was built from: the editor's document
// version, or 0 for content read from disk.
type Revision int32

// Span is a half-open byte range [Start, End) within one revision's text.
type Span struct {
	Start int
	End   int
}

// HeadingID is the position of a heading in document order.
type HeadingID int

// Heading is a Markdown heading. A heading with Level 1 is a title.
type Heading struct {
	ID    HeadingID
	Level int
	Text  string
	Span  Span
}

// LinkID is the position of an internal link in document order.
type LinkID int

// InternLink is a wikilink to a note and/or a heading.
// An empty Note means the link points at the note containing it.
// An empty Heading means the link names no heading.
type InternLink struct {
	ID      LinkID
	Note    NoteName
	Heading string
	Span    Span
}

// Facts is the read-only capability the diagnostics engine consumes.
type Facts interface {
	// ResolveByPath returns the note stored at path.
	ResolveByPath(path string) (NoteID, bool)
	// ResolveByName returns the note a link with the given name targets.
	ResolveByName(name NoteName) (NoteID, bool)
	// NoteView returns the current view of a note.
	NoteView(id NoteID) (*NoteView, bool)
}

// NoteView is an immutable snapshot of one note revision.
type NoteView struct {
	ID        NoteID
	File      NoteFile
	Name      NoteName
	Revision  Revision
	Text      *LineIndex
	Structure *Structure
}

// NameForPath derives the note name from a vault-relative path:
// forward slashes, no ".md" extension.
func NameForPath(rel string) NoteName {
	rel = filepath.ToSlash(filepath.Clean(rel))
	rel = strings.TrimPrefix(rel, "./")
	return NoteName(strings.TrimSuffix(rel, ".md"))
}
