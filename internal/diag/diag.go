// Package diag detects structural problems in notes and keeps the latest
// diagnostics per file.
package diag

import (
	"fmt"
	"sort"

	"github.com/starford/ansuz/internal/facts"
)

// Diagnostic codes, reported to clients alongside the message.
const (
	CodeDupTitle          = "duplicate-title"
	CodeDupHeading        = "duplicate-heading"
	CodeBrokenNoteLink    = "broken-note-link"
	CodeBrokenHeadingLink = "broken-heading-link"
)

// Diag is one kind of problem. The set of kinds is closed.
type Diag interface {
	Message() string
	Code() string
	diag()
}

// DupTitle is a level-1 heading after the note's first one.
type DupTitle struct {
	Title facts.Heading
}

// DupHeading is a heading whose text repeats an earlier heading of level > 1.
type DupHeading struct {
	Heading facts.Heading
}

// BrokenNoteLink is a link to a note that does not exist.
type BrokenNoteLink struct {
	Note facts.NoteName
}

// BrokenHeadingLink is a link to an existing note that lacks the named heading.
type BrokenHeadingLink struct {
	Note    facts.NoteName
	Heading string
}

func (DupTitle) diag()          {}
func (DupHeading) diag()        {}
func (BrokenNoteLink) diag()    {}
func (BrokenHeadingLink) diag() {}

func (d DupTitle) Code() string          { return CodeDupTitle }
func (d DupHeading) Code() string        { return CodeDupHeading }
func (d BrokenNoteLink) Code() string    { return CodeBrokenNoteLink }
func (d BrokenHeadingLink) Code() string { return CodeBrokenHeadingLink }

func (d DupTitle) Message() string {
	return fmt.Sprintf("Duplicate title `%s`. Each note should have at most one title", d.Title.Text)
}

func (d DupHeading) Message() string {
	return fmt.Sprintf("Duplicate heading `%s`", d.Heading.Text)
}

func (d BrokenNoteLink) Message() string {
	return fmt.Sprintf("Reference to non-existent note `%s`", d.Note)
}

// Message keeps name and heading back to back; clients already match on it.
func (d BrokenHeadingLink) Message() string {
	return fmt.Sprintf("Reference to non-existent heading `%s`%s", d.Note, d.Heading)
}

// Codes lists every diagnostic code in a fixed order.
func Codes() []string {
	return []string{CodeDupTitle, CodeDupHeading, CodeBrokenNoteLink, CodeBrokenHeadingLink}
}

// WithLoc is a diagnostic anchored at a span of the note's text.
type WithLoc struct {
	Diag Diag
	Span facts.Span
}

// Set is an unordered collection of located diagnostics.
type Set map[WithLoc]struct{}

// NewSet returns a set holding items.
func NewSet(items ...WithLoc) Set {
	s := make(Set, len(items))
	s.Add(items...)
	return s
}

// Add inserts items into s.
func (s Set) Add(items ...WithLoc) {
	for _, it := range items {
		s[it] = struct{}{}
	}
}

// Equal reports whether s and other hold the same diagnostics.
func (s Set) Equal(other Set) bool {
	if len(s) != len(other) {
		return false
	}
	for k := range s {
		if _, ok := other[k]; !ok {
			return false
		}
	}
	return true
}

// Sorted returns the diagnostics ordered by span start, span end, then message.
func (s Set) Sorted() []WithLoc {
	out := make([]WithLoc, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Span.Start != b.Span.Start {
			return a.Span.Start < b.Span.Start
		}
		if a.Span.End != b.Span.End {
			return a.Span.End < b.Span.End
		}
		return a.Diag.Message() < b.Diag.Message()
	})
	return out
}

// CountByCode tallies the diagnostics in s per code.
func (s Set) CountByCode() map[string]int {
	counts := make(map[string]int, 4)
	for k := range s {
		counts[k.Diag.Code()]++
	}
	return counts
}
