package facts

import (
	"sort"
	"unicode/utf8"

	"fortio.org/safecast"
	"go.lsp.dev/protocol"
)

// LineIndex maps byte offsets of one revision's text to LSP positions
// (zero-based line, UTF-16 code units).
type LineIndex struct {
	text       string
	lineStarts []int
}

// NewLineIndex indexes the line starts of text.
func NewLineIndex(text string) *LineIndex {
	starts := []int{0}
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			starts = append(starts, i+1)
		}
	}
	return &LineIndex{text: text, lineStarts: starts}
}

// Text returns the indexed text.
func (ix *LineIndex) Text() string { return ix.text }

// Len returns the length of the indexed text in bytes.
func (ix *LineIndex) Len() int { return len(ix.text) }

// Position converts a byte offset. It fails for offsets outside the text or
// inside a multi-byte rune.
func (ix *LineIndex) Position(offset int) (protocol.Position, bool) {
	if ix == nil || offset < 0 || offset > len(ix.text) {
		return protocol.Position{}, false
	}
	if offset < len(ix.text) && !utf8.RuneStart(ix.text[offset]) {
		return protocol.Position{}, false
	}

	line := sort.Search(len(ix.lineStarts), func(i int) bool {
		return ix.lineStarts[i] > offset
	}) - 1
	lineStart := ix.lineStarts[line]

	units := 0
	for _, r := range ix.text[lineStart:offset] {
		if r >= 0x10000 {
			units += 2
		} else {
			units++
		}
	}

	l, err := safecast.Conv[uint32](line)
	if err != nil {
		return protocol.Position{}, false
	}
	c, err := safecast.Conv[uint32](units)
	if err != nil {
		return protocol.Position{}, false
	}
	return protocol.Position{Line: l, Character: c}, true
}

// Range converts a span. It fails when the span does not fit this revision.
func (ix *LineIndex) Range(span Span) (protocol.Range, bool) {
	if span.Start > span.End {
		return protocol.Range{}, false
	}
	start, ok := ix.Position(span.Start)
	if !ok {
		return protocol.Range{}, false
	}
	end, ok := ix.Position(span.End)
	if !ok {
		return protocol.Range{}, false
	}
	return protocol.Range{Start: start, End: end}, true
}
