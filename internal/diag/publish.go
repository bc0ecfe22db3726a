package diag

import (
	"fortio.org/safecast"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	"github.com/starford/ansuz/internal/facts"
)

// Source is reported as the origin of every diagnostic.
const Source = "ansuz"

// ToPublish builds the client report for file from set, resolving spans
// against the note's current revision. It returns false when the file is not
// a known note. Diagnostics whose span no longer fits the text are dropped.
func ToPublish(file facts.NoteFile, set Set, f facts.Facts) (*protocol.PublishDiagnosticsParams, bool) {
	id, ok := f.ResolveByPath(file.Path)
	if !ok {
		return nil, false
	}
	view, ok := f.NoteView(id)
	if !ok {
		return nil, false
	}

	diags := make([]protocol.Diagnostic, 0, len(set))
	for _, d := range set.Sorted() {
		rng, ok := view.Text.Range(d.Span)
		if !ok {
			continue
		}
		diags = append(diags, protocol.Diagnostic{
			Range:    rng,
			Severity: protocol.DiagnosticSeverityError,
			Code:     d.Diag.Code(),
			Source:   Source,
			Message:  d.Diag.Message(),
		})
	}

	version, err := safecast.Conv[uint32](view.Revision)
	if err != nil {
		version = 0
	}
	return &protocol.PublishDiagnosticsParams{
		URI:         uri.File(file.Path),
		Version:     version,
		Diagnostics: diags,
	}, true
}
