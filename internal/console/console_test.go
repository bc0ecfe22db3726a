package console

import (
	"bytes"
	"strings"
	"testing"

	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	"github.com/starford/ansuz/internal/workspace"
)

func diagnostic(line, char uint32, msg, code string) protocol.Diagnostic {
	return protocol.Diagnostic{
		Range: protocol.Range{
			Start: protocol.Position{Line: line, Character: char},
			End:   protocol.Position{Line: line, Character: char + 3},
		},
		Severity: protocol.DiagnosticSeverityError,
		Code:     code,
		Message:  msg,
	}
}

func TestPrint(t *testing.T) {
	var buf bytes.Buffer
	p := New(&buf, WithColor(false), WithRoot("/vault"))

	n, err := p.Print([]*protocol.PublishDiagnosticsParams{
		{URI: uri.File("/vault/a.md"), Diagnostics: []protocol.Diagnostic{
			diagnostic(1, 4, "Reference to non-existent note `x`", "broken-note-link"),
		}},
		{URI: uri.File("/vault/b.md"), Diagnostics: []protocol.Diagnostic{}},
		{URI: uri.File("/vault/sub/c.md"), Diagnostics: []protocol.Diagnostic{
			diagnostic(0, 0, "Duplicate title", "duplicate-title"),
			diagnostic(3, 0, "Duplicate heading", "duplicate-heading"),
		}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("printed = %d, want 3", n)
	}

	want := "a.md:2:5: error: Reference to non-existent note `x` [broken-note-link]\n" +
		"sub/c.md:1:1: error: Duplicate title [duplicate-title]\n" +
		"sub/c.md:4:1: error: Duplicate heading [duplicate-heading]\n"
	if buf.String() != want {
		t.Errorf("output:\n%s\nwant:\n%s", buf.String(), want)
	}
}

func TestPrint_AbsolutePathsWithoutRoot(t *testing.T) {
	var buf bytes.Buffer
	p := New(&buf, WithColor(false))
	_, _ = p.Print([]*protocol.PublishDiagnosticsParams{
		{URI: uri.File("/vault/a.md"), Diagnostics: []protocol.Diagnostic{diagnostic(0, 0, "Duplicate title", "duplicate-title")}},
	})
	if !strings.HasPrefix(buf.String(), "/vault/a.md:1:1:") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	p := New(&buf, WithColor(false))

	_ = p.PrintSummary(workspace.Summary{Notes: 4})
	if got := buf.String(); got != "4 notes checked, no problems found\n" {
		t.Errorf("clean summary = %q", got)
	}

	buf.Reset()
	_ = p.PrintSummary(workspace.Summary{Notes: 4, Files: 1, Diagnostics: 2})
	if got := buf.String(); got != "4 notes checked, 2 problems in 1 note\n" {
		t.Errorf("summary = %q", got)
	}
}

func TestColorLabel(t *testing.T) {
	var buf bytes.Buffer
	p := New(&buf, WithColor(true))
	_, _ = p.Print([]*protocol.PublishDiagnosticsParams{
		{URI: uri.File("/vault/a.md"), Diagnostics: []protocol.Diagnostic{diagnostic(0, 0, "Duplicate title", "duplicate-title")}},
	})
	if !strings.Contains(buf.String(), "\x1b[") {
		t.Errorf("expected ANSI escapes in %q", buf.String())
	}
}
