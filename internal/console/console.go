// Package console prints diagnostic reports for terminals and CI logs.
package console

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/fatih/color"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	"github.com/starford/ansuz/internal/workspace"
)

// Printer writes diagnostics as path:line:col: error: message [code].
type Printer struct {
	out  io.Writer
	root string

	label *color.Color
	loc   *color.Color
	code  *color.Color
	ok    *color.Color
}

// Option configures a Printer.
type Option func(*Printer)

// WithColor forces colored output on or off. By default color follows
// whether stdout is a terminal.
func WithColor(enabled bool) Option {
	return func(p *Printer) {
		for _, c := range []*color.Color{p.label, p.loc, p.code, p.ok} {
			if enabled {
				c.EnableColor()
			} else {
				c.DisableColor()
			}
		}
	}
}

// WithRoot prints paths relative to root.
func WithRoot(root string) Option {
	return func(p *Printer) { p.root = root }
}

// New creates a Printer writing to out.
func New(out io.Writer, opts ...Option) *Printer {
	p := &Printer{
		out:   out,
		label: color.New(color.FgRed, color.Bold),
		loc:   color.New(color.Bold),
		code:  color.New(color.Faint),
		ok:    color.New(color.FgGreen),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Print writes one line per diagnostic and returns how many were written.
// Reports are printed in the order given.
func (p *Printer) Print(reports []*protocol.PublishDiagnosticsParams) (int, error) {
	n := 0
	for _, r := range reports {
		path := p.displayPath(r.URI)
		for _, d := range r.Diagnostics {
			_, err := fmt.Fprintf(p.out, "%s %s %s %s\n",
				p.loc.Sprintf("%s:%d:%d:", path, d.Range.Start.Line+1, d.Range.Start.Character+1),
				p.label.Sprint("error:"),
				d.Message,
				p.code.Sprintf("[%v]", d.Code),
			)
			if err != nil {
				return n, fmt.Errorf("console: write: %w", err)
			}
			n++
		}
	}
	return n, nil
}

// PrintSummary writes a closing line with the totals.
func (p *Printer) PrintSummary(s workspace.Summary) error {
	var err error
	if s.Diagnostics == 0 {
		_, err = fmt.Fprintln(p.out, p.ok.Sprintf("%d notes checked, no problems found", s.Notes))
	} else {
		_, err = fmt.Fprintf(p.out, "%d notes checked, %s in %d %s\n",
			s.Notes,
			p.label.Sprintf("%d %s", s.Diagnostics, plural(s.Diagnostics, "problem", "problems")),
			s.Files,
			plural(s.Files, "note", "notes"))
	}
	if err != nil {
		return fmt.Errorf("console: write: %w", err)
	}
	return nil
}

func (p *Printer) displayPath(u protocol.DocumentURI) string {
	path := uri.URI(u).Filename()
	if p.root == "" {
		return path
	}
	if rel, err := filepath.Rel(p.root, path); err == nil {
		return filepath.ToSlash(rel)
	}
	return path
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
