// Package workspace drives the diagnostics engine: it feeds note revisions
// from disk and from the editor into the fact store, rechecks the vault, and
// publishes reports whose diagnostics changed.
package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"sync"

	"go.lsp.dev/protocol"

	"github.com/starford/ansuz/internal/diag"
	"github.com/starford/ansuz/internal/facts"
	"github.com/starford/ansuz/internal/parser"
	"github.com/starford/ansuz/internal/storage"
)

// Publisher delivers a diagnostics report to a client.
type Publisher interface {
	Publish(ctx context.Context, report *protocol.PublishDiagnosticsParams) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, report *protocol.PublishDiagnosticsParams) error

// Publish calls f.
func (f PublisherFunc) Publish(ctx context.Context, report *protocol.PublishDiagnosticsParams) error {
	return f(ctx, report)
}

// Fanout publishes every report to each of its publishers.
type Fanout []Publisher

// Publish delivers report to all publishers and returns the first error.
func (f Fanout) Publish(ctx context.Context, report *protocol.PublishDiagnosticsParams) error {
	var first error
	for _, p := range f {
		if err := p.Publish(ctx, report); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Option configures a Workspace.
type Option func(*Workspace)

// WithWorkers bounds the number of notes checked in parallel.
func WithWorkers(n int) Option {
	return func(w *Workspace) {
		if n > 0 {
			w.workers = n
		}
	}
}

// WithPublisher sets the report publisher.
func WithPublisher(p Publisher) Option {
	return func(w *Workspace) {
		w.publisher = p
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Workspace) {
		w.logger = l
	}
}

// Workspace owns the fact store and the diagnostic collection of one vault.
type Workspace struct {
	vault   storage.Provider
	store   *facts.Store
	diags   *diag.Collection
	logger  *slog.Logger
	workers int

	recheckMu sync.Mutex

	openMu sync.RWMutex
	open   map[string]struct{}

	pubMu     sync.RWMutex
	publisher Publisher
}

// New creates a Workspace over vault.
func New(vault storage.Provider, opts ...Option) *Workspace {
	w := &Workspace{
		vault:   vault,
		store:   facts.NewStore(),
		diags:   diag.NewCollection(),
		logger:  slog.Default(),
		workers: runtime.GOMAXPROCS(0),
		open:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Root returns the absolute vault directory.
func (w *Workspace) Root() string { return w.vault.Root() }

// SetPublisher replaces the publisher. A nil publisher silences publishing.
func (w *Workspace) SetPublisher(p Publisher) {
	w.pubMu.Lock()
	w.publisher = p
	w.pubMu.Unlock()
}

func (w *Workspace) publish(ctx context.Context, report *protocol.PublishDiagnosticsParams) {
	w.pubMu.RLock()
	p := w.publisher
	w.pubMu.RUnlock()
	if p == nil {
		return
	}
	if err := p.Publish(ctx, report); err != nil {
		w.logger.Warn("workspace: publish failed",
			slog.String("uri", string(report.URI)),
			slog.String("error", err.Error()))
	}
}

// abs resolves a vault-relative or absolute path to the absolute path used as
// the store key.
func (w *Workspace) abs(path string) (string, error) {
	if filepath.IsAbs(path) {
		if _, err := w.vault.Rel(path); err != nil {
			return "", err
		}
		return filepath.Clean(path), nil
	}
	return w.vault.Abs(path)
}

// input parses text into a revision of the note at the absolute path.
func (w *Workspace) input(abs string, text []byte, rev facts.Revision) (facts.NoteInput, error) {
	rel, err := w.vault.Rel(abs)
	if err != nil {
		return facts.NoteInput{}, err
	}
	res, err := parser.Parse(text)
	if err != nil {
		return facts.NoteInput{}, fmt.Errorf("workspace: parse %s: %w", rel, err)
	}
	return facts.NoteInput{
		Path:      abs,
		Name:      facts.NameForPath(rel),
		Revision:  rev,
		Text:      string(text),
		Structure: res.Structure(),
	}, nil
}

// putOpen marks the note open and stores the editor's revision. Both happen
// under openMu so a concurrent disk record cannot land in between.
func (w *Workspace) putOpen(in facts.NoteInput) {
	w.openMu.Lock()
	defer w.openMu.Unlock()
	w.open[in.Path] = struct{}{}
	w.store.Put(in)
}
