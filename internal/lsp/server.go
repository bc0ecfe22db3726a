// Package lsp serves vault diagnostics to editors over the Language Server
// Protocol.
package lsp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/facts"
	"github.com/starford/ansuz/internal/index"
	"github.com/starford/ansuz/internal/storage"
	"github.com/starford/ansuz/internal/workspace"
)

const serverName = "ansuz"

// Option configures a Server.
type Option func(*Server)

// WithVault fixes the vault root, overriding the client's rootUri.
func WithVault(path string) Option {
	return func(s *Server) { s.vaultPath = path }
}

// WithDatabase sets the catalog database file. Without it the catalog lives
// in .ansuz/catalog.db under the vault root.
func WithDatabase(path string) Option {
	return func(s *Server) { s.dbPath = path }
}

// WithWorkers bounds parallel note checks.
func WithWorkers(n int) Option {
	return func(s *Server) { s.workers = n }
}

// WithWatch toggles the file-system watcher started after initialization.
func WithWatch(enabled bool) Option {
	return func(s *Server) { s.watch = enabled }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithVersion sets the version reported in serverInfo.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// Server is a language server publishing vault diagnostics.
type Server struct {
	vaultPath string
	dbPath    string
	workers   int
	watch     bool
	version   string
	logger    *slog.Logger

	conn jsonrpc2.Conn

	mu          sync.Mutex
	ws          *workspace.Workspace
	vault       storage.Provider
	catalog     *index.DB
	stopWatch   context.CancelFunc
	watchDone   chan struct{}
	initialized bool
	shutdown    bool
}

// NewServer creates a Server.
func NewServer(opts ...Option) *Server {
	s := &Server{
		watch:   true,
		version: "dev",
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Serve runs the protocol over rwc until the client exits or the stream
// closes.
func (s *Server) Serve(ctx context.Context, rwc io.ReadWriteCloser) error {
	s.conn = jsonrpc2.NewConn(jsonrpc2.NewStream(rwc))
	s.conn.Go(ctx, s.handle)

	select {
	case <-ctx.Done():
		_ = s.conn.Close()
		<-s.conn.Done()
	case <-s.conn.Done():
	}
	s.teardown()

	s.mu.Lock()
	clean := s.shutdown
	s.mu.Unlock()
	err := s.conn.Err()
	if clean || ctx.Err() != nil || err == nil || errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
		return nil
	}
	return fmt.Errorf("lsp: connection: %w", err)
}

func (s *Server) handle(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	s.logger.Debug("lsp: request", slog.String("method", req.Method()))

	switch req.Method() {
	case protocol.MethodInitialize:
		if s.workspace() != nil {
			return reply(ctx, nil, jsonrpc2.NewError(jsonrpc2.InvalidRequest, "server already initialized"))
		}
		var params protocol.InitializeParams
		if err := json.Unmarshal(req.Params(), &params); err != nil {
			return reply(ctx, nil, fmt.Errorf("%w: %s", jsonrpc2.ErrInvalidParams, err))
		}
		res, err := s.initialize(ctx, &params)
		return reply(ctx, res, err)

	case protocol.MethodInitialized:
		s.onInitialized(ctx)
		return reply(ctx, nil, nil)

	case protocol.MethodShutdown:
		s.mu.Lock()
		s.shutdown = true
		s.mu.Unlock()
		s.stopWatcher()
		return reply(ctx, nil, nil)

	case protocol.MethodExit:
		_ = reply(ctx, nil, nil)
		_ = s.conn.Close()
		return nil
	}

	ws := s.workspace()
	if ws == nil {
		return reply(ctx, nil, jsonrpc2.NewError(jsonrpc2.ServerNotInitialized, "server not initialized"))
	}

	switch req.Method() {
	case protocol.MethodTextDocumentDidOpen:
		var params protocol.DidOpenTextDocumentParams
		if err := json.Unmarshal(req.Params(), &params); err != nil {
			return reply(ctx, nil, fmt.Errorf("%w: %s", jsonrpc2.ErrInvalidParams, err))
		}
		doc := params.TextDocument
		if path, ok := s.notePath(doc.URI); ok {
			s.soft(ws.Open(ctx, path, doc.Text, facts.Revision(doc.Version)), "open", path)
		}
		return reply(ctx, nil, nil)

	case protocol.MethodTextDocumentDidChange:
		var params protocol.DidChangeTextDocumentParams
		if err := json.Unmarshal(req.Params(), &params); err != nil {
			return reply(ctx, nil, fmt.Errorf("%w: %s", jsonrpc2.ErrInvalidParams, err))
		}
		if len(params.ContentChanges) == 0 {
			return reply(ctx, nil, nil)
		}
		// Full sync: the last change carries the whole text.
		text := params.ContentChanges[len(params.ContentChanges)-1].Text
		if path, ok := s.notePath(params.TextDocument.URI); ok {
			s.soft(ws.Change(ctx, path, text, facts.Revision(params.TextDocument.Version)), "change", path)
		}
		return reply(ctx, nil, nil)

	case protocol.MethodTextDocumentDidSave:
		var params protocol.DidSaveTextDocumentParams
		if err := json.Unmarshal(req.Params(), &params); err != nil {
			return reply(ctx, nil, fmt.Errorf("%w: %s", jsonrpc2.ErrInvalidParams, err))
		}
		if path, ok := s.notePath(params.TextDocument.URI); ok {
			s.soft(ws.Publish(ctx, path), "save", path)
		}
		return reply(ctx, nil, nil)

	case protocol.MethodTextDocumentDidClose:
		var params protocol.DidCloseTextDocumentParams
		if err := json.Unmarshal(req.Params(), &params); err != nil {
			return reply(ctx, nil, fmt.Errorf("%w: %s", jsonrpc2.ErrInvalidParams, err))
		}
		if path, ok := s.notePath(params.TextDocument.URI); ok {
			s.soft(ws.Close(ctx, path), "close", path)
		}
		return reply(ctx, nil, nil)
	}

	return jsonrpc2.MethodNotFoundHandler(ctx, reply, req)
}

// soft logs a document handler failure. Notifications have nobody to
// report errors to.
func (s *Server) soft(err error, op, path string) {
	if err == nil {
		return
	}
	level := slog.LevelWarn
	if errors.Is(err, apperr.ErrOutsideVault) || errors.Is(err, apperr.ErrNotFound) {
		level = slog.LevelDebug
	}
	s.logger.Log(context.Background(), level, "lsp: "+op+" failed",
		slog.String("path", path),
		slog.String("error", err.Error()))
}

func (s *Server) notePath(u protocol.DocumentURI) (string, bool) {
	if !strings.HasPrefix(string(u), "file://") {
		return "", false
	}
	path := uri.URI(u).Filename()
	return path, strings.HasSuffix(path, ".md")
}

func (s *Server) workspace() *workspace.Workspace {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ws
}

func (s *Server) initialize(ctx context.Context, params *protocol.InitializeParams) (*protocol.InitializeResult, error) {
	root := s.vaultPath
	if root == "" {
		root = rootFromParams(params)
	}
	if root == "" {
		return nil, fmt.Errorf("%w: no vault root: pass --vault or a rootUri", jsonrpc2.ErrInvalidParams)
	}

	vault, err := storage.NewFS(root)
	if err != nil {
		return nil, fmt.Errorf("lsp: open vault: %w", err)
	}
	dbPath := s.dbPath
	if dbPath == "" {
		dir := filepath.Join(vault.Root(), ".ansuz")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("lsp: create catalog dir: %w", err)
		}
		dbPath = filepath.Join(dir, "catalog.db")
	}
	catalog, err := index.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("lsp: open catalog: %w", err)
	}
	if err := index.Sync(catalog, vault, s.logger); err != nil {
		s.logger.Warn("lsp: initial sync failed", slog.String("error", err.Error()))
	}

	ws := workspace.New(vault, workspace.WithWorkers(s.workers), workspace.WithLogger(s.logger))
	if err := ws.Warm(catalog); err != nil {
		catalog.Close()
		return nil, err
	}
	if _, err := ws.Recheck(ctx); err != nil {
		catalog.Close()
		return nil, err
	}

	s.mu.Lock()
	s.vault, s.catalog, s.ws = vault, catalog, ws
	s.mu.Unlock()

	s.logger.Info("lsp: initialized", slog.String("vault", vault.Root()), slog.String("catalog", dbPath))

	return &protocol.InitializeResult{
		Capabilities: protocol.ServerCapabilities{
			TextDocumentSync: &protocol.TextDocumentSyncOptions{
				OpenClose: true,
				Change:    protocol.TextDocumentSyncKindFull,
				Save:      &protocol.SaveOptions{IncludeText: false},
			},
		},
		ServerInfo: &protocol.ServerInfo{Name: serverName, Version: s.version},
	}, nil
}

func rootFromParams(params *protocol.InitializeParams) string {
	if params.RootURI != "" {
		return uri.URI(params.RootURI).Filename()
	}
	if len(params.WorkspaceFolders) > 0 {
		return uri.URI(params.WorkspaceFolders[0].URI).Filename()
	}
	return params.RootPath //nolint:staticcheck // older clients only send rootPath
}

// onInitialized starts publishing: every known report goes out once, then
// the watcher keeps the vault current.
func (s *Server) onInitialized(ctx context.Context) {
	s.mu.Lock()
	ws := s.ws
	if ws == nil || s.initialized {
		s.mu.Unlock()
		return
	}
	s.initialized = true
	s.mu.Unlock()

	ws.SetPublisher(workspace.PublisherFunc(func(ctx context.Context, p *protocol.PublishDiagnosticsParams) error {
		return s.conn.Notify(ctx, protocol.MethodTextDocumentPublishDiagnostics, p)
	}))
	ws.PublishAll(ctx)

	if s.watch {
		s.startWatcher()
	}
}

func (s *Server) startWatcher() {
	s.mu.Lock()
	defer s.mu.Unlock()

	wctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.stopWatch, s.watchDone = cancel, done

	ws, catalog, vault := s.ws, s.catalog, s.vault
	go func() {
		defer close(done)
		err := index.Watch(wctx, catalog, vault, vault.Root(), s.logger, func(kind, path string) {
			if err := ws.HandleEvent(wctx, catalog, kind, path); err != nil {
				s.logger.Warn("lsp: watcher event failed",
					slog.String("kind", kind),
					slog.String("path", path),
					slog.String("error", err.Error()))
			}
		})
		if err != nil {
			s.logger.Error("lsp: watcher failed", slog.String("error", err.Error()))
		}
	}()
}

func (s *Server) stopWatcher() {
	s.mu.Lock()
	cancel, done := s.stopWatch, s.watchDone
	s.stopWatch, s.watchDone = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (s *Server) teardown() {
	s.stopWatcher()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ws != nil {
		s.ws.SetPublisher(nil)
	}
	if s.catalog != nil {
		_ = s.catalog.Close()
		s.catalog = nil
	}
}
