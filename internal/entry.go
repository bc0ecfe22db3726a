// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.lsp.dev/protocol"
	"golang.org/x/sync/errgroup"

	"github.com/starford/ansuz/internal/api"
	"github.com/starford/ansuz/internal/console"
	"github.com/starford/ansuz/internal/index"
	"github.com/starford/ansuz/internal/lsp"
	"github.com/starford/ansuz/internal/mcpserver"
	"github.com/starford/ansuz/internal/sse"
	"github.com/starford/ansuz/internal/storage"
	"github.com/starford/ansuz/internal/workspace"
)

func newApplication(opts []Option) (*application, error) {
	app := &application{output: os.Stdout, version: "dev"}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if app.vault != "" {
		app.config.Vault.Path = app.vault
	}
	return app, nil
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// vaultEnv is a checked vault: its files, catalog, and workspace.
type vaultEnv struct {
	store *storage.FS
	db    *index.DB
	ws    *workspace.Workspace
}

// openVault syncs the catalog with the vault, loads it into a workspace and
// runs the first check. Nothing is published yet.
func openVault(ctx context.Context, cfg *Config, logger *slog.Logger) (*vaultEnv, error) {
	store, err := storage.NewFS(cfg.Vault.Path)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	db, err := index.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init index: %w", err)
	}

	if err := index.Sync(db, store, logger); err != nil {
		logger.Warn("initial sync failed", slog.String("error", err.Error()))
	}

	ws := workspace.New(store,
		workspace.WithWorkers(cfg.Diagnostics.Workers),
		workspace.WithLogger(logger))
	if err := ws.Warm(db); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := ws.Recheck(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return &vaultEnv{store: store, db: db, ws: ws}, nil
}

// watch feeds file-system changes into the workspace until ctx is done.
func (e *vaultEnv) watch(ctx context.Context, logger *slog.Logger) error {
	return index.Watch(ctx, e.db, e.store, e.store.Root(), logger, func(kind, path string) {
		if err := e.ws.HandleEvent(ctx, e.db, kind, path); err != nil {
			logger.Warn("watcher event failed",
				slog.String("kind", kind),
				slog.String("path", path),
				slog.String("error", err.Error()))
		}
	})
}

func (e *vaultEnv) close() {
	_ = e.db.Close()
}

// Run starts the HTTP server with the diagnostics API and event stream.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	logger := newLogger(os.Stdout, cfg.App.LogLevel)
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("vault_path", cfg.Vault.Path),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// Ensure vault directory exists.
	if err := os.MkdirAll(cfg.Vault.Path, 0o755); err != nil {
		return fmt.Errorf("create vault dir: %w", err)
	}

	env, err := openVault(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer env.close()

	broker := sse.NewBroker(cfg.Diagnostics.EventThrottle, func() any { return env.ws.Summary() })
	defer broker.Close()
	env.ws.SetPublisher(workspace.Fanout{
		broker,
		workspace.PublisherFunc(func(_ context.Context, r *protocol.PublishDiagnosticsParams) error {
			logger.Debug("diagnostics: published",
				slog.String("uri", string(r.URI)),
				slog.Int("count", len(r.Diagnostics)))
			return nil
		}),
	})

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := env.db.Ping(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/api", api.NewRouter(env.ws, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker))

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	ctx, stop := context.WithCancel(ctx)
	defer stop()
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return env.watch(gCtx, logger)
	})

	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}
		// Stops the watcher.
		stop()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// stdio joins the process's standard streams into one connection.
type stdio struct{}

func (stdio) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (stdio) Write(p []byte) (int, error) { return os.Stdout.Write(p) }
func (stdio) Close() error                { return errors.Join(os.Stdin.Close(), os.Stdout.Close()) }

// RunLSP serves the language server on stdin/stdout. Logs go to stderr.
// The vault comes from WithVault or, failing that, from the client's rootUri.
func RunLSP(ctx context.Context, opts ...Option) error {
	return runLSP(ctx, stdio{}, opts...)
}

func runLSP(ctx context.Context, rwc io.ReadWriteCloser, opts ...Option) error {
	app := &application{version: "dev"}
	for _, opt := range opts {
		opt(app)
	}
	cfg := app.config
	if cfg == nil {
		cfg = NewDefaultConfig()
	}

	logger := newLogger(os.Stderr, cfg.App.LogLevel)
	slog.SetDefault(logger)

	lspOpts := []lsp.Option{
		lsp.WithLogger(logger),
		lsp.WithWorkers(cfg.Diagnostics.Workers),
		lsp.WithVersion(app.version),
	}
	if app.vault != "" {
		lspOpts = append(lspOpts, lsp.WithVault(app.vault))
	}
	if app.catalog != "" {
		lspOpts = append(lspOpts, lsp.WithDatabase(app.catalog))
	}

	logger.Info("lsp: starting", slog.String("vault", app.vault), slog.String("catalog", app.catalog))
	return lsp.NewServer(lspOpts...).Serve(ctx, rwc)
}

// RunMCP serves the MCP tools on stdin/stdout while a watcher keeps the
// diagnostics current. Logs go to stderr.
func RunMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	logger := newLogger(os.Stderr, cfg.App.LogLevel)
	slog.SetDefault(logger)

	env, err := openVault(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer env.close()

	watchCtx, stop := context.WithCancel(ctx)
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		if err := env.watch(watchCtx, logger); err != nil {
			logger.Error("watcher failed", slog.String("error", err.Error()))
		}
	}()
	defer func() {
		stop()
		<-watchDone
	}()

	logger.Info("mcp: serving", slog.String("vault", env.store.Root()))
	return mcpserver.New(env.ws, env.store, env.db, app.version).ServeStdio()
}

// RunCheck checks the vault once, prints every diagnostic, and returns how
// many were found.
func RunCheck(ctx context.Context, opts ...Option) (int, error) {
	app, err := newApplication(opts)
	if err != nil {
		return 0, err
	}
	cfg := app.config

	logger := newLogger(os.Stderr, cfg.App.LogLevel)
	slog.SetDefault(logger)

	env, err := openVault(ctx, cfg, logger)
	if err != nil {
		return 0, err
	}
	defer env.close()

	printOpts := []console.Option{console.WithRoot(env.store.Root())}
	if app.color != nil {
		printOpts = append(printOpts, console.WithColor(*app.color))
	}
	p := console.New(app.output, printOpts...)

	n, err := p.Print(env.ws.Reports())
	if err != nil {
		return n, err
	}
	return n, p.PrintSummary(env.ws.Summary())
}
