package internal

import "io"

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config  *Config
	output  io.Writer
	vault   string
	version string
	color   *bool
	catalog string
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithOutput sets where check results are printed.
func WithOutput(w io.Writer) Option {
	return func(a *application) {
		a.output = w
	}
}

// WithVault overrides the configured vault directory.
func WithVault(path string) Option {
	return func(a *application) {
		a.vault = path
	}
}

// WithVersion sets the version reported to LSP and MCP clients.
func WithVersion(v string) Option {
	return func(a *application) {
		a.version = v
	}
}

// WithColor forces colored check output on or off.
func WithColor(enabled bool) Option {
	return func(a *application) {
		a.color = &enabled
	}
}

// WithCatalog sets the catalog database the language server opens instead
// of the per-vault default.
func WithCatalog(path string) Option {
	return func(a *application) {
		a.catalog = path
	}
}
