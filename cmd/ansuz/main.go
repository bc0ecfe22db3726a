package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/ansuz/internal"
	pkgconfig "github.com/starford/ansuz/pkg/config"
)

var version = "dev"

// errProblems signals that check found diagnostics; main exits 1 quietly.
var errProblems = errors.New("problems found")

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadOptional(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func options(cmd *cli.Command, cfg *internal.Config) []internal.Option {
	opts := []internal.Option{
		internal.WithConfig(cfg),
		internal.WithVersion(version),
	}
	if v := cmd.String("vault"); v != "" {
		opts = append(opts, internal.WithVault(v))
	}
	return opts
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, options(cmd, cfg)...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func serveLSP(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	opts := options(cmd, cfg)
	// Without a config file the catalog stays under the vault.
	if _, err := os.Stat(cmd.String("config")); err == nil {
		opts = append(opts, internal.WithCatalog(cfg.SQLite.Path))
	}
	return internal.RunLSP(ctx, opts...)
}

func serveMCP(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return internal.RunMCP(ctx, options(cmd, cfg)...)
}

func check(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	opts := options(cmd, cfg)
	if cmd.IsSet("color") {
		opts = append(opts, internal.WithColor(cmd.Bool("color")))
	}
	n, err := internal.RunCheck(ctx, opts...)
	if err != nil {
		return err
	}
	if n > 0 {
		return errProblems
	}
	return nil
}

func vaultFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "vault",
		Usage:   "Vault directory (overrides vault.path)",
		Sources: cli.EnvVars("ANSUZ_VAULT"),
	}
}

func main() {
	cmd := &cli.Command{
		Name:    "ansuz",
		Usage:   "Diagnostics for a Markdown Zettelkasten: duplicate titles and headings, broken wikilinks",
		Version: version,
		Action:  serve,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file (.yaml or .toml)",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Serve the diagnostics HTTP API and event stream",
				Flags:  []cli.Flag{vaultFlag()},
				Action: serve,
			},
			{
				Name:   "lsp",
				Usage:  "Run the language server on stdin/stdout",
				Flags:  []cli.Flag{vaultFlag()},
				Action: serveLSP,
			},
			{
				Name:   "mcp",
				Usage:  "Run the MCP server on stdin/stdout",
				Flags:  []cli.Flag{vaultFlag()},
				Action: serveMCP,
			},
			{
				Name:  "check",
				Usage: "Check the vault once and print every diagnostic; exits 1 when any is found",
				Flags: []cli.Flag{
					vaultFlag(),
					&cli.BoolFlag{Name: "color", Usage: "Force colored output on or off"},
				},
				Action: check,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		if errors.Is(err, errProblems) {
			os.Exit(1)
		}
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
