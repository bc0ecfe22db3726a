// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes vault diagnostics to LLM clients via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.lsp.dev/protocol"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/index"
	"github.com/starford/ansuz/internal/storage"
	"github.com/starford/ansuz/internal/workspace"
)

const kindsURI = "ansuz://diagnostic-kinds"

// Diagnostics is the part of the workspace the tools read and drive.
type Diagnostics interface {
	Reports() []*protocol.PublishDiagnosticsParams
	Report(path string) (*protocol.PublishDiagnosticsParams, error)
	Summary() workspace.Summary
	Recheck(ctx context.Context) (workspace.RecheckResult, error)
}

// Notes looks up catalog records.
type Notes interface {
	GetNote(path string) (*index.NoteRecord, error)
}

// Server wraps the MCP server with the diagnostics tools.
type Server struct {
	mcp   *server.MCPServer
	diags Diagnostics
	vault storage.Provider
	notes Notes
}

// New creates a new MCP server with all tools registered.
func New(diags Diagnostics, vault storage.Provider, notes Notes, version string) *Server {
	s := &Server{diags: diags, vault: vault, notes: notes}

	s.mcp = server.NewMCPServer(
		"Ansuz",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("get_diagnostics",
		mcp.WithDescription("Get the diagnostics of one note: duplicate titles, duplicate headings, "+
			"and wikilinks to missing notes or headings."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Vault-relative path to the note (e.g. folder/note.md)")),
	), s.getDiagnostics)

	s.mcp.AddTool(mcp.NewTool("list_diagnostics",
		mcp.WithDescription("List the diagnostics of every note in the vault with a summary by code."),
		mcp.WithBoolean("only_errors", mcp.Description("Omit notes without diagnostics (default true)")),
	), s.listDiagnostics)

	s.mcp.AddTool(mcp.NewTool("recheck_vault",
		mcp.WithDescription("Re-evaluate every note and return the updated summary."),
	), s.recheckVault)

	s.mcp.AddTool(mcp.NewTool("read_note",
		mcp.WithDescription("Read the full content of a Markdown note, to locate the text a diagnostic points at."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Vault-relative path to the note")),
	), s.readNote)

	s.mcp.AddTool(mcp.NewTool("get_note_info",
		mcp.WithDescription("Get a note's title, tags, headings, and the notes it links to, as last indexed."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Vault-relative path to the note")),
	), s.getNoteInfo)

	s.mcp.AddTool(mcp.NewTool("get_diagnostic_kinds",
		mcp.WithDescription("Describe every diagnostic code and the wikilink syntax the checker resolves. "+
			"Also available as the "+kindsURI+" resource."),
	), s.getDiagnosticKinds)

	s.mcp.AddResource(
		mcp.NewResource(kindsURI, "Diagnostic Kinds",
			mcp.WithResourceDescription("Diagnostic codes, their meaning, and the link syntax."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readKindsResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) getDiagnostics(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	report, err := s.diags.Report(path)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) || errors.Is(err, apperr.ErrOutsideVault) {
			return mcp.NewToolResultError(fmt.Sprintf("not found: %s", path)), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(report)
}

func (s *Server) listDiagnostics(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	onlyErrors := req.GetBool("only_errors", true)

	reports := s.diags.Reports()
	if onlyErrors {
		kept := reports[:0]
		for _, r := range reports {
			if len(r.Diagnostics) > 0 {
				kept = append(kept, r)
			}
		}
		reports = kept
	}
	return jsonResult(map[string]any{
		"reports": reports,
		"summary": s.diags.Summary(),
	})
}

func (s *Server) recheckVault(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := s.diags.Recheck(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{
		"checked": res.Checked,
		"changed": res.Changed,
		"cleared": res.Cleared,
		"summary": s.diags.Summary(),
	})
}

func (s *Server) readNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	data, err := s.vault.Read(path)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", path)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

type headingInfo struct {
	Level int    `json:"level"`
	Text  string `json:"text"`
}

type noteInfo struct {
	Path      string        `json:"path"`
	Name      string        `json:"name"`
	Title     string        `json:"title"`
	Tags      []string      `json:"tags"`
	Headings  []headingInfo `json:"headings"`
	Links     []string      `json:"links"`
	UpdatedAt time.Time     `json:"updated_at"`
}

func (s *Server) getNoteInfo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rec, err := s.notes.GetNote(path)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("not found: %s", path)), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}

	info := noteInfo{
		Path:      rec.Path,
		Name:      string(rec.Name),
		Title:     rec.Title,
		Tags:      rec.Tags,
		Headings:  make([]headingInfo, 0, len(rec.Headings)),
		Links:     rec.LinkTargets(),
		UpdatedAt: rec.UpdatedAt,
	}
	if info.Tags == nil {
		info.Tags = []string{}
	}
	if info.Links == nil {
		info.Links = []string{}
	}
	for _, h := range rec.Headings {
		info.Headings = append(info.Headings, headingInfo{Level: h.Level, Text: h.Text})
	}
	return jsonResult(info)
}

func (s *Server) getDiagnosticKinds(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(DiagnosticKinds), nil
}

func (s *Server) readKindsResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      kindsURI,
			MIMEType: "text/markdown",
			Text:     DiagnosticKinds,
		},
	}, nil
}
