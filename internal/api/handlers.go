package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.lsp.dev/protocol"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/workspace"
)

// Diagnostics is the part of the workspace the API reads and drives.
type Diagnostics interface {
	Reports() []*protocol.PublishDiagnosticsParams
	Report(path string) (*protocol.PublishDiagnosticsParams, error)
	Summary() workspace.Summary
	Recheck(ctx context.Context) (workspace.RecheckResult, error)
}

// Handler holds API route handlers.
type Handler struct {
	svc Diagnostics
}

// NewHandler creates a new Handler.
func NewHandler(svc Diagnostics) *Handler {
	return &Handler{svc: svc}
}

// notePath extracts the note path from the URL (everything after /diagnostics/).
// Supports encoded slashes from OpenAPI clients (e.g. topics%2Fnote.md).
func notePath(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// ListDiagnostics handles GET /api/diagnostics.
//
//	@Summary		List the diagnostic report of every note
//	@Tags			diagnostics
//	@Produce		json
//	@Param			only_errors	query		bool	false	"Omit notes without diagnostics"
//	@Success		200			{object}	DiagnosticsResponse
//	@Security		BearerAuth
//	@Router			/diagnostics [get]
func (h *Handler) ListDiagnostics(w http.ResponseWriter, r *http.Request) {
	reports := h.svc.Reports()
	if r.URL.Query().Get("only_errors") == "true" {
		kept := reports[:0]
		for _, rep := range reports {
			if len(rep.Diagnostics) > 0 {
				kept = append(kept, rep)
			}
		}
		reports = kept
	}
	writeJSON(w, http.StatusOK, DiagnosticsResponse{
		Reports: reports,
		Summary: h.svc.Summary(),
	})
}

// GetDiagnostics handles GET /api/diagnostics/*.
//
//	@Summary		Get the diagnostic report of one note
//	@Tags			diagnostics
//	@Produce		json
//	@Param			path	path		string	true	"Vault-relative note path"
//	@Success		200		{object}	Report
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/diagnostics/{path} [get]
func (h *Handler) GetDiagnostics(w http.ResponseWriter, r *http.Request) {
	path := notePath(r)
	if path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	report, err := h.svc.Report(path)
	if err != nil {
		switch {
		case errors.Is(err, apperr.ErrNotFound), errors.Is(err, apperr.ErrOutsideVault):
			writeError(w, http.StatusNotFound, "not found")
		default:
			slog.Error("api: get diagnostics failed", slog.String("path", path), slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Recheck handles POST /api/diagnostics/recheck.
//
//	@Summary		Re-evaluate every note and publish changed reports
//	@Tags			diagnostics
//	@Produce		json
//	@Success		200	{object}	RecheckResponse
//	@Security		BearerAuth
//	@Router			/diagnostics/recheck [post]
func (h *Handler) Recheck(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Recheck(r.Context())
	if err != nil {
		slog.Error("api: recheck failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, RecheckResponse{
		Checked:    res.Checked,
		Changed:    res.Changed,
		Cleared:    res.Cleared,
		DurationMS: float64(res.Duration.Microseconds()) / 1000,
		Summary:    h.svc.Summary(),
	})
}
