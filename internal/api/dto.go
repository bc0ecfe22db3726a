package api

import (
	"go.lsp.dev/protocol"

	"github.com/starford/ansuz/internal/workspace"
)

// Report is one note's diagnostic report, in the shape editors receive it.
type Report = protocol.PublishDiagnosticsParams

// Summary is the vault-wide tally (aliased from the workspace layer).
type Summary = workspace.Summary

// DiagnosticsResponse wraps every current report and the vault summary.
type DiagnosticsResponse struct {
	Reports []*Report `json:"reports" validate:"required"`
	Summary Summary   `json:"summary" validate:"required"`
}

// RecheckResponse describes a completed recheck pass.
type RecheckResponse struct {
	Checked    int     `json:"checked" example:"120" validate:"required"`
	Changed    int     `json:"changed" example:"3" validate:"required"`
	Cleared    int     `json:"cleared" example:"0" validate:"required"`
	DurationMS float64 `json:"duration_ms" example:"4.2" validate:"required"`
	Summary    Summary `json:"summary" validate:"required"`
}
