// Package apperr holds sentinel errors shared across layers.
package apperr

import "errors"

var (
	ErrNotFound = errors.New("not found")
	// ErrOutsideVault rejects paths that resolve outside the vault root.
	ErrOutsideVault = errors.New("outside vault")
)
