package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate indicates a natural-key collision on insert.
	ErrDuplicate = errors.New("duplicate entry")
	// ErrNotConfigured is returned when an optional collaborator was not
	// wired in for the current deployment.
	ErrNotConfigured = errors.New("feature not configured")
)
