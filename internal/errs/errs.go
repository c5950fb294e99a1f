// Package errs defines the error categories shared by the lifecycle core.
// Components wrap one of these sentinels so callers can classify failures
// with errors.Is regardless of the concrete error type.
package errs

import "errors"

var (
	// ErrNotFound means the task, document, step, workflow or lock is absent.
	ErrNotFound = errors.New("not found")

	// ErrForbidden means the caller is not allowed to perform the action.
	ErrForbidden = errors.New("forbidden")

	// ErrConflict means the action collides with current state
	// (lock held, duplicate workflow, task already running).
	ErrConflict = errors.New("conflict")

	// ErrValidation means the request itself is malformed.
	ErrValidation = errors.New("validation failed")

	// ErrTransient marks a failure inside a scheduled job. It is recorded and never propagated.
	ErrTransient = errors.New("transient failure")
)
