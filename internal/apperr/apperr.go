// Package apperr defines the sentinel error kinds exposed across the job
// pipeline, so callers can branch on kind with errors.Is rather than on
// ad-hoc string matching.
package apperr

import "errors"

var (
	ErrValidation     = errors.New("validation error")
	ErrRateLimited    = errors.New("rate limited")
	ErrNotFound       = errors.New("not found")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrScriptInvalid  = errors.New("script invalid")
	ErrNarrationFailed = errors.New("narration failed")
	ErrCompositionFailed = errors.New("composition failed")
	ErrTimedOut       = errors.New("timed out")
	ErrCancelled      = errors.New("cancelled")
	ErrShuttingDown   = errors.New("shutting down")
	ErrClosed         = errors.New("queue closed")
	ErrGone           = errors.New("gone")
	ErrNotReady       = errors.New("not ready")
)

// Wrap attaches a stage label to an error without losing its kind, so
// errors.Is(err, apperr.ErrNarrationFailed) still succeeds after wrapping.
func Wrap(stage string, err error) error {
	if err == nil {
		return nil
	}
	return &stageError{stage: stage, err: err}
}

type stageError struct {
	stage string
	err   error
}

func (e *stageError) Error() string { return e.stage + ": " + e.err.Error() }
func (e *stageError) Unwrap() error { return e.err }
func (e *stageError) Stage() string { return e.stage }
