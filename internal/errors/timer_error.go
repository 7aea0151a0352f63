package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"floatingtimer/backend/internal/model"
)

var (
	ErrAlreadyRunning = stderrors.New("another time entry is already running")
	ErrStaleEntry     = stderrors.New("current time entry was finalized or removed elsewhere")
)

// InvalidTransitionError means the caller asked for a transition the current
// phase does not allow. It points at a UI/engine desync, not a runtime fault.
type InvalidTransitionError struct {
	Op    string
	Phase model.Phase
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s while %s", e.Op, e.Phase)
}

// StorageError wraps an I/O failure of the entry store. It is retryable.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func (e *StorageError) Retryable() bool {
	return true
}

func ServiceUnavailable(code, message string) *APIError {
	return New(http.StatusServiceUnavailable, code, message)
}

// FromError maps engine errors onto the HTTP envelope. details is attached to
// conflict responses so clients can reconcile.
func FromError(err error, details interface{}) *APIError {
	if err == nil {
		return nil
	}

	var apiErr *APIError
	if stderrors.As(err, &apiErr) {
		return apiErr
	}

	var transitionErr *InvalidTransitionError
	var storageErr *StorageError
	switch {
	case stderrors.Is(err, ErrAlreadyRunning):
		return Conflict("already_running", err.Error(), details)
	case stderrors.Is(err, ErrStaleEntry):
		return Conflict("stale_entry", err.Error(), details)
	case stderrors.As(err, &transitionErr):
		return Conflict("invalid_transition", transitionErr.Error(), details)
	case stderrors.As(err, &storageErr):
		return ServiceUnavailable("storage_unavailable", "could not save time entry, try again")
	default:
		return Internal("")
	}
}
