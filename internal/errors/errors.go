package errors

import "fmt"

// ErrorCode represents a Stash error code.
type ErrorCode string

const (
	ErrInvalidRequest    ErrorCode = "INVALID_REQUEST"    // 400
	ErrNotFound          ErrorCode = "NOT_FOUND"          // 404
	ErrFileNotFound      ErrorCode = "FILE_NOT_FOUND"     // 404
	ErrConflict          ErrorCode = "CONFLICT"           // 409
	ErrInvalidTransition ErrorCode = "INVALID_TRANSITION" // 409
	ErrPruningHalted     ErrorCode = "PRUNING_HALTED"     // 423
	ErrCancelled         ErrorCode = "CANCELLED"          // 499
	ErrInternal          ErrorCode = "INTERNAL"           // 500
)

// StashError represents a structured error with code, status, and details.
type StashError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
}

// Error implements the error interface.
func (e *StashError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *StashError {
	return &StashError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewNotFound creates a 404 error for when a capture cannot be found.
func NewNotFound(identifier string) *StashError {
	return &StashError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("capture not found: %s", identifier),
		Details: map[string]any{"identifier": identifier},
	}
}

// NewFileNotFound creates a 404 error for a missing file on disk.
func NewFileNotFound(path string) *StashError {
	return &StashError{
		Code:    ErrFileNotFound,
		Status:  404,
		Message: fmt.Sprintf("file not found: %s", path),
		Details: map[string]any{"path": path},
	}
}

// NewConflict creates a 409 error for general conflicts.
func NewConflict(msg string) *StashError {
	return &StashError{
		Code:    ErrConflict,
		Status:  409,
		Message: msg,
	}
}

// NewInvalidTransition creates a 409 error for a status change the state machine rejects.
func NewInvalidTransition(id, from, to string) *StashError {
	return &StashError{
		Code:    ErrInvalidTransition,
		Status:  409,
		Message: fmt.Sprintf("invalid transition for capture %s: %s -> %s", id, from, to),
		Details: map[string]any{"id": id, "from": from, "to": to},
	}
}

// NewPruningHalted creates a 423 error when backup health suspends destructive maintenance.
func NewPruningHalted(status string, failures int) *StashError {
	return &StashError{
		Code:    ErrPruningHalted,
		Status:  423,
		Message: fmt.Sprintf("pruning halted: backup status %s after %d consecutive verification failures", status, failures),
		Details: map[string]any{"backup_status": status, "consecutive_failures": failures},
	}
}

// NewCancelled creates an error for an operation stopped by context cancellation.
func NewCancelled(operation string) *StashError {
	return &StashError{
		Code:    ErrCancelled,
		Status:  499,
		Message: fmt.Sprintf("%s cancelled", operation),
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *StashError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &StashError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
	}
}

// Is checks if an error is a StashError with the given code.
func Is(err error, code ErrorCode) bool {
	if sErr, ok := err.(*StashError); ok {
		return sErr.Code == code
	}
	return false
}
