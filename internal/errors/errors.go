package errors

import "fmt"

// ErrorCode represents a Glean error code.
type ErrorCode string

const (
	ErrInvalidRequest    ErrorCode = "INVALID_REQUEST"    // 400
	ErrNoValidSlugs      ErrorCode = "NO_VALID_SLUGS"     // 400
	ErrNotFound          ErrorCode = "NOT_FOUND"          // 404
	ErrFileNotFound      ErrorCode = "FILE_NOT_FOUND"     // 404
	ErrConflict          ErrorCode = "CONFLICT"           // 409
	ErrProjectUnresolved ErrorCode = "PROJECT_UNRESOLVED" // 422
	ErrCancelled         ErrorCode = "CANCELLED"          // 499
	ErrInternal          ErrorCode = "INTERNAL"           // 500
)

// GleanError represents a structured error with code, status, and details.
type GleanError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
}

// Error implements the error interface.
func (e *GleanError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *GleanError {
	return &GleanError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewNoValidSlugs creates a 400 error when the slug filter yields no usable token.
// This is fatal for a run: nothing is selected or touched.
func NewNoValidSlugs(raw string) *GleanError {
	return &GleanError{
		Code:    ErrNoValidSlugs,
		Status:  400,
		Message: fmt.Sprintf("no valid slugs in %q", raw),
		Details: map[string]any{"slugs": raw},
	}
}

// NewNotFound creates a 404 error for a missing record.
func NewNotFound(kind, identifier string) *GleanError {
	return &GleanError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("%s not found: %s", kind, identifier),
		Details: map[string]any{"kind": kind, "identifier": identifier},
	}
}

// NewFileNotFound creates a 404 error for a missing file path.
func NewFileNotFound(path string) *GleanError {
	return &GleanError{
		Code:    ErrFileNotFound,
		Status:  404,
		Message: fmt.Sprintf("file not found: %s", path),
		Details: map[string]any{"path": path},
	}
}

// NewConflict creates a 409 error for general conflicts.
func NewConflict(msg string) *GleanError {
	return &GleanError{
		Code:    ErrConflict,
		Status:  409,
		Message: msg,
	}
}

// NewProjectUnresolved creates a 422 error for the project guardrail.
func NewProjectUnresolved(slug string) *GleanError {
	return &GleanError{
		Code:    ErrProjectUnresolved,
		Status:  422,
		Message: fmt.Sprintf("project slug %q does not resolve to a project", slug),
		Details: map[string]any{"slug": slug},
	}
}

// NewCancelled creates an error for an operation stopped by context cancellation.
func NewCancelled(op string) *GleanError {
	return &GleanError{
		Code:    ErrCancelled,
		Status:  499,
		Message: fmt.Sprintf("%s cancelled", op),
		Details: map[string]any{"operation": op},
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *GleanError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &GleanError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
	}
}

// Is checks if an error is a GleanError with the given code.
func Is(err error, code ErrorCode) bool {
	if gErr, ok := err.(*GleanError); ok {
		return gErr.Code == code
	}
	return false
}
