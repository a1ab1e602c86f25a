package vfs

import "errors"

// Error represents a domain error from storage operations.
//
// These are filesystem-semantics errors (name collision, missing identifier,
// reserved name) as opposed to infrastructure errors. Protocol adapters
// translate Error codes to protocol-specific failures (9P error strings,
// FUSE errno values).
type Error struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// Path is the tree path related to the error (if applicable)
	Path string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Path != "" {
		return e.Message + ": " + e.Path
	}
	return e.Message
}

// ErrorCode represents the category of a storage error.
type ErrorCode int

const (
	// ErrPermissionDenied indicates the operation targeted a reserved name
	// (".", ".."), a blacklisted path, or an illegal structural move.
	ErrPermissionDenied ErrorCode = iota

	// ErrAlreadyExists indicates a name collision on create/rename/reparent,
	// or an identity collision detected by cycle tracking.
	ErrAlreadyExists

	// ErrNotFound indicates the identifier is no longer present in the
	// registry (orphaned or destroyed node).
	ErrNotFound

	// ErrConstructionFailed indicates node construction failed after partial
	// state was established; rollback has already run by the time the error
	// surfaces.
	ErrConstructionFailed
)

func (c ErrorCode) String() string {
	switch c {
	case ErrPermissionDenied:
		return "permission denied"
	case ErrAlreadyExists:
		return "already exists"
	case ErrNotFound:
		return "not found"
	case ErrConstructionFailed:
		return "construction failed"
	default:
		return "unknown"
	}
}

// NewPermissionDenied creates a permission error for the given path.
func NewPermissionDenied(message, path string) *Error {
	return &Error{Code: ErrPermissionDenied, Message: message, Path: path}
}

// NewAlreadyExists creates a collision error for the given path.
func NewAlreadyExists(path string) *Error {
	return &Error{Code: ErrAlreadyExists, Message: "file already exists", Path: path}
}

// NewNotFound creates a missing-identifier error for the given path.
func NewNotFound(path string) *Error {
	return &Error{Code: ErrNotFound, Message: "file not found", Path: path}
}

// NewConstructionFailed wraps a construction failure after rollback.
func NewConstructionFailed(message, path string) *Error {
	return &Error{Code: ErrConstructionFailed, Message: message, Path: path}
}

// CodeOf extracts the ErrorCode from err, returning ok=false when err is not
// a storage Error. Adapters use this to pick the wire representation.
func CodeOf(err error) (ErrorCode, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return 0, false
}

// IsNotFound reports whether err is a storage Error with ErrNotFound.
func IsNotFound(err error) bool {
	code, ok := CodeOf(err)
	return ok && code == ErrNotFound
}

// IsAlreadyExists reports whether err is a storage Error with ErrAlreadyExists.
func IsAlreadyExists(err error) bool {
	code, ok := CodeOf(err)
	return ok && code == ErrAlreadyExists
}

// IsPermissionDenied reports whether err is a storage Error with ErrPermissionDenied.
func IsPermissionDenied(err error) bool {
	code, ok := CodeOf(err)
	return ok && code == ErrPermissionDenied
}
