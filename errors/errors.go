// Package errors provides the error taxonomy for upload engine operations.
//
// Every error that leaves the engine is an *Error carrying one Code. Callers match
// on the sentinel values with the standard errors.Is:
//
//	if errors.Is(err, s3errors.ErrCircuitOpen) {
//	    // queue the upload for later
//	}
package errors

import (
	"errors"
	"fmt"
)

// Error represents a failed engine operation with context about what failed.
type Error struct {
	// Op is the operation that failed (e.g., "putObject", "uploadPart", "upload")
	Op string

	// Key is the object key (if applicable)
	Key string

	// Code classifies the failure
	Code Code

	// StatusCode is the HTTP status returned by the store, or 0
	StatusCode int

	// Err is the underlying error
	Err error
}

// Error implements the error interface by providing a formatted error message.
func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	if e.Key != "" {
		return fmt.Sprintf("s3upload.%s %s: %s", e.Op, e.Key, msg)
	}
	return fmt.Sprintf("s3upload.%s: %s", e.Op, msg)
}

// Unwrap returns the underlying error for error chaining support.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the taxonomy sentinels by code.
func (e *Error) Is(target error) bool {
	var s *sentinel
	if errors.As(target, &s) {
		return s.code == e.Code
	}
	return false
}

// WithKey adds object key context to an existing error.
func (e *Error) WithKey(key string) *Error {
	e.Key = key
	return e
}

// WithStatus records the HTTP status code returned by the store.
func (e *Error) WithStatus(status int) *Error {
	e.StatusCode = status
	return e
}

// WithMessage wraps the underlying error with a custom message.
func (e *Error) WithMessage(message string) *Error {
	if e.Err == nil {
		e.Err = errors.New(message)
		return e
	}
	e.Err = fmt.Errorf("%s: %w", message, e.Err)
	return e
}

// NewError creates a new Error with the given operation, code and underlying error.
func NewError(op string, code Code, err error) *Error {
	return &Error{
		Op:   op,
		Code: code,
		Err:  err,
	}
}

// NewObjectError creates a new Error with key context.
func NewObjectError(op, key string, code Code, err error) *Error {
	return &Error{
		Op:   op,
		Key:  key,
		Code: code,
		Err:  err,
	}
}

// Errorf creates a new Error whose underlying error is built from a format string.
func Errorf(op string, code Code, format string, args ...any) *Error {
	return NewError(op, code, fmt.Errorf(format, args...))
}

type sentinel struct {
	code Code
	msg  string
}

func (s *sentinel) Error() string { return s.msg }

// Sentinel errors, one per taxonomy member.
// These can be used with errors.Is() for error checking.
var (
	ErrInvalidKey       error = &sentinel{CodeInvalidKey, "s3upload: invalid key"}
	ErrInvalidSize      error = &sentinel{CodeInvalidSize, "s3upload: invalid size"}
	ErrValidationFailed error = &sentinel{CodeValidationFailed, "s3upload: content validation failed"}
	ErrFileTooLarge     error = &sentinel{CodeFileTooLarge, "s3upload: file too large"}
	ErrNetwork          error = &sentinel{CodeNetwork, "s3upload: network error"}
	ErrTimeout          error = &sentinel{CodeTimeout, "s3upload: operation timeout"}
	ErrRateLimited      error = &sentinel{CodeRateLimited, "s3upload: rate limited"}
	ErrUnavailable      error = &sentinel{CodeUnavailable, "s3upload: service unavailable"}
	ErrAuthentication   error = &sentinel{CodeAuthentication, "s3upload: authentication failed"}
	ErrInvalidRequest   error = &sentinel{CodeInvalidRequest, "s3upload: invalid request"}
	ErrNotFound         error = &sentinel{CodeNotFound, "s3upload: not found"}
	ErrCanceled         error = &sentinel{CodeCanceled, "s3upload: canceled"}
	ErrCircuitOpen      error = &sentinel{CodeCircuitOpen, "s3upload: circuit open"}
	ErrRetryExhausted   error = &sentinel{CodeRetryExhausted, "s3upload: retries exhausted"}
	ErrMultipartAborted error = &sentinel{CodeMultipartAborted, "s3upload: multipart upload aborted"}
	ErrInternal         error = &sentinel{CodeInternal, "s3upload: internal error"}
)

// CodeOf returns the code of the outermost *Error in err's chain, or CodeInternal
// when err carries no code. A nil error has an empty code.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// Retryable reports whether err may be retried according to its code.
func Retryable(err error) bool {
	return IsRetryable(CodeOf(err))
}

// IsNotFound checks if an error indicates that an object was not found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsCircuitOpen checks if an error was produced by an open circuit breaker.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, ErrCircuitOpen)
}

// IsValidationFailed checks if an error indicates the payload was rejected as unsafe.
func IsValidationFailed(err error) bool {
	return errors.Is(err, ErrValidationFailed)
}

