package errors

// Code identifies one member of the closed error taxonomy surfaced by the upload engine.
// Codes are strings so they log and serialize without a lookup table.
type Code string

const (
	// Input errors. None of these reach the network and none are retried.

	// CodeInvalidKey indicates the object key failed namespace or path-traversal rules.
	CodeInvalidKey Code = "INVALID_KEY"

	// CodeInvalidSize indicates a zero/negative payload size or a misconfigured chunk size.
	CodeInvalidSize Code = "INVALID_SIZE"

	// CodeValidationFailed indicates the content validator judged the payload unsafe.
	CodeValidationFailed Code = "VALIDATION_FAILED"

	// CodeFileTooLarge indicates the payload exceeds the configured maximum object size.
	CodeFileTooLarge Code = "FILE_TOO_LARGE"

	// Transport errors.

	// CodeNetwork indicates a connection-level failure (reset, refused, truncated body).
	CodeNetwork Code = "NETWORK_ERROR"

	// CodeTimeout indicates an attempt exceeded its deadline.
	CodeTimeout Code = "TIMEOUT"

	// CodeRateLimited indicates the store asked the client to slow down (HTTP 429, SlowDown).
	CodeRateLimited Code = "RATE_LIMIT_EXCEEDED"

	// CodeUnavailable indicates a 5xx response from the store.
	CodeUnavailable Code = "SERVICE_UNAVAILABLE"

	// CodeAuthentication indicates credentials were rejected or access was denied.
	CodeAuthentication Code = "AUTHENTICATION_FAILED"

	// CodeInvalidRequest indicates the store rejected the request as malformed.
	CodeInvalidRequest Code = "INVALID_REQUEST"

	// CodeNotFound indicates the object or multipart session does not exist.
	CodeNotFound Code = "NOT_FOUND"

	// CodeCanceled indicates the caller canceled the operation.
	CodeCanceled Code = "CANCELED"

	// Engine errors.

	// CodeCircuitOpen indicates the circuit breaker rejected the call without contacting the store.
	CodeCircuitOpen Code = "CIRCUIT_OPEN"

	// CodeRetryExhausted wraps the last error after every attempt failed.
	CodeRetryExhausted Code = "RETRY_EXHAUSTED"

	// CodeMultipartAborted wraps the error that caused a multipart session to be aborted.
	CodeMultipartAborted Code = "MULTIPART_ABORTED"

	// CodeInternal indicates an error that could not be classified.
	CodeInternal Code = "INTERNAL_ERROR"
)

// IsRetryable reports whether an operation that failed with the given code may be retried.
func IsRetryable(code Code) bool {
	switch code {
	case CodeNetwork, CodeTimeout, CodeRateLimited, CodeUnavailable:
		return true
	case CodeInvalidKey, CodeInvalidSize, CodeValidationFailed, CodeFileTooLarge,
		CodeAuthentication, CodeInvalidRequest, CodeNotFound, CodeCanceled,
		CodeCircuitOpen, CodeRetryExhausted, CodeMultipartAborted, CodeInternal:
		return false
	default:
		return false
	}
}

// String returns the code as a plain string.
func (c Code) String() string {
	return string(c)
}
