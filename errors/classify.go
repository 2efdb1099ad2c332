package errors

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"syscall"
)

// CodeForStatus maps an object store error code and HTTP status to a taxonomy code.
// The store's error code wins over the status when both are known.
func CodeForStatus(status int, apiCode string) Code {
	switch apiCode {
	case "AccessDenied", "AccessDeniedException", "InvalidAccessKeyId", "SignatureDoesNotMatch",
		"ExpiredToken", "InvalidToken", "TokenRefreshRequired", "AccountProblem",
		"AllAccessDisabled", "UnrecognizedClientException", "InvalidClientTokenId":
		return CodeAuthentication
	case "NoSuchKey", "NotFound", "NoSuchUpload", "NoSuchBucket":
		return CodeNotFound
	case "SlowDown", "Throttling", "ThrottlingException", "RequestLimitExceeded",
		"TooManyRequests", "TooManyRequestsException", "RequestThrottled":
		return CodeRateLimited
	case "RequestTimeout", "RequestTimeoutException":
		return CodeTimeout
	case "EntityTooLarge":
		return CodeFileTooLarge
	case "InternalError", "ServiceUnavailable", "ServiceUnavailableException":
		return CodeUnavailable
	}

	switch {
	case status == 0:
		return CodeInternal
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return CodeAuthentication
	case status == http.StatusNotFound:
		return CodeNotFound
	case status == http.StatusTooManyRequests:
		return CodeRateLimited
	case status == http.StatusRequestTimeout:
		return CodeTimeout
	case status == http.StatusRequestEntityTooLarge:
		return CodeFileTooLarge
	case status >= http.StatusInternalServerError:
		return CodeUnavailable
	case status >= http.StatusBadRequest:
		return CodeInvalidRequest
	default:
		return CodeInternal
	}
}

// CodeForNetwork classifies context and connection-level failures. The boolean is
// false when err is not one of them.
func CodeForNetwork(err error) (Code, bool) {
	if err == nil {
		return "", false
	}
	if errors.Is(err, context.Canceled) {
		return CodeCanceled, true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimeout, true
	}
	if isConnectionError(err) {
		return CodeNetwork, true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return CodeTimeout, true
		}
		return CodeNetwork, true
	}
	return "", false
}

func isConnectionError(err error) bool {
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNABORTED) || errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.ENETUNREACH) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}
