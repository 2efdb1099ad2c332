// Package validation provides the checks that run before any network call:
// object key rules, metadata rules, declared content types, and content sniffing.
//
// Failures are reported with the upload error taxonomy so callers can tell a
// rejected key (INVALID_KEY) from a rejected payload (VALIDATION_FAILED).
package validation

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/errors"
)

// MaxKeyLength is the longest object key the store accepts, in bytes.
const MaxKeyLength = 1024

type keyRule struct {
	reject func(string) bool
	msg    string
}

var keyRules = []keyRule{
	{func(k string) bool { return k == "" }, "object key cannot be empty"},
	{hasPathTraversal, "object key cannot contain path traversal sequences"},
	{func(k string) bool { return len(k) > MaxKeyLength }, "object key cannot exceed 1024 characters"},
	{hasControlCharacters, "object key cannot contain control characters"},
	{func(k string) bool { return strings.Contains(k, "//") }, "object key cannot contain empty path segments"},
}

// ValidateObjectKey checks key against the store's key rules and, when namespaces
// are given, requires it to start with one of them.
func ValidateObjectKey(key string, namespaces ...string) error {
	for _, rule := range keyRules {
		if rule.reject(key) {
			return errors.NewError("validateObjectKey", errors.CodeInvalidKey, nil).
				WithKey(key).
				WithMessage(rule.msg)
		}
	}

	if len(namespaces) == 0 {
		return nil
	}
	for _, ns := range namespaces {
		if ns != "" && strings.HasPrefix(key, ns) {
			return nil
		}
	}
	return errors.NewError("validateObjectKey", errors.CodeInvalidKey, nil).
		WithKey(key).
		WithMessage(fmt.Sprintf("object key must start with one of %v", namespaces))
}

// ValidateBucketName validates that a bucket name is DNS-compliant.
func ValidateBucketName(bucket string) error {
	var msg string
	switch {
	case bucket == "":
		msg = "bucket name cannot be empty"
	case len(bucket) < 3 || len(bucket) > 63:
		msg = "bucket name must be between 3 and 63 characters long"
	case strings.IndexFunc(bucket, func(r rune) bool { return !isValidBucketChar(r) }) >= 0:
		msg = "bucket name can only contain lowercase letters, numbers, dots, and hyphens"
	case strings.ContainsAny(bucket[:1], ".-") || strings.ContainsAny(bucket[len(bucket)-1:], ".-"):
		msg = "bucket name cannot start or end with a hyphen or dot"
	case strings.Contains(bucket, "..") || strings.Contains(bucket, "--"):
		msg = "bucket name cannot contain two adjacent periods or hyphens"
	case ipLike.MatchString(bucket):
		msg = "bucket name cannot be formatted as an IP address"
	default:
		return nil
	}
	return errors.NewError("validateBucketName", errors.CodeInvalidRequest, nil).WithMessage(msg)
}

var ipLike = regexp.MustCompile(`^\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}$`)

// ValidateMetadata validates user metadata keys and values.
func ValidateMetadata(metadata map[string]string) error {
	for key, value := range metadata {
		if err := validateMetadataKey(key); err != nil {
			return err
		}
		if err := validateMetadataValue(value); err != nil {
			return err
		}
	}
	return nil
}

// SanitizeMetadata strips non-printable characters from keys and control characters
// (other than newline and tab) from values.
func SanitizeMetadata(metadata map[string]string) map[string]string {
	if metadata == nil {
		return nil
	}

	sanitized := make(map[string]string, len(metadata))
	for key, value := range metadata {
		k := strings.Map(func(r rune) rune {
			if unicode.IsPrint(r) {
				return r
			}
			return -1
		}, key)
		sanitized[k] = strings.Map(func(r rune) rune {
			if unicode.IsControl(r) && r != '\n' && r != '\t' {
				return -1
			}
			return r
		}, value)
	}
	return sanitized
}

var mimePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9\-+.]*/[a-zA-Z0-9][a-zA-Z0-9\-+.]*(\s*;.*)?$`)

// blockedContentTypes are refused whatever the payload looks like.
var blockedContentTypes = map[string]bool{
	"application/x-shockwave-flash": true,
	"application/java-archive":      true,
	"application/x-java-archive":    true,
	"application/x-httpd-php":       true,
	"application/x-sh":              true,
}

// ValidateContentType checks that a declared content type is well formed and not blocked.
// An empty content type is allowed; the sniffed type is used instead.
func ValidateContentType(contentType string) error {
	if contentType == "" {
		return nil
	}

	if !mimePattern.MatchString(contentType) {
		return errors.NewError("validateContentType", errors.CodeValidationFailed, nil).
			WithMessage("content type must be a valid MIME type")
	}

	if blockedContentTypes[baseType(contentType)] {
		return errors.NewError("validateContentType", errors.CodeValidationFailed, nil).
			WithMessage("content type is not allowed for security reasons")
	}

	return nil
}

// hasPathTraversal checks for path traversal attempts in object keys
func hasPathTraversal(key string) bool {
	if strings.Contains(key, "..") {
		return true
	}

	cleaned := filepath.Clean(key)
	if strings.HasPrefix(cleaned, "/") || strings.HasPrefix(key, "\\") {
		return true
	}

	// Windows drive letters
	return len(cleaned) >= 3 && cleaned[1] == ':' && (cleaned[2] == '\\' || cleaned[2] == '/')
}

func hasControlCharacters(key string) bool {
	return strings.IndexFunc(key, unicode.IsControl) >= 0
}

func isValidBucketChar(char rune) bool {
	return (char >= '0' && char <= '9') || (char >= 'a' && char <= 'z') || char == '.' || char == '-'
}

var reservedMetadataPrefixes = []string{"aws:", "x-amz-", "x-amz:"}

func validateMetadataKey(key string) error {
	if key == "" {
		return errors.NewError("validateMetadata", errors.CodeInvalidRequest, nil).
			WithMessage("metadata key cannot be empty")
	}
	if len(key) > 128 {
		return errors.NewError("validateMetadata", errors.CodeInvalidRequest, nil).
			WithMessage("metadata key cannot exceed 128 characters")
	}
	for _, prefix := range reservedMetadataPrefixes {
		if strings.HasPrefix(strings.ToLower(key), prefix) {
			return errors.NewError("validateMetadata", errors.CodeInvalidRequest, nil).
				WithMessage(fmt.Sprintf("metadata key cannot start with reserved prefix: %s", prefix))
		}
	}
	for _, char := range key {
		if char < 33 || char > 126 {
			return errors.NewError("validateMetadata", errors.CodeInvalidRequest, nil).
				WithMessage("metadata key can only contain printable ASCII characters")
		}
	}
	return nil
}

func validateMetadataValue(value string) error {
	if len(value) > 2048 {
		return errors.NewError("validateMetadata", errors.CodeInvalidRequest, nil).
			WithMessage("metadata value cannot exceed 2048 characters")
	}
	for _, char := range value {
		if !unicode.IsPrint(char) && char != '\n' && char != '\t' {
			return errors.NewError("validateMetadata", errors.CodeInvalidRequest, nil).
				WithMessage("metadata value can only contain printable characters")
		}
	}
	return nil
}
