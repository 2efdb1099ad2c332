package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/errors"
)

func TestValidateBucketName(t *testing.T) {
	tests := []struct {
		name      string
		bucket    string
		wantError bool
		errMsg    string
	}{
		{"valid_simple", "my-bucket", false, ""},
		{"valid_with_numbers", "my-bucket123", false, ""},
		{"valid_leading_number", "1bucket", false, ""},
		{"valid_with_dots", "my.bucket", false, ""},
		{"valid_min_length", "abc", false, ""},
		{"valid_max_length", strings.Repeat("a", 63), false, ""},

		{"empty", "", true, "bucket name cannot be empty"},
		{"too_short", "ab", true, "bucket name must be between 3 and 63 characters long"},
		{"too_long", strings.Repeat("a", 64), true, "bucket name must be between 3 and 63 characters long"},
		{"starts_with_hyphen", "-bucket", true, "bucket name cannot start or end with a hyphen or dot"},
		{"ends_with_dot", "bucket.", true, "bucket name cannot start or end with a hyphen or dot"},
		{"contains_uppercase", "MyBucket", true, "bucket name can only contain lowercase letters, numbers, dots, and hyphens"},
		{"contains_underscore", "my_bucket", true, "bucket name can only contain lowercase letters, numbers, dots, and hyphens"},
		{"ip_address", "192.168.1.1", true, "bucket name cannot be formatted as an IP address"},
		{"double_dots", "my..bucket", true, "bucket name cannot contain two adjacent periods or hyphens"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBucketName(tt.bucket)
			if !tt.wantError {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
			assert.ErrorIs(t, err, errors.ErrInvalidRequest)
		})
	}
}

func TestValidateObjectKey(t *testing.T) {
	tests := []struct {
		name       string
		key        string
		namespaces []string
		wantError  bool
		errMsg     string
	}{
		{name: "valid_simple", key: "my-file.txt"},
		{name: "valid_with_path", key: "folder/subfolder/file.txt"},
		{name: "valid_unicode", key: "файл.txt"},
		{name: "valid_spaces", key: "file with spaces.txt"},
		{name: "valid_max_length", key: strings.Repeat("a", 1024)},
		{name: "valid_namespace", key: "originals/a.jpg", namespaces: []string{"thumbnails/", "originals/"}},

		{name: "empty", key: "", wantError: true, errMsg: "object key cannot be empty"},
		{name: "too_long", key: strings.Repeat("a", 1025), wantError: true, errMsg: "object key cannot exceed 1024 characters"},
		{name: "path_traversal", key: "folder/../../../secret.txt", wantError: true, errMsg: "path traversal"},
		{name: "absolute", key: "/etc/passwd", wantError: true, errMsg: "path traversal"},
		{name: "windows_drive", key: "C:\\Windows\\System32", wantError: true, errMsg: "path traversal"},
		{name: "null_byte", key: "file\x00null.txt", wantError: true, errMsg: "control characters"},
		{name: "newline", key: "file\nname.txt", wantError: true, errMsg: "control characters"},
		{name: "empty_segment", key: "originals//a.jpg", wantError: true, errMsg: "empty path segments"},
		{
			name:       "outside_namespace",
			key:        "private/a.jpg",
			namespaces: []string{"originals/"},
			wantError:  true,
			errMsg:     "object key must start with one of [originals/]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateObjectKey(tt.key, tt.namespaces...)
			if !tt.wantError {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
			assert.ErrorIs(t, err, errors.ErrInvalidKey)
			assert.Equal(t, errors.CodeInvalidKey, errors.CodeOf(err))
		})
	}
}

func TestValidateObjectKey_Traversal(t *testing.T) {
	keys := []string{
		"..",
		"../",
		"/..",
		"folder/..",
		"../../../etc/passwd",
		"..\\..\\windows\\system32",
		"\\server\\share",
		"/absolute/path",
	}

	for _, key := range keys {
		err := ValidateObjectKey(key)
		require.Error(t, err, key)
		assert.Contains(t, err.Error(), "path traversal", key)
	}
}

func TestValidateObjectKey_ControlCharacters(t *testing.T) {
	for i := 0; i < 32; i++ {
		key := "file" + string(rune(i)) + "test.txt"
		assert.Error(t, ValidateObjectKey(key), "control character %d", i)
	}
	assert.Error(t, ValidateObjectKey("file\x7fdel.txt"))
}

func TestSanitizeMetadata(t *testing.T) {
	tests := []struct {
		name     string
		input    map[string]string
		expected map[string]string
	}{
		{"nil_metadata", nil, nil},
		{"empty_metadata", map[string]string{}, map[string]string{}},
		{
			"remove_control_chars",
			map[string]string{
				"key1": "value\x00with\x01null",
				"key2": "value\nwith\nnewlines",
				"key3": "value\twith\ttabs",
			},
			map[string]string{
				"key1": "valuewithnull",
				"key2": "value\nwith\nnewlines",
				"key3": "value\twith\ttabs",
			},
		},
		{
			"sanitize_keys_and_values",
			map[string]string{"Key\x01With\x02Control": "Value\x03With\x04Control"},
			map[string]string{"KeyWithControl": "ValueWithControl"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SanitizeMetadata(tt.input))
		})
	}
}

func TestValidateMetadata(t *testing.T) {
	tests := []struct {
		name     string
		metadata map[string]string
		errMsg   string
	}{
		{"nil_metadata", nil, ""},
		{"valid_metadata", map[string]string{"uploader": "svc-media", "checksum": "abc123"}, ""},
		{"too_long_value", map[string]string{"long": strings.Repeat("a", 2049)}, "metadata value cannot exceed 2048 characters"},
		{"aws_reserved_prefix", map[string]string{"aws:key": "v"}, "metadata key cannot start with reserved prefix"},
		{"x_amz_reserved_prefix", map[string]string{"X-Amz-Meta-Custom": "v"}, "metadata key cannot start with reserved prefix"},
		{"control_characters_in_value", map[string]string{"key": "v\x00"}, "metadata value can only contain printable characters"},
		{"space_in_key", map[string]string{"my key": "v"}, "metadata key can only contain printable ASCII characters"},
		{"empty_key", map[string]string{"": "v"}, "metadata key cannot be empty"},
		{"too_long_key", map[string]string{strings.Repeat("a", 129): "v"}, "metadata key cannot exceed 128 characters"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMetadata(tt.metadata)
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestValidateContentType(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		errMsg      string
	}{
		{"empty", "", ""},
		{"valid_mime", "application/json", ""},
		{"valid_with_params", "text/plain; charset=utf-8", ""},
		{"vendor_type", "application/vnd.ms-excel", ""},
		{"invalid_mime", "invalid/mime/type/extra", "content type must be a valid MIME type"},
		{"dangerous_flash", "application/x-shockwave-flash", "content type is not allowed for security reasons"},
		{"dangerous_php_with_params", "Application/X-HTTPD-PHP; charset=utf-8", "content type is not allowed for security reasons"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateContentType(tt.contentType)
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
			assert.ErrorIs(t, err, errors.ErrValidationFailed)
		})
	}
}

func BenchmarkValidateObjectKey(b *testing.B) {
	keys := []string{
		"simple-file.txt",
		"folder/subfolder/deep/nested/file.txt",
		"unicode-文件名.txt",
	}

	for _, key := range keys {
		b.Run(key, func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				_ = ValidateObjectKey(key, "folder/", "simple", "unicode")
			}
		})
	}
}
