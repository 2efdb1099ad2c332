package testutil

import (
	"crypto/md5" //nolint:gosec // S3 entity tags are MD5 based
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

// StringPtr returns a pointer to the given string.
// This is useful for AWS SDK inputs that require string pointers.
func StringPtr(s string) *string {
	return aws.String(s)
}

// Int64Ptr returns a pointer to the given int64.
func Int64Ptr(i int64) *int64 {
	return aws.Int64(i)
}

// Int32Ptr returns a pointer to the given int32.
func Int32Ptr(i int32) *int32 {
	return aws.Int32(i)
}

// BoolPtr returns a pointer to the given bool.
func BoolPtr(b bool) *bool {
	return aws.Bool(b)
}

// GenerateRandomData generates size bytes from a fixed seed, so failures reproduce.
func GenerateRandomData(size int) []byte {
	r := rand.New(rand.NewSource(int64(size))) //nolint:gosec // test data
	data := make([]byte, size)
	_, _ = r.Read(data)
	return data
}

// GenerateTestKey generates a unique object key under prefix.
func GenerateTestKey(prefix string) string {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return fmt.Sprintf("%stest-object-%d-%d", prefix, time.Now().UnixNano(), rand.Int63n(100000)) //nolint:gosec // test data
}

// CalculateETag calculates the entity tag of a single-PUT object.
func CalculateETag(data []byte) string {
	h := md5.Sum(data) //nolint:gosec // entity tag
	return fmt.Sprintf(`"%x"`, h)
}

// APIError builds the error chain the SDK returns for a failed HTTP response:
// an operation error wrapping a response error wrapping the service's API error.
func APIError(operation string, status int, code string) error {
	return &smithy.OperationError{
		ServiceID:     "S3",
		OperationName: operation,
		Err: &awshttp.ResponseError{
			ResponseError: &smithyhttp.ResponseError{
				Response: &smithyhttp.Response{Response: &http.Response{StatusCode: status}},
				Err:      &smithy.GenericAPIError{Code: code, Message: http.StatusText(status)},
			},
			RequestID: "test-request",
		},
	}
}
