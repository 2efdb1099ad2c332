// Package transport defines the object store operations the engine needs and
// the value types exchanged with them.
//
// Implementations live in sub-packages (s3transport for aws-sdk-go-v2,
// miniotransport for minio-go). Every error an implementation returns is an
// *errors.Error carrying a code from the engine taxonomy, so callers classify
// failures without knowing which backend produced them.
package transport

import (
	"context"
	"io"
	"time"

	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/errors"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/uploadtypes"
)

const (
	// SSEAlgorithm is the server-side encryption applied to every write.
	SSEAlgorithm = "AES256"

	// MaxDeleteBatch is the largest number of keys one DeleteObjects call accepts.
	MaxDeleteBatch = 1000

	// MaxListKeys is the largest page ListObjects returns.
	MaxListKeys = 1000

	// DefaultPresignExpiry is used when a presign request carries no expiry.
	DefaultPresignExpiry = 900 * time.Second
)

// PutInput describes a single-request object write.
type PutInput struct {
	Key          string
	Body         io.Reader
	Size         int64
	ContentType  string
	CacheControl string
	Metadata     map[string]string
}

// CreateMultipartInput describes a multipart session to open.
type CreateMultipartInput struct {
	Key          string
	ContentType  string
	CacheControl string
	Metadata     map[string]string
}

// PartInput describes one part of a multipart session.
type PartInput struct {
	Key        string
	UploadID   string
	PartNumber int32
	Body       io.Reader
	Size       int64
}

// CompletedPart identifies an uploaded part.
type CompletedPart struct {
	PartNumber int32
	ETag       string
}

// WriteResult is returned by operations that commit an object.
type WriteResult struct {
	ETag      string
	VersionID string
}

// ObjectInfo is the metadata of a stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	ContentType  string
	ETag         string
	CacheControl string
	LastModified time.Time
	Metadata     map[string]string
}

// ListPage is one page of a listing.
type ListPage struct {
	Objects   []ObjectInfo
	NextToken string
}

// DeleteFailure is a per-key failure of a batch delete.
type DeleteFailure struct {
	Key     string
	Code    errors.Code
	Message string
}

// PostPolicyInput describes a browser upload to presign.
type PostPolicyInput struct {
	Key          string
	ContentType  string
	CacheControl string
	MaxSize      int64
	Expiry       time.Duration
	Conditions   []uploadtypes.PolicyCondition
}

// Transport is the object store client used by the engine. One Transport is
// bound to one bucket.
type Transport interface {
	// Target identifies the endpoint and bucket, for breaker sharing
	Target() string

	PutObject(ctx context.Context, in *PutInput) (*WriteResult, error)

	CreateMultipartUpload(ctx context.Context, in *CreateMultipartInput) (uploadID string, err error)
	UploadPart(ctx context.Context, in *PartInput) (etag string, err error)
	CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []CompletedPart) (*WriteResult, error)
	AbortMultipartUpload(ctx context.Context, key, uploadID string) error

	HeadObject(ctx context.Context, key string) (*ObjectInfo, error)
	DeleteObject(ctx context.Context, key string) error

	// DeleteObjects removes up to MaxDeleteBatch keys. The returned slice lists
	// keys the store refused; the error is set only when the whole call failed.
	DeleteObjects(ctx context.Context, keys []string) ([]DeleteFailure, error)

	// ListObjects returns one page of keys under prefix starting at token.
	ListObjects(ctx context.Context, prefix, token string, maxKeys int32) (*ListPage, error)

	PresignGetObject(ctx context.Context, key string, expiry time.Duration) (*uploadtypes.PresignedURL, error)
	PresignPutObject(ctx context.Context, key, contentType, cacheControl string, expiry time.Duration) (*uploadtypes.PresignedURL, error)
	PresignPostPolicy(ctx context.Context, in *PostPolicyInput) (*uploadtypes.PresignedPost, error)
}

// WriteHeaders returns the headers every engine write carries.
func WriteHeaders(contentType, cacheControl string) map[string]string {
	h := map[string]string{
		"Cache-Control":                cacheControl,
		"X-Amz-Server-Side-Encryption": SSEAlgorithm,
	}
	if contentType != "" {
		h["Content-Type"] = contentType
	}
	return h
}

// ValidateDeleteBatch rejects batches larger than MaxDeleteBatch.
func ValidateDeleteBatch(keys []string) error {
	if len(keys) > MaxDeleteBatch {
		return errors.Errorf("deleteObjects", errors.CodeInvalidRequest,
			"batch of %d keys exceeds the %d key limit", len(keys), MaxDeleteBatch)
	}
	return nil
}

// ExpiryOrDefault returns d, or DefaultPresignExpiry when d is not positive.
func ExpiryOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultPresignExpiry
	}
	return d
}
