// Package uploadtypes provides shared type definitions for the upload engine.
package uploadtypes

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/prometheus/client_golang/prometheus"
)

// CacheClass is the logical class of a stored asset. It selects the
// Cache-Control directive attached to every write.
type CacheClass string

// Predefined cache classes
const (
	// CacheOriginal is an uploaded original, never rewritten in place
	CacheOriginal CacheClass = "original"

	// CacheDerived is a thumbnail or preview generated from an original
	CacheDerived CacheClass = "derived"

	// CacheDocument is a document that may be replaced under the same key
	CacheDocument CacheClass = "document"

	// CacheTemporary is scratch data that must never be cached
	CacheTemporary CacheClass = "temporary"
)

// Backend selects the object store client implementation.
type Backend string

// Supported backends
const (
	BackendAWS   Backend = "aws"
	BackendMinIO Backend = "minio"
)

// UploadRequest describes one upload. It is passed by value and not modified by the engine.
type UploadRequest struct {
	// Key is the destination object key
	Key string

	// Body supplies the payload. It is read once, front to back.
	Body io.Reader

	// Size is the payload length in bytes. When zero it is taken from Body.Len()
	// if Body exposes one (bytes.Reader, bytes.Buffer, strings.Reader).
	Size int64

	// ContentType is the caller-declared MIME type
	ContentType string

	// CacheClass overrides the class inferred from the key prefix
	CacheClass CacheClass

	// Metadata contains user-defined metadata
	Metadata map[string]string

	// Progress receives throttled progress snapshots (optional)
	Progress ProgressSink
}

// UploadResult contains the result of an upload operation.
type UploadResult struct {
	// Key is the final object key
	Key string

	// Size is the size of the uploaded object in bytes
	Size int64

	// ETag is the entity tag returned by the store
	ETag string

	// VersionID is the version ID if versioning is enabled
	VersionID string

	// ContentType is the content type the object was stored with
	ContentType string

	// CacheControl is the directive the object was stored with
	CacheControl string

	// Strategy is "single" or "multipart"
	Strategy string

	// Parts is the number of parts uploaded (1 for single-shot)
	Parts int

	// Warnings carries non-blocking content validation findings
	Warnings []string

	// Duration is how long the upload took
	Duration time.Duration
}

// ProgressSnapshot is a point-in-time view of an upload's progress.
type ProgressSnapshot struct {
	// BytesTransferred is the number of payload bytes sent so far
	BytesTransferred int64

	// TotalBytes is the payload size
	TotalBytes int64

	// Percent is BytesTransferred/TotalBytes in [0, 100]
	Percent float64

	// Sequence increases with every snapshot computed for one upload
	Sequence uint64
}

// ProgressSink receives progress snapshots. Calls for one upload are serialized.
type ProgressSink interface {
	OnProgress(snapshot ProgressSnapshot)
}

// ProgressFunc adapts a plain function to ProgressSink.
type ProgressFunc func(snapshot ProgressSnapshot)

// OnProgress calls f(snapshot).
func (f ProgressFunc) OnProgress(snapshot ProgressSnapshot) {
	f(snapshot)
}

// UploadCompleted is published once an upload has been committed to the store.
type UploadCompleted struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	ETag         string    `json:"etag"`
	ContentType  string    `json:"content_type"`
	Strategy     string    `json:"strategy"`
	CompletedAt  time.Time `json:"completed_at"`
	OperationID  string    `json:"operation_id"`
	CacheControl string    `json:"cache_control,omitempty"`
}

// CompletionNotifier is told about every successful upload. Errors are logged by
// the engine and never fail the upload.
type CompletionNotifier interface {
	UploadCompleted(ctx context.Context, event UploadCompleted) error
}

// Object represents a stored object with its basic metadata.
type Object struct {
	// Key is the object key
	Key string

	// Size is the object size in bytes
	Size int64

	// LastModified is when the object was last modified
	LastModified time.Time

	// ETag is the entity tag for the object
	ETag string
}

// ObjectResult is one item of a streamed listing: an object, or the error that
// ended the stream.
type ObjectResult struct {
	Object Object
	Err    error
}

// ObjectMetadata contains detailed metadata about a stored object.
type ObjectMetadata struct {
	// ContentType is the MIME type of the object
	ContentType string

	// ContentLength is the size of the object in bytes
	ContentLength int64

	// LastModified is when the object was last modified
	LastModified time.Time

	// ETag is the entity tag for the object
	ETag string

	// CacheControl is the stored Cache-Control directive
	CacheControl string

	// Metadata contains user-defined metadata
	Metadata map[string]string
}

// DeleteResult contains the result of a batch delete operation.
type DeleteResult struct {
	// Deleted contains the keys that were removed
	Deleted []string

	// Errors contains per-key failures
	Errors []DeleteError

	// Duration is how long the operation took
	Duration time.Duration
}

// DeleteError represents an error that occurred during a delete operation.
type DeleteError struct {
	// Key is the object key that failed to delete
	Key string

	// Code is the error code
	Code string

	// Message is the error message
	Message string
}

// ListResult contains one page of a list operation.
type ListResult struct {
	// Keys contains the listed object keys
	Keys []string

	// Objects contains the listed objects with size and modification time
	Objects []Object

	// NextToken is the continuation token for the next page, empty on the last page
	NextToken string
}

// PresignedURL is a time-limited URL for a single request.
type PresignedURL struct {
	URL     string
	Method  string
	Expires time.Time

	// Headers must be sent unchanged with the request; they are part of the signature
	Headers map[string]string
}

// PolicyCondition is one extra condition in a presigned POST policy.
// Match is "eq" or "starts-with"; Field is the form field without the leading "$".
type PolicyCondition struct {
	Match string
	Field string
	Value string
}

// PresignedPostRequest describes a browser-based upload to presign.
type PresignedPostRequest struct {
	Key         string
	ContentType string
	MaxSize     int64
	Expiry      time.Duration
	Conditions  []PolicyCondition
}

// PresignedPost is the URL and form fields a client must submit.
type PresignedPost struct {
	URL     string
	Fields  map[string]string
	Expires time.Time
}

// Configuration types for functional options

// ClientConfig holds configuration for the upload client.
type ClientConfig struct {
	Bucket          string
	Region          string
	Endpoint        string
	Backend         Backend
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
	UseSSL          bool

	MaxRetryAttempts int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
	RetryMultiplier  float64
	RetryJitter      time.Duration
	OperationTimeout time.Duration

	MultipartThreshold int64
	ChunkSize          int64
	MaxConcurrentParts int
	ProgressThrottle   time.Duration

	BreakerThreshold int
	BreakerCooldown  time.Duration

	MaxObjectSize     int64
	KeyNamespaces     []string
	AllowedTypes      []string
	TrustDetectedType bool
	PresignExpiry     time.Duration
	CacheRules        map[string]CacheClass

	Logger           *slog.Logger
	MetricsRegistry  prometheus.Registerer
	Notifier         CompletionNotifier
	CustomAWSConfig  *aws.Config
	CustomHTTPClient *http.Client
}

// Option is a functional option for configuring the upload client.
type Option func(*ClientConfig)
