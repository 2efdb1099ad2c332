package testutil

import (
	"context"
	"time"

	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/internal/transport"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/uploadtypes"
)

// MockTransport is a transport.Transport whose methods can be overridden through
// function fields. Methods without an override are served by Store.
type MockTransport struct {
	Store *MemoryStore

	PutObjectFunc               func(context.Context, *transport.PutInput) (*transport.WriteResult, error)
	CreateMultipartUploadFunc   func(context.Context, *transport.CreateMultipartInput) (string, error)
	UploadPartFunc              func(context.Context, *transport.PartInput) (string, error)
	CompleteMultipartUploadFunc func(context.Context, string, string, []transport.CompletedPart) (*transport.WriteResult, error)
	AbortMultipartUploadFunc    func(context.Context, string, string) error
	HeadObjectFunc              func(context.Context, string) (*transport.ObjectInfo, error)
	DeleteObjectsFunc           func(context.Context, []string) ([]transport.DeleteFailure, error)
	ListObjectsFunc             func(context.Context, string, string, int32) (*transport.ListPage, error)
}

var _ transport.Transport = (*MockTransport)(nil)

// NewMockTransport creates a mock backed by an empty MemoryStore.
func NewMockTransport() *MockTransport {
	return &MockTransport{Store: NewMemoryStore()}
}

// Target implements transport.Transport.
func (m *MockTransport) Target() string {
	return m.Store.Target()
}

// PutObject implements transport.Transport.
func (m *MockTransport) PutObject(ctx context.Context, in *transport.PutInput) (*transport.WriteResult, error) {
	if m.PutObjectFunc != nil {
		return m.PutObjectFunc(ctx, in)
	}
	return m.Store.PutObject(ctx, in)
}

// CreateMultipartUpload implements transport.Transport.
func (m *MockTransport) CreateMultipartUpload(ctx context.Context, in *transport.CreateMultipartInput) (string, error) {
	if m.CreateMultipartUploadFunc != nil {
		return m.CreateMultipartUploadFunc(ctx, in)
	}
	return m.Store.CreateMultipartUpload(ctx, in)
}

// UploadPart implements transport.Transport.
func (m *MockTransport) UploadPart(ctx context.Context, in *transport.PartInput) (string, error) {
	if m.UploadPartFunc != nil {
		return m.UploadPartFunc(ctx, in)
	}
	return m.Store.UploadPart(ctx, in)
}

// CompleteMultipartUpload implements transport.Transport.
func (m *MockTransport) CompleteMultipartUpload(
	ctx context.Context,
	key, uploadID string,
	parts []transport.CompletedPart,
) (*transport.WriteResult, error) {
	if m.CompleteMultipartUploadFunc != nil {
		return m.CompleteMultipartUploadFunc(ctx, key, uploadID, parts)
	}
	return m.Store.CompleteMultipartUpload(ctx, key, uploadID, parts)
}

// AbortMultipartUpload implements transport.Transport.
func (m *MockTransport) AbortMultipartUpload(ctx context.Context, key, uploadID string) error {
	if m.AbortMultipartUploadFunc != nil {
		return m.AbortMultipartUploadFunc(ctx, key, uploadID)
	}
	return m.Store.AbortMultipartUpload(ctx, key, uploadID)
}

// HeadObject implements transport.Transport.
func (m *MockTransport) HeadObject(ctx context.Context, key string) (*transport.ObjectInfo, error) {
	if m.HeadObjectFunc != nil {
		return m.HeadObjectFunc(ctx, key)
	}
	return m.Store.HeadObject(ctx, key)
}

// DeleteObject implements transport.Transport.
func (m *MockTransport) DeleteObject(ctx context.Context, key string) error {
	return m.Store.DeleteObject(ctx, key)
}

// DeleteObjects implements transport.Transport.
func (m *MockTransport) DeleteObjects(ctx context.Context, keys []string) ([]transport.DeleteFailure, error) {
	if m.DeleteObjectsFunc != nil {
		return m.DeleteObjectsFunc(ctx, keys)
	}
	return m.Store.DeleteObjects(ctx, keys)
}

// ListObjects implements transport.Transport.
func (m *MockTransport) ListObjects(ctx context.Context, prefix, token string, maxKeys int32) (*transport.ListPage, error) {
	if m.ListObjectsFunc != nil {
		return m.ListObjectsFunc(ctx, prefix, token, maxKeys)
	}
	return m.Store.ListObjects(ctx, prefix, token, maxKeys)
}

// PresignGetObject implements transport.Transport.
func (m *MockTransport) PresignGetObject(ctx context.Context, key string, expiry time.Duration) (*uploadtypes.PresignedURL, error) {
	return m.Store.PresignGetObject(ctx, key, expiry)
}

// PresignPutObject implements transport.Transport.
func (m *MockTransport) PresignPutObject(
	ctx context.Context,
	key, contentType, cacheControl string,
	expiry time.Duration,
) (*uploadtypes.PresignedURL, error) {
	return m.Store.PresignPutObject(ctx, key, contentType, cacheControl, expiry)
}

// PresignPostPolicy implements transport.Transport.
func (m *MockTransport) PresignPostPolicy(ctx context.Context, in *transport.PostPolicyInput) (*uploadtypes.PresignedPost, error) {
	return m.Store.PresignPostPolicy(ctx, in)
}
