package miniotransport

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/errors"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/internal/transport"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/uploadtypes"
)

// newOfflineClient returns a client whose region is fixed, so presigning never
// contacts the endpoint.
func newOfflineClient(t *testing.T) *Client {
	t.Helper()
	c, err := New(Config{
		Endpoint:        "localhost:9000",
		AccessKeyID:     "minioadmin",
		SecretAccessKey: "minioadmin",
		Region:          "us-east-1",
		Bucket:          "media",
	})
	require.NoError(t, err)
	c.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	return c
}

func TestNew_Target(t *testing.T) {
	c := newOfflineClient(t)
	assert.Equal(t, "http://localhost:9000/media", c.Target())

	_, err := New(Config{Endpoint: "http://has-scheme:9000", Bucket: "b"})
	assert.Equal(t, errors.CodeInvalidRequest, errors.CodeOf(err))
}

func TestClient_SingleRequestPerCall(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>` +
			`<Error><Code>ServiceUnavailable</Code><Message>try later</Message></Error>`))
	}))
	t.Cleanup(srv.Close)

	c, err := New(Config{
		Endpoint:        strings.TrimPrefix(srv.URL, "http://"),
		AccessKeyID:     "minioadmin",
		SecretAccessKey: "minioadmin",
		Region:          "us-east-1",
		Bucket:          "media",
	})
	require.NoError(t, err)

	data := []byte("hello")
	_, err = c.PutObject(context.Background(), &transport.PutInput{
		Key:  "tmp/a.txt",
		Body: bytes.NewReader(data),
		Size: int64(len(data)),
	})
	require.Error(t, err)
	assert.Equal(t, errors.CodeUnavailable, errors.CodeOf(err))
	assert.Equal(t, int32(1), requests.Load())
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		want       errors.Code
		wantStatus int
	}{
		{
			name:       "no such key",
			err:        minio.ErrorResponse{Code: "NoSuchKey", StatusCode: http.StatusNotFound},
			want:       errors.CodeNotFound,
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "slow down",
			err:        minio.ErrorResponse{Code: "SlowDown", StatusCode: http.StatusServiceUnavailable},
			want:       errors.CodeRateLimited,
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:       "access denied",
			err:        minio.ErrorResponse{Code: "AccessDenied", StatusCode: http.StatusForbidden},
			want:       errors.CodeAuthentication,
			wantStatus: http.StatusForbidden,
		},
		{
			name: "canceled",
			err:  &url.Error{Op: "Put", URL: "http://localhost:9000", Err: context.Canceled},
			want: errors.CodeCanceled,
		},
		{
			name: "timeout",
			err:  &url.Error{Op: "Put", URL: "http://localhost:9000", Err: &netTimeout{}},
			want: errors.CodeTimeout,
		},
		{name: "unknown", err: stderrors.New("boom"), want: errors.CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := mapError("uploadPart", "k", tt.err)
			assert.Equal(t, tt.want, errors.CodeOf(err))

			var e *errors.Error
			require.ErrorAs(t, err, &e)
			assert.Equal(t, tt.wantStatus, e.StatusCode)
			assert.Equal(t, "k", e.Key)
		})
	}
}

type netTimeout struct{}

func (netTimeout) Error() string   { return "i/o timeout" }
func (netTimeout) Timeout() bool   { return true }
func (netTimeout) Temporary() bool { return true }

func TestClient_PresignPutObject(t *testing.T) {
	c := newOfflineClient(t)

	got, err := c.PresignPutObject(context.Background(), "uploads/a.png", "image/png", "no-cache", 10*time.Minute)
	require.NoError(t, err)

	assert.Equal(t, http.MethodPut, got.Method)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 10, 0, 0, time.UTC), got.Expires)
	assert.Equal(t, transport.WriteHeaders("image/png", "no-cache"), got.Headers)

	u, err := url.Parse(got.URL)
	require.NoError(t, err)
	assert.Equal(t, "/media/uploads/a.png", u.Path)
	assert.Equal(t, "600", u.Query().Get("X-Amz-Expires"))
	assert.Contains(t, u.Query().Get("X-Amz-SignedHeaders"), "x-amz-server-side-encryption")
}

func TestClient_PresignGetObject(t *testing.T) {
	c := newOfflineClient(t)

	got, err := c.PresignGetObject(context.Background(), "uploads/a.png", 0)
	require.NoError(t, err)

	u, err := url.Parse(got.URL)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprint(int(transport.DefaultPresignExpiry.Seconds())), u.Query().Get("X-Amz-Expires"))
	assert.Equal(t, http.MethodGet, got.Method)
}

func TestClient_PresignPostPolicy(t *testing.T) {
	tests := []struct {
		name string
		in   *transport.PostPolicyInput
		want func(t *testing.T, post *uploadtypes.PresignedPost, err error)
	}{
		{
			name: "fields carry key, type and encryption",
			in: &transport.PostPolicyInput{
				Key:         "uploads/a.png",
				ContentType: "image/png",
				MaxSize:     1 << 20,
				Conditions: []uploadtypes.PolicyCondition{
					{Match: "eq", Field: "x-amz-meta-owner", Value: "alice"},
				},
			},
			want: func(t *testing.T, post *uploadtypes.PresignedPost, err error) {
				require.NoError(t, err)
				assert.Equal(t, "uploads/a.png", post.Fields["key"])
				assert.Equal(t, "image/png", post.Fields["Content-Type"])
				assert.Equal(t, "alice", post.Fields["x-amz-meta-owner"])
				assert.NotEmpty(t, post.Fields["policy"])
				assert.NotEmpty(t, post.Fields["x-amz-signature"])
			},
		},
		{
			name: "unsupported condition is rejected",
			in: &transport.PostPolicyInput{
				Key: "uploads/a.png",
				Conditions: []uploadtypes.PolicyCondition{
					{Match: "starts-with", Field: "acl", Value: "public"},
				},
			},
			want: func(t *testing.T, post *uploadtypes.PresignedPost, err error) {
				assert.Equal(t, errors.CodeInvalidRequest, errors.CodeOf(err))
				assert.Nil(t, post)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			post, err := newOfflineClient(t).PresignPostPolicy(context.Background(), tt.in)
			tt.want(t, post, err)
		})
	}
}

func TestClient_DeleteObjects_OversizedBatch(t *testing.T) {
	keys := make([]string, transport.MaxDeleteBatch+1)
	for i := range keys {
		keys[i] = fmt.Sprintf("k/%d", i)
	}
	_, err := newOfflineClient(t).DeleteObjects(context.Background(), keys)
	assert.Equal(t, errors.CodeInvalidRequest, errors.CodeOf(err))
}

func TestObjectInfo(t *testing.T) {
	info := objectInfo(minio.ObjectInfo{
		Key:          "a",
		Size:         12,
		ContentType:  "text/plain",
		Metadata:     http.Header{"Cache-Control": []string{"no-store"}},
		UserMetadata: minio.StringMap{"Owner": "alice"},
	})
	assert.Equal(t, "no-store", info.CacheControl)
	assert.Equal(t, map[string]string{"owner": "alice"}, info.Metadata)
	assert.Equal(t, int64(12), info.Size)
}
