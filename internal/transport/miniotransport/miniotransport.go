// Package miniotransport implements transport.Transport with minio-go, for
// MinIO and other S3-compatible stores.
package miniotransport

import (
	"context"
	stderrors "errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/encrypt"

	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/errors"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/internal/retry"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/internal/transport"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/uploadtypes"
)

const metaPrefix = "x-amz-meta-"

// Config describes how to reach the store.
type Config struct {
	// Endpoint is host[:port] without a scheme
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	Bucket          string
	UseSSL          bool
	Transport       http.RoundTripper
}

// Client is a transport bound to one bucket.
type Client struct {
	core   *minio.Core
	bucket string
	target string
	now    func() time.Time
}

var _ transport.Transport = (*Client)(nil)

// New connects a minio client. No request is made until the first operation.
func New(cfg Config) (*Client, error) {
	core, err := minio.NewCore(cfg.Endpoint, &minio.Options{
		Creds:      credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure:     cfg.UseSSL,
		Region:     cfg.Region,
		Transport:  cfg.Transport,
		MaxRetries: 1, // the governor owns retries
	})
	if err != nil {
		return nil, errors.NewError("newClient", errors.CodeInvalidRequest, err)
	}

	scheme := "http://"
	if cfg.UseSSL {
		scheme = "https://"
	}
	return &Client{
		core:   core,
		bucket: cfg.Bucket,
		target: retry.TargetKey(scheme+cfg.Endpoint, cfg.Bucket),
		now:    time.Now,
	}, nil
}

// Target implements transport.Transport.
func (c *Client) Target() string {
	return c.target
}

func writeOptions(contentType, cacheControl string, metadata map[string]string) minio.PutObjectOptions {
	return minio.PutObjectOptions{
		ContentType:          contentType,
		CacheControl:         cacheControl,
		UserMetadata:         metadata,
		ServerSideEncryption: encrypt.NewSSE(),
	}
}

// PutObject implements transport.Transport.
func (c *Client) PutObject(ctx context.Context, in *transport.PutInput) (*transport.WriteResult, error) {
	info, err := c.core.PutObject(ctx, c.bucket, in.Key, in.Body, in.Size, "", "",
		writeOptions(in.ContentType, in.CacheControl, in.Metadata))
	if err != nil {
		return nil, mapError("putObject", in.Key, err)
	}
	return &transport.WriteResult{ETag: info.ETag, VersionID: info.VersionID}, nil
}

// CreateMultipartUpload implements transport.Transport.
func (c *Client) CreateMultipartUpload(ctx context.Context, in *transport.CreateMultipartInput) (string, error) {
	id, err := c.core.NewMultipartUpload(ctx, c.bucket, in.Key,
		writeOptions(in.ContentType, in.CacheControl, in.Metadata))
	if err != nil {
		return "", mapError("createMultipartUpload", in.Key, err)
	}
	if id == "" {
		return "", errors.Errorf("createMultipartUpload", errors.CodeInternal, "store returned no upload id").WithKey(in.Key)
	}
	return id, nil
}

// UploadPart implements transport.Transport.
func (c *Client) UploadPart(ctx context.Context, in *transport.PartInput) (string, error) {
	part, err := c.core.PutObjectPart(ctx, c.bucket, in.Key, in.UploadID, int(in.PartNumber),
		in.Body, in.Size, minio.PutObjectPartOptions{})
	if err != nil {
		return "", mapError("uploadPart", in.Key, err)
	}
	return part.ETag, nil
}

// CompleteMultipartUpload implements transport.Transport.
func (c *Client) CompleteMultipartUpload(
	ctx context.Context,
	key, uploadID string,
	parts []transport.CompletedPart,
) (*transport.WriteResult, error) {
	completed := make([]minio.CompletePart, len(parts))
	for i, p := range parts {
		completed[i] = minio.CompletePart{PartNumber: int(p.PartNumber), ETag: p.ETag}
	}
	sort.Slice(completed, func(i, j int) bool {
		return completed[i].PartNumber < completed[j].PartNumber
	})

	info, err := c.core.CompleteMultipartUpload(ctx, c.bucket, key, uploadID, completed, minio.PutObjectOptions{})
	if err != nil {
		return nil, mapError("completeMultipartUpload", key, err)
	}
	return &transport.WriteResult{ETag: info.ETag, VersionID: info.VersionID}, nil
}

// AbortMultipartUpload implements transport.Transport.
func (c *Client) AbortMultipartUpload(ctx context.Context, key, uploadID string) error {
	if err := c.core.AbortMultipartUpload(ctx, c.bucket, key, uploadID); err != nil {
		return mapError("abortMultipartUpload", key, err)
	}
	return nil
}

// HeadObject implements transport.Transport.
func (c *Client) HeadObject(ctx context.Context, key string) (*transport.ObjectInfo, error) {
	info, err := c.core.StatObject(ctx, c.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return nil, mapError("headObject", key, err)
	}
	return objectInfo(info), nil
}

func objectInfo(info minio.ObjectInfo) *transport.ObjectInfo {
	meta := make(map[string]string, len(info.UserMetadata))
	for k, v := range info.UserMetadata {
		meta[strings.TrimPrefix(strings.ToLower(k), metaPrefix)] = v
	}
	return &transport.ObjectInfo{
		Key:          info.Key,
		Size:         info.Size,
		ContentType:  info.ContentType,
		ETag:         info.ETag,
		CacheControl: info.Metadata.Get("Cache-Control"),
		LastModified: info.LastModified,
		Metadata:     meta,
	}
}

// DeleteObject implements transport.Transport.
func (c *Client) DeleteObject(ctx context.Context, key string) error {
	if err := c.core.RemoveObject(ctx, c.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return mapError("deleteObject", key, err)
	}
	return nil
}

// DeleteObjects implements transport.Transport. minio-go reports every failure
// per key, so the returned error is only set for a rejected batch.
func (c *Client) DeleteObjects(ctx context.Context, keys []string) ([]transport.DeleteFailure, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	if err := transport.ValidateDeleteBatch(keys); err != nil {
		return nil, err
	}

	objects := make(chan minio.ObjectInfo, len(keys))
	for _, key := range keys {
		objects <- minio.ObjectInfo{Key: key}
	}
	close(objects)

	var failures []transport.DeleteFailure
	for e := range c.core.RemoveObjects(ctx, c.bucket, objects, minio.RemoveObjectsOptions{}) {
		mapped := mapError("deleteObjects", e.ObjectName, e.Err)
		failures = append(failures, transport.DeleteFailure{
			Key:     e.ObjectName,
			Code:    errors.CodeOf(mapped),
			Message: e.Err.Error(),
		})
	}
	if err := ctx.Err(); err != nil {
		return failures, mapError("deleteObjects", "", err)
	}
	return failures, nil
}

// ListObjects implements transport.Transport.
func (c *Client) ListObjects(ctx context.Context, prefix, token string, maxKeys int32) (*transport.ListPage, error) {
	if err := ctx.Err(); err != nil {
		return nil, mapError("listObjects", prefix, err)
	}
	if maxKeys <= 0 || maxKeys > transport.MaxListKeys {
		maxKeys = transport.MaxListKeys
	}

	res, err := c.core.ListObjectsV2(c.bucket, prefix, "", token, "", int(maxKeys))
	if err != nil {
		return nil, mapError("listObjects", prefix, err)
	}

	page := &transport.ListPage{Objects: make([]transport.ObjectInfo, 0, len(res.Contents))}
	for _, obj := range res.Contents {
		page.Objects = append(page.Objects, transport.ObjectInfo{
			Key:          obj.Key,
			Size:         obj.Size,
			ETag:         obj.ETag,
			LastModified: obj.LastModified,
		})
	}
	if res.IsTruncated {
		page.NextToken = res.NextContinuationToken
	}
	return page, nil
}

// PresignGetObject implements transport.Transport.
func (c *Client) PresignGetObject(ctx context.Context, key string, expiry time.Duration) (*uploadtypes.PresignedURL, error) {
	expiry = transport.ExpiryOrDefault(expiry)
	u, err := c.core.PresignedGetObject(ctx, c.bucket, key, expiry, nil)
	if err != nil {
		return nil, mapError("presignGetObject", key, err)
	}
	return &uploadtypes.PresignedURL{
		URL:     u.String(),
		Method:  http.MethodGet,
		Expires: c.now().Add(expiry),
		Headers: map[string]string{},
	}, nil
}

// PresignPutObject implements transport.Transport. The write headers are part
// of the signature and must be sent unchanged.
func (c *Client) PresignPutObject(
	ctx context.Context,
	key, contentType, cacheControl string,
	expiry time.Duration,
) (*uploadtypes.PresignedURL, error) {
	expiry = transport.ExpiryOrDefault(expiry)
	headers := transport.WriteHeaders(contentType, cacheControl)

	reqHeaders := make(http.Header, len(headers))
	for k, v := range headers {
		reqHeaders.Set(k, v)
	}

	u, err := c.core.PresignHeader(ctx, http.MethodPut, c.bucket, key, expiry, nil, reqHeaders)
	if err != nil {
		return nil, mapError("presignPutObject", key, err)
	}
	return &uploadtypes.PresignedURL{
		URL:     u.String(),
		Method:  http.MethodPut,
		Expires: c.now().Add(expiry),
		Headers: headers,
	}, nil
}

// PresignPostPolicy implements transport.Transport.
//
// The minio post policy has no Cache-Control condition, so the directive is
// not enforced on browser uploads through this backend. Extra conditions are
// limited to key and Content-Type prefixes, user metadata and
// success_action_status.
func (c *Client) PresignPostPolicy(ctx context.Context, in *transport.PostPolicyInput) (*uploadtypes.PresignedPost, error) {
	expiry := transport.ExpiryOrDefault(in.Expiry)
	expires := c.now().Add(expiry)

	policy, err := buildPolicy(c.bucket, in, expires)
	if err != nil {
		return nil, errors.NewObjectError("presignPostPolicy", in.Key, errors.CodeInvalidRequest, err)
	}

	u, fields, err := c.core.PresignedPostPolicy(ctx, policy)
	if err != nil {
		return nil, mapError("presignPostPolicy", in.Key, err)
	}
	return &uploadtypes.PresignedPost{
		URL:     u.String(),
		Fields:  fields,
		Expires: expires,
	}, nil
}

func buildPolicy(bucket string, in *transport.PostPolicyInput, expires time.Time) (*minio.PostPolicy, error) {
	policy := minio.NewPostPolicy()
	steps := []func() error{
		func() error { return policy.SetBucket(bucket) },
		func() error { return policy.SetKey(in.Key) },
		func() error { return policy.SetExpires(expires.UTC()) },
	}
	if in.ContentType != "" {
		steps = append(steps, func() error { return policy.SetContentType(in.ContentType) })
	}
	if in.MaxSize > 0 {
		steps = append(steps, func() error { return policy.SetContentLengthRange(1, in.MaxSize) })
	}
	for _, cond := range in.Conditions {
		steps = append(steps, conditionStep(policy, cond))
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, err
		}
	}
	policy.SetEncryption(encrypt.NewSSE())
	return policy, nil
}

func conditionStep(policy *minio.PostPolicy, cond uploadtypes.PolicyCondition) func() error {
	field := strings.ToLower(cond.Field)
	switch {
	case cond.Match == "starts-with" && field == "key":
		return func() error { return policy.SetKeyStartsWith(cond.Value) }
	case cond.Match == "starts-with" && field == "content-type":
		return func() error { return policy.SetContentTypeStartsWith(cond.Value) }
	case cond.Match != "starts-with" && strings.HasPrefix(field, metaPrefix):
		return func() error { return policy.SetUserMetadata(strings.TrimPrefix(field, metaPrefix), cond.Value) }
	case cond.Match != "starts-with" && field == "success_action_status":
		return func() error { return policy.SetSuccessStatusAction(cond.Value) }
	default:
		return func() error {
			return stderrors.New(cond.Match + " condition on " + cond.Field + " is not supported by this backend")
		}
	}
}

// mapError converts a minio-go error into an *errors.Error.
func mapError(op, key string, err error) error {
	var engineErr *errors.Error
	if stderrors.As(err, &engineErr) {
		return err
	}

	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		code, _ := errors.CodeForNetwork(err)
		return errors.NewObjectError(op, key, code, err)
	}

	resp := minio.ToErrorResponse(err)
	if resp.StatusCode != 0 || resp.Code != "" {
		return errors.NewObjectError(op, key, errors.CodeForStatus(resp.StatusCode, resp.Code), err).
			WithStatus(resp.StatusCode)
	}

	if code, ok := errors.CodeForNetwork(err); ok {
		return errors.NewObjectError(op, key, code, err)
	}
	return errors.NewObjectError(op, key, errors.CodeInternal, err)
}
