// Package s3transport implements transport.Transport on top of aws-sdk-go-v2.
package s3transport

import (
	"context"
	stderrors "errors"
	"net/http"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/errors"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/internal/retry"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/internal/s3api"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/internal/transport"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/uploadtypes"
)

// Client is a transport bound to one bucket.
type Client struct {
	api       s3api.S3API
	presigner s3api.Presigner
	bucket    string
	endpoint  string
	now       func() time.Time
}

var _ transport.Transport = (*Client)(nil)

// New creates a transport. endpoint is informational and only used to build the
// breaker target; the SDK client must already be configured for it.
func New(api s3api.S3API, presigner s3api.Presigner, bucket, endpoint string) *Client {
	return &Client{
		api:       api,
		presigner: presigner,
		bucket:    bucket,
		endpoint:  endpoint,
		now:       time.Now,
	}
}

// NewFromConfig builds the SDK client and presigner from an aws.Config.
func NewFromConfig(cfg aws.Config, bucket, endpoint string, usePathStyle bool) *Client {
	api := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = usePathStyle
	})
	return New(api, s3.NewPresignClient(api), bucket, endpoint)
}

// Target implements transport.Transport.
func (c *Client) Target() string {
	return retry.TargetKey(c.endpoint, c.bucket)
}

// PutObject implements transport.Transport.
func (c *Client) PutObject(ctx context.Context, in *transport.PutInput) (*transport.WriteResult, error) {
	out, err := c.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:               aws.String(c.bucket),
		Key:                  aws.String(in.Key),
		Body:                 in.Body,
		ContentLength:        aws.Int64(in.Size),
		ContentType:          optional(in.ContentType),
		CacheControl:         optional(in.CacheControl),
		Metadata:             in.Metadata,
		ServerSideEncryption: s3types.ServerSideEncryptionAes256,
	})
	if err != nil {
		return nil, mapError("putObject", in.Key, err)
	}
	return &transport.WriteResult{
		ETag:      aws.ToString(out.ETag),
		VersionID: aws.ToString(out.VersionId),
	}, nil
}

// CreateMultipartUpload implements transport.Transport.
func (c *Client) CreateMultipartUpload(ctx context.Context, in *transport.CreateMultipartInput) (string, error) {
	out, err := c.api.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:               aws.String(c.bucket),
		Key:                  aws.String(in.Key),
		ContentType:          optional(in.ContentType),
		CacheControl:         optional(in.CacheControl),
		Metadata:             in.Metadata,
		ServerSideEncryption: s3types.ServerSideEncryptionAes256,
	})
	if err != nil {
		return "", mapError("createMultipartUpload", in.Key, err)
	}
	if aws.ToString(out.UploadId) == "" {
		return "", errors.Errorf("createMultipartUpload", errors.CodeInternal, "store returned no upload id").WithKey(in.Key)
	}
	return aws.ToString(out.UploadId), nil
}

// UploadPart implements transport.Transport.
func (c *Client) UploadPart(ctx context.Context, in *transport.PartInput) (string, error) {
	out, err := c.api.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(in.Key),
		UploadId:      aws.String(in.UploadID),
		PartNumber:    aws.Int32(in.PartNumber),
		Body:          in.Body,
		ContentLength: aws.Int64(in.Size),
	})
	if err != nil {
		return "", mapError("uploadPart", in.Key, err)
	}
	return aws.ToString(out.ETag), nil
}

// CompleteMultipartUpload implements transport.Transport. Parts are sent in
// ascending part number order regardless of the order given.
func (c *Client) CompleteMultipartUpload(
	ctx context.Context,
	key, uploadID string,
	parts []transport.CompletedPart,
) (*transport.WriteResult, error) {
	completed := make([]s3types.CompletedPart, len(parts))
	for i, p := range parts {
		completed[i] = s3types.CompletedPart{
			PartNumber: aws.Int32(p.PartNumber),
			ETag:       aws.String(p.ETag),
		}
	}
	sort.Slice(completed, func(i, j int) bool {
		return aws.ToInt32(completed[i].PartNumber) < aws.ToInt32(completed[j].PartNumber)
	})

	out, err := c.api.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(c.bucket),
		Key:             aws.String(key),
		UploadId:        aws.String(uploadID),
		MultipartUpload: &s3types.CompletedMultipartUpload{Parts: completed},
	})
	if err != nil {
		return nil, mapError("completeMultipartUpload", key, err)
	}
	return &transport.WriteResult{
		ETag:      aws.ToString(out.ETag),
		VersionID: aws.ToString(out.VersionId),
	}, nil
}

// AbortMultipartUpload implements transport.Transport.
func (c *Client) AbortMultipartUpload(ctx context.Context, key, uploadID string) error {
	_, err := c.api.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(c.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	})
	if err != nil {
		return mapError("abortMultipartUpload", key, err)
	}
	return nil
}

// HeadObject implements transport.Transport.
func (c *Client) HeadObject(ctx context.Context, key string) (*transport.ObjectInfo, error) {
	out, err := c.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, mapError("headObject", key, err)
	}
	return &transport.ObjectInfo{
		Key:          key,
		Size:         aws.ToInt64(out.ContentLength),
		ContentType:  aws.ToString(out.ContentType),
		ETag:         aws.ToString(out.ETag),
		CacheControl: aws.ToString(out.CacheControl),
		LastModified: aws.ToTime(out.LastModified),
		Metadata:     out.Metadata,
	}, nil
}

// DeleteObject implements transport.Transport.
func (c *Client) DeleteObject(ctx context.Context, key string) error {
	_, err := c.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return mapError("deleteObject", key, err)
	}
	return nil
}

// DeleteObjects implements transport.Transport.
func (c *Client) DeleteObjects(ctx context.Context, keys []string) ([]transport.DeleteFailure, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	if err := transport.ValidateDeleteBatch(keys); err != nil {
		return nil, err
	}

	objects := make([]s3types.ObjectIdentifier, len(keys))
	for i, key := range keys {
		objects[i] = s3types.ObjectIdentifier{Key: aws.String(key)}
	}

	out, err := c.api.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(c.bucket),
		Delete: &s3types.Delete{
			Objects: objects,
			Quiet:   aws.Bool(true),
		},
	})
	if err != nil {
		return nil, mapError("deleteObjects", "", err)
	}

	var failures []transport.DeleteFailure
	for _, e := range out.Errors {
		failures = append(failures, transport.DeleteFailure{
			Key:     aws.ToString(e.Key),
			Code:    errors.CodeForStatus(0, aws.ToString(e.Code)),
			Message: aws.ToString(e.Message),
		})
	}
	return failures, nil
}

// ListObjects implements transport.Transport.
func (c *Client) ListObjects(ctx context.Context, prefix, token string, maxKeys int32) (*transport.ListPage, error) {
	if maxKeys <= 0 || maxKeys > transport.MaxListKeys {
		maxKeys = transport.MaxListKeys
	}

	out, err := c.api.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:            aws.String(c.bucket),
		Prefix:            optional(prefix),
		ContinuationToken: optional(token),
		MaxKeys:           aws.Int32(maxKeys),
	})
	if err != nil {
		return nil, mapError("listObjects", prefix, err)
	}

	page := &transport.ListPage{Objects: make([]transport.ObjectInfo, 0, len(out.Contents))}
	for _, obj := range out.Contents {
		page.Objects = append(page.Objects, transport.ObjectInfo{
			Key:          aws.ToString(obj.Key),
			Size:         aws.ToInt64(obj.Size),
			ETag:         aws.ToString(obj.ETag),
			LastModified: aws.ToTime(obj.LastModified),
		})
	}
	if aws.ToBool(out.IsTruncated) {
		page.NextToken = aws.ToString(out.NextContinuationToken)
	}
	return page, nil
}

// PresignGetObject implements transport.Transport.
func (c *Client) PresignGetObject(ctx context.Context, key string, expiry time.Duration) (*uploadtypes.PresignedURL, error) {
	expiry = transport.ExpiryOrDefault(expiry)
	req, err := c.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return nil, mapError("presignGetObject", key, err)
	}
	return &uploadtypes.PresignedURL{
		URL:     req.URL,
		Method:  req.Method,
		Expires: c.now().Add(expiry),
		Headers: signedHeaders(req.SignedHeader),
	}, nil
}

// PresignPutObject implements transport.Transport. The returned headers carry
// the encryption, content type and cache directive the signature covers.
func (c *Client) PresignPutObject(
	ctx context.Context,
	key, contentType, cacheControl string,
	expiry time.Duration,
) (*uploadtypes.PresignedURL, error) {
	expiry = transport.ExpiryOrDefault(expiry)
	req, err := c.presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:               aws.String(c.bucket),
		Key:                  aws.String(key),
		ContentType:          optional(contentType),
		CacheControl:         optional(cacheControl),
		ServerSideEncryption: s3types.ServerSideEncryptionAes256,
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return nil, mapError("presignPutObject", key, err)
	}

	headers := transport.WriteHeaders(contentType, cacheControl)
	for k, v := range signedHeaders(req.SignedHeader) {
		headers[k] = v
	}
	return &uploadtypes.PresignedURL{
		URL:     req.URL,
		Method:  req.Method,
		Expires: c.now().Add(expiry),
		Headers: headers,
	}, nil
}

// PresignPostPolicy implements transport.Transport.
func (c *Client) PresignPostPolicy(ctx context.Context, in *transport.PostPolicyInput) (*uploadtypes.PresignedPost, error) {
	expiry := transport.ExpiryOrDefault(in.Expiry)

	fields := map[string]string{
		"x-amz-server-side-encryption": transport.SSEAlgorithm,
	}
	if in.ContentType != "" {
		fields["Content-Type"] = in.ContentType
	}
	if in.CacheControl != "" {
		fields["Cache-Control"] = in.CacheControl
	}

	conditions := make([]interface{}, 0, len(fields)+len(in.Conditions)+1)
	for k, v := range fields {
		conditions = append(conditions, map[string]string{k: v})
	}
	if in.MaxSize > 0 {
		conditions = append(conditions, []interface{}{"content-length-range", 1, in.MaxSize})
	}
	for _, cond := range in.Conditions {
		switch cond.Match {
		case "starts-with":
			conditions = append(conditions, []interface{}{"starts-with", "$" + cond.Field, cond.Value})
		default:
			conditions = append(conditions, map[string]string{cond.Field: cond.Value})
			fields[cond.Field] = cond.Value
		}
	}

	req, err := c.presigner.PresignPostObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(in.Key),
	}, func(o *s3.PresignPostOptions) {
		o.Expires = expiry
		o.Conditions = conditions
	})
	if err != nil {
		return nil, mapError("presignPostPolicy", in.Key, err)
	}

	for k, v := range req.Values {
		fields[k] = v
	}
	return &uploadtypes.PresignedPost{
		URL:     req.URL,
		Fields:  fields,
		Expires: c.now().Add(expiry),
	}, nil
}

// signedHeaders flattens the headers a presigned request must carry. Host is
// implied by the URL and left out.
func signedHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if http.CanonicalHeaderKey(k) == "Host" || len(v) == 0 {
			continue
		}
		out[http.CanonicalHeaderKey(k)] = v[0]
	}
	return out
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return aws.String(s)
}

// mapError converts an SDK error into an *errors.Error. Context errors take
// precedence over the response, since the SDK reports a canceled request with
// whatever partial response it had.
func mapError(op, key string, err error) error {
	var engineErr *errors.Error
	if stderrors.As(err, &engineErr) {
		return err
	}

	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		code, _ := errors.CodeForNetwork(err)
		return errors.NewObjectError(op, key, code, err)
	}

	status := 0
	var respErr *awshttp.ResponseError
	if stderrors.As(err, &respErr) {
		status = respErr.HTTPStatusCode()
	}
	apiCode := ""
	var apiErr smithy.APIError
	if stderrors.As(err, &apiErr) {
		apiCode = apiErr.ErrorCode()
	}
	if status != 0 || apiCode != "" {
		return errors.NewObjectError(op, key, errors.CodeForStatus(status, apiCode), err).WithStatus(status)
	}

	if code, ok := errors.CodeForNetwork(err); ok {
		return errors.NewObjectError(op, key, code, err)
	}
	return errors.NewObjectError(op, key, errors.CodeInternal, err)
}

