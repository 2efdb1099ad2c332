package s3upload

import (
	"context"
	"time"

	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/errors"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/internal/retry"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/internal/transport"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/internal/validation"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/uploadtypes"
)

// Upload stores req.Body under req.Key.
//
// The key, size, metadata and the first 4KB of the body are checked before
// any network call. Payloads below the multipart threshold are sent with a
// single PUT; larger ones are split into chunks uploaded in parallel. Every
// store call is retried with exponential backoff, and a multipart upload that
// fails is aborted so no parts are left behind.
//
// Errors carry a code from the errors package:
//   - INVALID_KEY, INVALID_SIZE, FILE_TOO_LARGE, VALIDATION_FAILED: rejected locally
//   - CIRCUIT_OPEN: the endpoint is failing and was not contacted
//   - RETRY_EXHAUSTED: a transient failure persisted across every attempt
//   - MULTIPART_ABORTED: a part failed for good; the cause is wrapped
//
// Example:
//
//	f, err := os.Open("photo.png")
//	if err != nil {
//	    return err
//	}
//	defer f.Close()
//	info, _ := f.Stat()
//
//	result, err := client.Upload(ctx, uploadtypes.UploadRequest{
//	    Key:         "originals/photo.png",
//	    Body:        f,
//	    Size:        info.Size(),
//	    ContentType: "image/png",
//	})
func (c *Client) Upload(ctx context.Context, req uploadtypes.UploadRequest) (*uploadtypes.UploadResult, error) {
	return c.uploader.Upload(ctx, req)
}

// GenerateUploadURL returns a presigned PUT URL for key. The returned headers
// must be sent with the request; they pin the content type, cache directive and
// server-side encryption. A zero expiry uses the client default.
func (c *Client) GenerateUploadURL(
	ctx context.Context,
	key, contentType string,
	expiry time.Duration,
) (*uploadtypes.PresignedURL, error) {
	if err := c.validateKey(key); err != nil {
		return nil, err
	}
	if err := validation.ValidateContentType(contentType); err != nil {
		return nil, err
	}
	_, directive := c.resolver.Resolve(key, "")
	return c.transport.PresignPutObject(ctx, key, contentType, directive, c.expiry(expiry))
}

// GenerateDownloadURL returns a presigned GET URL for key.
func (c *Client) GenerateDownloadURL(ctx context.Context, key string, expiry time.Duration) (*uploadtypes.PresignedURL, error) {
	if err := validation.ValidateObjectKey(key); err != nil {
		return nil, err
	}
	return c.transport.PresignGetObject(ctx, key, c.expiry(expiry))
}

// GeneratePresignedPost returns the URL and form fields for a browser upload.
// MaxSize bounds the accepted body and defaults to the client's object size
// limit.
func (c *Client) GeneratePresignedPost(
	ctx context.Context,
	req uploadtypes.PresignedPostRequest,
) (*uploadtypes.PresignedPost, error) {
	if err := c.validateKey(req.Key); err != nil {
		return nil, err
	}
	if err := validation.ValidateContentType(req.ContentType); err != nil {
		return nil, err
	}
	maxSize := req.MaxSize
	switch {
	case maxSize == 0:
		maxSize = c.cfg.MaxObjectSize
	case maxSize < 0:
		return nil, errors.Errorf("presignPost", errors.CodeInvalidSize, "max size %d is negative", maxSize).WithKey(req.Key)
	case maxSize > c.cfg.MaxObjectSize:
		return nil, errors.Errorf("presignPost", errors.CodeFileTooLarge,
			"max size %d exceeds the %d byte limit", maxSize, c.cfg.MaxObjectSize).WithKey(req.Key)
	}

	_, directive := c.resolver.Resolve(req.Key, "")
	return c.transport.PresignPostPolicy(ctx, &transport.PostPolicyInput{
		Key:          req.Key,
		ContentType:  req.ContentType,
		CacheControl: directive,
		MaxSize:      maxSize,
		Expiry:       c.expiry(req.Expiry),
		Conditions:   req.Conditions,
	})
}

// Delete removes key. Deleting a missing key is not an error.
func (c *Client) Delete(ctx context.Context, key string) error {
	return c.deleter.Delete(ctx, key)
}

// DeleteBatch removes keys, splitting them into requests of at most 1000.
// Per-key failures are reported in the result; the error is set only when ctx
// ended before every batch ran.
func (c *Client) DeleteBatch(ctx context.Context, keys []string) (*uploadtypes.DeleteResult, error) {
	return c.deleter.DeleteBatch(ctx, keys)
}

// Exists reports whether key is stored.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	_, err := c.head(ctx, key)
	if err != nil {
		if errors.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// GetMetadata returns the stored metadata of key without reading its content.
// A missing object is a NOT_FOUND error.
func (c *Client) GetMetadata(ctx context.Context, key string) (*uploadtypes.ObjectMetadata, error) {
	info, err := c.head(ctx, key)
	if err != nil {
		return nil, err
	}
	return &uploadtypes.ObjectMetadata{
		ContentType:   info.ContentType,
		ContentLength: info.Size,
		LastModified:  info.LastModified,
		ETag:          info.ETag,
		CacheControl:  info.CacheControl,
		Metadata:      info.Metadata,
	}, nil
}

func (c *Client) head(ctx context.Context, key string) (*transport.ObjectInfo, error) {
	if err := c.validateKey(key); err != nil {
		return nil, err
	}
	return retry.Do(ctx, c.governor, "headObject", func(ctx context.Context) (*transport.ObjectInfo, error) {
		return c.transport.HeadObject(ctx, key)
	})
}

// List returns one page of keys under prefix. Pass the previous page's
// NextToken to continue; an empty NextToken marks the last page.
func (c *Client) List(ctx context.Context, prefix, token string) (*uploadtypes.ListResult, error) {
	return c.lister.List(ctx, prefix, token)
}

// ListAll streams every object under prefix. The channel closes after the last
// object or after the first error, which is delivered as the final item.
func (c *Client) ListAll(ctx context.Context, prefix string) <-chan uploadtypes.ObjectResult {
	return c.lister.ListAll(ctx, prefix)
}

// BreakerState returns the state of the circuit breaker guarding the client's
// endpoint: "closed", "open" or "half-open".
func (c *Client) BreakerState() string {
	return c.breaker.State().String()
}

func (c *Client) validateKey(key string) error {
	return validation.ValidateObjectKey(key, c.cfg.KeyNamespaces...)
}

func (c *Client) expiry(d time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return c.cfg.PresignExpiry
}
