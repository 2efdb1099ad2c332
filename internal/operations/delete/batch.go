// Package delete removes objects one at a time or in batches.
//
// Batches are split at the store's 1000 key limit and the resulting requests run
// in parallel. A batch that fails as a whole reports every one of its keys as
// failed; the other batches are unaffected.
package delete

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/errors"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/internal/retry"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/internal/transport"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/internal/validation"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/uploadtypes"
)

// DefaultParallelism is the number of batch requests in flight at once.
const DefaultParallelism = 3

// BatchDeleter handles deletion of stored objects.
type BatchDeleter struct {
	transport    transport.Transport
	governor     *retry.Governor
	maxBatchSize int
	parallelism  int
	namespaces   []string
}

// Option configures a BatchDeleter.
type Option func(*BatchDeleter)

// WithNamespaces restricts deletes to keys under one of the given prefixes.
func WithNamespaces(namespaces ...string) Option {
	return func(b *BatchDeleter) { b.namespaces = namespaces }
}

// New creates a BatchDeleter. parallelism below 1 means DefaultParallelism.
func New(t transport.Transport, g *retry.Governor, parallelism int, opts ...Option) *BatchDeleter {
	if parallelism < 1 {
		parallelism = DefaultParallelism
	}
	b := &BatchDeleter{
		transport:    t,
		governor:     g,
		maxBatchSize: transport.MaxDeleteBatch,
		parallelism:  parallelism,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Delete removes one object. Deleting a missing key succeeds.
func (b *BatchDeleter) Delete(ctx context.Context, key string) error {
	if err := validation.ValidateObjectKey(key, b.namespaces...); err != nil {
		return err
	}
	_, err := b.governor.Execute(ctx, "deleteObject", func(ctx context.Context) error {
		return b.transport.DeleteObject(ctx, key)
	})
	return err
}

// DeleteBatch removes keys and reports per-key outcomes. Invalid keys are
// reported as failures without being sent. The returned error is set only when
// ctx ended before every batch finished.
func (b *BatchDeleter) DeleteBatch(ctx context.Context, keys []string) (*uploadtypes.DeleteResult, error) {
	start := time.Now()
	result := &uploadtypes.DeleteResult{
		Deleted: make([]string, 0, len(keys)),
		Errors:  make([]uploadtypes.DeleteError, 0),
	}

	valid := make([]string, 0, len(keys))
	seen := make(map[string]bool, len(keys))
	for _, key := range keys {
		if seen[key] {
			continue
		}
		seen[key] = true
		if err := validation.ValidateObjectKey(key, b.namespaces...); err != nil {
			result.Errors = append(result.Errors, deleteError(key, err))
			continue
		}
		valid = append(valid, key)
	}

	batches := b.splitIntoBatches(valid, b.maxBatchSize)
	outcomes := make([]*uploadtypes.DeleteResult, len(batches))

	var g errgroup.Group
	g.SetLimit(b.parallelism)
	for i, batch := range batches {
		g.Go(func() error {
			outcomes[i] = b.deleteBatchDirect(ctx, batch)
			return nil
		})
	}
	_ = g.Wait()

	// merge in input order
	for _, o := range outcomes {
		result.Deleted = append(result.Deleted, o.Deleted...)
		result.Errors = append(result.Errors, o.Errors...)
	}
	result.Duration = time.Since(start)

	if err := ctx.Err(); err != nil {
		return result, errors.NewError("deleteBatch", errors.CodeCanceled, err)
	}
	return result, nil
}

// deleteBatchDirect handles a single batch request.
func (b *BatchDeleter) deleteBatchDirect(ctx context.Context, keys []string) *uploadtypes.DeleteResult {
	result := &uploadtypes.DeleteResult{}

	failures, err := retry.Do(ctx, b.governor, "deleteObjects", func(ctx context.Context) ([]transport.DeleteFailure, error) {
		return b.transport.DeleteObjects(ctx, keys)
	})
	if err != nil {
		for _, key := range keys {
			result.Errors = append(result.Errors, deleteError(key, err))
		}
		return result
	}

	failed := make(map[string]bool, len(failures))
	for _, f := range failures {
		failed[f.Key] = true
		result.Errors = append(result.Errors, uploadtypes.DeleteError{
			Key:     f.Key,
			Code:    string(f.Code),
			Message: f.Message,
		})
	}
	for _, key := range keys {
		if !failed[key] {
			result.Deleted = append(result.Deleted, key)
		}
	}
	return result
}

// splitIntoBatches splits a slice into batches of specified size.
func (b *BatchDeleter) splitIntoBatches(keys []string, batchSize int) [][]string {
	batches := make([][]string, 0, (len(keys)+batchSize-1)/batchSize)

	for i := 0; i < len(keys); i += batchSize {
		end := min(i+batchSize, len(keys))
		batches = append(batches, keys[i:end])
	}

	return batches
}

func deleteError(key string, err error) uploadtypes.DeleteError {
	return uploadtypes.DeleteError{
		Key:     key,
		Code:    string(errors.CodeOf(err)),
		Message: err.Error(),
	}
}
