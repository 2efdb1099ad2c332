package multipart

import (
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/errors"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/internal/planner"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/internal/pool"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/internal/progress"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/internal/retry"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/internal/transport"
)

const (
	// DefaultConcurrency is the number of parts uploaded at once.
	DefaultConcurrency = 3

	// DefaultAbortTimeout bounds the abort call issued after a failure.
	DefaultAbortTimeout = 30 * time.Second
)

// Gauge is adjusted by the number of parts in flight. prometheus.Gauge satisfies it.
type Gauge interface {
	Add(delta float64)
}

type nopGauge struct{}

func (nopGauge) Add(float64) {}

// Request describes one multipart upload.
type Request struct {
	Key          string
	Body         io.Reader
	Plan         *planner.Plan
	ContentType  string
	CacheControl string
	Metadata     map[string]string

	// Progress receives per-part byte counts (optional)
	Progress *progress.Tracker
}

// Result describes a completed multipart upload.
type Result struct {
	UploadID  string
	ETag      string
	VersionID string
	Size      int64
	Parts     int
}

// Coordinator uploads payloads as multipart sessions.
type Coordinator struct {
	transport    transport.Transport
	governor     *retry.Governor
	concurrency  int
	abortTimeout time.Duration
	logger       *slog.Logger
	inFlight     Gauge
	pools        func(size int) *pool.ChunkPool

	// settled, when set, sees every session after Upload is done with it
	settled func(*Session)
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

// WithInFlightGauge reports the number of parts being uploaded.
func WithInFlightGauge(g Gauge) Option {
	return func(c *Coordinator) { c.inFlight = g }
}

// WithAbortTimeout bounds the abort call.
func WithAbortTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.abortTimeout = d }
}

// WithChunkPools replaces the shared chunk buffer pools.
func WithChunkPools(pools func(size int) *pool.ChunkPool) Option {
	return func(c *Coordinator) { c.pools = pools }
}

// New creates a coordinator. concurrency below 1 means DefaultConcurrency.
func New(t transport.Transport, g *retry.Governor, concurrency int, opts ...Option) *Coordinator {
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}
	c := &Coordinator{
		transport:    t,
		governor:     g,
		concurrency:  concurrency,
		abortTimeout: DefaultAbortTimeout,
		logger:       slog.Default(),
		inFlight:     nopGauge{},
		pools:        pool.ForSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Concurrency returns the maximum number of parts in flight.
func (c *Coordinator) Concurrency() int {
	return c.concurrency
}

// Upload runs the multipart session for req.
//
// Body is read sequentially; at most Concurrency chunk buffers are held at
// once. The first part that fails for good stops dispatch. In-flight parts are
// allowed to settle, then the session is aborted exactly once and the error
// returned is MULTIPART_ABORTED wrapping the part's error. Canceling ctx is
// handled the same way.
func (c *Coordinator) Upload(ctx context.Context, req *Request) (*Result, error) {
	if req.Plan == nil || req.Plan.Strategy != planner.StrategyMultipart {
		return nil, errors.Errorf("upload", errors.CodeInvalidRequest, "multipart upload needs a multipart plan").WithKey(req.Key)
	}
	if err := req.Plan.Validate(); err != nil {
		return nil, errors.NewObjectError("upload", req.Key, errors.CodeInvalidSize, err)
	}
	tracker := req.Progress
	if tracker == nil {
		tracker = progress.NewTracker(req.Plan.TotalSize, nil)
	}

	uploadID, err := retry.Do(ctx, c.governor, "createMultipartUpload", func(ctx context.Context) (string, error) {
		return c.transport.CreateMultipartUpload(ctx, &transport.CreateMultipartInput{
			Key:          req.Key,
			ContentType:  req.ContentType,
			CacheControl: req.CacheControl,
			Metadata:     req.Metadata,
		})
	})
	if err != nil {
		return nil, err
	}

	sess := newSession(req.Key, uploadID, req.Plan.Parts())
	logger := c.logger.With("key", req.Key, "upload_id", uploadID)
	logger.Debug("multipart session open", "parts", req.Plan.Parts(), "chunk_size", req.Plan.ChunkSize)

	// abort on any exit that leaves the session live, including a panic
	defer func() {
		if sess.live() {
			c.abort(ctx, sess, logger)
		}
		if c.settled != nil {
			c.settled(sess)
		}
	}()

	trigger := c.uploadParts(ctx, sess, req, tracker, logger)
	if trigger == nil {
		var res *Result
		res, trigger = c.complete(ctx, sess, req.Plan)
		if trigger == nil {
			logger.Debug("multipart session completed", "etag", res.ETag)
			return res, nil
		}
	}

	c.abort(ctx, sess, logger)
	return nil, errors.NewObjectError("upload", req.Key, errors.CodeMultipartAborted, trigger)
}

func (c *Coordinator) uploadParts(
	ctx context.Context,
	sess *Session,
	req *Request,
	tracker *progress.Tracker,
	logger *slog.Logger,
) error {
	var (
		wg      sync.WaitGroup
		once    sync.Once
		trigger error
		stop    = make(chan struct{})
	)
	fail := func(err error) {
		once.Do(func() {
			trigger = err
			close(stop)
		})
	}
	stopped := func() bool {
		select {
		case <-stop:
			return true
		default:
			return false
		}
	}

	slots := semaphore.NewWeighted(int64(c.concurrency))
	buffers := c.pools(int(req.Plan.ChunkSize))

	for _, chunk := range req.Plan.Chunks {
		if stopped() {
			break
		}
		if err := slots.Acquire(ctx, 1); err != nil {
			fail(errors.NewObjectError("uploadPart", req.Key, errors.CodeCanceled, err))
			break
		}
		if stopped() {
			slots.Release(1)
			break
		}

		buf := buffers.Get(int(chunk.Length))
		err := readChunk(req.Body, buf, req.Key, chunk, req.Plan.TotalSize)
		if err == nil && chunk.Index == len(req.Plan.Chunks)-1 {
			err = ExpectEnd(req.Body, req.Key, req.Plan.TotalSize)
		}
		if err != nil {
			buffers.Put(buf)
			slots.Release(1)
			fail(err)
			break
		}

		wg.Add(1)
		go func(chunk planner.Chunk, buf []byte) {
			defer wg.Done()
			defer slots.Release(1)
			defer buffers.Put(buf)

			c.inFlight.Add(1)
			defer c.inFlight.Add(-1)

			defer func() {
				if r := recover(); r != nil {
					tracker.Fail(chunk.PartNumber)
					logger.Error("part upload panicked", "part", chunk.PartNumber, "panic", r)
					fail(errors.Errorf("uploadPart", errors.CodeInternal,
						"part %d panicked: %v", chunk.PartNumber, r).WithKey(req.Key))
				}
			}()

			etag, err := c.uploadPart(ctx, sess, chunk, buf, tracker)
			if err == nil {
				err = sess.AddPart(chunk.PartNumber, etag)
			}
			if err != nil {
				tracker.Fail(chunk.PartNumber)
				logger.Warn("part failed", "part", chunk.PartNumber, "error", err)
				fail(err)
				return
			}
			tracker.Complete(chunk.PartNumber, chunk.Length)
		}(chunk, buf)
	}

	wg.Wait()

	if trigger == nil && ctx.Err() != nil {
		return errors.NewObjectError("upload", req.Key, errors.CodeCanceled, ctx.Err())
	}
	return trigger
}

func (c *Coordinator) uploadPart(
	ctx context.Context,
	sess *Session,
	chunk planner.Chunk,
	buf []byte,
	tracker *progress.Tracker,
) (string, error) {
	return retry.Do(ctx, c.governor, "uploadPart", func(ctx context.Context) (string, error) {
		etag, err := c.transport.UploadPart(ctx, &transport.PartInput{
			Key:        sess.Key(),
			UploadID:   sess.UploadID(),
			PartNumber: chunk.PartNumber,
			Body:       tracker.Reader(chunk.PartNumber, bytes.NewReader(buf)),
			Size:       chunk.Length,
		})
		if err != nil {
			return "", err
		}
		if etag == "" {
			return "", errors.Errorf("uploadPart", errors.CodeInternal, "part %d returned no entity tag", chunk.PartNumber)
		}
		return etag, nil
	})
}

func (c *Coordinator) complete(ctx context.Context, sess *Session, plan *planner.Plan) (*Result, error) {
	parts, err := sess.beginComplete()
	if err != nil {
		return nil, errors.NewObjectError("completeMultipartUpload", sess.Key(), errors.CodeInternal, err)
	}

	out, err := retry.Do(ctx, c.governor, "completeMultipartUpload", func(ctx context.Context) (*transport.WriteResult, error) {
		return c.transport.CompleteMultipartUpload(ctx, sess.Key(), sess.UploadID(), parts)
	})
	if err != nil {
		return nil, err
	}
	sess.finishComplete()

	return &Result{
		UploadID:  sess.UploadID(),
		ETag:      out.ETag,
		VersionID: out.VersionID,
		Size:      plan.TotalSize,
		Parts:     len(parts),
	}, nil
}

// abort issues the remote abort once. It runs on a context detached from the
// caller's cancellation so a canceled upload still cleans up.
func (c *Coordinator) abort(ctx context.Context, sess *Session, logger *slog.Logger) {
	if !sess.beginAbort() {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.abortTimeout)
	defer cancel()

	if err := c.transport.AbortMultipartUpload(ctx, sess.Key(), sess.UploadID()); err != nil {
		logger.Error("abort multipart upload failed", "error", err)
	} else {
		logger.Info("multipart session aborted")
	}
	sess.finishAbort()
}

// readChunk fills buf with the chunk's bytes. A body that ends early is an
// INVALID_SIZE error.
func readChunk(body io.Reader, buf []byte, key string, chunk planner.Chunk, total int64) error {
	n, err := io.ReadFull(body, buf)
	if err == nil {
		return nil
	}
	if stderrors.Is(err, io.EOF) || stderrors.Is(err, io.ErrUnexpectedEOF) {
		return errors.Errorf("readChunk", errors.CodeInvalidSize,
			"body ended after %d bytes, expected %d", chunk.Offset+int64(n), total).WithKey(key)
	}
	return errors.NewObjectError("readChunk", key, errors.CodeInternal, err)
}

// ExpectEnd fails with INVALID_SIZE when body still has data after size bytes.
func ExpectEnd(body io.Reader, key string, size int64) error {
	var extra [1]byte
	_, err := io.ReadFull(body, extra[:])
	switch {
	case err == nil:
		return errors.Errorf("readChunk", errors.CodeInvalidSize,
			"body is longer than the declared %d bytes", size).WithKey(key)
	case stderrors.Is(err, io.EOF):
		return nil
	default:
		return errors.NewObjectError("readChunk", key, errors.CodeInternal, err)
	}
}
