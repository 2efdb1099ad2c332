// Package upload runs one upload end to end: request validation, content
// sniffing, planning, then a single PUT or a multipart session.
//
// Nothing touches the network until the key, size, metadata and payload head
// have been checked.
package upload

import (
	"bufio"
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/errors"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/internal/cachepolicy"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/internal/planner"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/internal/progress"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/internal/retry"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/internal/transfer/multipart"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/internal/transport"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/internal/validation"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/uploadtypes"
)

// DefaultContentType is stored when neither the caller nor the payload names a type.
const DefaultContentType = "application/octet-stream"

// OutcomeSuccess is reported for committed uploads. Failures are reported with
// their error code.
const OutcomeSuccess = "success"

// Config holds the upload limits and policies.
type Config struct {
	Threshold         int64
	ChunkSize         int64
	MaxObjectSize     int64
	Namespaces        []string
	AllowedTypes      []string
	TrustDetectedType bool
	ProgressInterval  time.Duration
}

// Recorder observes finished uploads.
type Recorder interface {
	UploadFinished(strategy, outcome string, size int64, took time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) UploadFinished(string, string, int64, time.Duration) {}

// Uploader validates and dispatches uploads.
type Uploader struct {
	transport   transport.Transport
	governor    *retry.Governor
	coordinator *multipart.Coordinator
	resolver    *cachepolicy.Resolver
	cfg         Config

	logger   *slog.Logger
	notifier uploadtypes.CompletionNotifier
	recorder Recorder
	newID    func() string
	now      func() time.Time
}

// Option configures an Uploader.
type Option func(*Uploader)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(u *Uploader) { u.logger = logger }
}

// WithNotifier sets the completion notifier.
func WithNotifier(n uploadtypes.CompletionNotifier) Option {
	return func(u *Uploader) { u.notifier = n }
}

// WithRecorder sets the upload metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(u *Uploader) { u.recorder = r }
}

// WithIDs replaces the operation ID generator.
func WithIDs(newID func() string) Option {
	return func(u *Uploader) { u.newID = newID }
}

// New creates an Uploader.
func New(
	t transport.Transport,
	g *retry.Governor,
	coordinator *multipart.Coordinator,
	resolver *cachepolicy.Resolver,
	cfg Config,
	opts ...Option,
) *Uploader {
	u := &Uploader{
		transport:   t,
		governor:    g,
		coordinator: coordinator,
		resolver:    resolver,
		cfg:         cfg,
		logger:      slog.Default(),
		recorder:    nopRecorder{},
		newID:       uuid.NewString,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// prepared is a request that passed every local check.
type prepared struct {
	key          string
	body         io.Reader
	size         int64
	contentType  string
	cacheControl string
	metadata     map[string]string
	plan         *planner.Plan
	warnings     []string
}

// Upload stores req.Body under req.Key.
func (u *Uploader) Upload(ctx context.Context, req uploadtypes.UploadRequest) (*uploadtypes.UploadResult, error) {
	start := time.Now()
	opID := u.newID()
	logger := u.logger.With("op_id", opID, "key", req.Key)

	p, err := u.prepare(req)
	if err != nil {
		logger.Warn("upload rejected", "error", err)
		u.recorder.UploadFinished("none", string(errors.CodeOf(err)), 0, time.Since(start))
		return nil, err
	}
	strategy := string(p.plan.Strategy)
	logger = logger.With("strategy", strategy, "size", p.size)
	for _, w := range p.warnings {
		logger.Info("content validation warning", "warning", w)
	}

	tracker := progress.NewTracker(p.size, progress.NewGate(req.Progress, u.cfg.ProgressInterval))
	tracker.Start()

	var out *transport.WriteResult
	if p.plan.Strategy == planner.StrategySingle {
		out, err = u.single(ctx, p, tracker)
	} else {
		var res *multipart.Result
		res, err = u.coordinator.Upload(ctx, &multipart.Request{
			Key:          p.key,
			Body:         p.body,
			Plan:         p.plan,
			ContentType:  p.contentType,
			CacheControl: p.cacheControl,
			Metadata:     p.metadata,
			Progress:     tracker,
		})
		if res != nil {
			out = &transport.WriteResult{ETag: res.ETag, VersionID: res.VersionID}
		}
	}
	took := time.Since(start)
	if err != nil {
		logger.Warn("upload failed", "error", err, "duration", took)
		u.recorder.UploadFinished(strategy, string(errors.CodeOf(err)), p.size, took)
		return nil, err
	}
	tracker.Finish()

	result := &uploadtypes.UploadResult{
		Key:          p.key,
		Size:         p.size,
		ETag:         out.ETag,
		VersionID:    out.VersionID,
		ContentType:  p.contentType,
		CacheControl: p.cacheControl,
		Strategy:     strategy,
		Parts:        p.plan.Parts(),
		Warnings:     p.warnings,
		Duration:     took,
	}
	u.recorder.UploadFinished(strategy, OutcomeSuccess, p.size, took)
	logger.Info("upload completed", "etag", out.ETag, "parts", result.Parts, "duration", took)

	u.notify(ctx, logger, opID, result)
	return result, nil
}

// prepare runs every check that needs no network and builds the plan.
func (u *Uploader) prepare(req uploadtypes.UploadRequest) (*prepared, error) {
	if err := validation.ValidateObjectKey(req.Key, u.cfg.Namespaces...); err != nil {
		return nil, err
	}
	if req.Body == nil {
		return nil, errors.Errorf("upload", errors.CodeInvalidRequest, "request has no body").WithKey(req.Key)
	}
	if err := validation.ValidateContentType(req.ContentType); err != nil {
		return nil, err
	}
	metadata := validation.SanitizeMetadata(req.Metadata)
	if err := validation.ValidateMetadata(metadata); err != nil {
		return nil, err
	}

	size := req.Size
	if size == 0 {
		if l, ok := req.Body.(interface{ Len() int }); ok {
			size = int64(l.Len())
		}
	}
	if size <= 0 {
		return nil, errors.Errorf("upload", errors.CodeInvalidSize, "payload size must be positive, got %d", size).WithKey(req.Key)
	}
	if u.cfg.MaxObjectSize > 0 && size > u.cfg.MaxObjectSize {
		return nil, errors.Errorf("upload", errors.CodeFileTooLarge,
			"payload of %d bytes exceeds the %d byte limit", size, u.cfg.MaxObjectSize).WithKey(req.Key)
	}

	body := bufio.NewReaderSize(req.Body, validation.ScanWindow)
	head, err := body.Peek(validation.ScanWindow)
	if err != nil && !stderrors.Is(err, io.EOF) {
		return nil, errors.NewObjectError("upload", req.Key, errors.CodeInternal, err)
	}
	check := validation.ValidateContent(head, req.ContentType, u.cfg.AllowedTypes)
	if !check.Safe {
		return nil, errors.Errorf("validateContent", errors.CodeValidationFailed, "%s", strings.Join(check.Warnings, "; ")).
			WithKey(req.Key)
	}

	plan, err := planner.Build(size, u.cfg.Threshold, u.cfg.ChunkSize)
	if err != nil {
		return nil, err
	}
	_, directive := u.resolver.Resolve(req.Key, req.CacheClass)

	return &prepared{
		key:          req.Key,
		body:         body,
		size:         size,
		contentType:  u.storedType(check),
		cacheControl: directive,
		metadata:     metadata,
		plan:         plan,
		warnings:     check.Warnings,
	}, nil
}

// storedType picks the Content-Type written to the store.
func (u *Uploader) storedType(check validation.Result) string {
	switch {
	case check.Declared == "" && check.Detected != "":
		return check.Detected
	case !check.Match && check.Detected != "" && u.cfg.TrustDetectedType:
		return check.Detected
	case check.Declared != "":
		return check.Declared
	default:
		return DefaultContentType
	}
}

// single buffers the payload so every attempt sends it from the start.
func (u *Uploader) single(ctx context.Context, p *prepared, tracker *progress.Tracker) (*transport.WriteResult, error) {
	buf := make([]byte, p.size)
	if n, err := io.ReadFull(p.body, buf); err != nil {
		if stderrors.Is(err, io.EOF) || stderrors.Is(err, io.ErrUnexpectedEOF) {
			return nil, errors.Errorf("upload", errors.CodeInvalidSize,
				"body ended after %d bytes, expected %d", n, p.size).WithKey(p.key)
		}
		return nil, errors.NewObjectError("upload", p.key, errors.CodeInternal, err)
	}
	if err := multipart.ExpectEnd(p.body, p.key, p.size); err != nil {
		return nil, err
	}

	out, err := retry.Do(ctx, u.governor, "putObject", func(ctx context.Context) (*transport.WriteResult, error) {
		return u.transport.PutObject(ctx, &transport.PutInput{
			Key:          p.key,
			Body:         tracker.Reader(1, bytes.NewReader(buf)),
			Size:         p.size,
			ContentType:  p.contentType,
			CacheControl: p.cacheControl,
			Metadata:     p.metadata,
		})
	})
	if err != nil {
		tracker.Fail(1)
		return nil, err
	}
	tracker.Complete(1, p.size)
	return out, nil
}

func (u *Uploader) notify(ctx context.Context, logger *slog.Logger, opID string, res *uploadtypes.UploadResult) {
	if u.notifier == nil {
		return
	}
	event := uploadtypes.UploadCompleted{
		Key:          res.Key,
		Size:         res.Size,
		ETag:         res.ETag,
		ContentType:  res.ContentType,
		Strategy:     res.Strategy,
		CompletedAt:  u.now().UTC(),
		OperationID:  opID,
		CacheControl: res.CacheControl,
	}
	if err := u.notifier.UploadCompleted(ctx, event); err != nil {
		logger.Warn("completion notification failed", "error", err)
	}
}
