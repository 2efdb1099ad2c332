package upload

import (
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/errors"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/internal/cachepolicy"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/internal/planner"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/internal/retry"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/internal/testutil"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/internal/transfer/multipart"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/uploadtypes"
)

var pngHeader = []byte("\x89PNG\r\n\x1A\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01")

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type sleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleeper) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []uploadtypes.UploadCompleted
	err    error
}

func (n *fakeNotifier) UploadCompleted(_ context.Context, e uploadtypes.UploadCompleted) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
	return n.err
}

type outcome struct {
	strategy string
	outcome  string
	size     int64
}

type fakeRecorder struct {
	mu       sync.Mutex
	outcomes []outcome
}

func (r *fakeRecorder) UploadFinished(strategy, result string, size int64, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome{strategy, result, size})
}

type fixture struct {
	store    *testutil.MemoryStore
	sleeper  *sleeper
	notifier *fakeNotifier
	recorder *fakeRecorder
	uploader *Uploader
}

func defaultConfig() Config {
	return Config{
		Threshold: planner.DefaultThreshold,
		ChunkSize: planner.DefaultChunkSize,
	}
}

func newFixture(cfg Config) *fixture {
	f := &fixture{
		store:    testutil.NewMemoryStore(),
		sleeper:  &sleeper{},
		notifier: &fakeNotifier{},
		recorder: &fakeRecorder{},
	}
	gov := retry.New(retry.DefaultPolicy(), nil,
		retry.WithLogger(quietLogger()),
		retry.WithSleep(f.sleeper.sleep),
	)
	coord := multipart.New(f.store, gov, 2, multipart.WithLogger(quietLogger()))
	f.uploader = New(f.store, gov, coord, cachepolicy.NewResolver(nil), cfg,
		WithLogger(quietLogger()),
		WithNotifier(f.notifier),
		WithRecorder(f.recorder),
		WithIDs(func() string { return "op-1" }),
	)
	return f
}

func TestUploader_Upload_SingleWithTransientFailure(t *testing.T) {
	f := newFixture(defaultConfig())
	f.store.Inject = func(_ context.Context, call testutil.Call) error {
		if call.Op == "putObject" && call.Attempt == 1 {
			return errors.NewError(call.Op, errors.CodeUnavailable, stderrors.New("503 Service Unavailable")).WithStatus(503)
		}
		return nil
	}
	data := append(append([]byte{}, pngHeader...), testutil.GenerateRandomData(int(4*planner.MiB))...)

	res, err := f.uploader.Upload(context.Background(), uploadtypes.UploadRequest{
		Key:         "originals/photo.png",
		Body:        bytes.NewReader(data),
		ContentType: "image/png",
		Metadata:    map[string]string{"owner": "alice"},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, f.store.Calls("putObject"))
	require.Len(t, f.sleeper.delays, 1)
	assert.Greater(t, f.sleeper.delays[0], time.Duration(0))

	assert.Equal(t, "single", res.Strategy)
	assert.Equal(t, 1, res.Parts)
	assert.Equal(t, int64(len(data)), res.Size)
	assert.Equal(t, testutil.CalculateETag(data), res.ETag)
	assert.Equal(t, cachepolicy.DirectiveOriginal, res.CacheControl)

	obj, ok := f.store.Object("originals/photo.png")
	require.True(t, ok)
	assert.Equal(t, data, obj.Data)
	assert.Equal(t, "image/png", obj.ContentType)
	assert.Equal(t, cachepolicy.DirectiveOriginal, obj.CacheControl)
	assert.Equal(t, "AES256", obj.Encryption)
	assert.Equal(t, map[string]string{"owner": "alice"}, obj.Metadata)
}

func TestUploader_Upload_Multipart(t *testing.T) {
	cfg := defaultConfig()
	cfg.Threshold = 5 * planner.MiB
	cfg.ChunkSize = planner.MinChunkSize
	f := newFixture(cfg)

	recorder := &testutil.ProgressRecorder{}
	data := testutil.GenerateRandomData(int(11 * planner.MiB))
	clear(data[:64]) // no recognizable signature

	res, err := f.uploader.Upload(context.Background(), uploadtypes.UploadRequest{
		Key:      "derived/video.bin",
		Body:     io.MultiReader(bytes.NewReader(data)),
		Size:     int64(len(data)),
		Progress: recorder,
	})
	require.NoError(t, err)

	assert.Equal(t, "multipart", res.Strategy)
	assert.Equal(t, 3, res.Parts)
	assert.Equal(t, DefaultContentType, res.ContentType)
	assert.Equal(t, testutil.MultipartETag(
		data[:5*planner.MiB], data[5*planner.MiB:10*planner.MiB], data[10*planner.MiB:],
	), res.ETag)
	assert.Zero(t, f.store.OpenUploads())

	obj, ok := f.store.Object("derived/video.bin")
	require.True(t, ok)
	assert.Equal(t, cachepolicy.DirectiveDerived, obj.CacheControl)

	last, ok := recorder.Last()
	require.True(t, ok)
	assert.InDelta(t, 100.0, last.Percent, 0.001)
	assert.True(t, recorder.Monotonic())

	require.Len(t, f.recorder.outcomes, 1)
	assert.Equal(t, outcome{"multipart", OutcomeSuccess, int64(len(data))}, f.recorder.outcomes[0])
}

func TestUploader_Upload_ContentType(t *testing.T) {
	tests := []struct {
		name     string
		declared string
		trust    bool
		want     string
		warned   bool
	}{
		{name: "png declared as jpeg keeps declared type", declared: "image/jpeg", want: "image/jpeg", warned: true},
		{name: "png declared as jpeg with trusted detection", declared: "image/jpeg", trust: true, want: "image/png", warned: true},
		{name: "undeclared uses detected type", declared: "", want: "image/png", warned: true},
		{name: "matching type", declared: "image/png", want: "image/png"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			cfg.TrustDetectedType = tt.trust
			f := newFixture(cfg)

			res, err := f.uploader.Upload(context.Background(), uploadtypes.UploadRequest{
				Key:         "tmp/image",
				Body:        bytes.NewReader(pngHeader),
				ContentType: tt.declared,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.ContentType)
			assert.Equal(t, tt.warned, len(res.Warnings) > 0)

			obj, ok := f.store.Object("tmp/image")
			require.True(t, ok)
			assert.Equal(t, tt.want, obj.ContentType)
			assert.Equal(t, cachepolicy.DirectiveTemporary, obj.CacheControl)
		})
	}
}

func TestUploader_Upload_RejectedBeforeNetwork(t *testing.T) {
	tests := []struct {
		name string
		cfg  func(*Config)
		req  uploadtypes.UploadRequest
		want errors.Code
	}{
		{
			name: "path traversal",
			req:  uploadtypes.UploadRequest{Key: "../etc/passwd", Body: strings.NewReader("x")},
			want: errors.CodeInvalidKey,
		},
		{
			name: "outside namespaces",
			cfg:  func(c *Config) { c.Namespaces = []string{"uploads/"} },
			req:  uploadtypes.UploadRequest{Key: "other/a.txt", Body: strings.NewReader("x")},
			want: errors.CodeInvalidKey,
		},
		{
			name: "missing body",
			req:  uploadtypes.UploadRequest{Key: "a.txt"},
			want: errors.CodeInvalidRequest,
		},
		{
			name: "unknown size",
			req:  uploadtypes.UploadRequest{Key: "a.txt", Body: io.MultiReader(strings.NewReader("x"))},
			want: errors.CodeInvalidSize,
		},
		{
			name: "too large",
			cfg:  func(c *Config) { c.MaxObjectSize = 4 },
			req:  uploadtypes.UploadRequest{Key: "a.txt", Body: strings.NewReader("hello")},
			want: errors.CodeFileTooLarge,
		},
		{
			name: "script in svg",
			req: uploadtypes.UploadRequest{
				Key:         "a.svg",
				Body:        strings.NewReader(`<svg xmlns="http://www.w3.org/2000/svg"><script>alert(1)</script></svg>`),
				ContentType: "image/svg+xml",
			},
			want: errors.CodeValidationFailed,
		},
		{
			name: "type outside allow list",
			cfg:  func(c *Config) { c.AllowedTypes = []string{"image/jpeg"} },
			req:  uploadtypes.UploadRequest{Key: "a.png", Body: bytes.NewReader(pngHeader), ContentType: "image/png"},
			want: errors.CodeValidationFailed,
		},
		{
			name: "blocked declared type",
			req:  uploadtypes.UploadRequest{Key: "a.jar", Body: strings.NewReader("x"), ContentType: "application/java-archive"},
			want: errors.CodeValidationFailed,
		},
		{
			name: "reserved metadata key",
			req: uploadtypes.UploadRequest{
				Key:      "a.txt",
				Body:     strings.NewReader("x"),
				Metadata: map[string]string{"x-amz-meta-owner": "alice"},
			},
			want: errors.CodeInvalidRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			if tt.cfg != nil {
				tt.cfg(&cfg)
			}
			f := newFixture(cfg)

			res, err := f.uploader.Upload(context.Background(), tt.req)
			assert.Nil(t, res)
			assert.Equal(t, tt.want, errors.CodeOf(err))
			assert.Zero(t, f.store.Calls("putObject"))
			assert.Zero(t, f.store.Calls("createMultipartUpload"))
			assert.Empty(t, f.notifier.events)
		})
	}
}

func TestUploader_Upload_ShortBody(t *testing.T) {
	f := newFixture(defaultConfig())

	_, err := f.uploader.Upload(context.Background(), uploadtypes.UploadRequest{
		Key:  "a.txt",
		Body: strings.NewReader("short"),
		Size: 100,
	})
	assert.Equal(t, errors.CodeInvalidSize, errors.CodeOf(err))
	assert.Zero(t, f.store.Calls("putObject"))

	require.Len(t, f.recorder.outcomes, 1)
	assert.Equal(t, string(errors.CodeInvalidSize), f.recorder.outcomes[0].outcome)
}

func TestUploader_Upload_Notifies(t *testing.T) {
	t.Run("event carries the committed object", func(t *testing.T) {
		f := newFixture(defaultConfig())

		res, err := f.uploader.Upload(context.Background(), uploadtypes.UploadRequest{
			Key:         "documents/report.txt",
			Body:        strings.NewReader("quarterly report"),
			ContentType: "text/plain",
		})
		require.NoError(t, err)

		require.Len(t, f.notifier.events, 1)
		e := f.notifier.events[0]
		assert.Equal(t, "documents/report.txt", e.Key)
		assert.Equal(t, res.ETag, e.ETag)
		assert.Equal(t, int64(16), e.Size)
		assert.Equal(t, "single", e.Strategy)
		assert.Equal(t, "op-1", e.OperationID)
		assert.Equal(t, cachepolicy.DirectiveDocument, e.CacheControl)
		assert.False(t, e.CompletedAt.IsZero())
	})

	t.Run("notification failure does not fail the upload", func(t *testing.T) {
		f := newFixture(defaultConfig())
		f.notifier.err = stderrors.New("nats: no responders available for request")

		_, err := f.uploader.Upload(context.Background(), uploadtypes.UploadRequest{
			Key:  "a.txt",
			Body: strings.NewReader("x"),
		})
		require.NoError(t, err)
		assert.Len(t, f.notifier.events, 1)
	})

	t.Run("failed upload is not announced", func(t *testing.T) {
		f := newFixture(defaultConfig())
		f.store.Inject = func(_ context.Context, call testutil.Call) error {
			return errors.NewError(call.Op, errors.CodeAuthentication, stderrors.New("403"))
		}

		_, err := f.uploader.Upload(context.Background(), uploadtypes.UploadRequest{
			Key:  "a.txt",
			Body: strings.NewReader("x"),
		})
		assert.Equal(t, errors.CodeAuthentication, errors.CodeOf(err))
		assert.Empty(t, f.notifier.events)
		assert.Equal(t, 1, f.store.Calls("putObject"))
	})
}

func TestUploader_Upload_Overwrite(t *testing.T) {
	cfg := defaultConfig()
	cfg.Threshold = 5 * planner.MiB
	cfg.ChunkSize = planner.MinChunkSize
	f := newFixture(cfg)

	first := testutil.GenerateRandomData(int(6 * planner.MiB))
	clear(first[:64])
	second := []byte("replacement")

	_, err := f.uploader.Upload(context.Background(), uploadtypes.UploadRequest{Key: "k", Body: bytes.NewReader(first)})
	require.NoError(t, err)
	_, err = f.uploader.Upload(context.Background(), uploadtypes.UploadRequest{Key: "k", Body: bytes.NewReader(second)})
	require.NoError(t, err)

	obj, ok := f.store.Object("k")
	require.True(t, ok)
	assert.Equal(t, second, obj.Data)
	assert.Zero(t, f.store.OpenUploads())
}

func TestUploader_Upload_IdenticalContentTwice(t *testing.T) {
	tests := []struct {
		name     string
		size     int
		strategy string
	}{
		{name: "single", size: 1024, strategy: "single"},
		{name: "multipart", size: int(6 * planner.MiB), strategy: "multipart"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			cfg.Threshold = 5 * planner.MiB
			cfg.ChunkSize = planner.MinChunkSize
			f := newFixture(cfg)

			data := testutil.GenerateRandomData(tt.size)
			clear(data[:64])

			first, err := f.uploader.Upload(context.Background(), uploadtypes.UploadRequest{Key: "k", Body: bytes.NewReader(data)})
			require.NoError(t, err)
			second, err := f.uploader.Upload(context.Background(), uploadtypes.UploadRequest{Key: "k", Body: bytes.NewReader(data)})
			require.NoError(t, err)

			assert.Equal(t, tt.strategy, first.Strategy)
			assert.Equal(t, first.Key, second.Key)
			assert.Equal(t, first.ETag, second.ETag)
			assert.Zero(t, f.store.OpenUploads())

			obj, ok := f.store.Object("k")
			require.True(t, ok)
			assert.Equal(t, data, obj.Data)
		})
	}
}

func TestUploader_Upload_LongBody(t *testing.T) {
	tests := []struct {
		name      string
		threshold int64
		size      int
	}{
		{name: "single", threshold: planner.DefaultThreshold, size: 1024},
		{name: "multipart", threshold: 5 * planner.MiB, size: int(6 * planner.MiB)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			cfg.Threshold = tt.threshold
			cfg.ChunkSize = planner.MinChunkSize
			f := newFixture(cfg)

			data := testutil.GenerateRandomData(tt.size)
			clear(data[:64])

			_, err := f.uploader.Upload(context.Background(), uploadtypes.UploadRequest{
				Key:  "k",
				Body: io.MultiReader(bytes.NewReader(data), strings.NewReader("trailing")),
				Size: int64(tt.size),
			})
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrInvalidSize)
			assert.Zero(t, f.store.Calls("putObject"))
			assert.Zero(t, f.store.Calls("completeMultipartUpload"))
			assert.Zero(t, f.store.OpenUploads())

			_, ok := f.store.Object("k")
			assert.False(t, ok)
		})
	}
}
