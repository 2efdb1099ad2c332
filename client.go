package s3upload

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"

	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/errors"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/internal/cachepolicy"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/internal/metrics"
	deleteop "github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/internal/operations/delete"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/internal/operations/list"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/internal/operations/upload"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/internal/planner"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/internal/retry"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/internal/transfer/multipart"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/internal/transport"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/internal/transport/miniotransport"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/internal/transport/s3transport"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/internal/validation"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/uploadtypes"
)

const (
	// DefaultRegion is used when neither the options nor the credential chain name one.
	DefaultRegion = "us-east-1"

	// DefaultMaxObjectSize is the store's single object limit (5 TiB).
	DefaultMaxObjectSize int64 = 5 << 40

	// DefaultProgressThrottle is the minimum interval between progress callbacks.
	DefaultProgressThrottle = 200 * time.Millisecond
)

// Client uploads to and manages objects in one bucket.
//
// A Client is safe for concurrent use. Every store call goes through the retry
// governor and the circuit breaker of the client's endpoint; that breaker is
// shared by all clients in the process that target the same endpoint and bucket.
type Client struct {
	transport transport.Transport
	breaker   *retry.Breaker
	governor  *retry.Governor
	resolver  *cachepolicy.Resolver
	uploader  *upload.Uploader
	deleter   *deleteop.BatchDeleter
	lister    *list.Lister
	metrics   *metrics.Collector
	cfg       uploadtypes.ClientConfig
	logger    *slog.Logger

	closeOnce sync.Once
	unlisten  func()
}

// DefaultConfig returns the configuration New starts from before applying options.
func DefaultConfig() uploadtypes.ClientConfig {
	policy := retry.DefaultPolicy()
	breaker := retry.DefaultBreakerConfig()
	return uploadtypes.ClientConfig{
		Backend:            uploadtypes.BackendAWS,
		UseSSL:             true,
		MaxRetryAttempts:   policy.MaxAttempts,
		RetryBaseDelay:     policy.BaseDelay,
		RetryMaxDelay:      policy.MaxDelay,
		RetryMultiplier:    policy.Multiplier,
		RetryJitter:        policy.Jitter,
		OperationTimeout:   policy.OperationTimeout,
		MultipartThreshold: planner.DefaultThreshold,
		ChunkSize:          planner.DefaultChunkSize,
		MaxConcurrentParts: multipart.DefaultConcurrency,
		ProgressThrottle:   DefaultProgressThrottle,
		BreakerThreshold:   breaker.Threshold,
		BreakerCooldown:    breaker.Cooldown,
		MaxObjectSize:      DefaultMaxObjectSize,
		PresignExpiry:      transport.DefaultPresignExpiry,
	}
}

// New creates a client for the configured backend.
//
// The AWS backend loads credentials with the default credential chain unless
// WithCredentials or WithAWSConfig is given. No request is made until the first
// operation.
//
// Example:
//
//	client, err := s3upload.New(ctx,
//	    s3upload.WithBucket("media"),
//	    s3upload.WithRegion("eu-west-1"),
//	    s3upload.WithKeyNamespaces("originals", "thumbnails"),
//	)
func New(ctx context.Context, opts ...uploadtypes.Option) (*Client, error) {
	cfg, err := buildConfig(opts)
	if err != nil {
		return nil, err
	}

	var t transport.Transport
	switch cfg.Backend {
	case uploadtypes.BackendAWS:
		t, err = newS3Transport(ctx, &cfg)
	case uploadtypes.BackendMinIO:
		t, err = newMinIOTransport(&cfg)
	default:
		err = errors.Errorf("newClient", errors.CodeInvalidRequest, "unknown backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	return newClient(t, cfg, retry.DefaultRegistry())
}

// NewWithTransport creates a client over an existing transport.
// This is primarily used for testing with in-memory stores.
func NewWithTransport(t transport.Transport, opts ...uploadtypes.Option) (*Client, error) {
	cfg, err := buildConfig(opts)
	if err != nil {
		return nil, err
	}
	return newClient(t, cfg, retry.DefaultRegistry())
}

func buildConfig(opts []uploadtypes.Option) (uploadtypes.ClientConfig, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Backend == "" {
		cfg.Backend = uploadtypes.BackendAWS
	}

	if err := validation.ValidateBucketName(cfg.Bucket); err != nil {
		return cfg, errors.NewError("newClient", errors.CodeInvalidRequest, err)
	}
	if cfg.ChunkSize < planner.MinChunkSize {
		cfg.Logger.Warn("chunk size below the store minimum, raised",
			"requested", cfg.ChunkSize, "chunk_size", planner.MinChunkSize)
		cfg.ChunkSize = planner.MinChunkSize
	}
	return cfg, nil
}

func newS3Transport(ctx context.Context, cfg *uploadtypes.ClientConfig) (transport.Transport, error) {
	var awsCfg aws.Config
	if cfg.CustomAWSConfig != nil {
		awsCfg = *cfg.CustomAWSConfig
	} else {
		var loadOpts []func(*config.LoadOptions) error
		if cfg.AccessKeyID != "" {
			loadOpts = append(loadOpts, config.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
		}
		if cfg.CustomHTTPClient != nil {
			loadOpts = append(loadOpts, config.WithHTTPClient(cfg.CustomHTTPClient))
		}

		var err error
		awsCfg, err = config.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, errors.NewError("newClient", errors.CodeAuthentication, err)
		}
	}

	// retries belong to the governor
	awsCfg.Retryer = func() aws.Retryer { return aws.NopRetryer{} }
	awsCfg.RetryMaxAttempts = 1

	if cfg.Region != "" {
		awsCfg.Region = cfg.Region
	} else if awsCfg.Region == "" {
		awsCfg.Region = DefaultRegion
	}
	cfg.Region = awsCfg.Region

	return s3transport.NewFromConfig(awsCfg, cfg.Bucket, cfg.Endpoint, cfg.UsePathStyle), nil
}

func newMinIOTransport(cfg *uploadtypes.ClientConfig) (transport.Transport, error) {
	if cfg.Endpoint == "" {
		return nil, errors.Errorf("newClient", errors.CodeInvalidRequest, "the minio backend needs an endpoint")
	}
	endpoint, useSSL := cfg.Endpoint, cfg.UseSSL
	if strings.Contains(endpoint, "://") {
		u, err := url.Parse(endpoint)
		if err != nil {
			return nil, errors.NewError("newClient", errors.CodeInvalidRequest, err)
		}
		endpoint, useSSL = u.Host, u.Scheme == "https"
	}
	if cfg.Region == "" {
		cfg.Region = DefaultRegion
	}

	var rt http.RoundTripper
	if cfg.CustomHTTPClient != nil {
		rt = cfg.CustomHTTPClient.Transport
	}
	return miniotransport.New(miniotransport.Config{
		Endpoint:        endpoint,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
		Region:          cfg.Region,
		Bucket:          cfg.Bucket,
		UseSSL:          useSSL,
		Transport:       rt,
	})
}

func newClient(t transport.Transport, cfg uploadtypes.ClientConfig, registry *retry.Registry) (*Client, error) {
	logger := cfg.Logger.With("target", t.Target())

	var collector *metrics.Collector
	if cfg.MetricsRegistry != nil {
		var err error
		collector, err = metrics.New(metrics.DefaultNamespace, cfg.MetricsRegistry)
		if err != nil {
			return nil, errors.NewError("newClient", errors.CodeInternal, err)
		}
	}

	breaker := registry.Get(t.Target(), retry.BreakerConfig{
		Threshold: cfg.BreakerThreshold,
		Cooldown:  cfg.BreakerCooldown,
	})
	unlisten := breaker.AddListener(func(target string, from, to retry.BreakerState) {
		logger.Warn("circuit breaker transition", "from", from.String(), "to", to.String())
		collector.BreakerTransition(target, from, to)
	})

	governorOpts := []retry.Option{retry.WithLogger(logger)}
	coordinatorOpts := []multipart.Option{multipart.WithLogger(logger)}
	uploadOpts := []upload.Option{upload.WithLogger(logger)}
	if collector != nil {
		governorOpts = append(governorOpts, retry.WithObserver(collector))
		coordinatorOpts = append(coordinatorOpts, multipart.WithInFlightGauge(collector.PartsInFlight()))
		uploadOpts = append(uploadOpts, upload.WithRecorder(collector))
	}
	if cfg.Notifier != nil {
		uploadOpts = append(uploadOpts, upload.WithNotifier(cfg.Notifier))
	}

	governor := retry.New(retry.Policy{
		MaxAttempts:      cfg.MaxRetryAttempts,
		BaseDelay:        cfg.RetryBaseDelay,
		MaxDelay:         cfg.RetryMaxDelay,
		Multiplier:       cfg.RetryMultiplier,
		Jitter:           cfg.RetryJitter,
		OperationTimeout: cfg.OperationTimeout,
	}, breaker, governorOpts...)

	resolver := cachepolicy.NewResolver(cfg.CacheRules)
	coordinator := multipart.New(t, governor, cfg.MaxConcurrentParts, coordinatorOpts...)

	return &Client{
		transport: t,
		breaker:   breaker,
		governor:  governor,
		resolver:  resolver,
		uploader: upload.New(t, governor, coordinator, resolver, upload.Config{
			Threshold:         cfg.MultipartThreshold,
			ChunkSize:         cfg.ChunkSize,
			MaxObjectSize:     cfg.MaxObjectSize,
			Namespaces:        cfg.KeyNamespaces,
			AllowedTypes:      cfg.AllowedTypes,
			TrustDetectedType: cfg.TrustDetectedType,
			ProgressInterval:  cfg.ProgressThrottle,
		}, uploadOpts...),
		deleter:  deleteop.New(t, governor, deleteop.DefaultParallelism, deleteop.WithNamespaces(cfg.KeyNamespaces...)),
		lister:   list.New(t, governor, transport.MaxListKeys),
		metrics:  collector,
		cfg:      cfg,
		logger:   logger,
		unlisten: unlisten,
	}, nil
}

// Bucket returns the bucket the client targets.
func (c *Client) Bucket() string {
	return c.cfg.Bucket
}

// Close detaches the client from the shared circuit breaker.
// It does not close the configured notifier.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		if c.unlisten != nil {
			c.unlisten()
		}
	})
	return nil
}
