package s3upload

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/uploadtypes"
)

// WithBucket sets the bucket every operation targets. Required.
func WithBucket(bucket string) uploadtypes.Option {
	return func(c *uploadtypes.ClientConfig) {
		c.Bucket = bucket
	}
}

// WithRegion sets the store region.
// If not specified, the region from the AWS credential chain is used, falling
// back to us-east-1.
func WithRegion(region string) uploadtypes.Option {
	return func(c *uploadtypes.ClientConfig) {
		c.Region = region
	}
}

// WithEndpoint sets a custom endpoint URL.
// This is useful for S3-compatible services or local testing with LocalStack.
// The minio backend accepts the URL with or without a scheme.
func WithEndpoint(endpoint string) uploadtypes.Option {
	return func(c *uploadtypes.ClientConfig) {
		c.Endpoint = endpoint
	}
}

// WithBackend selects the client implementation. Default is BackendAWS.
func WithBackend(backend uploadtypes.Backend) uploadtypes.Option {
	return func(c *uploadtypes.ClientConfig) {
		c.Backend = backend
	}
}

// WithCredentials sets static credentials.
// Without them the AWS backend uses the default credential chain; the minio
// backend requires them.
func WithCredentials(accessKeyID, secretAccessKey string) uploadtypes.Option {
	return func(c *uploadtypes.ClientConfig) {
		c.AccessKeyID = accessKeyID
		c.SecretAccessKey = secretAccessKey
	}
}

// WithPathStyle forces path-style URLs instead of virtual-hosted style.
func WithPathStyle(usePathStyle bool) uploadtypes.Option {
	return func(c *uploadtypes.ClientConfig) {
		c.UsePathStyle = usePathStyle
	}
}

// WithSSL toggles TLS for the minio backend. Default is true.
func WithSSL(useSSL bool) uploadtypes.Option {
	return func(c *uploadtypes.ClientConfig) {
		c.UseSSL = useSSL
	}
}

// WithMaxRetryAttempts sets the total number of attempts per store call,
// including the first. Values below 1 are ignored.
func WithMaxRetryAttempts(attempts int) uploadtypes.Option {
	return func(c *uploadtypes.ClientConfig) {
		if attempts > 0 {
			c.MaxRetryAttempts = attempts
		}
	}
}

// WithRetryBackoff sets the exponential backoff parameters.
// The wait before retry n is min(maxDelay, base*multiplier^n) plus up to
// jitter of random delay.
func WithRetryBackoff(base, maxDelay time.Duration, multiplier float64, jitter time.Duration) uploadtypes.Option {
	return func(c *uploadtypes.ClientConfig) {
		if base > 0 {
			c.RetryBaseDelay = base
		}
		if maxDelay > 0 {
			c.RetryMaxDelay = maxDelay
		}
		if multiplier >= 1 {
			c.RetryMultiplier = multiplier
		}
		if jitter >= 0 {
			c.RetryJitter = jitter
		}
	}
}

// WithOperationTimeout bounds every single store call attempt.
func WithOperationTimeout(timeout time.Duration) uploadtypes.Option {
	return func(c *uploadtypes.ClientConfig) {
		if timeout > 0 {
			c.OperationTimeout = timeout
		}
	}
}

// WithMultipartThreshold sets the size from which uploads use a multipart session.
// Default is 100MB.
func WithMultipartThreshold(threshold int64) uploadtypes.Option {
	return func(c *uploadtypes.ClientConfig) {
		if threshold > 0 {
			c.MultipartThreshold = threshold
		}
	}
}

// WithChunkSize sets the multipart part size.
// Default is 10MB. Values below 5MB are raised to 5MB by New.
func WithChunkSize(chunkSize int64) uploadtypes.Option {
	return func(c *uploadtypes.ClientConfig) {
		if chunkSize > 0 {
			c.ChunkSize = chunkSize
		}
	}
}

// WithMaxConcurrentParts sets the number of parts uploaded at once. Default is 3.
func WithMaxConcurrentParts(n int) uploadtypes.Option {
	return func(c *uploadtypes.ClientConfig) {
		if n > 0 {
			c.MaxConcurrentParts = n
		}
	}
}

// WithProgressThrottle sets the minimum interval between progress callbacks.
func WithProgressThrottle(interval time.Duration) uploadtypes.Option {
	return func(c *uploadtypes.ClientConfig) {
		if interval >= 0 {
			c.ProgressThrottle = interval
		}
	}
}

// WithBreaker configures the circuit breaker guarding the endpoint.
// The breaker is shared by every client of the same endpoint and bucket in
// the process; the first client to create it decides its settings.
func WithBreaker(threshold int, cooldown time.Duration) uploadtypes.Option {
	return func(c *uploadtypes.ClientConfig) {
		c.BreakerThreshold = threshold
		c.BreakerCooldown = cooldown
	}
}

// WithMaxObjectSize rejects uploads larger than size before any network call.
func WithMaxObjectSize(size int64) uploadtypes.Option {
	return func(c *uploadtypes.ClientConfig) {
		if size > 0 {
			c.MaxObjectSize = size
		}
	}
}

// WithKeyNamespaces restricts object keys to the given top-level prefixes.
func WithKeyNamespaces(namespaces ...string) uploadtypes.Option {
	return func(c *uploadtypes.ClientConfig) {
		c.KeyNamespaces = append(c.KeyNamespaces, namespaces...)
	}
}

// WithAllowedTypes rejects payloads whose detected type is not listed.
func WithAllowedTypes(types ...string) uploadtypes.Option {
	return func(c *uploadtypes.ClientConfig) {
		c.AllowedTypes = append(c.AllowedTypes, types...)
	}
}

// WithTrustDetectedType stores the sniffed type instead of the declared one
// when they disagree.
func WithTrustDetectedType(trust bool) uploadtypes.Option {
	return func(c *uploadtypes.ClientConfig) {
		c.TrustDetectedType = trust
	}
}

// WithPresignExpiry sets the default lifetime of presigned URLs and POST policies.
func WithPresignExpiry(expiry time.Duration) uploadtypes.Option {
	return func(c *uploadtypes.ClientConfig) {
		if expiry > 0 {
			c.PresignExpiry = expiry
		}
	}
}

// WithCacheRules replaces the key prefix to cache class mapping.
func WithCacheRules(rules map[string]uploadtypes.CacheClass) uploadtypes.Option {
	return func(c *uploadtypes.ClientConfig) {
		c.CacheRules = rules
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) uploadtypes.Option {
	return func(c *uploadtypes.ClientConfig) {
		c.Logger = logger
	}
}

// WithMetricsRegistry registers the engine metrics with reg.
// Without it no metrics are recorded.
func WithMetricsRegistry(reg prometheus.Registerer) uploadtypes.Option {
	return func(c *uploadtypes.ClientConfig) {
		c.MetricsRegistry = reg
	}
}

// WithNotifier is told about every committed upload.
func WithNotifier(n uploadtypes.CompletionNotifier) uploadtypes.Option {
	return func(c *uploadtypes.ClientConfig) {
		c.Notifier = n
	}
}

// WithAWSConfig allows providing a custom AWS configuration.
// This overrides the default configuration loading behavior.
func WithAWSConfig(config *aws.Config) uploadtypes.Option {
	return func(c *uploadtypes.ClientConfig) {
		c.CustomAWSConfig = config
	}
}

// WithCustomHTTPClient sets the HTTP client used by either backend.
func WithCustomHTTPClient(client *http.Client) uploadtypes.Option {
	return func(c *uploadtypes.ClientConfig) {
		c.CustomHTTPClient = client
	}
}
