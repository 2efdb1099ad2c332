// Package config loads the engine configuration from the environment.
//
// Variables use the S3UPLOAD_ prefix. A .env file in the working directory is
// read first; variables already set in the environment win over it.
package config

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/uploadtypes"
)

// Prefix is prepended to every variable name.
const Prefix = "S3UPLOAD"

// Millis is a duration read as whole milliseconds ("1500") or as a Go
// duration string ("1.5s").
type Millis time.Duration

// Decode implements envconfig.Decoder.
func (m *Millis) Decode(value string) error {
	value = strings.TrimSpace(value)
	if n, err := strconv.ParseInt(value, 10, 64); err == nil {
		*m = Millis(time.Duration(n) * time.Millisecond)
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: want milliseconds or a duration like 1.5s", value)
	}
	*m = Millis(d)
	return nil
}

// Duration returns m as a time.Duration.
func (m Millis) Duration() time.Duration {
	return time.Duration(m)
}

// Config is the complete environment configuration.
type Config struct {
	Bucket          string              `envconfig:"BUCKET" required:"true"`
	Region          string              `envconfig:"REGION" default:"us-east-1"`
	Endpoint        string              `envconfig:"ENDPOINT"`
	Backend         uploadtypes.Backend `envconfig:"BACKEND" default:"aws"`
	AccessKeyID     string              `envconfig:"ACCESS_KEY_ID"`
	SecretAccessKey string              `envconfig:"SECRET_ACCESS_KEY"`
	UsePathStyle    bool                `envconfig:"USE_PATH_STYLE" default:"false"`
	UseSSL          bool                `envconfig:"USE_SSL" default:"true"`

	MaxRetryAttempts int     `envconfig:"MAX_RETRY_ATTEMPTS" default:"3"`
	RetryBaseDelay   Millis  `envconfig:"RETRY_BASE_DELAY" default:"1000"`
	RetryMaxDelay    Millis  `envconfig:"RETRY_MAX_DELAY" default:"30000"`
	RetryMultiplier  float64 `envconfig:"RETRY_MULTIPLIER" default:"2"`
	RetryJitter      Millis  `envconfig:"RETRY_JITTER" default:"100"`
	OperationTimeout Millis  `envconfig:"OPERATION_TIMEOUT" default:"60000"`

	MultipartThreshold int64  `envconfig:"MULTIPART_THRESHOLD" default:"104857600"` // 100MB
	ChunkSize          int64  `envconfig:"CHUNK_SIZE" default:"10485760"`           // 10MB
	MaxConcurrentParts int    `envconfig:"MAX_CONCURRENT_PARTS" default:"3"`
	ProgressThrottle   Millis `envconfig:"PROGRESS_THROTTLE" default:"200"`

	BreakerThreshold int    `envconfig:"BREAKER_THRESHOLD" default:"5"`
	BreakerCooldown  Millis `envconfig:"BREAKER_COOLDOWN" default:"30s"`

	MaxObjectSize     int64    `envconfig:"MAX_OBJECT_SIZE" default:"5497558138880"` // 5TB
	KeyNamespaces     []string `envconfig:"KEY_NAMESPACES"`
	AllowedTypes      []string `envconfig:"ALLOWED_TYPES"`
	TrustDetectedType bool     `envconfig:"TRUST_DETECTED_TYPE" default:"false"`
	PresignExpiry     Millis   `envconfig:"PRESIGN_EXPIRY" default:"900s"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	NATSURL     string `envconfig:"NATS_URL"`
	NATSSubject string `envconfig:"NATS_SUBJECT" default:"uploads.completed"`
	NATSStream  string `envconfig:"NATS_STREAM" default:"UPLOADS"`

	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8080"`
}

// Load reads the dotenv files (".env" when none are named), then the
// environment, and validates the result. Missing dotenv files are ignored.
func Load(dotenv ...string) (*Config, error) {
	if err := godotenv.Load(dotenv...); err != nil && !stderrors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load dotenv: %w", err)
	}

	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values no client could run with. A chunk size below the
// store minimum is not an error; the client raises it and logs a warning.
func (c *Config) Validate() error {
	var errs []error
	switch c.Backend {
	case uploadtypes.BackendAWS, uploadtypes.BackendMinIO:
	default:
		errs = append(errs, fmt.Errorf("%s_BACKEND must be aws or minio, got %q", Prefix, c.Backend))
	}
	if c.Backend == uploadtypes.BackendMinIO && c.Endpoint == "" {
		errs = append(errs, fmt.Errorf("%s_ENDPOINT is required for the minio backend", Prefix))
	}
	if c.MaxRetryAttempts < 1 {
		errs = append(errs, fmt.Errorf("%s_MAX_RETRY_ATTEMPTS must be at least 1", Prefix))
	}
	if c.RetryMultiplier < 1 {
		errs = append(errs, fmt.Errorf("%s_RETRY_MULTIPLIER must be at least 1", Prefix))
	}
	if c.RetryBaseDelay < 0 || c.RetryMaxDelay < c.RetryBaseDelay {
		errs = append(errs, fmt.Errorf("%s_RETRY_MAX_DELAY must not be below %s_RETRY_BASE_DELAY", Prefix, Prefix))
	}
	if c.MultipartThreshold <= 0 {
		errs = append(errs, fmt.Errorf("%s_MULTIPART_THRESHOLD must be positive", Prefix))
	}
	if c.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("%s_CHUNK_SIZE must be positive", Prefix))
	}
	if c.MaxConcurrentParts < 1 {
		errs = append(errs, fmt.Errorf("%s_MAX_CONCURRENT_PARTS must be at least 1", Prefix))
	}
	return stderrors.Join(errs...)
}

// Options converts the configuration to client options.
func (c *Config) Options() []uploadtypes.Option {
	opts := []uploadtypes.Option{
		s3upload.WithBucket(c.Bucket),
		s3upload.WithRegion(c.Region),
		s3upload.WithEndpoint(c.Endpoint),
		s3upload.WithBackend(c.Backend),
		s3upload.WithPathStyle(c.UsePathStyle),
		s3upload.WithSSL(c.UseSSL),
		s3upload.WithMaxRetryAttempts(c.MaxRetryAttempts),
		s3upload.WithRetryBackoff(c.RetryBaseDelay.Duration(), c.RetryMaxDelay.Duration(),
			c.RetryMultiplier, c.RetryJitter.Duration()),
		s3upload.WithOperationTimeout(c.OperationTimeout.Duration()),
		s3upload.WithMultipartThreshold(c.MultipartThreshold),
		s3upload.WithChunkSize(c.ChunkSize),
		s3upload.WithMaxConcurrentParts(c.MaxConcurrentParts),
		s3upload.WithProgressThrottle(c.ProgressThrottle.Duration()),
		s3upload.WithBreaker(c.BreakerThreshold, c.BreakerCooldown.Duration()),
		s3upload.WithMaxObjectSize(c.MaxObjectSize),
		s3upload.WithTrustDetectedType(c.TrustDetectedType),
		s3upload.WithPresignExpiry(c.PresignExpiry.Duration()),
	}
	if c.AccessKeyID != "" {
		opts = append(opts, s3upload.WithCredentials(c.AccessKeyID, c.SecretAccessKey))
	}
	if len(c.KeyNamespaces) > 0 {
		opts = append(opts, s3upload.WithKeyNamespaces(c.KeyNamespaces...))
	}
	if len(c.AllowedTypes) > 0 {
		opts = append(opts, s3upload.WithAllowedTypes(c.AllowedTypes...))
	}
	return opts
}
