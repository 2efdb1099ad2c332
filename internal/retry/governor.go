// Package retry wraps single transport operations with classified retries,
// exponential backoff with jitter, per-attempt timeouts and a circuit breaker.
package retry

import (
	"context"
	stderrors "errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/errors"
)

// Classification is the retry decision for one attempt outcome.
type Classification string

const (
	ClassSuccess   Classification = "success"
	ClassRetryable Classification = "retryable"
	ClassFatal     Classification = "fatal"
	ClassCanceled  Classification = "canceled"
)

// Classifier maps an attempt error to a Classification.
type Classifier func(err error) Classification

// DefaultClassifier classifies by error code: network, timeout, rate limiting and
// 5xx are retryable; cancellation is reported separately; everything else is fatal.
func DefaultClassifier(err error) Classification {
	if err == nil {
		return ClassSuccess
	}
	code := codeOf(err)
	switch {
	case code == errors.CodeCanceled:
		return ClassCanceled
	case errors.IsRetryable(code):
		return ClassRetryable
	default:
		return ClassFatal
	}
}

func codeOf(err error) errors.Code {
	var e *errors.Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	if code, ok := errors.CodeForNetwork(err); ok {
		return code
	}
	return errors.CodeInternal
}

// Policy holds the retry parameters.
type Policy struct {
	// MaxAttempts is the total number of attempts including the first
	MaxAttempts int

	// BaseDelay is the delay before the first retry
	BaseDelay time.Duration

	// MaxDelay caps the exponential part of the delay
	MaxDelay time.Duration

	// Multiplier is the exponential growth factor
	Multiplier float64

	// Jitter is the upper bound of the random delay added to every wait
	Jitter time.Duration

	// OperationTimeout bounds every single attempt
	OperationTimeout time.Duration
}

// DefaultPolicy returns the default retry policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:      3,
		BaseDelay:        time.Second,
		MaxDelay:         30 * time.Second,
		Multiplier:       2,
		Jitter:           100 * time.Millisecond,
		OperationTimeout: 60 * time.Second,
	}
}

// NewBackOff returns the policy's exponential schedule without jitter. It never
// stops on its own; MaxAttempts bounds the retries.
func (p Policy) NewBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.Multiplier = p.Multiplier
	b.MaxInterval = p.MaxDelay
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Delay returns the wait before retry n (zero-based) without jitter.
func (p Policy) Delay(n int) time.Duration {
	b := p.NewBackOff()
	d := min(b.NextBackOff(), p.MaxDelay)
	for i := 0; i < n && d < p.MaxDelay; i++ {
		d = min(b.NextBackOff(), p.MaxDelay)
	}
	return d
}

// State is the retry bookkeeping of one governed operation.
type State struct {
	Attempts           int
	CumulativeDelay    time.Duration
	LastClassification Classification
}

// AttemptEvent describes one finished attempt.
type AttemptEvent struct {
	Operation      string
	Attempt        int
	Delay          time.Duration
	Duration       time.Duration
	Classification Classification
	Err            error
}

// Observer receives attempt events. It must not block.
type Observer interface {
	ObserveAttempt(event AttemptEvent)
}

// Governor executes operations under a retry policy and a shared breaker.
type Governor struct {
	policy   Policy
	breaker  *Breaker
	classify Classifier
	logger   *slog.Logger
	observer Observer
	sleep    func(ctx context.Context, d time.Duration) error
	jitter   func(limit time.Duration) time.Duration
}

// Option configures a Governor.
type Option func(*Governor)

// WithClassifier replaces the default classifier.
func WithClassifier(c Classifier) Option {
	return func(g *Governor) { g.classify = c }
}

// WithLogger sets the logger for per-attempt records.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Governor) { g.logger = logger }
}

// WithObserver sets the attempt observer.
func WithObserver(o Observer) Option {
	return func(g *Governor) { g.observer = o }
}

// WithSleep replaces the backoff wait.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(g *Governor) { g.sleep = sleep }
}

// WithJitter replaces the jitter source.
func WithJitter(jitter func(limit time.Duration) time.Duration) Option {
	return func(g *Governor) { g.jitter = jitter }
}

// New creates a Governor. A nil breaker disables circuit breaking.
func New(policy Policy, breaker *Breaker, opts ...Option) *Governor {
	def := DefaultPolicy()
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = def.MaxAttempts
	}
	if policy.Multiplier < 1 {
		policy.Multiplier = def.Multiplier
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = def.MaxDelay
	}
	if policy.BaseDelay < 0 {
		policy.BaseDelay = 0
	}

	g := &Governor{
		policy:   policy,
		breaker:  breaker,
		classify: DefaultClassifier,
		logger:   slog.Default(),
		sleep:    sleepContext,
		jitter:   randomJitter,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Policy returns the effective policy.
func (g *Governor) Policy() Policy {
	return g.policy
}

// Breaker returns the breaker guarding the governor's target, or nil.
func (g *Governor) Breaker() *Breaker {
	return g.breaker
}

// Execute runs op until it succeeds, fails fatally, exhausts the policy, is
// rejected by the breaker, or ctx ends. Every attempt gets its own timeout.
//
// Errors returned: the fatal error itself, CANCELED when ctx ends, CIRCUIT_OPEN
// when the breaker rejects an attempt, RETRY_EXHAUSTED wrapping the last
// retryable error.
func (g *Governor) Execute(ctx context.Context, name string, op func(ctx context.Context) error) (State, error) {
	var (
		st      State
		lastErr error
		sched   = g.policy.NewBackOff()
	)

	for n := 0; n < g.policy.MaxAttempts; n++ {
		var delay time.Duration
		if n > 0 {
			delay = min(sched.NextBackOff(), g.policy.MaxDelay) + g.jitter(g.policy.Jitter)
			st.CumulativeDelay += delay
			if err := g.sleep(ctx, delay); err != nil {
				return st, canceled(ctx, name, lastErr)
			}
		}
		if ctx.Err() != nil {
			return st, canceled(ctx, name, lastErr)
		}

		if err := g.breaker.Allow(); err != nil {
			g.logger.Warn("attempt rejected by open breaker",
				"op", name, "attempt", n+1, "target", g.breaker.Target())
			if lastErr != nil {
				err = lastErr
			}
			return st, errors.NewError(name, errors.CodeCircuitOpen, err)
		}

		st.Attempts++
		start := time.Now()
		err := g.attempt(ctx, op)
		class := g.classify(err)
		if err != nil && ctx.Err() != nil {
			class = ClassCanceled
		}
		st.LastClassification = class
		g.record(name, n+1, delay, time.Since(start), class, err)

		switch class {
		case ClassSuccess:
			g.breaker.RecordSuccess()
			return st, nil
		case ClassCanceled:
			g.breaker.Release()
			return st, canceled(ctx, name, err)
		case ClassFatal:
			// the endpoint answered
			g.breaker.RecordSuccess()
			return st, tag(name, err)
		default:
			g.breaker.RecordFailure()
			lastErr = tag(name, err)
		}
	}

	return st, errors.NewError(name, errors.CodeRetryExhausted, lastErr)
}

func (g *Governor) attempt(ctx context.Context, op func(ctx context.Context) error) (err error) {
	if g.policy.OperationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.policy.OperationTimeout)
		defer cancel()
	}
	return op(ctx)
}

func (g *Governor) record(name string, attempt int, delay, took time.Duration, class Classification, err error) {
	if g.observer != nil {
		g.observer.ObserveAttempt(AttemptEvent{
			Operation:      name,
			Attempt:        attempt,
			Delay:          delay,
			Duration:       took,
			Classification: class,
			Err:            err,
		})
	}

	attrs := []any{
		"op", name,
		"attempt", attempt,
		"max_attempts", g.policy.MaxAttempts,
		"delay", delay,
		"duration", took,
		"classification", string(class),
	}
	switch class {
	case ClassSuccess, ClassCanceled:
		g.logger.Debug("attempt finished", attrs...)
	default:
		g.logger.Warn("attempt failed", append(attrs, "error", err)...)
	}
}

// Do runs op through g and returns its value.
func Do[T any](ctx context.Context, g *Governor, name string, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	_, err := g.Execute(ctx, name, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

func canceled(ctx context.Context, name string, cause error) error {
	err := ctx.Err()
	if err == nil {
		err = context.Canceled
	}
	if cause != nil && !stderrors.Is(cause, err) {
		return errors.NewError(name, errors.CodeCanceled, stderrors.Join(err, cause))
	}
	return errors.NewError(name, errors.CodeCanceled, err)
}

// tag makes sure err carries a taxonomy code.
func tag(name string, err error) error {
	var e *errors.Error
	if stderrors.As(err, &e) {
		return err
	}
	return errors.NewError(name, codeOf(err), err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(limit) + 1))
}
