package retry

import (
	"sync"
	"time"

	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/errors"
)

// BreakerState is the state of a circuit breaker.
type BreakerState int

const (
	// StateClosed lets every attempt through
	StateClosed BreakerState = iota
	// StateOpen rejects attempts until the cool-down elapses
	StateOpen
	// StateHalfOpen lets a single trial attempt through
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures a circuit breaker.
type BreakerConfig struct {
	// Threshold is the number of consecutive failures that opens the breaker (default 5)
	Threshold int

	// Cooldown is how long the breaker stays open before a trial is allowed (default 30s)
	Cooldown time.Duration
}

// DefaultBreakerConfig returns the default breaker configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Threshold: 5,
		Cooldown:  30 * time.Second,
	}
}

// TransitionFunc is called after a breaker changes state.
type TransitionFunc func(target string, from, to BreakerState)

// Breaker tracks consecutive failures against one transport target.
//
// All state lives behind a single mutex. Listeners run after the mutex is
// released, so they may call back into the breaker.
type Breaker struct {
	target string
	cfg    BreakerConfig
	now    func() time.Time

	mu            sync.Mutex
	state         BreakerState
	failures      int
	openedAt      time.Time
	trialInFlight bool
	listeners     map[int]TransitionFunc
	nextListener  int
}

// NewBreaker creates a closed breaker for target. Zero config fields take defaults.
func NewBreaker(target string, cfg BreakerConfig) *Breaker {
	def := DefaultBreakerConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	return &Breaker{
		target:    target,
		cfg:       cfg,
		now:       time.Now,
		listeners: make(map[int]TransitionFunc),
	}
}

// Target returns the transport target the breaker guards.
func (b *Breaker) Target() string {
	return b.target
}

// State returns the current state.
func (b *Breaker) State() BreakerState {
	if b == nil {
		return StateClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// AddListener registers fn for state transitions and returns a function that
// removes it.
func (b *Breaker) AddListener(fn TransitionFunc) (remove func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextListener
	b.nextListener++
	b.listeners[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.listeners, id)
	}
}

// Allow reports whether an attempt may proceed. An open breaker whose cool-down
// has elapsed moves to half-open and admits exactly one trial.
func (b *Breaker) Allow() error {
	if b == nil {
		return nil
	}

	b.mu.Lock()
	var from BreakerState
	transitioned := false

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
			b.mu.Unlock()
			return b.openError()
		}
		from, transitioned = b.setState(StateHalfOpen)
		b.trialInFlight = true
	case StateHalfOpen:
		if b.trialInFlight {
			b.mu.Unlock()
			return b.openError()
		}
		b.trialInFlight = true
	}

	listeners := b.snapshotListeners(transitioned)
	b.mu.Unlock()

	b.notify(listeners, from, StateHalfOpen)
	return nil
}

// RecordSuccess records an attempt that reached the endpoint.
func (b *Breaker) RecordSuccess() {
	if b == nil {
		return
	}

	b.mu.Lock()
	var (
		from         BreakerState
		transitioned bool
	)
	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		from, transitioned = b.setState(StateClosed)
		b.failures = 0
		b.trialInFlight = false
	}
	listeners := b.snapshotListeners(transitioned)
	b.mu.Unlock()

	b.notify(listeners, from, StateClosed)
}

// RecordFailure records a retryable failure.
func (b *Breaker) RecordFailure() {
	if b == nil {
		return
	}

	b.mu.Lock()
	var (
		from         BreakerState
		transitioned bool
	)
	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.cfg.Threshold {
			from, transitioned = b.setState(StateOpen)
			b.openedAt = b.now()
		}
	case StateHalfOpen:
		from, transitioned = b.setState(StateOpen)
		b.openedAt = b.now()
		b.trialInFlight = false
	}
	listeners := b.snapshotListeners(transitioned)
	b.mu.Unlock()

	b.notify(listeners, from, StateOpen)
}

// Release frees a half-open trial slot without recording an outcome. Used when
// an attempt is canceled by its caller.
func (b *Breaker) Release() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateHalfOpen {
		b.trialInFlight = false
	}
}

// setState must be called with mu held.
func (b *Breaker) setState(to BreakerState) (BreakerState, bool) {
	from := b.state
	b.state = to
	return from, from != to
}

func (b *Breaker) snapshotListeners(transitioned bool) []TransitionFunc {
	if !transitioned || len(b.listeners) == 0 {
		return nil
	}
	out := make([]TransitionFunc, 0, len(b.listeners))
	for _, fn := range b.listeners {
		out = append(out, fn)
	}
	return out
}

func (b *Breaker) notify(listeners []TransitionFunc, from, to BreakerState) {
	for _, fn := range listeners {
		fn(b.target, from, to)
	}
}

func (b *Breaker) openError() error {
	return errors.Errorf("breaker", errors.CodeCircuitOpen, "circuit open for %s", b.target)
}

// Registry shares one breaker per transport target across the process.
type Registry struct {
	cfg BreakerConfig

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry creates an empty registry whose breakers use cfg.
func NewRegistry(cfg BreakerConfig) *Registry {
	return &Registry{
		cfg:      cfg,
		breakers: make(map[string]*Breaker),
	}
}

var defaultRegistry = NewRegistry(DefaultBreakerConfig())

// DefaultRegistry returns the process-wide registry.
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// Get returns the breaker for target, creating it on first use. cfg applies only
// when the breaker is created; pass the zero value to use the registry's config.
func (r *Registry) Get(target string, cfg BreakerConfig) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[target]; ok {
		return b
	}
	if cfg == (BreakerConfig{}) {
		cfg = r.cfg
	}
	b := NewBreaker(target, cfg)
	r.breakers[target] = b
	return b
}

// TargetKey identifies a transport target by endpoint and bucket.
func TargetKey(endpoint, bucket string) string {
	if endpoint == "" {
		endpoint = "aws"
	}
	return endpoint + "/" + bucket
}
