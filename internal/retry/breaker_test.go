package retry

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/errors"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBreaker(threshold int, cooldown time.Duration) (*Breaker, *fakeClock) {
	clock := newFakeClock()
	b := NewBreaker("http://localhost:4566/assets", BreakerConfig{Threshold: threshold, Cooldown: cooldown})
	b.now = clock.Now
	return b, clock
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(3, time.Second)

	for i := 0; i < 2; i++ {
		require.NoError(t, b.Allow())
		b.RecordFailure()
		assert.Equal(t, StateClosed, b.State())
	}

	require.NoError(t, b.Allow())
	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())

	err := b.Allow()
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrCircuitOpen)
}

func TestBreaker_SuccessResetsConsecutiveCount(t *testing.T) {
	b, _ := newTestBreaker(3, time.Second)

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()

	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpen(t *testing.T) {
	tests := []struct {
		name string
		want func(t *testing.T, b *Breaker, clock *fakeClock)
	}{
		{
			name: "stays open during cool-down",
			want: func(t *testing.T, b *Breaker, clock *fakeClock) {
				clock.Advance(29 * time.Second)
				assert.Error(t, b.Allow())
				assert.Equal(t, StateOpen, b.State())
			},
		},
		{
			name: "admits exactly one trial after cool-down",
			want: func(t *testing.T, b *Breaker, clock *fakeClock) {
				clock.Advance(30 * time.Second)
				require.NoError(t, b.Allow())
				assert.Equal(t, StateHalfOpen, b.State())
				assert.ErrorIs(t, b.Allow(), errors.ErrCircuitOpen)
			},
		},
		{
			name: "trial success closes",
			want: func(t *testing.T, b *Breaker, clock *fakeClock) {
				clock.Advance(30 * time.Second)
				require.NoError(t, b.Allow())
				b.RecordSuccess()
				assert.Equal(t, StateClosed, b.State())
				assert.NoError(t, b.Allow())
			},
		},
		{
			name: "trial failure reopens with a fresh cool-down",
			want: func(t *testing.T, b *Breaker, clock *fakeClock) {
				clock.Advance(30 * time.Second)
				require.NoError(t, b.Allow())
				b.RecordFailure()
				assert.Equal(t, StateOpen, b.State())

				clock.Advance(29 * time.Second)
				assert.Error(t, b.Allow())
				clock.Advance(time.Second)
				assert.NoError(t, b.Allow())
			},
		},
		{
			name: "release frees the trial slot without a transition",
			want: func(t *testing.T, b *Breaker, clock *fakeClock) {
				clock.Advance(30 * time.Second)
				require.NoError(t, b.Allow())
				b.Release()
				assert.Equal(t, StateHalfOpen, b.State())
				assert.NoError(t, b.Allow())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, clock := newTestBreaker(5, 30*time.Second)
			for i := 0; i < 5; i++ {
				b.RecordFailure()
			}
			require.Equal(t, StateOpen, b.State())
			tt.want(t, b, clock)
		})
	}
}

func TestBreaker_Listeners(t *testing.T) {
	b, clock := newTestBreaker(1, time.Second)

	type transition struct{ from, to BreakerState }
	var got []transition
	remove := b.AddListener(func(target string, from, to BreakerState) {
		assert.Equal(t, "http://localhost:4566/assets", target)
		// listeners run outside the lock
		_ = b.State()
		got = append(got, transition{from, to})
	})

	b.RecordFailure()
	clock.Advance(time.Second)
	require.NoError(t, b.Allow())
	b.RecordSuccess()

	assert.Equal(t, []transition{
		{StateClosed, StateOpen},
		{StateOpen, StateHalfOpen},
		{StateHalfOpen, StateClosed},
	}, got)

	remove()
	b.RecordFailure()
	assert.Len(t, got, 3)
}

func TestBreaker_NilIsClosed(t *testing.T) {
	var b *Breaker
	assert.NoError(t, b.Allow())
	b.RecordFailure()
	b.RecordSuccess()
	b.Release()
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_ConcurrentUse(t *testing.T) {
	b, _ := newTestBreaker(1000, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if b.Allow() != nil {
					continue
				}
				if (i+j)%2 == 0 {
					b.RecordFailure()
				} else {
					b.RecordSuccess()
				}
			}
		}(i)
	}
	wg.Wait()

	assert.Contains(t, []BreakerState{StateClosed, StateOpen}, b.State())
}

func TestRegistry_SharesBreakerPerTarget(t *testing.T) {
	r := NewRegistry(BreakerConfig{Threshold: 2, Cooldown: time.Second})

	a := r.Get(TargetKey("http://minio:9000", "assets"), BreakerConfig{})
	b := r.Get(TargetKey("http://minio:9000", "assets"), BreakerConfig{Threshold: 10})
	c := r.Get(TargetKey("", "assets"), BreakerConfig{})

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Equal(t, "aws/assets", c.Target())

	a.RecordFailure()
	a.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", BreakerState(42).String())
}
