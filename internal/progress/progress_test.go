package progress

import (
	"bytes"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/uploadtypes"
)

type recordingSink struct {
	mu        sync.Mutex
	snapshots []uploadtypes.ProgressSnapshot
}

func (r *recordingSink) OnProgress(s uploadtypes.ProgressSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, s)
}

func (r *recordingSink) all() []uploadtypes.ProgressSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uploadtypes.ProgressSnapshot(nil), r.snapshots...)
}

type stepClock struct {
	now time.Time
}

func (c *stepClock) Now() time.Time { return c.now }

func (c *stepClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func snap(seq uint64, n int64) uploadtypes.ProgressSnapshot {
	return uploadtypes.ProgressSnapshot{Sequence: seq, BytesTransferred: n, TotalBytes: 100}
}

func newTestGate(interval time.Duration) (*Gate, *recordingSink, *stepClock) {
	sink := &recordingSink{}
	clock := &stepClock{now: time.Unix(1700000000, 0)}
	g := NewGate(sink, interval)
	g.now = clock.Now
	return g, sink, clock
}

func TestGate_Offer(t *testing.T) {
	tests := []struct {
		name string
		want func(t *testing.T, g *Gate, sink *recordingSink, clock *stepClock)
	}{
		{
			name: "first snapshot always passes",
			want: func(t *testing.T, g *Gate, sink *recordingSink, clock *stepClock) {
				assert.True(t, g.Offer(snap(1, 0), false))
				assert.Len(t, sink.all(), 1)
			},
		},
		{
			name: "snapshots inside the interval are dropped",
			want: func(t *testing.T, g *Gate, sink *recordingSink, clock *stepClock) {
				require.True(t, g.Offer(snap(1, 0), false))
				clock.Advance(50 * time.Millisecond)
				assert.False(t, g.Offer(snap(2, 10), false))
				clock.Advance(200 * time.Millisecond)
				assert.True(t, g.Offer(snap(3, 20), false))
			},
		},
		{
			name: "final snapshot bypasses the limiter",
			want: func(t *testing.T, g *Gate, sink *recordingSink, clock *stepClock) {
				require.True(t, g.Offer(snap(1, 0), false))
				assert.True(t, g.Offer(snap(2, 100), true))
				assert.True(t, g.Done())
				assert.False(t, g.Offer(snap(3, 100), false), "nothing after final")
			},
		},
		{
			name: "stale sequence is dropped",
			want: func(t *testing.T, g *Gate, sink *recordingSink, clock *stepClock) {
				require.True(t, g.Offer(snap(5, 50), false))
				clock.Advance(time.Second)
				assert.False(t, g.Offer(snap(4, 60), false))
				assert.False(t, g.Offer(snap(5, 60), false))
			},
		},
		{
			name: "regressed bytes are dropped",
			want: func(t *testing.T, g *Gate, sink *recordingSink, clock *stepClock) {
				require.True(t, g.Offer(snap(1, 50), false))
				clock.Advance(time.Second)
				assert.False(t, g.Offer(snap(2, 40), false))
				assert.False(t, g.Offer(snap(3, 40), true))
				assert.False(t, g.Done())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, sink, clock := newTestGate(200 * time.Millisecond)
			tt.want(t, g, sink, clock)
		})
	}
}

func TestGate_NilSink(t *testing.T) {
	g := NewGate(nil, time.Millisecond)
	assert.False(t, g.Offer(snap(1, 1), true))

	var nilGate *Gate
	assert.False(t, nilGate.Offer(snap(1, 1), true))
	assert.False(t, nilGate.Done())
}

func TestTracker_Aggregates(t *testing.T) {
	sink := &recordingSink{}
	tr := NewTracker(30, NewGate(sink, 0))

	tr.Start()
	_, err := io.Copy(io.Discard, tr.Reader(1, bytes.NewReader(make([]byte, 10))))
	require.NoError(t, err)
	_, err = io.Copy(io.Discard, tr.Reader(2, bytes.NewReader(make([]byte, 10))))
	require.NoError(t, err)

	s := tr.Snapshot()
	assert.Equal(t, int64(20), s.BytesTransferred)

	tr.Complete(1, 10)
	tr.Complete(2, 10)
	_, err = io.Copy(io.Discard, tr.Reader(3, bytes.NewReader(make([]byte, 10))))
	require.NoError(t, err)
	tr.Complete(3, 10)
	tr.Finish()

	got := sink.all()
	require.NotEmpty(t, got)
	last := got[len(got)-1]
	assert.Equal(t, int64(30), last.BytesTransferred)
	assert.InDelta(t, 100.0, last.Percent, 0.001)

	for i := 1; i < len(got); i++ {
		assert.Greater(t, got[i].Sequence, got[i-1].Sequence)
		assert.GreaterOrEqual(t, got[i].BytesTransferred, got[i-1].BytesTransferred)
	}
}

func TestTracker_RetryDoesNotRegress(t *testing.T) {
	sink := &recordingSink{}
	tr := NewTracker(20, NewGate(sink, 0))

	_, err := io.Copy(io.Discard, tr.Reader(1, bytes.NewReader(make([]byte, 15))))
	require.NoError(t, err)
	tr.Fail(1)

	// second attempt of the same part restarts from zero
	r := tr.Reader(1, bytes.NewReader(make([]byte, 15)))
	buf := make([]byte, 5)
	_, err = r.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, int64(5), tr.Snapshot().BytesTransferred)

	got := sink.all()
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i].BytesTransferred, got[i-1].BytesTransferred)
	}
	assert.Equal(t, int64(15), got[len(got)-1].BytesTransferred)
}

func TestTracker_SeekResetsCount(t *testing.T) {
	tr := NewTracker(10, nil)

	r := tr.Reader(1, bytes.NewReader(make([]byte, 10)))
	rs, ok := r.(io.ReadSeeker)
	require.True(t, ok)

	_, err := io.Copy(io.Discard, rs)
	require.NoError(t, err)
	assert.Equal(t, int64(10), tr.Snapshot().BytesTransferred)

	_, err = rs.Seek(0, io.SeekStart)
	require.NoError(t, err)
	assert.Zero(t, tr.Snapshot().BytesTransferred)
}

func TestTracker_PlainReaderIsNotSeeker(t *testing.T) {
	tr := NewTracker(3, nil)
	_, ok := tr.Reader(1, io.LimitReader(bytes.NewReader([]byte("abc")), 3)).(io.Seeker)
	assert.False(t, ok)
}

func TestTracker_ConcurrentParts(t *testing.T) {
	sink := &recordingSink{}
	const parts, size = 8, 4096
	tr := NewTracker(parts*size, NewGate(sink, 0))

	var wg sync.WaitGroup
	for p := int32(1); p <= parts; p++ {
		wg.Add(1)
		go func(p int32) {
			defer wg.Done()
			_, _ = io.Copy(io.Discard, tr.Reader(p, bytes.NewReader(make([]byte, size))))
			tr.Complete(p, size)
		}(p)
	}
	wg.Wait()
	tr.Finish()

	got := sink.all()
	for i := 1; i < len(got); i++ {
		assert.Greater(t, got[i].Sequence, got[i-1].Sequence)
		assert.GreaterOrEqual(t, got[i].BytesTransferred, got[i-1].BytesTransferred)
	}
	assert.Equal(t, int64(parts*size), got[len(got)-1].BytesTransferred)
}
