// Package progress aggregates per-part byte counts into upload progress and
// throttles delivery to the caller's sink.
package progress

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/uploadtypes"
)

// DefaultInterval is the minimum spacing between forwarded snapshots.
const DefaultInterval = 200 * time.Millisecond

// Gate forwards snapshots to a sink at most once per interval. The first and the
// final snapshot always pass. Snapshots older than the last forwarded one, or
// reporting fewer bytes, are dropped, so the sink only ever sees monotonic progress.
//
// Calls into the sink are serialized.
type Gate struct {
	sink    uploadtypes.ProgressSink
	limiter *rate.Limiter
	now     func() time.Time

	mu        sync.Mutex
	started   bool
	done      bool
	lastSeq   uint64
	lastBytes int64
}

// NewGate creates a gate in front of sink. A non-positive interval forwards every
// snapshot. A nil sink yields a gate that drops everything.
func NewGate(sink uploadtypes.ProgressSink, interval time.Duration) *Gate {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Gate{
		sink:    sink,
		limiter: rate.NewLimiter(limit, 1),
		now:     time.Now,
	}
}

// Offer submits a snapshot and reports whether it reached the sink.
func (g *Gate) Offer(s uploadtypes.ProgressSnapshot, final bool) bool {
	if g == nil || g.sink == nil {
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.done {
		return false
	}
	if g.started && (s.Sequence <= g.lastSeq || s.BytesTransferred < g.lastBytes) {
		return false
	}

	// the token is spent even when the snapshot bypasses the limiter
	allowed := g.limiter.AllowN(g.now(), 1)
	if g.started && !final && !allowed {
		return false
	}

	g.started = true
	g.done = final
	g.lastSeq = s.Sequence
	g.lastBytes = s.BytesTransferred
	g.sink.OnProgress(s)
	return true
}

// Done reports whether the final snapshot has been forwarded.
func (g *Gate) Done() bool {
	if g == nil {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.done
}
