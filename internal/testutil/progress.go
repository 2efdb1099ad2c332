package testutil

import (
	"sync"

	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/uploadtypes"
)

// ProgressRecorder is a uploadtypes.ProgressSink that keeps every snapshot.
type ProgressRecorder struct {
	mu        sync.Mutex
	snapshots []uploadtypes.ProgressSnapshot
}

var _ uploadtypes.ProgressSink = (*ProgressRecorder)(nil)

// OnProgress records a snapshot.
func (r *ProgressRecorder) OnProgress(s uploadtypes.ProgressSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, s)
}

// Snapshots returns a copy of the recorded snapshots.
func (r *ProgressRecorder) Snapshots() []uploadtypes.ProgressSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uploadtypes.ProgressSnapshot(nil), r.snapshots...)
}

// Last returns the most recent snapshot.
func (r *ProgressRecorder) Last() (uploadtypes.ProgressSnapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.snapshots) == 0 {
		return uploadtypes.ProgressSnapshot{}, false
	}
	return r.snapshots[len(r.snapshots)-1], true
}

// Monotonic reports whether sequence numbers strictly increase and byte counts
// never decrease across the recorded snapshots.
func (r *ProgressRecorder) Monotonic() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := 1; i < len(r.snapshots); i++ {
		prev, cur := r.snapshots[i-1], r.snapshots[i]
		if cur.Sequence <= prev.Sequence || cur.BytesTransferred < prev.BytesTransferred {
			return false
		}
	}
	return true
}
