package progress

import (
	"io"
	"sync"

	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/uploadtypes"
)

// Tracker sums the bytes of completed parts and the partial bytes of parts in
// flight. Each change produces a snapshot with a fresh sequence number that is
// offered to the gate.
type Tracker struct {
	total int64
	gate  *Gate

	mu        sync.Mutex
	completed int64
	inflight  map[int32]int64
	seq       uint64
}

// NewTracker creates a tracker for a payload of total bytes. gate may be nil.
func NewTracker(total int64, gate *Gate) *Tracker {
	return &Tracker{
		total:    total,
		gate:     gate,
		inflight: make(map[int32]int64),
	}
}

// Start emits the initial zero snapshot.
func (t *Tracker) Start() {
	t.gate.Offer(t.update(nil), false)
}

// Reader wraps r so bytes read count toward part. Each call starts a new attempt
// for part and discards the bytes counted by the previous one. The returned reader
// implements io.Seeker when r does.
func (t *Tracker) Reader(part int32, r io.Reader) io.Reader {
	t.mu.Lock()
	t.inflight[part] = 0
	t.mu.Unlock()

	cr := &countingReader{r: r, part: part, t: t}
	if rs, ok := r.(io.ReadSeeker); ok {
		return &countingReadSeeker{countingReader: cr, s: rs}
	}
	return cr
}

// Complete records part as finished with n bytes.
func (t *Tracker) Complete(part int32, n int64) {
	s := t.update(func() {
		delete(t.inflight, part)
		t.completed += n
	})
	t.gate.Offer(s, false)
}

// Fail drops the in-flight bytes of part. Progress reported to the sink never
// goes backwards; the regressed snapshot is discarded by the gate.
func (t *Tracker) Fail(part int32) {
	t.update(func() { delete(t.inflight, part) })
}

// Finish emits the final snapshot. It reports total bytes only when every byte
// was accounted as completed.
func (t *Tracker) Finish() {
	t.gate.Offer(t.update(nil), true)
}

// Snapshot returns the current progress without offering it.
func (t *Tracker) Snapshot() uploadtypes.ProgressSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tracker) add(part int32, n int64) {
	s := t.update(func() { t.inflight[part] += n })
	t.gate.Offer(s, false)
}

func (t *Tracker) setInflight(part int32, n int64) {
	t.update(func() { t.inflight[part] = n })
}

func (t *Tracker) update(mutate func()) uploadtypes.ProgressSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	if mutate != nil {
		mutate()
	}
	t.seq++
	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() uploadtypes.ProgressSnapshot {
	bytes := t.completed
	for _, n := range t.inflight {
		bytes += n
	}
	if bytes > t.total {
		bytes = t.total
	}

	percent := 100.0
	if t.total > 0 {
		percent = float64(bytes) / float64(t.total) * 100
	}
	return uploadtypes.ProgressSnapshot{
		BytesTransferred: bytes,
		TotalBytes:       t.total,
		Percent:          percent,
		Sequence:         t.seq,
	}
}

type countingReader struct {
	r    io.Reader
	part int32
	t    *Tracker
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.t.add(c.part, int64(n))
	}
	return n, err
}

type countingReadSeeker struct {
	*countingReader
	s io.Seeker
}

// Seek repositions the underlying reader and resets the part's count to the new offset.
func (c *countingReadSeeker) Seek(offset int64, whence int) (int64, error) {
	pos, err := c.s.Seek(offset, whence)
	if err == nil {
		c.t.setInflight(c.part, pos)
	}
	return pos, err
}
