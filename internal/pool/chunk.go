package pool

import (
	"sync"
	"sync/atomic"
)

// HeadBufferSize is the size of the buffer used to sniff a payload's leading bytes.
const HeadBufferSize = 4 * 1024

// Stats tracks pool usage.
type Stats struct {
	Created   int64
	Reused    int64
	InUse     int64
	HighWater int64
}

// ChunkPool manages reusable buffers of one chunk size.
type ChunkPool struct {
	size int
	pool sync.Pool

	created   atomic.Int64
	gets      atomic.Int64
	inUse     atomic.Int64
	highWater atomic.Int64
}

// NewChunkPool creates a pool of buffers with capacity size.
func NewChunkPool(size int) *ChunkPool {
	p := &ChunkPool{size: size}
	p.pool.New = func() any {
		p.created.Add(1)
		buf := make([]byte, size)
		return &buf
	}
	return p
}

// Size returns the capacity of the pooled buffers.
func (p *ChunkPool) Size() int {
	return p.size
}

// Get returns a buffer of length n. n must not exceed Size.
// The caller is responsible for calling Put to return the buffer to the pool.
func (p *ChunkPool) Get(n int) []byte {
	if n > p.size {
		n = p.size
	}
	bufPtr := p.pool.Get().(*[]byte)
	p.gets.Add(1)

	inUse := p.inUse.Add(1)
	for {
		hw := p.highWater.Load()
		if inUse <= hw || p.highWater.CompareAndSwap(hw, inUse) {
			break
		}
	}
	return (*bufPtr)[:n]
}

// Put returns a buffer to the pool. Buffers of another capacity are dropped.
// The buffer must not be used after calling Put.
func (p *ChunkPool) Put(buf []byte) {
	if buf == nil {
		return
	}
	p.inUse.Add(-1)
	if cap(buf) != p.size {
		return
	}
	buf = buf[:cap(buf)]
	p.pool.Put(&buf)
}

// Stats returns a snapshot of the pool counters.
func (p *ChunkPool) Stats() Stats {
	created := p.created.Load()
	return Stats{
		Created:   created,
		Reused:    p.gets.Load() - created,
		InUse:     p.inUse.Load(),
		HighWater: p.highWater.Load(),
	}
}

var (
	poolsMu sync.Mutex
	pools   = map[int]*ChunkPool{}
)

// ForSize returns the shared pool for buffers of the given size.
func ForSize(size int) *ChunkPool {
	poolsMu.Lock()
	defer poolsMu.Unlock()

	if p, ok := pools[size]; ok {
		return p
	}
	p := NewChunkPool(size)
	pools[size] = p
	return p
}
