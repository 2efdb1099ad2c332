package pool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkPool_Get(t *testing.T) {
	p := NewChunkPool(1024)

	tests := []struct {
		name    string
		n       int
		wantLen int
	}{
		{"full chunk", 1024, 1024},
		{"short last chunk", 100, 100},
		{"oversized request is capped", 4096, 1024},
		{"empty", 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := p.Get(tt.n)
			require.NotNil(t, buf)
			assert.Len(t, buf, tt.wantLen)
			assert.Equal(t, 1024, cap(buf))
			p.Put(buf)
		})
	}

	assert.Zero(t, p.Stats().InUse)
}

func TestChunkPool_Stats(t *testing.T) {
	p := NewChunkPool(64)

	a := p.Get(64)
	b := p.Get(64)
	c := p.Get(10)
	assert.Equal(t, int64(3), p.Stats().InUse)

	p.Put(a)
	p.Put(b)
	p.Put(c)

	d := p.Get(64)
	p.Put(d)

	st := p.Stats()
	assert.Zero(t, st.InUse)
	assert.Equal(t, int64(3), st.HighWater)
	assert.GreaterOrEqual(t, st.Created, int64(3))
}

func TestChunkPool_RegrownBufferDropped(t *testing.T) {
	p := NewChunkPool(64)

	buf := p.Get(64)
	grown := append(buf, 1)
	require.NotEqual(t, 64, cap(grown))
	p.Put(grown)

	assert.Zero(t, p.Stats().InUse)
	assert.Equal(t, 64, cap(p.Get(1)))
}

func TestChunkPool_Concurrent(t *testing.T) {
	p := NewChunkPool(256)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				buf := p.Get(256)
				buf[0] = byte(j)
				p.Put(buf)
			}
		}()
	}
	wg.Wait()

	st := p.Stats()
	assert.Zero(t, st.InUse)
	assert.LessOrEqual(t, st.HighWater, int64(8))
}

func TestForSize(t *testing.T) {
	assert.Same(t, ForSize(5<<20), ForSize(5<<20))
	assert.NotSame(t, ForSize(5<<20), ForSize(10<<20))
}

func BenchmarkChunkPool_GetPut(b *testing.B) {
	p := NewChunkPool(5 << 20)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			buf := p.Get(5 << 20)
			p.Put(buf)
		}
	})
}

func BenchmarkChunkAllocation_NewEachTime(b *testing.B) {
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			buf := make([]byte, 5<<20)
			_ = buf
		}
	})
}
