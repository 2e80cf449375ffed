package audio

import (
	"sync"
	"sync/atomic"
)

const maxPooledSamples = 16384

// SampleBuffer is a reusable slice of samples checked out from a pool.
type SampleBuffer struct {
	Data []int16
	pool *BufferPool
}

// Release zeroes the buffer and returns it to its pool.
func (sb *SampleBuffer) Release() {
	if sb.pool != nil {
		sb.pool.put(sb)
	}
}

// BufferPool hands out sample buffers from size-tiered sync.Pools so the
// playback path does not allocate per tone.
type BufferPool struct {
	small  sync.Pool // up to 1024 samples
	medium sync.Pool // up to 4096 samples
	large  sync.Pool // up to maxSize samples

	maxSize int

	requests    int64
	allocations int64
}

// NewBufferPool creates a pool. Requests above maxSize are allocated
// directly and never pooled.
func NewBufferPool(maxSize int) *BufferPool {
	p := &BufferPool{maxSize: maxSize}
	p.small.New = func() interface{} {
		atomic.AddInt64(&p.allocations, 1)
		return &SampleBuffer{Data: make([]int16, 1024), pool: p}
	}
	p.medium.New = func() interface{} {
		atomic.AddInt64(&p.allocations, 1)
		return &SampleBuffer{Data: make([]int16, 4096), pool: p}
	}
	p.large.New = func() interface{} {
		atomic.AddInt64(&p.allocations, 1)
		return &SampleBuffer{Data: make([]int16, maxSize), pool: p}
	}
	return p
}

// Get returns a buffer whose Data has exactly the requested length.
func (p *BufferPool) Get(size int) *SampleBuffer {
	if size <= 0 {
		size = 1
	}
	if size > p.maxSize {
		return &SampleBuffer{Data: make([]int16, size), pool: p}
	}

	atomic.AddInt64(&p.requests, 1)

	var buf *SampleBuffer
	switch {
	case size <= 1024:
		buf = p.small.Get().(*SampleBuffer)
	case size <= 4096:
		buf = p.medium.Get().(*SampleBuffer)
	default:
		buf = p.large.Get().(*SampleBuffer)
	}

	buf.Data = buf.Data[:size]
	return buf
}

func (p *BufferPool) put(buf *SampleBuffer) {
	if buf == nil || buf.Data == nil {
		return
	}

	data := buf.Data[:cap(buf.Data)]
	for i := range data {
		data[i] = 0
	}
	buf.Data = data

	switch {
	case cap(buf.Data) <= 1024:
		p.small.Put(buf)
	case cap(buf.Data) <= 4096:
		p.medium.Put(buf)
	case cap(buf.Data) <= p.maxSize:
		p.large.Put(buf)
	default:
		// Oversized buffers are left for the garbage collector.
	}
}

// Statistics returns checkout counters. The difference between requests
// and allocations is how often a pooled buffer was reused.
func (p *BufferPool) Statistics() map[string]int64 {
	return map[string]int64{
		"requests":    atomic.LoadInt64(&p.requests),
		"allocations": atomic.LoadInt64(&p.allocations),
	}
}
