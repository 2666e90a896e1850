// Package pool provides a bounded pool of reusable byte buffers for
// allocation-free hot paths. Unlike sync.Pool, capacity is fixed at
// construction so memory stays bounded under pressure: when the pool is
// empty, TryGet reports a miss instead of allocating.
package pool

import "sync/atomic"

// BufferPool is a fixed-size pool of reusable byte slices.
type BufferPool struct {
	free       chan []byte
	defaultCap int

	misses   atomic.Uint64
	overflow atomic.Uint64
}

// New creates a pool holding up to maxItems buffers, each pre-allocated with
// defaultCap bytes of capacity.
func New(maxItems, defaultCap int) *BufferPool {
	if maxItems < 1 {
		maxItems = 1
	}
	if defaultCap < 64 {
		defaultCap = 64
	}
	p := &BufferPool{
		free:       make(chan []byte, maxItems),
		defaultCap: defaultCap,
	}
	for i := 0; i < maxItems; i++ {
		p.free <- make([]byte, 0, defaultCap)
	}
	return p
}

// TryGet returns a zero-length buffer from the pool, or nil and false when
// the pool is empty. Callers that receive false must drop the work item
// rather than allocate.
func (p *BufferPool) TryGet() ([]byte, bool) {
	select {
	case b := <-p.free:
		return b, true
	default:
		p.misses.Add(1)
		return nil, false
	}
}

// Put returns a buffer to the pool. Buffers that grew beyond twice the
// default capacity are replaced to prevent bloat under pressure.
func (p *BufferPool) Put(b []byte) {
	if b == nil {
		return
	}
	if cap(b) > 2*p.defaultCap {
		b = make([]byte, 0, p.defaultCap)
	}
	select {
	case p.free <- b[:0]:
	default:
		p.overflow.Add(1)
	}
}

// Misses returns how many TryGet calls found the pool empty.
func (p *BufferPool) Misses() uint64 {
	return p.misses.Load()
}

// Len returns the number of buffers currently available.
func (p *BufferPool) Len() int {
	return len(p.free)
}
