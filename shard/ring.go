package shard

import (
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/Numi2/solana-numistack/errors"
)

// busySpins is how long producers and the consumer spin before parking.
const busySpins = 256

// Ring is a bounded multi-producer queue with per-slot sequence numbers.
// Pushes and pops are lock-free; a full or empty ring is detected without
// retries. The capacity must be a power of two so index masking stays a
// single AND.
//
// The head/tail counters grow without bound and wrap modulo capacity via the
// mask; at any instant head-tail <= capacity.
type Ring[T any] struct {
	slots []ringSlot[T]
	mask  uint64

	head atomic.Uint64 // next push position
	tail atomic.Uint64 // next pop position

	// Single-element wake channels. Senders never block: a pending signal
	// is enough to wake the parked side.
	notEmpty chan struct{}
	notFull  chan struct{}
}

type ringSlot[T any] struct {
	seq atomic.Uint64
	val T
}

// NewRing creates a ring with the given power-of-two capacity.
func NewRing[T any](capacity int) (*Ring[T], error) {
	if capacity < 2 || capacity&(capacity-1) != 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("capacity %d is not a power of two", capacity),
			"Ring", "NewRing", "capacity validation")
	}
	r := &Ring[T]{
		slots:    make([]ringSlot[T], capacity),
		mask:     uint64(capacity - 1),
		notEmpty: make(chan struct{}, 1),
		notFull:  make(chan struct{}, 1),
	}
	for i := range r.slots {
		r.slots[i].seq.Store(uint64(i))
	}
	return r, nil
}

// Cap returns the ring capacity.
func (r *Ring[T]) Cap() int { return len(r.slots) }

// Len returns the approximate number of queued items.
func (r *Ring[T]) Len() int {
	head := r.head.Load()
	tail := r.tail.Load()
	if head < tail {
		return 0
	}
	n := head - tail
	if n > uint64(len(r.slots)) {
		n = uint64(len(r.slots))
	}
	return int(n)
}

// TryPush enqueues v, returning false when the ring is full. O(1), no
// allocation.
func (r *Ring[T]) TryPush(v T) bool {
	for {
		pos := r.head.Load()
		slot := &r.slots[pos&r.mask]
		seq := slot.seq.Load()
		switch diff := int64(seq) - int64(pos); {
		case diff == 0:
			if r.head.CompareAndSwap(pos, pos+1) {
				slot.val = v
				slot.seq.Store(pos + 1)
				r.signal(r.notEmpty)
				return true
			}
		case diff < 0:
			return false // full
		}
		// Lost the race to another producer; retry at the new head.
	}
}

// TryPop dequeues the oldest item, returning false when the ring is empty.
func (r *Ring[T]) TryPop() (T, bool) {
	var zero T
	for {
		pos := r.tail.Load()
		slot := &r.slots[pos&r.mask]
		seq := slot.seq.Load()
		switch diff := int64(seq) - int64(pos+1); {
		case diff == 0:
			if r.tail.CompareAndSwap(pos, pos+1) {
				v := slot.val
				slot.val = zero
				slot.seq.Store(pos + uint64(len(r.slots)))
				r.signal(r.notFull)
				return v, true
			}
		case diff < 0:
			return zero, false // empty
		}
	}
}

// PopWait pops the next item, spinning briefly and then parking until an
// item arrives, the timeout elapses, or stop closes.
func (r *Ring[T]) PopWait(timeout time.Duration, stop <-chan struct{}) (T, bool) {
	for i := 0; i < busySpins; i++ {
		if v, ok := r.TryPop(); ok {
			return v, true
		}
		runtime.Gosched()
	}

	var zero T
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		if v, ok := r.TryPop(); ok {
			return v, true
		}
		select {
		case <-r.notEmpty:
		case <-timer.C:
			return zero, false
		case <-stop:
			return zero, false
		}
	}
}

// waitNotFull parks a Block-policy producer until a pop frees space or stop
// closes. Returns false on stop.
func (r *Ring[T]) waitNotFull(stop <-chan struct{}) bool {
	select {
	case <-r.notFull:
		return true
	case <-stop:
		return false
	}
}

func (r *Ring[T]) signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
