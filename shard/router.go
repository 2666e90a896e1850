package shard

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"github.com/OneOfOne/xxhash"

	"github.com/Numi2/solana-numistack/codec"
	"github.com/Numi2/solana-numistack/errors"
	"github.com/Numi2/solana-numistack/metric"
)

// Router hashes records to shards and pushes them under the configured
// backpressure policy. The hash is stable across processes, so all updates
// for one key always traverse the same shard.
type Router struct {
	queues    []*Queue[*codec.Record]
	metrics   *metric.Metrics
	accepting atomic.Bool

	// OnDrop, when set before the first push, is invoked with every record
	// the router loses to its backpressure policy so producers can reclaim
	// pooled buffers.
	OnDrop func(*codec.Record)
}

// NewRouter creates shards queues of the given capacity and policy. The
// metrics set may be nil in tests.
func NewRouter(shards, capacity int, policy Policy, m *metric.Metrics) (*Router, error) {
	if shards < 1 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("shard count %d out of range", shards),
			"Router", "NewRouter", "shard count validation")
	}
	r := &Router{
		queues:  make([]*Queue[*codec.Record], shards),
		metrics: m,
	}
	for i := range r.queues {
		q, err := NewQueue[*codec.Record](capacity, policy)
		if err != nil {
			return nil, err
		}
		r.queues[i] = q
	}
	r.accepting.Store(true)
	return r, nil
}

// Shards returns the shard count, fixed for the process lifetime.
func (r *Router) Shards() int { return len(r.queues) }

// Queue returns the queue for shard i; the writer worker for that shard is
// its sole consumer.
func (r *Router) Queue(i int) *Queue[*codec.Record] { return r.queues[i] }

// KeyHash computes the stable 64-bit shard key for a record: the pubkey for
// accounts, the signature for transactions, the slot for blocks and slots.
func KeyHash(rec *codec.Record) uint64 {
	switch rec.Kind {
	case codec.KindAccount:
		return xxhash.Checksum64(rec.Account.Pubkey[:])
	case codec.KindTransaction:
		return xxhash.Checksum64(rec.Transaction.Signature[:])
	case codec.KindBlock:
		var key [8]byte
		binary.LittleEndian.PutUint64(key[:], rec.Block.Slot)
		return xxhash.Checksum64(key[:])
	case codec.KindSlot:
		var key [8]byte
		binary.LittleEndian.PutUint64(key[:], rec.Slot.Slot)
		return xxhash.Checksum64(key[:])
	default:
		// EndOfStartup has no key; it rides shard 0.
		return 0
	}
}

// ShardFor returns the shard index a record routes to.
func (r *Router) ShardFor(rec *codec.Record) int {
	return int(KeyHash(rec) % uint64(len(r.queues)))
}

// Push routes and enqueues rec, resolving overflow per the policy and
// accounting drops. Records pushed after Close are dropped silently.
func (r *Router) Push(rec *codec.Record) PushOutcome {
	if !r.accepting.Load() {
		if r.OnDrop != nil {
			r.OnDrop(rec)
		}
		return DroppedNewest
	}
	shard := r.ShardFor(rec)
	outcome, dropped, hasDropped := r.queues[shard].Push(rec)
	if hasDropped {
		if r.metrics != nil {
			label := metric.ShardLabel(shard)
			switch outcome {
			case DroppedNewest:
				r.metrics.DropsNewest.WithLabelValues(label, dropped.Kind.String()).Inc()
			case DroppedOldest:
				r.metrics.DropsOldest.WithLabelValues(label, dropped.Kind.String()).Inc()
			}
		}
		if r.OnDrop != nil {
			r.OnDrop(dropped)
		}
	}
	return outcome
}

// PushBlock routes and enqueues rec under the Block policy.
func (r *Router) PushBlock(rec *codec.Record, stop <-chan struct{}) error {
	if !r.accepting.Load() {
		return errors.ErrShuttingDown
	}
	return r.queues[r.ShardFor(rec)].PushBlock(rec, stop)
}

// Close stops the router from accepting new records. Queued records remain
// for the writers to drain.
func (r *Router) Close() {
	r.accepting.Store(false)
}
