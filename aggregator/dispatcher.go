package aggregator

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Numi2/solana-numistack/codec"
	"github.com/Numi2/solana-numistack/errors"
	"github.com/Numi2/solana-numistack/metric"
	"github.com/Numi2/solana-numistack/shard"
)

// Sink consumes decoded records. Write is only ever called from the sink's
// own goroutine; it may block on its egress.
type Sink interface {
	Name() string
	Write(rec *codec.Record) error
	Close() error
}

// Dispatcher offers decoded records to every registered sink through a
// bounded per-sink queue. Dispatch itself never blocks: overflow resolves by
// the configured backpressure policy and per-sink drop counters. A Block
// policy is applied as DropNewest here, since Dispatch never waits.
type Dispatcher struct {
	runners []*sinkRunner
	metrics *metric.Metrics
	logger  *slog.Logger
}

type sinkRunner struct {
	sink     Sink
	queue    *shard.Queue[*codec.Record]
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewDispatcher wraps each sink with a bounded queue of queueCap entries.
func NewDispatcher(sinks []Sink, queueCap int, policy shard.Policy, m *metric.Metrics, logger *slog.Logger) (*Dispatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		metrics: m,
		logger:  logger.With("component", "dispatcher"),
	}
	for _, s := range sinks {
		queue, err := shard.NewQueue[*codec.Record](queueCap, policy)
		if err != nil {
			return nil, err
		}
		d.runners = append(d.runners, &sinkRunner{
			sink:  s,
			queue: queue,
			stop:  make(chan struct{}),
			done:  make(chan struct{}),
		})
	}
	return d, nil
}

// Start launches one goroutine per sink.
func (d *Dispatcher) Start() {
	for _, r := range d.runners {
		go d.runSink(r)
	}
}

// Dispatch offers rec to every sink queue without blocking.
func (d *Dispatcher) Dispatch(rec *codec.Record) {
	for _, r := range d.runners {
		outcome, _, _ := r.queue.Push(rec)
		if outcome != shard.Pushed && d.metrics != nil {
			d.metrics.SinkDrops.WithLabelValues(r.sink.Name()).Inc()
		}
	}
}

// Stop drains each sink queue within timeout, then closes the sinks.
func (d *Dispatcher) Stop(timeout time.Duration) error {
	var firstErr error
	for _, r := range d.runners {
		r.stopOnce.Do(func() { close(r.stop) })
	}
	deadline := time.After(timeout)
	for _, r := range d.runners {
		select {
		case <-r.done:
		case <-deadline:
			if firstErr == nil {
				firstErr = errors.WrapTransient(
					fmt.Errorf("sink %s did not drain within %v", r.sink.Name(), timeout),
					"Dispatcher", "Stop", "sink drain")
			}
		}
		if err := r.sink.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (d *Dispatcher) runSink(r *sinkRunner) {
	defer close(r.done)
	for {
		rec, ok := r.queue.PopWait(50*time.Millisecond, r.stop)
		if !ok {
			select {
			case <-r.stop:
				// Drain whatever is queued, then exit.
				for {
					rec, ok := r.queue.Pop()
					if !ok {
						return
					}
					d.writeOne(r, rec)
				}
			default:
				continue
			}
		}
		d.writeOne(r, rec)
	}
}

func (d *Dispatcher) writeOne(r *sinkRunner, rec *codec.Record) {
	if err := r.sink.Write(rec); err != nil {
		d.logger.Warn("sink write failed",
			"sink", r.sink.Name(),
			"kind", rec.Kind.String(),
			"error", err)
		if d.metrics != nil {
			d.metrics.SinkDrops.WithLabelValues(r.sink.Name()).Inc()
		}
	}
}
