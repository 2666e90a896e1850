// Package writer drains shard queues into Unix domain sockets. One worker
// owns one shard's ring and one connected socket; it batches records,
// performs vectored writes, and reconnects with jittered exponential backoff
// when the peer goes away. Workers are the only consumers of their queue, so
// per-shard wire order is exactly push order.
package writer

import (
	"fmt"
	"log/slog"
	"net"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/Numi2/solana-numistack/codec"
	"github.com/Numi2/solana-numistack/errors"
	"github.com/Numi2/solana-numistack/metric"
	"github.com/Numi2/solana-numistack/pkg/retry"
	"github.com/Numi2/solana-numistack/shard"
)

// popTimeout bounds how long the worker parks between queue checks so it
// stays responsive to shutdown.
const popTimeout = 50 * time.Millisecond

// Config holds per-worker settings.
type Config struct {
	Shard         int
	SocketPath    string
	BatchMax      int           // max records per batch
	BatchBytesMax int           // max encoded bytes per batch
	BatchTimeMax  time.Duration // max linger after the first popped record
	MaxFrameBytes int
	Compress      bool
	Archived      bool
	// BatchFrames selects one batch frame per flush instead of individual
	// frames.
	BatchFrames    bool
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
	DrainTimeout   time.Duration
	// PinCPU pins the worker thread to the given CPU; -1 disables pinning.
	PinCPU int
}

// DefaultConfig returns worker settings suited to low-latency local sockets.
func DefaultConfig(shardIdx int, socketPath string) Config {
	return Config{
		Shard:          shardIdx,
		SocketPath:     socketPath,
		BatchMax:       512,
		BatchBytesMax:  2 << 20,
		BatchTimeMax:   0,
		MaxFrameBytes:  codec.DefaultMaxFrameBytes,
		ConnectTimeout: 500 * time.Millisecond,
		WriteTimeout:   time.Second,
		DrainTimeout:   2 * time.Second,
		PinCPU:         -1,
	}
}

// Deps holds runtime dependencies for a worker.
type Deps struct {
	Config  Config
	Queue   *shard.Queue[*codec.Record]
	Metrics *metric.Metrics
	Logger  *slog.Logger
	// Release is invoked once per record after the worker is finished with
	// it (written, unencodable, or discarded), letting producers reclaim
	// pooled buffers. May be nil.
	Release func(*codec.Record)
}

// Worker drains one shard queue into one UDS.
type Worker struct {
	cfg     Config
	queue   *shard.Queue[*codec.Record]
	metrics *metric.Metrics
	logger  *slog.Logger

	release func(*codec.Record)

	// batchMax is hot-reloadable; the other settings are fixed for the
	// worker's lifetime.
	batchMax atomic.Int64

	stop    chan struct{}
	done    chan struct{}
	running atomic.Bool

	// Scratch state reused across flushes.
	batch  []*codec.Record
	frames net.Buffers
	linger time.Duration
}

// NewWorker creates a worker; Start launches its thread.
func NewWorker(deps Deps) *Worker {
	cfg := deps.Config
	if cfg.BatchMax <= 0 {
		cfg.BatchMax = 512
	}
	if cfg.BatchBytesMax <= 0 {
		cfg.BatchBytesMax = 2 << 20
	}
	if cfg.MaxFrameBytes <= 0 {
		cfg.MaxFrameBytes = codec.DefaultMaxFrameBytes
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 500 * time.Millisecond
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = time.Second
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 2 * time.Second
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	w := &Worker{
		cfg:     cfg,
		queue:   deps.Queue,
		metrics: deps.Metrics,
		release: deps.Release,
		logger:  logger.With("component", "writer", "shard", cfg.Shard),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		batch:   make([]*codec.Record, 0, cfg.BatchMax),
		linger:  cfg.BatchTimeMax,
	}
	w.batchMax.Store(int64(cfg.BatchMax))
	return w
}

// SetBatchMax hot-reloads the per-batch record cap. Takes effect on the next
// gather; other settings are structural and fixed at startup.
func (w *Worker) SetBatchMax(n int) {
	if n > 0 {
		w.batchMax.Store(int64(n))
	}
}

// Start launches the worker thread. Idempotent.
func (w *Worker) Start() error {
	if w.queue == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Worker", "Start", "queue validation")
	}
	if !w.running.CompareAndSwap(false, true) {
		return nil
	}
	go w.run()
	return nil
}

// Stop signals shutdown and waits up to timeout for the worker to exit. The
// worker bounds its own queue drain by the configured DrainTimeout.
func (w *Worker) Stop(timeout time.Duration) error {
	if !w.running.Load() {
		return nil
	}
	select {
	case <-w.stop:
	default:
		close(w.stop)
	}

	select {
	case <-w.done:
		return nil
	case <-time.After(timeout):
		return errors.WrapTransient(
			fmt.Errorf("worker did not stop within %v", timeout),
			"Worker", "Stop", "graceful shutdown")
	}
}

// run is the worker thread body. It is pinned to an OS thread so CPU
// affinity holds for its lifetime.
func (w *Worker) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(w.done)
	defer w.running.Store(false)

	if w.cfg.PinCPU >= 0 {
		if err := pinToCPU(w.cfg.PinCPU); err != nil {
			w.logger.Warn("cpu pinning failed", "cpu", w.cfg.PinCPU, "error", err)
		}
	}

	backoff := retry.NewBackoff(10*time.Millisecond, time.Second)
	for {
		select {
		case <-w.stop:
			w.drain(nil)
			return
		default:
		}

		conn, err := net.DialTimeout("unix", w.cfg.SocketPath, w.cfg.ConnectTimeout)
		if err != nil {
			w.logger.Warn("connect failed", "path", w.cfg.SocketPath, "error", err)
			if !w.sleep(backoff.Next()) {
				w.drain(nil)
				return
			}
			continue
		}
		backoff.Reset()
		w.tuneSocket(conn)
		w.logger.Info("connected", "path", w.cfg.SocketPath)

		err = w.writeLoop(conn)
		_ = conn.Close()
		if err == nil {
			// Stop requested; writeLoop already drained.
			return
		}

		w.logger.Warn("connection lost", "error", err)
		if w.metrics != nil {
			w.metrics.RecordReconnect(w.cfg.Shard)
		}
		if !w.sleep(backoff.Next()) {
			w.drain(nil)
			return
		}
	}
}

func (w *Worker) tuneSocket(conn net.Conn) {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return
	}
	if err := setSendBuffer(uc, w.cfg.BatchBytesMax); err != nil {
		w.logger.Debug("send buffer tuning failed", "error", err)
	}
}

// writeLoop batches and writes until the connection fails (returned error)
// or stop is signaled (nil return, queue drained into the live connection).
func (w *Worker) writeLoop(conn net.Conn) error {
	for {
		select {
		case <-w.stop:
			return w.drain(conn)
		default:
		}

		if w.metrics != nil {
			w.metrics.RecordQueueDepth(w.cfg.Shard, w.queue.Len())
		}

		first, ok := w.queue.PopWait(popTimeout, w.stop)
		if !ok {
			continue
		}
		w.gather(first)
		if err := w.flush(conn); err != nil {
			return err
		}
	}
}

// gather accumulates a batch starting from first: up to BatchMax records,
// BatchBytesMax estimated bytes, or the linger deadline since the first pop.
func (w *Worker) gather(first *codec.Record) {
	w.batch = append(w.batch[:0], first)
	size := estimateSize(first)

	var deadline time.Time
	if w.linger > 0 {
		deadline = time.Now().Add(w.linger)
	}

	batchMax := int(w.batchMax.Load())
	for len(w.batch) < batchMax && size < w.cfg.BatchBytesMax {
		rec, ok := w.queue.Pop()
		if !ok {
			if deadline.IsZero() {
				break
			}
			remaining := time.Until(deadline)
			if remaining <= 0 {
				break
			}
			rec, ok = w.queue.PopWait(remaining, w.stop)
			if !ok {
				break
			}
		}
		w.batch = append(w.batch, rec)
		size += estimateSize(rec)
	}

	w.adaptLinger()
}

// adaptLinger shrinks the batch linger while the queue runs hot and restores
// it slowly once pressure subsides.
func (w *Worker) adaptLinger() {
	if w.cfg.BatchTimeMax <= 0 {
		return
	}
	depth := w.queue.Len()
	if depth*100/w.queue.Cap() >= 75 {
		w.linger /= 2
	} else if w.linger < w.cfg.BatchTimeMax {
		w.linger += time.Millisecond
		if w.linger > w.cfg.BatchTimeMax {
			w.linger = w.cfg.BatchTimeMax
		}
	}
}

func (w *Worker) releaseBatch() {
	if w.release == nil {
		return
	}
	for _, rec := range w.batch {
		w.release(rec)
	}
}

// flush encodes the gathered batch and writes it with one vectored write.
// The worker is finished with the batch when flush returns, success or not.
func (w *Worker) flush(conn net.Conn) error {
	defer w.releaseBatch()
	opts := codec.Options{
		Compress:      w.cfg.Compress,
		Archived:      w.cfg.Archived,
		MaxFrameBytes: w.cfg.MaxFrameBytes,
	}

	w.frames = w.frames[:0]
	if w.cfg.BatchFrames && len(w.batch) > 1 {
		frame, err := codec.EncodeBatch(w.batch, opts)
		if err == nil {
			w.frames = append(w.frames, frame)
		} else if err != codec.ErrLenExceedsMax {
			w.logger.Error("batch encode failed", "error", err)
			return nil
		}
		// A batch that would exceed the frame cap falls through to
		// individual frames below.
	}
	if len(w.frames) == 0 {
		for _, rec := range w.batch {
			frame, err := codec.Encode(rec, opts)
			if err != nil {
				w.logger.Error("encode failed", "kind", rec.Kind.String(), "error", err)
				continue
			}
			w.frames = append(w.frames, frame)
		}
	}
	if len(w.frames) == 0 {
		return nil
	}

	var total int
	for _, f := range w.frames {
		total += len(f)
	}

	start := time.Now()
	if err := w.writeAll(conn); err != nil {
		w.logger.Error("write failed", "records_lost", len(w.batch), "error", err)
		return err
	}

	if w.metrics != nil {
		w.metrics.RecordWrite(w.cfg.Shard, total, len(w.batch), time.Since(start))
		for _, rec := range w.batch {
			w.metrics.RecordFrameEncoded(rec.Kind.String())
		}
	}
	return nil
}

// writeAll performs a vectored write of all pending frames, retrying the
// remainder after short writes and write timeouts. net.Buffers tracks the
// unwritten tail across calls.
func (w *Worker) writeAll(conn net.Conn) error {
	for len(w.frames) > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(w.cfg.WriteTimeout))
		_, err := w.frames.WriteTo(conn)
		if err == nil {
			return nil
		}
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			select {
			case <-w.stop:
				return errors.ErrShuttingDown
			default:
				continue
			}
		}
		return err
	}
	return nil
}

// drain empties the queue within DrainTimeout. With a live connection the
// drained records are flushed; without one they are discarded.
func (w *Worker) drain(conn net.Conn) error {
	deadline := time.Now().Add(w.cfg.DrainTimeout)
	discarded := 0
	for time.Now().Before(deadline) {
		rec, ok := w.queue.Pop()
		if !ok {
			break
		}
		if conn == nil {
			discarded++
			if w.release != nil {
				w.release(rec)
			}
			continue
		}
		w.gather(rec)
		if err := w.flush(conn); err != nil {
			return err
		}
	}
	if discarded > 0 {
		w.logger.Warn("discarded records on shutdown", "count", discarded)
	}
	if remaining := w.queue.Len(); remaining > 0 {
		w.logger.Warn("drain timeout expired", "remaining", remaining)
	}
	return nil
}

func (w *Worker) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-w.stop:
		return false
	case <-timer.C:
		return true
	}
}

// estimateSize approximates the encoded size of a record for batch byte
// budgeting.
func estimateSize(rec *codec.Record) int {
	const fixed = 128
	switch rec.Kind {
	case codec.KindAccount:
		return fixed + len(rec.Account.Data)
	case codec.KindTransaction:
		return fixed + len(rec.Transaction.Meta) + len(rec.Transaction.Message)
	default:
		return fixed
	}
}
