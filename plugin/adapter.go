package plugin

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Numi2/solana-numistack/codec"
	"github.com/Numi2/solana-numistack/errors"
	"github.com/Numi2/solana-numistack/metric"
	"github.com/Numi2/solana-numistack/pkg/pool"
	"github.com/Numi2/solana-numistack/shard"
	"github.com/Numi2/solana-numistack/writer"
)

// AccountInfo is the host's borrowed view of an account update. Slices are
// only valid for the duration of the callback; the adapter copies what it
// keeps.
type AccountInfo struct {
	Pubkey     []byte // 32 bytes
	Owner      []byte // 32 bytes
	Lamports   uint64
	RentEpoch  uint64
	Executable bool
	Data       []byte
}

// TransactionInfo is the host's borrowed view of a processed transaction.
type TransactionInfo struct {
	Signature []byte // 64 bytes
	Meta      []byte
	Message   []byte
}

// BlockInfo is the host's borrowed view of block metadata.
type BlockInfo struct {
	Slot            uint64
	Blockhash       []byte // 32 bytes
	ParentSlot      uint64
	BlockTime       *int64
	BlockHeight     *uint64
	ExecutedTxCount uint32
	EntryCount      uint64
}

// Deps holds runtime dependencies for the adapter.
type Deps struct {
	Config   Config
	Registry *metric.Registry
	Logger   *slog.Logger
}

// Adapter owns the shard router, the per-shard writer workers, and the
// per-shard buffer pools that supply account-data copies. Record structs and
// transaction meta/message copies are allocated per callback. Callbacks
// never block and never return an error to the host: failures become
// counter increments.
type Adapter struct {
	cfg     Config
	streams Streams
	router  *shard.Router
	workers []*writer.Worker
	pools   []*pool.BufferPool
	metrics *metric.Metrics
	server  *metric.Server
	logger  *slog.Logger

	running atomic.Bool

	enqueued          atomic.Uint64
	dropped           atomic.Uint64
	translationErrors atomic.Uint64
}

// NewAdapter builds the adapter from a validated config.
func NewAdapter(deps Deps) (*Adapter, error) {
	cfg := deps.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "plugin")

	var metrics *metric.Metrics
	var server *metric.Server
	if deps.Registry != nil {
		metrics = deps.Registry.Metrics
		if cfg.MetricsListen != "" {
			server = metric.NewServer(cfg.MetricsListen, deps.Registry)
		}
	}

	router, err := shard.NewRouter(cfg.Shards(), cfg.QueueCapacity, cfg.Policy(), metrics)
	if err != nil {
		return nil, err
	}

	poolItems := cfg.PoolItemsMax
	if poolItems == 0 {
		poolItems = cfg.QueueCapacity / 4
		if poolItems < 64 {
			poolItems = 64
		}
	}

	a := &Adapter{
		cfg:     cfg,
		streams: cfg.EnabledStreams(),
		router:  router,
		metrics: metrics,
		server:  server,
		logger:  logger,
	}

	a.pools = make([]*pool.BufferPool, cfg.Shards())
	for i := range a.pools {
		a.pools[i] = pool.New(poolItems, 64*1024)
	}
	router.OnDrop = a.releaseRecord

	a.workers = make([]*writer.Worker, cfg.Shards())
	for i := range a.workers {
		wcfg := writer.Config{
			Shard:         i,
			SocketPath:    cfg.SocketPaths[i],
			BatchMax:      cfg.BatchMax,
			BatchBytesMax: cfg.BatchBytesMax,
			BatchTimeMax:  cfg.BatchTimeMax(),
			MaxFrameBytes: cfg.MaxFrameBytes,
			Compress:      cfg.Compress,
			Archived:      cfg.Archive,
			BatchFrames:   cfg.BatchMax > 1,
			PinCPU:        -1,
		}
		if cfg.CPUAffinity != nil {
			wcfg.PinCPU = cfg.CPUAffinity[i]
		}
		a.workers[i] = writer.NewWorker(writer.Deps{
			Config:  wcfg,
			Queue:   router.Queue(i),
			Metrics: metrics,
			Logger:  logger,
			Release: a.releaseRecord,
		})
	}
	return a, nil
}

// Start launches the writer workers and the metrics server. Idempotent.
func (a *Adapter) Start(_ context.Context) error {
	if !a.running.CompareAndSwap(false, true) {
		return nil
	}
	if a.server != nil {
		if err := a.server.Start(); err != nil {
			// Metrics exposition is not worth failing host load for.
			a.logger.Error("metrics server failed to start", "error", err)
			a.server = nil
		}
	}
	for _, w := range a.workers {
		if err := w.Start(); err != nil {
			return errors.Wrap(err, "Adapter", "Start", "worker launch")
		}
	}
	a.logger.Info("plugin adapter started",
		"shards", a.cfg.Shards(),
		"queue_capacity", a.cfg.QueueCapacity,
		"backpressure", a.cfg.Backpressure)
	return nil
}

// Stop prevents further pushes, lets each worker drain within timeout, and
// logs a shutdown summary.
func (a *Adapter) Stop(timeout time.Duration) error {
	if !a.running.CompareAndSwap(true, false) {
		return nil
	}
	a.router.Close()

	var firstErr error
	for _, w := range a.workers {
		if err := w.Stop(timeout); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.server != nil {
		_ = a.server.Stop(time.Second)
	}

	a.logger.Info("plugin adapter stopped",
		"enqueued", a.enqueued.Load(),
		"dropped", a.dropped.Load(),
		"translation_errors", a.translationErrors.Load())
	return firstErr
}

// SetBatchMax hot-reloads the writers' per-batch record cap. Structural
// settings (shard count, queue capacity) are fixed for the process lifetime.
func (a *Adapter) SetBatchMax(n int) {
	for _, w := range a.workers {
		w.SetBatchMax(n)
	}
}

// OnAccountUpdate translates an account update and pushes it. It copies only
// the fields it keeps, sourcing the data copy from the shard's buffer pool,
// and never blocks.
func (a *Adapter) OnAccountUpdate(info *AccountInfo, slot, writeVersion uint64, txnSignature []byte) {
	if !a.streams.Accounts || !a.running.Load() {
		return
	}
	if info == nil || len(info.Pubkey) != 32 || len(info.Owner) != 32 {
		a.countTranslationError(codec.KindAccount)
		return
	}
	if txnSignature != nil && len(txnSignature) != 64 {
		a.countTranslationError(codec.KindAccount)
		return
	}

	acc := &codec.Account{
		Slot:         slot,
		Lamports:     info.Lamports,
		RentEpoch:    info.RentEpoch,
		WriteVersion: writeVersion,
		Executable:   info.Executable,
	}
	copy(acc.Pubkey[:], info.Pubkey)
	copy(acc.Owner[:], info.Owner)
	if txnSignature != nil {
		var sig [64]byte
		copy(sig[:], txnSignature)
		acc.TxnSignature = &sig
	}

	rec := codec.NewAccountRecord(acc)
	if len(info.Data) > 0 {
		buf, ok := a.pools[a.router.ShardFor(rec)].TryGet()
		if !ok {
			a.countDrop(rec)
			return
		}
		acc.Data = append(buf, info.Data...)
	}
	a.push(rec)
}

// OnTransaction translates a transaction notification and pushes it.
func (a *Adapter) OnTransaction(tx *TransactionInfo, slot uint64, index uint32, isVote bool) {
	if !a.streams.Transactions || !a.running.Load() {
		return
	}
	if tx == nil || len(tx.Signature) != 64 {
		a.countTranslationError(codec.KindTransaction)
		return
	}

	t := &codec.Transaction{
		Slot:    slot,
		IsVote:  isVote,
		Index:   index,
		Meta:    append([]byte(nil), tx.Meta...),
		Message: append([]byte(nil), tx.Message...),
	}
	copy(t.Signature[:], tx.Signature)
	a.push(codec.NewTransactionRecord(t))
}

// OnBlockMetadata translates block metadata and pushes it.
func (a *Adapter) OnBlockMetadata(block *BlockInfo) {
	if !a.streams.Blocks || !a.running.Load() {
		return
	}
	if block == nil || len(block.Blockhash) != 32 {
		a.countTranslationError(codec.KindBlock)
		return
	}

	b := &codec.Block{
		Slot:            block.Slot,
		ParentSlot:      block.ParentSlot,
		ExecutedTxCount: block.ExecutedTxCount,
		EntryCount:      block.EntryCount,
	}
	copy(b.Blockhash[:], block.Blockhash)
	if block.BlockTime != nil {
		v := *block.BlockTime
		b.BlockTime = &v
	}
	if block.BlockHeight != nil {
		v := *block.BlockHeight
		b.BlockHeight = &v
	}
	a.push(codec.NewBlockRecord(b))
}

// OnSlotStatus translates a slot status transition and pushes it.
func (a *Adapter) OnSlotStatus(slot uint64, parent *uint64, status codec.SlotStatus) {
	if !a.streams.Slots || !a.running.Load() {
		return
	}
	s := &codec.Slot{Slot: slot, Status: status}
	if parent != nil {
		v := *parent
		s.Parent = &v
	}
	a.push(codec.NewSlotRecord(s))
}

// OnEndOfStartup pushes the end-of-startup marker.
func (a *Adapter) OnEndOfStartup() {
	if !a.running.Load() {
		return
	}
	a.push(codec.NewEndOfStartupRecord())
}

func (a *Adapter) push(rec *codec.Record) {
	if a.router.Push(rec) == shard.Pushed {
		a.enqueued.Add(1)
	} else {
		a.dropped.Add(1)
	}
}

// countDrop accounts a record lost before it reached the queue (buffer pool
// exhausted).
func (a *Adapter) countDrop(rec *codec.Record) {
	a.dropped.Add(1)
	if a.metrics != nil {
		a.metrics.DropsNewest.WithLabelValues(
			metric.ShardLabel(a.router.ShardFor(rec)), rec.Kind.String()).Inc()
	}
}

func (a *Adapter) countTranslationError(kind codec.Kind) {
	a.translationErrors.Add(1)
	if a.metrics != nil {
		a.metrics.TranslationErrors.WithLabelValues(kind.String()).Inc()
	}
}

// releaseRecord returns pooled account data to its shard's pool. Invoked by
// the writers after frames are flushed and by the router for dropped
// records.
func (a *Adapter) releaseRecord(rec *codec.Record) {
	if rec.Kind != codec.KindAccount || rec.Account.Data == nil {
		return
	}
	a.pools[a.router.ShardFor(rec)].Put(rec.Account.Data)
	rec.Account.Data = nil
}
