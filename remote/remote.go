// Package remote is the alternate ingress path: it consumes a remote
// streaming subscription and produces the same sharded frame stream the
// in-process plugin does. The subscription client itself (gRPC, reconnect,
// auth) is an external collaborator hidden behind the Source interface; this
// package owns translation, sharding, and backpressure.
package remote

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Numi2/solana-numistack/codec"
	"github.com/Numi2/solana-numistack/errors"
	"github.com/Numi2/solana-numistack/metric"
	"github.com/Numi2/solana-numistack/shard"
)

// Update is one message from the remote subscription. Exactly one field is
// non-nil.
type Update struct {
	Account     *AccountUpdate
	Transaction *TransactionUpdate
	Block       *BlockUpdate
	Slot        *SlotUpdate
}

// AccountUpdate mirrors the subscription's account message. Pubkey and owner
// may arrive base58-encoded or raw; the caller decodes to raw 32-byte form.
type AccountUpdate struct {
	Slot         uint64
	Pubkey       []byte
	Owner        []byte
	Lamports     uint64
	RentEpoch    uint64
	WriteVersion uint64
	Executable   bool
	Data         []byte
	TxnSignature []byte
}

// TransactionUpdate mirrors the subscription's transaction message.
type TransactionUpdate struct {
	Slot      uint64
	Signature []byte
	IsVote    bool
	Index     uint32
	Meta      []byte
	Message   []byte
}

// BlockUpdate mirrors the subscription's block metadata message.
type BlockUpdate struct {
	Slot            uint64
	Blockhash       []byte
	ParentSlot      uint64
	BlockTime       *int64
	BlockHeight     *uint64
	ExecutedTxCount uint32
	EntryCount      uint64
}

// SlotUpdate mirrors the subscription's slot status message.
type SlotUpdate struct {
	Slot   uint64
	Parent *uint64
	Status codec.SlotStatus
}

// Source yields subscription updates. Recv blocks until an update arrives,
// the context is cancelled, or the stream ends (io.EOF).
type Source interface {
	Recv(ctx context.Context) (*Update, error)
}

// Deps holds runtime dependencies for the remote adapter.
type Deps struct {
	Source  Source
	Router  *shard.Router
	Metrics *metric.Metrics
	Logger  *slog.Logger
}

// Adapter pumps a Source into the shard router. Unlike the plugin adapter it
// runs on its own goroutine and tolerates a blocking source.
type Adapter struct {
	source  Source
	router  *shard.Router
	metrics *metric.Metrics
	logger  *slog.Logger

	cancel  context.CancelFunc
	done    chan struct{}
	running atomic.Bool

	received          atomic.Uint64
	translationErrors atomic.Uint64
}

// NewAdapter creates a remote adapter.
func NewAdapter(deps Deps) (*Adapter, error) {
	if deps.Source == nil || deps.Router == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig,
			"Adapter", "NewAdapter", "source and router validation")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		source:  deps.Source,
		router:  deps.Router,
		metrics: deps.Metrics,
		logger:  logger.With("component", "remote"),
		done:    make(chan struct{}),
	}, nil
}

// Start launches the pump goroutine. Idempotent.
func (a *Adapter) Start(ctx context.Context) error {
	if !a.running.CompareAndSwap(false, true) {
		return nil
	}
	ctx, a.cancel = context.WithCancel(ctx)
	go a.pump(ctx)
	return nil
}

// Stop cancels the pump and waits for it to finish.
func (a *Adapter) Stop(timeout time.Duration) error {
	if !a.running.CompareAndSwap(true, false) {
		return nil
	}
	a.cancel()
	select {
	case <-a.done:
		return nil
	case <-time.After(timeout):
		return errors.WrapTransient(errors.ErrConnectionTimeout,
			"Adapter", "Stop", "pump shutdown")
	}
}

// Received returns how many updates arrived from the source.
func (a *Adapter) Received() uint64 { return a.received.Load() }

func (a *Adapter) pump(ctx context.Context) {
	defer close(a.done)
	for {
		update, err := a.source.Recv(ctx)
		if err != nil {
			if ctx.Err() == nil {
				a.logger.Warn("subscription ended", "error", err)
			}
			return
		}
		a.received.Add(1)
		if rec, ok := a.translate(update); ok {
			a.router.Push(rec)
		}
	}
}

func (a *Adapter) translate(u *Update) (*codec.Record, bool) {
	switch {
	case u.Account != nil:
		m := u.Account
		if len(m.Pubkey) != 32 || len(m.Owner) != 32 ||
			(m.TxnSignature != nil && len(m.TxnSignature) != 64) {
			return nil, a.translationFailed(codec.KindAccount)
		}
		acc := &codec.Account{
			Slot:         m.Slot,
			Lamports:     m.Lamports,
			RentEpoch:    m.RentEpoch,
			WriteVersion: m.WriteVersion,
			Executable:   m.Executable,
			Data:         append([]byte(nil), m.Data...),
		}
		copy(acc.Pubkey[:], m.Pubkey)
		copy(acc.Owner[:], m.Owner)
		if m.TxnSignature != nil {
			var sig [64]byte
			copy(sig[:], m.TxnSignature)
			acc.TxnSignature = &sig
		}
		return codec.NewAccountRecord(acc), true

	case u.Transaction != nil:
		m := u.Transaction
		if len(m.Signature) != 64 {
			return nil, a.translationFailed(codec.KindTransaction)
		}
		tx := &codec.Transaction{
			Slot:    m.Slot,
			IsVote:  m.IsVote,
			Index:   m.Index,
			Meta:    append([]byte(nil), m.Meta...),
			Message: append([]byte(nil), m.Message...),
		}
		copy(tx.Signature[:], m.Signature)
		return codec.NewTransactionRecord(tx), true

	case u.Block != nil:
		m := u.Block
		if len(m.Blockhash) != 32 {
			return nil, a.translationFailed(codec.KindBlock)
		}
		b := &codec.Block{
			Slot:            m.Slot,
			ParentSlot:      m.ParentSlot,
			BlockTime:       m.BlockTime,
			BlockHeight:     m.BlockHeight,
			ExecutedTxCount: m.ExecutedTxCount,
			EntryCount:      m.EntryCount,
		}
		copy(b.Blockhash[:], m.Blockhash)
		return codec.NewBlockRecord(b), true

	case u.Slot != nil:
		m := u.Slot
		return codec.NewSlotRecord(&codec.Slot{
			Slot:   m.Slot,
			Parent: m.Parent,
			Status: m.Status,
		}), true

	default:
		return nil, a.translationFailed(codec.Kind(0xFF))
	}
}

func (a *Adapter) translationFailed(kind codec.Kind) bool {
	a.translationErrors.Add(1)
	if a.metrics != nil {
		a.metrics.TranslationErrors.WithLabelValues(kind.String()).Inc()
	}
	return false
}
