package codec

import "encoding/binary"

// Archived layout. Unlike the canonical encoding, every optional field
// reserves its full width with a presence byte, so each scalar lives at a
// fixed offset and a reader can take typed views over the raw payload
// without copying. Variable-length tails follow the fixed prefix; their
// lengths live inside the prefix.
//
// Offsets below are relative to the payload start; payload[0] is the kind.
const (
	archAccountFixed     = 167 // ... data_len u32 @163, data @167
	archTransactionFixed = 86  // ... meta_len u32 @78, msg_len u32 @82
	archBlockSize        = 79
	archSlotSize         = 19
)

func appendArchivedPayload(dst []byte, r *Record) ([]byte, error) {
	dst = append(dst, byte(r.Kind))
	switch r.Kind {
	case KindAccount:
		a := r.Account
		if a == nil {
			return nil, ErrMalformedPayload
		}
		dst = binary.LittleEndian.AppendUint64(dst, a.Slot)
		dst = append(dst, a.Pubkey[:]...)
		dst = append(dst, a.Owner[:]...)
		dst = binary.LittleEndian.AppendUint64(dst, a.Lamports)
		dst = binary.LittleEndian.AppendUint64(dst, a.RentEpoch)
		dst = binary.LittleEndian.AppendUint64(dst, a.WriteVersion)
		dst = append(dst, boolByte(a.Executable))
		var sig [64]byte
		if a.TxnSignature != nil {
			dst = append(dst, 1)
			sig = *a.TxnSignature
		} else {
			dst = append(dst, 0)
		}
		dst = append(dst, sig[:]...)
		dst = binary.LittleEndian.AppendUint32(dst, uint32(len(a.Data)))
		dst = append(dst, a.Data...)

	case KindTransaction:
		t := r.Transaction
		if t == nil {
			return nil, ErrMalformedPayload
		}
		dst = binary.LittleEndian.AppendUint64(dst, t.Slot)
		dst = append(dst, t.Signature[:]...)
		dst = append(dst, boolByte(t.IsVote))
		dst = binary.LittleEndian.AppendUint32(dst, t.Index)
		dst = binary.LittleEndian.AppendUint32(dst, uint32(len(t.Meta)))
		dst = binary.LittleEndian.AppendUint32(dst, uint32(len(t.Message)))
		dst = append(dst, t.Meta...)
		dst = append(dst, t.Message...)

	case KindBlock:
		b := r.Block
		if b == nil {
			return nil, ErrMalformedPayload
		}
		dst = binary.LittleEndian.AppendUint64(dst, b.Slot)
		dst = append(dst, b.Blockhash[:]...)
		dst = binary.LittleEndian.AppendUint64(dst, b.ParentSlot)
		var bt int64
		if b.BlockTime != nil {
			dst = append(dst, 1)
			bt = *b.BlockTime
		} else {
			dst = append(dst, 0)
		}
		dst = binary.LittleEndian.AppendUint64(dst, uint64(bt))
		var bh uint64
		if b.BlockHeight != nil {
			dst = append(dst, 1)
			bh = *b.BlockHeight
		} else {
			dst = append(dst, 0)
		}
		dst = binary.LittleEndian.AppendUint64(dst, bh)
		dst = binary.LittleEndian.AppendUint32(dst, b.ExecutedTxCount)
		dst = binary.LittleEndian.AppendUint64(dst, b.EntryCount)

	case KindSlot:
		s := r.Slot
		if s == nil {
			return nil, ErrMalformedPayload
		}
		dst = binary.LittleEndian.AppendUint64(dst, s.Slot)
		var parent uint64
		if s.Parent != nil {
			dst = append(dst, 1)
			parent = *s.Parent
		} else {
			dst = append(dst, 0)
		}
		dst = binary.LittleEndian.AppendUint64(dst, parent)
		dst = append(dst, byte(s.Status))

	case KindEndOfStartup:
		// kind byte only

	default:
		return nil, ErrMalformedPayload
	}
	return dst, nil
}

// parseArchivedPayload is the copy fallback for readers that do not hold on
// to the archived view.
func parseArchivedPayload(payload []byte) (*Record, error) {
	if len(payload) < 1 {
		return nil, ErrMalformedPayload
	}
	switch Kind(payload[0]) {
	case KindAccount:
		v, err := NewAccountView(payload)
		if err != nil {
			return nil, err
		}
		return NewAccountRecord(v.ToAccount()), nil
	case KindTransaction:
		v, err := NewTransactionView(payload)
		if err != nil {
			return nil, err
		}
		return NewTransactionRecord(v.ToTransaction()), nil
	case KindBlock:
		v, err := NewBlockView(payload)
		if err != nil {
			return nil, err
		}
		return NewBlockRecord(v.ToBlock()), nil
	case KindSlot:
		v, err := NewSlotView(payload)
		if err != nil {
			return nil, err
		}
		return NewSlotRecord(v.ToSlot()), nil
	case KindEndOfStartup:
		if len(payload) != 1 {
			return nil, ErrMalformedPayload
		}
		return NewEndOfStartupRecord(), nil
	default:
		return nil, ErrMalformedPayload
	}
}

// AccountView is a zero-copy read-only view over an archived account
// payload. Accessors returning slices alias the underlying buffer; the view
// is valid only while that buffer is.
type AccountView []byte

// NewAccountView validates payload and returns a view over it.
func NewAccountView(payload []byte) (AccountView, error) {
	if len(payload) < archAccountFixed || Kind(payload[0]) != KindAccount {
		return nil, ErrMalformedPayload
	}
	dataLen := int(binary.LittleEndian.Uint32(payload[163:167]))
	if len(payload) != archAccountFixed+dataLen {
		return nil, ErrMalformedPayload
	}
	return AccountView(payload), nil
}

func (v AccountView) Slot() uint64 { return binary.LittleEndian.Uint64(v[1:9]) }
func (v AccountView) Pubkey() []byte { return v[9:41] }
func (v AccountView) Owner() []byte { return v[41:73] }
func (v AccountView) Lamports() uint64 { return binary.LittleEndian.Uint64(v[73:81]) }
func (v AccountView) RentEpoch() uint64 { return binary.LittleEndian.Uint64(v[81:89]) }
func (v AccountView) WriteVersion() uint64 { return binary.LittleEndian.Uint64(v[89:97]) }
func (v AccountView) Executable() bool { return v[97] != 0 }
func (v AccountView) Data() []byte { return v[archAccountFixed:] }

// TxnSignature returns the transaction signature bytes, or nil when absent.
func (v AccountView) TxnSignature() []byte {
	if v[98] == 0 {
		return nil
	}
	return v[99:163]
}

// ToAccount copies the view into an owned Account.
func (v AccountView) ToAccount() *Account {
	a := &Account{
		Slot:         v.Slot(),
		Lamports:     v.Lamports(),
		RentEpoch:    v.RentEpoch(),
		WriteVersion: v.WriteVersion(),
		Executable:   v.Executable(),
		Data:         append([]byte(nil), v.Data()...),
	}
	copy(a.Pubkey[:], v.Pubkey())
	copy(a.Owner[:], v.Owner())
	if sig := v.TxnSignature(); sig != nil {
		var s [64]byte
		copy(s[:], sig)
		a.TxnSignature = &s
	}
	return a
}

// TransactionView is a zero-copy view over an archived transaction payload.
type TransactionView []byte

// NewTransactionView validates payload and returns a view over it.
func NewTransactionView(payload []byte) (TransactionView, error) {
	if len(payload) < archTransactionFixed || Kind(payload[0]) != KindTransaction {
		return nil, ErrMalformedPayload
	}
	metaLen := int(binary.LittleEndian.Uint32(payload[78:82]))
	msgLen := int(binary.LittleEndian.Uint32(payload[82:86]))
	if len(payload) != archTransactionFixed+metaLen+msgLen {
		return nil, ErrMalformedPayload
	}
	return TransactionView(payload), nil
}

func (v TransactionView) Slot() uint64 { return binary.LittleEndian.Uint64(v[1:9]) }
func (v TransactionView) Signature() []byte { return v[9:73] }
func (v TransactionView) IsVote() bool { return v[73] != 0 }
func (v TransactionView) Index() uint32 { return binary.LittleEndian.Uint32(v[74:78]) }

func (v TransactionView) Meta() []byte {
	metaLen := int(binary.LittleEndian.Uint32(v[78:82]))
	return v[archTransactionFixed : archTransactionFixed+metaLen]
}

func (v TransactionView) Message() []byte {
	metaLen := int(binary.LittleEndian.Uint32(v[78:82]))
	return v[archTransactionFixed+metaLen:]
}

// ToTransaction copies the view into an owned Transaction.
func (v TransactionView) ToTransaction() *Transaction {
	t := &Transaction{
		Slot:    v.Slot(),
		IsVote:  v.IsVote(),
		Index:   v.Index(),
		Meta:    append([]byte(nil), v.Meta()...),
		Message: append([]byte(nil), v.Message()...),
	}
	copy(t.Signature[:], v.Signature())
	return t
}

// BlockView is a zero-copy view over an archived block payload.
type BlockView []byte

// NewBlockView validates payload and returns a view over it.
func NewBlockView(payload []byte) (BlockView, error) {
	if len(payload) != archBlockSize || Kind(payload[0]) != KindBlock {
		return nil, ErrMalformedPayload
	}
	return BlockView(payload), nil
}

func (v BlockView) Slot() uint64 { return binary.LittleEndian.Uint64(v[1:9]) }
func (v BlockView) Blockhash() []byte { return v[9:41] }
func (v BlockView) ParentSlot() uint64 { return binary.LittleEndian.Uint64(v[41:49]) }
func (v BlockView) ExecutedTxCount() uint32 { return binary.LittleEndian.Uint32(v[67:71]) }
func (v BlockView) EntryCount() uint64 { return binary.LittleEndian.Uint64(v[71:79]) }

// BlockTime returns the block time and whether it is present.
func (v BlockView) BlockTime() (int64, bool) {
	if v[49] == 0 {
		return 0, false
	}
	return int64(binary.LittleEndian.Uint64(v[50:58])), true
}

// BlockHeight returns the block height and whether it is present.
func (v BlockView) BlockHeight() (uint64, bool) {
	if v[58] == 0 {
		return 0, false
	}
	return binary.LittleEndian.Uint64(v[59:67]), true
}

// ToBlock copies the view into an owned Block.
func (v BlockView) ToBlock() *Block {
	b := &Block{
		Slot:            v.Slot(),
		ParentSlot:      v.ParentSlot(),
		ExecutedTxCount: v.ExecutedTxCount(),
		EntryCount:      v.EntryCount(),
	}
	copy(b.Blockhash[:], v.Blockhash())
	if t, ok := v.BlockTime(); ok {
		b.BlockTime = &t
	}
	if h, ok := v.BlockHeight(); ok {
		b.BlockHeight = &h
	}
	return b
}

// SlotView is a zero-copy view over an archived slot payload.
type SlotView []byte

// NewSlotView validates payload and returns a view over it.
func NewSlotView(payload []byte) (SlotView, error) {
	if len(payload) != archSlotSize || Kind(payload[0]) != KindSlot {
		return nil, ErrMalformedPayload
	}
	return SlotView(payload), nil
}

func (v SlotView) Slot() uint64 { return binary.LittleEndian.Uint64(v[1:9]) }
func (v SlotView) Status() SlotStatus { return SlotStatus(v[18]) }

// Parent returns the parent slot and whether it is present.
func (v SlotView) Parent() (uint64, bool) {
	if v[9] == 0 {
		return 0, false
	}
	return binary.LittleEndian.Uint64(v[10:18]), true
}

// ToSlot copies the view into an owned Slot.
func (v SlotView) ToSlot() *Slot {
	s := &Slot{Slot: v.Slot(), Status: v.Status()}
	if p, ok := v.Parent(); ok {
		s.Parent = &p
	}
	return s
}
