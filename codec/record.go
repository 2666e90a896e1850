package codec

// Kind discriminates the record variants.
type Kind uint8

const (
	KindAccount Kind = iota
	KindTransaction
	KindBlock
	KindSlot
	KindEndOfStartup
)

// String returns the metric label for the kind.
func (k Kind) String() string {
	switch k {
	case KindAccount:
		return "account"
	case KindTransaction:
		return "transaction"
	case KindBlock:
		return "block"
	case KindSlot:
		return "slot"
	case KindEndOfStartup:
		return "end_of_startup"
	default:
		return "unknown"
	}
}

// SlotStatus is the commitment state of a slot. Unknown values decode
// verbatim and are forwarded opaquely so future statuses pass through.
type SlotStatus uint8

const (
	SlotProcessed SlotStatus = iota
	SlotConfirmed
	SlotRooted
	SlotFirstShredReceived
	SlotCompleted
	SlotCreatedBank
	SlotDead
)

func (s SlotStatus) String() string {
	switch s {
	case SlotProcessed:
		return "processed"
	case SlotConfirmed:
		return "confirmed"
	case SlotRooted:
		return "rooted"
	case SlotFirstShredReceived:
		return "first_shred_received"
	case SlotCompleted:
		return "completed"
	case SlotCreatedBank:
		return "created_bank"
	case SlotDead:
		return "dead"
	default:
		return "unknown"
	}
}

// Account is an account state update observed at a slot.
type Account struct {
	Slot         uint64
	Pubkey       [32]byte
	Owner        [32]byte
	Lamports     uint64
	RentEpoch    uint64
	WriteVersion uint64
	Executable   bool
	Data         []byte
	TxnSignature *[64]byte
}

// Transaction is a processed transaction with its opaque meta and message.
type Transaction struct {
	Slot      uint64
	Signature [64]byte
	IsVote    bool
	Index     uint32
	Meta      []byte
	Message   []byte
}

// Block carries block-level metadata.
type Block struct {
	Slot            uint64
	Blockhash       [32]byte
	ParentSlot      uint64
	BlockTime       *int64
	BlockHeight     *uint64
	ExecutedTxCount uint32
	EntryCount      uint64
}

// Slot is a slot status transition.
type Slot struct {
	Slot   uint64
	Parent *uint64
	Status SlotStatus
}

// Record is the tagged variant carried by every frame. Exactly the field
// matching Kind is non-nil; KindEndOfStartup carries no body.
type Record struct {
	Kind        Kind
	Account     *Account
	Transaction *Transaction
	Block       *Block
	Slot        *Slot
}

// NewAccountRecord wraps an account update.
func NewAccountRecord(a *Account) *Record {
	return &Record{Kind: KindAccount, Account: a}
}

// NewTransactionRecord wraps a transaction update.
func NewTransactionRecord(t *Transaction) *Record {
	return &Record{Kind: KindTransaction, Transaction: t}
}

// NewBlockRecord wraps block metadata.
func NewBlockRecord(b *Block) *Record {
	return &Record{Kind: KindBlock, Block: b}
}

// NewSlotRecord wraps a slot status transition.
func NewSlotRecord(s *Slot) *Record {
	return &Record{Kind: KindSlot, Slot: s}
}

// NewEndOfStartupRecord marks the end of the host's startup replay.
func NewEndOfStartupRecord() *Record {
	return &Record{Kind: KindEndOfStartup}
}
