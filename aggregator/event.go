package aggregator

import (
	"encoding/hex"
	"encoding/json"

	"github.com/Numi2/solana-numistack/codec"
)

// Event is the JSON shape sinks emit. Keys and signatures are hex-encoded;
// variable payloads are summarized by length so a slow consumer never holds
// megabytes of account data.
type Event struct {
	Type string `json:"type"`
	Slot uint64 `json:"slot,omitempty"`

	// Account fields
	Pubkey       string `json:"pubkey,omitempty"`
	Owner        string `json:"owner,omitempty"`
	Lamports     uint64 `json:"lamports,omitempty"`
	RentEpoch    uint64 `json:"rent_epoch,omitempty"`
	WriteVersion uint64 `json:"write_version,omitempty"`
	Executable   bool   `json:"executable,omitempty"`
	DataLen      int    `json:"data_len,omitempty"`
	TxnSignature string `json:"txn_signature,omitempty"`

	// Transaction fields
	Signature  string `json:"signature,omitempty"`
	IsVote     bool   `json:"is_vote,omitempty"`
	Index      uint32 `json:"index,omitempty"`
	MetaLen    int    `json:"meta_len,omitempty"`
	MessageLen int    `json:"message_len,omitempty"`

	// Block fields
	Blockhash       string  `json:"blockhash,omitempty"`
	ParentSlot      uint64  `json:"parent_slot,omitempty"`
	BlockTime       *int64  `json:"block_time,omitempty"`
	BlockHeight     *uint64 `json:"block_height,omitempty"`
	ExecutedTxCount uint32  `json:"executed_tx_count,omitempty"`
	EntryCount      uint64  `json:"entry_count,omitempty"`

	// Slot fields
	Parent *uint64 `json:"parent,omitempty"`
	Status string  `json:"status,omitempty"`
}

// NewEvent converts a record into its JSON event form.
func NewEvent(rec *codec.Record) Event {
	switch rec.Kind {
	case codec.KindAccount:
		a := rec.Account
		e := Event{
			Type:         "account",
			Slot:         a.Slot,
			Pubkey:       hex.EncodeToString(a.Pubkey[:]),
			Owner:        hex.EncodeToString(a.Owner[:]),
			Lamports:     a.Lamports,
			RentEpoch:    a.RentEpoch,
			WriteVersion: a.WriteVersion,
			Executable:   a.Executable,
			DataLen:      len(a.Data),
		}
		if a.TxnSignature != nil {
			e.TxnSignature = hex.EncodeToString(a.TxnSignature[:])
		}
		return e

	case codec.KindTransaction:
		t := rec.Transaction
		return Event{
			Type:       "transaction",
			Slot:       t.Slot,
			Signature:  hex.EncodeToString(t.Signature[:]),
			IsVote:     t.IsVote,
			Index:      t.Index,
			MetaLen:    len(t.Meta),
			MessageLen: len(t.Message),
		}

	case codec.KindBlock:
		b := rec.Block
		return Event{
			Type:            "block",
			Slot:            b.Slot,
			Blockhash:       hex.EncodeToString(b.Blockhash[:]),
			ParentSlot:      b.ParentSlot,
			BlockTime:       b.BlockTime,
			BlockHeight:     b.BlockHeight,
			ExecutedTxCount: b.ExecutedTxCount,
			EntryCount:      b.EntryCount,
		}

	case codec.KindSlot:
		s := rec.Slot
		return Event{
			Type:   "slot",
			Slot:   s.Slot,
			Parent: s.Parent,
			Status: s.Status.String(),
		}

	default:
		return Event{Type: "end_of_startup"}
	}
}

// MarshalEvent renders a record as one JSON line, without the trailing
// newline.
func MarshalEvent(rec *codec.Record) ([]byte, error) {
	e := NewEvent(rec)
	return json.Marshal(&e)
}
