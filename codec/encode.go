package codec

import (
	"encoding/binary"

	"github.com/OneOfOne/xxhash"
	"github.com/pierrec/lz4/v4"
)

// Encode returns a single frame carrying r.
func Encode(r *Record, opts Options) ([]byte, error) {
	return AppendEncode(nil, r, opts)
}

// AppendEncode appends a single frame carrying r to dst and returns the
// extended slice. The frame is written into dst's spare capacity, so a pooled
// buffer is reused; the record payload is first built in a newly allocated
// slice.
func AppendEncode(dst []byte, r *Record, opts Options) ([]byte, error) {
	payload, err := recordPayload(r, opts.Archived)
	if err != nil {
		return nil, err
	}
	return finishFrame(dst, payload, frameFlags(opts), opts)
}

// EncodeBatch returns one batch frame carrying records in order. It fails
// with ErrLenExceedsMax when the total would exceed the configured max frame
// size. Batch frames are semantically equivalent to emitting each record as
// its own frame.
func EncodeBatch(records []*Record, opts Options) ([]byte, error) {
	if len(records) == 0 {
		return nil, ErrMalformedPayload
	}
	var payload []byte
	for _, r := range records {
		sub, err := recordPayload(r, opts.Archived)
		if err != nil {
			return nil, err
		}
		payload = binary.LittleEndian.AppendUint32(payload, uint32(len(sub)))
		payload = append(payload, sub...)
		if HeaderSize+len(payload) > opts.maxFrame() {
			return nil, ErrLenExceedsMax
		}
	}
	return finishFrame(nil, payload, frameFlags(opts)|FlagBatch, opts)
}

func frameFlags(opts Options) byte {
	if opts.Archived {
		return FlagArchived
	}
	return 0
}

// finishFrame compresses the payload when profitable, prepends the header,
// and enforces the frame cap.
func finishFrame(dst, payload []byte, flags byte, opts Options) ([]byte, error) {
	if opts.Compress && len(payload) >= opts.threshold() {
		comp := make([]byte, 4+lz4.CompressBlockBound(len(payload)))
		n, err := lz4.CompressBlock(payload, comp[4:], nil)
		if err == nil && n > 0 && 4+n < len(payload) {
			// First 4 bytes of the compressed payload carry the
			// decompressed length.
			binary.LittleEndian.PutUint32(comp[0:4], uint32(len(payload)))
			payload = comp[:4+n]
			flags |= FlagLZ4
		}
	}

	if HeaderSize+len(payload) > opts.maxFrame() {
		return nil, ErrLenExceedsMax
	}

	start := len(dst)
	dst = append(dst, make([]byte, HeaderSize)...)
	dst = append(dst, payload...)
	putHeader(dst[start:], flags, len(payload), xxhash.Checksum32(payload))
	return dst, nil
}

func recordPayload(r *Record, archived bool) ([]byte, error) {
	if archived {
		return appendArchivedPayload(nil, r)
	}
	return appendCanonicalPayload(nil, r)
}

// appendCanonicalPayload serializes r in the compact canonical encoding:
// a kind byte, fixed-width little-endian scalars, one presence byte per
// optional field, and a 4-byte length prefix per variable-size field.
func appendCanonicalPayload(dst []byte, r *Record) ([]byte, error) {
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
		if a.TxnSignature != nil {
			dst = append(dst, 1)
			dst = append(dst, a.TxnSignature[:]...)
		} else {
			dst = append(dst, 0)
		}
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
		dst = append(dst, t.Meta...)
		dst = binary.LittleEndian.AppendUint32(dst, uint32(len(t.Message)))
		dst = append(dst, t.Message...)

	case KindBlock:
		b := r.Block
		if b == nil {
			return nil, ErrMalformedPayload
		}
		dst = binary.LittleEndian.AppendUint64(dst, b.Slot)
		dst = append(dst, b.Blockhash[:]...)
		dst = binary.LittleEndian.AppendUint64(dst, b.ParentSlot)
		if b.BlockTime != nil {
			dst = append(dst, 1)
			dst = binary.LittleEndian.AppendUint64(dst, uint64(*b.BlockTime))
		} else {
			dst = append(dst, 0)
		}
		if b.BlockHeight != nil {
			dst = append(dst, 1)
			dst = binary.LittleEndian.AppendUint64(dst, *b.BlockHeight)
		} else {
			dst = append(dst, 0)
		}
		dst = binary.LittleEndian.AppendUint32(dst, b.ExecutedTxCount)
		dst = binary.LittleEndian.AppendUint64(dst, b.EntryCount)

	case KindSlot:
		s := r.Slot
		if s == nil {
			return nil, ErrMalformedPayload
		}
		dst = binary.LittleEndian.AppendUint64(dst, s.Slot)
		if s.Parent != nil {
			dst = append(dst, 1)
			dst = binary.LittleEndian.AppendUint64(dst, *s.Parent)
		} else {
			dst = append(dst, 0)
		}
		dst = append(dst, byte(s.Status))

	case KindEndOfStartup:
		// kind byte only

	default:
		return nil, ErrMalformedPayload
	}
	return dst, nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
