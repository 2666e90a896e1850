package codec

import (
	"encoding/binary"

	"github.com/OneOfOne/xxhash"
	"github.com/pierrec/lz4/v4"
)

// Decode parses a single frame and returns the record it carries. A batch
// frame holding more than one record is rejected with ErrMalformedPayload (a
// batch of exactly one record decodes to that record); use DecodeBatch when
// the producer may batch.
func Decode(frame []byte) (*Record, error) {
	records, _, err := DecodeFrame(frame, 0)
	if err != nil {
		return nil, err
	}
	if len(records) != 1 {
		return nil, ErrMalformedPayload
	}
	return records[0], nil
}

// DecodeBatch parses one frame, batch or single, and returns its records in
// wire order.
func DecodeBatch(frame []byte) ([]*Record, error) {
	records, _, err := DecodeFrame(frame, 0)
	return records, err
}

// DecodeFrame parses exactly one frame from the front of buf and reports how
// many bytes it consumed. ErrTruncated means buf holds an incomplete frame
// and the caller should read more; every other error is a protocol failure.
// maxFrame bounds both the declared payload and the decompressed size; pass
// 0 for the default cap.
func DecodeFrame(buf []byte, maxFrame int) ([]*Record, int, error) {
	h, err := ParseHeader(buf, maxFrame)
	if err != nil {
		return nil, 0, err
	}
	total := HeaderSize + int(h.PayloadLen)
	if len(buf) < total {
		return nil, 0, ErrTruncated
	}
	payload := buf[HeaderSize:total]

	// Checksum covers the payload exactly as it appears on the wire,
	// before any decompression.
	if xxhash.Checksum32(payload) != h.Checksum {
		return nil, 0, ErrChecksumMismatch
	}

	if h.Flags&FlagLZ4 != 0 {
		payload, err = decompress(payload, maxFrame)
		if err != nil {
			return nil, 0, err
		}
	}

	parse := parseCanonicalPayload
	if h.Flags&FlagArchived != 0 {
		parse = parseArchivedPayload
	}

	if h.Flags&FlagBatch == 0 {
		r, err := parse(payload)
		if err != nil {
			return nil, 0, err
		}
		return []*Record{r}, total, nil
	}

	var records []*Record
	for len(payload) > 0 {
		if len(payload) < 4 {
			return nil, 0, ErrMalformedPayload
		}
		subLen := int(binary.LittleEndian.Uint32(payload[0:4]))
		payload = payload[4:]
		if subLen > len(payload) {
			return nil, 0, ErrMalformedPayload
		}
		r, err := parse(payload[:subLen])
		if err != nil {
			return nil, 0, err
		}
		records = append(records, r)
		payload = payload[subLen:]
	}
	if len(records) == 0 {
		return nil, 0, ErrMalformedPayload
	}
	return records, total, nil
}

func decompress(payload []byte, maxFrame int) ([]byte, error) {
	if len(payload) < 4 {
		return nil, ErrDecompressFailed
	}
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrameBytes
	}
	decLen := int(binary.LittleEndian.Uint32(payload[0:4]))
	if decLen > maxFrame {
		return nil, ErrLenExceedsMax
	}
	dst := make([]byte, decLen)
	n, err := lz4.UncompressBlock(payload[4:], dst)
	if err != nil || n != decLen {
		return nil, ErrDecompressFailed
	}
	return dst, nil
}

// byteReader provides bounds-checked cursor reads over a payload. Every
// failure is ErrMalformedPayload; offsets never move past the end.
type byteReader struct {
	buf []byte
	off int
	err error
}

func (br *byteReader) remaining() int { return len(br.buf) - br.off }

func (br *byteReader) take(n int) []byte {
	if br.err != nil {
		return nil
	}
	if br.remaining() < n {
		br.err = ErrMalformedPayload
		return nil
	}
	b := br.buf[br.off : br.off+n]
	br.off += n
	return b
}

func (br *byteReader) u8() byte {
	b := br.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (br *byteReader) u32() uint32 {
	b := br.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (br *byteReader) u64() uint64 {
	b := br.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (br *byteReader) bytes() []byte {
	n := int(br.u32())
	b := br.take(n)
	if b == nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

func parseCanonicalPayload(payload []byte) (*Record, error) {
	br := &byteReader{buf: payload}
	kind := Kind(br.u8())
	var rec *Record

	switch kind {
	case KindAccount:
		a := &Account{}
		a.Slot = br.u64()
		copy(a.Pubkey[:], br.take(32))
		copy(a.Owner[:], br.take(32))
		a.Lamports = br.u64()
		a.RentEpoch = br.u64()
		a.WriteVersion = br.u64()
		a.Executable = br.u8() != 0
		if br.u8() != 0 {
			var sig [64]byte
			copy(sig[:], br.take(64))
			a.TxnSignature = &sig
		}
		a.Data = br.bytes()
		rec = NewAccountRecord(a)

	case KindTransaction:
		t := &Transaction{}
		t.Slot = br.u64()
		copy(t.Signature[:], br.take(64))
		t.IsVote = br.u8() != 0
		t.Index = br.u32()
		t.Meta = br.bytes()
		t.Message = br.bytes()
		rec = NewTransactionRecord(t)

	case KindBlock:
		b := &Block{}
		b.Slot = br.u64()
		copy(b.Blockhash[:], br.take(32))
		b.ParentSlot = br.u64()
		if br.u8() != 0 {
			v := int64(br.u64())
			b.BlockTime = &v
		}
		if br.u8() != 0 {
			v := br.u64()
			b.BlockHeight = &v
		}
		b.ExecutedTxCount = br.u32()
		b.EntryCount = br.u64()
		rec = NewBlockRecord(b)

	case KindSlot:
		s := &Slot{}
		s.Slot = br.u64()
		if br.u8() != 0 {
			v := br.u64()
			s.Parent = &v
		}
		s.Status = SlotStatus(br.u8())
		rec = NewSlotRecord(s)

	case KindEndOfStartup:
		rec = NewEndOfStartupRecord()

	default:
		return nil, ErrMalformedPayload
	}

	if br.err != nil {
		return nil, br.err
	}
	if br.remaining() != 0 {
		return nil, ErrMalformedPayload
	}
	return rec, nil
}
