// Package codec implements the frame format shared by every producer and
// consumer in the pipeline: a fixed 12-byte little-endian header followed by
// a payload carrying one canonical record, one archived (zero-copy) record,
// or a batch of length-delimited sub-frames. Payloads may be LZ4 block
// compressed; integrity is guarded by an xxhash32 checksum over the payload
// bytes as they appear on the wire.
package codec

import (
	"encoding/binary"
	"errors"
)

// Frame header constants. The header is little-endian, so the u16 magic
// 0xFA57 serializes as bytes 0x57 0xFA and the first byte on any connection
// is always 0x57.
const (
	Magic   uint16 = 0xFA57
	Version byte   = 1

	// HeaderSize is the fixed byte length of the frame header.
	HeaderSize = 12

	// MagicFirstByte is the low byte of the magic, the first byte on the wire.
	MagicFirstByte byte = 0x57
)

// Flag bits. Reserved bits must be zero; decoders reject frames that set them.
const (
	FlagLZ4      byte = 1 << 0 // payload is LZ4 block compressed
	FlagArchived byte = 1 << 1 // payload uses the fixed in-place layout
	FlagBatch    byte = 1 << 2 // payload is a concatenation of sub-frames

	flagKnown = FlagLZ4 | FlagArchived | FlagBatch
)

// DefaultMaxFrameBytes is the hard frame cap applied when a config leaves it
// unset.
const DefaultMaxFrameBytes = 16 << 20

// DefaultCompressThreshold is the minimum payload size that compression is
// attempted on; smaller payloads ship uncompressed even when compression is
// enabled.
const DefaultCompressThreshold = 2048

// Protocol errors. These are plain sentinels that carry no errors.ErrorClass;
// a stream that produces one cannot be recovered mid-connection.
var (
	ErrBadMagic           = errors.New("codec: bad magic")
	ErrUnsupportedVersion = errors.New("codec: unsupported version")
	ErrReservedBitsSet    = errors.New("codec: reserved flag bits set")
	ErrLenExceedsMax      = errors.New("codec: payload length exceeds max frame size")
	ErrChecksumMismatch   = errors.New("codec: checksum mismatch")
	ErrDecompressFailed   = errors.New("codec: decompression failed")
	ErrMalformedPayload   = errors.New("codec: malformed payload")
	ErrTruncated          = errors.New("codec: truncated frame")
)

// Options controls frame encoding.
type Options struct {
	// Compress enables LZ4 payload compression (flag bit0).
	Compress bool
	// Archived selects the fixed in-place layout (flag bit1).
	Archived bool
	// CompressThreshold is the minimum payload size compression is attempted
	// on. Zero means DefaultCompressThreshold.
	CompressThreshold int
	// MaxFrameBytes caps the total frame size. Zero means
	// DefaultMaxFrameBytes. Encoders fail rather than exceed it.
	MaxFrameBytes int
}

// DefaultOptions returns encoding options suited to low-latency local
// sockets: no compression, canonical layout, default frame cap.
func DefaultOptions() Options {
	return Options{}
}

func (o Options) maxFrame() int {
	if o.MaxFrameBytes > 0 {
		return o.MaxFrameBytes
	}
	return DefaultMaxFrameBytes
}

func (o Options) threshold() int {
	if o.CompressThreshold > 0 {
		return o.CompressThreshold
	}
	return DefaultCompressThreshold
}

// Header is the parsed form of the 12-byte frame header.
type Header struct {
	Flags      byte
	PayloadLen uint32
	Checksum   uint32
}

// ParseHeader validates the fixed header fields in buf. It never reads past
// HeaderSize bytes. maxFrame bounds the declared payload length; pass 0 for
// the default cap.
func ParseHeader(buf []byte, maxFrame int) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, ErrTruncated
	}
	if binary.LittleEndian.Uint16(buf[0:2]) != Magic {
		return Header{}, ErrBadMagic
	}
	if buf[2] != Version {
		return Header{}, ErrUnsupportedVersion
	}
	flags := buf[3]
	if flags&^flagKnown != 0 {
		return Header{}, ErrReservedBitsSet
	}
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrameBytes
	}
	payloadLen := binary.LittleEndian.Uint32(buf[4:8])
	if int(payloadLen) > maxFrame {
		return Header{}, ErrLenExceedsMax
	}
	return Header{
		Flags:      flags,
		PayloadLen: payloadLen,
		Checksum:   binary.LittleEndian.Uint32(buf[8:12]),
	}, nil
}

func putHeader(dst []byte, flags byte, payloadLen int, checksum uint32) {
	binary.LittleEndian.PutUint16(dst[0:2], Magic)
	dst[2] = Version
	dst[3] = flags
	binary.LittleEndian.PutUint32(dst[4:8], uint32(payloadLen))
	binary.LittleEndian.PutUint32(dst[8:12], checksum)
}
