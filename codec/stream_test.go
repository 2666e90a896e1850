package codec

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamDecoderYieldsWireOrder(t *testing.T) {
	var wire bytes.Buffer
	want := []*Record{
		sampleAccount(1), sampleSlot(2), sampleTransaction(3), sampleBlock(4),
	}
	for _, r := range want {
		frame, err := Encode(r, Options{})
		require.NoError(t, err)
		wire.Write(frame)
	}

	d := NewStreamDecoder(&wire, 0)
	for i, w := range want {
		got, err := d.Next()
		require.NoError(t, err, "record %d", i)
		assert.Equal(t, w, got)
	}
	_, err := d.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestStreamDecoderExpandsBatches(t *testing.T) {
	records := []*Record{sampleSlot(1), sampleSlot(2), sampleSlot(3)}
	frame, err := EncodeBatch(records, Options{})
	require.NoError(t, err)

	single, err := Encode(sampleSlot(4), Options{})
	require.NoError(t, err)

	d := NewStreamDecoder(bytes.NewReader(append(frame, single...)), 0)
	for i := uint64(1); i <= 4; i++ {
		got, err := d.Next()
		require.NoError(t, err)
		assert.Equal(t, i, got.Slot.Slot)
	}
	_, err = d.Next()
	assert.ErrorIs(t, err, io.EOF)
}

// oneByteReader yields the stream one byte per Read to exercise partial
// header and payload accumulation.
type oneByteReader struct{ data []byte }

func (r *oneByteReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	p[0] = r.data[0]
	r.data = r.data[1:]
	return 1, nil
}

func TestStreamDecoderHandlesShortReads(t *testing.T) {
	frame, err := Encode(sampleAccount(9), Options{})
	require.NoError(t, err)

	d := NewStreamDecoder(&oneByteReader{data: frame}, 0)
	got, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, sampleAccount(9), got)
}

func TestStreamDecoderFatalOnHeaderCorruption(t *testing.T) {
	frame, err := Encode(sampleSlot(1), Options{})
	require.NoError(t, err)
	frame[0] = 0x00

	d := NewStreamDecoder(bytes.NewReader(frame), 0)
	_, err = d.Next()
	require.ErrorIs(t, err, ErrBadMagic)

	// The error is sticky: no resync is attempted.
	_, err = d.Next()
	assert.ErrorIs(t, err, ErrBadMagic)
}

func TestStreamDecoderMidFrameCut(t *testing.T) {
	frame, err := Encode(sampleAccount(1), Options{})
	require.NoError(t, err)

	d := NewStreamDecoder(bytes.NewReader(frame[:len(frame)-3]), 0)
	_, err = d.Next()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestStreamDecoderEnforcesMaxFrame(t *testing.T) {
	rec := sampleAccount(1)
	rec.Account.Data = bytes.Repeat([]byte{1}, 4096)
	frame, err := Encode(rec, Options{})
	require.NoError(t, err)

	d := NewStreamDecoder(bytes.NewReader(frame), 1024)
	_, err = d.Next()
	assert.ErrorIs(t, err, ErrLenExceedsMax)
}
