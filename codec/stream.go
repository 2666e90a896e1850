package codec

import "io"

// StreamDecoder lazily decodes a concatenation of frames from a reader,
// yielding records in wire order. The stream has no framing anchor beyond
// the header itself, so any protocol error terminates the stream: the error
// is sticky and every subsequent Next returns it.
type StreamDecoder struct {
	r        io.Reader
	maxFrame int

	buf     []byte
	pending []*Record
	err     error
}

// NewStreamDecoder wraps r. maxFrame bounds each frame; pass 0 for the
// default cap.
func NewStreamDecoder(r io.Reader, maxFrame int) *StreamDecoder {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrameBytes
	}
	return &StreamDecoder{
		r:        r,
		maxFrame: maxFrame,
		buf:      make([]byte, 0, 64*1024),
	}
}

// Next returns the next record. io.EOF signals a clean end of stream on a
// frame boundary; io.ErrUnexpectedEOF signals a stream cut mid-frame.
func (d *StreamDecoder) Next() (*Record, error) {
	if d.err != nil {
		return nil, d.err
	}
	for {
		if len(d.pending) > 0 {
			r := d.pending[0]
			d.pending = d.pending[1:]
			return r, nil
		}

		records, consumed, err := DecodeFrame(d.buf, d.maxFrame)
		switch err {
		case nil:
			d.buf = d.buf[:copy(d.buf, d.buf[consumed:])]
			d.pending = records
			continue
		case ErrTruncated:
			if ferr := d.fill(); ferr != nil {
				d.err = ferr
				return nil, ferr
			}
		default:
			d.err = err
			return nil, err
		}
	}
}

func (d *StreamDecoder) fill() error {
	chunk := make([]byte, 64*1024)
	n, err := d.r.Read(chunk)
	if n > 0 {
		d.buf = append(d.buf, chunk[:n]...)
		return nil
	}
	if err == io.EOF {
		if len(d.buf) > 0 {
			return io.ErrUnexpectedEOF
		}
		return io.EOF
	}
	if err == nil {
		return io.ErrNoProgress
	}
	return err
}
