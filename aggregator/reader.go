package aggregator

import (
	"log/slog"
	"math"
	"net"
	"time"

	"golang.org/x/time/rate"

	"github.com/Numi2/solana-numistack/codec"
	"github.com/Numi2/solana-numistack/metric"
)

const initialReadBuffer = 64 * 1024

// connReader owns one accepted connection: it accumulates bytes, validates
// and decodes frames, skips oversize frames, and hands decoded records to
// the dispatcher. Any protocol error closes the connection; there is no
// resync.
type connReader struct {
	conn        net.Conn
	maxFrame    int
	idleTimeout time.Duration
	dispatch    func(*codec.Record)
	metrics     *metric.Metrics
	logger      *slog.Logger
	oversizeLog *rate.Limiter

	buf []byte
	// skipRemaining counts payload bytes of an oversize frame still to be
	// read and discarded.
	skipRemaining int
	checkedFirst  bool
}

// run reads until the peer closes, the idle timeout fires, or a protocol
// error occurs.
func (r *connReader) run() {
	defer r.conn.Close()
	r.buf = make([]byte, 0, initialReadBuffer)
	chunk := make([]byte, initialReadBuffer)

	for {
		if r.idleTimeout > 0 {
			_ = r.conn.SetReadDeadline(time.Now().Add(r.idleTimeout))
		}
		n, err := r.conn.Read(chunk)
		if n > 0 {
			if !r.consume(chunk[:n]) {
				return
			}
		}
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				r.logger.Info("connection idle, closing")
			}
			return
		}
	}
}

// consume folds freshly read bytes into the parse state. Returns false when
// the connection must close.
func (r *connReader) consume(in []byte) bool {
	// Finish discarding an oversize payload before buffering anything.
	if r.skipRemaining > 0 {
		if len(in) <= r.skipRemaining {
			r.skipRemaining -= len(in)
			return true
		}
		in = in[r.skipRemaining:]
		r.skipRemaining = 0
	}

	if !r.checkedFirst && len(in) > 0 {
		r.checkedFirst = true
		// The wire contract: a connection must open with the low byte of
		// the magic.
		if len(r.buf) == 0 && in[0] != codec.MagicFirstByte {
			r.logger.Warn("bad first byte, closing", "byte", in[0])
			r.countDecodeError()
			return false
		}
	}

	r.buf = append(r.buf, in...)

	for len(r.buf) >= codec.HeaderSize {
		// Parse the header with the cap lifted so an oversize frame can be
		// identified and skipped instead of killing the connection.
		h, err := codec.ParseHeader(r.buf, math.MaxInt)
		if err != nil {
			r.logger.Warn("protocol error, closing", "error", err)
			r.countDecodeError()
			return false
		}

		if int(h.PayloadLen) > r.maxFrame {
			if r.metrics != nil {
				r.metrics.Oversize.Inc()
			}
			if r.oversizeLog == nil || r.oversizeLog.Allow() {
				r.logger.Warn("oversize frame skipped",
					"payload_len", h.PayloadLen,
					"max_frame_bytes", r.maxFrame)
			}
			// Discard exactly the payload: whatever is buffered now, the
			// rest as it streams in.
			buffered := len(r.buf) - codec.HeaderSize
			if buffered >= int(h.PayloadLen) {
				r.buf = r.buf[:copy(r.buf, r.buf[codec.HeaderSize+int(h.PayloadLen):])]
				continue
			}
			r.skipRemaining = int(h.PayloadLen) - buffered
			r.buf = r.buf[:0]
			return true
		}

		records, consumed, err := codec.DecodeFrame(r.buf, r.maxFrame)
		if err == codec.ErrTruncated {
			break // need more bytes
		}
		if err != nil {
			r.logger.Warn("decode error, closing", "error", err)
			r.countDecodeError()
			return false
		}
		for _, rec := range records {
			if r.metrics != nil {
				r.metrics.RecordFrameDecoded(rec.Kind.String())
			}
			r.dispatch(rec)
		}
		r.buf = r.buf[:copy(r.buf, r.buf[consumed:])]
	}
	return true
}

func (r *connReader) countDecodeError() {
	if r.metrics != nil {
		r.metrics.DecodeErrors.Inc()
	}
}
