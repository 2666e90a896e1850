package aggregator

import (
	"bufio"
	"io"
	"os"
	"sync"

	"github.com/Numi2/solana-numistack/codec"
	"github.com/Numi2/solana-numistack/errors"
)

// JSONSink writes line-delimited JSON events to a writer, one record per
// line.
type JSONSink struct {
	name string
	w    *bufio.Writer
	c    io.Closer

	mu sync.Mutex
}

// NewStdoutSink creates a JSONL sink on standard output.
func NewStdoutSink() *JSONSink {
	return &JSONSink{name: "stdout", w: bufio.NewWriter(os.Stdout)}
}

// NewFileSink creates a JSONL sink appending to path.
func NewFileSink(path string) (*JSONSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.WrapFatal(err, "JSONSink", "NewFileSink", "open output file")
	}
	return &JSONSink{name: "file", w: bufio.NewWriter(f), c: f}, nil
}

// Name returns the sink name used in metrics labels.
func (s *JSONSink) Name() string { return s.name }

// Write renders rec as one JSON line.
func (s *JSONSink) Write(rec *codec.Record) error {
	line, err := MarshalEvent(rec)
	if err != nil {
		return errors.WrapInvalid(err, "JSONSink", "Write", "event marshal")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(line); err != nil {
		return errors.WrapTransient(err, "JSONSink", "Write", "line write")
	}
	if err := s.w.WriteByte('\n'); err != nil {
		return errors.WrapTransient(err, "JSONSink", "Write", "line write")
	}
	return s.w.Flush()
}

// Close flushes buffered lines and closes the underlying file, if any.
func (s *JSONSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.w.Flush(); err != nil {
		return err
	}
	if s.c != nil {
		return s.c.Close()
	}
	return nil
}
