package aggregator

import (
	"time"

	"github.com/nats-io/nats.go"

	"github.com/Numi2/solana-numistack/codec"
	"github.com/Numi2/solana-numistack/errors"
)

// NATSSink publishes JSON events to per-kind subjects:
// <prefix>.account, <prefix>.transaction, <prefix>.block, <prefix>.slot.
type NATSSink struct {
	conn   *nats.Conn
	prefix string
}

// NewNATSSink connects to a NATS server. The prefix defaults to "records".
func NewNATSSink(url, subjectPrefix string) (*NATSSink, error) {
	if subjectPrefix == "" {
		subjectPrefix = "records"
	}
	conn, err := nats.Connect(url,
		nats.Name("ultra-aggregator"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, errors.WrapTransient(err, "NATSSink", "NewNATSSink", "connect")
	}
	return &NATSSink{conn: conn, prefix: subjectPrefix}, nil
}

// Name returns the sink name used in metrics labels.
func (s *NATSSink) Name() string { return "nats" }

// Write publishes rec as a JSON event on its kind subject.
func (s *NATSSink) Write(rec *codec.Record) error {
	payload, err := MarshalEvent(rec)
	if err != nil {
		return errors.WrapInvalid(err, "NATSSink", "Write", "event marshal")
	}
	subject := s.prefix + "." + rec.Kind.String()
	if err := s.conn.Publish(subject, payload); err != nil {
		return errors.WrapTransient(err, "NATSSink", "Write", "publish")
	}
	return nil
}

// Close flushes and drops the connection.
func (s *NATSSink) Close() error {
	if err := s.conn.Flush(); err != nil {
		s.conn.Close()
		return errors.WrapTransient(err, "NATSSink", "Close", "flush")
	}
	s.conn.Close()
	return nil
}
