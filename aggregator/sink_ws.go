package aggregator

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Numi2/solana-numistack/codec"
	"github.com/Numi2/solana-numistack/errors"
)

// WebsocketSink broadcasts JSON events to every connected websocket client.
// Clients that cannot keep up are disconnected rather than buffered.
type WebsocketSink struct {
	server   *http.Server
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

// NewWebsocketSink starts an HTTP server on addr serving websocket upgrades
// at /stream.
func NewWebsocketSink(addr string) (*WebsocketSink, error) {
	s := &WebsocketSink{
		clients: make(map[*websocket.Conn]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 64 * 1024,
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/stream", s.handleUpgrade)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.WrapFatal(err, "WebsocketSink", "NewWebsocketSink", "listen")
	}
	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		_ = s.server.Serve(ln)
	}()
	return s, nil
}

func (s *WebsocketSink) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.clients[conn] = struct{}{}
	s.mu.Unlock()

	// Drain (and discard) client messages so pings and closes are handled.
	go func() {
		defer s.dropClient(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *WebsocketSink) dropClient(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.clients, conn)
	s.mu.Unlock()
	_ = conn.Close()
}

// Name returns the sink name used in metrics labels.
func (s *WebsocketSink) Name() string { return "websocket" }

// Write broadcasts rec to every connected client.
func (s *WebsocketSink) Write(rec *codec.Record) error {
	payload, err := MarshalEvent(rec)
	if err != nil {
		return errors.WrapInvalid(err, "WebsocketSink", "Write", "event marshal")
	}

	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.clients))
	for c := range s.clients {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		_ = c.SetWriteDeadline(time.Now().Add(time.Second))
		if err := c.WriteMessage(websocket.TextMessage, payload); err != nil {
			s.dropClient(c)
		}
	}
	return nil
}

// Close disconnects all clients and stops the HTTP server.
func (s *WebsocketSink) Close() error {
	s.mu.Lock()
	for c := range s.clients {
		_ = c.Close()
	}
	s.clients = map[*websocket.Conn]struct{}{}
	s.mu.Unlock()
	return s.server.Close()
}

// BuildSinks constructs the configured sink set. The variant set is closed:
// unknown types were already rejected by Validate.
func BuildSinks(configs []SinkConfig) ([]Sink, error) {
	var sinks []Sink
	for _, sc := range configs {
		var (
			s   Sink
			err error
		)
		switch sc.Type {
		case "stdout":
			s = NewStdoutSink()
		case "file":
			s, err = NewFileSink(sc.Path)
		case "nats":
			s, err = NewNATSSink(sc.URL, sc.SubjectPrefix)
		case "websocket":
			s, err = NewWebsocketSink(sc.Listen)
		default:
			err = errors.WrapInvalid(errors.ErrInvalidConfig,
				"BuildSinks", "build", "unknown sink type")
		}
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	return sinks, nil
}
