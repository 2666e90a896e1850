package aggregator

import (
	"context"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/Numi2/solana-numistack/errors"
	"github.com/Numi2/solana-numistack/metric"
)

// Deps holds runtime dependencies for the aggregator server.
type Deps struct {
	Config   Config
	Sinks    []Sink
	Registry *metric.Registry
	Logger   *slog.Logger
}

// Server binds the configured UDS paths, accepts writer connections up to
// max_connections, and runs one reader per connection feeding the sink
// dispatcher.
type Server struct {
	cfg        Config
	dispatcher *Dispatcher
	metrics    *metric.Metrics
	metricsSrv *metric.Server
	logger     *slog.Logger

	listeners   []*net.UnixListener
	oversizeLog *rate.Limiter
	conns       atomic.Int64

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewServer builds a server from a validated config and constructed sinks.
func NewServer(deps Deps) (*Server, error) {
	cfg := deps.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "aggregator")

	var metrics *metric.Metrics
	var metricsSrv *metric.Server
	if deps.Registry != nil {
		metrics = deps.Registry.Metrics
		if cfg.MetricsListen != "" {
			metricsSrv = metric.NewServer(cfg.MetricsListen, deps.Registry)
		}
	}

	dispatcher, err := NewDispatcher(deps.Sinks, cfg.SinkQueueCapacity, cfg.Policy(), metrics, logger)
	if err != nil {
		return nil, err
	}

	var oversizeLog *rate.Limiter
	if interval := cfg.OversizeLogInterval(); interval > 0 {
		oversizeLog = rate.NewLimiter(rate.Every(interval), 1)
	}

	return &Server{
		cfg:         cfg,
		dispatcher:  dispatcher,
		metrics:     metrics,
		metricsSrv:  metricsSrv,
		logger:      logger,
		oversizeLog: oversizeLog,
		stop:        make(chan struct{}),
	}, nil
}

// Start binds every listen path and launches the accept loops. A bind
// failure is fatal and unwinds any listeners already bound.
func (s *Server) Start() error {
	if s.metricsSrv != nil {
		if err := s.metricsSrv.Start(); err != nil {
			return err
		}
	}
	s.dispatcher.Start()

	for _, path := range s.cfg.ListenPaths {
		ln, err := s.bind(path)
		if err != nil {
			s.closeListeners()
			return err
		}
		s.listeners = append(s.listeners, ln)
		s.wg.Add(1)
		go s.acceptLoop(ln, path)
	}
	return nil
}

func (s *Server) bind(path string) (*net.UnixListener, error) {
	// A stale socket file from a previous run blocks the bind.
	_ = os.Remove(path)
	addr, err := net.ResolveUnixAddr("unix", path)
	if err != nil {
		return nil, errors.WrapFatal(err, "Server", "bind", "resolve listen path")
	}
	ln, err := net.ListenUnix("unix", addr)
	if err != nil {
		return nil, errors.WrapFatal(errors.ErrBindFailed, "Server", "bind", path)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		_ = ln.Close()
		return nil, errors.WrapFatal(err, "Server", "bind", "socket permissions")
	}
	s.logger.Info("listening", "path", path)
	return ln, nil
}

func (s *Server) acceptLoop(ln *net.UnixListener, path string) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.stop:
			default:
				s.logger.Error("accept failed", "path", path, "error", err)
			}
			return
		}

		if s.conns.Load() >= int64(s.cfg.MaxConnections) {
			s.logger.Warn("connection refused: at max_connections",
				"max_connections", s.cfg.MaxConnections)
			_ = conn.Close()
			continue
		}

		s.conns.Add(1)
		if s.metrics != nil {
			s.metrics.ActiveConnections.Inc()
		}
		s.tuneConn(conn)
		connID := uuid.NewString()
		s.logger.Info("connection accepted", "conn_id", connID, "path", path)

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() {
				s.conns.Add(-1)
				if s.metrics != nil {
					s.metrics.ActiveConnections.Dec()
				}
				s.logger.Info("connection closed", "conn_id", connID)
			}()

			reader := &connReader{
				conn:        conn,
				maxFrame:    s.cfg.MaxFrameBytes,
				idleTimeout: s.cfg.IdleTimeout(),
				dispatch:    s.dispatcher.Dispatch,
				metrics:     s.metrics,
				logger:      s.logger.With("conn_id", connID),
				oversizeLog: s.oversizeLog,
			}
			reader.run()
		}()
	}
}

// tuneConn requests a larger kernel receive buffer on the accepted socket
// so bursty writers are absorbed before backpressure kicks in.
func (s *Server) tuneConn(conn net.Conn) {
	if s.cfg.RecvBufferBytes <= 0 {
		return
	}
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return
	}
	if err := uc.SetReadBuffer(s.cfg.RecvBufferBytes); err != nil {
		s.logger.Debug("recv buffer tuning failed",
			"requested", s.cfg.RecvBufferBytes,
			"error", err)
	}
}

// Stop closes the listeners, waits for readers to finish, and drains the
// sinks.
func (s *Server) Stop(timeout time.Duration) error {
	s.stopOnce.Do(func() { close(s.stop) })
	s.closeListeners()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
	}

	err := s.dispatcher.Stop(timeout)
	if s.metricsSrv != nil {
		_ = s.metricsSrv.Stop(time.Second)
	}
	return err
}

// Run starts the server and blocks until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	if err := s.Start(); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		return s.Stop(shutdownTimeout)
	})
	return g.Wait()
}

func (s *Server) closeListeners() {
	for _, ln := range s.listeners {
		_ = ln.Close()
	}
}
