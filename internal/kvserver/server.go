// Package kvserver wires the wire, command, and store packages into a
// running TCP service: an accept loop, one Handler goroutine per
// connection, and coordinated shutdown.
package kvserver

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kstaniek/kvd/internal/command"
	"github.com/kstaniek/kvd/internal/logging"
	"github.com/kstaniek/kvd/internal/metrics"
	"github.com/kstaniek/kvd/internal/registry"
	"github.com/kstaniek/kvd/internal/store"
)

const (
	minBackoff     = time.Second
	maxBackoff     = 64 * time.Second
	defaultMaxConn = 0 // unlimited
)

// Server owns the TCP listener and coordinates connection lifecycle.
type Server struct {
	mu       sync.RWMutex
	addr     string
	Store    *store.Store
	Registry *registry.Registry
	Snapshot func() error

	maxClients   int
	readDeadline time.Duration
	readyOnce    sync.Once
	readyCh      chan struct{}
	errCh        chan error
	lastErrMu    sync.Mutex
	lastErr      error
	listener     net.Listener
	wg           sync.WaitGroup
	logger       *slog.Logger
	nextConnID   uint64

	totalAccepted atomic.Uint64
	totalRejected atomic.Uint64
}

type ServerOption func(*Server)

func NewServer(st *store.Store, opts ...ServerOption) *Server {
	s := &Server{
		Store:      st,
		Registry:   registry.New(),
		maxClients: defaultMaxConn,
		readyCh:    make(chan struct{}),
		errCh:      make(chan error, 1),
		logger:     logging.L(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.addr == "" {
		s.addr = ":0"
	}
	return s
}

func WithListenAddr(a string) ServerOption { return func(s *Server) { s.addr = a } }
func WithMaxClients(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.maxClients = n
		}
	}
}
func WithSnapshot(fn func() error) ServerOption { return func(s *Server) { s.Snapshot = fn } }
func WithReadDeadline(d time.Duration) ServerOption {
	return func(s *Server) { s.readDeadline = d }
}
func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

func (s *Server) Addr() string           { s.mu.RLock(); defer s.mu.RUnlock(); return s.addr }
func (s *Server) setAddr(a string)       { s.mu.Lock(); s.addr = a; s.mu.Unlock() }
func (s *Server) Ready() <-chan struct{} { return s.readyCh }
func (s *Server) Errors() <-chan error   { return s.errCh }

func (s *Server) setError(err error) {
	if err == nil {
		return
	}
	s.lastErrMu.Lock()
	s.lastErr = err
	s.lastErrMu.Unlock()
	select {
	case s.errCh <- err:
	default:
	}
}

func (s *Server) LastError() error {
	s.lastErrMu.Lock()
	defer s.lastErrMu.Unlock()
	return s.lastErr
}

// Serve accepts connections until ctx is cancelled or a fatal listener
// error occurs, retrying transient accept errors with exponential backoff
// from 1s up to a 64s cap before giving up.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	addr := s.addr
	s.mu.Unlock()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		wrap := fmt.Errorf("%w: %v", ErrListen, err)
		s.setError(wrap)
		return wrap
	}
	s.setAddr(ln.Addr().String())
	s.listener = ln
	s.readyOnce.Do(func() { close(s.readyCh) })
	s.logger.Info("tcp_listen", "addr", s.Addr())
	metrics.SetReadinessFunc(func() bool { return true })

	go func() { <-ctx.Done(); _ = ln.Close() }()

	backoff := minBackoff
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if backoff > maxBackoff {
				wrap := fmt.Errorf("%w: %v", ErrAccept, err)
				s.setError(wrap)
				return wrap
			}
			s.logger.Warn("accept_retry", "error", err, "backoff", backoff)
			time.Sleep(backoff)
			backoff *= 2
			continue
		}
		backoff = minBackoff
		s.handleAccepted(ctx, conn)
	}
}

func (s *Server) handleAccepted(ctx context.Context, conn net.Conn) {
	s.totalAccepted.Add(1)
	metrics.ConnectionsAccepted.Inc()

	if s.maxClients > 0 && s.Registry.Count() >= s.maxClients {
		s.totalRejected.Add(1)
		_ = conn.Close()
		return
	}

	connID := atomic.AddUint64(&s.nextConnID, 1)
	connLogger := s.logger.With("conn_id", connID, "remote", conn.RemoteAddr().String())
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
		_ = tcp.SetKeepAlive(true)
		_ = tcp.SetKeepAlivePeriod(30 * time.Second)
	}

	s.Registry.Add(connID, conn)
	metrics.ConnectionsActive.Set(float64(s.Registry.Count()))
	connLogger.Info("client_connected")

	h := newHandler(conn, &command.Context{
		Store:    s.Store,
		Snapshot: s.Snapshot,
		Clients:  s.Registry.Count,
	}, connLogger, s.readDeadline)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.Registry.Remove(connID)
			metrics.ConnectionsActive.Set(float64(s.Registry.Count()))
			connLogger.Info("client_disconnected")
		}()
		h.run(ctx)
	}()
}

// Shutdown closes the listener and every registered connection, then waits
// for in-flight handlers to return.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}
	s.Registry.CloseAll()

	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: shutdown timeout: %v", ErrContext, ctx.Err())
	case <-done:
		s.logger.Info("shutdown_summary",
			"accepted", s.totalAccepted.Load(),
			"rejected", s.totalRejected.Load())
		return nil
	}
}
