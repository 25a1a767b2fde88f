// Package server accepts filedrop connections and runs one request
// handler per connection on a bounded worker group.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"filedrop/internal/audit"
	"filedrop/internal/models"
	"filedrop/internal/protocol"
)

// ArchiveProvider enumerates and compresses the served files.
type ArchiveProvider interface {
	List() ([]protocol.FileEntry, error)
	Compress(name string) (*models.ArchiveInfo, error)
	Cleanup(archivePath string)
}

type Config struct {
	// MaxConnections bounds concurrently served connections. Accepting
	// pauses while the bound is reached.
	MaxConnections int
	// IdleTimeout bounds the wait for the next command. Zero waits
	// forever.
	IdleTimeout time.Duration
	// HandshakeTimeout bounds each wait for READY and SIZE_RECEIVED.
	HandshakeTimeout time.Duration
}

const (
	DefaultMaxConnections   = 64
	DefaultHandshakeTimeout = 30 * time.Second
)

type Server struct {
	cfg      Config
	provider ArchiveProvider
	sink     audit.Sink
	logger   *slog.Logger

	active atomic.Int64

	mu       sync.Mutex
	draining bool
	idle     map[*protocol.Session]struct{}
}

func New(cfg Config, provider ArchiveProvider, sink audit.Sink, logger *slog.Logger) *Server {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = DefaultMaxConnections
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		cfg:      cfg,
		provider: provider,
		sink:     sink,
		logger:   logger,
		idle:     make(map[*protocol.Session]struct{}),
	}
}

// ListenAndServe listens on addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, listener)
}

// Serve accepts connections from listener until ctx is cancelled, then
// closes the listener, interrupts connections waiting for a command and
// waits for every handler to return. Transfers in flight complete.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	s.logger.Info("server started", "addr", listener.Addr().String(), "max_connections", s.cfg.MaxConnections)

	stop := context.AfterFunc(ctx, func() {
		listener.Close()
		s.drain()
	})
	defer stop()

	var group errgroup.Group
	group.SetLimit(s.cfg.MaxConnections)

	var acceptErr error
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				acceptErr = fmt.Errorf("accept: %w", err)
			}
			break
		}

		active := s.active.Add(1)
		s.logger.Info("client connected", "client", conn.RemoteAddr().String(), "active_connections", active)

		group.Go(func() error {
			defer s.active.Add(-1)
			s.handleConn(ctx, conn)
			return nil
		})
	}

	listener.Close()
	group.Wait()
	s.logger.Info("server stopped", "addr", listener.Addr().String())
	return acceptErr
}

// ActiveConnections reports the number of connections being served.
func (s *Server) ActiveConnections() int64 {
	return s.active.Load()
}

// enterIdle registers sess as waiting for a command. It reports false
// once the server is draining.
func (s *Server) enterIdle(sess *protocol.Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draining {
		return false
	}
	s.idle[sess] = struct{}{}
	return true
}

func (s *Server) leaveIdle(sess *protocol.Session) {
	s.mu.Lock()
	delete(s.idle, sess)
	s.mu.Unlock()
}

func (s *Server) drain() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draining = true
	for sess := range s.idle {
		sess.Interrupt()
	}
}
