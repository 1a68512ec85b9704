package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/heysubinoy/filekv/internal/protocol"
	"github.com/heysubinoy/filekv/pkg/kv"
)

// SetupError is a failure to bring the listener up. It is fatal at startup.
type SetupError struct {
	Addr string
	Err  error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("listen on %s: %v", e.Addr, e.Err)
}

func (e *SetupError) Unwrap() error { return e.Err }

// Server accepts TCP connections and serves one request on each.
type Server struct {
	store  kv.Store
	logger *slog.Logger

	readTimeout  time.Duration
	connLifetime time.Duration
	maxConns     int
	policy       protocol.ValuePolicy

	mu        sync.Mutex
	listener  net.Listener
	serveDone chan struct{}
	stopCh    chan struct{}
	stopOnce  sync.Once
	conns     sync.WaitGroup

	stats counters
}

type counters struct {
	accepted       atomic.Uint64
	active         atomic.Int64
	protocolErrors atomic.Uint64
	storageErrors  atomic.Uint64
}

// Stats is a point-in-time view of connection counters.
type Stats struct {
	Accepted       uint64 `json:"accepted"`
	Active         int64  `json:"active"`
	ProtocolErrors uint64 `json:"protocol_errors"`
	StorageErrors  uint64 `json:"storage_errors"`
}

// New creates a server on top of store. The store is owned by the caller.
func New(store kv.Store, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stdout, nil))
	}
	s := &Server{
		store:        store,
		logger:       logger,
		readTimeout:  defaultReadTimeout,
		connLifetime: defaultConnLifetime,
		maxConns:     defaultMaxConns,
		policy:       protocol.PolicyTruncate,
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListenAndServe binds addr and serves until ctx is cancelled or Shutdown
// is called. A bind failure is returned as *SetupError.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return &SetupError{Addr: addr, Err: err}
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln, one goroutine per connection and at most
// maxConns at once. It returns after the listener stops and every
// in-flight connection has been answered.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	done := make(chan struct{})
	s.mu.Lock()
	s.listener = ln
	s.serveDone = done
	s.mu.Unlock()
	defer close(done)
	defer s.conns.Wait()

	select {
	case <-s.stopCh:
		// Shutdown ran before the listener was registered.
		ln.Close()
		return nil
	default:
	}

	go func() {
		select {
		case <-ctx.Done():
			s.stop()
		case <-s.stopCh:
		}
	}()

	s.logger.Info("server listening", "addr", ln.Addr().String(), "max_conns", s.maxConns)

	sem := make(chan struct{}, s.maxConns)
	var backoff time.Duration
	for {
		select {
		case sem <- struct{}{}:
		case <-s.stopCh:
			return nil
		}

		conn, err := ln.Accept()
		if err != nil {
			<-sem
			select {
			case <-s.stopCh:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return errors.Wrap(err, "listener closed")
			}
			backoff = nextBackoff(backoff)
			s.logger.Warn("accept error", "error", err, "retry_in", backoff)
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		s.stats.accepted.Add(1)
		s.stats.active.Add(1)
		s.conns.Add(1)
		go func() {
			defer s.conns.Done()
			defer func() { <-sem }()
			defer s.stats.active.Add(-1)
			s.handle(ctx, conn)
		}()
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	if d *= 2; d > time.Second {
		d = time.Second
	}
	return d
}

func (s *Server) stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.mu.Lock()
		if s.listener != nil {
			s.listener.Close()
		}
		s.mu.Unlock()
	})
}

// Shutdown stops accepting and waits for in-flight connections, or for ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stop()

	s.mu.Lock()
	done := s.serveDone
	s.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		s.logger.Info("server stopped")
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "wait for connections")
	}
}

// Addr returns the listener address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stats returns the current connection counters.
func (s *Server) Stats() Stats {
	return Stats{
		Accepted:       s.stats.accepted.Load(),
		Active:         s.stats.active.Load(),
		ProtocolErrors: s.stats.protocolErrors.Load(),
		StorageErrors:  s.stats.storageErrors.Load(),
	}
}
