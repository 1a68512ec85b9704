package server

import (
	"time"

	"github.com/heysubinoy/filekv/internal/protocol"
)

const (
	defaultReadTimeout  = 5 * time.Second
	defaultConnLifetime = 30 * time.Second
	defaultMaxConns     = 128
)

// Option is a functional server option.
type Option func(*Server)

// WithReadTimeout bounds the wait for the request line. Zero disables it.
func WithReadTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.readTimeout = d
	}
}

// WithConnLifetime caps the total time a connection may stay open,
// including the store operation and the response write. Zero disables it.
func WithConnLifetime(d time.Duration) Option {
	return func(s *Server) {
		s.connLifetime = d
	}
}

// WithMaxConns bounds the number of connections served at once.
// Accept waits while the limit is reached.
func WithMaxConns(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxConns = n
		}
	}
}

// WithValuePolicy selects how GET answers values over protocol.MaxValueSize.
func WithValuePolicy(p protocol.ValuePolicy) Option {
	return func(s *Server) {
		s.policy = p
	}
}
