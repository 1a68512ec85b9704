package server

import (
	"context"
	"io"
	"net"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/heysubinoy/filekv/internal/protocol"
	"github.com/heysubinoy/filekv/pkg/kv"
)

// handle serves exactly one request on conn and closes it. Whatever the
// client sends after the first line is discarded.
func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("handler panic", "remote", conn.RemoteAddr().String(), "panic", r)
		}
	}()

	// In-flight requests finish even when the server is shutting down.
	ctx = context.WithoutCancel(ctx)

	now := time.Now()
	readDeadline := deadline(now, s.readTimeout)
	if s.connLifetime > 0 {
		end := now.Add(s.connLifetime)
		conn.SetDeadline(end)
		if readDeadline.IsZero() || end.Before(readDeadline) {
			readDeadline = end
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, end)
		defer cancel()
	}
	conn.SetReadDeadline(readDeadline)

	line, err := protocol.ReadRequestLine(conn)
	if err != nil {
		s.logger.Debug("read request", "remote", conn.RemoteAddr().String(), "error", err)
		return
	}

	resp := s.execute(ctx, line)
	if _, err := conn.Write(resp); err != nil {
		s.logger.Debug("write response", "remote", conn.RemoteAddr().String(), "error", err)
		return
	}
	closeLingering(conn)
}

const (
	lingerTimeout = 250 * time.Millisecond
	lingerMaxRead = 64 << 10
)

// closeLingering half-closes conn and discards pending input for a short
// while. Closing a socket with unread input makes the kernel send a reset,
// which can destroy the response before the client reads it.
func closeLingering(conn net.Conn) {
	cw, ok := conn.(interface{ CloseWrite() error })
	if !ok {
		return
	}
	if err := cw.CloseWrite(); err != nil {
		return
	}
	conn.SetReadDeadline(time.Now().Add(lingerTimeout))
	io.Copy(io.Discard, io.LimitReader(conn, lingerMaxRead))
}

func deadline(now time.Time, d time.Duration) time.Time {
	if d <= 0 {
		return time.Time{}
	}
	return now.Add(d)
}

// execute parses one request line, runs it against the store and returns
// the framed response.
func (s *Server) execute(ctx context.Context, line []byte) []byte {
	req, err := protocol.Parse(line)
	if err != nil {
		s.stats.protocolErrors.Add(1)
		var pe *protocol.ProtocolError
		if errors.As(err, &pe) {
			return protocol.Error(pe.Msg)
		}
		return protocol.Error(protocol.ErrInvalidCommand.Msg)
	}

	switch req.Command {
	case protocol.CmdSet:
		if err := s.store.Put(ctx, req.Key, req.Value); err != nil {
			return s.storageError(req, err)
		}
		return protocol.OK()

	case protocol.CmdGet:
		value, found, err := s.store.Get(ctx, req.Key)
		if err != nil {
			return s.storageError(req, err)
		}
		if !found {
			return protocol.NotFound()
		}
		return protocol.Value(value, s.policy)

	case protocol.CmdDel:
		if err := s.store.Delete(ctx, req.Key); err != nil {
			return s.storageError(req, err)
		}
		return protocol.OK()
	}
	// Parse only returns known commands.
	return protocol.Error(protocol.ErrUnknownCommand.Msg)
}

func (s *Server) storageError(req protocol.Request, err error) []byte {
	s.stats.storageErrors.Add(1)
	reason := kv.ReasonOf(err)
	s.logger.Warn("storage error", "command", string(req.Command), "key", req.Key, "reason", reason, "error", err)
	return protocol.Error(reason)
}
