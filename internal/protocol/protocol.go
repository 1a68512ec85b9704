// Package protocol implements the line framing of the filekv wire protocol.
//
// A client sends exactly one request line per connection:
//
//	SET <key> <value...>\n
//	GET <key>\n
//	DEL <key>\n
//
// and receives one of
//
//	OK\n
//	OK\n<value>\n
//	NOTFOUND\n
//	ERROR <reason>\n
package protocol

import (
	"bufio"
	"bytes"
	"io"
	"os"

	"github.com/cockroachdb/errors"
)

const (
	// MaxRequestSize caps the bytes read for one request line.
	MaxRequestSize = 1024
	// MaxValueSize caps the bytes of a value returned by GET.
	MaxValueSize = 4096
	// DefaultPort is the TCP port served when none is configured.
	DefaultPort = 5000
)

// Command is a request verb. Matching is exact and case-sensitive.
type Command string

const (
	CmdSet Command = "SET"
	CmdGet Command = "GET"
	CmdDel Command = "DEL"
)

// Request is one parsed request line.
type Request struct {
	Command Command
	Key     string
	// Value is only meaningful for SET. It is the rest of the line after
	// the key, verbatim.
	Value []byte
}

// ProtocolError is a malformed or unknown request. It is answered inline
// with "ERROR <Msg>".
type ProtocolError struct {
	Msg string
}

func (e *ProtocolError) Error() string { return e.Msg }

var (
	ErrInvalidCommand = &ProtocolError{Msg: "invalid command"}
	ErrUnknownCommand = &ProtocolError{Msg: "unknown command"}
)

// ReadRequestLine reads up to MaxRequestSize bytes, stopping after the
// first '\n' or at EOF. The terminator and one trailing '\r' are dropped.
// Bytes after the first line are left unread. A client that half-closes
// without sending anything yields an empty line, which Parse rejects.
func ReadRequestLine(r io.Reader) ([]byte, error) {
	br := bufio.NewReaderSize(io.LimitReader(r, MaxRequestSize), MaxRequestSize)
	line, err := br.ReadSlice('\n')
	switch {
	case err == nil:
		line = line[:len(line)-1]
	case errors.Is(err, bufio.ErrBufferFull):
	case len(line) > 0 && (errors.Is(err, io.EOF) || errors.Is(err, os.ErrDeadlineExceeded)):
		// A line cut short by EOF or the read deadline is still a request.
	case errors.Is(err, io.EOF):
		return []byte{}, nil
	default:
		return nil, errors.Wrap(err, "read request line")
	}
	line = bytes.TrimSuffix(line, []byte{'\r'})
	return append([]byte(nil), line...), nil
}

func isBlank(c byte) bool { return c == ' ' || c == '\t' }

// nextToken skips leading blanks and returns the next token and the rest of
// the line after it (starting at the separator, if any).
func nextToken(line []byte) (token, rest []byte) {
	i := 0
	for i < len(line) && isBlank(line[i]) {
		i++
	}
	j := i
	for j < len(line) && !isBlank(line[j]) {
		j++
	}
	return line[i:j], line[j:]
}

// Parse splits a request line into command, key and, for SET, value.
// A missing command or key is ErrInvalidCommand, checked before the verb.
func Parse(line []byte) (Request, error) {
	cmd, rest := nextToken(line)
	key, rest := nextToken(rest)
	if len(cmd) == 0 || len(key) == 0 {
		return Request{}, ErrInvalidCommand
	}

	req := Request{Command: Command(cmd), Key: string(key)}
	switch req.Command {
	case CmdSet:
		// Drop the one separator that ended the key; the rest is the value.
		if len(rest) > 0 {
			rest = rest[1:]
		}
		req.Value = append([]byte{}, rest...)
	case CmdGet, CmdDel:
	default:
		return Request{}, ErrUnknownCommand
	}
	return req, nil
}
