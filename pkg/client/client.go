// Package client is a Go client for the filekv line protocol. Every call
// opens its own connection, as the server answers one request per
// connection.
package client

import (
	"bytes"
	"context"
	"io"
	"net"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = errors.New("not found")

// ServerError is an "ERROR <reason>" response.
type ServerError struct {
	Reason string
}

func (e *ServerError) Error() string { return "server error: " + e.Reason }

// Client talks to one filekv server.
type Client struct {
	Addr    string
	Timeout time.Duration
}

// New returns a client for addr with a 5 second per-call timeout.
func New(addr string) *Client {
	return &Client{Addr: addr, Timeout: 5 * time.Second}
}

// Set stores value under key. Neither may contain a newline and key may
// not contain whitespace.
func (c *Client) Set(ctx context.Context, key, value string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if strings.ContainsAny(value, "\r\n") {
		return errors.New("value must not contain line breaks")
	}
	resp, err := c.Do(ctx, "SET "+key+" "+value)
	if err != nil {
		return err
	}
	return expectOK(resp)
}

// Get returns the value of key or ErrNotFound.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	if err := checkKey(key); err != nil {
		return "", err
	}
	resp, err := c.Do(ctx, "GET "+key)
	if err != nil {
		return "", err
	}
	switch {
	case bytes.Equal(resp, []byte("NOTFOUND\n")):
		return "", ErrNotFound
	case bytes.HasPrefix(resp, []byte("OK\n")):
		return strings.TrimSuffix(string(resp[3:]), "\n"), nil
	}
	return "", parseError(resp)
}

// Delete removes key. Deleting a missing key succeeds.
func (c *Client) Delete(ctx context.Context, key string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	resp, err := c.Do(ctx, "DEL "+key)
	if err != nil {
		return err
	}
	return expectOK(resp)
}

// Do sends one raw request line and returns the raw response.
func (c *Client) Do(ctx context.Context, line string) ([]byte, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.Addr)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", c.Addr)
	}
	defer conn.Close()
	if dl, ok := ctx.Deadline(); ok {
		conn.SetDeadline(dl)
	}

	if _, err := io.WriteString(conn, line+"\n"); err != nil {
		return nil, errors.Wrap(err, "send request")
	}
	resp, err := io.ReadAll(conn)
	if err != nil {
		return nil, errors.Wrap(err, "read response")
	}
	return resp, nil
}

func checkKey(key string) error {
	if key == "" || strings.ContainsAny(key, " \t\r\n") {
		return errors.Newf("invalid key %q", key)
	}
	return nil
}

func expectOK(resp []byte) error {
	if bytes.Equal(resp, []byte("OK\n")) {
		return nil
	}
	return parseError(resp)
}

func parseError(resp []byte) error {
	line := strings.TrimSuffix(string(resp), "\n")
	if reason, ok := strings.CutPrefix(line, "ERROR "); ok {
		return &ServerError{Reason: reason}
	}
	return errors.Newf("unexpected response %q", line)
}
