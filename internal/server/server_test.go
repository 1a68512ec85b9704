package server

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heysubinoy/filekv/internal/protocol"
	"github.com/heysubinoy/filekv/internal/store"
	"github.com/heysubinoy/filekv/pkg/kv"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startTestServer(t *testing.T, st kv.Store, opts ...Option) (string, *Server) {
	t.Helper()

	srv := New(st, testLogger(), opts...)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ctx, ln) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-served:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return ln.Addr().String(), srv
}

// roundTrip sends raw bytes and reads until the server closes the connection.
func roundTrip(t *testing.T, addr, request string) string {
	t.Helper()

	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	_, err = conn.Write([]byte(request))
	require.NoError(t, err)
	resp, err := io.ReadAll(conn)
	require.NoError(t, err)
	return string(resp)
}

func TestProtocolProperties(t *testing.T) {
	fs, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	addr, _ := startTestServer(t, store.NewKeyLockStore(fs))

	t.Run("set then get value with spaces", func(t *testing.T) {
		assert.Equal(t, "OK\n", roundTrip(t, addr, "SET k1 hello big   world\n"))
		assert.Equal(t, "OK\nhello big   world\n", roundTrip(t, addr, "GET k1\n"))
	})

	t.Run("get never set", func(t *testing.T) {
		assert.Equal(t, "NOTFOUND\n", roundTrip(t, addr, "GET nothing-here\n"))
	})

	t.Run("get after delete", func(t *testing.T) {
		assert.Equal(t, "OK\n", roundTrip(t, addr, "SET k2 v\n"))
		assert.Equal(t, "OK\n", roundTrip(t, addr, "DEL k2\n"))
		assert.Equal(t, "NOTFOUND\n", roundTrip(t, addr, "GET k2\n"))
	})

	t.Run("delete missing key", func(t *testing.T) {
		assert.Equal(t, "OK\n", roundTrip(t, addr, "DEL never-there\n"))
	})

	t.Run("last write wins without residue", func(t *testing.T) {
		assert.Equal(t, "OK\n", roundTrip(t, addr, "SET k3 a rather long first value\n"))
		assert.Equal(t, "OK\n", roundTrip(t, addr, "SET k3 v2\n"))
		assert.Equal(t, "OK\nv2\n", roundTrip(t, addr, "GET k3\n"))
	})

	t.Run("set without value stores empty", func(t *testing.T) {
		assert.Equal(t, "OK\n", roundTrip(t, addr, "SET k4\n"))
		assert.Equal(t, "OK\n\n", roundTrip(t, addr, "GET k4\n"))
	})

	t.Run("command without key leaves store alone", func(t *testing.T) {
		assert.Equal(t, "OK\n", roundTrip(t, addr, "SET k5 keep\n"))
		for _, req := range []string{"GET\n", "SET\n", "DEL\n", "\n", "   \n"} {
			assert.Equal(t, "ERROR invalid command\n", roundTrip(t, addr, req), "request %q", req)
		}
		assert.Equal(t, "OK\nkeep\n", roundTrip(t, addr, "GET k5\n"))
	})

	t.Run("unknown command", func(t *testing.T) {
		assert.Equal(t, "ERROR unknown command\n", roundTrip(t, addr, "FOO k\n"))
		assert.Equal(t, "ERROR unknown command\n", roundTrip(t, addr, "set k v\n"))
	})

	t.Run("crlf line ending", func(t *testing.T) {
		assert.Equal(t, "OK\n", roundTrip(t, addr, "SET k6 telnet\r\n"))
		assert.Equal(t, "OK\ntelnet\n", roundTrip(t, addr, "GET k6\r\n"))
	})

	t.Run("only the first command is honored", func(t *testing.T) {
		assert.Equal(t, "OK\n", roundTrip(t, addr, "SET k7 first\nSET k7 second\nDEL k7\n"))
		assert.Equal(t, "OK\nfirst\n", roundTrip(t, addr, "GET k7\n"))
	})

	t.Run("traversal key is contained", func(t *testing.T) {
		assert.Equal(t, "OK\n", roundTrip(t, addr, "SET ../escape v\n"))
		assert.Equal(t, "OK\nv\n", roundTrip(t, addr, "GET ../escape\n"))
		assert.Equal(t, "ERROR invalid key\n", roundTrip(t, addr, "SET .. v\n"))
		assert.Equal(t, "ERROR invalid key\n", roundTrip(t, addr, "GET .\n"))
	})
}

func TestValueCeiling(t *testing.T) {
	// A request line caps at 1024 bytes, so large values are stored directly.
	st := store.NewMemStore()
	atLimit := strings.Repeat("a", protocol.MaxValueSize)
	overLimit := strings.Repeat("b", protocol.MaxValueSize) + "Z"
	ctx := context.Background()
	require.NoError(t, st.Put(ctx, "at", []byte(atLimit)))
	require.NoError(t, st.Put(ctx, "over", []byte(overLimit)))

	t.Run("truncate", func(t *testing.T) {
		addr, _ := startTestServer(t, st)
		assert.Equal(t, "OK\n"+atLimit+"\n", roundTrip(t, addr, "GET at\n"))
		assert.Equal(t, "OK\n"+overLimit[:protocol.MaxValueSize]+"\n", roundTrip(t, addr, "GET over\n"))
	})

	t.Run("reject", func(t *testing.T) {
		addr, _ := startTestServer(t, st, WithValuePolicy(protocol.PolicyReject))
		assert.Equal(t, "OK\n"+atLimit+"\n", roundTrip(t, addr, "GET at\n"))
		assert.Equal(t, "ERROR value too large\n", roundTrip(t, addr, "GET over\n"))
	})
}

func TestRequestSizeCap(t *testing.T) {
	st := store.NewMemStore()
	addr, _ := startTestServer(t, st)

	// "SET big " is 8 bytes; the line is cut at 1024 bytes.
	value := strings.Repeat("v", 2000)
	assert.Equal(t, "OK\n", roundTrip(t, addr, "SET big "+value+"\n"))

	got, found, err := st.Get(context.Background(), "big")
	require.NoError(t, err)
	require.True(t, found)
	assert.Len(t, got, protocol.MaxRequestSize-len("SET big "))
}

func TestConcurrentSetsAreAtomic(t *testing.T) {
	fs, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	addr, _ := startTestServer(t, store.NewKeyLockStore(fs))

	a := strings.Repeat("a", 900)
	b := strings.Repeat("b", 300)
	for round := 0; round < 25; round++ {
		var wg sync.WaitGroup
		for _, v := range []string{a, b} {
			wg.Add(1)
			go func(v string) {
				defer wg.Done()
				assert.Equal(t, "OK\n", roundTrip(t, addr, "SET race "+v+"\n"))
			}(v)
		}
		wg.Wait()

		resp := roundTrip(t, addr, "GET race\n")
		assert.True(t, resp == "OK\n"+a+"\n" || resp == "OK\n"+b+"\n", "round %d: got %d bytes", round, len(resp))
	}
}

func TestManyClients(t *testing.T) {
	addr, srv := startTestServer(t, store.NewMemStore(), WithMaxConns(4))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := "client" + strings.Repeat("x", i%5)
			assert.Equal(t, "OK\n", roundTrip(t, addr, "SET "+key+" value\n"))
		}(i)
	}
	wg.Wait()

	assert.GreaterOrEqual(t, srv.Stats().Accepted, uint64(50))
}

// failingStore answers every call with a storage failure.
type failingStore struct{}

func (failingStore) Put(_ context.Context, key string, _ []byte) error {
	return kv.NewStorageError("put", key, kv.ReasonWriteFailed, errors.New("disk full"))
}

func (failingStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	return nil, false, kv.NewStorageError("get", key, kv.ReasonReadFailed, errors.New("eio"))
}

func (failingStore) Delete(_ context.Context, key string) error {
	return kv.NewStorageError("delete", key, kv.ReasonDeleteFailed, errors.New("eperm"))
}

func (failingStore) Close() error { return nil }

func TestStorageErrors(t *testing.T) {
	addr, srv := startTestServer(t, failingStore{})

	assert.Equal(t, "ERROR write failed\n", roundTrip(t, addr, "SET k v\n"))
	assert.Equal(t, "ERROR read failed\n", roundTrip(t, addr, "GET k\n"))
	assert.Equal(t, "ERROR delete failed\n", roundTrip(t, addr, "DEL k\n"))
	// Protocol errors never reach the store.
	assert.Equal(t, "ERROR invalid command\n", roundTrip(t, addr, "GET\n"))

	stats := srv.Stats()
	assert.Equal(t, uint64(3), stats.StorageErrors)
	assert.Equal(t, uint64(1), stats.ProtocolErrors)
}

type panicStore struct{ *store.MemStore }

func (panicStore) Put(context.Context, string, []byte) error { panic("boom") }

func TestHandlerPanicKeepsListener(t *testing.T) {
	addr, _ := startTestServer(t, panicStore{store.NewMemStore()})

	assert.Equal(t, "", roundTrip(t, addr, "SET k v\n"))
	assert.Equal(t, "NOTFOUND\n", roundTrip(t, addr, "GET k\n"))
}

func TestIdleClientTimesOut(t *testing.T) {
	addr, _ := startTestServer(t, store.NewMemStore(), WithReadTimeout(100*time.Millisecond))

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	start := time.Now()
	resp, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.Empty(t, resp)
	assert.True(t, time.Since(start) < 3*time.Second, "server held an idle connection too long")

	// The listener is still serving.
	assert.Equal(t, "OK\n", roundTrip(t, addr, "DEL k\n"))
}

func TestEmptyRequestIsInvalid(t *testing.T) {
	addr, _ := startTestServer(t, store.NewMemStore())

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	require.NoError(t, conn.(*net.TCPConn).CloseWrite())
	resp, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.Equal(t, "ERROR invalid command\n", string(resp))
}

func TestPartialLineServedAtDeadline(t *testing.T) {
	addr, _ := startTestServer(t, store.NewMemStore(), WithReadTimeout(100*time.Millisecond))

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	// No newline and no half-close: served when the read deadline fires.
	_, err = conn.Write([]byte("GET k"))
	require.NoError(t, err)
	resp, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.Equal(t, "NOTFOUND\n", string(resp))
}

func TestShutdown(t *testing.T) {
	srv := New(store.NewMemStore(), testLogger())
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	served := make(chan error, 1)
	go func() { served <- srv.Serve(context.Background(), ln) }()

	addr := ln.Addr().String()
	assert.Equal(t, "OK\n", roundTrip(t, addr, "SET k v\n"))

	// An open connection that has not sent anything yet is drained.
	idle, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer idle.Close()
	require.Eventually(t, func() bool { return srv.Stats().Active == 1 }, 2*time.Second, 10*time.Millisecond)

	shutdownDone := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		shutdownDone <- srv.Shutdown(ctx)
	}()

	_, err = idle.Write([]byte("GET k\n"))
	require.NoError(t, err)
	idle.SetDeadline(time.Now().Add(5 * time.Second))
	resp, err := io.ReadAll(idle)
	require.NoError(t, err)
	assert.Equal(t, "OK\nv\n", string(resp))

	require.NoError(t, <-shutdownDone)
	require.NoError(t, <-served)

	_, err = net.DialTimeout("tcp", addr, 200*time.Millisecond)
	assert.Error(t, err)
}

func TestShutdownBeforeServe(t *testing.T) {
	srv := New(store.NewMemStore(), testLogger())
	require.NoError(t, srv.Shutdown(context.Background()))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	assert.NoError(t, srv.Serve(context.Background(), ln))
}

func TestListenAndServeSetupError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	srv := New(store.NewMemStore(), testLogger())
	err = srv.ListenAndServe(context.Background(), ln.Addr().String())
	require.Error(t, err)

	var se *SetupError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, ln.Addr().String(), se.Addr)
}

func TestExecute(t *testing.T) {
	srv := New(store.NewMemStore(), testLogger())
	ctx := context.Background()

	assert.Equal(t, "OK\n", string(srv.execute(ctx, []byte("SET a  spaced"))))
	assert.Equal(t, "OK\n spaced\n", string(srv.execute(ctx, []byte("GET a"))))
	assert.True(t, bytes.HasPrefix(srv.execute(ctx, []byte("NOPE a")), []byte("ERROR ")))
}
