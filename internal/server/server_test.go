package server

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yuya-takeyama/lansync/internal/checksum"
	"github.com/yuya-takeyama/lansync/pkg/manifest"
	"github.com/yuya-takeyama/lansync/pkg/syncerr"
	"github.com/yuya-takeyama/lansync/pkg/transfer"
	"github.com/yuya-takeyama/lansync/pkg/wire"
)

func startServer(t *testing.T, files map[string]string) (*Server, string) {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}

	srv, err := New(Config{Addr: "127.0.0.1:0", Root: root})
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return srv, root
}

func dial(t *testing.T, srv *Server) *wire.Conn {
	t.Helper()
	conn, err := wire.Dial(context.Background(), srv.Addr().String(), 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func hello(t *testing.T, conn *wire.Conn) {
	t.Helper()
	require.NoError(t, conn.Send(wire.CmdHello, wire.ClientGreeting))
	msg, err := conn.Receive()
	require.NoError(t, err)
	require.Equal(t, wire.CmdHello, msg.Cmd)
	assert.Equal(t, wire.ServerGreeting, msg.Text())
}

func TestHandshakeAndList(t *testing.T) {
	srv, _ := startServer(t, map[string]string{"a.txt": "hello", "sub/b.txt": "world"})
	conn := dial(t, srv)
	hello(t, conn)

	require.NoError(t, conn.Send(wire.CmdList, nil))
	var m manifest.Manifest
	require.NoError(t, conn.Expect(wire.CmdList, &m))
	require.NoError(t, m.Normalize())

	assert.Equal(t, []string{"a.txt", "sub/b.txt"}, m.Paths())
	assert.Equal(t, checksum.Bytes([]byte("hello")), m["a.txt"].Hash)
	assert.Equal(t, int64(5), m["sub/b.txt"].Size)

	// HELLO again is answered mid-session.
	hello(t, conn)
}

func TestFirstMessageMustBeHello(t *testing.T) {
	srv, _ := startServer(t, nil)
	conn := dial(t, srv)

	require.NoError(t, conn.Send(wire.CmdList, nil))
	msg, err := conn.Receive()
	require.NoError(t, err)
	assert.Equal(t, wire.CmdError, msg.Cmd)

	_, err = conn.Receive()
	assert.True(t, syncerr.IsSessionFatal(err))
}

func TestUnexpectedCommandClosesSession(t *testing.T) {
	srv, _ := startServer(t, nil)
	conn := dial(t, srv)
	hello(t, conn)

	require.NoError(t, conn.Send(wire.CmdFileEnd, wire.FileEnd{Filename: "x"}))
	msg, err := conn.Receive()
	require.NoError(t, err)
	assert.Equal(t, wire.CmdError, msg.Cmd)
	assert.Equal(t, "unexpected command", msg.Text())

	_, err = conn.Receive()
	assert.Error(t, err)
}

func TestGet(t *testing.T) {
	srv, _ := startServer(t, map[string]string{"dir/f.txt": "payload"})
	conn := dial(t, srv)
	hello(t, conn)

	dst := t.TempDir()
	n, err := transfer.NewReceiver(nil).Fetch(conn, dst, "dir/f.txt", checksum.Bytes([]byte("payload")))
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)

	got, err := os.ReadFile(filepath.Join(dst, "dir", "f.txt"))
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))
}

func TestGetRejectsTraversal(t *testing.T) {
	parent := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(parent, "secret.txt"), []byte("secret"), 0o644))
	root := filepath.Join(parent, "share")

	srv, err := New(Config{Addr: "127.0.0.1:0", Root: root})
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})

	conn := dial(t, srv)
	hello(t, conn)

	for _, name := range []string{"../secret.txt", "/etc/passwd", "sub/../../secret.txt"} {
		require.NoError(t, conn.Send(wire.CmdGet, wire.GetRequest{Filename: name}))
		msg, err := conn.Receive()
		require.NoError(t, err)
		assert.Equal(t, wire.CmdError, msg.Cmd, name)
		assert.Equal(t, transfer.AccessDenied, msg.Text(), name)
	}

	// The session survives rejected requests.
	hello(t, conn)
}

func TestConcurrentClients(t *testing.T) {
	files := map[string]string{}
	for _, name := range []string{"a", "b", "c", "d"} {
		files[name+".txt"] = name + name + name
	}
	srv, _ := startServer(t, files)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, err := wire.Dial(context.Background(), srv.Addr().String(), 5*time.Second)
			if err != nil {
				errs <- err
				return
			}
			defer conn.Close()

			if err := conn.Send(wire.CmdHello, wire.ClientGreeting); err != nil {
				errs <- err
				return
			}
			if err := conn.Expect(wire.CmdHello, nil); err != nil {
				errs <- err
				return
			}

			dst := t.TempDir()
			receiver := transfer.NewReceiver(nil)
			for name, content := range files {
				if _, err := receiver.Fetch(conn, dst, name, checksum.Bytes([]byte(content))); err != nil {
					errs <- err
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestStopKeepsSessionsRunning(t *testing.T) {
	srv, _ := startServer(t, map[string]string{"a.txt": "a"})
	conn := dial(t, srv)
	hello(t, conn)

	require.NoError(t, srv.Stop())

	_, err := wire.Dial(context.Background(), srv.Addr().String(), time.Second)
	assert.True(t, syncerr.IsRefused(err) || syncerr.IsTimeout(err), "new connections must fail: %v", err)

	require.NoError(t, conn.Send(wire.CmdList, nil))
	require.NoError(t, conn.Expect(wire.CmdList, nil))
}

func TestServeStopsOnCancel(t *testing.T) {
	srv, err := New(Config{Addr: "127.0.0.1:0", Root: t.TempDir()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	require.Eventually(t, func() bool { return srv.Addr() != nil }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
}

func TestStartCreatesRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "new", "share")
	srv, err := New(Config{Addr: "127.0.0.1:0", Root: root})
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	defer srv.Stop()

	assert.DirExists(t, root)
}
