package executor

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yuya-takeyama/lansync/internal/checksum"
	"github.com/yuya-takeyama/lansync/pkg/notify"
	"github.com/yuya-takeyama/lansync/pkg/planner"
	"github.com/yuya-takeyama/lansync/pkg/syncerr"
	"github.com/yuya-takeyama/lansync/pkg/transfer"
	"github.com/yuya-takeyama/lansync/pkg/wire"
)

type fakeServer struct {
	mu      sync.Mutex
	notices []string
}

// serve answers GETs from root and records ERROR notices until the
// connection closes.
func (s *fakeServer) serve(conn *wire.Conn, root string) {
	sender := transfer.NewSender(afero.NewOsFs(), 0)
	for {
		msg, err := conn.Receive()
		if err != nil {
			return
		}
		switch msg.Cmd {
		case wire.CmdGet:
			var req wire.GetRequest
			if err := msg.Decode(&req); err != nil {
				return
			}
			if _, err := sender.Send(conn, root, req.Filename); err != nil && syncerr.IsSessionFatal(err) {
				return
			}
		case wire.CmdError:
			s.mu.Lock()
			s.notices = append(s.notices, msg.Text())
			s.mu.Unlock()
		}
	}
}

func (s *fakeServer) Notices() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.notices...)
}

func setup(t *testing.T, files map[string]string) (conn *wire.Conn, src string, server *fakeServer) {
	t.Helper()
	src = t.TempDir()
	for name, content := range files {
		path := filepath.Join(src, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}

	a, b := net.Pipe()
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})

	server = &fakeServer{}
	go server.serve(wire.NewConn(b, 5*time.Second), src)
	return wire.NewConn(a, 5*time.Second), src, server
}

func download(path, content string) planner.Item {
	return planner.Item{
		Action: planner.ActionDownload,
		Path:   path,
		Size:   int64(len(content)),
		Hash:   checksum.Bytes([]byte(content)),
	}
}

type progressRecorder struct {
	notify.NullNotifier
	progress [][2]int
}

func (p *progressRecorder) Progress(current, total int) {
	p.progress = append(p.progress, [2]int{current, total})
}

func TestExecuteDownloads(t *testing.T) {
	conn, _, _ := setup(t, map[string]string{"a.txt": "hello", "d/b.txt": "world"})
	dst := t.TempDir()
	rec := &progressRecorder{}

	results, err := NewExecutor(conn, nil, dst, rec, nil).Execute(context.Background(), []planner.Item{
		download("a.txt", "hello"),
		download("d/b.txt", "world"),
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.NoError(t, r.Error)
		assert.Equal(t, int64(5), r.Bytes)
	}
	assert.Equal(t, [][2]int{{1, 2}, {2, 2}}, rec.progress)

	got, err := os.ReadFile(filepath.Join(dst, "d", "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "world", string(got))
}

func TestExecuteIntegrityFailureNotifiesServer(t *testing.T) {
	conn, _, server := setup(t, map[string]string{"a.txt": "tampered", "b.txt": "fine"})
	dst := t.TempDir()

	results, err := NewExecutor(conn, nil, dst, nil, nil).Execute(context.Background(), []planner.Item{
		download("a.txt", "original"),
		download("b.txt", "fine"),
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	var integrityErr *syncerr.IntegrityError
	assert.ErrorAs(t, results[0].Error, &integrityErr)
	assert.NoError(t, results[1].Error)
	assert.NoFileExists(t, filepath.Join(dst, "a.txt"))
	assert.FileExists(t, filepath.Join(dst, "b.txt"))

	assert.Eventually(t, func() bool {
		return len(server.Notices()) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"verification failed for a.txt"}, server.Notices())
}

func TestExecuteMissingRemoteFileContinues(t *testing.T) {
	conn, _, _ := setup(t, map[string]string{"b.txt": "here"})
	dst := t.TempDir()

	results, err := NewExecutor(conn, nil, dst, nil, nil).Execute(context.Background(), []planner.Item{
		download("a.txt", "gone"),
		download("b.txt", "here"),
	})
	require.NoError(t, err)

	var accessErr *syncerr.FileAccessError
	assert.ErrorAs(t, results[0].Error, &accessErr)
	assert.NoError(t, results[1].Error)
}

func TestExecuteDeletesAndPrunes(t *testing.T) {
	conn, _, _ := setup(t, nil)
	dst := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dst, "x", "y"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dst, "x", "y", "old.txt"), []byte("o"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dst, "x", "keep.txt"), []byte("k"), 0o644))

	results, err := NewExecutor(conn, nil, dst, nil, nil).Execute(context.Background(), []planner.Item{
		{Action: planner.ActionDelete, Path: "x/y/old.txt"},
		{Action: planner.ActionDelete, Path: "already-gone.txt"},
	})
	require.NoError(t, err)
	for _, r := range results {
		assert.NoError(t, r.Error)
	}

	assert.NoDirExists(t, filepath.Join(dst, "x", "y"))
	assert.FileExists(t, filepath.Join(dst, "x", "keep.txt"))
	assert.DirExists(t, dst)
}

func TestExecuteDeletesAndPrunesRelativeRoot(t *testing.T) {
	conn, _, _ := setup(t, nil)
	dst := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dst, "x"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dst, "x", "y.txt"), []byte("y"), 0o644))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dst))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	results, err := NewExecutor(conn, nil, ".", nil, nil).Execute(context.Background(), []planner.Item{
		{Action: planner.ActionDelete, Path: "x/y.txt"},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.NoError(t, results[0].Error)

	assert.NoDirExists(t, filepath.Join(dst, "x"))
	assert.DirExists(t, dst)
}

func TestExecuteStop(t *testing.T) {
	conn, _, _ := setup(t, map[string]string{"a.txt": "a"})

	results, err := NewExecutor(conn, nil, t.TempDir(), nil, func() bool { return true }).
		Execute(context.Background(), []planner.Item{download("a.txt", "a")})
	assert.ErrorIs(t, err, ErrStopped)
	assert.Empty(t, results)
}

func TestExecuteCancelled(t *testing.T) {
	conn, _, _ := setup(t, map[string]string{"a.txt": "a"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewExecutor(conn, nil, t.TempDir(), nil, nil).Execute(ctx, []planner.Item{download("a.txt", "a")})
	assert.ErrorIs(t, err, context.Canceled)
}
