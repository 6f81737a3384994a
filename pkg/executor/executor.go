package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"

	"github.com/yuya-takeyama/lansync/pkg/manifest"
	"github.com/yuya-takeyama/lansync/pkg/notify"
	"github.com/yuya-takeyama/lansync/pkg/planner"
	"github.com/yuya-takeyama/lansync/pkg/syncerr"
	"github.com/yuya-takeyama/lansync/pkg/transfer"
	"github.com/yuya-takeyama/lansync/pkg/wire"
)

// ErrStopped is returned when a stop was requested between two files.
var ErrStopped = errors.New("sync stopped")

// Executor applies a plan to a local root, one file at a time.
type Executor struct {
	conn     *wire.Conn
	fs       afero.Fs
	root     string
	receiver *transfer.Receiver
	notifier notify.Notifier
	stopped  func() bool
}

// NewExecutor returns an executor downloading over conn into root.
// stopped is polled between files and may be nil.
func NewExecutor(conn *wire.Conn, fs afero.Fs, root string, notifier notify.Notifier, stopped func() bool) *Executor {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if stopped == nil {
		stopped = func() bool { return false }
	}
	return &Executor{
		conn:     conn,
		fs:       fs,
		root:     root,
		receiver: transfer.NewReceiver(fs),
		notifier: notify.OrNull(notifier),
		stopped:  stopped,
	}
}

type Result struct {
	Item  planner.Item
	Bytes int64
	Error error
}

// Execute runs every delete, then every download, in the order given. A
// returned error means the session ended early: the connection failed,
// ctx was cancelled or a stop was requested. Per-file failures are only
// recorded in the results.
func (e *Executor) Execute(ctx context.Context, items []planner.Item) ([]Result, error) {
	var deletes, downloads []planner.Item
	for _, item := range items {
		switch item.Action {
		case planner.ActionDelete:
			deletes = append(deletes, item)
		case planner.ActionDownload:
			downloads = append(downloads, item)
		}
	}

	results := make([]Result, 0, len(items))

	for _, item := range deletes {
		if err := e.interrupted(ctx); err != nil {
			return results, err
		}
		err := e.delete(item.Path)
		if err != nil {
			slog.Warn("delete failed", "path", item.Path, "error", err)
			e.notifier.Status(fmt.Sprintf("failed to delete %s: %v", item.Path, err))
		} else {
			e.notifier.Status(fmt.Sprintf("deleted %s", item.Path))
		}
		results = append(results, Result{Item: item, Error: err})
	}

	total := len(downloads)
	for i, item := range downloads {
		if err := e.interrupted(ctx); err != nil {
			return results, err
		}

		n, err := e.receiver.Fetch(e.conn, e.root, item.Path, item.Hash)
		results = append(results, Result{Item: item, Bytes: n, Error: err})

		if err != nil && syncerr.IsSessionFatal(err) {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return results, ctxErr
			}
			return results, err
		}

		switch {
		case err == nil:
			e.notifier.Status(fmt.Sprintf("downloaded %s (%s)", item.Path, humanize.Bytes(uint64(n))))
		default:
			slog.Warn("download failed", "path", item.Path, "error", err)
			e.notifier.Status(fmt.Sprintf("failed to download %s: %v", item.Path, err))
			if err := e.reportIntegrity(err); err != nil {
				return results, err
			}
		}
		e.notifier.Progress(i+1, total)
	}

	return results, nil
}

func (e *Executor) interrupted(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.stopped() {
		return ErrStopped
	}
	return nil
}

// reportIntegrity tells the server about a file that failed verification.
func (e *Executor) reportIntegrity(err error) error {
	var integrityErr *syncerr.IntegrityError
	if !errors.As(err, &integrityErr) {
		return nil
	}
	return e.conn.SendError(fmt.Sprintf("verification failed for %s", integrityErr.Path))
}

// delete removes relPath and any directories it leaves empty. A file that is
// already gone counts as deleted.
func (e *Executor) delete(relPath string) error {
	if !manifest.ValidPath(relPath) {
		return &syncerr.FileAccessError{Path: relPath, Reason: "path escapes local root"}
	}

	path := filepath.Join(e.root, filepath.FromSlash(relPath))
	if err := e.fs.Remove(path); err != nil && !os.IsNotExist(err) {
		return syncerr.Filesystem("remove", path, err)
	}

	e.pruneEmptyDirs(filepath.Dir(path))
	return nil
}

// pruneEmptyDirs removes dir and its parents while they are empty, stopping
// at the root.
func (e *Executor) pruneEmptyDirs(dir string) {
	root := filepath.Clean(e.root)
	for {
		rel, err := filepath.Rel(root, dir)
		if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return
		}

		empty, err := afero.IsEmpty(e.fs, dir)
		if err != nil || !empty {
			return
		}
		if err := e.fs.Remove(dir); err != nil {
			slog.Debug("failed to remove empty directory", "path", dir, "error", err)
			return
		}
		dir = filepath.Dir(dir)
	}
}
