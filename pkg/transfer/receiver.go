package transfer

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/yuya-takeyama/lansync/internal/checksum"
	"github.com/yuya-takeyama/lansync/internal/walker"
	"github.com/yuya-takeyama/lansync/pkg/manifest"
	"github.com/yuya-takeyama/lansync/pkg/syncerr"
	"github.com/yuya-takeyama/lansync/pkg/wire"
)

// Receiver writes incoming files below a local root. Data lands in a
// partial file next to the destination and replaces it only once the
// content hash has been verified.
type Receiver struct {
	Fs afero.Fs
}

// NewReceiver returns a Receiver writing to fs.
func NewReceiver(fs afero.Fs) *Receiver {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Receiver{Fs: fs}
}

// Fetch requests relPath with GET and receives it.
func (r *Receiver) Fetch(conn *wire.Conn, root, relPath, expectedHash string) (int64, error) {
	if !manifest.ValidPath(relPath) {
		return 0, &syncerr.FileAccessError{Path: relPath, Reason: "path escapes local root"}
	}
	if err := conn.Send(wire.CmdGet, wire.GetRequest{Filename: relPath}); err != nil {
		return 0, err
	}
	return r.Receive(conn, root, relPath, expectedHash)
}

// Receive consumes one FSTART/FDATA*/FEND sequence for relPath and returns
// the number of bytes written. Per-file failures come back as
// FileAccessError, FilesystemError or IntegrityError with the stream left
// aligned for the next request; anything else ends the session.
func (r *Receiver) Receive(conn *wire.Conn, root, relPath, expectedHash string) (int64, error) {
	msg, err := conn.Receive()
	if err != nil {
		return 0, err
	}

	var start wire.FileStart
	switch msg.Cmd {
	case wire.CmdFileStart:
		if err := msg.Decode(&start); err != nil {
			return 0, err
		}
	case wire.CmdError:
		return 0, &syncerr.FileAccessError{Path: relPath, Reason: msg.Text()}
	default:
		return 0, syncerr.Protocol(fmt.Sprintf("expected FSTART for %s, got %s", relPath, msg.Cmd), syncerr.ErrUnexpectedCommand)
	}

	if start.Filename != relPath {
		return 0, syncerr.Protocol(fmt.Sprintf("requested %s, server started %s", relPath, start.Filename), syncerr.ErrUnexpectedCommand)
	}
	if start.Size < 0 {
		return 0, syncerr.Protocol(fmt.Sprintf("negative size %d for %s", start.Size, relPath), syncerr.ErrMalformed)
	}

	dest := filepath.Join(root, filepath.FromSlash(relPath))
	partial := dest + walker.PartialSuffix

	file, err := r.createPartial(dest, partial)
	if err != nil {
		if drainErr := drain(conn); drainErr != nil {
			return 0, drainErr
		}
		return 0, err
	}

	received, err := r.writeChunks(conn, file, relPath, start.Size)
	closeErr := file.Close()
	if err != nil {
		r.discard(partial)
		return received, err
	}
	if closeErr != nil {
		r.discard(partial)
		return received, syncerr.Filesystem("close", partial, closeErr)
	}

	if received != start.Size {
		r.discard(partial)
		return received, &syncerr.IntegrityError{
			Path:     relPath,
			Expected: fmt.Sprintf("%d bytes", start.Size),
			Actual:   fmt.Sprintf("%d bytes", received),
		}
	}

	actual, err := checksum.CalculateFile(r.Fs, partial)
	if err != nil {
		r.discard(partial)
		return received, syncerr.Filesystem("hash", partial, err)
	}
	if actual != expectedHash {
		r.discard(partial)
		return received, &syncerr.IntegrityError{Path: relPath, Expected: expectedHash, Actual: actual}
	}

	if err := r.Fs.Rename(partial, dest); err != nil {
		r.discard(partial)
		return received, syncerr.Filesystem("rename", dest, err)
	}
	return received, nil
}

func (r *Receiver) createPartial(dest, partial string) (afero.File, error) {
	dir := filepath.Dir(dest)
	if err := r.Fs.MkdirAll(dir, 0o755); err != nil {
		return nil, syncerr.Filesystem("mkdir", dir, err)
	}
	file, err := r.Fs.OpenFile(partial, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, syncerr.Filesystem("create", partial, err)
	}
	return file, nil
}

// writeChunks copies FDATA payloads into file until FEND.
func (r *Receiver) writeChunks(conn *wire.Conn, file afero.File, relPath string, size int64) (int64, error) {
	var received int64
	for {
		msg, err := conn.Receive()
		if err != nil {
			return received, err
		}

		switch msg.Cmd {
		case wire.CmdFileData:
			var chunk []byte
			if err := msg.Decode(&chunk); err != nil {
				return received, err
			}
			if received+int64(len(chunk)) > size {
				return received, syncerr.Protocol(fmt.Sprintf("%s: more data than the advertised %d bytes", relPath, size), syncerr.ErrMalformed)
			}
			if _, err := file.Write(chunk); err != nil {
				if drainErr := drain(conn); drainErr != nil {
					return received, drainErr
				}
				return received, syncerr.Filesystem("write", file.Name(), err)
			}
			received += int64(len(chunk))
		case wire.CmdFileEnd:
			return received, nil
		case wire.CmdError:
			return received, &syncerr.FileAccessError{Path: relPath, Reason: msg.Text()}
		default:
			return received, syncerr.Protocol(fmt.Sprintf("unexpected %s during transfer of %s", msg.Cmd, relPath), syncerr.ErrUnexpectedCommand)
		}
	}
}

func (r *Receiver) discard(partial string) {
	if err := r.Fs.Remove(partial); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to remove partial download", "path", partial, "error", err)
	}
}

// drain skips the rest of a file stream so the next request starts on a
// message boundary.
func drain(conn *wire.Conn) error {
	for {
		msg, err := conn.Receive()
		if err != nil {
			return err
		}
		switch msg.Cmd {
		case wire.CmdFileData:
		case wire.CmdFileEnd, wire.CmdError:
			return nil
		default:
			return syncerr.Protocol(fmt.Sprintf("unexpected %s while skipping a file", msg.Cmd), syncerr.ErrUnexpectedCommand)
		}
	}
}
