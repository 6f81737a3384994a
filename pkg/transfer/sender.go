// Package transfer moves single files over a wire.Conn: FSTART, a run of
// FDATA chunks and FEND, verified by hash on the receiving side.
package transfer

import (
	"fmt"
	"io"

	"github.com/spf13/afero"

	"github.com/yuya-takeyama/lansync/pkg/syncerr"
	"github.com/yuya-takeyama/lansync/pkg/wire"
)

const (
	DefaultChunkSize = 8 * 1024
	MinChunkSize     = 4 * 1024
	MaxChunkSize     = 8 * 1024
)

// Sender streams files from a share root.
type Sender struct {
	Fs        afero.Fs
	ChunkSize int
}

// NewSender returns a Sender reading from fs with chunks clamped to
// [MinChunkSize, MaxChunkSize].
func NewSender(fs afero.Fs, chunkSize int) *Sender {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	switch {
	case chunkSize <= 0:
		chunkSize = DefaultChunkSize
	case chunkSize < MinChunkSize:
		chunkSize = MinChunkSize
	case chunkSize > MaxChunkSize:
		chunkSize = MaxChunkSize
	}
	return &Sender{Fs: fs, ChunkSize: chunkSize}
}

// Send transmits root/relPath. A file that cannot be served is answered
// with ERROR and reported as a FileAccessError; only connection failures
// are returned as session-fatal errors. It returns the payload bytes sent.
func (s *Sender) Send(conn *wire.Conn, root, relPath string) (int64, error) {
	path, err := ResolvePath(s.Fs, root, relPath)
	if err != nil {
		return 0, deny(conn, err)
	}

	file, err := s.Fs.Open(path)
	if err != nil {
		return 0, deny(conn, &syncerr.FileAccessError{Path: relPath, Reason: err.Error()})
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return 0, deny(conn, &syncerr.FileAccessError{Path: relPath, Reason: err.Error()})
	}
	if !info.Mode().IsRegular() {
		return 0, deny(conn, &syncerr.FileAccessError{Path: relPath, Reason: "not a regular file"})
	}

	size := info.Size()
	if err := conn.Send(wire.CmdFileStart, wire.FileStart{Filename: relPath, Size: size}); err != nil {
		return 0, err
	}

	// Never send more than advertised, even if the file grows meanwhile.
	reader := io.LimitReader(file, size)
	buffer := make([]byte, s.ChunkSize)
	var sent int64
	for {
		n, err := reader.Read(buffer)
		if n > 0 {
			if sendErr := conn.Send(wire.CmdFileData, buffer[:n]); sendErr != nil {
				return sent, sendErr
			}
			sent += int64(n)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			readErr := &syncerr.FileAccessError{Path: relPath, Reason: fmt.Sprintf("read failed: %v", err)}
			if sendErr := conn.SendError(readErr.Error()); sendErr != nil {
				return sent, sendErr
			}
			return sent, readErr
		}
	}

	if err := conn.Send(wire.CmdFileEnd, wire.FileEnd{Filename: relPath}); err != nil {
		return sent, err
	}
	return sent, nil
}

func deny(conn *wire.Conn, cause error) error {
	if err := conn.SendError(AccessDenied); err != nil {
		return err
	}
	return cause
}
