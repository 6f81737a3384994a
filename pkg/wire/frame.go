package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/yuya-takeyama/lansync/pkg/syncerr"
)

const (
	// MaxFrameSize bounds a single payload. An 8 KiB chunk is about 11 KiB
	// once base64-encoded; manifests of very large trees are the only big
	// frames.
	MaxFrameSize = 64 << 20

	headerSize = 4
)

// WriteFrame writes payload behind its 4-byte big-endian length in a single
// Write call.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return syncerr.Protocol(fmt.Sprintf("outgoing frame of %d bytes", len(payload)), syncerr.ErrFrameTooLarge)
	}

	frame := make([]byte, headerSize+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[headerSize:], payload)

	_, err := w.Write(frame)
	return err
}

// ReadFrame reads one frame. It returns io.EOF when the stream ends cleanly
// before a header, and a ProtocolError wrapping ErrTruncated when it ends
// inside a frame.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, syncerr.Protocol("frame header", syncerr.ErrTruncated)
		}
		return nil, err
	}

	length := binary.BigEndian.Uint32(header[:])
	if length > MaxFrameSize {
		return nil, syncerr.Protocol(fmt.Sprintf("incoming frame of %d bytes", length), syncerr.ErrFrameTooLarge)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, syncerr.Protocol(fmt.Sprintf("frame payload of %d bytes", length), syncerr.ErrTruncated)
		}
		return nil, err
	}
	return payload, nil
}
