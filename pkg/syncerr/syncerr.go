// Package syncerr defines the error taxonomy shared by the server, the client
// and the transfer engine.
//
// Connection and protocol errors are fatal to a session. File access,
// integrity and filesystem errors are scoped to a single file and let the
// session carry on with the next one.
package syncerr

import (
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
)

var (
	ErrTruncated         = errors.New("truncated message")
	ErrUnexpectedCommand = errors.New("unexpected command")
	ErrFrameTooLarge     = errors.New("frame too large")
	ErrMalformed         = errors.New("malformed message")
)

// ConnKind classifies a ConnectionError.
type ConnKind string

const (
	ConnRefused ConnKind = "refused"
	ConnTimeout ConnKind = "timeout"
	ConnIO      ConnKind = "io"
)

// ConnectionError reports a refused, timed out or reset connection.
type ConnectionError struct {
	Kind ConnKind
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	switch e.Kind {
	case ConnRefused:
		return fmt.Sprintf("connection refused by %s", e.Addr)
	case ConnTimeout:
		return fmt.Sprintf("timeout talking to %s: %v", e.Addr, e.Err)
	}
	return fmt.Sprintf("connection to %s failed: %v", e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ProtocolError reports a malformed frame, an unexpected command or a
// truncated read.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err == nil {
		return "protocol error: " + e.Reason
	}
	return fmt.Sprintf("protocol error: %s: %v", e.Reason, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// FileAccessError reports a missing file, a denied permission or a path
// traversal attempt for one requested file.
type FileAccessError struct {
	Path   string
	Reason string
}

func (e *FileAccessError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Reason)
}

// IntegrityError reports a file whose content did not match the advertised
// hash or size after download.
type IntegrityError struct {
	Path     string
	Expected string
	Actual   string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity check failed for %s: expected %s, got %s", e.Path, e.Expected, e.Actual)
}

// FilesystemError reports a local filesystem failure (mkdir, create, write,
// rename, remove).
type FilesystemError struct {
	Op   string
	Path string
	Err  error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error { return e.Err }

// Protocol wraps err as a ProtocolError.
func Protocol(reason string, err error) error {
	return &ProtocolError{Reason: reason, Err: err}
}

// Filesystem wraps err as a FilesystemError.
func Filesystem(op, path string, err error) error {
	return &FilesystemError{Op: op, Path: path, Err: err}
}

// Connection classifies a network error from dialing or talking to addr.
func Connection(addr string, err error) error {
	if err == nil {
		return nil
	}
	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return err
	}

	kind := ConnIO
	var netErr net.Error
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		kind = ConnRefused
	case errors.Is(err, os.ErrDeadlineExceeded):
		kind = ConnTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = ConnTimeout
	}
	return &ConnectionError{Kind: kind, Addr: addr, Err: err}
}

// IsSessionFatal reports whether err must end the current session.
func IsSessionFatal(err error) bool {
	var connErr *ConnectionError
	var protoErr *ProtocolError
	return errors.As(err, &connErr) || errors.As(err, &protoErr)
}

// IsTimeout reports whether err is a timeout ConnectionError.
func IsTimeout(err error) bool {
	var connErr *ConnectionError
	return errors.As(err, &connErr) && connErr.Kind == ConnTimeout
}

// IsRefused reports whether err is a refused ConnectionError.
func IsRefused(err error) bool {
	var connErr *ConnectionError
	return errors.As(err, &connErr) && connErr.Kind == ConnRefused
}
