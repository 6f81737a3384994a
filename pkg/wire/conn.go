package wire

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/yuya-takeyama/lansync/pkg/syncerr"
)

// DefaultTimeout bounds every connect, read and write.
const DefaultTimeout = 30 * time.Second

// Conn exchanges messages over a stream connection. A Conn is owned by one
// goroutine at a time.
type Conn struct {
	conn    net.Conn
	reader  *bufio.Reader
	addr    string
	timeout time.Duration
}

// NewConn wraps c. A zero timeout disables I/O deadlines.
func NewConn(c net.Conn, timeout time.Duration) *Conn {
	addr := ""
	if remote := c.RemoteAddr(); remote != nil {
		addr = remote.String()
	}
	return &Conn{
		conn:    c,
		reader:  bufio.NewReaderSize(c, 64*1024),
		addr:    addr,
		timeout: timeout,
	}
}

// Dial connects to addr, classifying failures as ConnectionErrors.
func Dial(ctx context.Context, addr string, timeout time.Duration) (*Conn, error) {
	dialer := net.Dialer{Timeout: timeout}
	c, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, syncerr.Connection(addr, err)
	}
	conn := NewConn(c, timeout)
	conn.addr = addr
	return conn, nil
}

// RemoteAddr returns the address of the peer.
func (c *Conn) RemoteAddr() string {
	return c.addr
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.conn.Close()
}

// Send writes one message.
func (c *Conn) Send(cmd Command, data any) error {
	payload, err := Encode(cmd, data)
	if err != nil {
		return err
	}

	if c.timeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
			return syncerr.Connection(c.addr, err)
		}
	}

	if err := WriteFrame(c.conn, payload); err != nil {
		var protoErr *syncerr.ProtocolError
		if errors.As(err, &protoErr) {
			return err
		}
		return syncerr.Connection(c.addr, err)
	}
	return nil
}

// SendError writes an ERROR message carrying msg.
func (c *Conn) SendError(msg string) error {
	return c.Send(CmdError, msg)
}

// Receive reads one message. A peer that disconnects between messages yields
// a ConnectionError wrapping io.EOF.
func (c *Conn) Receive() (Message, error) {
	if c.timeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
			return Message{}, syncerr.Connection(c.addr, err)
		}
	}

	payload, err := ReadFrame(c.reader)
	if err != nil {
		var protoErr *syncerr.ProtocolError
		if errors.As(err, &protoErr) {
			return Message{}, err
		}
		return Message{}, syncerr.Connection(c.addr, err)
	}
	return Decode(payload)
}

// Expect reads one message, requires it to be cmd and decodes its data into
// v when v is non-nil.
func (c *Conn) Expect(cmd Command, v any) error {
	msg, err := c.Receive()
	if err != nil {
		return err
	}
	if msg.Cmd != cmd {
		reason := fmt.Sprintf("expected %s, got %s", cmd, msg.Cmd)
		if msg.Cmd == CmdError {
			reason = fmt.Sprintf("%s: %s", reason, msg.Text())
		}
		return syncerr.Protocol(reason, syncerr.ErrUnexpectedCommand)
	}
	if v == nil {
		return nil
	}
	return msg.Decode(v)
}
