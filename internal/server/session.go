package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/yuya-takeyama/lansync/pkg/syncerr"
	"github.com/yuya-takeyama/lansync/pkg/wire"
)

type session struct {
	id     string
	server *Server
	conn   *wire.Conn
	log    *slog.Logger
}

func (s *Server) handle(c net.Conn) {
	conn := wire.NewConn(c, s.cfg.IdleTimeout)
	defer conn.Close()

	sess := &session{
		id:     uuid.NewString(),
		server: s,
		conn:   conn,
	}
	sess.log = slog.With("session", sess.id, "remote", conn.RemoteAddr())

	s.notifier.Status(fmt.Sprintf("client connected: %s", conn.RemoteAddr()))
	err := sess.run()
	switch {
	case err == nil, errors.Is(err, io.EOF):
	case errors.Is(err, net.ErrClosed) && s.stopped.Load():
	default:
		sess.log.Warn("session ended", "error", err)
	}
	s.notifier.Status(fmt.Sprintf("client disconnected: %s", conn.RemoteAddr()))
}

// run serves requests until the client leaves. The first message must be
// HELLO.
func (s *session) run() error {
	msg, err := s.conn.Receive()
	if err != nil {
		return err
	}
	if msg.Cmd != wire.CmdHello {
		_ = s.conn.SendError("expected HELLO")
		return syncerr.Protocol(fmt.Sprintf("first message was %s", msg.Cmd), syncerr.ErrUnexpectedCommand)
	}
	if err := s.conn.Send(wire.CmdHello, wire.ServerGreeting); err != nil {
		return err
	}
	s.log.Debug("handshake complete", "greeting", msg.Text())

	for {
		msg, err := s.conn.Receive()
		if err != nil {
			return err
		}

		switch msg.Cmd {
		case wire.CmdHello:
			if err := s.conn.Send(wire.CmdHello, wire.ServerGreeting); err != nil {
				return err
			}
		case wire.CmdList:
			if err := s.list(); err != nil {
				return err
			}
		case wire.CmdGet:
			if err := s.get(msg); err != nil {
				return err
			}
		case wire.CmdError:
			s.log.Warn("client reported a problem", "message", msg.Text())
		default:
			_ = s.conn.SendError("unexpected command")
			return syncerr.Protocol(fmt.Sprintf("unexpected %s from client", msg.Cmd), syncerr.ErrUnexpectedCommand)
		}
	}
}

func (s *session) list() error {
	s.server.notifier.Status("sending manifest")

	m, err := s.server.builder.Build(s.server.root)
	if err != nil {
		s.log.Error("failed to build manifest", "error", err)
		return s.conn.SendError("failed to build manifest")
	}

	s.log.Debug("manifest built", "files", len(m))
	return s.conn.Send(wire.CmdList, m)
}

func (s *session) get(msg wire.Message) error {
	var req wire.GetRequest
	if err := msg.Decode(&req); err != nil {
		_ = s.conn.SendError("malformed request")
		return err
	}

	n, err := s.server.sender.Send(s.conn, s.server.root, req.Filename)
	if err != nil {
		if syncerr.IsSessionFatal(err) {
			return err
		}
		s.log.Warn("file not sent", "path", req.Filename, "error", err)
		return nil
	}

	s.server.notifier.Status(fmt.Sprintf("sent %s (%s)", req.Filename, humanize.Bytes(uint64(n))))
	return nil
}
