package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/yuya-takeyama/lansync/pkg/manifest"
	"github.com/yuya-takeyama/lansync/pkg/notify"
	"github.com/yuya-takeyama/lansync/pkg/syncerr"
	"github.com/yuya-takeyama/lansync/pkg/transfer"
)

const (
	DefaultPort = 5000

	shutdownGrace = 10 * time.Second
)

type Config struct {
	Addr      string
	Root      string
	Builder   *manifest.Builder
	ChunkSize int
	// IdleTimeout bounds the wait for the next request; zero waits forever.
	IdleTimeout time.Duration
	Notifier    notify.Notifier
}

// Server shares one directory tree with any number of clients. Each
// accepted connection is served by its own goroutine.
type Server struct {
	cfg      Config
	root     string
	fs       afero.Fs
	builder  *manifest.Builder
	sender   *transfer.Sender
	notifier notify.Notifier

	listener net.Listener
	stopped  atomic.Bool
	wg       sync.WaitGroup

	// mu guards listener and conns.
	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

func New(cfg Config) (*Server, error) {
	if cfg.Addr == "" {
		cfg.Addr = net.JoinHostPort("", strconv.Itoa(DefaultPort))
	}

	builder := cfg.Builder
	if builder == nil {
		var err error
		builder, err = manifest.NewBuilder(0)
		if err != nil {
			return nil, err
		}
	}

	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve share root %s: %w", cfg.Root, err)
	}

	return &Server{
		cfg:      cfg,
		root:     root,
		fs:       builder.Fs(),
		builder:  builder,
		sender:   transfer.NewSender(builder.Fs(), cfg.ChunkSize),
		notifier: notify.OrNull(cfg.Notifier),
		conns:    make(map[net.Conn]struct{}),
	}, nil
}

// Start creates the share root if needed, binds the listener and accepts
// connections in the background.
func (s *Server) Start() error {
	if err := s.fs.MkdirAll(s.root, 0o755); err != nil {
		return syncerr.Filesystem("mkdir", s.root, err)
	}

	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.notifier.Status(fmt.Sprintf("sharing %s on %s", s.root, listener.Addr()))
	if tcpAddr, ok := listener.Addr().(*net.TCPAddr); ok && tcpAddr.IP.IsUnspecified() {
		for _, ip := range LANAddresses() {
			s.notifier.Status(fmt.Sprintf("reachable at %s", net.JoinHostPort(ip, strconv.Itoa(tcpAddr.Port))))
		}
	}

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Addr returns the bound listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the listener. Sessions already running continue until their
// client disconnects or fails.
func (s *Server) Stop() error {
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()

	if listener == nil || !s.stopped.CompareAndSwap(false, true) {
		return nil
	}
	s.notifier.Status("server stopped")
	return listener.Close()
}

// Wait blocks until the accept loop and every session have returned.
func (s *Server) Wait() {
	s.wg.Wait()
}

// Serve starts the server and runs it until ctx is done. On shutdown
// sessions get a grace period before their connections are closed.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		<-egCtx.Done()
		slog.Info("stopping server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()

		return s.Shutdown(shutdownCtx)
	})

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Shutdown stops accepting, waits for sessions until ctx is done and then
// closes whatever is still connected.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.Stop(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}

	done := make(chan struct{})
	go func() {
		s.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}

	s.mu.Lock()
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()

	<-done
	return nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		c, err := s.listener.Accept()
		if err != nil {
			if s.stopped.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			slog.Warn("accept failed", "error", err)
			continue
		}

		s.track(c, true)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.track(c, false)
			s.handle(c)
		}()
	}
}

func (s *Server) track(c net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[c] = struct{}{}
	} else {
		delete(s.conns, c)
	}
}

// LANAddresses lists the IPv4 addresses of the host's active non-loopback
// interfaces.
func LANAddresses() []string {
	ifaces, err := net.Interfaces()
	if err != nil {
		slog.Debug("failed to list interfaces", "error", err)
		return nil
	}

	var ips []string
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			if ip4 := ipNet.IP.To4(); ip4 != nil && !ip4.IsLoopback() {
				ips = append(ips, ip4.String())
			}
		}
	}
	return ips
}
