// Package client runs one sync session against a lansync server: connect,
// handshake, fetch the remote manifest, diff it against the local tree and
// apply the difference.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/spf13/afero"

	"github.com/yuya-takeyama/lansync/internal/walker"
	"github.com/yuya-takeyama/lansync/pkg/executor"
	"github.com/yuya-takeyama/lansync/pkg/manifest"
	"github.com/yuya-takeyama/lansync/pkg/notify"
	"github.com/yuya-takeyama/lansync/pkg/planner"
	"github.com/yuya-takeyama/lansync/pkg/syncerr"
	"github.com/yuya-takeyama/lansync/pkg/wire"
)

const DefaultPort = 5000

type Config struct {
	Host    string
	Port    int
	Root    string
	Timeout time.Duration

	// DeleteEnabled removes local files the server does not have.
	DeleteEnabled bool
	// AllowWipe permits mirroring an empty server, deleting every local file.
	AllowWipe bool

	Excludes []string
	Includes []string

	DryRun    bool
	HashCache int
}

func (c Config) addr() string {
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

type Client struct {
	cfg      Config
	notifier notify.Notifier
	stopped  atomic.Bool
}

func New(cfg Config, notifier notify.Notifier) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = wire.DefaultTimeout
	}
	return &Client{
		cfg:      cfg,
		notifier: notify.OrNull(notifier),
	}
}

// Stop asks a running or about to start Sync to finish after the current
// file. The request is cleared when that Sync returns.
func (c *Client) Stop() {
	c.stopped.Store(true)
}

// Sync performs one session. The returned error is non-nil when the session
// could not run to completion; per-file failures only show up in Result.
func (c *Client) Sync(ctx context.Context) (Result, error) {
	defer c.stopped.Store(false)
	start := time.Now()
	result := Result{DryRun: c.cfg.DryRun}

	lock, err := lockRoot(c.cfg.Root)
	if err != nil {
		return c.fail(ctx, &result, start, "lock", err)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			slog.Warn("failed to release sync root", "root", c.cfg.Root, "error", err)
		}
	}()

	addr := c.cfg.addr()
	c.notifier.Status(fmt.Sprintf("connecting to %s", addr))
	conn, err := wire.Dial(ctx, addr, c.cfg.Timeout)
	if err != nil {
		return c.fail(ctx, &result, start, "connect", err)
	}
	defer conn.Close()

	// Closing the socket is the only way to interrupt a blocked read.
	stopAfter := context.AfterFunc(ctx, func() { conn.Close() })
	defer stopAfter()

	if err := handshake(conn); err != nil {
		return c.fail(ctx, &result, start, "handshake", err)
	}
	c.notifier.Status("connected to server")

	filter := walker.Filter{Excludes: c.cfg.Excludes, Includes: c.cfg.Includes}

	remote, err := fetchManifest(conn)
	if err != nil {
		return c.fail(ctx, &result, start, "fetch manifest", err)
	}

	builder, err := manifest.NewBuilder(c.cfg.HashCache, manifest.WithFs(afero.NewOsFs()), manifest.WithFilter(filter))
	if err != nil {
		return c.fail(ctx, &result, start, "build local manifest", err)
	}
	local, w, err := builder.Scan(c.cfg.Root)
	if err != nil {
		return c.fail(ctx, &result, start, "build local manifest", err)
	}

	// Paths the local tree ignores are left alone in both directions.
	remote = planner.Without(remote, w.Ignored)
	c.notifier.Status(fmt.Sprintf("server has %d files", len(remote)))

	plan, err := planner.Compare(remote, local, planner.Options{
		DeleteEnabled: c.cfg.DeleteEnabled,
		AllowWipe:     c.cfg.AllowWipe,
	})
	if err != nil {
		return c.fail(ctx, &result, start, "plan", err)
	}
	result.Plan = plan
	c.notifier.Status(fmt.Sprintf("%d files to download, %d to delete", len(plan.Downloads()), len(plan.Deletes())))

	if c.cfg.DryRun {
		result.Success = true
		return c.finish(&result, start), nil
	}

	exec := executor.NewExecutor(conn, afero.NewOsFs(), c.cfg.Root, c.notifier, c.stopped.Load)
	files, execErr := exec.Execute(ctx, plan.Items())
	result.tally(files)

	if execErr != nil {
		return c.fail(ctx, &result, start, "transfer", execErr)
	}

	result.Success = result.Failed == 0
	c.notifier.Status("disconnected")
	return c.finish(&result, start), nil
}

func handshake(conn *wire.Conn) error {
	if err := conn.Send(wire.CmdHello, wire.ClientGreeting); err != nil {
		return err
	}
	return conn.Expect(wire.CmdHello, nil)
}

func fetchManifest(conn *wire.Conn) (manifest.Manifest, error) {
	if err := conn.Send(wire.CmdList, nil); err != nil {
		return nil, err
	}

	var remote manifest.Manifest
	if err := conn.Expect(wire.CmdList, &remote); err != nil {
		return nil, err
	}
	if remote == nil {
		remote = manifest.New()
	}
	if err := remote.Normalize(); err != nil {
		return nil, syncerr.Protocol("invalid manifest", fmt.Errorf("%w: %v", syncerr.ErrMalformed, err))
	}
	return remote, nil
}

func (c *Client) finish(result *Result, start time.Time) Result {
	result.Duration = time.Since(start)
	result.Message = result.Summary()
	c.notifier.Status(result.Message)
	return *result
}

func (c *Client) fail(ctx context.Context, result *Result, start time.Time, stage string, err error) (Result, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = ctxErr
		result.Cancelled = true
	}
	if errors.Is(err, executor.ErrStopped) {
		result.Cancelled = true
	}
	result.Success = false
	result.Duration = time.Since(start)

	if result.Cancelled {
		result.Message = result.Summary()
	} else {
		result.Message = fmt.Sprintf("%s failed: %v", stage, err)
	}
	c.notifier.Status(result.Message)
	return *result, fmt.Errorf("%s: %w", stage, err)
}
