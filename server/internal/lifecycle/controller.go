// Package lifecycle owns process start and stop for livefeed-server: the
// HTTP listener, the background refresher and the streaming sessions.
//
// Start binds the listener, starts the refresher and serves until Stop is
// called or its context ends. Shutdown order is: stop the refresher, stop
// accepting connections, ask every session to finish at its next wait, then
// give open connections the grace period before closing them.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultShutdownGrace = 5 * time.Second
	readHeaderTimeout    = 10 * time.Second
)

// ErrStartup marks failures that prevent the server from starting, such as a
// listener bind error.
var ErrStartup = errors.New("lifecycle: startup failed")

// Runner is the background producer started and stopped with the server.
type Runner interface {
	Start(ctx context.Context) error
	Stop()
}

// Sessions are the long-lived client connections drained on shutdown.
type Sessions interface {
	Shutdown()
	Wait(ctx context.Context) error
}

// Controller runs the server until stopped.
type Controller struct {
	handler  http.Handler
	runner   Runner
	sessions Sessions
	grace    time.Duration

	stop     chan struct{}
	stopOnce sync.Once

	ready     chan struct{}
	readyOnce sync.Once
	mu        sync.Mutex
	addr      net.Addr
}

// New creates a Controller serving h. sessions may be nil. A non-positive
// grace selects DefaultShutdownGrace.
func New(h http.Handler, runner Runner, sessions Sessions, grace time.Duration) *Controller {
	if grace <= 0 {
		grace = DefaultShutdownGrace
	}
	return &Controller{
		handler:  h,
		runner:   runner,
		sessions: sessions,
		grace:    grace,
		stop:     make(chan struct{}),
		ready:    make(chan struct{}),
	}
}

// Start binds addr and serves until Stop is called or ctx is done. A bind
// failure wraps ErrStartup. Start returns nil after a clean shutdown.
func (c *Controller) Start(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: listen %s: %w", ErrStartup, addr, err)
	}
	return c.Serve(ctx, ln)
}

// Serve is Start on an existing listener. It takes ownership of ln.
func (c *Controller) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           c.handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	if c.sessions != nil {
		srv.RegisterOnShutdown(c.sessions.Shutdown)
	}

	if err := c.runner.Start(ctx); err != nil {
		ln.Close()
		return fmt.Errorf("%w: start refresher: %w", ErrStartup, err)
	}

	c.mu.Lock()
	c.addr = ln.Addr()
	c.mu.Unlock()
	c.readyOnce.Do(func() { close(c.ready) })

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("lifecycle: http listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("lifecycle: serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		select {
		case <-c.stop:
		case <-gctx.Done():
		}
		c.shutdown(srv)
		return nil
	})

	err := g.Wait()
	slog.Info("lifecycle: bye")
	return err
}

func (c *Controller) shutdown(srv *http.Server) {
	slog.Info("lifecycle: shutting down", "grace", c.grace)
	c.runner.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), c.grace)
	defer cancel()

	err := srv.Shutdown(ctx)
	if err == nil && c.sessions != nil {
		// Hijacked connections are not tracked by the http.Server.
		err = c.sessions.Wait(ctx)
	}
	if err != nil {
		slog.Warn("lifecycle: grace period expired, closing remaining connections", "err", err)
		_ = srv.Close()
	}
}

// Stop asks a running Start to shut down. It does not block and is safe to
// call more than once and from any goroutine.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// Ready is closed once the listener is bound and the refresher started.
func (c *Controller) Ready() <-chan struct{} {
	return c.ready
}

// Addr returns the bound listener address, or nil before Ready.
func (c *Controller) Addr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addr
}
