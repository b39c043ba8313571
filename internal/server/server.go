// Package server accepts game connections, greets them and runs their lobby
// sessions. It also serves the admin HTTP surface.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lrnzgll/subprime-shutdown/internal/conn"
	"github.com/lrnzgll/subprime-shutdown/internal/httpapi"
	"github.com/lrnzgll/subprime-shutdown/internal/hub"
	"github.com/lrnzgll/subprime-shutdown/internal/session"
	"github.com/lrnzgll/subprime-shutdown/pkg/protocol"
)

const welcomeText = "Connected to Subprime Showdown server"

type Options struct {
	Addr string
	// AdminAddr serves /healthz, /rooms and /ws. Empty disables it.
	AdminAddr    string
	TLS          *tls.Config
	PollInterval time.Duration
	WriteTimeout time.Duration
	Logger       *zap.Logger
}

type Server struct {
	hub  *hub.Hub
	opts Options
	log  *zap.Logger

	ln      net.Listener
	adminLn net.Listener
	admin   *http.Server

	lastID   atomic.Int64
	sessions sync.WaitGroup
}

func New(h *hub.Hub, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Server{
		hub:  h,
		opts: opts,
		log:  opts.Logger.Named("server"),
	}
}

// Listen binds the game port and, if configured, the admin port. A bind
// failure is the only error that stops the server from starting.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.opts.Addr, err)
	}
	if s.opts.TLS != nil {
		ln = tls.NewListener(ln, s.opts.TLS)
	}
	s.ln = ln

	if s.opts.AdminAddr != "" {
		adminLn, err := net.Listen("tcp", s.opts.AdminAddr)
		if err != nil {
			_ = ln.Close()
			return fmt.Errorf("listen admin %s: %w", s.opts.AdminAddr, err)
		}
		s.adminLn = adminLn
		s.admin = &http.Server{
			Handler:           httpapi.SetupRoutes(s.hub, s, s.log),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	s.log.Info("listening",
		zap.Stringer("addr", ln.Addr()),
		zap.Bool("tls", s.opts.TLS != nil),
		zap.String("admin", s.opts.AdminAddr))
	return nil
}

func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

func (s *Server) AdminAddr() net.Addr {
	if s.adminLn == nil {
		return nil
	}
	return s.adminLn.Addr()
}

// Serve accepts until ctx is cancelled, then waits for lobby sessions and
// shuts the hub down. Listen must have been called.
func (s *Server) Serve(ctx context.Context) error {
	if s.ln == nil {
		return errors.New("server is not listening")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.acceptLoop(gctx) })

	if s.admin != nil {
		s.admin.BaseContext = func(net.Listener) context.Context { return gctx }
		g.Go(func() error {
			if err := s.admin.Serve(s.adminLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("admin: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		return s.Close()
	})

	err := g.Wait()
	s.sessions.Wait()
	s.hub.Shutdown()
	s.log.Info("server stopped")
	return err
}

// Run binds and serves.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Close stops accepting. Connections already handed to rooms are closed by
// the hub shutdown that follows in Serve.
func (s *Server) Close() error {
	var err error
	if s.ln != nil {
		if e := s.ln.Close(); e != nil && !errors.Is(e, net.ErrClosed) {
			err = multierr.Append(err, fmt.Errorf("close listener: %w", e))
		}
	}
	if s.admin != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if e := s.admin.Shutdown(shutdownCtx); e != nil {
			err = multierr.Append(err, fmt.Errorf("shutdown admin: %w", e))
		}
	}
	return err
}

func (s *Server) acceptLoop(ctx context.Context) error {
	for {
		nc, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				s.log.Warn("accept timeout", zap.Error(err))
				time.Sleep(50 * time.Millisecond)
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}

		s.sessions.Add(1)
		go func() {
			defer s.sessions.Done()
			s.handle(ctx, nc)
		}()
	}
}

// ServeConn runs the lobby for nc and then blocks until the connection is
// finished, whether the session closed it or a room did later. Used by the
// WebSocket bridge, which must not return while the socket is in use.
func (s *Server) ServeConn(ctx context.Context, nc net.Conn) {
	c := s.handle(ctx, nc)
	select {
	case <-c.Done():
	case <-ctx.Done():
		_ = c.Close()
	}
}

func (s *Server) handle(ctx context.Context, nc net.Conn) *conn.Conn {
	id := int(s.lastID.Add(1))
	c := conn.New(nc, conn.Options{WriteTimeout: s.opts.WriteTimeout})
	log := s.log.With(zap.Int("client_id", id), zap.Stringer("remote", c.RemoteAddr()))

	welcome, err := protocol.Success(protocol.ActionWelcome, protocol.Welcome{ClientID: id, Message: welcomeText})
	if err == nil {
		err = c.Send(welcome)
	}
	if err != nil {
		log.Debug("welcome failed", zap.Error(err))
		_ = c.Close()
		return c
	}
	log.Info("client connected")

	sess := session.New(id, c, s.hub, session.Options{PollInterval: s.opts.PollInterval, Logger: log})
	if err := sess.Run(ctx); err != nil && ctx.Err() == nil {
		log.Info("client left lobby", zap.Error(err))
	}
	return c
}
