// Package server accepts rpc connections and serves them on a pool of executors.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"github.com/ozontech/pnrpc/consts"
	"github.com/ozontech/pnrpc/executor"
	"github.com/ozontech/pnrpc/rpc"
	"github.com/ozontech/pnrpc/transport"
	"github.com/ozontech/pnrpc/wire"
)

var ErrNotListening = errors.New("server: not listening")

type Config struct {
	Addr string
	// Workers - число executor'ов для соединений, 0 - все соединения на acceptor'е
	Workers int
	// MaxConns limits concurrently open connections, 0 is unlimited.
	MaxConns     int
	MaxFrameSize int
	// StopTimeout bounds Shutdown when Run is canceled.
	StopTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Addr:         consts.DefaultListenAddr,
		Workers:      4,
		MaxFrameSize: consts.MaxFrameSize,
		StopTimeout:  consts.DefaultStopTimeout,
	}
}

type Opt func(*Server)

// WithExecutors hands over executors used by methods for rebinding. The server
// starts and stops them together with its workers.
func WithExecutors(es ...*executor.Executor) Opt {
	return func(s *Server) { s.dedicated = append(s.dedicated, es...) }
}

// WithListener serves an already bound listener instead of Config.Addr.
func WithListener(l net.Listener) Opt {
	return func(s *Server) { s.listener = l }
}

type Server struct {
	conf       Config
	dispatcher *rpc.Dispatcher

	acceptor  *executor.Executor
	workers   *executor.Pool
	dedicated []*executor.Executor
	wireOpts  []wire.Opt

	mu       sync.Mutex
	listener net.Listener

	log *zap.Logger
}

func New(conf Config, d *rpc.Dispatcher, log *zap.Logger, opts ...Opt) *Server {
	log = log.Named("server")
	s := &Server{
		conf:       conf,
		dispatcher: d,
		acceptor:   executor.New("acceptor", log),
		workers:    executor.NewPool("worker", conf.Workers, log),
		log:        log,
	}
	if conf.MaxFrameSize > 0 {
		s.wireOpts = append(s.wireOpts, wire.WithMaxFrameSize(conf.MaxFrameSize))
	}
	for _, o := range opts {
		o(s)
	}
	if s.listener != nil && conf.MaxConns > 0 {
		s.listener = netutil.LimitListener(s.listener, conf.MaxConns)
	}
	return s
}

// Listen binds the configured address.
func (s *Server) Listen() error {
	l, err := net.Listen("tcp", s.conf.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.conf.Addr, err)
	}
	if s.conf.MaxConns > 0 {
		l = netutil.LimitListener(l, s.conf.MaxConns)
	}
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
	s.log.Info("listening", zap.Stringer("addr", l.Addr()), zap.Int("workers", s.conf.Workers))
	return nil
}

func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Run listens (unless already listening), serves until ctx is done and shuts
// the server down.
func (s *Server) Run(ctx context.Context) error {
	if s.Addr() == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return s.Serve(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		timeout := s.conf.StopTimeout
		if timeout <= 0 {
			timeout = consts.DefaultStopTimeout
		}
		stopCtx, stopCancel := context.WithTimeout(context.Background(), timeout)
		defer stopCancel()
		return s.Shutdown(stopCtx)
	})
	return g.Wait()
}

// Serve starts the executors and runs the accept loop on the acceptor until
// ctx is done or the listener is closed.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	l := s.listener
	s.mu.Unlock()
	if l == nil {
		return ErrNotListening
	}

	s.acceptor.Start()
	s.workers.Start()
	for _, e := range s.dedicated {
		e.Start()
	}

	stop := context.AfterFunc(ctx, func() { l.Close() })
	defer stop()

	err := s.acceptor.Do(context.Background(), func(context.Context) error {
		return s.accept(l)
	})
	if errors.Is(err, executor.ErrStopped) {
		return nil
	}
	return err
}

func (s *Server) accept(l net.Listener) error {
	defer s.log.Debug("accept loop done")
	for {
		c, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		s.handle(c)
	}
}

func (s *Server) handle(c net.Conn) {
	e := s.workers.Next()
	if e == nil {
		e = s.acceptor
	}
	conn := transport.New(c, e, s.log, s.wireOpts...)
	log := conn.Logger()
	log.Debug("connection accepted", zap.Stringer("remote", c.RemoteAddr()), zap.String("executor", e.Name()))

	if err := e.Go(s.serveTask(conn)); err != nil {
		log.Warn("can't schedule connection", zap.Error(err))
		conn.Close()
	}
}

func (s *Server) serveTask(conn *transport.Conn) executor.Task {
	return func(ctx context.Context) { s.serve(ctx, conn) }
}

// serve handles requests of conn one by one. After a rebind the loop moves
// to the executor now owning the connection.
func (s *Server) serve(ctx context.Context, conn *transport.Conn) {
	log := conn.Logger()
	defer func() {
		if r := recover(); r != nil {
			log.Error("connection loop panicked", zap.Any("panic", r))
			conn.Close()
		}
	}()

	for {
		info, err := s.dispatcher.HandleRequest(ctx, conn)
		if err != nil {
			s.drop(info.Conn, err)
			return
		}
		log.Debug("rpc handled", info.Fields()...)

		if info.Conn != conn {
			next := info.Conn
			if err := next.Executor().Go(s.serveTask(next)); err != nil {
				s.drop(next, err)
			}
			return
		}
	}
}

func (s *Server) drop(conn *transport.Conn, err error) {
	log := conn.Logger()
	var panicErr *rpc.PanicError
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed), errors.Is(err, io.ErrClosedPipe):
		log.Debug("connection closed", zap.Error(err))
	case errors.As(err, &panicErr):
		log.Error("handler panicked",
			zap.Any("panic", panicErr.Value),
			zap.ByteString("stack", panicErr.Stack),
		)
	default:
		log.Warn("connection failed", zap.Error(err))
	}
	if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		log.Debug("close connection", zap.Error(err))
	}
}

// Shutdown stops accepting, stops the workers and waits for them, then stops
// the acceptor.
func (s *Server) Shutdown(ctx context.Context) (err error) {
	s.mu.Lock()
	l := s.listener
	s.mu.Unlock()
	if l != nil {
		if cerr := l.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = multierr.Append(err, fmt.Errorf("close listener: %w", cerr))
		}
	}

	err = multierr.Append(err, s.workers.Stop(ctx))
	for _, e := range s.dedicated {
		err = multierr.Append(err, e.Stop(ctx))
	}
	err = multierr.Append(err, s.acceptor.Stop(ctx))

	s.log.Info("server stopped", zap.Error(err))
	return err
}
