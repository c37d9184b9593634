// Package transport binds a network connection to the executor serving it.
package transport

import (
	"context"
	"crypto/rand"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ozontech/pnrpc/executor"
	"github.com/ozontech/pnrpc/wire"
)

// ErrMoved is returned by a handle that was rebound to another executor.
var ErrMoved = errors.New("transport: connection moved to another executor")

// state shared by every handle of one connection.
type state struct {
	id     string
	conn   net.Conn
	framer *wire.Framer

	closeOnce sync.Once
	closeErr  error
}

// Conn is a handle to a connection owned by one executor. Rebind produces a
// new handle and invalidates the old one.
type Conn struct {
	*state
	executor *executor.Executor
	moved    atomic.Bool
	log      *zap.Logger
}

func New(conn net.Conn, e *executor.Executor, log *zap.Logger, opts ...wire.Opt) *Conn {
	s := &state{
		id:     ulid.MustNew(ulid.Now(), rand.Reader).String(),
		conn:   conn,
		framer: wire.NewFramer(conn, opts...),
	}
	c := &Conn{
		state:    s,
		executor: e,
		log:      log.With(zap.String("conn-id", s.id)),
	}
	if e != nil && !e.Own(c) {
		c.log.Debug("executor already stopped")
	}
	return c
}

func (c *Conn) ID() string                   { return c.id }
func (c *Conn) Executor() *executor.Executor { return c.executor }
func (c *Conn) Logger() *zap.Logger          { return c.log }
func (c *Conn) RemoteAddr() net.Addr         { return c.conn.RemoteAddr() }
func (c *Conn) Moved() bool                  { return c.moved.Load() }

// Framer returns the frame codec of the connection.
func (c *Conn) Framer() (*wire.Framer, error) {
	if c.moved.Load() {
		return nil, ErrMoved
	}
	return c.framer, nil
}

func (c *Conn) ReadFrame(ctx context.Context) ([]byte, error) {
	if c.moved.Load() {
		return nil, ErrMoved
	}
	return c.framer.ReadFrame(ctx)
}

func (c *Conn) WriteFrame(ctx context.Context, payload []byte) error {
	if c.moved.Load() {
		return ErrMoved
	}
	return c.framer.WriteFrame(ctx, payload)
}

// Rebind moves the connection to e and returns the new handle.
func (c *Conn) Rebind(e *executor.Executor) (*Conn, error) {
	if !c.moved.CompareAndSwap(false, true) {
		return nil, ErrMoved
	}
	from := "none"
	if c.executor != nil {
		from = c.executor.Name()
		c.executor.Disown(c)
	}
	nc := &Conn{
		state:    c.state,
		executor: e,
		log:      c.log,
	}
	if !e.Own(nc) {
		return nil, multierr.Append(executor.ErrStopped, c.state.close())
	}
	c.log.Debug("connection rebound", zap.String("from", from), zap.String("to", e.Name()))
	return nc, nil
}

func (c *Conn) SetDeadline(t time.Time) error {
	return c.conn.SetDeadline(t)
}

// Close closes the underlying connection. Safe to call on any handle any number of times.
func (c *Conn) Close() error {
	if c.executor != nil {
		c.executor.Disown(c)
	}
	return c.state.close()
}

func (s *state) close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

// Dial connects to addr with a connection bound to the executor from ctx, if any.
func Dial(ctx context.Context, addr string, log *zap.Logger, opts ...wire.Opt) (*Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return New(conn, executor.FromContext(ctx), log, opts...), nil
}
