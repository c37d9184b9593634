package rpc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/ozontech/pnrpc/consts"
	"github.com/ozontech/pnrpc/transport"
	"github.com/ozontech/pnrpc/wire"
)

const (
	defaultMaxFailures = 5
	defaultOpenTimeout = 10 * time.Second
)

type DialerOpt func(*dialerConfig)

type dialerConfig struct {
	timeout     time.Duration
	maxFailures uint32
	openTimeout time.Duration
	wireOpts    []wire.Opt
}

func WithDialTimeout(d time.Duration) DialerOpt {
	return func(c *dialerConfig) { c.timeout = d }
}

// WithBreaker sets after how many consecutive failures dialing fails fast and
// for how long.
func WithBreaker(maxFailures uint32, openTimeout time.Duration) DialerOpt {
	return func(c *dialerConfig) {
		c.maxFailures = maxFailures
		c.openTimeout = openTimeout
	}
}

func WithWireOpts(opts ...wire.Opt) DialerOpt {
	return func(c *dialerConfig) { c.wireOpts = opts }
}

// Dialer opens client connections for stubs. Repeated dial failures open a
// circuit breaker.
type Dialer struct {
	addr    string
	conf    dialerConfig
	breaker *gobreaker.CircuitBreaker[*transport.Conn]
	log     *zap.Logger
}

func NewDialer(addr string, log *zap.Logger, opts ...DialerOpt) *Dialer {
	conf := dialerConfig{
		timeout:     consts.DefaultDialTimeout,
		maxFailures: defaultMaxFailures,
		openTimeout: defaultOpenTimeout,
	}
	for _, o := range opts {
		o(&conf)
	}
	log = log.Named("dialer").With(zap.String("addr", addr))

	breaker := gobreaker.NewCircuitBreaker[*transport.Conn](gobreaker.Settings{
		Name:        "dial:" + addr,
		MaxRequests: 1,
		Timeout:     conf.openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= conf.maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		},
	})
	return &Dialer{addr: addr, conf: conf, breaker: breaker, log: log}
}

// Dial connects to the server. The connection is bound to the executor from ctx.
func (d *Dialer) Dial(ctx context.Context) (*transport.Conn, error) {
	conn, err := d.breaker.Execute(func() (*transport.Conn, error) {
		ctx, cancel := context.WithTimeout(ctx, d.conf.timeout)
		defer cancel()
		return transport.Dial(ctx, d.addr, d.log, d.conf.wireOpts...)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("dial %s: circuit open: %w", d.addr, err)
		}
		return nil, fmt.Errorf("dial %s: %w", d.addr, err)
	}
	return conn, nil
}

func (d *Dialer) State() gobreaker.State { return d.breaker.State() }

// Invoke dials a new connection, performs a single-request call and closes the connection.
func Invoke[Req, Resp any](ctx context.Context, d *Dialer, m *Method[Req, Resp], req Req) (Resp, error) {
	conn, err := d.Dial(ctx)
	if err != nil {
		var zero Resp
		return zero, err
	}
	defer conn.Close()
	return NewStub(conn, m).Call(ctx, req)
}
