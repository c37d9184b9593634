// Package bench generates load against a pnrpc server.
package bench

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ozontech/pnrpc/consts"
	"github.com/ozontech/pnrpc/executor"
	"github.com/ozontech/pnrpc/report"
	"github.com/ozontech/pnrpc/report/noop"
	"github.com/ozontech/pnrpc/retcode"
	"github.com/ozontech/pnrpc/rpc"
	"github.com/ozontech/pnrpc/transport"
)

// Shot performs one call over conn.
type Shot func(ctx context.Context, conn *transport.Conn) error

// CallShot sends req as the only request of m and waits for the response.
func CallShot[Req, Resp any](m *rpc.Method[Req, Resp], req Req) Shot {
	return func(ctx context.Context, conn *transport.Conn) error {
		_, err := rpc.NewStub(conn, m).Call(ctx, req)
		return err
	}
}

type Config struct {
	// Clients - число соединений, в каждом не больше одного вызова одновременно
	Clients int
	Timeout time.Duration
	// Tag marks calls in reports.
	Tag string
}

type Bench struct {
	conf     Config
	dialer   *rpc.Dialer
	schedule Schedule
	reporter report.Reporter

	n   atomic.Int64
	log *zap.Logger
}

func New(conf Config, d *rpc.Dialer, s Schedule, r report.Reporter, log *zap.Logger) *Bench {
	if conf.Clients < 1 {
		conf.Clients = 1
	}
	if conf.Timeout <= 0 {
		conf.Timeout = consts.DefaultCallTimeout
	}
	if r == nil {
		r = noop.New()
	}
	return &Bench{
		conf:     conf,
		dialer:   d,
		schedule: s,
		reporter: r,
		log:      log.Named("bench"),
	}
}

// Run shoots until the schedule ends or ctx is done, then closes the reporter.
func (b *Bench) Run(ctx context.Context, shot Shot) (err error) {
	var rg errgroup.Group
	rg.Go(b.reporter.Run)

	begin := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < b.conf.Clients; i++ {
		log := b.log.With(zap.Int("client", i))
		g.Go(func() error {
			return b.client(gctx, begin, shot, log)
		})
	}

	err = g.Wait()
	err = multierr.Append(err, b.reporter.Close())
	err = multierr.Append(err, rg.Wait())
	b.log.Debug("bench done", zap.Int64("calls", b.n.Load()), zap.Duration("took", time.Since(begin)))
	return err
}

func (b *Bench) client(ctx context.Context, begin time.Time, shot Shot, log *zap.Logger) error {
	var conn *transport.Conn
	defer func() {
		if conn != nil {
			conn.Close()
		}
	}()

	for {
		at, ok := b.schedule.Next(b.n.Add(1) - 1)
		if !ok {
			return nil
		}
		if wait := at - time.Since(begin); wait > 0 {
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil
			case <-t.C:
			}
		}
		if ctx.Err() != nil {
			return nil
		}

		if conn == nil {
			c, err := b.dialer.Dial(ctx)
			if err != nil {
				log.Debug("dial failed", zap.Error(err))
				state := b.reporter.Acquire(b.conf.Tag)
				state.IoError(err)
				state.End()
				continue
			}
			conn = c
		}
		if !b.shoot(ctx, conn, shot, log) {
			conn.Close()
			conn = nil
		}
	}
}

// shoot reports one call. It returns false when conn can't be reused.
func (b *Bench) shoot(ctx context.Context, conn *transport.Conn, shot Shot, log *zap.Logger) bool {
	state := b.reporter.Acquire(b.conf.Tag)
	defer state.End()

	f, err := conn.Framer()
	if err != nil {
		state.IoError(err)
		return false
	}
	out, in := f.BytesWritten(), f.BytesRead()

	res := executor.Async(func() (struct{}, error) {
		return struct{}{}, shot(ctx, conn)
	})
	timer := time.NewTimer(b.conf.Timeout)
	defer timer.Stop()

	select {
	case r := <-res:
		state.SetSize(int(f.BytesWritten()-out), int(f.BytesRead()-in))
		var rerr *retcode.Error
		switch {
		case r.Err == nil:
			state.SetResult(retcode.OK)
		case errors.As(r.Err, &rerr):
			state.SetResult(rerr.Code)
		default:
			log.Debug("call failed", zap.Error(r.Err))
			state.IoError(r.Err)
			return false
		}
		return true
	case <-timer.C:
		// вызов брошен, соединение закрывается вызывающим
		_ = conn.SetDeadline(time.Now())
		state.Timeout()
		return false
	}
}
