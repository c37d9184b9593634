package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/alecthomas/kong"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ozontech/pnrpc/bench"
	"github.com/ozontech/pnrpc/consts"
	"github.com/ozontech/pnrpc/datasource"
	"github.com/ozontech/pnrpc/methods"
	"github.com/ozontech/pnrpc/report"
	"github.com/ozontech/pnrpc/report/multi"
	"github.com/ozontech/pnrpc/report/noop"
	phoutReporter "github.com/ozontech/pnrpc/report/phout"
	supersimpleReporter "github.com/ozontech/pnrpc/report/supersimple"
	"github.com/ozontech/pnrpc/rpc"
	"github.com/ozontech/pnrpc/transport"
)

type RPSConst struct {
	Freq     uint64        `arg:"" required:"" help:"Value req/s."`
	Duration time.Duration `help:"Limit duration (10s, 2h...)."`
	Count    int64         `help:"Limit requests count."`
}

func (r RPSConst) AfterApply(kongCtx *kong.Context) error {
	var sched bench.Schedule
	sched, err := bench.NewConstant(r.Freq)
	if err != nil {
		return err
	}
	kongCtx.BindTo(limit(sched, r.Duration, r.Count), (*bench.Schedule)(nil))
	return nil
}

type RPSLine struct {
	From     float64       `arg:"" required:"" help:"Starting req/s."`
	To       float64       `arg:"" required:"" help:"Ending req/s."`
	Duration time.Duration `arg:"" required:"" help:"Duration (10s, 2h...)."`
}

func (r RPSLine) AfterApply(kongCtx *kong.Context) error {
	sched, err := bench.NewLine(r.From, r.To, r.Duration)
	if err != nil {
		return err
	}
	kongCtx.BindTo(limit(sched, r.Duration, 0), (*bench.Schedule)(nil))
	return nil
}

type RPSUnlimited struct {
	Duration time.Duration `help:"Limit duration (10s, 2h...)."`
	Count    int64         `help:"Limit requests count."`
}

func (r RPSUnlimited) AfterApply(kongCtx *kong.Context) error {
	kongCtx.BindTo(limit(bench.Unlimited{}, r.Duration, r.Count), (*bench.Schedule)(nil))
	return nil
}

func limit(s bench.Schedule, d time.Duration, count int64) bench.Schedule {
	if count > 0 {
		s = bench.NewCountLimiter(s, count)
	}
	if d > 0 {
		s = bench.NewDurationLimiter(s, d)
	}
	return s
}

type RPS struct {
	Const     RPSConst     `cmd:"" group:"rps" help:"Const rps."`
	Line      RPSLine      `cmd:"" group:"rps" help:"Linear rps."`
	Unlimited RPSUnlimited `cmd:"" group:"rps" help:"Unlimited rps (default one)." default:"withargs"`
}

type BenchCommand struct {
	Addr    string        `default:"127.0.0.1:44444" help:"Address of system under test."`
	Method  string        `enum:"echo,sum,sum-stream,download,lookup" default:"echo" help:"Method to call: ${enum}."`
	Payload string        `default:"hello" help:"Echo message or lookup key."`
	Clients int           `default:"1" help:"Clients count."`
	Timeout time.Duration `default:"5s" help:"Call deadline."`
	Phout   string        `help:"Phout report file." type:"path"`
	Quiet   bool          `help:"Don't print stats."`

	Requests *os.File `help:"JSON lines requests file, replaces --method."`
	Inmem    bool     `help:"Load the requests file in memory."`

	RPS
}

func (c *BenchCommand) Run(ctx context.Context, sched bench.Schedule, log *zap.Logger, out io.Writer) (err error) {
	tag := c.Method
	var shot bench.Shot
	if c.Requests != nil {
		defer c.Requests.Close()
		tag = "requests"
		shot, err = c.requestsShot()
	} else {
		shot, err = c.shot()
	}
	if err != nil {
		return err
	}

	var reporter report.Reporter = supersimpleReporter.New(out, consts.DefaultReportPeriod)
	if c.Quiet {
		reporter = noop.New()
	}
	if c.Phout != "" {
		f, ferr := os.Create(c.Phout)
		if ferr != nil {
			return fmt.Errorf("creating phout file(%s): %w", c.Phout, ferr)
		}
		defer func() { err = multierr.Append(err, f.Close()) }()
		reporter = multi.New(phoutReporter.New(f), reporter)
	}

	defer memStats(log)

	b := bench.New(
		bench.Config{Clients: c.Clients, Timeout: c.Timeout, Tag: tag},
		rpc.NewDialer(c.Addr, log),
		sched,
		reporter,
		log,
	)
	return b.Run(ctx, shot)
}

func (c *BenchCommand) requestsShot() (bench.Shot, error) {
	if c.Inmem {
		ds := datasource.NewInmemDataSource(c.Requests)
		if err := ds.Init(); err != nil {
			return nil, err
		}
		return bench.RequestsShot(ds), nil
	}
	return bench.RequestsShot(datasource.NewFileDataSource(datasource.NewCyclicReader(c.Requests))), nil
}

func (c *BenchCommand) shot() (bench.Shot, error) {
	switch c.Method {
	case "echo":
		return bench.CallShot(&methods.Echo, c.Payload), nil
	case "sum":
		return bench.CallShot(&methods.Sum, []uint32{1, 2, 3}), nil
	case "lookup":
		return bench.CallShot(&methods.Lookup, methods.LookupRequest{Key: c.Payload}), nil
	case "sum-stream":
		return func(ctx context.Context, conn *transport.Conn) error {
			stub := rpc.NewStub(conn, &methods.SumStream)
			for i := uint32(0); i < 4; i++ {
				if err := stub.Send(ctx, i, i == 3); err != nil {
					return err
				}
			}
			_, ok, err := stub.Recv(ctx)
			if err == nil && !ok {
				err = rpc.ErrNoResponse
			}
			return err
		}, nil
	case "download":
		return func(ctx context.Context, conn *transport.Conn) error {
			stub := rpc.NewStub(conn, &methods.Download)
			if err := stub.Send(ctx, c.Payload, true); err != nil {
				return err
			}
			for !stub.Done() {
				if _, _, err := stub.Recv(ctx); err != nil {
					return err
				}
			}
			return nil
		}, nil
	}
	return nil, fmt.Errorf("unknown method %q", c.Method)
}

func memStats(log *zap.Logger) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	log.Info(
		"memory stats",
		zap.Uint64("Alloc (MiB)", bToMb(m.Alloc)),
		zap.Uint64("TotalAlloc (MiB)", bToMb(m.TotalAlloc)),
		zap.Uint64("Sys (MiB)", bToMb(m.Sys)),
		zap.Uint64("HeapInuse (MiB)", bToMb(m.HeapInuse)),
		zap.Uint32("NumGC (count)", m.NumGC),
	)
}

func bToMb(b uint64) uint64 {
	return b / 1024 / 1024
}
