package methods

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ozontech/pnrpc/codec"
	"github.com/ozontech/pnrpc/executor"
	"github.com/ozontech/pnrpc/rpc"
)

// Sleep sleeps the requested number of seconds on a dedicated executor and
// returns the number back.
var Sleep = rpc.Method[uint32, uint32]{
	Descriptor: rpc.Descriptor{Code: CodeSleep, Name: "sleep", Shape: rpc.Simple},
	Request:    codec.Uint32{},
	Response:   codec.Uint32{},
}

type Options struct {
	// SleepExecutors - сколько executor'ов выделить под sleep, 0 - без перепривязки
	SleepExecutors int
	// EchoAddr is dialed by async for the nested echo call. Empty skips the call.
	EchoAddr string

	LookupDSN       string
	LookupCacheSize int

	// Limits override method limits by method name.
	Limits map[string]rpc.Limits

	BackendPeriod time.Duration
}

// Set holds the state of stateful methods.
type Set struct {
	opts     Options
	sleepers *executor.Pool
	backend  *backend
	dialer   *rpc.Dialer
	store    *Store
	log      *zap.Logger
}

func New(opts Options, log *zap.Logger) (*Set, error) {
	log = log.Named("methods")
	store, err := OpenStore(opts.LookupDSN, opts.LookupCacheSize)
	if err != nil {
		return nil, err
	}
	s := &Set{
		opts:     opts,
		sleepers: executor.NewPool("sleep", opts.SleepExecutors, log),
		backend:  newBackend(opts.BackendPeriod),
		store:    store,
		log:      log,
	}
	if opts.EchoAddr != "" {
		s.dialer = rpc.NewDialer(opts.EchoAddr, log)
	}
	return s, nil
}

// Register adds every method to r.
func (s *Set) Register(r *rpc.Registry) {
	register(r, Sum, s.opts.Limits)
	register(r, Echo, s.opts.Limits)
	register(r, SumStream, s.opts.Limits)
	register(r, Download, s.opts.Limits)
	register(r, Chat, s.opts.Limits)

	sleep := Sleep
	sleep.Handler = s.sleep
	if s.sleepers.Len() > 0 {
		sleep.Executor = func(uint32) *executor.Executor { return s.sleepers.Next() }
	}
	register(r, sleep, s.opts.Limits)

	async := Async
	async.Handler = asyncHandler(s.backend, s.dialer)
	register(r, async, s.opts.Limits)

	lookup := Lookup
	lookup.Handler = lookupHandler(s.store)
	register(r, lookup, s.opts.Limits)
}

func register[Req, Resp any](r *rpc.Registry, m rpc.Method[Req, Resp], limits map[string]rpc.Limits) {
	if l, ok := limits[m.Name]; ok {
		m.Limits = l
	}
	rpc.Register(r, m)
}

// Executors returns the executors calls are rebound to. Whoever runs the
// server starts and stops them.
func (s *Set) Executors() []*executor.Executor { return s.sleepers.Executors() }

func (s *Set) Close() error {
	s.backend.Close()
	return s.store.Close()
}

func (s *Set) sleep(ctx context.Context, call *rpc.Call[uint32, uint32]) error {
	n, _, err := call.Request(ctx)
	if err != nil {
		return err
	}
	call.Logger().Info("sleeping",
		zap.Uint32("seconds", n),
		zap.String("executor", call.Executor().Name()),
	)

	t := time.NewTimer(time.Duration(n) * time.Second)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
		return ctx.Err()
	}
	return call.Respond(ctx, n, true)
}
