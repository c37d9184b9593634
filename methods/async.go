package methods

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ozontech/pnrpc/codec"
	"github.com/ozontech/pnrpc/executor"
	"github.com/ozontech/pnrpc/rpc"
)

var ErrBackendClosed = errors.New("methods: backend closed")

// Async answers through a callback-style backend and appends the result of a
// nested echo call.
var Async = rpc.Method[string, string]{
	Descriptor: rpc.Descriptor{Code: CodeAsync, Name: "async", Shape: rpc.Simple},
	Request:    codec.String{},
	Response:   codec.String{},
}

const defaultBackendPeriod = 100 * time.Millisecond

type backendRequest struct {
	msg string
	cb  func(string, error)
}

// backend копит запросы и раз в period отвечает на них из своей горутины.
type backend struct {
	period time.Duration

	mu      sync.Mutex
	pending []backendRequest
	closed  bool

	stop chan struct{}
	done chan struct{}
}

func newBackend(period time.Duration) *backend {
	if period <= 0 {
		period = defaultBackendPeriod
	}
	b := &backend{
		period: period,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *backend) Request(msg string, cb func(string, error)) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		cb("", ErrBackendClosed)
		return
	}
	b.pending = append(b.pending, backendRequest{msg, cb})
	b.mu.Unlock()
}

func (b *backend) run() {
	defer close(b.done)
	t := time.NewTicker(b.period)
	defer t.Stop()

	for {
		select {
		case <-b.stop:
			for _, r := range b.swap(true) {
				r.cb("", ErrBackendClosed)
			}
			return
		case <-t.C:
			for _, r := range b.swap(false) {
				r.cb(r.msg, nil)
			}
		}
	}
}

func (b *backend) swap(closing bool) []backendRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	pending := b.pending
	b.pending = nil
	b.closed = b.closed || closing
	return pending
}

func (b *backend) Close() {
	close(b.stop)
	<-b.done
}

func asyncHandler(b *backend, d *rpc.Dialer) rpc.Handler[string, string] {
	return func(ctx context.Context, call *rpc.Call[string, string]) error {
		req, _, err := call.Request(ctx)
		if err != nil {
			return err
		}
		resp, err := executor.Await(ctx, func(resolve func(string, error)) {
			b.Request(req, resolve)
		})
		if err != nil {
			return err
		}

		if d != nil {
			echoResp, err := rpc.Invoke(ctx, d, &Echo, "hello world")
			if err != nil {
				call.Logger().Warn("nested echo failed", zap.Error(err))
			} else {
				resp = resp + ", " + echoResp
			}
		}
		return call.Respond(ctx, resp, true)
	}
}
