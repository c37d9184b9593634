package server

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ozontech/pnrpc/codec"
	"github.com/ozontech/pnrpc/executor"
	"github.com/ozontech/pnrpc/frameheader"
	"github.com/ozontech/pnrpc/retcode"
	"github.com/ozontech/pnrpc/rpc"
	"github.com/ozontech/pnrpc/transport"
)

var (
	echo = rpc.Method[string, string]{
		Descriptor: rpc.Descriptor{Code: 0x01, Name: "echo", Shape: rpc.Simple},
		Request:    codec.String{},
		Response:   codec.String{},
		Handler: func(ctx context.Context, call *rpc.Call[string, string]) error {
			req, _, err := call.Request(ctx)
			if err != nil {
				return err
			}
			return call.Respond(ctx, req, true)
		},
	}

	sumStream = rpc.Method[uint32, uint32]{
		Descriptor: rpc.Descriptor{Code: 0x04, Name: "sum-stream", Shape: rpc.ClientStream},
		Request:    codec.Uint32{},
		Response:   codec.Uint32{},
		Handler: func(ctx context.Context, call *rpc.Call[uint32, uint32]) error {
			var sum uint32
			for {
				v, ok, err := call.Request(ctx)
				if err != nil {
					return err
				}
				if !ok {
					break
				}
				sum += v
			}
			return call.Respond(ctx, sum, true)
		},
	}

	// отвечает именем executor'а, на котором выполняется
	whoami = rpc.Method[string, string]{
		Descriptor: rpc.Descriptor{Code: 0x10, Name: "whoami", Shape: rpc.Simple},
		Request:    codec.String{},
		Response:   codec.String{},
		Handler: func(ctx context.Context, call *rpc.Call[string, string]) error {
			if _, _, err := call.Request(ctx); err != nil {
				return err
			}
			return call.Respond(ctx, executor.FromContext(ctx).Name(), true)
		},
	}

	unknown = rpc.Method[string, string]{
		Descriptor: rpc.Descriptor{Code: 0xFF, Name: "unknown", Shape: rpc.Simple},
		Request:    codec.String{},
		Response:   codec.String{},
	}
)

func startServer(t *testing.T, conf Config, opts ...Opt) *Server {
	t.Helper()
	log := zaptest.NewLogger(t)

	r := rpc.NewRegistry(4, log)
	rpc.Register(r, echo)
	rpc.Register(r, sumStream)
	rpc.Register(r, whoami)

	conf.Addr = "127.0.0.1:0"
	s := New(conf, rpc.NewDispatcher(r, log), log, opts...)
	require.NoError(t, s.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})
	return s
}

func dial(t *testing.T, s *Server) *transport.Conn {
	t.Helper()
	conn, err := transport.Dial(context.Background(), s.Addr().String(), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestEcho(t *testing.T) {
	t.Parallel()
	a := assert.New(t)
	s := startServer(t, DefaultConfig())

	resp, err := rpc.NewStub(dial(t, s), &echo).Call(context.Background(), "hello")
	a.NoError(err)
	a.Equal("hello", resp)
}

func TestUnknownPcodeKeepsConnection(t *testing.T) {
	t.Parallel()
	a := assert.New(t)
	ctx := context.Background()
	s := startServer(t, DefaultConfig())
	conn := dial(t, s)

	_, err := rpc.NewStub(conn, &unknown).Call(ctx, "x")
	var rerr *retcode.Error
	a.True(errors.As(err, &rerr))
	a.Equal(retcode.InvalidPcode, rerr.Code)
	a.Equal("not found rpc request, pcode == 255", rerr.Message)

	resp, err := rpc.NewStub(conn, &echo).Call(ctx, "still open")
	a.NoError(err)
	a.Equal("still open", resp)
}

func TestSumStream(t *testing.T) {
	t.Parallel()
	a := assert.New(t)
	ctx := context.Background()
	s := startServer(t, DefaultConfig())

	stub := rpc.NewStub(dial(t, s), &sumStream)
	for i := uint32(0); i < 3; i++ {
		a.NoError(stub.Send(ctx, i, false))
	}
	a.NoError(stub.Send(ctx, 3, true))

	sum, ok, err := stub.Recv(ctx)
	a.NoError(err)
	a.True(ok)
	a.Equal(uint32(6), sum)
}

func TestOversizedFrameClosesConnection(t *testing.T) {
	t.Parallel()
	a := assert.New(t)
	s := startServer(t, DefaultConfig())

	c, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	defer c.Close()

	h := frameheader.NewFrameHeader()
	h.SetLength(16 * 1024 * 1024)
	_, err = c.Write(h)
	require.NoError(t, err)

	require.NoError(t, c.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, err = c.Read(make([]byte, 1))
	a.ErrorIs(err, io.EOF)
}

func TestRoundRobin(t *testing.T) {
	t.Parallel()
	a := assert.New(t)
	ctx := context.Background()
	s := startServer(t, Config{Workers: 2})

	var names []string
	for i := 0; i < 3; i++ {
		name, err := rpc.NewStub(dial(t, s), &whoami).Call(ctx, "")
		a.NoError(err)
		names = append(names, name)
	}
	a.Equal([]string{"worker-0", "worker-1", "worker-0"}, names)
}

func TestNoWorkers(t *testing.T) {
	t.Parallel()
	a := assert.New(t)
	s := startServer(t, Config{Workers: 0})

	name, err := rpc.NewStub(dial(t, s), &whoami).Call(context.Background(), "")
	a.NoError(err)
	a.Equal("acceptor", name)
}

func TestRebindMovesLoop(t *testing.T) {
	t.Parallel()
	a := assert.New(t)
	ctx := context.Background()

	dedicated := executor.New("dedicated", zaptest.NewLogger(t))
	bound := whoami
	bound.Code = 0x11
	bound.Name = "whoami-bound"
	bound.Executor = func(string) *executor.Executor { return dedicated }

	log := zaptest.NewLogger(t)
	r := rpc.NewRegistry(4, log)
	rpc.Register(r, whoami)
	rpc.Register(r, bound)

	s := New(Config{Addr: "127.0.0.1:0", Workers: 1}, rpc.NewDispatcher(r, log), log, WithExecutors(dedicated))
	require.NoError(t, s.Listen())
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- s.Run(runCtx) }()
	defer func() {
		cancel()
		a.NoError(<-done)
	}()

	conn := dial(t, s)
	name, err := rpc.NewStub(conn, &whoami).Call(ctx, "")
	a.NoError(err)
	a.Equal("worker-0", name)

	name, err = rpc.NewStub(conn, &bound).Call(ctx, "")
	a.NoError(err)
	a.Equal("dedicated", name)

	// соединение осталось на dedicated
	name, err = rpc.NewStub(conn, &whoami).Call(ctx, "")
	a.NoError(err)
	a.Equal("dedicated", name)
}

func TestShutdownClosesConnections(t *testing.T) {
	t.Parallel()
	a := assert.New(t)
	ctx := context.Background()
	log := zaptest.NewLogger(t)

	r := rpc.NewRegistry(4, log)
	rpc.Register(r, echo)
	s := New(Config{Addr: "127.0.0.1:0", Workers: 2}, rpc.NewDispatcher(r, log), log)
	require.NoError(t, s.Listen())

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- s.Run(runCtx) }()

	conn := dial(t, s)
	_, err := rpc.NewStub(conn, &echo).Call(ctx, "before")
	a.NoError(err)

	cancel()
	a.NoError(<-done)

	_, err = conn.ReadFrame(ctx)
	a.Error(err)
}

func TestServeWithoutListen(t *testing.T) {
	t.Parallel()
	log := zaptest.NewLogger(t)
	s := New(DefaultConfig(), rpc.NewDispatcher(rpc.NewRegistry(1, log), log), log)
	assert.ErrorIs(t, s.Serve(context.Background()), ErrNotListening)
	assert.Nil(t, s.Addr())
}
