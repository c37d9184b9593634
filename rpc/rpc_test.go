package rpc

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/ozontech/pnrpc/codec"
	"github.com/ozontech/pnrpc/envelope"
	"github.com/ozontech/pnrpc/executor"
	"github.com/ozontech/pnrpc/retcode"
	"github.com/ozontech/pnrpc/transport"
)

var (
	echo = Method[string, string]{
		Descriptor: Descriptor{Code: 0x01, Name: "echo", Shape: Simple},
		Request:    codec.String{},
		Response:   codec.String{},
		Handler: func(ctx context.Context, call *Call[string, string]) error {
			req, _, err := call.Request(ctx)
			if err != nil {
				return err
			}
			return call.Respond(ctx, req, true)
		},
	}

	sumStream = Method[uint32, uint32]{
		Descriptor: Descriptor{Code: 0x04, Name: "sum-stream", Shape: ClientStream},
		Request:    codec.Uint32{},
		Response:   codec.Uint32{},
		Handler: func(ctx context.Context, call *Call[uint32, uint32]) error {
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

	download = Method[string, string]{
		Descriptor: Descriptor{Code: 0x05, Name: "download", Shape: ServerStream},
		Request:    codec.String{},
		Response:   codec.String{},
		Handler: func(ctx context.Context, call *Call[string, string]) error {
			if _, _, err := call.Request(ctx); err != nil {
				return err
			}
			// второй запрос для server-stream не читается
			if _, ok, _ := call.Request(ctx); ok {
				return errors.New("second request")
			}
			if err := call.Respond(ctx, "hello", false); err != nil {
				return err
			}
			return call.Respond(ctx, "world", true)
		},
	}
)

type handled struct {
	info HandleInfo
	err  error
}

type testServer struct {
	client  *transport.Conn
	results chan handled
}

func (s *testServer) next(t *testing.T) handled {
	t.Helper()
	return <-s.results
}

func newTestServer(t *testing.T, r *Registry, opts ...DispatcherOpt) *testServer {
	t.Helper()
	log := zaptest.NewLogger(t)

	c, srv := net.Pipe()
	e := executor.New("acceptor", log)
	s := &testServer{
		client:  transport.New(c, nil, log),
		results: make(chan handled, 16),
	}
	conn := transport.New(srv, e, log)

	d := NewDispatcher(r, log, opts...)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ctx := executor.WithExecutor(context.Background(), e)
		for {
			info, err := d.HandleRequest(ctx, conn)
			s.results <- handled{info, err}
			if err != nil {
				conn.Close()
				return
			}
			conn = info.Conn
		}
	}()
	t.Cleanup(func() {
		s.client.Close()
		<-done
	})
	return s
}

func newRegistry(t *testing.T) *Registry {
	r := NewRegistry(4, zaptest.NewLogger(t))
	Register(r, echo)
	Register(r, sumStream)
	Register(r, download)
	return r
}

func TestSimple(t *testing.T) {
	t.Parallel()
	a := assert.New(t)
	ctx := context.Background()
	s := newTestServer(t, newRegistry(t))

	for _, msg := range []string{"hello", ""} {
		resp, err := NewStub(s.client, &echo).Call(ctx, msg)
		a.NoError(err)
		a.Equal(msg, resp)

		h := s.next(t)
		a.NoError(h.err)
		a.Equal(uint32(0x01), h.info.Code)
		a.Equal(retcode.OK, h.info.RetCode)
	}
}

func TestSimpleStubShape(t *testing.T) {
	t.Parallel()
	a := assert.New(t)
	ctx := context.Background()
	s := newTestServer(t, newRegistry(t))

	stub := NewStub(s.client, &echo)
	// eof для simple выставляется принудительно
	a.NoError(stub.Send(ctx, "hi", false))
	a.ErrorIs(stub.Send(ctx, "again", true), retcode.ErrSendAfterEOF)

	v, ok, err := stub.Recv(ctx)
	a.NoError(err)
	a.True(ok)
	a.Equal("hi", v)

	_, _, err = stub.Recv(ctx)
	a.ErrorIs(err, retcode.ErrRecvDuplicate)
}

func TestClientStream(t *testing.T) {
	t.Parallel()
	a := assert.New(t)
	ctx := context.Background()
	s := newTestServer(t, newRegistry(t))

	stub := NewStub(s.client, &sumStream)
	for i := uint32(0); i < 3; i++ {
		a.NoError(stub.Send(ctx, i, false))
		_, _, err := stub.Recv(ctx)
		a.ErrorIs(err, retcode.ErrRecvBeforeEOF)
	}
	a.NoError(stub.Send(ctx, 3, true))

	sum, ok, err := stub.Recv(ctx)
	a.NoError(err)
	a.True(ok)
	a.Equal(uint32(6), sum)

	_, _, err = stub.Recv(ctx)
	a.ErrorIs(err, retcode.ErrRecvDuplicate)
	a.ErrorIs(stub.Send(ctx, 4, true), retcode.ErrSendAfterEOF)
	a.NoError(s.next(t).err)
}

func TestServerStream(t *testing.T) {
	t.Parallel()
	a := assert.New(t)
	ctx := context.Background()
	s := newTestServer(t, newRegistry(t))

	stub := NewStub(s.client, &download)
	_, _, err := stub.Recv(ctx)
	a.ErrorIs(err, retcode.ErrRecvBeforeEOF)

	a.NoError(stub.Send(ctx, "file", false))

	var (
		got  []string
		done []bool
	)
	for {
		v, ok, err := stub.Recv(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, v)
		done = append(done, stub.Done())
	}
	a.Equal([]string{"hello", "world"}, got)
	a.Equal([]bool{false, true}, done)
	a.NoError(s.next(t).err)
}

func TestServerStreamFrames(t *testing.T) {
	t.Parallel()
	a := assert.New(t)
	ctx := context.Background()
	s := newTestServer(t, newRegistry(t))

	a.NoError(NewStub(s.client, &download).Send(ctx, "file", true))

	var eofs []bool
	for _, want := range []string{"hello", "world"} {
		b, err := s.client.ReadFrame(ctx)
		require.NoError(t, err)
		resp, err := envelope.ParseResponse(b)
		require.NoError(t, err)
		a.Equal(retcode.OK, resp.Code)
		a.Equal(want, string(resp.Payload))
		eofs = append(eofs, resp.EOF)
	}
	a.Equal([]bool{false, true}, eofs)
	a.NoError(s.next(t).err)
}

func TestServerStreamAsync(t *testing.T) {
	t.Parallel()
	a := assert.New(t)
	ctx := context.Background()
	s := newTestServer(t, newRegistry(t))

	stub := NewStub(s.client, &download)
	r := <-stub.RecvAsync(ctx)
	a.ErrorIs(r.Err, retcode.ErrRecvBeforeEOF)

	a.NoError((<-stub.SendAsync(ctx, "file", true)).Err)

	var got []string
	for {
		r := <-stub.RecvAsync(ctx)
		require.NoError(t, r.Err)
		if !r.Value.OK {
			break
		}
		got = append(got, r.Value.Value)
	}
	a.Equal([]string{"hello", "world"}, got)
	a.True(stub.Done())
	a.NoError(s.next(t).err)
}

func TestInvalidPcode(t *testing.T) {
	t.Parallel()
	a := assert.New(t)
	ctx := context.Background()
	s := newTestServer(t, newRegistry(t))

	unknown := echo
	unknown.Code = 0xff
	_, err := NewStub(s.client, &unknown).Call(ctx, "x")
	a.ErrorIs(err, retcode.New(retcode.InvalidPcode, ""))
	a.EqualError(err, "rpc: INVALID_PCODE: not found rpc request, pcode == 255")

	h := s.next(t)
	a.NoError(h.err)
	a.Equal(retcode.InvalidPcode, h.info.RetCode)

	// соединение продолжает работать
	resp, err := NewStub(s.client, &echo).Call(ctx, "after")
	a.NoError(err)
	a.Equal("after", resp)
}

func TestInvalidRequest(t *testing.T) {
	t.Parallel()
	a := assert.New(t)
	ctx := context.Background()
	s := newTestServer(t, newRegistry(t))

	// sum-stream ждет 4 байта
	broken := Method[string, string]{
		Descriptor: Descriptor{Code: sumStream.Code, Shape: Simple},
		Request:    codec.String{},
		Response:   codec.String{},
	}
	_, err := NewStub(s.client, &broken).Call(ctx, "xy")
	a.ErrorIs(err, retcode.New(retcode.InvalidRequest, ""))
	a.Equal(retcode.InvalidRequest, s.next(t).info.RetCode)
}

func TestOverflow(t *testing.T) {
	t.Parallel()
	a := assert.New(t)
	ctx := context.Background()

	r := newRegistry(t)
	limited := echo
	limited.Code = 0x10
	limited.Limits = Limits{Burst: 1}
	Register(r, limited)
	s := newTestServer(t, r)

	resp, err := NewStub(s.client, &limited).Call(ctx, "one")
	a.NoError(err)
	a.Equal("one", resp)
	s.next(t)

	_, err = NewStub(s.client, &limited).Call(ctx, "two")
	a.ErrorIs(err, retcode.New(retcode.Overflow, ""))
	a.EqualError(err, "rpc: OVERFLOW: rpc request overflow")
	a.Equal(retcode.Overflow, s.next(t).info.RetCode)
}

func TestAdmitHook(t *testing.T) {
	t.Parallel()
	a := assert.New(t)
	ctx := context.Background()

	r := newRegistry(t)
	picky := echo
	picky.Code = 0x11
	picky.Admit = func(_ context.Context, first string) bool { return first != "reject" }
	Register(r, picky)
	s := newTestServer(t, r)

	_, err := NewStub(s.client, &picky).Call(ctx, "reject")
	a.ErrorIs(err, retcode.New(retcode.Overflow, ""))
	s.next(t)

	resp, err := NewStub(s.client, &picky).Call(ctx, "accept")
	a.NoError(err)
	a.Equal("accept", resp)
}

func TestDuplicateRespond(t *testing.T) {
	t.Parallel()
	a := assert.New(t)
	ctx := context.Background()

	r := newRegistry(t)
	twice := echo
	twice.Code = 0x12
	twice.Handler = func(ctx context.Context, call *Call[string, string]) error {
		if err := call.Respond(ctx, "first", true); err != nil {
			return err
		}
		// после eof ответ игнорируется
		return call.Respond(ctx, "second", true)
	}
	Register(r, twice)
	s := newTestServer(t, r)

	resp, err := NewStub(s.client, &twice).Call(ctx, "x")
	a.NoError(err)
	a.Equal("first", resp)
	a.NoError(s.next(t).err)

	// лишних фреймов в соединении нет
	resp, err = NewStub(s.client, &echo).Call(ctx, "next")
	a.NoError(err)
	a.Equal("next", resp)
}

func TestLenientSimpleRespond(t *testing.T) {
	t.Parallel()
	a := assert.New(t)
	ctx := context.Background()

	r := newRegistry(t)
	lenient := echo
	lenient.Code = 0x13
	lenient.Handler = func(ctx context.Context, call *Call[string, string]) error {
		if err := call.Respond(ctx, "partial", false); err != nil {
			return err
		}
		// второй ответ simple-вызова все равно отправляется
		return call.Respond(ctx, "final", true)
	}
	Register(r, lenient)
	s := newTestServer(t, r)

	stub := NewStub(s.client, &lenient)
	a.NoError(stub.Send(ctx, "x", true))
	v, ok, err := stub.Recv(ctx)
	a.NoError(err)
	a.True(ok)
	a.Equal("partial", v)

	_, _, err = stub.Recv(ctx)
	a.ErrorIs(err, retcode.ErrRecvDuplicate)

	// stub обязан выбросить соединение, второй ответ все еще в нем
	raw, err := s.client.ReadFrame(ctx)
	a.NoError(err)
	resp, err := envelope.ParseResponse(raw)
	a.NoError(err)
	a.Equal([]byte("final"), resp.Payload)
	a.True(resp.EOF)
}

func TestRebind(t *testing.T) {
	t.Parallel()
	a := assert.New(t)
	ctx := context.Background()
	log := zaptest.NewLogger(t)

	dedicated := executor.New("dedicated", log)
	dedicated.Start()
	defer dedicated.Stop(ctx) //nolint:errcheck

	r := newRegistry(t)
	moved := echo
	moved.Code = 0x14
	moved.Executor = func(first string) *executor.Executor {
		if first == "stay" {
			return nil
		}
		return dedicated
	}
	moved.Handler = func(ctx context.Context, call *Call[string, string]) error {
		req, _, err := call.Request(ctx)
		if err != nil {
			return err
		}
		if executor.FromContext(ctx) != call.Executor() {
			return errors.New("handler runs on a foreign executor")
		}
		return call.Respond(ctx, req+"@"+call.Executor().Name(), true)
	}
	Register(r, moved)
	s := newTestServer(t, r)

	resp, err := NewStub(s.client, &moved).Call(ctx, "stay")
	a.NoError(err)
	a.Equal("stay@acceptor", resp)
	h := s.next(t)
	a.NoError(h.err)
	a.Equal("acceptor", h.info.Executor.Name())

	resp, err = NewStub(s.client, &moved).Call(ctx, "go")
	a.NoError(err)
	a.Equal("go@dedicated", resp)
	h = s.next(t)
	a.NoError(h.err)
	a.Same(dedicated, h.info.Executor)
	a.Same(dedicated, h.info.Conn.Executor())

	// следующий вызов обслуживается новым хэндлом
	resp, err = NewStub(s.client, &echo).Call(ctx, "after")
	a.NoError(err)
	a.Equal("after", resp)
}

func TestShapersResetBetweenCalls(t *testing.T) {
	t.Parallel()
	a := assert.New(t)
	ctx := context.Background()

	r := newRegistry(t)
	limited := echo
	limited.Code = 0x20
	limited.Name = "limited"
	limited.Limits = Limits{RequestRate: 1000, ResponseRate: 1000}
	Register(r, limited)
	s := newTestServer(t, r)

	_, err := NewStub(s.client, &limited).Call(ctx, "x")
	a.NoError(err)
	a.NoError(s.next(t).err)

	// 3000 байт при 1000 байт/с ждали бы ~3s
	begin := time.Now()
	resp, err := NewStub(s.client, &echo).Call(ctx, strings.Repeat("a", 3000))
	a.NoError(err)
	a.Len(resp, 3000)
	a.Less(time.Since(begin), time.Second)
	a.NoError(s.next(t).err)

	_, err = NewStub(s.client, &limited).Call(ctx, "x")
	a.NoError(err)
	a.NoError(s.next(t).err)

	unknown := echo
	unknown.Code = 0xff
	begin = time.Now()
	_, err = NewStub(s.client, &unknown).Call(ctx, strings.Repeat("b", 3000))
	a.ErrorIs(err, retcode.New(retcode.InvalidPcode, ""))
	a.Less(time.Since(begin), time.Second)
	a.NoError(s.next(t).err)
}

func TestRebindCanceled(t *testing.T) {
	t.Parallel()
	a := assert.New(t)
	log := zaptest.NewLogger(t)

	dedicated := executor.New("dedicated", log)
	dedicated.Start()

	started := make(chan struct{})
	release := make(chan struct{})
	blocking := echo
	blocking.Code = 0x17
	blocking.Executor = func(string) *executor.Executor { return dedicated }
	blocking.Handler = func(ctx context.Context, call *Call[string, string]) error {
		if _, _, err := call.Request(ctx); err != nil {
			return err
		}
		close(started)
		<-release
		return nil
	}
	r := newRegistry(t)
	Register(r, blocking)
	d := NewDispatcher(r, log)

	c, srv := net.Pipe()
	client := transport.New(c, nil, log)
	defer client.Close()
	conn := transport.New(srv, executor.New("acceptor", log), log)

	ctx, cancel := context.WithCancel(context.Background())
	results := make(chan handled, 1)
	go func() {
		info, err := d.HandleRequest(ctx, conn)
		results <- handled{info, err}
	}()

	a.NoError(NewStub(client, &blocking).Send(context.Background(), "x", true))
	<-started
	cancel()

	h := <-results
	a.ErrorIs(h.err, context.Canceled)
	a.Zero(h.info.Process)
	a.Same(dedicated, h.info.Executor)

	close(release)
	_ = dedicated.Stop(context.Background())
}

func TestHandlerErrorIsFatal(t *testing.T) {
	t.Parallel()
	a := assert.New(t)
	ctx := context.Background()

	r := newRegistry(t)
	failing := echo
	failing.Code = 0x15
	failing.Handler = func(context.Context, *Call[string, string]) error {
		return errors.New("boom")
	}
	panicking := echo
	panicking.Code = 0x16
	panicking.Handler = func(context.Context, *Call[string, string]) error {
		panic("oops")
	}
	Register(r, failing)
	Register(r, panicking)

	s := newTestServer(t, r)
	_, err := NewStub(s.client, &failing).Call(ctx, "x")
	a.Error(err)
	h := s.next(t)
	a.EqualError(h.err, "rpc echo: boom")

	s = newTestServer(t, r)
	_, err = NewStub(s.client, &panicking).Call(ctx, "x")
	a.Error(err)
	h = s.next(t)
	var perr *PanicError
	a.ErrorAs(h.err, &perr)
	a.Equal("oops", perr.Value)
}

func TestPeerClose(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, newRegistry(t))
	s.client.Close()
	assert.ErrorIs(t, s.next(t).err, io.EOF)
}

func TestRegistry(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	r := newRegistry(t)
	d, ok := r.Lookup(0x04)
	a.True(ok)
	a.Equal(Descriptor{Code: 0x04, Name: "sum-stream", Shape: ClientStream}, d)

	_, ok = r.Lookup(0x99)
	a.False(ok)

	replaced := echo
	replaced.Name = "echo-v2"
	Register(r, replaced)
	d, _ = r.Lookup(0x01)
	a.Equal("echo-v2", d.Name)

	var codes []uint32
	for _, d := range r.Descriptors() {
		codes = append(codes, d.Code)
	}
	a.Equal([]uint32{0x01, 0x04, 0x05}, codes)

	a.Panics(func() { NewRegistry(3, zap.NewNop()) })
	a.Panics(func() { Register(r, Method[string, string]{}) })
}

func TestShape(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	a.Equal("client-stream", ClientStream.String())
	a.True(Simple.singleRequest())
	a.True(ServerStream.singleRequest())
	a.False(BidirectStream.singleResponse())
	a.Panics(func() { Shape(9).singleRequest() })
}
