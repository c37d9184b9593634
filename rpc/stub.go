package rpc

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/ozontech/pnrpc/executor"
	"github.com/ozontech/pnrpc/retcode"
	"github.com/ozontech/pnrpc/stream"
	"github.com/ozontech/pnrpc/transport"
)

var ErrNoResponse = errors.New("rpc: no response")

// Stub is the client side of one call over a connection. A connection
// carries one call at a time.
type Stub[Req, Resp any] struct {
	desc Descriptor

	requests  *stream.ClientToServer[Req]
	responses *stream.ServerToClient[Resp]
	received  bool

	log *zap.Logger
}

func NewStub[Req, Resp any](conn *transport.Conn, m *Method[Req, Resp]) *Stub[Req, Resp] {
	return &Stub[Req, Resp]{
		desc:      m.Descriptor,
		requests:  stream.NewClientToServer[Req](conn, m.Code, m.Request),
		responses: stream.NewServerToClient[Resp](conn, m.Response),
		log:       conn.Logger().With(zap.Uint32("pcode", m.Code), zap.String("method", m.Name)),
	}
}

// Send sends a request. Single-request shapes always send eof.
func (s *Stub[Req, Resp]) Send(ctx context.Context, v Req, eof bool) error {
	if s.desc.Shape.singleRequest() {
		eof = true
	}
	return s.requests.Send(ctx, v, eof)
}

// Recv reads the next response. ok is false after the eof response. Reading
// before the request eof was sent is an error.
func (s *Stub[Req, Resp]) Recv(ctx context.Context) (Resp, bool, error) {
	var zero Resp
	if !s.requests.SendEOF() {
		return zero, false, retcode.ErrRecvBeforeEOF
	}
	if s.desc.Shape.singleResponse() {
		if s.received {
			return zero, false, retcode.ErrRecvDuplicate
		}
		s.received = true
	}

	v, ok, err := s.responses.Read(ctx)
	if err != nil {
		var rerr *retcode.Error
		if errors.As(err, &rerr) {
			s.log.Warn("rpc response error", zap.Stringer("ret_code", rerr.Code), zap.String("message", rerr.Message))
		}
		return zero, false, err
	}
	if !ok {
		s.log.Warn("rpc no response")
	}
	return v, ok, nil
}

// Done reports whether the eof response was received.
func (s *Stub[Req, Resp]) Done() bool { return s.responses.ReadEOF() }

// Call sends v as the only request and returns the first response.
func (s *Stub[Req, Resp]) Call(ctx context.Context, v Req) (Resp, error) {
	if err := s.requests.Send(ctx, v, true); err != nil {
		var zero Resp
		return zero, err
	}
	resp, ok, err := s.Recv(ctx)
	if err != nil {
		return resp, err
	}
	if !ok {
		return resp, ErrNoResponse
	}
	return resp, nil
}

func (s *Stub[Req, Resp]) SendAsync(ctx context.Context, v Req, eof bool) <-chan executor.Result[struct{}] {
	return executor.Async(func() (struct{}, error) {
		return struct{}{}, s.Send(ctx, v, eof)
	})
}

func (s *Stub[Req, Resp]) RecvAsync(ctx context.Context) <-chan executor.Result[stream.Received[Resp]] {
	return executor.Async(func() (stream.Received[Resp], error) {
		v, ok, err := s.Recv(ctx)
		return stream.Received[Resp]{Value: v, OK: ok}, err
	})
}

// CallAsync is Call for select-based deadlines. On timeout the connection
// must be dropped, it is left in the middle of a call.
func (s *Stub[Req, Resp]) CallAsync(ctx context.Context, v Req) <-chan executor.Result[Resp] {
	return executor.Async(func() (Resp, error) {
		return s.Call(ctx, v)
	})
}
