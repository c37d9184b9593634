// Package stream implements the typed halves of a call: the request stream
// (client to server) and the response stream (server to client).
//
// A stream is not safe for concurrent use. The async variants run the same
// logic in the background; the stream must not be touched until their result
// is delivered.
package stream

import (
	"context"
	"errors"
	"fmt"

	"github.com/ozontech/pnrpc/codec"
	"github.com/ozontech/pnrpc/envelope"
	"github.com/ozontech/pnrpc/executor"
	"github.com/ozontech/pnrpc/retcode"
	"github.com/ozontech/pnrpc/transport"
)

var ErrCodeMismatch = errors.New("stream: request for another pcode")

// Received is a result of an async read.
type Received[T any] struct {
	Value T
	OK    bool
}

// ClientToServer is the request stream of one call.
type ClientToServer[T any] struct {
	conn  *transport.Conn
	code  uint32
	codec codec.Codec[T]

	sendEOF bool
	readEOF bool

	first    *T
	firstEOF bool
}

func NewClientToServer[T any](conn *transport.Conn, code uint32, c codec.Codec[T]) *ClientToServer[T] {
	return &ClientToServer[T]{conn: conn, code: code, codec: c}
}

// Bind switches the stream to another connection handle.
func (s *ClientToServer[T]) Bind(conn *transport.Conn) { s.conn = conn }

func (s *ClientToServer[T]) SendEOF() bool { return s.sendEOF }
func (s *ClientToServer[T]) ReadEOF() bool { return s.readEOF }

// SetFirst installs an already decoded first request returned by the next Read.
func (s *ClientToServer[T]) SetFirst(v T, eof bool) {
	s.first = &v
	s.firstEOF = eof
}

func (s *ClientToServer[T]) Send(ctx context.Context, v T, eof bool) error {
	if s.sendEOF {
		return retcode.ErrSendAfterEOF
	}
	payload, err := s.codec.Encode(v)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	if err := s.conn.WriteFrame(ctx, envelope.AppendRequest(nil, s.code, eof, payload)); err != nil {
		return err
	}
	s.sendEOF = eof
	return nil
}

// Read returns the next request. ok is false once the eof request was read.
func (s *ClientToServer[T]) Read(ctx context.Context) (v T, ok bool, err error) {
	if s.first != nil {
		v, s.first = *s.first, nil
		s.readEOF = s.firstEOF
		return v, true, nil
	}
	if s.readEOF {
		return v, false, nil
	}

	b, err := s.conn.ReadFrame(ctx)
	if err != nil {
		return v, false, err
	}
	req, err := envelope.ParseRequest(b)
	if err != nil {
		return v, false, err
	}
	if req.Code != s.code {
		return v, false, fmt.Errorf("%w: got %d, want %d", ErrCodeMismatch, req.Code, s.code)
	}
	v, err = s.codec.Decode(req.Payload)
	if err != nil {
		return v, false, fmt.Errorf("decode request: %w", err)
	}
	s.readEOF = req.EOF
	return v, true, nil
}

func (s *ClientToServer[T]) SendAsync(ctx context.Context, v T, eof bool) <-chan executor.Result[struct{}] {
	return executor.Async(func() (struct{}, error) {
		return struct{}{}, s.Send(ctx, v, eof)
	})
}

func (s *ClientToServer[T]) ReadAsync(ctx context.Context) <-chan executor.Result[Received[T]] {
	return executor.Async(func() (Received[T], error) {
		v, ok, err := s.Read(ctx)
		return Received[T]{v, ok}, err
	})
}

// ServerToClient is the response stream of one call.
type ServerToClient[T any] struct {
	conn  *transport.Conn
	codec codec.Codec[T]

	sendEOF bool
	readEOF bool
}

func NewServerToClient[T any](conn *transport.Conn, c codec.Codec[T]) *ServerToClient[T] {
	return &ServerToClient[T]{conn: conn, codec: c}
}

func (s *ServerToClient[T]) Bind(conn *transport.Conn) { s.conn = conn }

func (s *ServerToClient[T]) SendEOF() bool { return s.sendEOF }
func (s *ServerToClient[T]) ReadEOF() bool { return s.readEOF }

func (s *ServerToClient[T]) Send(ctx context.Context, v T, eof bool) error {
	if s.sendEOF {
		return retcode.ErrSendAfterEOF
	}
	payload, err := s.codec.Encode(v)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	b, err := envelope.MarshalResponse(retcode.OK, eof, payload)
	if err != nil {
		return err
	}
	if err := s.conn.WriteFrame(ctx, b); err != nil {
		return err
	}
	s.sendEOF = eof
	return nil
}

// SendError writes an error envelope and terminates the stream.
func (s *ServerToClient[T]) SendError(ctx context.Context, code retcode.Code, msg string) error {
	if s.sendEOF {
		return retcode.ErrSendAfterEOF
	}
	b, err := envelope.MarshalError(code, msg)
	if err != nil {
		return err
	}
	if err := s.conn.WriteFrame(ctx, b); err != nil {
		return err
	}
	s.sendEOF = true
	return nil
}

// Read returns the next response. ok is false once the eof response was read.
// An error envelope is returned as *retcode.Error and ends the stream.
func (s *ServerToClient[T]) Read(ctx context.Context) (v T, ok bool, err error) {
	if s.readEOF {
		return v, false, nil
	}
	b, err := s.conn.ReadFrame(ctx)
	if err != nil {
		return v, false, err
	}
	resp, err := envelope.ParseResponse(b)
	if err != nil {
		return v, false, err
	}
	if err := resp.Err(); err != nil {
		s.readEOF = true
		return v, false, err
	}
	v, err = s.codec.Decode(resp.Payload)
	if err != nil {
		return v, false, fmt.Errorf("decode response: %w", err)
	}
	s.readEOF = resp.EOF
	return v, true, nil
}

func (s *ServerToClient[T]) SendAsync(ctx context.Context, v T, eof bool) <-chan executor.Result[struct{}] {
	return executor.Async(func() (struct{}, error) {
		return struct{}{}, s.Send(ctx, v, eof)
	})
}

func (s *ServerToClient[T]) ReadAsync(ctx context.Context) <-chan executor.Result[Received[T]] {
	return executor.Async(func() (Received[T], error) {
		v, ok, err := s.Read(ctx)
		return Received[T]{v, ok}, err
	})
}
