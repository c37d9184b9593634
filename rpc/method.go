package rpc

import (
	"context"

	"github.com/ozontech/pnrpc/codec"
	"github.com/ozontech/pnrpc/executor"
)

type Descriptor struct {
	Code  uint32
	Name  string
	Shape Shape
}

// Limits of a method. Zero values mean unlimited.
type Limits struct {
	// RequestRate и ResponseRate - байт/с для потока запросов и ответов.
	RequestRate  int64
	ResponseRate int64

	// Rate and Burst configure the method token bucket, calls/s.
	Rate  float64
	Burst int
}

func (l Limits) bucket() bool { return l.Rate > 0 || l.Burst > 0 }

type Handler[Req, Resp any] func(ctx context.Context, call *Call[Req, Resp]) error

// Method describes a typed method. Both the server (Register) and the client
// (NewStub) use it; the client ignores the server hooks.
type Method[Req, Resp any] struct {
	Descriptor

	Request  codec.Codec[Req]
	Response codec.Codec[Resp]

	Handler Handler[Req, Resp]

	// Executor picks the executor to run the call on, by the first request.
	// nil result keeps the executor that read the request.
	Executor func(first Req) *executor.Executor

	// Admit replaces the token bucket built from Limits.
	Admit func(ctx context.Context, first Req) bool

	Limits Limits
}
