package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/alecthomas/kong"
	"go.uber.org/zap"

	"github.com/ozontech/pnrpc/codec"
	"github.com/ozontech/pnrpc/consts"
	"github.com/ozontech/pnrpc/executor"
	"github.com/ozontech/pnrpc/methods"
	"github.com/ozontech/pnrpc/rpc"
	"github.com/ozontech/pnrpc/transport"
	"github.com/ozontech/pnrpc/value"
)

type CallCommand struct {
	Addr    string        `default:"127.0.0.1:44444" help:"Server address."`
	Timeout time.Duration `default:"5s" help:"Call deadline."`

	Echo      EchoCall      `cmd:"" help:"Echo a message."`
	Sum       SumCall       `cmd:"" help:"Sum numbers in one request."`
	SumStream SumStreamCall `cmd:"" help:"Sum numbers sent as a client stream."`
	Download  DownloadCall  `cmd:"" help:"Download a file as a server stream."`
	Sleep     SleepCall     `cmd:"" help:"Sleep on the server."`
	Async     AsyncCall     `cmd:"" help:"Call the async method."`
	Lookup    LookupCall    `cmd:"" help:"Look up a key."`
	Chat      ChatCall      `cmd:"" help:"Send messages as a bidirectional stream."`
	Raw       RawCall       `cmd:"" help:"Call any pcode with a JSON value payload."`
}

// target is bound for the call subcommands.
type target struct {
	addr    string
	timeout time.Duration
}

func (c *CallCommand) AfterApply(kongCtx *kong.Context) error {
	kongCtx.Bind(target{c.Addr, c.Timeout})
	return nil
}

// do dials a connection and runs fn racing it against the deadline.
func (t target) do(ctx context.Context, log *zap.Logger, fn func(context.Context, *transport.Conn) error) error {
	timeout := t.timeout
	if timeout <= 0 {
		timeout = consts.DefaultCallTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := rpc.NewDialer(t.addr, log).Dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	res := executor.Async(func() (struct{}, error) {
		return struct{}{}, fn(ctx, conn)
	})
	select {
	case r := <-res:
		return r.Err
	case <-ctx.Done():
		// разблокирует чтение/запись брошенного вызова
		_ = conn.SetDeadline(time.Now())
		<-res
		return fmt.Errorf("call: %w", ctx.Err())
	}
}

type EchoCall struct {
	Message string `arg:"" help:"Message."`
}

func (c *EchoCall) Run(ctx context.Context, t target, log *zap.Logger, out io.Writer) error {
	return t.do(ctx, log, func(ctx context.Context, conn *transport.Conn) error {
		resp, err := rpc.NewStub(conn, &methods.Echo).Call(ctx, c.Message)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, resp)
		return err
	})
}

type SumCall struct {
	Nums []uint32 `arg:"" help:"Numbers."`
}

func (c *SumCall) Run(ctx context.Context, t target, log *zap.Logger, out io.Writer) error {
	return t.do(ctx, log, func(ctx context.Context, conn *transport.Conn) error {
		resp, err := rpc.NewStub(conn, &methods.Sum).Call(ctx, c.Nums)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, resp)
		return err
	})
}

type SumStreamCall struct {
	Nums []uint32 `arg:"" help:"Numbers, one request each."`
}

func (c *SumStreamCall) Run(ctx context.Context, t target, log *zap.Logger, out io.Writer) error {
	return t.do(ctx, log, func(ctx context.Context, conn *transport.Conn) error {
		stub := rpc.NewStub(conn, &methods.SumStream)
		for i, n := range c.Nums {
			if err := stub.Send(ctx, n, i == len(c.Nums)-1); err != nil {
				return err
			}
		}
		sum, ok, err := stub.Recv(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return rpc.ErrNoResponse
		}
		_, err = fmt.Fprintln(out, sum)
		return err
	})
}

type DownloadCall struct {
	File string `arg:"" help:"File name."`
}

func (c *DownloadCall) Run(ctx context.Context, t target, log *zap.Logger, out io.Writer) error {
	return t.do(ctx, log, func(ctx context.Context, conn *transport.Conn) error {
		stub := rpc.NewStub(conn, &methods.Download)
		if err := stub.Send(ctx, c.File, true); err != nil {
			return err
		}
		return printAll(ctx, stub, out)
	})
}

type SleepCall struct {
	Seconds uint32 `arg:"" help:"Seconds to sleep."`
}

func (c *SleepCall) Run(ctx context.Context, t target, log *zap.Logger, out io.Writer) error {
	return t.do(ctx, log, func(ctx context.Context, conn *transport.Conn) error {
		resp, err := rpc.NewStub(conn, &methods.Sleep).Call(ctx, c.Seconds)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, resp)
		return err
	})
}

type AsyncCall struct {
	Message string `arg:"" help:"Message."`
}

func (c *AsyncCall) Run(ctx context.Context, t target, log *zap.Logger, out io.Writer) error {
	return t.do(ctx, log, func(ctx context.Context, conn *transport.Conn) error {
		resp, err := rpc.NewStub(conn, &methods.Async).Call(ctx, c.Message)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, resp)
		return err
	})
}

type LookupCall struct {
	Key string `arg:"" help:"Key."`
}

func (c *LookupCall) Run(ctx context.Context, t target, log *zap.Logger, out io.Writer) error {
	return t.do(ctx, log, func(ctx context.Context, conn *transport.Conn) error {
		resp, err := rpc.NewStub(conn, &methods.Lookup).Call(ctx, methods.LookupRequest{Key: c.Key})
		if err != nil {
			return err
		}
		if !resp.Found {
			_, err = fmt.Fprintln(out, "not found")
			return err
		}
		_, err = fmt.Fprintln(out, resp.Value)
		return err
	})
}

type ChatCall struct {
	Messages []string `arg:"" help:"Messages."`
}

func (c *ChatCall) Run(ctx context.Context, t target, log *zap.Logger, out io.Writer) error {
	return t.do(ctx, log, func(ctx context.Context, conn *transport.Conn) error {
		stub := rpc.NewStub(conn, &methods.Chat)
		for i, msg := range c.Messages {
			if err := stub.Send(ctx, msg, i == len(c.Messages)-1); err != nil {
				return err
			}
		}
		return printAll(ctx, stub, out)
	})
}

type RawCall struct {
	Pcode uint32   `required:"" help:"Method code."`
	Shape rawShape `enum:"simple,server-stream" default:"simple" help:"Call shape: ${enum}."`
	JSON  string   `arg:"" optional:"" default:"null" help:"Request value as JSON, {\"$bytes\": base64} for bytes."`
}

type rawShape string

func (c *RawCall) Run(ctx context.Context, t target, log *zap.Logger, out io.Writer) error {
	req, err := value.ParseJSON([]byte(c.JSON))
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	m := rpc.Method[any, []byte]{
		Descriptor: rpc.Descriptor{Code: c.Pcode, Name: "raw", Shape: rpc.Simple},
		Request:    codec.Value{},
		Response:   codec.Bytes{},
	}
	if c.Shape == "server-stream" {
		m.Shape = rpc.ServerStream
	}

	return t.do(ctx, log, func(ctx context.Context, conn *transport.Conn) error {
		stub := rpc.NewStub(conn, &m)
		if err := stub.Send(ctx, req, true); err != nil {
			return err
		}
		for !stub.Done() {
			b, ok, err := stub.Recv(ctx)
			if err != nil || !ok {
				return err
			}
			if _, err := fmt.Fprintln(out, formatRaw(b)); err != nil {
				return err
			}
		}
		return nil
	})
}

// formatRaw печатает ответ как JSON, если это value, иначе как строку.
func formatRaw(b []byte) string {
	if v, err := value.Parse(b); err == nil {
		if j, err := value.MarshalJSON(v); err == nil {
			return string(j)
		}
	}
	return fmt.Sprintf("%q", b)
}

func printAll[Req, Resp any](ctx context.Context, stub *rpc.Stub[Req, Resp], out io.Writer) error {
	for !stub.Done() {
		v, ok, err := stub.Recv(ctx)
		if err != nil || !ok {
			return err
		}
		if _, err := fmt.Fprintln(out, v); err != nil {
			return err
		}
	}
	return nil
}
