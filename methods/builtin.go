// Package methods contains the rpc methods served by pnrpc.
package methods

import (
	"context"
	"strconv"

	"github.com/ozontech/pnrpc/codec"
	"github.com/ozontech/pnrpc/rpc"
)

const (
	CodeSum       uint32 = 0x00
	CodeEcho      uint32 = 0x01
	CodeSleep     uint32 = 0x02
	CodeAsync     uint32 = 0x03
	CodeSumStream uint32 = 0x04
	CodeDownload  uint32 = 0x05
	CodeLookup    uint32 = 0x06
	CodeChat      uint32 = 0x07
)

var (
	// Sum складывает числа из массива, переполнение по модулю 2^32.
	Sum = rpc.Method[[]uint32, uint32]{
		Descriptor: rpc.Descriptor{Code: CodeSum, Name: "sum", Shape: rpc.Simple},
		Request:    codec.Uint32Slice{},
		Response:   codec.Uint32{},
		Handler:    sum,
		Limits:     rpc.Limits{Rate: 10000, Burst: 100000},
	}

	Echo = rpc.Method[string, string]{
		Descriptor: rpc.Descriptor{Code: CodeEcho, Name: "echo", Shape: rpc.Simple},
		Request:    codec.String{},
		Response:   codec.String{},
		Handler:    echo,
	}

	SumStream = rpc.Method[uint32, uint32]{
		Descriptor: rpc.Descriptor{Code: CodeSumStream, Name: "sum-stream", Shape: rpc.ClientStream},
		Request:    codec.Uint32{},
		Response:   codec.Uint32{},
		Handler:    sumStream,
	}

	// Download streams two chunks for any file name.
	Download = rpc.Method[string, string]{
		Descriptor: rpc.Descriptor{Code: CodeDownload, Name: "download", Shape: rpc.ServerStream},
		Request:    codec.String{},
		Response:   codec.String{},
		Handler:    download,
	}

	// Chat answers every message with its number in the call.
	Chat = rpc.Method[string, string]{
		Descriptor: rpc.Descriptor{Code: CodeChat, Name: "chat", Shape: rpc.BidirectStream},
		Request:    codec.String{},
		Response:   codec.String{},
		Handler:    chat,
	}
)

func sum(ctx context.Context, call *rpc.Call[[]uint32, uint32]) error {
	nums, _, err := call.Request(ctx)
	if err != nil {
		return err
	}
	var resp uint32
	for _, n := range nums {
		resp += n
	}
	return call.Respond(ctx, resp, true)
}

func echo(ctx context.Context, call *rpc.Call[string, string]) error {
	req, _, err := call.Request(ctx)
	if err != nil {
		return err
	}
	return call.Respond(ctx, req, true)
}

func sumStream(ctx context.Context, call *rpc.Call[uint32, uint32]) error {
	var resp uint32
	for {
		n, ok, err := call.Request(ctx)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		resp += n
	}
	return call.Respond(ctx, resp, true)
}

func download(ctx context.Context, call *rpc.Call[string, string]) error {
	if _, _, err := call.Request(ctx); err != nil {
		return err
	}
	if err := call.Respond(ctx, "hello", false); err != nil {
		return err
	}
	return call.Respond(ctx, "world", true)
}

func chat(ctx context.Context, call *rpc.Call[string, string]) error {
	for n := 1; ; n++ {
		msg, ok, err := call.Request(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := call.Respond(ctx, strconv.Itoa(n)+": "+msg, call.RequestEOF()); err != nil {
			return err
		}
	}
}
