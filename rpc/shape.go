package rpc

import "strconv"

// Shape is the cardinality contract of a call.
type Shape uint8

const (
	Simple         Shape = iota // 1 request, 1 response
	ClientStream                // N requests, 1 response
	ServerStream                // 1 request, N responses
	BidirectStream              // N requests, N responses
)

func (s Shape) String() string {
	switch s {
	case Simple:
		return "simple"
	case ClientStream:
		return "client-stream"
	case ServerStream:
		return "server-stream"
	case BidirectStream:
		return "bidirect-stream"
	}
	return "shape(" + strconv.Itoa(int(s)) + ")"
}

// singleRequest reports whether the processor accepts exactly one request.
func (s Shape) singleRequest() bool {
	switch s {
	case Simple, ServerStream:
		return true
	case ClientStream, BidirectStream:
		return false
	}
	panic("unknown shape " + s.String())
}

// singleResponse reports whether the caller reads exactly one response.
func (s Shape) singleResponse() bool {
	switch s {
	case Simple, ClientStream:
		return true
	case ServerStream, BidirectStream:
		return false
	}
	panic("unknown shape " + s.String())
}
