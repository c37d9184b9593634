package bench

import (
	"context"
	"fmt"

	"github.com/ozontech/pnrpc/codec"
	"github.com/ozontech/pnrpc/datasource"
	"github.com/ozontech/pnrpc/rpc"
	"github.com/ozontech/pnrpc/transport"
)

// RequestsShot sends the next request of ds as a simple call with the encoded
// payload as is.
func RequestsShot(ds datasource.DataSource) Shot {
	return func(ctx context.Context, conn *transport.Conn) error {
		req, err := ds.Fetch()
		if err != nil {
			return fmt.Errorf("fetch request: %w", err)
		}
		m := rpc.Method[[]byte, []byte]{
			Descriptor: rpc.Descriptor{Code: req.Code, Name: req.Tag, Shape: rpc.Simple},
			Request:    codec.Bytes{},
			Response:   codec.Bytes{},
		}
		_, err = rpc.NewStub(conn, &m).Call(ctx, req.Payload)
		return err
	}
}
