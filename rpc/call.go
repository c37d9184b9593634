package rpc

import (
	"context"

	"go.uber.org/zap"

	"github.com/ozontech/pnrpc/admission"
	"github.com/ozontech/pnrpc/executor"
	"github.com/ozontech/pnrpc/retcode"
	"github.com/ozontech/pnrpc/stream"
	"github.com/ozontech/pnrpc/transport"
)

// Call is the server side of one call. Handlers must not use it concurrently.
type Call[Req, Resp any] struct {
	method *Method[Req, Resp]
	conn   *transport.Conn

	requests  *stream.ClientToServer[Req]
	responses *stream.ServerToClient[Resp]

	first         Req
	requestCount  int
	responseCount int

	log *zap.Logger
}

func newCall[Req, Resp any](m *Method[Req, Resp], log *zap.Logger) *Call[Req, Resp] {
	return &Call[Req, Resp]{
		method:    m,
		requests:  stream.NewClientToServer[Req](nil, m.Code, m.Request),
		responses: stream.NewServerToClient[Resp](nil, m.Response),
		log:       log.Named("call").With(zap.Uint32("pcode", m.Code), zap.String("method", m.Name)),
	}
}

func (c *Call[Req, Resp]) Code() uint32                 { return c.method.Code }
func (c *Call[Req, Resp]) Descriptor() Descriptor       { return c.method.Descriptor }
func (c *Call[Req, Resp]) Logger() *zap.Logger          { return c.log }
func (c *Call[Req, Resp]) Executor() *executor.Executor { return c.conn.Executor() }

// Request returns the next request. For single-request shapes only the first
// call returns a value.
func (c *Call[Req, Resp]) Request(ctx context.Context) (Req, bool, error) {
	if c.method.Shape.singleRequest() && c.requestCount >= 1 {
		c.log.Warn("request already taken", zap.Int("request_count", c.requestCount))
		var zero Req
		return zero, false, nil
	}
	c.requestCount++
	return c.requests.Read(ctx)
}

// RequestEOF reports whether the last request was read.
func (c *Call[Req, Resp]) RequestEOF() bool { return c.requests.ReadEOF() }

// Respond sends a response. After the eof response it is a noop.
func (c *Call[Req, Resp]) Respond(ctx context.Context, v Resp, eof bool) error {
	if c.responses.SendEOF() {
		c.log.Warn("repeatedly set eof")
		return nil
	}
	if c.method.Shape.singleResponse() && c.responseCount >= 1 {
		c.log.Warn("extra response", zap.Int("response_count", c.responseCount))
	}
	c.responseCount++
	return c.responses.Send(ctx, v, eof)
}

func (c *Call[Req, Resp]) setFirst(payload []byte, eof bool) error {
	v, err := c.method.Request.Decode(payload)
	if err != nil {
		return err
	}
	c.first = v
	c.requests.SetFirst(v, eof)
	return nil
}

func (c *Call[Req, Resp]) bind(conn *transport.Conn) {
	c.conn = conn
	c.requests.Bind(conn)
	c.responses.Bind(conn)
}

func (c *Call[Req, Resp]) target() *executor.Executor {
	if c.method.Executor == nil {
		return nil
	}
	return c.method.Executor(c.first)
}

func (c *Call[Req, Resp]) limit() error {
	f, err := c.conn.Framer()
	if err != nil {
		return err
	}
	l := c.method.Limits
	f.SetShapers(admission.NewShaper(l.RequestRate), admission.NewShaper(l.ResponseRate))
	return nil
}

func (c *Call[Req, Resp]) admit(ctx context.Context, bucket *admission.TokenBucket) bool {
	switch {
	case c.method.Admit != nil:
		return c.method.Admit(ctx, c.first)
	case bucket != nil:
		return bucket.Consume(1)
	}
	return true
}

func (c *Call[Req, Resp]) process(ctx context.Context) error {
	return c.method.Handler(ctx, c)
}

func (c *Call[Req, Resp]) close() {
	if !c.responses.SendEOF() {
		c.log.Warn("call finished without eof response")
	}
}

var _ processor = (*Call[any, any])(nil)

// processor is the untyped view of a Call used by the dispatcher.
type processor interface {
	setFirst(payload []byte, eof bool) error
	bind(conn *transport.Conn)
	target() *executor.Executor
	limit() error
	admit(ctx context.Context, bucket *admission.TokenBucket) bool
	process(ctx context.Context) error
	close()
}

// sendError writes an error envelope on behalf of the dispatcher.
func sendError(ctx context.Context, conn *transport.Conn, code retcode.Code, msg string) error {
	return stream.NewServerToClient[struct{}](conn, nil).SendError(ctx, code, msg)
}
