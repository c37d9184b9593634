package rpc

import (
	"context"
	"fmt"
	"runtime/debug"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ozontech/pnrpc/envelope"
	"github.com/ozontech/pnrpc/executor"
	"github.com/ozontech/pnrpc/retcode"
	"github.com/ozontech/pnrpc/transport"
)

const tracerName = "github.com/ozontech/pnrpc/rpc"

// HandleInfo describes one dispatched call.
type HandleInfo struct {
	Code     uint32
	RetCode  retcode.Code
	Message  string
	Process  time.Duration
	Executor *executor.Executor
	// Conn is the handle to continue with. It differs from the passed one
	// after a rebind.
	Conn *transport.Conn
}

func (i HandleInfo) Fields() []zap.Field {
	fields := []zap.Field{
		zap.Uint32("pcode", i.Code),
		zap.Stringer("ret_code", i.RetCode),
		zap.Duration("process", i.Process),
	}
	if i.Message != "" {
		fields = append(fields, zap.String("message", i.Message))
	}
	if i.Executor != nil {
		fields = append(fields, zap.String("executor", i.Executor.Name()))
	}
	return fields
}

// PanicError is a handler panic turned into a connection-fatal error.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("handler panicked: %v", e.Value) }

type Dispatcher struct {
	registry *Registry
	tracer   trace.Tracer
	log      *zap.Logger
}

type DispatcherOpt func(*Dispatcher)

// WithTracerProvider overrides the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) DispatcherOpt {
	return func(d *Dispatcher) { d.tracer = tp.Tracer(tracerName) }
}

func NewDispatcher(r *Registry, log *zap.Logger, opts ...DispatcherOpt) *Dispatcher {
	d := &Dispatcher{
		registry: r,
		tracer:   otel.Tracer(tracerName),
		log:      log.Named("dispatcher"),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// HandleRequest reads one request from conn and serves the whole call. A
// returned error is fatal for the connection.
func (d *Dispatcher) HandleRequest(ctx context.Context, conn *transport.Conn) (info HandleInfo, err error) {
	info.Conn = conn
	info.Executor = conn.Executor()

	// шейперы принадлежат вызову, новый вызов начинается без ограничений
	f, err := conn.Framer()
	if err != nil {
		return info, err
	}
	f.SetShapers(nil, nil)

	b, err := conn.ReadFrame(ctx)
	if err != nil {
		return info, err
	}
	req, err := envelope.ParseRequest(b)
	if err != nil {
		return info, err
	}
	info.Code = req.Code

	ctx, span := d.tracer.Start(ctx, "rpc.call", trace.WithAttributes(
		attribute.Int64("rpc.pcode", int64(req.Code)),
		attribute.String("conn.id", conn.ID()),
	))
	defer func() {
		span.SetAttributes(attribute.String("rpc.ret_code", info.RetCode.String()))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else if info.RetCode != retcode.OK {
			span.SetStatus(codes.Error, info.Message)
		}
		span.End()
	}()

	e, ok := d.registry.lookup(req.Code)
	if !ok {
		d.log.Info("get processor failed", zap.Uint32("pcode", req.Code))
		info.RetCode = retcode.InvalidPcode
		info.Message = "not found rpc request, pcode == " + strconv.FormatUint(uint64(req.Code), 10)
		return info, sendError(ctx, conn, info.RetCode, info.Message)
	}
	span.SetAttributes(attribute.String("rpc.method", e.descriptor().Name))

	p := e.newProcessor(conn.Logger())
	if err := p.setFirst(req.Payload, req.EOF); err != nil {
		info.RetCode = retcode.InvalidRequest
		info.Message = "invalid request: " + err.Error()
		return info, sendError(ctx, conn, info.RetCode, info.Message)
	}
	p.bind(conn)

	target := p.target()
	if target == nil || target == conn.Executor() {
		err = d.finish(ctx, p, e, &info)
		return info, err
	}

	conn, err = conn.Rebind(target)
	if err != nil {
		return info, fmt.Errorf("rebind to %s: %w", target.Name(), err)
	}
	p.bind(conn)
	info.Conn = conn
	info.Executor = target

	// info is read back only once the task has finished with it
	finished := make(chan HandleInfo, 1)
	err = target.Do(ctx, func(taskCtx context.Context) error {
		local := info
		err := d.finish(trace.ContextWithSpan(taskCtx, span), p, e, &local)
		finished <- local
		return err
	})
	select {
	case info = <-finished:
	default:
	}
	return info, err
}

// finish runs the admission gate and the handler on the current executor.
func (d *Dispatcher) finish(ctx context.Context, p processor, e entry, info *HandleInfo) error {
	if err := p.limit(); err != nil {
		return err
	}

	if !p.admit(ctx, e.bucket()) {
		info.RetCode = retcode.Overflow
		info.Message = "rpc request overflow"
		return sendError(ctx, info.Conn, info.RetCode, info.Message)
	}

	begin := time.Now()
	err := invoke(ctx, p)
	info.Process = time.Since(begin)
	if err != nil {
		return fmt.Errorf("rpc %s: %w", e.descriptor().Name, err)
	}
	p.close()
	info.RetCode = retcode.OK
	return nil
}

func invoke(ctx context.Context, p processor) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return p.process(ctx)
}
