// Package tracing builds the tracer provider used for per-call spans.
package tracing

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	ExporterNoop   = "noop"
	ExporterStdout = "stdout"
)

type Config struct {
	// Exporter is one of "", "noop" or "stdout".
	Exporter string
	Pretty   bool
	// Output of the stdout exporter, os.Stdout by default.
	Output io.Writer
	// Sync exports every span when it ends.
	Sync bool
}

type ShutdownFunc func(context.Context) error

// New returns a provider for conf and the function flushing it.
func New(conf Config) (trace.TracerProvider, ShutdownFunc, error) {
	noopShutdown := func(context.Context) error { return nil }

	switch conf.Exporter {
	case "", ExporterNoop:
		return noop.NewTracerProvider(), noopShutdown, nil
	case ExporterStdout:
	default:
		return nil, nil, fmt.Errorf("unsupported exporter: %q", conf.Exporter)
	}

	out := conf.Output
	if out == nil {
		out = os.Stdout
	}
	opts := []stdouttrace.Option{stdouttrace.WithWriter(out)}
	if conf.Pretty {
		opts = append(opts, stdouttrace.WithPrettyPrint())
	}
	exporter, err := stdouttrace.New(opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("create stdout exporter: %w", err)
	}

	export := sdktrace.WithBatcher(exporter)
	if conf.Sync {
		export = sdktrace.WithSyncer(exporter)
	}
	tp := sdktrace.NewTracerProvider(
		export,
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	return tp, tp.Shutdown, nil
}
