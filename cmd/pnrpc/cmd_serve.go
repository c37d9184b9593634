package main

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ozontech/pnrpc/admin"
	"github.com/ozontech/pnrpc/config"
	"github.com/ozontech/pnrpc/methods"
	"github.com/ozontech/pnrpc/rpc"
	"github.com/ozontech/pnrpc/server"
	"github.com/ozontech/pnrpc/tracing"
)

type ServeCommand struct {
	Config  string `type:"existingfile" placeholder:"pnrpc.yaml" help:"YAML config file."`
	Addr    string `help:"Listen address, overrides the config."`
	Workers int    `default:"-1" help:"Worker executors, overrides the config when >= 0."`
	Admin   bool   `help:"Enable the gRPC health endpoint."`
	Trace   bool   `help:"Print call spans to stdout."`
}

func (c *ServeCommand) load() (*config.Config, error) {
	conf, err := config.Load(c.Config)
	if err != nil {
		return nil, err
	}
	if c.Addr != "" {
		conf.Server.Addr = c.Addr
	}
	if c.Workers >= 0 {
		conf.Server.Workers = c.Workers
	}
	if c.Admin {
		conf.Admin.Enabled = true
	}
	if c.Trace {
		conf.Tracing.Exporter = tracing.ExporterStdout
	}
	if conf.Methods.EchoAddr == "" {
		conf.Methods.EchoAddr = conf.Server.Addr
	}
	return conf, conf.Validate()
}

func (c *ServeCommand) Run(ctx context.Context, globals *Globals, log *zap.Logger) (err error) {
	conf, err := c.load()
	if err != nil {
		return err
	}
	if !globals.Verbose {
		if log, err = conf.Logger(); err != nil {
			return fmt.Errorf("logger: %w", err)
		}
		defer log.Sync() //nolint:errcheck
	}

	tp, shutdownTracing, err := tracing.New(conf.TracingConfig())
	if err != nil {
		return err
	}
	otel.SetTracerProvider(tp)
	defer func() { err = multierr.Append(err, shutdownTracing(context.Background())) }()

	set, err := methods.New(methodOptions(conf), log)
	if err != nil {
		return fmt.Errorf("methods setup: %w", err)
	}
	defer func() { err = multierr.Append(err, set.Close()) }()

	registry := rpc.NewRegistry(16, log)
	set.Register(registry)

	srv := server.New(
		conf.ServerConfig(),
		rpc.NewDispatcher(registry, log),
		log,
		server.WithExecutors(set.Executors()...),
	)
	if err := srv.Listen(); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(ctx) })
	if conf.Admin.Enabled {
		adm := admin.New(conf.Admin.Addr, registry, log)
		g.Go(func() error { return adm.Run(ctx) })
	}
	return g.Wait()
}

func methodOptions(conf *config.Config) methods.Options {
	opts := methods.Options{
		SleepExecutors:  conf.Methods.SleepExecutors,
		EchoAddr:        conf.Methods.EchoAddr,
		LookupDSN:       conf.Methods.Lookup.DSN,
		LookupCacheSize: conf.Methods.Lookup.CacheSize,
	}
	if len(conf.Methods.Limits) > 0 {
		opts.Limits = make(map[string]rpc.Limits, len(conf.Methods.Limits))
		for name, l := range conf.Methods.Limits {
			opts.Limits[name] = l.RPC()
		}
	}
	return opts
}
