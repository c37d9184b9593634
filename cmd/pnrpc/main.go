package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	mangokong "github.com/alecthomas/mango-kong"
	"go.uber.org/zap"
)

type Globals struct {
	Verbose bool `help:"Verbose output."`
}

type cli struct {
	Globals

	Serve ServeCommand      `cmd:"" help:"Run the rpc server."`
	Call  CallCommand       `cmd:"" help:"Make a single call."`
	Bench BenchCommand      `cmd:"" help:"Generate load."`
	Man   mangokong.ManFlag `help:"Write man page." hidden:""`
}

var CLI cli

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	kongCtx := kong.Parse(
		&CLI,
		kong.BindTo(ctx, (*context.Context)(nil)),
		kong.BindTo(os.Stdout, (*io.Writer)(nil)),
		kong.Groups(map[string]string{
			"rps": `Schedule:`,
		}),
		kong.ConfigureHelp(kong.HelpOptions{
			Tree:    true,
			Compact: true,
		}),
		kong.Description(`framed rpc engine over tcp

pnrpc serves typed calls (simple, client-stream, server-stream and bidirectional)
over one tcp connection per client, calls single methods and generates load.
		`),
	)

	log := zap.NewNop()
	if CLI.Verbose {
		log = zap.Must(zap.NewDevelopment())
	}
	defer log.Sync() //nolint:errcheck

	err := kongCtx.Run(&CLI.Globals, log)
	kongCtx.FatalIfErrorf(err)
}
