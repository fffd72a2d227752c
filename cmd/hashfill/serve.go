package main

import (
	"context"
	"fmt"
	"io"

	"github.com/common-nighthawk/go-figure"
	"github.com/fxnlabs/hashfill/internal/accel"
	"github.com/fxnlabs/hashfill/internal/config"
	"github.com/fxnlabs/hashfill/internal/server"
	"github.com/urfave/cli/v2"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve transforms over HTTP until interrupted",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "no-banner", Usage: "Do not print the startup banner"},
		},
		Action: func(c *cli.Context) error {
			cfg := appConfig(c)
			log := appLogger(c)
			if !c.Bool("no-banner") {
				printBanner(c.App.Writer, cfg)
			}
			app := fx.New(serveOptions(cfg, log))
			if err := app.Err(); err != nil {
				return err
			}
			app.Run()
			return nil
		},
	}
}

func printBanner(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, figure.NewFigure("hashfill", "", true).String())
	fmt.Fprintf(w, "Listening on:  %s\n", cfg.Server.Addr())
	fmt.Fprintf(w, "Backend:       %s\n", cfg.Accelerator.Backend)
	fmt.Fprintf(w, "Kernel:        %s (%s)\n", cfg.Accelerator.KernelName, cfg.Accelerator.KernelBinary)
	fmt.Fprintln(w, "-----------------------------------------------")
}

// serveOptions wires the manager and HTTP server into one fx application.
// The manager opens before the server starts listening and is closed after
// the server drains.
func serveOptions(cfg *config.Config, log *zap.Logger) fx.Option {
	return fx.Options(
		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
		fx.Supply(cfg, log),
		fx.Provide(
			newManager,
			func(m *accel.Manager) server.Accelerator { return m },
			func(cfg *config.Config, acc server.Accelerator, log *zap.Logger) *server.Server {
				return server.New(cfg.Server, acc, log)
			},
		),
		fx.Invoke(registerServer),
	)
}

func newManager(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) (*accel.Manager, error) {
	manager, err := accel.NewManager(cfg.Accelerator, log)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return manager.Close()
		},
	})
	return manager, nil
}

func registerServer(lc fx.Lifecycle, srv *server.Server) {
	lc.Append(fx.Hook{
		OnStart: srv.Start,
		OnStop:  srv.Stop,
	})
}
