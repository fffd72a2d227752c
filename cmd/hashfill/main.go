package main

import (
	"fmt"
	"os"

	"github.com/fxnlabs/hashfill/internal/config"
	"github.com/fxnlabs/hashfill/internal/logger"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:     "hashfill",
		Usage:    "Offload the zstd double hash table fill to an accelerator",
		Metadata: map[string]interface{}{},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config.yaml; built-in defaults when empty",
				EnvVars: []string{"HASHFILL_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "verbosity",
				Usage:   "Log level (debug, info, warn, error); overrides the config file",
				EnvVars: []string{"HASHFILL_VERBOSITY"},
			},
			&cli.StringFlag{
				Name:    "backend",
				Usage:   "Executor backend (auto, opencl, cpu); overrides the config file",
				EnvVars: []string{"HASHFILL_BACKEND"},
			},
		},
		Before: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			zapLogger, err := logger.NewWithEncoding(cfg.Logger.Verbosity, cfg.Logger.Encoding)
			if err != nil {
				return err
			}
			c.App.Metadata["config"] = cfg
			c.App.Metadata["logger"] = zapLogger.Named("cli")
			return nil
		},
		After: func(c *cli.Context) error {
			if log, ok := c.App.Metadata["logger"].(*zap.Logger); ok {
				_ = log.Sync()
			}
			return nil
		},
		Commands: []*cli.Command{
			infoCommand(),
			runCommand(),
			benchCommand(),
			serveCommand(),
			configCommand(),
		},
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg := config.Default()
	if path := c.String("config"); path != "" {
		var err error
		cfg, err = config.LoadConfig(path)
		if err != nil {
			return nil, err
		}
	}
	if v := c.String("verbosity"); v != "" {
		cfg.Logger.Verbosity = v
	}
	if b := c.String("backend"); b != "" {
		cfg.Accelerator.Backend = b
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func appConfig(c *cli.Context) *config.Config {
	return c.App.Metadata["config"].(*config.Config)
}

func appLogger(c *cli.Context) *zap.Logger {
	return c.App.Metadata["logger"].(*zap.Logger)
}
