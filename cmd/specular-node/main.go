package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/specularl2/specular-node/node"
)

var Version = "v0.1.0"

func main() {
	app := cli.NewApp()
	app.Name = "specular-node"
	app.Usage = "Rollup node: derives the L2 chain from L1 data and drives the execution engine"
	app.Version = Version
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:     "config",
			Usage:    "Path to the TOML config file",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "log.level",
			Usage: "Log level: trace, debug, info, warn, error, crit",
			Value: "info",
		},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "application failed: %v\n", err)
		os.Exit(1)
	}
}

func run(cliCtx *cli.Context) error {
	logger, err := setupLogging(cliCtx.String("log.level"))
	if err != nil {
		return err
	}

	cfg, err := node.LoadConfig(cliCtx.String("config"))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting specular-node", "version", Version)
	n, err := node.New(ctx, logger, cfg, Version)
	if err != nil {
		return err
	}
	defer n.Close()

	if err := n.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	logger.Info("shut down")
	return nil
}

func setupLogging(level string) (log.Logger, error) {
	lvl, err := log.LvlFromString(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	logger := log.New()
	logger.SetHandler(log.LvlFilterHandler(lvl, log.StreamHandler(os.Stderr, log.TerminalFormat(true))))
	return logger, nil
}
