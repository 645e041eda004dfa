// Package main is the entry point for tokengen, which writes synthetic seckill
// user records with mock (or HMAC-signed) tokens to a CSV file for load
// tests. The output is test fixture data, not credentials.
//
// Running tokengen with no arguments writes 10000 records to
// data/seckill-tokens.csv.
package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/dskow/seckill-tokengen/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newApp(os.Stdout, os.Stderr).Run(ctx, os.Args); err != nil {
		slog.Error("application error", slog.Any("error", err))
		stop()
		os.Exit(1)
	}
}

func newApp(stdout, stderr io.Writer) *cli.Command {
	env := &environment{stdout: stdout, stderr: stderr}

	return &cli.Command{
		Name:      "tokengen",
		Usage:     "Generate seckill load-test users with mock tokens (test fixture data, not credentials)",
		Version:   "1.0.0",
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML config file (optional)",
				Sources: cli.EnvVars("TOKENGEN_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Output CSV path (default: " + config.DefaultOutputPath + ")",
			},
			&cli.IntFlag{
				Name:    "count",
				Aliases: []string{"n"},
				Usage:   "Number of user records to generate (default: 10000)",
			},
			&cli.StringFlag{
				Name:  "mode",
				Usage: "Token mode: mock or signed",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level: debug, info, warn or error",
			},
		},
		Action: env.generate,
		Commands: []*cli.Command{
			{
				Name:   "generate",
				Usage:  "Write the token CSV (default action)",
				Action: env.generate,
			},
			{
				Name:  "verify",
				Usage: "Check a generated token CSV",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "input",
						Aliases: []string{"i"},
						Usage:   "CSV to check (default: the configured output path)",
					},
				},
				Action: env.verify,
			},
			{
				Name:   "watch",
				Usage:  "Generate, then regenerate whenever the config file changes or on SIGHUP",
				Action: env.watch,
			},
		},
	}
}
