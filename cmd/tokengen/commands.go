package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/urfave/cli/v3"

	"github.com/dskow/seckill-tokengen/internal/config"
	"github.com/dskow/seckill-tokengen/internal/generator"
	"github.com/dskow/seckill-tokengen/internal/logging"
	"github.com/dskow/seckill-tokengen/internal/metrics"
	"github.com/dskow/seckill-tokengen/internal/token"
	"github.com/dskow/seckill-tokengen/internal/verify"
)

// environment carries the process streams into command actions so tests can
// capture them.
type environment struct {
	stdout io.Writer
	stderr io.Writer
}

// loadConfig reads --config (or the defaults) and applies flag overrides.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	cfg := config.Default()
	if path := cmd.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := applyOverrides(cmd, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyOverrides copies explicitly set flags onto cfg and revalidates it.
func applyOverrides(cmd *cli.Command, cfg *config.Config) error {
	if cmd.IsSet("output") {
		cfg.Output.Path = cmd.String("output")
	}
	if cmd.IsSet("count") {
		n := int(cmd.Int("count"))
		cfg.Output.Count = &n
	}
	if cmd.IsSet("mode") {
		cfg.Token.Mode = cmd.String("mode")
	}
	if cmd.IsSet("log-level") {
		cfg.Logging.Level = cmd.String("log-level")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	return nil
}

func (e *environment) newLogger(cfg *config.Config) (*slog.Logger, io.Closer, error) {
	logger, closer, err := logging.New(cfg.Logging, e.stdout, e.stderr)
	if err != nil {
		return nil, nil, fmt.Errorf("building logger: %w", err)
	}
	for _, w := range cfg.Warnings {
		logger.Warn("config warning", "message", w)
	}
	return logger, closer, nil
}

func (e *environment) generate(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, closer, err := e.newLogger(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	return runGenerate(ctx, cfg, logger)
}

// runGenerate writes one batch and, when configured, the metrics textfile.
// The textfile is written after failures too so the failure is visible.
func runGenerate(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	var m *metrics.Collector
	if cfg.Metrics.Textfile != "" {
		m = metrics.New()
	}

	opts, err := cfg.GeneratorOptions(logger, m)
	if err != nil {
		return err
	}

	_, genErr := generator.New(opts).Generate(ctx, cfg.Output.Path, cfg.Output.Records())

	if m != nil {
		if err := m.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			logger.Error("failed to write metrics textfile", "path", cfg.Metrics.Textfile, "error", err)
		}
	}
	return genErr
}

func (e *environment) verify(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, closer, err := e.newLogger(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	input := cmd.String("input")
	if input == "" {
		input = cfg.Output.Path
	}

	opts := verify.Options{UsernamePrefix: cfg.Token.UsernamePrefix}
	if cfg.Output.Count != nil {
		n := cfg.Output.Records()
		opts.ExpectRecords = &n
	}
	if cfg.Token.Mode == token.ModeSigned {
		signer, err := token.NewSigner(cfg.Token.Signer())
		if err != nil {
			return fmt.Errorf("building signer: %w", err)
		}
		opts.Signer = signer
	}

	report, err := verify.File(ctx, input, opts)
	if report != nil {
		for _, p := range report.Problems {
			logger.Warn("token file problem", "line", p.Line, "problem", p.Message)
		}
		if report.Truncated {
			logger.Warn("further problems omitted")
		}
	}
	if err != nil {
		return err
	}

	logger.Info("token file verified", "path", input, "records", report.Records, "mode", cfg.Token.Mode)
	return nil
}

func (e *environment) watch(ctx context.Context, cmd *cli.Command) error {
	path := cmd.String("config")
	if path == "" {
		return errors.New("watch requires --config")
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	// Logging settings are fixed for the lifetime of the watch.
	logger, closer, err := e.newLogger(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	// Regenerations are triggered from the watcher and signal goroutines;
	// only one may write the file at a time.
	var mu sync.Mutex
	regenerate := func(cfg *config.Config) {
		mu.Lock()
		defer mu.Unlock()
		if err := runGenerate(ctx, cfg, logger); err != nil {
			logger.Error("generation failed", "error", err)
		}
	}

	regenerate(cfg)

	reloader := config.NewReloader(path, cfg, logger)
	reloader.OnReload(func(newCfg *config.Config) {
		if err := applyOverrides(cmd, newCfg); err != nil {
			logger.Error("reloaded config rejected", "error", err)
			return
		}
		regenerate(newCfg)
	})
	if err := reloader.Start(); err != nil {
		return err
	}
	defer reloader.Stop()

	<-ctx.Done()
	logger.Info("watch stopped")
	return nil
}
