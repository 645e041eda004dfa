// Package generator writes batches of synthetic user records with tokens to
// a CSV file for load-test tooling such as JMeter's CSV Data Set Config.
//
// The output is test fixture data. Tokens produced by the default mock
// source are not credentials.
package generator

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/dskow/seckill-tokengen/internal/metrics"
	"github.com/dskow/seckill-tokengen/internal/progress"
	"github.com/dskow/seckill-tokengen/internal/token"
)

const (
	// DefaultOutputPath and DefaultCount are used by GenerateBatch callers
	// that take no arguments.
	DefaultOutputPath = "data/seckill-tokens.csv"
	DefaultCount      = 10000

	// DefaultProgressEvery is the record cadence of progress notices.
	DefaultProgressEvery = 1000
)

// Header is the first row of every generated file.
var Header = []string{"userId", "username", "token"}

// ErrOutputUnwritable is the only failure of a batch: the output file could
// not be created or written (missing directory, permission denied, disk
// full). The underlying OS error stays in the chain.
var ErrOutputUnwritable = errors.New("output unwritable")

// Options configures a Generator. The zero value yields mock tokens with
// the default username prefix and no progress notices.
type Options struct {
	Source           token.Source
	UsernamePrefix   string
	ProgressEvery    int
	ProgressInterval time.Duration
	CRLF             bool
	Logger           *slog.Logger
	Metrics          *metrics.Collector // optional
}

// DefaultOptions returns the options used by GenerateBatch.
func DefaultOptions() Options {
	return Options{
		Source:         token.Mock{},
		UsernamePrefix: token.DefaultUsernamePrefix,
		ProgressEvery:  DefaultProgressEvery,
	}
}

// Result summarises a completed batch.
type Result struct {
	Path     string
	Records  int
	Duration time.Duration
}

// Generator writes token batches.
type Generator struct {
	opts Options
}

// New returns a Generator, filling unset options with defaults.
func New(opts Options) *Generator {
	if opts.Source == nil {
		opts.Source = token.Mock{}
	}
	if opts.UsernamePrefix == "" {
		opts.UsernamePrefix = token.DefaultUsernamePrefix
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Generator{opts: opts}
}

// GenerateBatch writes count mock records to outputPath with the default
// options, logging progress every 1000 records.
func GenerateBatch(outputPath string, count int) error {
	_, err := New(DefaultOptions()).Generate(context.Background(), outputPath, count)
	return err
}

// Generate creates (or truncates) path and writes the header followed by
// records 1..count. The file is closed before Generate returns, on every
// path. A failed or cancelled run leaves whatever was written in place.
func (g *Generator) Generate(ctx context.Context, path string, count int) (Result, error) {
	if count < 0 {
		return Result{}, fmt.Errorf("record count must be non-negative, got %d", count)
	}

	start := time.Now()
	err := g.write(ctx, path, count)
	elapsed := time.Since(start)
	if err != nil {
		g.observeFailure(err)
		return Result{}, err
	}

	if g.opts.Metrics != nil {
		g.opts.Metrics.ObserveSuccess(count, elapsed, time.Now())
	}
	g.opts.Logger.Info("token file generated",
		"path", path,
		"records", count,
		"mode", g.opts.Source.Mode(),
		"duration", elapsed,
	)
	return Result{Path: path, Records: count, Duration: elapsed}, nil
}

func (g *Generator) write(ctx context.Context, path string, count int) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrOutputUnwritable, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("%w: closing %s: %w", ErrOutputUnwritable, path, cerr)
		}
	}()

	w := csv.NewWriter(f)
	w.UseCRLF = g.opts.CRLF
	// Rows already handed to the writer reach the file even when the loop
	// stops early.
	defer w.Flush()

	report := progress.New(g.opts.Logger, count, g.opts.ProgressEvery, g.opts.ProgressInterval)
	report.Start(path)

	if err := w.Write(Header); err != nil {
		return fmt.Errorf("%w: writing %s: %w", ErrOutputUnwritable, path, err)
	}

	mode := g.opts.Source.Mode()
	for i := 1; i <= count; i++ {
		if err := ctx.Err(); err != nil {
			g.opts.Logger.Warn("generation cancelled", "written", i-1, "total", count)
			return err
		}

		username := token.Username(g.opts.UsernamePrefix, i)
		tok, err := g.opts.Source.Token(i, username)
		if err != nil {
			return fmt.Errorf("building token for user %d: %w", i, err)
		}
		if err := w.Write([]string{strconv.Itoa(i), username, tok}); err != nil {
			return fmt.Errorf("%w: writing %s: %w", ErrOutputUnwritable, path, err)
		}

		if g.opts.Metrics != nil {
			g.opts.Metrics.RecordsGenerated.WithLabelValues(mode).Inc()
		}
		report.Record(i)
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("%w: writing %s: %w", ErrOutputUnwritable, path, err)
	}
	return nil
}

func (g *Generator) observeFailure(err error) {
	if g.opts.Metrics == nil {
		return
	}
	reason := metrics.ReasonToken
	switch {
	case errors.Is(err, ErrOutputUnwritable):
		reason = metrics.ReasonOutputUnwritable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		reason = metrics.ReasonCancelled
	}
	g.opts.Metrics.BatchFailures.WithLabelValues(reason).Inc()
}
