// Package verify checks a generated token file: header, contiguous ids,
// username format and every token. Mock tokens are recomputed and compared;
// signed tokens are checked against the signing secret.
package verify

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"

	"github.com/dskow/seckill-tokengen/internal/generator"
	"github.com/dskow/seckill-tokengen/internal/token"
)

// maxProblems caps the report size for badly broken files.
const maxProblems = 100

// ErrInvalidFile is returned when at least one problem was found.
var ErrInvalidFile = errors.New("invalid token file")

// Options configures a verification run.
type Options struct {
	UsernamePrefix string        // defaults to token.DefaultUsernamePrefix
	Signer         *token.Signer // nil checks mock tokens
	ExpectRecords  *int          // nil skips the record count check
}

// Problem is one violation, tied to a 1-based file line.
type Problem struct {
	Line    int
	Message string
}

func (p Problem) String() string {
	return fmt.Sprintf("line %d: %s", p.Line, p.Message)
}

// Report is the outcome of a verification run.
type Report struct {
	Records   int
	Problems  []Problem
	Truncated bool // more than maxProblems problems were found
}

// OK reports whether the file passed every check.
func (r *Report) OK() bool { return len(r.Problems) == 0 }

func (r *Report) add(line int, format string, args ...any) {
	if len(r.Problems) >= maxProblems {
		r.Truncated = true
		return
	}
	r.Problems = append(r.Problems, Problem{Line: line, Message: fmt.Sprintf(format, args...)})
}

// File verifies the CSV at path.
func File(ctx context.Context, path string, opts Options) (*Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening token file: %w", err)
	}
	defer f.Close()
	return Reader(ctx, f, opts)
}

// Reader verifies CSV rows read from r. A non-nil report is returned with
// ErrInvalidFile when problems are found; I/O and CSV syntax errors abort.
func Reader(ctx context.Context, r io.Reader, opts Options) (*Report, error) {
	if opts.UsernamePrefix == "" {
		opts.UsernamePrefix = token.DefaultUsernamePrefix
	}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	report := &Report{}

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		report.add(1, "missing header row")
		return report, fmt.Errorf("%w: %d problem(s)", ErrInvalidFile, len(report.Problems))
	}
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	if !slices.Equal(header, generator.Header) {
		report.add(1, "header is %q, want %q", header, generator.Header)
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading row %d: %w", report.Records+1, err)
		}
		report.Records++
		line, _ := cr.FieldPos(0)
		checkRow(report, line, report.Records, row, opts)
	}

	if opts.ExpectRecords != nil && report.Records != *opts.ExpectRecords {
		report.add(report.Records+1, "file has %d records, want %d", report.Records, *opts.ExpectRecords)
	}

	if !report.OK() {
		return report, fmt.Errorf("%w: %d problem(s)", ErrInvalidFile, len(report.Problems))
	}
	return report, nil
}

func checkRow(report *Report, line, wantID int, row []string, opts Options) {
	if len(row) != 3 {
		report.add(line, "want 3 columns, got %d", len(row))
		return
	}
	idField, username, tok := row[0], row[1], row[2]

	id, err := strconv.Atoi(idField)
	if err != nil || strconv.Itoa(id) != idField {
		report.add(line, "userId %q is not a canonical decimal integer", idField)
		return
	}
	if id != wantID {
		report.add(line, "userId %d out of sequence, want %d", id, wantID)
	}
	if want := token.Username(opts.UsernamePrefix, id); username != want {
		report.add(line, "username %q, want %q", username, want)
	}

	if opts.Signer != nil {
		if _, err := opts.Signer.Verify(tok, id, username); err != nil {
			report.add(line, "%v", err)
		}
		return
	}

	if _, err := token.Inspect(tok); err != nil {
		report.add(line, "%v", err)
		return
	}
	if tok != token.GenerateToken(id, username) {
		report.add(line, "token does not match user %d", id)
	}
}
