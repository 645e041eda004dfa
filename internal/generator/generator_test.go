package generator

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/dskow/seckill-tokengen/internal/metrics"
	"github.com/dskow/seckill-tokengen/internal/token"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const user1Row = "1,seckill_user_0001,eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9." +
	"eyJ1c2VySWQiOjEsInVzZXJuYW1lIjoic2Vja2lsbF91c2VyXzAwMDEiLCJpYXQiOjE3MDAwMDAwMDAsImV4cCI6MTczMTUzNjAwMH0." +
	"0c5247e3eea99a016dbd3acf82ad1b1365dc3122627"

func newTestLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewTextHandler(&buf, nil)), &buf
}

func readRows(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestGenerateBatch_FiveRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	require.NoError(t, GenerateBatch(path, 5))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	require.Len(t, lines, 6)
	assert.Equal(t, "userId,username,token", lines[0])
	assert.Equal(t, user1Row, lines[1])

	for i := 1; i <= 5; i++ {
		username := token.Username("seckill_user_", i)
		want := strconv.Itoa(i) + "," + username + "," + token.GenerateToken(i, username)
		assert.Equal(t, want, lines[i])
	}
	assert.True(t, strings.HasSuffix(string(data), "\n"))
	assert.NotContains(t, string(data), "\r")
}

func TestGenerateBatch_ZeroRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	require.NoError(t, GenerateBatch(path, 0))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "userId,username,token\n", string(data))
}

func TestGenerateBatch_LineCountAndContiguousIDs(t *testing.T) {
	for _, n := range []int{1, 2, 999, 1000, 1001, 10001} {
		t.Run(strconv.Itoa(n), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "out.csv")
			require.NoError(t, GenerateBatch(path, n))

			rows := readRows(t, path)
			require.Len(t, rows, n+1)
			assert.Equal(t, Header, rows[0])
			for i, row := range rows[1:] {
				require.Len(t, row, 3)
				assert.Equal(t, strconv.Itoa(i+1), row[0])
				assert.Equal(t, token.Username("seckill_user_", i+1), row[1])
				assert.Len(t, strings.Split(row[2], "."), 3)
			}
		})
	}
}

func TestGenerateBatch_WideIDsAreNotTruncated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	require.NoError(t, GenerateBatch(path, 10000))

	rows := readRows(t, path)
	last := rows[len(rows)-1]
	assert.Equal(t, "10000", last[0])
	assert.Equal(t, "seckill_user_10000", last[1])
}

func TestGenerateBatch_OverwritesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("stale,row,data\n", 100)), 0o644))

	require.NoError(t, GenerateBatch(path, 2))
	assert.Len(t, readRows(t, path), 3)
}

func TestGenerateBatch_MissingParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent", "out.csv")
	err := GenerateBatch(path, 5)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOutputUnwritable)
	assert.ErrorIs(t, err, fs.ErrNotExist)
	assert.Contains(t, err.Error(), path)
	assert.NoFileExists(t, path)
}

func TestGenerateBatch_PermissionDenied(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root bypasses directory permissions")
	}
	dir := filepath.Join(t.TempDir(), "ro")
	require.NoError(t, os.Mkdir(dir, 0o500))

	err := GenerateBatch(filepath.Join(dir, "out.csv"), 5)
	assert.ErrorIs(t, err, ErrOutputUnwritable)
	assert.ErrorIs(t, err, fs.ErrPermission)
}

func TestGenerate_DiskFull(t *testing.T) {
	if _, err := os.Stat("/dev/full"); err != nil {
		t.Skip("/dev/full not available")
	}
	_, err := New(DefaultOptions()).Generate(context.Background(), "/dev/full", 10)

	assert.ErrorIs(t, err, ErrOutputUnwritable)
	assert.ErrorIs(t, err, syscall.ENOSPC)
}

func TestGenerate_NegativeCount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	_, err := New(DefaultOptions()).Generate(context.Background(), path, -1)

	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrOutputUnwritable)
	assert.NoFileExists(t, path)
}

func TestGenerate_ProgressAndCompletionNotices(t *testing.T) {
	logger, buf := newTestLogger()
	opts := DefaultOptions()
	opts.Logger = logger

	path := filepath.Join(t.TempDir(), "out.csv")
	res, err := New(opts).Generate(context.Background(), path, 2500)
	require.NoError(t, err)
	assert.Equal(t, path, res.Path)
	assert.Equal(t, 2500, res.Records)

	out := buf.String()
	assert.Equal(t, 1, strings.Count(out, "generating seckill test tokens"))
	assert.Equal(t, 2, strings.Count(out, "generation progress"))
	assert.Contains(t, out, "written=1000")
	assert.Contains(t, out, "written=2000")
	assert.Contains(t, out, "token file generated")
	assert.Contains(t, out, "records=2500")
	assert.Contains(t, out, "path="+path)
}

func TestGenerate_CRLF(t *testing.T) {
	opts := DefaultOptions()
	opts.CRLF = true
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))

	path := filepath.Join(t.TempDir(), "out.csv")
	_, err := New(opts).Generate(context.Background(), path, 2)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(string(data), "\r\n"))
	assert.True(t, strings.HasPrefix(string(data), "userId,username,token\r\n"))
}

func TestGenerate_UsernamePrefix(t *testing.T) {
	opts := DefaultOptions()
	opts.UsernamePrefix = "flash_user_"
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))

	path := filepath.Join(t.TempDir(), "out.csv")
	_, err := New(opts).Generate(context.Background(), path, 1)
	require.NoError(t, err)

	rows := readRows(t, path)
	assert.Equal(t, "flash_user_0001", rows[1][1])
	assert.Equal(t, token.GenerateToken(1, "flash_user_0001"), rows[1][2])
}

func TestGenerate_Cancelled(t *testing.T) {
	m := metrics.New()
	opts := DefaultOptions()
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	opts.Metrics = m

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	path := filepath.Join(t.TempDir(), "out.csv")
	_, err := New(opts).Generate(ctx, path, 100)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, readRows(t, path), 1, "header is kept")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BatchFailures.WithLabelValues(metrics.ReasonCancelled)))
}

type failingSource struct{ failAt int }

func (failingSource) Mode() string { return "failing" }

func (s failingSource) Token(userID int, username string) (string, error) {
	if userID == s.failAt {
		return "", errors.New("boom")
	}
	return token.GenerateToken(userID, username), nil
}

func TestGenerate_SourceError(t *testing.T) {
	m := metrics.New()
	opts := DefaultOptions()
	opts.Source = failingSource{failAt: 3}
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	opts.Metrics = m

	path := filepath.Join(t.TempDir(), "out.csv")
	_, err := New(opts).Generate(context.Background(), path, 10)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "user 3")
	assert.Len(t, readRows(t, path), 3, "rows before the failure are flushed")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BatchFailures.WithLabelValues(metrics.ReasonToken)))
}

func TestGenerate_SignedSource(t *testing.T) {
	signer, err := token.NewSigner(token.SignerOptions{
		Secret:    []byte("integration-test-secret-key-32chars!!"),
		Algorithm: "HS256",
		Role:      "user",
		IssuedAt:  token.MockIssuedAt,
		ExpiresAt: token.MockExpiresAt,
	})
	require.NoError(t, err)

	opts := DefaultOptions()
	opts.Source = signer
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))

	path := filepath.Join(t.TempDir(), "out.csv")
	_, err = New(opts).Generate(context.Background(), path, 3)
	require.NoError(t, err)

	for _, row := range readRows(t, path)[1:] {
		id, err := strconv.Atoi(row[0])
		require.NoError(t, err)
		_, err = signer.Verify(row[2], id, row[1])
		assert.NoError(t, err, "row %d", id)
	}
}

func TestGenerate_Metrics(t *testing.T) {
	m := metrics.New()
	opts := DefaultOptions()
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	opts.Metrics = m

	_, err := New(opts).Generate(context.Background(), filepath.Join(t.TempDir(), "out.csv"), 42)
	require.NoError(t, err)

	assert.Equal(t, 42.0, testutil.ToFloat64(m.RecordsGenerated.WithLabelValues(token.ModeMock)))
	assert.Equal(t, 42.0, testutil.ToFloat64(m.LastBatchRecords))
	assert.Equal(t, 1, testutil.CollectAndCount(m.BatchDuration))

	_, err = New(opts).Generate(context.Background(), filepath.Join(t.TempDir(), "absent", "out.csv"), 1)
	require.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BatchFailures.WithLabelValues(metrics.ReasonOutputUnwritable)))
}

func TestNew_ZeroOptions(t *testing.T) {
	g := New(Options{})
	path := filepath.Join(t.TempDir(), "out.csv")

	_, err := g.Generate(context.Background(), path, 1)
	require.NoError(t, err)
	assert.Equal(t, "seckill_user_0001", readRows(t, path)[1][1])
}
