package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// RotateOptions bounds the size and retention of a log file.
type RotateOptions struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// RotatingWriter is an io.WriteCloser that rotates log files by size.
// Rotated files are named <base>-<timestamp><ext>; retention is enforced
// synchronously on each rotation.
type RotatingWriter struct {
	mu       sync.Mutex
	file     *os.File
	filePath string
	size     int64
	maxBytes int64
	opts     RotateOptions
	now      func() time.Time
}

// NewRotatingWriter opens (or creates) the log file at filePath, creating
// missing parent directories.
func NewRotatingWriter(filePath string, opts RotateOptions) (*RotatingWriter, error) {
	rw := &RotatingWriter{
		filePath: filePath,
		maxBytes: int64(opts.MaxSizeMB) * 1024 * 1024,
		opts:     opts,
		now:      time.Now,
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}
	if err := rw.open(); err != nil {
		return nil, err
	}
	return rw, nil
}

func (rw *RotatingWriter) open() error {
	f, err := os.OpenFile(rw.filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}

	rw.file = f
	rw.size = info.Size()
	return nil
}

// Write implements io.Writer. A write that would push the file past the
// size limit rotates first; a single oversized write still lands whole.
func (rw *RotatingWriter) Write(p []byte) (int, error) {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.size > 0 && rw.size+int64(len(p)) > rw.maxBytes {
		if err := rw.rotate(); err != nil {
			return 0, err
		}
	}

	n, err := rw.file.Write(p)
	rw.size += int64(n)
	return n, err
}

// Close closes the underlying file.
func (rw *RotatingWriter) Close() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if rw.file == nil {
		return nil
	}
	err := rw.file.Close()
	rw.file = nil
	return err
}

func (rw *RotatingWriter) base() (dir, stem, ext string) {
	ext = filepath.Ext(rw.filePath)
	stem = strings.TrimSuffix(filepath.Base(rw.filePath), ext)
	if ext == "" {
		ext = ".log"
	}
	return filepath.Dir(rw.filePath), stem, ext
}

func (rw *RotatingWriter) rotate() error {
	if err := rw.file.Close(); err != nil {
		return fmt.Errorf("closing log file: %w", err)
	}

	dir, stem, ext := rw.base()
	rotated := filepath.Join(dir, fmt.Sprintf("%s-%s%s", stem, rw.now().Format("20060102-150405.000000"), ext))
	if err := os.Rename(rw.filePath, rotated); err != nil {
		return fmt.Errorf("rotating log file: %w", err)
	}

	if err := rw.open(); err != nil {
		return err
	}
	rw.prune()
	return nil
}

// prune removes rotated files beyond MaxBackups and those older than
// MaxAgeDays. Errors are ignored: retention is best effort.
func (rw *RotatingWriter) prune() {
	dir, stem, ext := rw.base()
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}

	prefix := stem + "-"
	current := filepath.Base(rw.filePath)
	var rotated []string
	for _, e := range entries {
		name := e.Name()
		if name != current && strings.HasPrefix(name, prefix) && strings.HasSuffix(name, ext) {
			rotated = append(rotated, name)
		}
	}
	// Timestamps sort lexically, oldest first.
	sort.Strings(rotated)

	for len(rotated) > rw.opts.MaxBackups {
		os.Remove(filepath.Join(dir, rotated[0])) //nolint:errcheck
		rotated = rotated[1:]
	}

	if rw.opts.MaxAgeDays <= 0 {
		return
	}
	cutoff := rw.now().AddDate(0, 0, -rw.opts.MaxAgeDays)
	for _, name := range rotated {
		path := filepath.Join(dir, name)
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			os.Remove(path) //nolint:errcheck
		}
	}
}
