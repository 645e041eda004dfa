// Package progress emits periodic progress notices while a batch is written.
package progress

import (
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// Reporter logs a start notice and then a notice every N records and/or
// every interval, whichever fires first. It is not safe for concurrent use
// by more than one batch: Start must be called once, followed by exactly one
// Record call per record in order.
type Reporter struct {
	logger *slog.Logger
	total  int
	s      rate.Sometimes
}

// New returns a Reporter for a batch of total records. every <= 0 disables
// count-based notices; interval <= 0 disables time-based notices.
func New(logger *slog.Logger, total, every int, interval time.Duration) *Reporter {
	if every < 0 {
		every = 0
	}
	if interval < 0 {
		interval = 0
	}
	return &Reporter{
		logger: logger,
		total:  total,
		// The start notice consumes call 0, so record n is call n and the
		// Every filter fires on exact multiples.
		s: rate.Sometimes{Every: every, Interval: interval},
	}
}

// Start logs the opening notice.
func (r *Reporter) Start(path string) {
	r.s.Do(func() {
		r.logger.Info("generating seckill test tokens", "records", r.total, "path", path)
	})
}

// Record reports that record n (1-based) has been written.
func (r *Reporter) Record(n int) {
	r.s.Do(func() {
		r.logger.Info("generation progress", "written", n, "total", r.total)
	})
}
