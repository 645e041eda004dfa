// Package metrics provides Prometheus instrumentation for token generation
// runs. A generation run is a short-lived process, so instead of serving a
// scrape endpoint the collectors are written to a node_exporter textfile.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds the generator's metrics on a private registry.
type Collector struct {
	Registry *prometheus.Registry

	// RecordsGenerated counts rows written by token mode.
	RecordsGenerated *prometheus.CounterVec

	// BatchDuration observes wall-clock time of a whole batch in seconds.
	BatchDuration prometheus.Histogram

	// LastBatchRecords is the record count of the last successful batch.
	LastBatchRecords prometheus.Gauge

	// LastSuccess is the unix time of the last successful batch.
	LastSuccess prometheus.Gauge

	// BatchFailures counts failed batches by reason.
	BatchFailures *prometheus.CounterVec
}

// Failure reasons used as BatchFailures label values.
const (
	ReasonOutputUnwritable = "output_unwritable"
	ReasonCancelled        = "cancelled"
	ReasonToken            = "token"
)

// New creates a Collector with all collectors registered.
func New() *Collector {
	c := &Collector{
		Registry: prometheus.NewRegistry(),
		RecordsGenerated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tokengen_records_generated_total",
				Help: "Total token records written",
			},
			[]string{"mode"},
		),
		BatchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tokengen_batch_duration_seconds",
				Help:    "Time to generate a full token batch in seconds",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
			},
		),
		LastBatchRecords: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tokengen_last_batch_records",
				Help: "Records written by the last successful batch",
			},
		),
		LastSuccess: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tokengen_last_success_timestamp_seconds",
				Help: "Unix time of the last successful batch",
			},
		),
		BatchFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tokengen_batch_failures_total",
				Help: "Total failed token batches",
			},
			[]string{"reason"},
		),
	}
	c.Registry.MustRegister(
		c.RecordsGenerated,
		c.BatchDuration,
		c.LastBatchRecords,
		c.LastSuccess,
		c.BatchFailures,
	)
	return c
}

// ObserveSuccess records a completed batch.
func (c *Collector) ObserveSuccess(records int, elapsed time.Duration, at time.Time) {
	c.BatchDuration.Observe(elapsed.Seconds())
	c.LastBatchRecords.Set(float64(records))
	c.LastSuccess.Set(float64(at.Unix()))
}

// WriteTextfile writes all metrics in the text exposition format. The file
// is replaced atomically so node_exporter never reads a partial file.
func (c *Collector) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, c.Registry)
}
