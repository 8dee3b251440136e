// Package metrics provides Prometheus instrumentation for token computations.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	cacheResultHit  = "hit"
	cacheResultMiss = "miss"
)

// Recorder collects metrics of one process on a private registry, so several
// recorders never collide.
type Recorder struct {
	registry *prometheus.Registry

	filesProcessed  *prometheus.CounterVec
	cacheLookups    *prometheus.CounterVec
	fileIssues      *prometheus.CounterVec
	computeDuration *prometheus.HistogramVec
	selectedTokens  prometheus.Gauge
}

// NewRecorder constructs a Recorder with its own registry.
func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	return &Recorder{
		registry: registry,
		filesProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ctxload_files_processed_total",
				Help: "Total number of files token-estimated or served from cache",
			},
			[]string{"estimator"},
		),
		cacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ctxload_cache_lookups_total",
				Help: "Token cache lookups by result",
			},
			[]string{"estimator", "result"},
		),
		fileIssues: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ctxload_file_issues_total",
				Help: "File-scoped failures by kind",
			},
			[]string{"kind"},
		),
		computeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ctxload_compute_duration_seconds",
				Help:    "Duration of a complete workspace computation",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"estimator"},
		),
		selectedTokens: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "ctxload_selected_tokens",
				Help: "Token total of the current selection",
			},
		),
	}
}

// Registry returns the registry holding the recorder's collectors.
func (recorder *Recorder) Registry() *prometheus.Registry {
	if recorder == nil {
		return nil
	}
	return recorder.registry
}

// RecordFile counts one processed file and its cache outcome.
func (recorder *Recorder) RecordFile(estimator string, cacheHit bool) {
	if recorder == nil {
		return
	}
	recorder.filesProcessed.WithLabelValues(estimator).Inc()
	result := cacheResultMiss
	if cacheHit {
		result = cacheResultHit
	}
	recorder.cacheLookups.WithLabelValues(estimator, result).Inc()
}

// RecordIssue counts one file-scoped failure.
func (recorder *Recorder) RecordIssue(kind string) {
	if recorder == nil {
		return
	}
	recorder.fileIssues.WithLabelValues(kind).Inc()
}

// ObserveCompute records the duration of one workspace computation.
func (recorder *Recorder) ObserveCompute(estimator string, duration time.Duration) {
	if recorder == nil {
		return
	}
	recorder.computeDuration.WithLabelValues(estimator).Observe(duration.Seconds())
}

// SetSelectedTokens records the token total of the current selection.
func (recorder *Recorder) SetSelectedTokens(total int) {
	if recorder == nil {
		return
	}
	recorder.selectedTokens.Set(float64(total))
}

// WriteTextfile writes every metric to path in the Prometheus text format, for
// the node exporter textfile collector.
func (recorder *Recorder) WriteTextfile(path string) error {
	if recorder == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, recorder.registry); err != nil {
		return fmt.Errorf("write metrics to %s: %w", path, err)
	}
	return nil
}
