// Package metrics records pipeline run counters in a Prometheus registry and
// optionally pushes them to a Pushgateway.
//
// Runs are batch jobs, so nothing is scraped: the CLI observes each finished
// run and pushes the registry once.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/canectors/normalizer/internal/logger"
	"github.com/canectors/normalizer/pkg/connector"
)

// DefaultJob is the Pushgateway job name used when none is configured.
const DefaultJob = "normalizer"

// ErrMissingGateway is returned by Push when no Pushgateway URL is set.
var ErrMissingGateway = errors.New("pushgateway URL is required")

// Recorder holds the run collectors.
type Recorder struct {
	reg *prometheus.Registry

	runs        *prometheus.CounterVec // normalizer_runs_total
	records     *prometheus.CounterVec // normalizer_records_total
	duration    *prometheus.SummaryVec // normalizer_run_duration_seconds
	namesAdded  *prometheus.CounterVec // normalizer_names_added_total
	lastSuccess *prometheus.GaugeVec   // normalizer_last_success_timestamp_seconds
}

// NewRecorder creates a recorder with its own registry.
func NewRecorder() (*Recorder, error) {
	reg := prometheus.NewRegistry()

	r := &Recorder{
		reg: reg,
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "normalizer_runs_total",
				Help: "Pipeline runs, partitioned by pipeline and status.",
			},
			[]string{"pipeline", "status"},
		),
		records: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "normalizer_records_total",
				Help: "Records per pipeline and kind (fetched, delivered, skipped).",
			},
			[]string{"pipeline", "kind"},
		),
		duration: prometheus.NewSummaryVec(
			prometheus.SummaryOpts{
				Name:       "normalizer_run_duration_seconds",
				Help:       "Wall time of pipeline runs in seconds.",
				Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
			},
			[]string{"pipeline", "status"},
		),
		namesAdded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "normalizer_names_added_total",
				Help: "Aliases registered in the canonical-name dictionaries.",
			},
			[]string{"pipeline"},
		),
		lastSuccess: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "normalizer_last_success_timestamp_seconds",
				Help: "Completion time of the last successful run.",
			},
			[]string{"pipeline"},
		),
	}

	for name, c := range map[string]prometheus.Collector{
		"runs counter":    r.runs,
		"records counter": r.records,
		"run summary":     r.duration,
		"names counter":   r.namesAdded,
		"success gauge":   r.lastSuccess,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("metrics: register %s: %w", name, err)
		}
	}
	return r, nil
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.reg }

// Observe records a finished run. Dry runs are not recorded.
func (r *Recorder) Observe(res *connector.RunResult) {
	if res == nil || res.DryRun {
		return
	}
	pipeline := res.PipelineID
	r.runs.WithLabelValues(pipeline, res.Status).Inc()
	r.records.WithLabelValues(pipeline, "fetched").Add(float64(res.Fetched))
	r.records.WithLabelValues(pipeline, "delivered").Add(float64(res.Delivered))
	r.records.WithLabelValues(pipeline, "skipped").Add(float64(res.Skipped))
	r.namesAdded.WithLabelValues(pipeline).Add(float64(res.NamesAdded))
	r.duration.WithLabelValues(pipeline, res.Status).Observe(res.Duration().Seconds())
	if res.Status == connector.StatusSuccess && !res.CompletedAt.IsZero() {
		r.lastSuccess.WithLabelValues(pipeline).Set(float64(res.CompletedAt.Unix()))
	}
}

// Push sends the registry to the Pushgateway at gatewayURL under job.
func (r *Recorder) Push(ctx context.Context, gatewayURL, job string) error {
	if gatewayURL == "" {
		return ErrMissingGateway
	}
	if job == "" {
		job = DefaultJob
	}
	if err := push.New(gatewayURL, job).Gatherer(r.reg).PushContext(ctx); err != nil {
		return fmt.Errorf("metrics: push to %s: %w", gatewayURL, err)
	}
	logger.Debug("metrics pushed", slog.String("gateway", gatewayURL), slog.String("job", job))
	return nil
}
