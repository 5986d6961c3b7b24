// Package metrics records pipeline run metrics with Prometheus and pushes
// them to a Pushgateway when a run finishes.
//
// Cleaning runs are batch jobs that may exit before a scrape happens, so the
// registry is pushed on RunFinished. The same registry is also served over
// HTTP for the long-running API server.
package metrics

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/liamcoop/curation/rules"
)

type Config struct {
	// JobName is the Pushgateway "job" grouping key
	JobName string
	// GatewayURL disables pushing when empty, e.g. http://pushgateway:9091
	GatewayURL string
}

// Backend implements rules.Observer on a private Prometheus registry.
type Backend struct {
	gatewayURL string
	jobName    string
	reg        *prometheus.Registry
	logger     *slog.Logger

	ruleCounter  *prometheus.CounterVec   // curation_rule_total
	ruleDuration *prometheus.HistogramVec // curation_rule_duration_seconds
	jobCounter   *prometheus.CounterVec   // curation_query_jobs_total
	runCounter   *prometheus.CounterVec   // curation_runs_total
	lastRun      *prometheus.GaugeVec     // curation_last_run_timestamp_seconds
}

var _ rules.Observer = (*Backend)(nil)

func NewBackend(cfg Config, logger *slog.Logger) (*Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	jobName := cfg.JobName
	if jobName == "" {
		jobName = "curation"
	}

	reg := prometheus.NewRegistry()
	b := &Backend{
		gatewayURL: cfg.GatewayURL,
		jobName:    jobName,
		reg:        reg,
		logger:     logger,
		ruleCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "curation_rule_total",
				Help: "Cleaning rules executed, partitioned by rule and status.",
			},
			[]string{"rule", "status"},
		),
		ruleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "curation_rule_duration_seconds",
				Help:    "Wall time of a cleaning rule including setup and all of its jobs.",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12),
			},
			[]string{"rule", "status"},
		),
		jobCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "curation_query_jobs_total",
				Help: "Warehouse query jobs, partitioned by rule and terminal state.",
			},
			[]string{"rule", "state"},
		),
		runCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "curation_runs_total",
				Help: "Pipeline runs, partitioned by dataset and status.",
			},
			[]string{"dataset", "status"},
		),
		lastRun: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "curation_last_run_timestamp_seconds",
				Help: "Finish time of the last pipeline run per dataset and status.",
			},
			[]string{"dataset", "status"},
		),
	}

	for name, c := range map[string]prometheus.Collector{
		"rule counter":  b.ruleCounter,
		"rule duration": b.ruleDuration,
		"job counter":   b.jobCounter,
		"run counter":   b.runCounter,
		"last run":      b.lastRun,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("metrics: register %s: %w", name, err)
		}
	}
	return b, nil
}

func (b *Backend) RuleFinished(run *rules.PipelineRun, summary rules.RuleSummary) {
	status := statusLabel(summary.Succeeded)
	b.ruleCounter.WithLabelValues(summary.Rule, status).Inc()
	b.ruleDuration.WithLabelValues(summary.Rule, status).Observe(summary.Duration.Seconds())
}

// RunFinished counts the run's jobs and pushes the registry.
func (b *Backend) RunFinished(run *rules.PipelineRun) {
	for _, job := range run.Jobs {
		b.jobCounter.WithLabelValues(job.Rule, string(job.State)).Inc()
	}
	status := run.Status()
	b.runCounter.WithLabelValues(run.Target.DatasetID, status).Inc()
	b.lastRun.WithLabelValues(run.Target.DatasetID, status).Set(float64(run.FinishedAt.Unix()))

	if err := b.Flush(); err != nil {
		b.logger.Warn("failed to push metrics", "run_id", run.ID, "gateway", b.gatewayURL, "error", err)
	}
}

// Flush pushes the current registry to the Pushgateway.
func (b *Backend) Flush() error {
	if b.gatewayURL == "" {
		return nil
	}
	return push.New(b.gatewayURL, b.jobName).
		Gatherer(b.reg).
		Push()
}

// Handler serves the registry in the Prometheus exposition format.
func (b *Backend) Handler() http.Handler {
	return promhttp.HandlerFor(b.reg, promhttp.HandlerOpts{})
}

func statusLabel(ok bool) string {
	if ok {
		return string(rules.JobSucceeded)
	}
	return string(rules.JobFailed)
}
