// Package metrics provides internal Prometheus metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector holds the engine's Prometheus instruments.
type Collector struct {
	// Ingestion
	eventsIngested  *prometheus.CounterVec
	eventsRejected  prometheus.Counter
	instancesClosed *prometheus.CounterVec

	// Learning
	templatesCreated   prometheus.Counter
	templatesMatched   prometheus.Counter
	suggestionsEmitted prometheus.Counter
	confidenceUpdates  prometheus.Histogram

	// Execution
	runsStarted    prometheus.Counter
	runsFinished   *prometheus.CounterVec
	stepRetries    prometheus.Counter
	stepDuration   prometheus.Histogram
	approvalWaits  prometheus.Histogram
	activeRunGauge prometheus.Gauge

	logger *zap.Logger
}

// NewCollector creates a metrics collector registered with the default
// registry under the given namespace.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.eventsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_ingested_total",
			Help:      "Observed actions accepted by the normalizer.",
		},
		[]string{"action_type"},
	)
	c.eventsRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_rejected_total",
			Help:      "Raw actions rejected as malformed.",
		},
	)
	c.instancesClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "instances_closed_total",
			Help:      "Workflow instances closed, by disposition.",
		},
		[]string{"disposition"}, // matched, new_template, discarded
	)

	c.templatesCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "templates_created_total",
			Help:      "New workflow templates created from novel instances.",
		},
	)
	c.templatesMatched = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "templates_matched_total",
			Help:      "Closed instances linked to an existing template.",
		},
	)
	c.suggestionsEmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "suggestions_emitted_total",
			Help:      "Automation suggestions emitted to the notification sink.",
		},
	)
	c.confidenceUpdates = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "confidence_score",
			Help:      "Confidence scores written after instance linking.",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		},
	)

	c.runsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_started_total",
			Help:      "Workflow runs started.",
		},
	)
	c.runsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_finished_total",
			Help:      "Workflow runs reaching a terminal status.",
		},
		[]string{"status"},
	)
	c.stepRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_retries_total",
			Help:      "Step executions retried after a failure.",
		},
	)
	c.stepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Wall time of one step execution including retries.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	c.approvalWaits = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "approval_wait_seconds",
			Help:      "Time runs spend paused for approval.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		},
	)
	c.activeRunGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_runs",
			Help:      "Runs currently pending, running, or paused.",
		},
	)

	return c
}

// EventIngested counts one accepted observed action.
func (c *Collector) EventIngested(actionType string) {
	c.eventsIngested.WithLabelValues(actionType).Inc()
}

// EventRejected counts one malformed raw action.
func (c *Collector) EventRejected() { c.eventsRejected.Inc() }

// InstanceClosed counts one closed instance with its disposition:
// "matched", "new_template", or "discarded".
func (c *Collector) InstanceClosed(disposition string) {
	c.instancesClosed.WithLabelValues(disposition).Inc()
}

// TemplateCreated counts one new template.
func (c *Collector) TemplateCreated() { c.templatesCreated.Inc() }

// TemplateMatched counts one instance linked to an existing template.
func (c *Collector) TemplateMatched() { c.templatesMatched.Inc() }

// SuggestionEmitted counts one suggestion event.
func (c *Collector) SuggestionEmitted() { c.suggestionsEmitted.Inc() }

// ConfidenceUpdated records a freshly computed confidence score.
func (c *Collector) ConfidenceUpdated(score float64) {
	c.confidenceUpdates.Observe(score)
}

// RunStarted counts one started run and bumps the active gauge.
func (c *Collector) RunStarted() {
	c.runsStarted.Inc()
	c.activeRunGauge.Inc()
}

// RunFinished counts one terminal run and drops the active gauge.
func (c *Collector) RunFinished(status string) {
	c.runsFinished.WithLabelValues(status).Inc()
	c.activeRunGauge.Dec()
}

// StepRetried counts one step retry.
func (c *Collector) StepRetried() { c.stepRetries.Inc() }

// StepExecuted records the wall time of one step execution.
func (c *Collector) StepExecuted(d time.Duration) {
	c.stepDuration.Observe(d.Seconds())
}

// ApprovalResolved records how long a run waited at an approval pause.
func (c *Collector) ApprovalResolved(wait time.Duration) {
	c.approvalWaits.Observe(wait.Seconds())
}
