package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "shinbo_notifier"

// Metrics holds all Prometheus metrics for one run of the notifier.
// Every recorder is safe to call on a nil *Metrics.
type Metrics struct {
	// Execution tracking
	ExecutionStartTime     prometheus.Counter
	ExecutionSuccess       prometheus.Counter
	ExecutionFailure       prometheus.Counter
	ExecutionDurationSecs  prometheus.Histogram
	LastExecutionTimestamp prometheus.Gauge
	LastRunStatus          prometheus.Gauge // 0 = unknown, 1 = success, 2 = failure

	// Per-source scraping
	SourceRunsTotal       *prometheus.CounterVec // labels: source, outcome
	SourceFetchDuration   *prometheus.HistogramVec
	SourceFetchErrors     *prometheus.CounterVec
	SourceAttemptsTotal   *prometheus.CounterVec // labels: source, result
	SourcePostingsCurrent *prometheus.GaugeVec
	PostingsNewTotal      *prometheus.CounterVec

	// Delivery
	DeliveriesTotal        *prometheus.CounterVec // labels: transport, result
	DeliveryDurationSecs   *prometheus.HistogramVec
	MirrorPublishesTotal   *prometheus.CounterVec // labels: notifier, result
	DestinationsRegistered prometheus.Gauge

	// State store
	StoreOperationErrorsTotal *prometheus.CounterVec // labels: operation
	StoreConnectionRetries    prometheus.Histogram

	ErrorsTotal prometheus.Counter

	registry *prometheus.Registry
	pusher   *push.Pusher
}

// NewMetrics creates a new Metrics instance. The pusher is only set up when
// both pushgatewayURL and jobName are non-empty.
func NewMetrics(pushgatewayURL, jobName string) *Metrics {
	m := &Metrics{
		ExecutionStartTime: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "execution_start_total",
			Help:      "Total number of times the notifier started execution",
		}),
		ExecutionSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "execution_success_total",
			Help:      "Total number of completed notifier executions",
		}),
		ExecutionFailure: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "execution_failure_total",
			Help:      "Total number of notifier executions aborted during initialization",
		}),
		ExecutionDurationSecs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Duration of notifier execution in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),
		LastExecutionTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_execution_timestamp_seconds",
			Help:      "Unix timestamp of the last execution",
		}),
		LastRunStatus: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_status",
			Help:      "Last run status: 0=unknown, 1=success, 2=failure",
		}),

		SourceRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_runs_total",
			Help:      "Sources processed, by outcome (ok, untrusted, error)",
		}, []string{"source", "outcome"}),
		SourceFetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "source_fetch_duration_seconds",
			Help:      "Duration of a source page fetch or API attempt in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"source"}),
		SourceFetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_fetch_errors_total",
			Help:      "Failed page fetches or API attempts",
		}, []string{"source"}),
		SourceAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_attempts_total",
			Help:      "Stateful API attempts, by result",
		}, []string{"source", "result"}),
		SourcePostingsCurrent: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "source_postings_current",
			Help:      "Active postings found in the last trustworthy scrape",
		}, []string{"source"}),
		PostingsNewTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "postings_new_total",
			Help:      "Postings detected as new",
		}, []string{"source"}),

		DeliveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Per-destination notification deliveries, by result",
		}, []string{"transport", "result"}),
		DeliveryDurationSecs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_duration_seconds",
			Help:      "Duration of a single notification delivery in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10},
		}, []string{"transport"}),
		MirrorPublishesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mirror_publishes_total",
			Help:      "Publishes to operator mirror channels, by result",
		}, []string{"notifier", "result"}),
		DestinationsRegistered: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "destinations_registered",
			Help:      "Destination tokens read from the registry",
		}),

		StoreOperationErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_operation_errors_total",
			Help:      "State store operation errors",
		}, []string{"operation"}),
		StoreConnectionRetries: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_connection_retries",
			Help:      "Number of attempts to establish the state store connection",
			Buckets:   []float64{1, 2, 3, 5, 10},
		}),

		ErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total number of errors encountered",
		}),
	}

	m.registry = prometheus.NewRegistry()
	m.registry.MustRegister(
		m.ExecutionStartTime,
		m.ExecutionSuccess,
		m.ExecutionFailure,
		m.ExecutionDurationSecs,
		m.LastExecutionTimestamp,
		m.LastRunStatus,
		m.SourceRunsTotal,
		m.SourceFetchDuration,
		m.SourceFetchErrors,
		m.SourceAttemptsTotal,
		m.SourcePostingsCurrent,
		m.PostingsNewTotal,
		m.DeliveriesTotal,
		m.DeliveryDurationSecs,
		m.MirrorPublishesTotal,
		m.DestinationsRegistered,
		m.StoreOperationErrorsTotal,
		m.StoreConnectionRetries,
		m.ErrorsTotal,
	)

	if pushgatewayURL != "" && jobName != "" {
		m.pusher = push.New(pushgatewayURL, jobName).
			Gatherer(m.registry)
	}

	return m
}

// Registry exposes the private registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) RecordExecutionStart() {
	if m == nil {
		return
	}
	m.ExecutionStartTime.Inc()
	m.LastExecutionTimestamp.SetToCurrentTime()
}

// RecordExecutionSuccess marks a run that reached the end of the source loop,
// regardless of individual source failures.
func (m *Metrics) RecordExecutionSuccess(duration time.Duration) {
	if m == nil {
		return
	}
	m.ExecutionSuccess.Inc()
	m.ExecutionDurationSecs.Observe(duration.Seconds())
	m.LastRunStatus.Set(1)
	m.LastExecutionTimestamp.SetToCurrentTime()
}

func (m *Metrics) RecordExecutionFailure(duration time.Duration) {
	if m == nil {
		return
	}
	m.ExecutionFailure.Inc()
	m.ExecutionDurationSecs.Observe(duration.Seconds())
	m.LastRunStatus.Set(2)
	m.LastExecutionTimestamp.SetToCurrentTime()
	m.ErrorsTotal.Inc()
}

// RecordSourceFetch records one HTML page fetch.
func (m *Metrics) RecordSourceFetch(source string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.SourceFetchDuration.WithLabelValues(source).Observe(duration.Seconds())
	if err != nil {
		m.SourceFetchErrors.WithLabelValues(source).Inc()
		m.ErrorsTotal.Inc()
	}
}

// RecordSourceAttempt records one stateful API attempt.
func (m *Metrics) RecordSourceAttempt(source string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.SourceFetchDuration.WithLabelValues(source).Observe(duration.Seconds())
	if err != nil {
		m.SourceFetchErrors.WithLabelValues(source).Inc()
		m.SourceAttemptsTotal.WithLabelValues(source, "failure").Inc()
		m.ErrorsTotal.Inc()
		return
	}
	m.SourceAttemptsTotal.WithLabelValues(source, "success").Inc()
}

// RecordSourceOutcome records how a source ended: ok, untrusted or error.
func (m *Metrics) RecordSourceOutcome(source, outcome string) {
	if m == nil {
		return
	}
	m.SourceRunsTotal.WithLabelValues(source, outcome).Inc()
}

func (m *Metrics) RecordPostings(source string, current, added int) {
	if m == nil {
		return
	}
	m.SourcePostingsCurrent.WithLabelValues(source).Set(float64(current))
	m.PostingsNewTotal.WithLabelValues(source).Add(float64(added))
}

func (m *Metrics) RecordDelivery(transport string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.DeliveryDurationSecs.WithLabelValues(transport).Observe(duration.Seconds())
	if err != nil {
		m.DeliveriesTotal.WithLabelValues(transport, "failure").Inc()
		m.ErrorsTotal.Inc()
		return
	}
	m.DeliveriesTotal.WithLabelValues(transport, "success").Inc()
}

func (m *Metrics) RecordMirrorPublish(notifier string, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.MirrorPublishesTotal.WithLabelValues(notifier, "failure").Inc()
		m.ErrorsTotal.Inc()
		return
	}
	m.MirrorPublishesTotal.WithLabelValues(notifier, "success").Inc()
}

func (m *Metrics) RecordDestinations(count int) {
	if m == nil {
		return
	}
	m.DestinationsRegistered.Set(float64(count))
}

// RecordStoreError records a failed state store operation (get, set, connect).
func (m *Metrics) RecordStoreError(operation string) {
	if m == nil {
		return
	}
	m.StoreOperationErrorsTotal.WithLabelValues(operation).Inc()
	m.ErrorsTotal.Inc()
}

func (m *Metrics) RecordStoreConnectionRetries(attempts int) {
	if m == nil {
		return
	}
	m.StoreConnectionRetries.Observe(float64(attempts))
}

// Push pushes all metrics to the Pushgateway. It is a no-op without a pusher.
func (m *Metrics) Push(ctx context.Context) error {
	if m == nil || m.pusher == nil {
		return nil
	}

	if err := m.pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to pushgateway: %w", err)
	}
	slog.Debug("metrics pushed to pushgateway")
	return nil
}

// Settings is the subset of configuration the metrics package needs.
type Settings struct {
	PushgatewayURL string
	JobName        string
	GroupingKey    string
}

// FromSettings creates Metrics and, when a Pushgateway URL is configured,
// attaches an instance grouping label (hostname unless overridden).
func FromSettings(s Settings) *Metrics {
	if s.PushgatewayURL == "" {
		slog.Debug("metrics: pushgateway not configured, push disabled")
		return NewMetrics("", "")
	}

	jobName := s.JobName
	if jobName == "" {
		jobName = "shinbo-notifier"
	}

	groupingKey := s.GroupingKey
	if groupingKey == "" {
		groupingKey, _ = os.Hostname()
	}

	slog.Info("metrics: pushgateway enabled", "url", s.PushgatewayURL, "job", jobName, "instance", groupingKey)
	m := NewMetrics(s.PushgatewayURL, jobName)
	if groupingKey != "" {
		m.pusher = m.pusher.Grouping("instance", groupingKey)
	}
	return m
}
