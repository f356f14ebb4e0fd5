package metrics

import (
	"database/sql"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	metricPrefix = "residence_"

	resultSuccess = "success"
	resultError   = "error"
	resultPartial = "partial"

	transitionPaid    = "paid"
	transitionExpired = "expired"
)

var (
	registerOnce sync.Once

	chargeGenerateTotal   *prometheus.CounterVec
	chargeGenerateLatency *prometheus.HistogramVec
	chargesCreated        prometheus.Counter
	chargeCreateFailures  prometheus.Counter
	chargeTransitions     *prometheus.CounterVec

	closingTotal   *prometheus.CounterVec
	closingLatency *prometheus.HistogramVec

	closingExportTotal   *prometheus.CounterVec
	closingExportLatency *prometheus.HistogramVec

	fundMovementsTotal *prometheus.CounterVec

	jobRunsTotal   *prometheus.CounterVec
	jobRunsLatency *prometheus.HistogramVec

	outboxPublishTotal    *prometheus.CounterVec
	outboxPublishLatency  *prometheus.HistogramVec
	outboxDispatchTotal   *prometheus.CounterVec
	outboxDispatchLatency *prometheus.HistogramVec
	outboxDispatchEvents  *prometheus.CounterVec

	consumerLag *prometheus.GaugeVec

	httpRequests *prometheus.CounterVec
)

// Init registers billing metrics and DB-backed gauges.
func Init(db *sql.DB, logger *zap.Logger) {
	registerOnce.Do(func() {
		chargeGenerateTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "charge_generate_total",
				Help: "Total charge generation batches by result",
			},
			[]string{"result"},
		)
		chargeGenerateLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "charge_generate_latency_seconds",
				Help:    "Charge generation batch latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		chargesCreated = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "charges_created_total",
				Help: "Total charges created",
			},
		)
		chargeCreateFailures = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "charge_create_failures_total",
				Help: "Total per-account charge creation failures inside batches",
			},
		)
		chargeTransitions = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "charge_transitions_total",
				Help: "Total charge lifecycle transitions by kind and result",
			},
			[]string{"transition", "result"},
		)

		closingTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "closing_total",
				Help: "Total period closings by type and result",
			},
			[]string{"type", "result"},
		)
		closingLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "closing_latency_seconds",
				Help:    "Period closing latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"type", "result"},
		)

		closingExportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "closing_export_total",
				Help: "Total closing export operations by format and result",
			},
			[]string{"format", "result"},
		)
		closingExportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "closing_export_latency_seconds",
				Help:    "Closing export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		fundMovementsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "fund_movements_total",
				Help: "Total fund movements by kind and result",
			},
			[]string{"kind", "result"},
		)

		jobRunsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "job_runs_total",
				Help: "Total scheduled job runs by job and result",
			},
			[]string{"job", "result"},
		)
		jobRunsLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "job_runs_latency_seconds",
				Help:    "Scheduled job latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"job"},
		)

		outboxPublishTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "outbox_publish_total",
				Help: "Total outbox publish operations by result",
			},
			[]string{"result"},
		)
		outboxPublishLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "outbox_publish_latency_seconds",
				Help:    "Outbox publish latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		outboxDispatchTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "outbox_dispatch_total",
				Help: "Total outbox dispatch runs by result",
			},
			[]string{"result"},
		)
		outboxDispatchLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "outbox_dispatch_latency_seconds",
				Help:    "Outbox dispatch latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		outboxDispatchEvents = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "outbox_dispatch_events_total",
				Help: "Total dispatched outbox events by outcome",
			},
			[]string{"outcome"},
		)

		consumerLag = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "event_consumer_lag_seconds",
				Help: "Consumer processing lag in seconds",
			},
			[]string{"consumer"},
		)

		httpRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "http_requests_total",
				Help: "Total HTTP requests by method and status class",
			},
			[]string{"method", "status"},
		)

		prometheus.MustRegister(
			chargeGenerateTotal,
			chargeGenerateLatency,
			chargesCreated,
			chargeCreateFailures,
			chargeTransitions,
			closingTotal,
			closingLatency,
			closingExportTotal,
			closingExportLatency,
			fundMovementsTotal,
			jobRunsTotal,
			jobRunsLatency,
			outboxPublishTotal,
			outboxPublishLatency,
			outboxDispatchTotal,
			outboxDispatchLatency,
			outboxDispatchEvents,
			consumerLag,
			httpRequests,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveChargeGenerate records a generation batch outcome.
func ObserveChargeGenerate(result string, duration time.Duration, created, failed int) {
	if result == "" {
		result = resultSuccess
	}
	if chargeGenerateTotal != nil {
		chargeGenerateTotal.WithLabelValues(result).Inc()
	}
	if chargeGenerateLatency != nil {
		chargeGenerateLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
	if chargesCreated != nil && created > 0 {
		chargesCreated.Add(float64(created))
	}
	if chargeCreateFailures != nil && failed > 0 {
		chargeCreateFailures.Add(float64(failed))
	}
}

// IncChargeTransition increments the lifecycle transition counter.
func IncChargeTransition(transition, result string) {
	if transition == "" {
		transition = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if chargeTransitions != nil {
		chargeTransitions.WithLabelValues(transition, result).Inc()
	}
}

// ObserveClosing records closing latency and result.
func ObserveClosing(closingType, result string, duration time.Duration) {
	if closingType == "" {
		closingType = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if closingTotal != nil {
		closingTotal.WithLabelValues(closingType, result).Inc()
	}
	if closingLatency != nil {
		closingLatency.WithLabelValues(closingType, result).Observe(duration.Seconds())
	}
}

// ObserveClosingExport records export latency and result.
func ObserveClosingExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if closingExportTotal != nil {
		closingExportTotal.WithLabelValues(format, result).Inc()
	}
	if closingExportLatency != nil {
		closingExportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// IncFundMovement increments the fund movement counter.
func IncFundMovement(kind, result string) {
	if kind == "" {
		kind = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if fundMovementsTotal != nil {
		fundMovementsTotal.WithLabelValues(kind, result).Inc()
	}
}

// ObserveJobRun records a scheduled job run.
func ObserveJobRun(job, result string, duration time.Duration) {
	if job == "" {
		job = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if jobRunsTotal != nil {
		jobRunsTotal.WithLabelValues(job, result).Inc()
	}
	if jobRunsLatency != nil {
		jobRunsLatency.WithLabelValues(job).Observe(duration.Seconds())
	}
}

// ObserveOutboxPublish records outbox publish latency and result.
func ObserveOutboxPublish(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if outboxPublishTotal != nil {
		outboxPublishTotal.WithLabelValues(result).Inc()
	}
	if outboxPublishLatency != nil {
		outboxPublishLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// ObserveOutboxDispatch records a dispatch run and its per-event outcomes.
func ObserveOutboxDispatch(result string, duration time.Duration, sent, failed, dlq int) {
	if result == "" {
		result = resultSuccess
	}
	if outboxDispatchTotal != nil {
		outboxDispatchTotal.WithLabelValues(result).Inc()
	}
	if outboxDispatchLatency != nil {
		outboxDispatchLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
	if outboxDispatchEvents == nil {
		return
	}
	if sent > 0 {
		outboxDispatchEvents.WithLabelValues("sent").Add(float64(sent))
	}
	if failed > 0 {
		outboxDispatchEvents.WithLabelValues("failed").Add(float64(failed))
	}
	if dlq > 0 {
		outboxDispatchEvents.WithLabelValues("dlq").Add(float64(dlq))
	}
}

// ObserveConsumerLag sets consumer lag in seconds.
func ObserveConsumerLag(consumer string, lag time.Duration) {
	if consumer == "" {
		consumer = "unknown"
	}
	if lag < 0 {
		lag = 0
	}
	if consumerLag != nil {
		consumerLag.WithLabelValues(consumer).Set(lag.Seconds())
	}
}

// IncHTTPRequest increments the request counter.
func IncHTTPRequest(method, status string) {
	if httpRequests != nil {
		httpRequests.WithLabelValues(method, status).Inc()
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
	ResultPartial = resultPartial

	TransitionPaid    = transitionPaid
	TransitionExpired = transitionExpired
)
