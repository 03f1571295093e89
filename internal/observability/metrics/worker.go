package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/akarpov/archivarius/internal/core/domain"
)

type WorkerMetrics struct {
	registry *prometheus.Registry

	jobsSettled     *prometheus.CounterVec
	stageTotal      *prometheus.CounterVec
	stageDuration   *prometheus.HistogramVec
	stageRetries    *prometheus.CounterVec
	processInFlight prometheus.Gauge
	queueLag        *prometheus.HistogramVec
	appendConflicts *prometheus.CounterVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	jobsSettled := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "archv",
			Subsystem: "worker",
			Name:      "jobs_settled_total",
			Help:      "Jobs that reached a resting state, by final status.",
		},
		[]string{"service", "status"},
	)
	stageTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "archv",
			Subsystem: "worker",
			Name:      "stage_total",
			Help:      "Stage executions by stage and outcome.",
		},
		[]string{"service", "stage", "outcome"},
	)
	stageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "archv",
			Subsystem: "worker",
			Name:      "stage_duration_seconds",
			Help:      "Stage execution duration in seconds, retries included.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "stage"},
	)
	stageRetries := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "archv",
			Subsystem: "worker",
			Name:      "stage_retries_total",
			Help:      "Failed stage attempts that were retried.",
		},
		[]string{"service", "stage"},
	)
	processInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "archv",
			Subsystem: "worker",
			Name:      "documents_in_flight",
			Help:      "Number of documents currently being processed.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	queueLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "archv",
			Subsystem: "worker",
			Name:      "queue_lag_seconds",
			Help:      "Delay between job enqueue and worker pickup.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service"},
	)
	appendConflicts := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "archv",
			Subsystem: "ledger",
			Name:      "append_conflicts_total",
			Help:      "Audit appends that raced for a sequence number and were retried.",
		},
		[]string{"service"},
	)

	registry.MustRegister(jobsSettled, stageTotal, stageDuration, stageRetries, processInFlight, queueLag, appendConflicts)

	return &WorkerMetrics{
		registry:        registry,
		jobsSettled:     jobsSettled,
		stageTotal:      stageTotal,
		stageDuration:   stageDuration,
		stageRetries:    stageRetries,
		processInFlight: processInFlight,
		queueLag:        queueLag,
		appendConflicts: appendConflicts,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartDocument() {
	m.processInFlight.Inc()
}

func (m *WorkerMetrics) FinishDocument(service string, status domain.JobStatus) {
	m.processInFlight.Dec()
	m.jobsSettled.WithLabelValues(service, string(status)).Inc()
}

func (m *WorkerMetrics) ObserveStage(service string, stage domain.Stage, outcome string, duration time.Duration) {
	m.stageTotal.WithLabelValues(service, string(stage), outcome).Inc()
	m.stageDuration.WithLabelValues(service, string(stage)).Observe(duration.Seconds())
}

func (m *WorkerMetrics) RecordRetry(service string, stage domain.Stage) {
	m.stageRetries.WithLabelValues(service, string(stage)).Inc()
}

func (m *WorkerMetrics) RecordAppendConflict(service string) {
	m.appendConflicts.WithLabelValues(service).Inc()
}

func (m *WorkerMetrics) ObserveQueueLag(service string, lag time.Duration) {
	if lag < 0 {
		return
	}
	m.queueLag.WithLabelValues(service).Observe(lag.Seconds())
}
