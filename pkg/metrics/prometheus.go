// Package metrics provides Prometheus metrics for the sitwell alert service.
package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace              = "sitwell"
	subsystem              = "engine"
	defaultRefreshInterval = 10 * time.Second
)

// Manager owns every Prometheus collector exported by the service.
type Manager struct {
	enabled         atomic.Bool
	refreshInterval atomic.Int64
	registry        prometheus.Registerer

	// Engine
	framesProcessed    *prometheus.CounterVec
	framesRejected     *prometheus.CounterVec
	notifications      *prometheus.CounterVec
	activeSessions     prometheus.Gauge
	sessionsOpened     prometheus.Counter
	sessionsFinalized  prometheus.Counter
	sessionOpenErrors  prometheus.Counter
	sessionLength      prometheus.Histogram
	duplicateUploads   prometheus.Counter
	calibrationsFailed prometheus.Counter

	// Persistence
	storedSessions   prometheus.Gauge
	persistLatency   prometheus.Histogram
	persistErrors    prometheus.Counter
	snapshotsDropped *prometheus.CounterVec

	// Queue
	queueSize              prometheus.Gauge
	queueCapacity          prometheus.Gauge
	queueUtilization       prometheus.Gauge
	queueEnqueueRate       prometheus.Counter
	queueDequeueRate       prometheus.Counter
	queueEnqueueErrors     prometheus.Counter
	queueProcessingLatency prometheus.Histogram

	// Workers
	workerCount             prometheus.Gauge
	workerActiveCount       prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrors            prometheus.Counter

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	streamConnections   prometheus.Gauge

	// Errors
	errorRateByComponent *prometheus.CounterVec
	errorRateByType      *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // avoids default Go collectors

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{registry: prometheus.DefaultRegisterer}
	m.enabled.Store(true)
	m.refreshInterval.Store(int64(defaultRefreshInterval))

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystem, Name: name, Help: help,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystem, Name: name, Help: help,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: subsystem, Name: name, Help: help,
	})
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: subsystem, Name: name, Help: help, Buckets: buckets,
	})
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	m.framesProcessed = m.counterVec("frames_processed_total", "Frames applied to a session, by phase (calibrating, detecting)", "phase")
	m.framesRejected = m.counterVec("frames_rejected_total", "Malformed frames skipped by sessions, by reason", "reason")
	m.notifications = m.counterVec("notifications_total", "Alert notifications emitted by the dispatcher", "channel", "reason")
	m.activeSessions = m.gauge("active_sessions", "Sessions currently receiving frames")
	m.sessionsOpened = m.counter("sessions_opened_total", "Sessions created")
	m.sessionsFinalized = m.counter("sessions_finalized_total", "Sessions finalized")
	m.sessionOpenErrors = m.counter("session_open_errors_total", "Sessions rejected at start because of invalid settings")
	m.sessionLength = m.histogram("session_length_frames", "Total frames per finalized session",
		prometheus.ExponentialBuckets(15, 4, 10))
	m.duplicateUploads = m.counter("duplicate_uploads_total", "Recording uploads answered from the dedupe cache")
	m.calibrationsFailed = m.counter("calibrations_without_baseline_total", "Calibrations that produced no usable baseline field")

	m.storedSessions = m.gauge("stored_sessions", "Session records held by the store")
	m.persistLatency = m.histogram("persist_latency_milliseconds", "Latency of session snapshot saves", prometheus.DefBuckets)
	m.persistErrors = m.counter("persist_errors_total", "Failed session snapshot saves")
	m.snapshotsDropped = m.counterVec("snapshots_dropped_total", "Snapshots not enqueued, retried on a later frame", "reason")

	m.queueSize = m.gauge("queue_size", "Current size of the snapshot queue")
	m.queueCapacity = m.gauge("queue_capacity", "Maximum capacity of the snapshot queue")
	m.queueUtilization = m.gauge("queue_utilization_ratio", "Snapshot queue utilization (0.0 to 1.0)")
	m.queueEnqueueRate = m.counter("queue_enqueue_total", "Snapshots enqueued")
	m.queueDequeueRate = m.counter("queue_dequeue_total", "Snapshots dequeued")
	m.queueEnqueueErrors = m.counter("queue_enqueue_errors_total", "Snapshot enqueue failures")
	m.queueProcessingLatency = m.histogram("queue_processing_latency_milliseconds", "Snapshot enqueue latency", prometheus.DefBuckets)

	m.workerCount = m.gauge("worker_count", "Configured persistence workers")
	m.workerActiveCount = m.gauge("worker_active_count", "Running persistence workers")
	m.workerProcessingLatency = m.histogram("worker_processing_latency_milliseconds", "Worker snapshot processing latency", prometheus.DefBuckets)
	m.workerErrors = m.counter("worker_errors_total", "Worker processing errors")

	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: subsystem, Name: "http_request_duration_milliseconds",
		Help: "HTTP request duration in milliseconds", Buckets: prometheus.DefBuckets,
	}, []string{"endpoint", "method", "status_code"})
	m.streamConnections = m.gauge("stream_connections", "Open websocket frame streams")

	m.errorRateByComponent = m.counterVec("errors_by_component_total", "Errors by component", "component", "error_type")
	m.errorRateByType = m.counterVec("errors_by_type_total", "Errors by type and severity", "error_type", "severity")
	m.errorRateByEndpoint = m.counterVec("errors_by_endpoint_total", "Errors by HTTP endpoint", "endpoint", "method", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "System memory usage in bytes")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_time_milliseconds", "GC pause time in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000})
}

func on() bool { return globalManager != nil && globalManager.enabled.Load() }

// RecordFrameProcessed counts a frame applied in the given phase.
func RecordFrameProcessed(phase string) {
	if on() {
		globalManager.framesProcessed.WithLabelValues(phase).Inc()
	}
}

// RecordFrameRejected counts a malformed frame.
func RecordFrameRejected(reason string) {
	if on() {
		globalManager.framesRejected.WithLabelValues(reason).Inc()
	}
}

// RecordNotification counts a dispatched alert.
func RecordNotification(channel, reason string) {
	if on() {
		globalManager.notifications.WithLabelValues(channel, reason).Inc()
	}
}

// UpdateActiveSessions sets the active session gauge.
func UpdateActiveSessions(count int) {
	if on() {
		globalManager.activeSessions.Set(float64(count))
	}
}

// RecordSessionOpened counts a created session.
func RecordSessionOpened() {
	if on() {
		globalManager.sessionsOpened.Inc()
	}
}

// RecordSessionFinalized counts a finalized session and observes its length.
func RecordSessionFinalized(totalFrames int) {
	if on() {
		globalManager.sessionsFinalized.Inc()
		globalManager.sessionLength.Observe(float64(totalFrames))
	}
}

// RecordSessionOpenError counts a session rejected at start.
func RecordSessionOpenError() {
	if on() {
		globalManager.sessionOpenErrors.Inc()
	}
}

// RecordDuplicateUpload counts a replayed upload.
func RecordDuplicateUpload() {
	if on() {
		globalManager.duplicateUploads.Inc()
	}
}

// RecordCalibrationWithoutBaseline counts a calibration where a baseline field stayed empty.
func RecordCalibrationWithoutBaseline() {
	if on() {
		globalManager.calibrationsFailed.Inc()
	}
}

// UpdateStoredSessions sets the number of stored session records.
func UpdateStoredSessions(count int) {
	if on() {
		globalManager.storedSessions.Set(float64(count))
	}
}

// RecordPersistLatency observes a snapshot save latency.
func RecordPersistLatency(latencyMs float64) {
	if on() {
		globalManager.persistLatency.Observe(latencyMs)
	}
}

// RecordPersistError counts a failed snapshot save.
func RecordPersistError() {
	if on() {
		globalManager.persistErrors.Inc()
	}
}

// RecordSnapshotDropped counts a snapshot that could not be enqueued.
func RecordSnapshotDropped(reason string) {
	if on() {
		globalManager.snapshotsDropped.WithLabelValues(reason).Inc()
	}
}

// UpdateQueueSize sets the queue size gauge.
func UpdateQueueSize(size int) {
	if on() {
		globalManager.queueSize.Set(float64(size))
	}
}

// UpdateQueueCapacity sets the queue capacity gauge.
func UpdateQueueCapacity(capacity int) {
	if on() {
		globalManager.queueCapacity.Set(float64(capacity))
	}
}

// UpdateQueueUtilization sets the queue utilization ratio.
func UpdateQueueUtilization(utilization float64) {
	if on() {
		globalManager.queueUtilization.Set(utilization)
	}
}

// RecordQueueEnqueue counts an enqueue.
func RecordQueueEnqueue() {
	if on() {
		globalManager.queueEnqueueRate.Inc()
	}
}

// RecordQueueDequeue counts a dequeue.
func RecordQueueDequeue() {
	if on() {
		globalManager.queueDequeueRate.Inc()
	}
}

// RecordQueueEnqueueError counts a failed enqueue.
func RecordQueueEnqueueError() {
	if on() {
		globalManager.queueEnqueueErrors.Inc()
	}
}

// RecordQueueProcessingLatency observes enqueue latency.
func RecordQueueProcessingLatency(latencyMs float64) {
	if on() {
		globalManager.queueProcessingLatency.Observe(latencyMs)
	}
}

// UpdateWorkerCount sets the configured worker gauge.
func UpdateWorkerCount(count int) {
	if on() {
		globalManager.workerCount.Set(float64(count))
	}
}

// UpdateWorkerActiveCount sets the running worker gauge.
func UpdateWorkerActiveCount(count int) {
	if on() {
		globalManager.workerActiveCount.Set(float64(count))
	}
}

// RecordWorkerProcessingLatency observes worker latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	if on() {
		globalManager.workerProcessingLatency.Observe(latencyMs)
	}
}

// RecordWorkerError counts a worker error.
func RecordWorkerError() {
	if on() {
		globalManager.workerErrors.Inc()
	}
}

// RecordHTTPRequest counts an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	if on() {
		globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
	}
}

// RecordHTTPRequestDuration observes an HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	if on() {
		globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
	}
}

// AddStreamConnections adjusts the open stream gauge by delta.
func AddStreamConnections(delta int) {
	if on() {
		globalManager.streamConnections.Add(float64(delta))
	}
}

// RecordErrorByComponent counts an error for a component.
func RecordErrorByComponent(component, errorType string) {
	if on() {
		globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
	}
}

// RecordErrorByType counts an error by type and severity.
func RecordErrorByType(errorType, severity string) {
	if on() {
		globalManager.errorRateByType.WithLabelValues(errorType, severity).Inc()
	}
}

// RecordErrorByEndpoint counts an error for an HTTP endpoint.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	if on() {
		globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
	}
}

// UpdateSystemMemoryUsage sets the memory gauge.
func UpdateSystemMemoryUsage(bytes uint64) {
	if on() {
		globalManager.systemMemoryUsage.Set(float64(bytes))
	}
}

// UpdateSystemGoroutineCount sets the goroutine gauge.
func UpdateSystemGoroutineCount(count int) {
	if on() {
		globalManager.systemGoroutineCount.Set(float64(count))
	}
}

// RecordSystemGCPauseTime observes an average GC pause.
func RecordSystemGCPauseTime(pauseMs float64) {
	if on() {
		globalManager.systemGCPauseTime.Observe(pauseMs)
	}
}

// GetRegistry returns the registry backing the global manager.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

// RefreshInterval returns how often system gauges should be sampled.
func RefreshInterval() time.Duration {
	if globalManager == nil {
		return defaultRefreshInterval
	}
	return time.Duration(globalManager.refreshInterval.Load())
}
