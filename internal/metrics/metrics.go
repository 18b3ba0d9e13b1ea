package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hlsconvert_http_requests_total",
			Help: "Total number of status API requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hlsconvert_http_request_duration_seconds",
			Help:    "Status API request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Queue Metrics
	FilesProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hlsconvert_files_processed_total",
			Help: "Total number of source files processed",
		},
		[]string{"status"},
	)

	QueueProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hlsconvert_queue_progress_percent",
			Help: "Overall progress of the current queue run",
		},
	)

	QueueFilesRemaining = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hlsconvert_queue_files_remaining",
			Help: "Files not yet finished in the current queue run",
		},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hlsconvert_stage_duration_seconds",
			Help:    "Duration of pipeline stages in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 16), // 100ms to ~55min
		},
		[]string{"stage"},
	)

	// Encode Metrics
	EncodesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hlsconvert_encodes_total",
			Help: "Total number of rendition encodes",
		},
		[]string{"quality", "backend", "status"},
	)

	EncodeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hlsconvert_encode_duration_seconds",
			Help:    "Rendition encode duration in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1s to ~2.3h
		},
		[]string{"quality", "backend"},
	)

	// Transcription Metrics
	TranscriptionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hlsconvert_transcriptions_total",
			Help: "Total number of transcription attempts",
		},
		[]string{"status"},
	)

	// Upload Metrics
	UploadObjectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hlsconvert_upload_objects_total",
			Help: "Total number of objects uploaded",
		},
		[]string{"status"},
	)

	UploadBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hlsconvert_upload_bytes_total",
			Help: "Total bytes transferred to object storage",
		},
	)

	UploadRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hlsconvert_upload_retries_total",
			Help: "Total number of retried backend or storage calls",
		},
		[]string{"operation"},
	)

	// State Metrics
	StateWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hlsconvert_state_writes_total",
			Help: "Total number of persisted state document writes",
		},
		[]string{"document", "status"},
	)

	// Error Metrics
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hlsconvert_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)
)

// RecordHTTPRequest records HTTP request metrics
func RecordHTTPRequest(method, endpoint, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordFileProcessed records the terminal status of one source file
func RecordFileProcessed(status string) {
	FilesProcessedTotal.WithLabelValues(status).Inc()
}

// UpdateQueueMetrics updates the queue gauges
func UpdateQueueMetrics(progress float64, remaining int) {
	QueueProgress.Set(progress)
	QueueFilesRemaining.Set(float64(remaining))
}

// RecordStage records how long a pipeline stage took
func RecordStage(stage string, duration float64) {
	StageDuration.WithLabelValues(stage).Observe(duration)
}

// RecordEncode records one rendition encode
func RecordEncode(quality, backend, status string, duration float64) {
	EncodesTotal.WithLabelValues(quality, backend, status).Inc()
	if status == "success" {
		EncodeDuration.WithLabelValues(quality, backend).Observe(duration)
	}
}

// RecordTranscription records one transcription attempt
func RecordTranscription(status string) {
	TranscriptionsTotal.WithLabelValues(status).Inc()
}

// RecordUploadObject records one object transfer
func RecordUploadObject(status string, bytesTransferred int64) {
	UploadObjectsTotal.WithLabelValues(status).Inc()
	if bytesTransferred > 0 {
		UploadBytesTotal.Add(float64(bytesTransferred))
	}
}

// RecordUploadRetry records a retried call
func RecordUploadRetry(operation string) {
	UploadRetriesTotal.WithLabelValues(operation).Inc()
}

// RecordStateWrite records a persisted state write
func RecordStateWrite(document, status string) {
	StateWritesTotal.WithLabelValues(document, status).Inc()
}

// RecordError records an error
func RecordError(component, errorType string) {
	ErrorsTotal.WithLabelValues(component, errorType).Inc()
}
