package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "code"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "code"},
	)

	// Kafka
	kafkaMessagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_sent_total",
			Help: "Total number of Kafka messages successfully sent.",
		},
		[]string{"topic"},
	)
	kafkaMessagesProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_processed_total",
			Help: "Total number of Kafka messages successfully processed.",
		},
		[]string{"topic"},
	)
	kafkaErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_errors_total",
			Help: "Total number of Kafka-related errors.",
		},
		[]string{"component", "operation"},
	)
	kafkaConsumerLag = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kafka_consumer_lag",
			Help: "Kafka consumer lag (high watermark - current offset - 1).",
		},
		[]string{"topic", "partition"},
	)

	// Sync pipeline
	syncEnqueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_enqueue_total",
			Help: "Document sync enqueue attempts by result (enqueued, failed).",
		},
		[]string{"result"},
	)
	syncRegistrations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_registrations_total",
			Help: "Central document registrations by result.",
		},
		[]string{"result"},
	)
	syncConfirmations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_confirmations_total",
			Help: "Confirmations applied on the clinic side by outcome.",
		},
		[]string{"outcome"},
	)
	syncRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_retries_total",
			Help: "Retry scheduler actions by result (resent, failed, cancelled).",
		},
		[]string{"result"},
	)
	syncSweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sync_retry_sweep_duration_seconds",
			Help:    "Duration of a retry scheduler sweep.",
			Buckets: prometheus.DefBuckets,
		},
	)
	syncLagSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sync_pending_age_seconds",
			Help:    "Time from enqueue to successful confirmation.",
			Buckets: []float64{1, 10, 60, 300, 900, 1800, 3600, 7200, 21600, 86400},
		},
	)
	syncPendingRecords = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sync_pending_records",
			Help: "Current count of sync_pending rows by state.",
		},
		[]string{"state"},
	)

	// Access requests
	accessDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "access_request_decisions_total",
			Help: "Approve/reject calls by action and result.",
		},
		[]string{"action", "result"},
	)
	accessSubmissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "access_request_submissions_total",
			Help: "Access request submissions by result.",
		},
		[]string{"result"},
	)
	accessRequests = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "access_requests",
			Help: "Current count of access_requests rows by state.",
		},
		[]string{"state"},
	)
)

var registerOnce sync.Once

func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,

			kafkaMessagesSent,
			kafkaMessagesProcessed,
			kafkaErrors,
			kafkaConsumerLag,

			syncEnqueued,
			syncRegistrations,
			syncConfirmations,
			syncRetries,
			syncSweepDuration,
			syncLagSeconds,
			syncPendingRecords,

			accessDecisions,
			accessSubmissions,
			accessRequests,
		)
		registerRedisMetrics()
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}

// --- HTTP ---
func ObserveHTTPRequest(method, route, code string, d time.Duration) {
	httpRequests.WithLabelValues(method, route, code).Inc()
	httpDuration.WithLabelValues(method, route, code).Observe(d.Seconds())
}

// --- Kafka ---
func IncKafkaSent(topic string)      { kafkaMessagesSent.WithLabelValues(topic).Inc() }
func IncKafkaProcessed(topic string) { kafkaMessagesProcessed.WithLabelValues(topic).Inc() }
func IncKafkaError(component, operation string) {
	kafkaErrors.WithLabelValues(component, operation).Inc()
}
func SetKafkaConsumerLag(topic string, partition int32, lag int64) {
	if lag < 0 {
		lag = 0
	}
	kafkaConsumerLag.WithLabelValues(topic, strconv.FormatInt(int64(partition), 10)).Set(float64(lag))
}

// --- Sync ---
func IncSyncEnqueue(result string)      { syncEnqueued.WithLabelValues(result).Inc() }
func IncSyncRegistration(result string) { syncRegistrations.WithLabelValues(result).Inc() }
func IncSyncConfirmation(outcome string) {
	syncConfirmations.WithLabelValues(outcome).Inc()
}
func IncSyncRetry(result string)       { syncRetries.WithLabelValues(result).Inc() }
func ObserveSyncSweep(d time.Duration) { syncSweepDuration.Observe(d.Seconds()) }
func ObservePendingAge(d time.Duration) {
	if d < 0 {
		d = 0
	}
	syncLagSeconds.Observe(d.Seconds())
}

// --- Access requests ---
func IncAccessDecision(action, result string) {
	accessDecisions.WithLabelValues(action, result).Inc()
}
func IncAccessSubmission(result string) { accessSubmissions.WithLabelValues(result).Inc() }

// --- Gauges (DB collectors) ---
func SetPendingStateCount(state string, count int64) {
	if count < 0 {
		count = 0
	}
	syncPendingRecords.WithLabelValues(state).Set(float64(count))
}
func SetAccessRequestStateCount(state string, count int64) {
	if count < 0 {
		count = 0
	}
	accessRequests.WithLabelValues(state).Set(float64(count))
}
