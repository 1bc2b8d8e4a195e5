package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Worker metrics
	WorkerExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "barometer_worker_executions_total",
			Help: "Total number of worker executions",
		},
		[]string{"worker", "status"}, // status: success|error
	)

	WorkerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "barometer_worker_duration_seconds",
			Help:    "Worker execution duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"worker"},
	)

	WorkerLastRun = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "barometer_worker_last_run_timestamp",
			Help: "Unix timestamp of last worker execution",
		},
		[]string{"worker"},
	)

	// Ingestion metrics
	KafkaMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "barometer_kafka_messages_total",
			Help: "Total Kafka snapshot messages consumed",
		},
		[]string{"topic", "status"}, // status: success|error
	)

	RecordsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "barometer_records_ingested_total",
			Help: "Total metric records processed by the snapshot consumer",
		},
		[]string{"result"}, // result: inserted|rejected
	)

	// Derived dataset metrics, set after each refresh cycle
	RefreshRows = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "barometer_refresh_rows",
			Help: "Rows per derived dataset in the latest refresh",
		},
		[]string{"dataset"},
	)

	AnomalyRows = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "barometer_anomaly_rows",
			Help: "Flagged anomaly rows in the latest refresh by severity",
		},
		[]string{"severity"},
	)

	// API metrics
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "barometer_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"path", "method", "status"},
	)

	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "barometer_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"path"},
	)

	WebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "barometer_websocket_clients",
			Help: "Current number of connected WebSocket clients",
		},
	)
)

// Init registers all metrics with Prometheus
func Init() {
	// Worker metrics
	prometheus.MustRegister(WorkerExecutions)
	prometheus.MustRegister(WorkerDuration)
	prometheus.MustRegister(WorkerLastRun)

	// Ingestion metrics
	prometheus.MustRegister(KafkaMessages)
	prometheus.MustRegister(RecordsIngested)

	// Derived dataset metrics
	prometheus.MustRegister(RefreshRows)
	prometheus.MustRegister(AnomalyRows)

	// API metrics
	prometheus.MustRegister(HTTPRequests)
	prometheus.MustRegister(HTTPDuration)
	prometheus.MustRegister(WebSocketClients)
}

// Handler returns Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordWorkerExecution records a worker execution
func RecordWorkerExecution(worker string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}

	WorkerExecutions.WithLabelValues(worker, status).Inc()
	WorkerDuration.WithLabelValues(worker).Observe(duration.Seconds())
	WorkerLastRun.WithLabelValues(worker).SetToCurrentTime()
}

// RecordKafkaMessage records one consumed snapshot message
func RecordKafkaMessage(topic string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}

	KafkaMessages.WithLabelValues(topic, status).Inc()
}

// RecordHTTPRequest records a served HTTP request
func RecordHTTPRequest(path, method string, statusCode int, duration time.Duration) {
	HTTPRequests.WithLabelValues(path, method, strconv.Itoa(statusCode)).Inc()
	HTTPDuration.WithLabelValues(path).Observe(duration.Seconds())
}
