package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestsTotal counts JSON-RPC requests dispatched by the engine.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcp_requests_total",
			Help: "Total number of JSON-RPC requests handled, by method and outcome",
		},
		[]string{"method", "outcome"},
	)

	// RequestDuration tracks dispatch latency per method.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mcp_request_duration_seconds",
			Help:    "JSON-RPC request dispatch duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// ActiveSessions tracks currently connected sessions.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mcp_active_sessions",
			Help: "Number of sessions currently connected",
		},
	)

	// ActiveOperations tracks pending tool-call operations.
	ActiveOperations = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mcp_active_operations",
			Help: "Number of pending operations currently tracked",
		},
	)

	// ToolCalls tracks MCP tool invocations by outcome.
	ToolCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcp_tool_calls_total",
			Help: "Total number of MCP tool calls, by tool and outcome",
		},
		[]string{"tool", "outcome"},
	)

	// ProgressNotifications counts progress notifications emitted to clients.
	ProgressNotifications = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mcp_progress_notifications_total",
			Help: "Total number of progress notifications sent",
		},
	)

	// SSESinks tracks open server-sent-event streams by kind (get, post).
	SSESinks = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mcp_sse_sinks",
			Help: "Number of currently open SSE streams, by kind",
		},
		[]string{"kind"},
	)
)

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush implements http.Flusher for SSE support.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// HTTPMiddleware wraps the transport's http.Handler and observes each
// HTTP request's duration in RequestDuration, labelled with the HTTP
// method and status code (e.g. "POST 200") rather than a JSON-RPC method.
func HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		RequestDuration.WithLabelValues(r.Method + " " + strconv.Itoa(wrapped.statusCode)).Observe(duration)
	})
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records the outcome of a dispatched JSON-RPC method.
func RecordRequest(method, outcome string, durationSeconds float64) {
	RequestsTotal.WithLabelValues(method, outcome).Inc()
	RequestDuration.WithLabelValues(method).Observe(durationSeconds)
}

// RecordSessionConnect increments the active session gauge.
func RecordSessionConnect() {
	ActiveSessions.Inc()
}

// RecordSessionDisconnect decrements the active session gauge.
func RecordSessionDisconnect() {
	ActiveSessions.Dec()
}

// RecordOperationStart increments the active operation gauge.
func RecordOperationStart() {
	ActiveOperations.Inc()
}

// RecordOperationEnd decrements the active operation gauge.
func RecordOperationEnd() {
	ActiveOperations.Dec()
}

// RecordToolCall records an MCP tool invocation.
func RecordToolCall(tool, outcome string) {
	ToolCalls.WithLabelValues(tool, outcome).Inc()
}

// RecordProgressNotification records an emitted progress notification.
func RecordProgressNotification() {
	ProgressNotifications.Inc()
}

// SetSSESinks sets the number of currently open SSE streams of a kind.
func SetSSESinks(kind string, count float64) {
	SSESinks.WithLabelValues(kind).Set(count)
}

// Recorder adapts the package-level recording functions to the small
// interface the engine depends on, so the engine can be constructed
// without importing this package's global registry directly.
type Recorder struct{}

func (Recorder) RecordRequest(method, outcome string, durationSeconds float64) {
	RecordRequest(method, outcome, durationSeconds)
}

func (Recorder) RecordToolCall(tool, outcome string) { RecordToolCall(tool, outcome) }
func (Recorder) RecordSessionConnect()               { RecordSessionConnect() }
func (Recorder) RecordSessionDisconnect()            { RecordSessionDisconnect() }
func (Recorder) RecordOperationStart()               { RecordOperationStart() }
func (Recorder) RecordOperationEnd()                 { RecordOperationEnd() }
func (Recorder) RecordProgressNotification()         { RecordProgressNotification() }
