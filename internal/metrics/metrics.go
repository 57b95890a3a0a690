// Package metrics provides Prometheus metrics for the tool RPC server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// Namespace prefix for all metrics
	namespace = "toolrpc"

	// Subsystems
	subsystemServer    = "server"
	subsystemAdmission = "admission"
	subsystemTransport = "transport"
	subsystemHTTP      = "http"
)

var (
	// DurationBuckets for request durations
	DurationBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

	// === Server Metrics ===

	// ServerRequestsTotal counts dispatched requests by outcome
	ServerRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemServer,
			Name:      "requests_total",
			Help:      "Total number of dispatched requests",
		},
		[]string{"method", "outcome"},
	)

	// ServerRequestDuration measures dispatch latency
	ServerRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemServer,
			Name:      "request_duration_seconds",
			Help:      "Request dispatch latency in seconds",
			Buckets:   DurationBuckets,
		},
		[]string{"method"},
	)

	// ServerRequestErrors counts error responses by code
	ServerRequestErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemServer,
			Name:      "request_errors_total",
			Help:      "Total number of error responses",
		},
		[]string{"code"},
	)

	// ServerToolCalls counts tool invocations
	ServerToolCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemServer,
			Name:      "tool_calls_total",
			Help:      "Total number of tool invocations",
		},
		[]string{"tool", "outcome"},
	)

	// ServerInFlight shows requests currently being dispatched
	ServerInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemServer,
			Name:      "in_flight",
			Help:      "Number of requests currently being dispatched",
		},
	)

	// ServerRunning shows lifecycle state (0=stopped, 1=running)
	ServerRunning = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemServer,
			Name:      "running",
			Help:      "Server lifecycle state (0=stopped, 1=running)",
		},
		[]string{"server"},
	)

	// ServerToolsRegistered shows the number of registered tools
	ServerToolsRegistered = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemServer,
			Name:      "tools_registered",
			Help:      "Number of registered tools",
		},
		[]string{"server"},
	)

	// === Admission Metrics ===

	// AdmissionActive shows requests holding a slot
	AdmissionActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemAdmission,
			Name:      "active",
			Help:      "Number of requests holding an admission slot",
		},
		[]string{"limiter"},
	)

	// AdmissionWaiting shows requests waiting for a slot
	AdmissionWaiting = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemAdmission,
			Name:      "waiting",
			Help:      "Number of requests waiting for an admission slot",
		},
		[]string{"limiter"},
	)

	// AdmissionRejections counts rejected acquisitions
	AdmissionRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemAdmission,
			Name:      "rejections_total",
			Help:      "Total number of admission rejections",
		},
		[]string{"limiter", "reason"},
	)

	// === Transport Metrics ===

	// TransportMessagesTotal counts framed messages
	TransportMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemTransport,
			Name:      "messages_total",
			Help:      "Total number of messages read or written",
		},
		[]string{"transport", "direction"},
	)

	// TransportDecodeErrors counts messages rejected before dispatch
	TransportDecodeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemTransport,
			Name:      "decode_errors_total",
			Help:      "Total number of messages that failed to decode",
		},
		[]string{"transport", "code"},
	)

	// TransportConnected shows whether a transport is connected
	TransportConnected = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemTransport,
			Name:      "connected",
			Help:      "Transport connection state (0=closed, 1=connected)",
		},
		[]string{"transport"},
	)

	// === HTTP Binding Metrics ===

	// HTTPRequestsTotal counts HTTP requests
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemHTTP,
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"route", "status_code"},
	)

	// HTTPRequestDuration measures HTTP request latency
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemHTTP,
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   DurationBuckets,
		},
		[]string{"route"},
	)

	// registry holds all metrics
	registry = prometheus.NewRegistry()
)

func init() {
	// Register all metrics
	registry.MustRegister(
		// Server metrics
		ServerRequestsTotal,
		ServerRequestDuration,
		ServerRequestErrors,
		ServerToolCalls,
		ServerInFlight,
		ServerRunning,
		ServerToolsRegistered,
		// Admission metrics
		AdmissionActive,
		AdmissionWaiting,
		AdmissionRejections,
		// Transport metrics
		TransportMessagesTotal,
		TransportDecodeErrors,
		TransportConnected,
		// HTTP metrics
		HTTPRequestsTotal,
		HTTPRequestDuration,
	)

	// Also register Go runtime and process collectors
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// Handler returns an HTTP handler for metrics
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// RecordRequest records a dispatched request
func RecordRequest(method, outcome string, duration float64) {
	ServerRequestsTotal.WithLabelValues(method, outcome).Inc()
	ServerRequestDuration.WithLabelValues(method).Observe(duration)
}

// RecordRequestError records an error response
func RecordRequestError(code string) {
	ServerRequestErrors.WithLabelValues(code).Inc()
}

// RecordToolCall records a tool invocation
func RecordToolCall(tool, outcome string) {
	ServerToolCalls.WithLabelValues(tool, outcome).Inc()
}

// SetInFlight sets the number of in-flight requests
func SetInFlight(count int64) {
	ServerInFlight.Set(float64(count))
}

// SetServerRunning sets the server lifecycle state
func SetServerRunning(server string, running bool) {
	val := 0.0
	if running {
		val = 1.0
	}
	ServerRunning.WithLabelValues(server).Set(val)
}

// SetToolsRegistered sets the registered tool count
func SetToolsRegistered(server string, count int) {
	ServerToolsRegistered.WithLabelValues(server).Set(float64(count))
}

// SetAdmissionActive sets the active count for a limiter
func SetAdmissionActive(limiter string, count int) {
	AdmissionActive.WithLabelValues(limiter).Set(float64(count))
}

// SetAdmissionWaiting sets the waiting count for a limiter
func SetAdmissionWaiting(limiter string, count int) {
	AdmissionWaiting.WithLabelValues(limiter).Set(float64(count))
}

// RecordAdmissionRejection records an admission rejection
func RecordAdmissionRejection(limiter, reason string) {
	AdmissionRejections.WithLabelValues(limiter, reason).Inc()
}

// RecordMessage records a message read ("in") or written ("out")
func RecordMessage(transport, direction string) {
	TransportMessagesTotal.WithLabelValues(transport, direction).Inc()
}

// RecordDecodeError records a message rejected by the codec
func RecordDecodeError(transport, code string) {
	TransportDecodeErrors.WithLabelValues(transport, code).Inc()
}

// SetTransportConnected sets the connection state of a transport
func SetTransportConnected(transport string, connected bool) {
	val := 0.0
	if connected {
		val = 1.0
	}
	TransportConnected.WithLabelValues(transport).Set(val)
}

// RecordHTTPRequest records an HTTP request
func RecordHTTPRequest(route, statusCode string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(route, statusCode).Inc()
	HTTPRequestDuration.WithLabelValues(route).Observe(duration)
}
