// Package observability provides Prometheus metrics and HTTP middleware
// for monitoring the anthroute gateway.
package observability

import "github.com/prometheus/client_golang/prometheus"

// LLMBuckets defines histogram buckets suited for LLM inference latencies,
// ranging from 100ms to 120s.
var LLMBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

var (
	// RequestsTotal counts all HTTP requests by forward mode and status class.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anthroute_requests_total",
			Help: "Total requests",
		},
		[]string{"mode", "status"},
	)

	// RequestDuration records HTTP request duration in seconds by forward mode.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "anthroute_request_duration_seconds",
			Help:    "Request duration",
			Buckets: LLMBuckets,
		},
		[]string{"mode"},
	)

	// ErrorsTotal counts errors returned to callers by error type.
	ErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anthroute_errors_total",
			Help: "Errors returned to callers",
		},
		[]string{"type"},
	)

	// InflightRequests tracks the number of requests currently being served.
	InflightRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "anthroute_inflight_requests",
			Help: "Requests currently in flight",
		},
	)

	// StreamingConnections tracks the number of active SSE streaming connections.
	StreamingConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "anthroute_streaming_connections_active",
			Help: "Active streaming connections",
		},
	)

	// DownstreamRequestsTotal counts requests sent to the Chat Completions
	// backend by status class.
	DownstreamRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anthroute_downstream_requests_total",
			Help: "Downstream backend requests",
		},
		[]string{"status"},
	)

	// TokensTotal counts tokens reported in downstream usage by direction
	// (input/output).
	TokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anthroute_tokens_total",
			Help: "Token count",
		},
		[]string{"direction"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		ErrorsTotal,
		InflightRequests,
		StreamingConnections,
		DownstreamRequestsTotal,
		TokensTotal,
	)
}
