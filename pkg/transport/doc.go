// Package transport serves the Messages API over HTTP/SSE.
//
// The handler exposes three routes:
//
//   - POST /v1/messages: the main exchange endpoint. The raw body is read
//     once, the model and stream flag are sniffed from the JSON, and the
//     request is dispatched to translate or passthrough handling depending
//     on the configured forward mode.
//   - GET /v1/models: the downstream model listing translated to the
//     Messages wire shape, or a statically configured override.
//   - GET /healthz: liveness probe.
//
// Streaming responses use SSE framing with one named event per protocol
// event. The stream ends with the terminal event itself; no sentinel line
// follows it.
//
// Middleware provides panic recovery, request ID assignment (X-Request-Id),
// structured logging via log/slog, and Prometheus request metrics. Admission
// is controlled by a try-acquire inflight limiter; rejected requests get a
// rate_limit_error without touching the downstream.
package transport
