// Package http serves the optional status endpoints of a running linkage.
// Handlers only read state that the pipeline publishes; nothing here can
// change a run.
//
// # Endpoints
//
//	GET /health    liveness, version, uptime and host memory
//	GET /progress  the current step of the run and its lag counts
//	GET /metrics   Prometheus exposition of the OpenTelemetry meters
//
// # Middleware
//
// Requests pass through RequestID, Recoverer, a token-bucket RateLimiter
// and a debug-level StructuredLogger from internal/middleware. Errors use
// RFC 7807 problem bodies.
package http
