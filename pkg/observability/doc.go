// Package observability provides structured logging, Prometheus metrics,
// dependency health checks, OpenTelemetry initialization and graceful
// shutdown handling for the IdP.
package observability
