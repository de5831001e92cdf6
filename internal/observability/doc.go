// Package observability provides structured logging and Prometheus metrics
// for the completion orchestrator.
package observability
