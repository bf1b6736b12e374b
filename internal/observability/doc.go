// Package observability provides structured logging and Prometheus
// metrics for the request guard.
package observability
