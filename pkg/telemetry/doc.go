// Package telemetry provides the observability surface of the Cloudburst
// control plane: structured logging built on zerolog, Prometheus metrics,
// and OpenTelemetry tracing, assembled from one configuration.
package telemetry
