// Package telemetry groups the observability subsystems: structured
// logging (telemetry/logging) and Prometheus metrics
// (telemetry/metrics). Both are configured from the telemetry section
// of the gateway configuration.
package telemetry
