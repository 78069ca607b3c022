// Package telemetry wires Prometheus metrics and OpenTelemetry tracing for the
// interactions webhook.
//
// Metrics live on a private registry exposed at /metrics. Tracing is optional:
// without an OTLP endpoint the global no-op tracer provider stays in place and
// spans cost nothing.
package telemetry
