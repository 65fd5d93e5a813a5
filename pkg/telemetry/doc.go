// Package telemetry provides structured logging (zerolog), metrics
// (Prometheus), distributed tracing (OpenTelemetry) and a small event bus
// for the deployment pipeline. Components receive a *Telemetry via context
// and emit through it; nothing in this package is pipeline-aware beyond
// field naming.
package telemetry
