// Package otel binds mindgate engine metrics to OpenTelemetry observable
// instruments.
//
// [NewOTelExporter] registers one Int64ObservableCounter per engine counter
// and one Int64ObservableGauge per histogram bucket. A single callback reads
// [mindgate.Engine.MetricsSnapshot] on every collection cycle.
//
// Callers own the MeterProvider and pass in a Meter.
package otel
