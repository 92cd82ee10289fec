// Package prometheus renders mindgate engine metrics in the Prometheus
// text exposition format.
//
// [NewPrometheusExporter] reads [mindgate.Engine.MetricsSnapshot] on every
// scrape. Counters are named mindgate_*_total and the single histogram is
// mindgate_validate_latency_seconds. Extra gauges, such as the number of
// registered devices, can be attached with [PrometheusExporter.WithGauge].
//
// The exporter never registers into a global registry. Callers mount
// [PrometheusExporter.Handler] themselves.
package prometheus
