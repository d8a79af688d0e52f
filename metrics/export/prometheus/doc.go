// Package prometheus exposes engine metrics to Prometheus.
//
// [Exporter] implements [prometheus.Collector]. Register it with any
// registry, or mount [Exporter.Handler] to serve it from a private one.
// Counters are named ironauth_*_total and the latency histogram is
// ironauth_authenticate_latency_seconds.
//
// The exporter never registers itself with the default registry.
package prometheus
