// Package otel publishes engine metrics through an OpenTelemetry Meter.
//
// Every engine counter becomes an Int64ObservableCounter. The authenticate
// latency histogram is reported Prometheus style: a cumulative
// <name>_bucket gauge with one data point per "le" attribute, plus
// <name>_count. All instruments share one callback that reads
// [ironauth.Engine.MetricsSnapshot] per collection.
//
// Callers own the MeterProvider.
package otel
