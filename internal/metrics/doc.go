// Package metrics provides lock-free counters and latency histograms for
// the authentication engine.
//
// Counters are stored in cache-line-padded uint64 slots and incremented
// atomically. The authenticate latency histogram uses 8 fixed buckets
// (<=5ms ... +Inf). Both are allocation-free on the write path.
//
// Export to Prometheus and OpenTelemetry lives in metrics/export and reads
// [Snapshot] values.
package metrics
