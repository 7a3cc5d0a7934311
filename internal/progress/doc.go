// Package progress reports pipeline progress. It computes phase ETA and
// throughput, and carries run events from the pipeline worker to observers
// through a non-blocking hub that batches events for pluggable sinks such as
// Prometheus, structured logs, Pub/Sub or websocket clients.
package progress
