// Package sinks implements concrete progress consumers: Prometheus metrics,
// structured logging, Pub/Sub publication of validated proxies and a
// websocket broadcaster for live dashboards. Each sink satisfies
// progress.Sink and is safe for repeated Consume calls.
package sinks
