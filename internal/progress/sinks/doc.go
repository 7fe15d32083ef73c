// Package sinks implements concrete progress consumers: structured logging, Prometheus
// collectors and a Pub/Sub topic. Each sink satisfies progress.Sink.
package sinks
