// Package sinks implements concrete progress consumers: structured logging,
// Prometheus collectors and an in-memory tracker that serves the latest
// snapshot of each download. Each sink satisfies progress.Sink.
package sinks
