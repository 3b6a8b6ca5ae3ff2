// Package metrics exposes Prometheus instrumentation for sessions, audio
// throughput, transcript events and the HTTP API.
package metrics
