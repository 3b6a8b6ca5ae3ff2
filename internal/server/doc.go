// Package server implements the HTTP control and observer API: session
// start/stop/clear, snapshot polling, a websocket push of snapshots for UIs,
// configuration and Prometheus metrics.
package server
