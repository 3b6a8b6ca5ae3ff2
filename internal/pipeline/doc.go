// Package pipeline wires capture, encoding, aggregation, transport and
// transcript reconciliation into a single session state machine. The
// Controller is the only component a UI talks to: it starts and stops
// sessions, clears transcripts and publishes snapshots to observers.
//
// All per-session work runs on one event loop goroutine, so transcript
// updates and audio sends never interleave mid-handler.
package pipeline
