// Package mockbackend is a websocket transcription backend for local runs and
// tests. It answers received audio with scripted partial and final results in
// the same JSON shape the real service uses, and can be told to fail with a
// LimitExceeded notice after a byte budget.
package mockbackend
