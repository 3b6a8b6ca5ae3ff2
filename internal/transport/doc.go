// Package transport carries encoded audio to the streaming transcription
// backend over a websocket and turns backend messages into transcript events.
// One Transport is one connection: it is opened once, closed once, and never
// retries on its own.
package transport
