package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/skypro1111/stream-transcriber/internal/errs"
	"github.com/skypro1111/stream-transcriber/internal/transcript"
)

// State is the connection lifecycle
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosing
	StateClosed
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Config contains transport configuration
type Config struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	ReadLimit        int64
	Framing          Framing
	EventBuffer      int
}

// Transport is a single websocket connection to the transcription backend.
// Send may be called from one goroutine while Events is drained by another.
type Transport struct {
	config    Config
	endpoints EndpointProvider
	logger    *slog.Logger

	mu    sync.Mutex // guards state, conn and err
	state State
	conn  *websocket.Conn
	err   error

	writeMu sync.Mutex

	events   chan transcript.Event
	closing  chan struct{}
	finished chan struct{}

	closingOnce  sync.Once
	finishedOnce sync.Once

	// Statistics
	chunksSent       atomic.Uint64
	bytesSent        atomic.Uint64
	messagesReceived atomic.Uint64
	protocolErrors   atomic.Uint64
}

// Stats represents transport statistics
type Stats struct {
	State            string `json:"state"`
	ChunksSent       uint64 `json:"chunks_sent"`
	BytesSent        uint64 `json:"bytes_sent"`
	MessagesReceived uint64 `json:"messages_received"`
	ProtocolErrors   uint64 `json:"protocol_errors"`
}

// New creates an idle transport
func New(config Config, endpoints EndpointProvider, logger *slog.Logger) *Transport {
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = 30 * time.Second
	}
	if config.Framing == "" {
		config.Framing = FramingBinary
	}
	if config.EventBuffer <= 0 {
		config.EventBuffer = 64
	}

	return &Transport{
		config:    config,
		endpoints: endpoints,
		logger:    logger,
		state:     StateIdle,
		events:    make(chan transcript.Event, config.EventBuffer),
		closing:   make(chan struct{}),
		finished:  make(chan struct{}),
	}
}

// State returns the current lifecycle state
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.state
}

// Connect opens the websocket. ctx bounds the handshake only; the open
// connection lives until Close or a network failure.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.state != StateIdle {
		state := t.state
		t.mu.Unlock()
		return errs.InvalidState("transport.Connect", "cannot connect from state %s", state)
	}
	t.state = StateConnecting
	t.mu.Unlock()

	endpoint, header, err := t.endpoints.Endpoint(ctx)
	if err != nil {
		return t.failConnect(errs.Connect("transport.Connect", fmt.Errorf("resolve endpoint: %w", err)))
	}

	dialer := websocket.Dialer{HandshakeTimeout: t.config.HandshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w (status %s)", err, resp.Status)
		}
		return t.failConnect(errs.Connect("transport.Connect", err))
	}

	if t.config.ReadLimit > 0 {
		conn.SetReadLimit(t.config.ReadLimit)
	}

	t.mu.Lock()
	if t.state != StateConnecting {
		// Close ran while the handshake was in flight
		t.mu.Unlock()
		conn.Close()
		t.finish()
		return errs.Connect("transport.Connect", errors.New("connection closed during handshake"))
	}
	t.conn = conn
	t.state = StateOpen
	t.mu.Unlock()

	t.logger.Info("Transcription connection opened",
		slog.String("remote_addr", conn.RemoteAddr().String()),
		slog.String("framing", string(t.config.Framing)),
	)

	go t.readLoop(conn)
	return nil
}

func (t *Transport) failConnect(err error) error {
	t.mu.Lock()
	if t.state == StateConnecting {
		t.state = StateErrored
		t.err = err
	}
	t.mu.Unlock()
	t.finish()
	return err
}

// Send writes one outbound chunk. It fails with an invalid state error
// unless the connection is open; chunks are never silently dropped.
func (t *Transport) Send(chunk []byte) error {
	t.mu.Lock()
	if t.state != StateOpen {
		state := t.state
		t.mu.Unlock()
		return errs.InvalidState("transport.Send", "cannot send in state %s", state)
	}
	conn := t.conn
	t.mu.Unlock()

	messageType, payload, err := EncodeAudio(t.config.Framing, chunk)
	if err != nil {
		return errs.Encoding("transport.Send", "%v", err)
	}

	t.writeMu.Lock()
	if t.config.WriteTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(t.config.WriteTimeout))
	}
	err = conn.WriteMessage(messageType, payload)
	t.writeMu.Unlock()

	if err != nil {
		connErr := errs.Connect("transport.Send", err)
		t.markErrored(connErr)
		return connErr
	}

	t.chunksSent.Add(1)
	t.bytesSent.Add(uint64(len(chunk)))
	return nil
}

// Events delivers decoded transcript events in arrival order. The channel
// is closed when the connection ends; Err then reports why.
func (t *Transport) Events() <-chan transcript.Event {
	return t.events
}

// Err returns the failure that ended the connection, nil after an orderly Close
func (t *Transport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.err
}

// Done is closed once the connection has fully ended
func (t *Transport) Done() <-chan struct{} {
	return t.finished
}

func (t *Transport) readLoop(conn *websocket.Conn) {
	defer t.finish()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			t.mu.Lock()
			localClose := t.state == StateClosing || t.state == StateClosed
			t.mu.Unlock()

			if localClose {
				return
			}

			connErr := errs.Connect("transport.read", fmt.Errorf("connection lost: %w", err))
			t.markErrored(connErr)
			t.logger.Warn("Transcription connection lost", slog.String("error", err.Error()))
			return
		}

		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}
		t.messagesReceived.Add(1)

		events, err := DecodeMessage(data)
		if err != nil {
			t.protocolErrors.Add(1)
			t.logger.Warn("Skipping undecodable backend message",
				slog.Int("size", len(data)),
				slog.String("error", err.Error()),
			)
			continue
		}

		for _, ev := range events {
			select {
			case t.events <- ev:
			case <-t.closing:
				return
			}
		}
	}
}

func (t *Transport) markErrored(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == StateOpen || t.state == StateConnecting {
		t.state = StateErrored
		t.err = err
	}
}

// finish closes the event stream exactly once
func (t *Transport) finish() {
	t.finishedOnce.Do(func() {
		close(t.events)
		close(t.finished)
	})
}

// Close ends the connection. A normal-closure frame is sent when the
// connection is open. Calling Close again is a no-op.
func (t *Transport) Close() error {
	t.mu.Lock()
	state := t.state
	conn := t.conn

	switch state {
	case StateClosing, StateClosed:
		t.mu.Unlock()
		return nil
	case StateIdle, StateConnecting:
		// an in-flight Connect sees StateClosed and finishes the stream itself
		t.state = StateClosed
		t.mu.Unlock()
		t.closingOnce.Do(func() { close(t.closing) })
		if state == StateIdle {
			t.finish()
		}
		return nil
	}

	t.state = StateClosing
	t.mu.Unlock()
	t.closingOnce.Do(func() { close(t.closing) })

	var closeErr error
	if conn != nil {
		if state == StateOpen {
			t.writeMu.Lock()
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
				t.logger.Debug("Failed to send close frame", slog.String("error", err.Error()))
			}
			t.writeMu.Unlock()
		}
		closeErr = conn.Close()
		<-t.finished
	} else {
		t.finish()
	}

	t.mu.Lock()
	t.state = StateClosed
	t.mu.Unlock()

	t.logger.Info("Transcription connection closed",
		slog.Uint64("chunks_sent", t.chunksSent.Load()),
		slog.Uint64("bytes_sent", t.bytesSent.Load()),
		slog.Uint64("messages_received", t.messagesReceived.Load()),
	)

	if closeErr != nil && !errors.Is(closeErr, websocket.ErrCloseSent) {
		return fmt.Errorf("failed to close connection: %w", closeErr)
	}
	return nil
}

// GetStats returns current transport statistics
func (t *Transport) GetStats() Stats {
	return Stats{
		State:            t.State().String(),
		ChunksSent:       t.chunksSent.Load(),
		BytesSent:        t.bytesSent.Load(),
		MessagesReceived: t.messagesReceived.Load(),
		ProtocolErrors:   t.protocolErrors.Load(),
	}
}
