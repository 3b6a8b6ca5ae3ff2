package mockbackend

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/skypro1111/stream-transcriber/internal/transport"
)

// DefaultScript is emitted when no script is configured
var DefaultScript = []string{"the", "quick", "brown", "fox", "jumps", "over", "the", "lazy", "dog"}

// Config controls what the backend says and when
type Config struct {
	// Script words are emitted in order, cycling
	Script []string
	// BytesPerWord is how much audio earns the next word
	BytesPerWord int
	// WordsPerFinal closes an utterance after this many words
	WordsPerFinal int
	// FailAfterBytes sends LimitExceeded once this much audio arrived; 0 disables
	FailAfterBytes int
	// APIKey, when set, is required as a bearer token
	APIKey string
}

// Backend is an http.Handler serving one transcription stream per connection
type Backend struct {
	config   Config
	logger   *slog.Logger
	upgrader websocket.Upgrader

	connections atomic.Int64
	bytesIn     atomic.Uint64
}

// Stats summarises traffic across all connections
type Stats struct {
	Connections   int64  `json:"connections"`
	BytesReceived uint64 `json:"bytes_received"`
}

// New creates a backend with defaults filled in
func New(config Config, logger *slog.Logger) *Backend {
	if len(config.Script) == 0 {
		config.Script = DefaultScript
	}
	if config.BytesPerWord <= 0 {
		config.BytesPerWord = 16000 // half a second of 16 kHz PCM
	}
	if config.WordsPerFinal <= 0 {
		config.WordsPerFinal = 4
	}
	return &Backend{
		config: config,
		logger: logger.With(slog.String("component", "mock-backend")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// GetStats returns traffic counters
func (b *Backend) GetStats() Stats {
	return Stats{
		Connections:   b.connections.Load(),
		BytesReceived: b.bytesIn.Load(),
	}
}

func (b *Backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if b.config.APIKey != "" && r.Header.Get("Authorization") != "Bearer "+b.config.APIKey {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn("Upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	b.connections.Add(1)
	s := &stream{backend: b, conn: conn, resultID: uuid.NewString(), nextWordAt: b.config.BytesPerWord}

	b.logger.Info("Stream opened", slog.String("remote_addr", r.RemoteAddr))
	if err := s.serve(); err != nil {
		b.logger.Info("Stream ended", slog.String("reason", err.Error()), slog.Int("bytes", s.received))
	}
}

// stream is the per-connection state; only its goroutine touches it
type stream struct {
	backend *Backend
	conn    *websocket.Conn

	received   int
	nextWordAt int
	wordIndex  int
	words      []string
	resultID   string
}

func (s *stream) serve() error {
	cfg := s.backend.config

	for {
		messageType, payload, err := s.conn.ReadMessage()
		if err != nil {
			return err
		}

		pcm, err := transport.DecodeAudio(messageType, payload)
		if err != nil {
			s.backend.logger.Warn("Ignoring malformed audio message", slog.String("error", err.Error()))
			continue
		}
		s.received += len(pcm)
		s.backend.bytesIn.Add(uint64(len(pcm)))

		if cfg.FailAfterBytes > 0 && s.received >= cfg.FailAfterBytes {
			return s.fail(fmt.Sprintf("LimitExceeded: audio budget of %d bytes used", cfg.FailAfterBytes))
		}

		for s.received >= s.nextWordAt {
			s.nextWordAt += cfg.BytesPerWord
			if err := s.emitWord(); err != nil {
				return err
			}
		}
	}
}

func (s *stream) emitWord() error {
	cfg := s.backend.config

	s.words = append(s.words, cfg.Script[s.wordIndex%len(cfg.Script)])
	s.wordIndex++

	partial := len(s.words) < cfg.WordsPerFinal
	msg, err := transport.EncodeResults(transport.Result{
		Alternatives: []transport.Alternative{{Transcript: strings.Join(s.words, " ")}},
		IsPartial:    partial,
		ResultId:     s.resultID,
	})
	if err != nil {
		return err
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		return err
	}

	if !partial {
		s.words = s.words[:0]
		s.resultID = uuid.NewString()
	}
	return nil
}

func (s *stream) fail(message string) error {
	msg, err := transport.EncodeErrors(message)
	if err != nil {
		return err
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		return err
	}
	s.backend.logger.Warn("Sent error notice", slog.String("message", message))
	return fmt.Errorf("failed stream: %s", message)
}
