package transport

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/skypro1111/stream-transcriber/internal/errs"
	"github.com/skypro1111/stream-transcriber/internal/transcript"
)

// Framing selects how audio chunks are put on the wire
type Framing string

const (
	// FramingBinary sends raw PCM in binary messages
	FramingBinary Framing = "binary"
	// FramingJSON sends {"AudioEvent":{"AudioChunk":"<base64>"}} text messages
	FramingJSON Framing = "json"
)

// Valid reports whether f is a known framing
func (f Framing) Valid() bool {
	return f == FramingBinary || f == FramingJSON
}

type audioEventMessage struct {
	AudioEvent audioEvent `json:"AudioEvent"`
}

type audioEvent struct {
	// []byte marshals as base64
	AudioChunk []byte `json:"AudioChunk"`
}

// EncodeAudio frames a PCM chunk and returns the websocket message type to use
func EncodeAudio(framing Framing, chunk []byte) (int, []byte, error) {
	switch framing {
	case FramingBinary, "":
		return websocket.BinaryMessage, chunk, nil
	case FramingJSON:
		payload, err := json.Marshal(audioEventMessage{AudioEvent: audioEvent{AudioChunk: chunk}})
		if err != nil {
			return 0, nil, fmt.Errorf("failed to encode audio event: %w", err)
		}
		return websocket.TextMessage, payload, nil
	default:
		return 0, nil, fmt.Errorf("unknown audio framing %q", framing)
	}
}

// DecodeAudio is the inverse of EncodeAudio, used by the mock backend
func DecodeAudio(messageType int, payload []byte) ([]byte, error) {
	if messageType == websocket.BinaryMessage {
		return payload, nil
	}
	var msg audioEventMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("failed to decode audio event: %w", err)
	}
	return msg.AudioEvent.AudioChunk, nil
}

// Message is the backend's JSON envelope. Exactly one of TranscriptEvent or
// Errors is expected per message.
type Message struct {
	TranscriptEvent *TranscriptEvent `json:"TranscriptEvent,omitempty"`
	Errors          []ErrorDetail    `json:"Errors,omitempty"`
}

// TranscriptEvent wraps one batch of recognition results
type TranscriptEvent struct {
	Transcript Transcript `json:"Transcript"`
}

// Transcript holds the results of a TranscriptEvent
type Transcript struct {
	Results []Result `json:"Results"`
}

// Result is one partial or final hypothesis for a span of audio
type Result struct {
	Alternatives []Alternative `json:"Alternatives"`
	IsPartial    bool          `json:"IsPartial"`
	ResultId     string        `json:"ResultId,omitempty"`
	StartTime    float64       `json:"StartTime,omitempty"`
	EndTime      float64       `json:"EndTime,omitempty"`
}

// Alternative is a candidate transcription of a Result
type Alternative struct {
	Transcript string `json:"Transcript"`
}

// ErrorDetail is one backend error message
type ErrorDetail struct {
	Message string `json:"Message"`
}

// DecodeMessage turns one backend message into transcript events, in result
// order. A transcript with no results yields no events. Results without
// alternatives are skipped; only the first alternative is used.
func DecodeMessage(data []byte) ([]transcript.Event, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, errs.BackendProtocol("transport.DecodeMessage", "undecodable message", err)
	}

	if len(msg.Errors) > 0 {
		messages := make([]string, 0, len(msg.Errors))
		for _, e := range msg.Errors {
			messages = append(messages, e.Message)
		}
		return []transcript.Event{{
			Kind:    transcript.ErrorNotice,
			Message: strings.Join(messages, ", "),
		}}, nil
	}

	if msg.TranscriptEvent == nil {
		return nil, errs.BackendProtocol("transport.DecodeMessage", "message has neither TranscriptEvent nor Errors", nil)
	}

	results := msg.TranscriptEvent.Transcript.Results
	events := make([]transcript.Event, 0, len(results))
	for i, r := range results {
		if len(r.Alternatives) == 0 {
			continue
		}
		kind := transcript.Final
		if r.IsPartial {
			kind = transcript.Partial
		}
		events = append(events, transcript.Event{
			Kind:        kind,
			Text:        r.Alternatives[0].Transcript,
			ResultIndex: i,
			ResultID:    r.ResultId,
		})
	}
	return events, nil
}

// EncodeResults builds a transcript message; the mock backend and tests use it
func EncodeResults(results ...Result) ([]byte, error) {
	if results == nil {
		results = []Result{}
	}
	return json.Marshal(Message{TranscriptEvent: &TranscriptEvent{Transcript: Transcript{Results: results}}})
}

// EncodeErrors builds an error notice message
func EncodeErrors(messages ...string) ([]byte, error) {
	details := make([]ErrorDetail, len(messages))
	for i, m := range messages {
		details[i] = ErrorDetail{Message: m}
	}
	return json.Marshal(Message{Errors: details})
}
