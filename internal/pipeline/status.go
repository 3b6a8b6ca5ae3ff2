package pipeline

import (
	"fmt"
	"time"
)

// Status is the user-visible session state
type Status int

const (
	StatusIdle Status = iota
	StatusRequestingAccess
	StatusConnecting
	StatusStreaming
	StatusStopping
	StatusStopped
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusRequestingAccess:
		return "requesting_access"
	case StatusConnecting:
		return "connecting"
	case StatusStreaming:
		return "streaming"
	case StatusStopping:
		return "stopping"
	case StatusStopped:
		return "stopped"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Active reports whether a session is in progress
func (s Status) Active() bool {
	switch s {
	case StatusRequestingAccess, StatusConnecting, StatusStreaming, StatusStopping:
		return true
	default:
		return false
	}
}

// Snapshot is what observers render
type Snapshot struct {
	SessionID      string    `json:"session_id,omitempty"`
	Status         Status    `json:"status"`
	Message        string    `json:"message,omitempty"`
	PartialText    string    `json:"partial_text"`
	FinalText      string    `json:"final_text"`
	LastError      string    `json:"last_error,omitempty"`
	ErrorKind      string    `json:"error_kind,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	FramesCaptured uint64    `json:"frames_captured"`
	ChunksSent     uint64    `json:"chunks_sent"`
	BytesSent      uint64    `json:"bytes_sent"`
}

// Observer receives a snapshot on every state change. Observers are called
// synchronously and must not call back into the controller.
type Observer interface {
	OnSnapshot(Snapshot)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(Snapshot)

func (f ObserverFunc) OnSnapshot(s Snapshot) { f(s) }
