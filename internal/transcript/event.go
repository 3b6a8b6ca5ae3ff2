package transcript

import "fmt"

// Kind distinguishes interim, final and error events
type Kind int

const (
	Partial Kind = iota
	Final
	ErrorNotice
)

func (k Kind) String() string {
	switch k {
	case Partial:
		return "partial"
	case Final:
		return "final"
	case ErrorNotice:
		return "error"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// MarshalText renders the kind by name in JSON payloads
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Event is one transcript update decoded from a backend message.
// Text is set for Partial and Final, Message for ErrorNotice.
type Event struct {
	Kind        Kind   `json:"kind"`
	Text        string `json:"text,omitempty"`
	ResultIndex int    `json:"result_index"`
	ResultID    string `json:"result_id,omitempty"`
	Message     string `json:"message,omitempty"`
}
