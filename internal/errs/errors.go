package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure
type Kind int

const (
	KindUnknown Kind = iota
	// KindCapture covers microphone permission and device failures
	KindCapture
	// KindConnect covers handshake failures and connections lost mid-session
	KindConnect
	// KindInvalidState is returned for API misuse, e.g. sending on a closed transport
	KindInvalidState
	// KindBackendProtocol covers error notices and undecodable backend messages
	KindBackendProtocol
	// KindEncoding covers malformed audio frames
	KindEncoding
)

// String returns the wire name of the kind
func (k Kind) String() string {
	switch k {
	case KindCapture:
		return "capture_error"
	case KindConnect:
		return "connect_error"
	case KindInvalidState:
		return "invalid_state"
	case KindBackendProtocol:
		return "backend_protocol_error"
	case KindEncoding:
		return "encoding_error"
	default:
		return "unknown"
	}
}

// Error is a classified failure. Op names the operation that failed
// ("capture.Start", "transport.Send"), Err is the underlying cause if any.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Op == "" {
		return fmt.Sprintf("%s: %s", e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match on kind alone when the target is a bare *Error{Kind: k}
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

// Capture builds a capture error
func Capture(op string, err error) *Error {
	return &Error{Kind: KindCapture, Op: op, Err: err}
}

// Connect builds a connect error
func Connect(op string, err error) *Error {
	return &Error{Kind: KindConnect, Op: op, Err: err}
}

// InvalidState builds an invalid state error with a formatted message
func InvalidState(op, format string, args ...any) *Error {
	return &Error{Kind: KindInvalidState, Op: op, Message: fmt.Sprintf(format, args...)}
}

// BackendProtocol builds a backend protocol error carrying the backend's message
func BackendProtocol(op, message string, err error) *Error {
	return &Error{Kind: KindBackendProtocol, Op: op, Message: message, Err: err}
}

// Encoding builds an encoding error with a formatted message
func Encoding(op, format string, args ...any) *Error {
	return &Error{Kind: KindEncoding, Op: op, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func IsCapture(err error) bool         { return KindOf(err) == KindCapture }
func IsConnect(err error) bool         { return KindOf(err) == KindConnect }
func IsInvalidState(err error) bool    { return KindOf(err) == KindInvalidState }
func IsBackendProtocol(err error) bool { return KindOf(err) == KindBackendProtocol }
func IsEncoding(err error) bool        { return KindOf(err) == KindEncoding }
