package hub

import (
	"errors"
	"fmt"
)

// Kinds of call failure. A *CallError wraps exactly one of them.
var (
	ErrTimeout   = errors.New("hub call timed out")
	ErrTransport = errors.New("hub transport error")
	ErrRemote    = errors.New("remote endpoint returned an error")
)

// CallError describes a failed call to a hub endpoint.
type CallError struct {
	Endpoint string
	Command  string
	Kind     error
	Err      error
}

func (e *CallError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %v: %v", e.Endpoint, e.Command, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s.%s: %v", e.Endpoint, e.Command, e.Kind)
}

// Unwrap exposes both the kind and the underlying cause to errors.Is.
func (e *CallError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// IsTimeout reports whether err is a hub call timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// outcome is the metrics label for a call result.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrRemote):
		return "remote"
	default:
		return "transport"
	}
}
