package extraction

import (
	"errors"
	"fmt"
)

// ErrConfiguration marks missing or invalid collaborator credentials. It is
// fatal for the request and never retried.
var ErrConfiguration = errors.New("extraction misconfigured")

// TransportError reports a failed OCR or AI call.
type TransportError struct {
	// Op is the orchestrator step that made the call
	Op string
	// Source is the collaborator that failed
	Source Source
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("extraction: %s via %s failed: %v", e.Op, e.Source, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// MalformedResponseError reports an AI response that arrived but breaks the
// output contract of its prompt.
type MalformedResponseError struct {
	Reason   string
	Response string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed AI response: %s", e.Reason)
}

// IsTransport reports whether err is, or wraps, a TransportError
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsMalformed reports whether err is, or wraps, a MalformedResponseError
func IsMalformed(err error) bool {
	var me *MalformedResponseError
	return errors.As(err, &me)
}
