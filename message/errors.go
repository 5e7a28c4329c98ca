package message

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// UnknownMethodMsg is the record message sent when no handler is registered for a name.
const UnknownMethodMsg = "unknown method to call"

// ValidationError reports a frame that is not a well-formed request. It carries one
// record per offending field and maps directly onto an error envelope.
type ValidationError struct {
	Records []ErrorRecord
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Records))
	for _, r := range e.Records {
		if len(r.Loc) > 0 {
			parts = append(parts, fmt.Sprintf("%s: %s", strings.Join(r.Loc, "."), r.Msg))
		} else {
			parts = append(parts, r.Msg)
		}
	}
	return fmt.Sprintf("%d validation error(s) for request: %s", len(e.Records), strings.Join(parts, "; "))
}

// UnknownMethodError reports a request for a method that is not registered.
type UnknownMethodError struct {
	Method string
}

func (e *UnknownMethodError) Error() string {
	return fmt.Sprintf("%s: %q", UnknownMethodMsg, e.Method)
}

// ExecutionError wraps a failure raised while binding arguments to, or running, a handler.
type ExecutionError struct {
	Method string
	Err    error
}

func (e *ExecutionError) Error() string {
	return e.Err.Error()
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// EnvelopeFromError maps the protocol-level error kinds onto an error envelope.
// Any other error becomes a single record holding its message.
func EnvelopeFromError(err error) *Envelope {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return NewErrors(verr.Records...)
	}

	var uerr *UnknownMethodError
	if errors.As(err, &uerr) {
		return NewErrors(ErrorRecord{Method: uerr.Method, Msg: UnknownMethodMsg})
	}

	// Execution errors expose only the message, never internal detail.
	var xerr *ExecutionError
	if errors.As(err, &xerr) {
		return NewErrors(ErrorRecord{Msg: xerr.Err.Error()})
	}

	return NewErrors(ErrorRecord{Msg: err.Error()})
}
