// Package message defines the values exchanged between client and server.
//
// A Request is decoded from one frame sent by the client. The server answers every
// decoded (or undecodable) frame with exactly one Envelope, which carries either a result
// or a list of error records:
//
//	{"method": "add", "args": [2, 3]}          -> {"result": 5}
//	{"method": "nope"}                          -> {"errors": [{"method": "nope", "msg": "unknown method to call"}]}
package message

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Request is a single call: a method name plus positional and named arguments.
//
// After decoding, Args and Kwargs are never nil: absent or null fields become an empty
// slice and an empty map.
type Request struct {
	Method string         `json:"method"`
	Args   []any          `json:"args"`
	Kwargs map[string]any `json:"kwargs"`
}

// NewRequest builds a request with non-nil argument containers.
func NewRequest(method string, args []any, kwargs map[string]any) *Request {
	if args == nil {
		args = []any{}
	}
	if kwargs == nil {
		kwargs = map[string]any{}
	}
	return &Request{Method: method, Args: args, Kwargs: kwargs}
}

// ErrorRecord is one structured error inside an error envelope. Msg is always set; the
// other fields give context (offending method, field path, machine readable type).
type ErrorRecord struct {
	Loc    []string `json:"loc,omitempty"`
	Method string   `json:"method,omitempty"`
	Msg    string   `json:"msg"`
	Type   string   `json:"type,omitempty"`
}

// Envelope is the reply to one request.
//
//   - On success: Result holds the handler's return value, Errors is empty.
//   - On failure: Errors holds at least one record and Result is ignored.
//
// Envelopes decoded by a client keep Result as json.RawMessage; use DecodeResult.
type Envelope struct {
	Result any
	Errors []ErrorRecord
}

// NewResult wraps a successful return value.
func NewResult(v any) *Envelope {
	return &Envelope{Result: v}
}

// NewErrors builds an error envelope from one or more records.
func NewErrors(records ...ErrorRecord) *Envelope {
	return &Envelope{Errors: records}
}

// IsError reports whether the envelope carries errors.
func (e *Envelope) IsError() bool {
	return len(e.Errors) > 0
}

// DecodeResult unmarshals the result of a decoded envelope into v.
func (e *Envelope) DecodeResult(v any) error {
	if e.IsError() {
		return errors.New("message: envelope carries errors, not a result")
	}
	raw, ok := e.Result.(json.RawMessage)
	if !ok {
		// Built locally rather than decoded: round-trip through JSON.
		b, err := json.Marshal(e.Result)
		if err != nil {
			return errors.Wrap(err, "message: re-encode result")
		}
		raw = b
	}
	return json.Unmarshal(raw, v)
}

type wireResult struct {
	Result any `json:"result"`
}

type wireErrors struct {
	Errors []ErrorRecord `json:"errors"`
}

// MarshalJSON writes {"result": ...} or {"errors": [...]}.
func (e Envelope) MarshalJSON() ([]byte, error) {
	if len(e.Errors) > 0 {
		return json.Marshal(wireErrors{Errors: e.Errors})
	}
	return json.Marshal(wireResult{Result: e.Result})
}

// UnmarshalJSON accepts either wire shape. The result is kept undecoded.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var wire struct {
		Result json.RawMessage `json:"result"`
		Errors []ErrorRecord   `json:"errors"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if len(wire.Errors) > 0 {
		e.Result = nil
		e.Errors = wire.Errors
		return nil
	}
	if wire.Result == nil {
		return errors.New("message: envelope has neither result nor errors")
	}
	e.Result = wire.Result
	e.Errors = nil
	return nil
}
