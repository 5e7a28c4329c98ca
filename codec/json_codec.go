package codec

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/pkg/errors"

	"tiny-rpc/message"
)

// Validation error types, mirrored in the "type" field of each record.
const (
	TypeJSONDecode   = "value_error.jsondecode"
	TypeMissing      = "value_error.missing"
	TypeNotNone      = "type_error.none.not_allowed"
	TypeStr          = "type_error.str"
	TypeMinLength    = "value_error.any_str.min_length"
	TypeList         = "type_error.list"
	TypeDict         = "type_error.dict"
	rootLoc          = "__root__"
	fieldMethod      = "method"
	fieldArgs        = "args"
	fieldKwargs      = "kwargs"
	msgFieldRequired = "field required"
)

// JSONCodec reads and writes one JSON object per frame.
// Numbers are decoded as json.Number so integers survive untouched until argument binding.
type JSONCodec struct{}

// Name returns "json".
func (c *JSONCodec) Name() string {
	return "json"
}

// DecodeRequest parses one frame into a Request. Every problem found is reported as a
// record of a *message.ValidationError, in the order method, args, kwargs.
func (c *JSONCodec) DecodeRequest(data []byte) (*message.Request, error) {
	fields, rec := decodeObject(data)
	if rec != nil {
		return nil, &message.ValidationError{Records: []message.ErrorRecord{*rec}}
	}

	var records []message.ErrorRecord
	req := message.NewRequest("", nil, nil)

	// method: required, non-null, non-empty string
	raw, ok := fields[fieldMethod]
	switch {
	case !ok:
		records = append(records, fieldError(fieldMethod, msgFieldRequired, TypeMissing))
	case isNull(raw):
		records = append(records, fieldError(fieldMethod, "none is not an allowed value", TypeNotNone))
	default:
		if err := json.Unmarshal(raw, &req.Method); err != nil {
			records = append(records, fieldError(fieldMethod, "str type expected", TypeStr))
		} else if req.Method == "" {
			records = append(records, fieldError(fieldMethod, "ensure this value has at least 1 characters", TypeMinLength))
		}
	}

	// args: optional list, null means empty
	if raw, ok := fields[fieldArgs]; ok && !isNull(raw) {
		var args []any
		if err := decodeValue(raw, &args); err != nil {
			records = append(records, fieldError(fieldArgs, "value is not a valid list", TypeList))
		} else {
			req.Args = args
		}
	}

	// kwargs: optional object, null means empty
	if raw, ok := fields[fieldKwargs]; ok && !isNull(raw) {
		var kwargs map[string]any
		if err := decodeValue(raw, &kwargs); err != nil {
			records = append(records, fieldError(fieldKwargs, "value is not a valid dict", TypeDict))
		} else {
			req.Kwargs = kwargs
		}
	}

	if len(records) > 0 {
		return nil, &message.ValidationError{Records: records}
	}
	return req, nil
}

// EncodeRequest marshals req for the wire. Nil args and kwargs are sent as [] and {}.
func (c *JSONCodec) EncodeRequest(req *message.Request) ([]byte, error) {
	out := message.NewRequest(req.Method, req.Args, req.Kwargs)
	b, err := json.Marshal(out)
	if err != nil {
		return nil, errors.Wrap(err, "codec: encode request")
	}
	return b, nil
}

// EncodeEnvelope marshals a reply. It fails for results JSON cannot represent, such as NaN.
func (c *JSONCodec) EncodeEnvelope(env *message.Envelope) ([]byte, error) {
	b, err := json.Marshal(env)
	if err != nil {
		return nil, errors.Wrap(err, "codec: encode envelope")
	}
	return b, nil
}

// DecodeEnvelope parses a reply frame.
func (c *JSONCodec) DecodeEnvelope(data []byte) (*message.Envelope, error) {
	env := &message.Envelope{}
	if err := json.Unmarshal(data, env); err != nil {
		return nil, errors.Wrap(err, "codec: decode envelope")
	}
	return env, nil
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

// decodeObject checks that data holds exactly one JSON object and splits it into raw fields.
func decodeObject(data []byte) (map[string]json.RawMessage, *message.ErrorRecord) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		rec := rootError("request is empty")
		return nil, &rec
	}
	if trimmed[0] != '{' {
		rec := rootError("request must be a JSON object")
		return nil, &rec
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	var fields map[string]json.RawMessage
	if err := dec.Decode(&fields); err != nil {
		rec := rootError("invalid JSON: " + err.Error())
		return nil, &rec
	}
	if _, err := dec.Token(); err != io.EOF {
		rec := rootError("invalid JSON: unexpected data after request object")
		return nil, &rec
	}
	return fields, nil
}

func decodeValue(raw json.RawMessage, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(v)
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func fieldError(field, msg, typ string) message.ErrorRecord {
	return message.ErrorRecord{Loc: []string{field}, Msg: msg, Type: typ}
}

func rootError(msg string) message.ErrorRecord {
	return message.ErrorRecord{Loc: []string{rootLoc}, Msg: msg, Type: TypeJSONDecode}
}
