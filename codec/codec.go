// Package codec converts frame bodies to and from message values.
//
// The codec never sees the frame terminator (see package protocol); it only turns one
// frame body into a Request, and an Envelope back into a body. Request validation lives
// here so that every malformed frame surfaces as a *message.ValidationError, which the
// server turns directly into an error envelope.
package codec

import "tiny-rpc/message"

// Codec is the serialization contract used by both server and client.
type Codec interface {
	// DecodeRequest parses and validates one request body.
	// Invalid input yields a *message.ValidationError.
	DecodeRequest(data []byte) (*message.Request, error)
	// EncodeRequest serializes a request (client side).
	EncodeRequest(req *message.Request) ([]byte, error)
	// EncodeEnvelope serializes a reply (server side).
	EncodeEnvelope(env *message.Envelope) ([]byte, error)
	// DecodeEnvelope parses a reply (client side).
	DecodeEnvelope(data []byte) (*message.Envelope, error)
	// Name returns the codec name (for logging/debugging).
	Name() string
}

// Default returns the codec used on the wire.
func Default() Codec {
	return &JSONCodec{}
}
