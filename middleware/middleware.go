// Package middleware wraps request handling with cross-cutting behaviour.
package middleware

import (
	"context"

	"tiny-rpc/message"
)

// HandlerFunc handles one decoded request and always returns an envelope.
type HandlerFunc func(ctx context.Context, req *message.Request) *message.Envelope

type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares; the first one given is the outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

func errorEnvelope(msg string) *message.Envelope {
	return message.NewErrors(message.ErrorRecord{Msg: msg})
}
