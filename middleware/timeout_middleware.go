package middleware

import (
	"context"
	"time"

	"tiny-rpc/message"
)

// TimedOutMsg is the error message of a request cut off by Timeout.
const TimedOutMsg = "request timed out"

// Timeout bounds each request to d. The handler keeps running after the deadline but its
// reply is discarded; handlers that take a context see it cancelled. d <= 0 disables it.
func Timeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if d <= 0 {
			return next
		}
		return func(ctx context.Context, req *message.Request) *message.Envelope {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()

			done := make(chan *message.Envelope, 1)
			go func() {
				done <- next(ctx, req)
			}()

			select {
			case env := <-done:
				return env
			case <-ctx.Done():
				return errorEnvelope(TimedOutMsg)
			}
		}
	}
}
