package middleware

import (
	"context"
	"time"

	"tiny-rpc/logging"
	"tiny-rpc/message"
)

// Logging logs every request with its duration at debug level. Error replies are logged at
// warn level with their first message.
func Logging(log logging.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Envelope {
			start := time.Now()
			env := next(ctx, req)
			duration := time.Since(start)
			if env.IsError() && len(env.Errors) > 0 {
				log.Warningf("method=%s duration=%s error=%q", req.Method, duration, env.Errors[0].Msg)
				return env
			}
			log.Debugf("method=%s duration=%s", req.Method, duration)
			return env
		}
	}
}
