package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"tiny-rpc/message"
)

// RateLimitedMsg is the error message of a request rejected by RateLimit.
const RateLimitedMsg = "rate limit exceeded"

// RateLimit shares one token bucket of r requests per second and the given burst across
// every connection. Rejected requests get an error reply; the connection stays open.
// When known is set, requests for methods it rejects pass through without spending a token
// so they still get the unknown-method reply.
func RateLimit(r float64, burst int, known func(string) bool) Middleware {
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Envelope {
			if known != nil && !known(req.Method) {
				return next(ctx, req)
			}
			if !limiter.Allow() {
				return errorEnvelope(RateLimitedMsg)
			}
			return next(ctx, req)
		}
	}
}
