package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/VictoriaMetrics/metrics"

	"tiny-rpc/message"
)

// UnknownMethodLabel replaces names that are not registered so clients cannot grow the
// label set without bound.
const UnknownMethodLabel = "_unknown"

// Metrics records a request counter and a duration histogram per method and status in set.
// known decides which method names are used as labels verbatim; nil accepts every name.
func Metrics(set *metrics.Set, known func(string) bool) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Envelope {
			start := time.Now()
			env := next(ctx, req)

			name := req.Method
			if known != nil && !known(name) {
				name = UnknownMethodLabel
			}
			status := "ok"
			if env.IsError() {
				status = "error"
			}
			set.GetOrCreateCounter(fmt.Sprintf(`tinyrpc_requests_total{method=%q,status=%q}`, name, status)).Inc()
			set.GetOrCreateHistogram(fmt.Sprintf(`tinyrpc_request_duration_seconds{method=%q}`, name)).UpdateDuration(start)
			return env
		}
	}
}
