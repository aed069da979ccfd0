package middleware

import (
	"context"
	"encoding/json"

	"golang.org/x/time/rate"

	"port-rpc/errs"
	"port-rpc/message"
)

// RateLimitMiddleware applies a token bucket to each of procedures. Calls over the limit fail
// with HandlerError "rate limit exceeded"; they are answered, never dropped. Names outside
// procedures get no bucket and pass straight through, so a peer cannot grow the table by
// sending made-up names.
func RateLimitMiddleware(procedures []string, r float64, burst int) Middleware {
	limiters := make(map[string]*rate.Limiter, len(procedures))
	for _, name := range procedures {
		limiters[name] = rate.NewLimiter(rate.Limit(r), burst)
	}

	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.Message) (json.RawMessage, error) {
			if l, ok := limiters[call.Procedure]; ok && !l.Allow() {
				return nil, errs.HandlerError.Printf("rate limit exceeded for %s", call.Procedure)
			}
			return next(ctx, call)
		}
	}
}
