package middleware

import (
	"context"
	"encoding/json"
	"time"

	"port-rpc/errs"
	"port-rpc/message"
	"port-rpc/metrics"
)

// MetricsMiddleware records call counts and latency per procedure.
func MetricsMiddleware(m *metrics.Host) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.Message) (json.RawMessage, error) {
			start := time.Now()
			result, err := next(ctx, call)
			m.CallDuration.WithLabelValues(call.Procedure).Observe(time.Since(start).Seconds())
			m.Calls.WithLabelValues(call.Procedure, errs.KindOf(err).String()).Inc()
			return result, err
		}
	}
}
