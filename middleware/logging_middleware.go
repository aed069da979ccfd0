package middleware

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"port-rpc/errs"
	"port-rpc/message"
)

// LoggingMiddleware logs each call at debug level and each failed call at warn level.
func LoggingMiddleware(logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.Message) (json.RawMessage, error) {
			start := time.Now()
			result, err := next(ctx, call)
			fields := []zap.Field{
				zap.String("procedure", call.Procedure),
				zap.Uint32("token", call.Token),
				zap.Duration("duration", time.Since(start)),
			}
			if err != nil {
				logger.Warn("call failed", append(fields, zap.Stringer("kind", errs.KindOf(err)), zap.Error(err))...)
			} else {
				logger.Debug("call served", fields...)
			}
			return result, err
		}
	}
}
