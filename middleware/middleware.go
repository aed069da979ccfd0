// Package middleware wraps the host's dispatch path.
//
// A middleware sees every decoded call before it reaches the procedure registry and the
// outcome on the way back. Chain(A, B, C)(h) runs A.before, B.before, C.before, h, C.after,
// B.after, A.after.
package middleware

import (
	"context"
	"encoding/json"

	"port-rpc/message"
)

// HandlerFunc handles one call. The error, if any, is sent to the client as an error frame.
type HandlerFunc func(ctx context.Context, call *message.Message) (json.RawMessage, error)

type Middleware func(next HandlerFunc) HandlerFunc

// Chain 将多个中间件组合成一个中间件
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
