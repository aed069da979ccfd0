package server

import (
	"context"
	"sync"

	"port-rpc/codec"
	"port-rpc/message"
)

type queuedCall struct {
	codec codec.CodecType
	msg   *message.Message
}

// callQueue is an unbounded FIFO between a channel's pump and its worker. The pump never
// blocks on it, so it keeps reading (and notices a close) while a handler runs.
type callQueue struct {
	mu     sync.Mutex
	calls  []queuedCall
	signal chan struct{}
}

func newCallQueue() *callQueue {
	return &callQueue{signal: make(chan struct{}, 1)}
}

func (q *callQueue) push(c queuedCall) {
	q.mu.Lock()
	q.calls = append(q.calls, c)
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// pop returns the oldest call, waiting for one if the queue is empty. It reports false
// once ctx is done; calls still queued then are discarded.
func (q *callQueue) pop(ctx context.Context) (queuedCall, bool) {
	for {
		if ctx.Err() != nil {
			return queuedCall{}, false
		}
		q.mu.Lock()
		if len(q.calls) > 0 {
			c := q.calls[0]
			q.calls[0] = queuedCall{}
			q.calls = q.calls[1:]
			q.mu.Unlock()
			return c, true
		}
		q.mu.Unlock()

		select {
		case <-q.signal:
		case <-ctx.Done():
			return queuedCall{}, false
		}
	}
}
