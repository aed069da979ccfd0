package client

import (
	"context"
	"encoding/json"

	"port-rpc/procedure"
)

// QueryKey derives the cache key for a query: the procedure path followed by the
// serialized arguments.
func QueryKey(name string, args any) (string, error) {
	data, err := json.Marshal(args)
	if err != nil {
		return "", err
	}
	return name + ":" + string(data), nil
}

// Query is the call site of an idempotent procedure. Its results may be cached under Key.
type Query[I, O any] struct {
	c    *Client
	proc procedure.Procedure[I, O]
}

func NewQuery[I, O any](c *Client, proc procedure.Procedure[I, O]) Query[I, O] {
	return Query[I, O]{c: c, proc: proc}
}

func (q Query[I, O]) Name() string {
	return q.proc.Name
}

func (q Query[I, O]) Key(args I) (string, error) {
	return QueryKey(q.proc.Name, args)
}

func (q Query[I, O]) Call(ctx context.Context, args I) (O, error) {
	var out O
	err := q.c.Invoke(ctx, q.proc.Name, args, &out)
	return out, err
}

// Mutation is the call site of a state-changing procedure. The stub never invalidates
// anything on its own; the caller passes the cache write to run on success.
type Mutation[I, O any] struct {
	c    *Client
	proc procedure.Procedure[I, O]
}

func NewMutation[I, O any](c *Client, proc procedure.Procedure[I, O]) Mutation[I, O] {
	return Mutation[I, O]{c: c, proc: proc}
}

func (m Mutation[I, O]) Name() string {
	return m.proc.Name
}

// Call runs the mutation. onSuccess, if not nil, is called with the result before Call
// returns and only when the call succeeded.
func (m Mutation[I, O]) Call(ctx context.Context, args I, onSuccess func(O)) (O, error) {
	var out O
	if err := m.c.Invoke(ctx, m.proc.Name, args, &out); err != nil {
		return out, err
	}
	if onSuccess != nil {
		onSuccess(out)
	}
	return out, nil
}
