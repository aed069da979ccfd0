package counter

import (
	"context"

	"port-rpc/client"
	"port-rpc/procedure"
)

// Client exposes the counter procedures on a client stub.
type Client struct {
	get       client.Query[procedure.Void, int64]
	increment client.Mutation[procedure.Void, int64]
}

func NewClient(c *client.Client) *Client {
	return &Client{
		get:       client.NewQuery(c, Get),
		increment: client.NewMutation(c, Increment),
	}
}

func (c *Client) Get(ctx context.Context) (int64, error) {
	return c.get.Call(ctx, procedure.Void{})
}

// GetKey is the cache key of Get.
func (c *Client) GetKey() string {
	key, _ := c.get.Key(procedure.Void{})
	return key
}

// Increment bumps the counter. onSuccess receives the new value, typically to write it
// into the cache entry under GetKey.
func (c *Client) Increment(ctx context.Context, onSuccess func(int64)) (int64, error) {
	return c.increment.Call(ctx, procedure.Void{}, onSuccess)
}
