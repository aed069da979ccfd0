// Package client is the calling side of port-rpc.
//
// A Client owns at most one channel to the host. The channel is opened lazily by the first
// call and only ever attempted once: if the host refuses it, or it closes later, every call
// from then on fails with ChannelClosed. Reconnecting means creating a new Client.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"port-rpc/codec"
	"port-rpc/discovery"
	"port-rpc/errs"
	"port-rpc/transport"
)

// DialFunc opens the channel to the host.
type DialFunc func(ctx context.Context) (transport.Channel, error)

type Client struct {
	dial      DialFunc
	codecType codec.CodecType
	heartbeat time.Duration
	logger    *zap.Logger

	mu        sync.Mutex
	attempted bool
	transport *transport.ClientTransport
	dialErr   error
}

type Option func(*Client)

func WithCodec(ct codec.CodecType) Option {
	return func(c *Client) { c.codecType = ct }
}

// WithHeartbeat makes the client send keepalive frames while the channel is idle.
func WithHeartbeat(interval time.Duration) Option {
	return func(c *Client) { c.heartbeat = interval }
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func New(dial DialFunc, opts ...Option) *Client {
	c := &Client{dial: dial, codecType: codec.CodecTypeJSON}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c
}

// connect opens the channel on first use. Concurrent first calls wait for the same attempt.
func (c *Client) connect(ctx context.Context) (*transport.ClientTransport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.attempted {
		c.attempted = true
		ch, err := c.dial(ctx)
		if err != nil {
			c.logger.Warn("connect failed", zap.Error(err))
			c.dialErr = errs.ChannelClosed.Printf("connect: %v", err)
		} else {
			c.transport = transport.NewClientTransport(ch, c.codecType, c.heartbeat, c.logger)
		}
	}
	return c.transport, c.dialErr
}

// Invoke calls procedure with args and decodes the result into reply (which may be nil).
//
// It waits until the host answers or the channel closes. If ctx ends first the call is
// abandoned locally and ctx.Err() is returned; the host is not told and may still run it.
func (c *Client) Invoke(ctx context.Context, procedure string, args, reply any) error {
	t, err := c.connect(ctx)
	if err != nil {
		return err
	}

	token, slot, err := t.Send(procedure, args)
	if err != nil {
		return err
	}

	select {
	case msg := <-slot:
		if err := msg.Err(); err != nil {
			return err
		}
		if reply == nil || len(msg.Payload) == 0 {
			return nil
		}
		if err := json.Unmarshal(msg.Payload, reply); err != nil {
			return errs.SerializationError.Printf("%s: decode result: %v", procedure, err)
		}
		return nil
	case <-ctx.Done():
		t.Abandon(token)
		return ctx.Err()
	}
}

// Close closes the channel, if one was opened, and rejects pending calls.
// A closed client never reconnects.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.attempted {
		c.attempted = true
		c.dialErr = errs.ChannelClosed.Print("client closed")
		return nil
	}
	if c.transport == nil {
		return nil
	}
	return c.transport.Close()
}

// DialChannel hands an already established channel to the client, as when the runtime
// opens it on the client's behalf.
func DialChannel(ch transport.Channel) DialFunc {
	return func(context.Context) (transport.Channel, error) {
		return ch, nil
	}
}

// DialStream connects over TCP (or any stream network) and announces name and identity.
func DialStream(network, addr, name, identity string) DialFunc {
	return func(ctx context.Context) (transport.Channel, error) {
		return transport.DialStream(ctx, network, addr, transport.Hello{Name: name, Identity: identity})
	}
}

// DialWebSocket connects to a host's WebSocket endpoint under baseURL.
func DialWebSocket(baseURL, name, identity string) DialFunc {
	return func(ctx context.Context) (transport.Channel, error) {
		return transport.DialWebSocket(ctx, baseURL, transport.Hello{Name: name, Identity: identity})
	}
}

// DialDiscovered resolves the host advertised for name and connects to it, preferring the
// stream endpoint.
func DialDiscovered(reg discovery.Registry, name, identity string) DialFunc {
	return func(ctx context.Context) (transport.Channel, error) {
		inst, err := discovery.Resolve(reg, name)
		if err != nil {
			return nil, err
		}
		switch {
		case inst.Addr != "":
			return DialStream("tcp", inst.Addr, name, identity)(ctx)
		case inst.WSURL != "":
			return DialWebSocket(inst.WSURL, name, identity)(ctx)
		}
		return nil, fmt.Errorf("client: host %s advertised no endpoint", inst.HostID)
	}
}
