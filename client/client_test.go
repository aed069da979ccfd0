package client_test

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"port-rpc/client"
	"port-rpc/counter"
	"port-rpc/errs"
	"port-rpc/procedure"
	"port-rpc/server"
	"port-rpc/transport"
)

const (
	channelName = "port-rpc"
	hostID      = "ext-7f3a"
)

func newHost(t *testing.T) *server.Server {
	t.Helper()
	srv := server.NewServer(channelName, hostID)
	if err := srv.Register(counter.NewService()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { srv.Shutdown(time.Second) })
	return srv
}

// connect opens an in-memory channel announcing identity and offers it to srv.
func connect(t *testing.T, srv *server.Server, identity string) *client.Client {
	t.Helper()
	hostSide, clientSide := transport.Pipe(channelName, identity)
	srv.OnConnectionAttempt(hostSide)
	c := client.New(client.DialChannel(clientSide))
	t.Cleanup(func() { c.Close() })
	return c
}

func TestQueryKey(t *testing.T) {
	c := client.New(nil)
	q := client.NewQuery(c, counter.Get)
	key, err := q.Key(procedure.Void{})
	if err != nil {
		t.Fatal(err)
	}
	if key != "counter.get:{}" {
		t.Fatalf("expect counter.get:{}, got %s", key)
	}

	key2, _ := client.QueryKey("counter.get", procedure.Void{})
	if key != key2 {
		t.Fatalf("keys differ: %s vs %s", key, key2)
	}
}

func TestMutationWritesCache(t *testing.T) {
	srv := newHost(t)
	cc := counter.NewClient(connect(t, srv, hostID))
	ctx := context.Background()

	cache := map[string]int64{}
	v, err := cc.Get(ctx)
	if err != nil {
		t.Fatal(err)
	}
	cache[cc.GetKey()] = v
	if cache[cc.GetKey()] != 0 {
		t.Fatalf("expect 0, got %d", v)
	}

	v, err = cc.Increment(ctx, func(n int64) { cache[cc.GetKey()] = n })
	if err != nil {
		t.Fatal(err)
	}
	if v != 1 || cache[cc.GetKey()] != 1 {
		t.Fatalf("expect 1 in result and cache, got %d / %d", v, cache[cc.GetKey()])
	}

	// the cache holds the mutation result without another get round trip
	v, err = cc.Get(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if v != cache[cc.GetKey()] {
		t.Fatalf("cache %d disagrees with host %d", cache[cc.GetKey()], v)
	}
}

func TestMutationFailureSkipsCallback(t *testing.T) {
	srv := newHost(t)
	boom := procedure.Define[procedure.Void, int64]("test.boom")
	err := procedure.Handle(srv.Procedures(), boom, func(ctx context.Context, _ procedure.Void) (int64, error) {
		return 0, errors.New("boom")
	})
	if err != nil {
		t.Fatal(err)
	}

	c := connect(t, srv, hostID)
	called := false
	_, err = client.NewMutation(c, boom).Call(context.Background(), procedure.Void{}, func(int64) { called = true })
	if !errors.Is(err, errs.HandlerError) {
		t.Fatalf("expect HandlerError, got %v", err)
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Fatalf("handler message lost: %v", err)
	}
	if called {
		t.Fatal("onSuccess ran for a failed mutation")
	}
}

func TestRejectedChannelFailsEveryCall(t *testing.T) {
	srv := newHost(t)
	cc := counter.NewClient(connect(t, srv, "intruder"))

	for i := 0; i < 3; i++ {
		_, err := cc.Get(context.Background())
		if !errors.Is(err, errs.ChannelClosed) {
			t.Fatalf("call %d: expect ChannelClosed, got %v", i, err)
		}
	}
}

func TestConnectAttemptedOnce(t *testing.T) {
	var dials atomic.Int32
	c := client.New(func(ctx context.Context) (transport.Channel, error) {
		dials.Add(1)
		return nil, errors.New("connection refused")
	})

	for i := 0; i < 3; i++ {
		err := c.Invoke(context.Background(), counter.Get.Name, procedure.Void{}, nil)
		if !errors.Is(err, errs.ChannelClosed) {
			t.Fatalf("expect ChannelClosed, got %v", err)
		}
	}
	if n := dials.Load(); n != 1 {
		t.Fatalf("expect 1 dial, got %d", n)
	}
}

func TestCloseBeforeConnect(t *testing.T) {
	var dials atomic.Int32
	c := client.New(func(ctx context.Context) (transport.Channel, error) {
		dials.Add(1)
		return nil, errors.New("unreachable")
	})
	c.Close()

	err := c.Invoke(context.Background(), counter.Get.Name, procedure.Void{}, nil)
	if !errors.Is(err, errs.ChannelClosed) {
		t.Fatalf("expect ChannelClosed, got %v", err)
	}
	if dials.Load() != 0 {
		t.Fatal("closed client dialed")
	}
}

func TestInvokeContextCancel(t *testing.T) {
	srv := newHost(t)
	release := make(chan struct{})
	block := procedure.Define[procedure.Void, int64]("test.block")
	err := procedure.Handle(srv.Procedures(), block, func(ctx context.Context, _ procedure.Void) (int64, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return 0, nil
	})
	if err != nil {
		t.Fatal(err)
	}

	c := connect(t, srv, hostID)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := c.Invoke(ctx, block.Name, procedure.Void{}, nil); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expect DeadlineExceeded, got %v", err)
	}

	// the channel is still usable once the abandoned call, which runs ahead of later calls
	// on the same channel, completes
	close(release)
	v, err := counter.NewClient(c).Get(context.Background())
	if err != nil || v != 0 {
		t.Fatalf("expect 0, nil; got %d, %v", v, err)
	}
}

func TestUnreachableHost(t *testing.T) {
	dials := map[string]client.DialFunc{
		"tcp": client.DialStream("tcp", "127.0.0.1:1", channelName, hostID),
		"ws":  client.DialWebSocket("ws://127.0.0.1:1/rpc", channelName, hostID),
	}
	for name, dial := range dials {
		err := client.New(dial).Invoke(context.Background(), counter.Get.Name, procedure.Void{}, nil)
		if !errors.Is(err, errs.ChannelClosed) {
			t.Fatalf("%s: expect ChannelClosed, got %v", name, err)
		}
	}
}
