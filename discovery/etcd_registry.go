package discovery

// EtcdRegistry stores advertisements in etcd:
//
//	Key:   /port-rpc/{ChannelName}/{HostID}
//	Value: JSON-encoded Instance
//
// Registration uses a TTL lease kept alive in the background: if the host dies, the lease
// expires and the entry disappears with it.

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

const keyPrefix = "/port-rpc/"

// EtcdRegistry implements Registry using etcd v3.
type EtcdRegistry struct {
	client  *clientv3.Client
	timeout time.Duration
	logger  *zap.Logger
}

// NewEtcdRegistry creates a registry connected to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string, timeout time.Duration, logger *zap.Logger) (*EtcdRegistry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: timeout,
		Logger:      logger.Named("etcd"),
	})
	if err != nil {
		return nil, fmt.Errorf("discovery: connect etcd: %w", err)
	}
	return &EtcdRegistry{client: c, timeout: timeout, logger: logger}, nil
}

func key(channelName, hostID string) string {
	return keyPrefix + channelName + "/" + hostID
}

// Register advertises instance with a TTL lease and keeps the lease alive.
//
// leaseID stays local: one EtcdRegistry may be shared by several hosts in tests.
func (r *EtcdRegistry) Register(channelName string, instance Instance, ttl int64) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return err
	}
	val, err := json.Marshal(instance)
	if err != nil {
		return err
	}
	if _, err = r.client.Put(ctx, key(channelName, instance.HostID), string(val), clientv3.WithLease(lease.ID)); err != nil {
		return err
	}

	ch, err := r.client.KeepAlive(context.Background(), lease.ID)
	if err != nil {
		return err
	}
	go func() {
		for range ch {
		}
		r.logger.Debug("lease keepalive stopped", zap.String("channel", channelName), zap.String("host_id", instance.HostID))
	}()
	return nil
}

// Deregister removes an advertisement. Called during graceful shutdown before the
// listener closes.
func (r *EtcdRegistry) Deregister(channelName string, hostID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	_, err := r.client.Delete(ctx, key(channelName, hostID))
	return err
}

// Discover returns the instances advertised under channelName.
func (r *EtcdRegistry) Discover(channelName string) ([]Instance, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	resp, err := r.client.Get(ctx, keyPrefix+channelName+"/", clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	instances := make([]Instance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var instance Instance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			r.logger.Warn("skipping malformed advertisement", zap.ByteString("key", kv.Key))
			continue
		}
		instances = append(instances, instance)
	}
	return instances, nil
}

// Close releases the etcd client.
func (r *EtcdRegistry) Close() error {
	return r.client.Close()
}
