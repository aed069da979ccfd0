// Package discovery lets client contexts find the host endpoint.
//
// The host advertises where its channel listener can be reached; clients that are not
// handed a channel by their runtime resolve the address from here. There is exactly one
// host per channel name, so discovery never balances between instances.
package discovery

import "errors"

var ErrNotFound = errors.New("discovery: no host advertised")

// Instance is one advertised host endpoint.
type Instance struct {
	HostID    string `json:"host_id"`
	Addr      string `json:"addr"`      // host:port of the stream listener
	WSURL     string `json:"ws_url"`    // base WebSocket URL, empty if not served
	Transport string `json:"transport"` // "tcp" or "ws"
}

type Registry interface {
	Register(channelName string, instance Instance, ttl int64) error
	Deregister(channelName string, hostID string) error
	Discover(channelName string) ([]Instance, error)
}

// Resolve returns the single host advertised for channelName.
func Resolve(reg Registry, channelName string) (Instance, error) {
	instances, err := reg.Discover(channelName)
	if err != nil {
		return Instance{}, err
	}
	if len(instances) == 0 {
		return Instance{}, ErrNotFound
	}
	return instances[0], nil
}
