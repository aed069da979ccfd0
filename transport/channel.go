// Package transport provides the duplex channels port-rpc runs over and the client side of
// the call/response exchange.
//
// A Channel moves whole frames in both directions. Each channel has a declared name and a
// peer identity; the host decides from those two values whether to claim it.
//
// Implementations:
//   - StreamChannel: any net.Conn (TCP, unix socket, net.Pipe). Over a real socket the first
//     frame is a hello carrying name and identity.
//   - WSChannel: a WebSocket connection, one frame per binary message.
package transport

import (
	"sync"
	"sync/atomic"

	"github.com/rs/xid"
)

// State is the lifecycle of a channel.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Channel is a persistent duplex path between the host and one client context.
//
// ReadFrame must be called from a single goroutine. WriteFrame and Close are safe for
// concurrent use.
type Channel interface {
	ID() string     // process-local id, for diagnostics
	Name() string   // declared channel name
	PeerID() string // runtime identity of the peer
	State() State
	// MarkOpen records that the channel passed authentication and carries RPC traffic.
	MarkOpen()
	ReadFrame() ([]byte, error)
	WriteFrame(frame []byte) error
	Close() error
	// Done is closed once the channel is closed.
	Done() <-chan struct{}
}

// base holds what every channel implementation shares.
type base struct {
	id     string
	name   string
	peerID string
	state  atomic.Int32
	done   chan struct{}
	once   sync.Once
}

func (b *base) init(name, peerID string) {
	b.id = xid.New().String()
	b.name = name
	b.peerID = peerID
	b.done = make(chan struct{})
}

func (b *base) ID() string {
	return b.id
}

func (b *base) Name() string {
	return b.name
}

func (b *base) PeerID() string {
	return b.peerID
}

func (b *base) State() State {
	return State(b.state.Load())
}

func (b *base) MarkOpen() {
	b.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen))
}

func (b *base) Done() <-chan struct{} {
	return b.done
}

// markClosed flips the state and reports whether this call did it.
func (b *base) markClosed() bool {
	closed := false
	b.once.Do(func() {
		b.state.Store(int32(StateClosed))
		close(b.done)
		closed = true
	})
	return closed
}
