package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"port-rpc/protocol"
)

// Hello is the body of the first frame a client sends on a stream channel.
type Hello struct {
	Name     string `json:"name"`
	Identity string `json:"identity"`
}

// StreamChannel runs over a net.Conn. Frames are self-delimiting (see protocol), so the
// reader is a single goroutine and writers share one mutex.
type StreamChannel struct {
	base
	conn    net.Conn
	writeMu sync.Mutex
}

// NewStreamChannel wraps conn without any handshake; name and peerID are taken as given.
func NewStreamChannel(conn net.Conn, name, peerID string) *StreamChannel {
	c := &StreamChannel{conn: conn}
	c.init(name, peerID)
	return c
}

// Pipe returns the two ends of an in-memory stream channel. hostSide reports the given
// name and peer identity, the way a runtime reports an inbound connection.
func Pipe(name, peerID string) (hostSide, clientSide *StreamChannel) {
	a, b := net.Pipe()
	return NewStreamChannel(a, name, peerID), NewStreamChannel(b, name, peerID)
}

// DialStream connects to a host over network/addr and sends the hello frame.
func DialStream(ctx context.Context, network, addr string, hello Hello) (*StreamChannel, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	body, err := json.Marshal(hello)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := protocol.Encode(conn, &protocol.Header{MsgType: protocol.MsgTypeHello}, body); err != nil {
		conn.Close()
		return nil, fmt.Errorf("transport: send hello: %w", err)
	}
	return NewStreamChannel(conn, hello.Name, hello.Identity), nil
}

// AcceptStream reads the hello frame from a freshly accepted conn and returns the channel it
// announces. A zero timeout waits indefinitely. The conn is not closed on error.
func AcceptStream(conn net.Conn, timeout time.Duration) (*StreamChannel, error) {
	if timeout > 0 {
		conn.SetReadDeadline(time.Now().Add(timeout))
		defer conn.SetReadDeadline(time.Time{})
	}
	frame, err := protocol.ReadFrame(conn)
	if err != nil {
		return nil, fmt.Errorf("transport: read hello: %w", err)
	}
	h, body, err := protocol.Parse(frame)
	if err != nil {
		return nil, fmt.Errorf("transport: read hello: %w", err)
	}
	if h.MsgType != protocol.MsgTypeHello {
		return nil, fmt.Errorf("transport: expected hello, got message type %d", h.MsgType)
	}
	var hello Hello
	if err := json.Unmarshal(body, &hello); err != nil {
		return nil, fmt.Errorf("transport: decode hello: %w", err)
	}
	return NewStreamChannel(conn, hello.Name, hello.Identity), nil
}

func (c *StreamChannel) ReadFrame() ([]byte, error) {
	return protocol.ReadFrame(c.conn)
}

func (c *StreamChannel) WriteFrame(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.State() == StateClosed {
		return net.ErrClosed
	}
	_, err := c.conn.Write(frame)
	return err
}

func (c *StreamChannel) Close() error {
	if !c.markClosed() {
		return nil
	}
	return c.conn.Close()
}

// RemoteAddr returns the peer address of the underlying conn.
func (c *StreamChannel) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}
