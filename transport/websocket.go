package transport

import (
	"context"
	"fmt"
	"net/http"
	"path"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// SenderHeader carries the client's runtime identity on the WebSocket upgrade request.
const SenderHeader = "X-Port-Sender"

// WSChannel carries one frame per binary WebSocket message.
type WSChannel struct {
	base
	conn    *websocket.Conn
	writeMu sync.Mutex // gorilla allows one concurrent writer
}

func newWSChannel(conn *websocket.Conn, name, peerID string) *WSChannel {
	c := &WSChannel{conn: conn}
	c.init(name, peerID)
	return c
}

// UpgradeWebSocket upgrades an HTTP request to a channel. The channel name is the last
// element of the request path, the peer identity is read from SenderHeader.
func UpgradeWebSocket(upgrader *websocket.Upgrader, w http.ResponseWriter, r *http.Request) (*WSChannel, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	name := path.Base(strings.TrimSuffix(r.URL.Path, "/"))
	return newWSChannel(conn, name, r.Header.Get(SenderHeader)), nil
}

// DialWebSocket opens a channel named hello.Name under baseURL, e.g.
// ws://127.0.0.1:7420/rpc + "port-rpc".
func DialWebSocket(ctx context.Context, baseURL string, hello Hello) (*WSChannel, error) {
	url := strings.TrimSuffix(baseURL, "/") + "/" + hello.Name
	header := http.Header{}
	header.Set(SenderHeader, hello.Identity)
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("transport: dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("transport: dial %s: %w", url, err)
	}
	return newWSChannel(conn, hello.Name, hello.Identity), nil
}

// ReadFrame returns the next data message. Text messages are returned as-is and fail
// frame parsing further up.
func (c *WSChannel) ReadFrame() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *WSChannel) WriteFrame(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.State() == StateClosed {
		return websocket.ErrCloseSent
	}
	return c.conn.WriteMessage(websocket.BinaryMessage, frame)
}

func (c *WSChannel) Close() error {
	if !c.markClosed() {
		return nil
	}
	return c.conn.Close()
}
