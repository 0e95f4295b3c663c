package mqttclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketSubprotocol is the MQTT WebSocket subprotocol.
const WebSocketSubprotocol = "mqtt"

// wsConn turns a WebSocket into the byte stream the codec reads. An MQTT
// packet may span several binary messages and a message may hold several
// packets.
type wsConn struct {
	*websocket.Conn
	r io.Reader
}

func (c *wsConn) Read(p []byte) (int, error) {
	for {
		if c.r == nil {
			typ, r, err := c.NextReader()
			if err != nil {
				return 0, err
			}
			if typ != websocket.BinaryMessage {
				return 0, fmt.Errorf("%w: non-binary WebSocket message", ErrProtocolError)
			}
			c.r = r
		}

		n, err := c.r.Read(p)
		if errors.Is(err, io.EOF) {
			c.r = nil
			if n == 0 {
				continue
			}
			return n, nil
		}
		return n, err
	}
}

// Write sends b as one binary message.
func (c *wsConn) Write(b []byte) (int, error) {
	if err := c.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (c *wsConn) SetDeadline(t time.Time) error {
	if err := c.SetReadDeadline(t); err != nil {
		return err
	}
	return c.SetWriteDeadline(t)
}

// Close sends a normal close frame before closing the socket.
func (c *wsConn) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return c.Conn.Close()
}

// WSDialer connects to brokers over ws:// and wss:// URLs.
type WSDialer struct {
	// Dialer is the gorilla dialer; nil uses one offering the mqtt subprotocol.
	Dialer *websocket.Dialer

	// Header is sent with the opening handshake.
	Header http.Header
}

// NewWSDialer returns a dialer offering the mqtt subprotocol.
func NewWSDialer() *WSDialer {
	return &WSDialer{Dialer: newGorillaDialer()}
}

func newGorillaDialer() *websocket.Dialer {
	return &websocket.Dialer{
		Subprotocols:     []string{WebSocketSubprotocol},
		HandshakeTimeout: 30 * time.Second,
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
	}
}

// Dial performs the WebSocket handshake with address.
func (d *WSDialer) Dial(ctx context.Context, address string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = newGorillaDialer()
	}

	conn, resp, err := dialer.DialContext(ctx, address, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake with %s failed (%s): %w", address, resp.Status, err)
		}
		return nil, fmt.Errorf("websocket dial %s: %w", address, err)
	}

	return &wsConn{Conn: conn}, nil
}

// SetProxyFromEnvironment makes the handshake honor HTTP_PROXY, HTTPS_PROXY
// and NO_PROXY.
func (d *WSDialer) SetProxyFromEnvironment() {
	if d.Dialer == nil {
		d.Dialer = newGorillaDialer()
	}
	d.Dialer.Proxy = http.ProxyFromEnvironment
}
