package mqttclient

import (
	"context"
	"fmt"
	"net"
	"time"
)

// UnixDialer connects to a broker listening on a Unix domain socket, given
// as unix:///run/mqtt.sock or unix://localhost/run/mqtt.sock.
type UnixDialer struct {
	// Timeout bounds the connect call in addition to ctx. Zero means none.
	Timeout time.Duration
}

// NewUnixDialer returns a Unix socket dialer without a timeout.
func NewUnixDialer() *UnixDialer {
	return &UnixDialer{}
}

// Dial connects to the socket file at path.
func (d *UnixDialer) Dial(ctx context.Context, path string) (Conn, error) {
	dialer := net.Dialer{Timeout: d.Timeout}
	conn, err := dialer.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, fmt.Errorf("unix socket %s: %w", path, err)
	}
	return conn, nil
}
