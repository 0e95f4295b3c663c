package mqttclient

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vitalvas/mqttclient/packet"
)

const testTimeout = 5 * time.Second

// mockBroker accepts connections on 127.0.0.1 and hands them to the test,
// which scripts the broker side packet by packet.
type mockBroker struct {
	listener net.Listener
	conns    chan *brokerConn
}

func newMockBroker(t *testing.T) *mockBroker {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	b := &mockBroker{
		listener: listener,
		conns:    make(chan *brokerConn, 16),
	}

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			b.conns <- &brokerConn{conn: conn}
		}
	}()

	t.Cleanup(func() { listener.Close() })
	return b
}

func (b *mockBroker) addr() string {
	return "tcp://" + b.listener.Addr().String()
}

// accept waits for the next client connection.
func (b *mockBroker) accept(t *testing.T) *brokerConn {
	t.Helper()

	select {
	case c := <-b.conns:
		t.Cleanup(func() { c.close() })
		return c
	case <-time.After(testTimeout):
		t.Fatal("timeout waiting for client connection")
		return nil
	}
}

// connect accepts a connection and completes the handshake.
func (b *mockBroker) connect(t *testing.T, sessionPresent bool) (*brokerConn, *packet.Connect) {
	t.Helper()

	c := b.accept(t)
	connect := expectPacket[*packet.Connect](t, c)
	c.write(t, &packet.Connack{SessionPresent: sessionPresent})
	return c, connect
}

type brokerConn struct {
	conn net.Conn
}

func (c *brokerConn) read(t *testing.T) packet.Packet {
	t.Helper()

	c.conn.SetReadDeadline(time.Now().Add(testTimeout))
	pkt, err := packet.ReadPacket(c.conn, 0)
	require.NoError(t, err)
	return pkt
}

// readErr reads one packet and returns the error instead of failing.
func (c *brokerConn) readErr(timeout time.Duration) (packet.Packet, error) {
	c.conn.SetReadDeadline(time.Now().Add(timeout))
	return packet.ReadPacket(c.conn, 0)
}

func (c *brokerConn) write(t *testing.T, pkt packet.Packet) {
	t.Helper()

	_, err := packet.WritePacket(c.conn, pkt, 0)
	require.NoError(t, err)
}

func (c *brokerConn) writeRaw(t *testing.T, data []byte) {
	t.Helper()

	_, err := c.conn.Write(data)
	require.NoError(t, err)
}

// expectClosed waits until the client closes the connection.
func (c *brokerConn) expectClosed(t *testing.T) {
	t.Helper()

	for {
		_, err := c.readErr(testTimeout)
		if err == nil {
			continue
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			t.Fatal("timeout waiting for client to close the connection")
		}
		return
	}
}

func (c *brokerConn) close() {
	c.conn.Close()
}

// expectPacket reads the next packet and requires it to be of type T.
func expectPacket[T packet.Packet](t *testing.T, c *brokerConn) T {
	t.Helper()

	pkt := c.read(t)
	p, ok := pkt.(T)
	require.True(t, ok, "expected %T, got %T", *new(T), pkt)
	return p
}

// startClient creates a client for the broker and runs it until the test
// ends. The returned channel yields the result of Run.
func startClient(t *testing.T, b *mockBroker, opts ...Option) (*Client, <-chan error) {
	t.Helper()

	client := newTestClient(t, b, opts...)
	return client, runClient(t, client)
}

// newTestClient builds a client for b with fast reconnects, without running it.
func newTestClient(t *testing.T, b *mockBroker, opts ...Option) *Client {
	t.Helper()

	base := []Option{
		WithServers(b.addr()),
		WithClientID("test-client"),
		WithKeepAlive(0),
		WithReconnectBackoff(10 * time.Millisecond),
		WithMaxBackoff(50 * time.Millisecond),
		WithBackoffJitter(0),
		WithConnectRateLimit(0, 0),
	}
	client, err := New(append(base, opts...)...)
	require.NoError(t, err)
	return client
}

// runClient runs client until the test ends.
func runClient(t *testing.T, client *Client) <-chan error {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() {
		result <- client.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		select {
		case <-client.Done():
		case <-time.After(testTimeout):
			t.Error("client did not stop")
		}
	})
	return result
}

func testContext(t *testing.T) context.Context {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	t.Cleanup(cancel)
	return ctx
}

// asyncResult runs fn in a goroutine so the test can script the broker
// while the call waits for its acknowledgment.
type asyncResult[T any] struct {
	done chan struct{}
	val  T
	err  error
}

func async[T any](fn func() (T, error)) *asyncResult[T] {
	r := &asyncResult[T]{done: make(chan struct{})}
	go func() {
		defer close(r.done)
		r.val, r.err = fn()
	}()
	return r
}

func (r *asyncResult[T]) wait(t *testing.T) (T, error) {
	t.Helper()

	select {
	case <-r.done:
		return r.val, r.err
	case <-time.After(testTimeout):
		t.Fatal("timeout waiting for call to complete")
		return r.val, nil
	}
}

func (r *asyncResult[T]) pending() bool {
	select {
	case <-r.done:
		return false
	default:
		return true
	}
}

// faultDialer dials TCP and fails the first client write for which
// failWrite returns true by closing the connection instead.
type faultDialer struct {
	failWrite func(data []byte) bool
	failed    atomic.Bool
	dials     atomic.Int32
}

func (d *faultDialer) Dial(ctx context.Context, address string) (Conn, error) {
	d.dials.Add(1)
	conn, err := (&schemeDialer{}).Dial(ctx, address)
	if err != nil {
		return nil, err
	}
	return &faultConn{Conn: conn, dialer: d}, nil
}

type faultConn struct {
	Conn
	dialer *faultDialer
	mu     sync.Mutex
}

func (c *faultConn) Write(b []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.dialer.failWrite != nil && !c.dialer.failed.Load() && c.dialer.failWrite(b) {
		c.dialer.failed.Store(true)
		c.Conn.Close()
		return 0, errors.New("injected write failure")
	}
	return c.Conn.Write(b)
}

// isPacket reports whether raw bytes start with a packet of type t.
func isPacket(data []byte, t packet.PacketType) bool {
	return len(data) > 0 && packet.PacketType(data[0]>>4) == t
}

// eventRecorder collects events from OnEvent.
type eventRecorder struct {
	mu     sync.Mutex
	events []error
	notify chan struct{}
}

func newEventRecorder() *eventRecorder {
	return &eventRecorder{notify: make(chan struct{}, 1)}
}

func (r *eventRecorder) handler(_ *Client, event error) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()

	select {
	case r.notify <- struct{}{}:
	default:
	}
}

func (r *eventRecorder) all() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.events...)
}

// waitFor waits until an event matching target (errors.Is) was recorded.
func (r *eventRecorder) waitFor(t *testing.T, target error) error {
	t.Helper()

	deadline := time.After(testTimeout)
	for {
		for _, event := range r.all() {
			if errors.Is(event, target) {
				return event
			}
		}
		select {
		case <-r.notify:
		case <-deadline:
			t.Fatalf("timeout waiting for event %v, got %v", target, r.all())
			return nil
		}
	}
}
