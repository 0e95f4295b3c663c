package mqttclient

import (
	"context"
	"crypto/tls"
	"io"
	"testing"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newQUICEchoServer listens on a random UDP port and echoes the first
// stream of every connection.
func newQUICEchoServer(t *testing.T) (string, *tls.Config) {
	t.Helper()

	cert, certPool := generateTestCertificate(t)

	listener, err := quic.ListenAddr("127.0.0.1:0", &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS13,
		NextProtos:   []string{quicALPN},
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })

	go func() {
		for {
			conn, err := listener.Accept(context.Background())
			if err != nil {
				return
			}
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
				defer cancel()

				stream, err := conn.AcceptStream(ctx)
				if err != nil {
					conn.CloseWithError(0, "")
					return
				}
				_, _ = io.Copy(stream, stream)
			}()
		}
	}()

	return listener.Addr().String(), &tls.Config{
		RootCAs:    certPool,
		ServerName: "127.0.0.1",
		MinVersion: tls.VersionTLS13,
	}
}

func TestQUICDialer(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		addr, clientTLS := newQUICEchoServer(t)

		conn, err := NewQUICDialer(clientTLS).Dial(testContext(t), addr)
		require.NoError(t, err)
		defer conn.Close()

		assertEcho(t, conn)
		assert.NotNil(t, conn.LocalAddr())
		assert.NotNil(t, conn.RemoteAddr())
	})

	t.Run("empty ALPN gets mqtt", func(t *testing.T) {
		addr, clientTLS := newQUICEchoServer(t)
		clientTLS.NextProtos = []string{}

		conn, err := (&QUICDialer{TLSConfig: clientTLS}).Dial(testContext(t), addr)
		require.NoError(t, err)
		defer conn.Close()

		assertEcho(t, conn)
		assert.Empty(t, clientTLS.NextProtos)
	})

	t.Run("scheme dialer", func(t *testing.T) {
		addr, clientTLS := newQUICEchoServer(t)

		d := &schemeDialer{tlsConfig: clientTLS}
		conn, err := d.Dial(testContext(t), "quic://"+addr)
		require.NoError(t, err)
		defer conn.Close()

		assertEcho(t, conn)
	})

	t.Run("read deadline", func(t *testing.T) {
		addr, clientTLS := newQUICEchoServer(t)

		conn, err := NewQUICDialer(clientTLS).Dial(testContext(t), addr)
		require.NoError(t, err)
		defer conn.Close()

		require.NoError(t, conn.SetReadDeadline(time.Now().Add(50*time.Millisecond)))
		_, err = conn.Read(make([]byte, 1))
		assert.Error(t, err)
	})

	t.Run("context canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := NewQUICDialer(&tls.Config{InsecureSkipVerify: true}).Dial(ctx, "127.0.0.1:1234")
		assert.Error(t, err)
	})

	t.Run("no server", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()

		_, err := NewQUICDialer(&tls.Config{InsecureSkipVerify: true}).Dial(ctx, "127.0.0.1:59999")
		assert.Error(t, err)
	})

	t.Run("nil TLS config uses default", func(t *testing.T) {
		dialer := NewQUICDialer(nil)

		require.NotNil(t, dialer.TLSConfig)
		assert.Equal(t, uint16(tls.VersionTLS13), dialer.TLSConfig.MinVersion)
		assert.Contains(t, dialer.TLSConfig.NextProtos, "mqtt")
	})
}
