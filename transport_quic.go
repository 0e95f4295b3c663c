package mqttclient

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/quic-go/quic-go"
)

// quicALPN is the ALPN protocol negotiated for MQTT over QUIC.
const quicALPN = "mqtt"

// quicConn carries the session over the single bidirectional stream of a
// QUIC connection.
type quicConn struct {
	*quic.Stream
	conn *quic.Conn
}

func (c *quicConn) LocalAddr() net.Addr  { return c.conn.LocalAddr() }
func (c *quicConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// Close closes the send side of the stream, then the connection.
func (c *quicConn) Close() error {
	err := c.Stream.Close()
	if cerr := c.conn.CloseWithError(0, ""); err == nil {
		err = cerr
	}
	return err
}

// QUICDialer connects to brokers over QUIC (quic:// URLs).
type QUICDialer struct {
	// TLSConfig must allow TLS 1.3. An empty NextProtos gets "mqtt" and an
	// empty ServerName gets the host of the dialed address.
	TLSConfig *tls.Config

	// QUICConfig nil keeps the connection alive with QUIC PINGs so an idle
	// MQTT session outlives the QUIC idle timeout.
	QUICConfig *quic.Config
}

// NewQUICDialer returns a QUIC dialer; a nil tlsConfig uses TLS 1.3 with
// ALPN "mqtt".
func NewQUICDialer(tlsConfig *tls.Config) *QUICDialer {
	if tlsConfig == nil {
		tlsConfig = &tls.Config{
			MinVersion: tls.VersionTLS13,
			NextProtos: []string{quicALPN},
		}
	}
	return &QUICDialer{TLSConfig: tlsConfig}
}

func (d *QUICDialer) tlsConfigFor(address string) *tls.Config {
	cfg := d.TLSConfig
	if cfg == nil {
		cfg = &tls.Config{MinVersion: tls.VersionTLS13}
	}
	cfg = cfg.Clone()
	if len(cfg.NextProtos) == 0 {
		cfg.NextProtos = []string{quicALPN}
	}
	if cfg.ServerName == "" {
		if host, _, err := net.SplitHostPort(address); err == nil {
			cfg.ServerName = host
		}
	}
	return cfg
}

// Dial opens a QUIC connection to address ("host:port") and one stream on it.
func (d *QUICDialer) Dial(ctx context.Context, address string) (Conn, error) {
	qcfg := d.QUICConfig
	if qcfg == nil {
		qcfg = &quic.Config{KeepAlivePeriod: 15 * time.Second}
	}

	conn, err := quic.DialAddr(ctx, address, d.tlsConfigFor(address), qcfg)
	if err != nil {
		return nil, fmt.Errorf("quic dial %s: %w", address, err)
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(0, "failed to open stream")
		return nil, fmt.Errorf("quic stream to %s: %w", address, err)
	}

	return &quicConn{Stream: stream, conn: conn}, nil
}
