package mqttclient

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"time"
)

// Conn represents a network connection for MQTT communication.
// The session engine owns a Conn for the lifetime of one network connection.
type Conn interface {
	net.Conn
}

// Dialer establishes MQTT connections.
type Dialer interface {
	// Dial connects to the address with the given context.
	Dial(ctx context.Context, address string) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, address string) (Conn, error)

// Dial calls f(ctx, address).
func (f DialerFunc) Dial(ctx context.Context, address string) (Conn, error) {
	return f(ctx, address)
}

// TCPDialer connects to MQTT brokers over TCP.
type TCPDialer struct {
	// Timeout is the maximum time to wait for a connection.
	// Zero means no timeout.
	Timeout time.Duration

	// Proxy, when set, tunnels the connection through a proxy.
	Proxy *ProxyDialer
}

// Dial connects to the address.
func (d *TCPDialer) Dial(ctx context.Context, address string) (Conn, error) {
	if d.Proxy != nil {
		return d.Proxy.DialContext(ctx, "tcp", address)
	}
	dialer := net.Dialer{Timeout: d.Timeout}
	return dialer.DialContext(ctx, "tcp", address)
}

// TLSDialer connects to MQTT brokers over TLS.
type TLSDialer struct {
	// Config is the TLS configuration.
	Config *tls.Config

	// Timeout is the maximum time to wait for a connection.
	// Zero means no timeout.
	Timeout time.Duration

	// Proxy, when set, tunnels the connection through a proxy before the
	// TLS handshake.
	Proxy *ProxyDialer
}

// Dial connects to the address.
func (d *TLSDialer) Dial(ctx context.Context, address string) (Conn, error) {
	config := d.Config
	if config == nil {
		config = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	if d.Proxy != nil {
		conn, err := d.Proxy.DialContext(ctx, "tcp", address)
		if err != nil {
			return nil, err
		}
		if config.ServerName == "" {
			config = config.Clone()
			config.ServerName, _, _ = net.SplitHostPort(address)
		}
		tlsConn := tls.Client(conn, config)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("TLS handshake failed: %w", err)
		}
		return tlsConn, nil
	}

	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{
			Timeout: d.Timeout,
		},
		Config: config,
	}
	return dialer.DialContext(ctx, "tcp", address)
}

// schemeDialer picks the transport by the scheme of the server address.
type schemeDialer struct {
	tlsConfig    *tls.Config
	proxyConfig  *ProxyConfig
	proxyFromEnv bool
}

func newSchemeDialer(o *clientOptions) *schemeDialer {
	return &schemeDialer{
		tlsConfig:    o.tlsConfig,
		proxyConfig:  o.proxyConfig,
		proxyFromEnv: o.proxyFromEnv,
	}
}

// defaultPorts are used when the server address has no port.
var defaultPorts = map[string]string{
	"tcp":   "1883",
	"mqtt":  "1883",
	"ssl":   "8883",
	"tls":   "8883",
	"mqtts": "8883",
	"ws":    "80",
	"wss":   "443",
	"quic":  "8883",
}

// Dial connects to a server address such as "tcp://broker:1883",
// "wss://broker/mqtt", "quic://broker:8883" or "unix:///run/mqtt.sock".
func (d *schemeDialer) Dial(ctx context.Context, address string) (Conn, error) {
	u, err := url.Parse(address)
	if err != nil {
		return nil, fmt.Errorf("invalid address: %w", err)
	}

	host := u.Host
	if port, ok := defaultPorts[u.Scheme]; ok && u.Port() == "" {
		host = net.JoinHostPort(u.Hostname(), port)
	}

	proxyDialer, err := d.resolveProxy(address)
	if err != nil {
		return nil, fmt.Errorf("proxy configuration error: %w", err)
	}

	switch u.Scheme {
	case "tcp", "mqtt":
		return (&TCPDialer{Proxy: proxyDialer}).Dial(ctx, host)
	case "ssl", "tls", "mqtts":
		return (&TLSDialer{Config: d.tlsConfig, Proxy: proxyDialer}).Dial(ctx, host)
	case "ws", "wss":
		wsDialer := NewWSDialer()
		if d.tlsConfig != nil {
			wsDialer.Dialer.TLSClientConfig = d.tlsConfig
		}
		switch {
		case proxyDialer != nil:
			wsDialer.Dialer.NetDialContext = proxyDialer.DialContext
		case d.proxyFromEnv:
			wsDialer.SetProxyFromEnvironment()
		}
		return wsDialer.Dial(ctx, address)
	case "unix":
		// unix:///path/to/socket or unix://localhost/path/to/socket
		socketPath := u.Path
		if socketPath == "" {
			socketPath = u.Host + u.Path
		}
		return NewUnixDialer().Dial(ctx, socketPath)
	case "quic":
		return NewQUICDialer(d.tlsConfig).Dial(ctx, host)
	default:
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
}

// resolveProxy returns a ProxyDialer based on client configuration.
// Returns nil if no proxy should be used.
func (d *schemeDialer) resolveProxy(targetAddr string) (*ProxyDialer, error) {
	if d.proxyConfig != nil {
		return NewProxyDialer(
			d.proxyConfig.URL,
			d.proxyConfig.Username,
			d.proxyConfig.Password,
		)
	}

	if d.proxyFromEnv {
		proxyURL, err := ProxyFromEnvironment(targetAddr)
		if err != nil {
			return nil, err
		}
		if proxyURL != nil {
			return NewProxyDialer(proxyURL.String(), "", "")
		}
	}

	return nil, nil
}
