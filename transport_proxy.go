package mqttclient

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/http/httpproxy"
	"golang.org/x/net/proxy"
)

// ProxyConfig holds proxy configuration for client connections.
type ProxyConfig struct {
	// URL is http://host:port, https://host:port or socks5://host:port.
	URL      string
	Username string
	Password string
}

var defaultProxyPorts = map[string]string{
	"http":    "8080",
	"https":   "443",
	"socks5":  "1080",
	"socks5h": "1080",
}

// ProxyDialer opens TCP connections through an HTTP CONNECT or SOCKS5 proxy.
type ProxyDialer struct {
	scheme  string
	host    string
	addr    string
	auth    *proxy.Auth
	forward net.Dialer
}

// NewProxyDialer parses proxyURL and returns a dialer for it. Credentials in
// the URL are used when username is empty.
func NewProxyDialer(proxyURL, username, password string) (*ProxyDialer, error) {
	u, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy URL: %w", err)
	}

	port, ok := defaultProxyPorts[u.Scheme]
	if !ok {
		return nil, fmt.Errorf("unsupported proxy scheme: %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("proxy URL %q has no host", proxyURL)
	}
	if p := u.Port(); p != "" {
		port = p
	}

	if username == "" && u.User != nil {
		username = u.User.Username()
		password, _ = u.User.Password()
	}

	d := &ProxyDialer{
		scheme: u.Scheme,
		host:   u.Hostname(),
		addr:   net.JoinHostPort(u.Hostname(), port),
	}
	if username != "" {
		d.auth = &proxy.Auth{User: username, Password: password}
	}
	return d, nil
}

// DialContext connects to addr through the proxy.
func (d *ProxyDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	if d.scheme == "socks5" || d.scheme == "socks5h" {
		return d.dialSOCKS5(ctx, network, addr)
	}
	return d.dialConnect(ctx, addr)
}

func (d *ProxyDialer) dialConnect(ctx context.Context, addr string) (net.Conn, error) {
	conn, err := d.forward.DialContext(ctx, "tcp", d.addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to proxy: %w", err)
	}

	if d.scheme == "https" {
		tlsConn := tls.Client(conn, &tls.Config{ServerName: d.host, MinVersion: tls.VersionTLS12})
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("proxy TLS handshake failed: %w", err)
		}
		conn = tlsConn
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
		defer conn.SetDeadline(time.Time{})
	}

	req := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: addr},
		Host:   addr,
		Header: make(http.Header),
	}
	if d.auth != nil {
		creds := base64.StdEncoding.EncodeToString([]byte(d.auth.User + ":" + d.auth.Password))
		req.Header.Set("Proxy-Authorization", "Basic "+creds)
	}

	if err := req.Write(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to send CONNECT request: %w", err)
	}

	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, req)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to read CONNECT response: %w", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		conn.Close()
		return nil, fmt.Errorf("proxy CONNECT to %s failed: %s", addr, resp.Status)
	}

	if br.Buffered() > 0 {
		return &bufferedConn{Conn: conn, r: br}, nil
	}
	return conn, nil
}

func (d *ProxyDialer) dialSOCKS5(ctx context.Context, network, addr string) (net.Conn, error) {
	dialer, err := proxy.SOCKS5("tcp", d.addr, d.auth, &d.forward)
	if err != nil {
		return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
	}

	cd, ok := dialer.(proxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("SOCKS5 dialer does not support contexts")
	}
	conn, err := cd.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("SOCKS5 dial failed: %w", err)
	}
	return conn, nil
}

// bufferedConn replays bytes the proxy sent right after its CONNECT reply.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *bufferedConn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}

// ProxyFromEnvironment returns the proxy URL for a server address using
// HTTP_PROXY, HTTPS_PROXY and NO_PROXY (or their lowercase forms). Secure
// schemes use HTTPS_PROXY. It returns nil when no proxy applies; loopback
// addresses are never proxied.
func ProxyFromEnvironment(targetAddr string) (*url.URL, error) {
	u, err := url.Parse(targetAddr)
	if err != nil {
		return nil, nil
	}

	scheme := "http"
	switch u.Scheme {
	case "https", "tls", "ssl", "mqtts", "wss":
		scheme = "https"
	}

	return httpproxy.FromEnvironment().ProxyFunc()(&url.URL{Scheme: scheme, Host: u.Host})
}
