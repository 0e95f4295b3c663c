package mqttclient

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// ConnectionState is the state of the client's connection manager.
type ConnectionState int32

const (
	// StateDisconnected is the state before Run and after the client stopped.
	StateDisconnected ConnectionState = iota
	// StateConnecting is the state of the first connection attempt.
	StateConnecting
	// StateConnected means the handshake succeeded and the session is live.
	StateConnected
	// StateReconnecting means a connection failed or was lost and the client
	// is trying the next server or waiting for the backoff delay.
	StateReconnecting
)

// String returns the string representation of the state.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// ParseBrokers turns a comma-separated list of "host[:port][/path]" entries
// into server addresses. Entries may carry their own scheme
// ("wss://host/mqtt"); otherwise "tcp" is used, or "ws" when the entry has a
// path. Entries without a port get defaultPort.
func ParseBrokers(hosts string, defaultPort uint16) ([]string, error) {
	var servers []string
	for _, entry := range strings.Split(hosts, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		scheme := ""
		if i := strings.Index(entry, "://"); i >= 0 {
			scheme = entry[:i]
			entry = entry[i+3:]
		}

		hostPort, path := entry, ""
		if i := strings.IndexByte(entry, '/'); i >= 0 {
			hostPort, path = entry[:i], entry[i:]
		}
		if scheme == "" {
			scheme = "tcp"
			if path != "" {
				scheme = "ws"
			}
		}

		host, port, err := net.SplitHostPort(hostPort)
		if err != nil {
			host, port = strings.Trim(hostPort, "[]"), strconv.Itoa(int(defaultPort))
		}
		if host == "" {
			return nil, fmt.Errorf("invalid broker entry %q", entry)
		}

		servers = append(servers, scheme+"://"+net.JoinHostPort(host, port)+path)
	}
	if len(servers) == 0 {
		return nil, ErrNoServers
	}
	return servers, nil
}

// serverList rotates through the configured servers round-robin and counts
// the attempts of the current pass. It is owned by the engine goroutine.
type serverList struct {
	static    []string
	servers   []string
	index     int
	tried     int
	preferred string
}

func newServerList(servers []string) *serverList {
	return &serverList{
		static:  servers,
		servers: servers,
	}
}

// next returns the server for the next attempt. A server reference received
// from the broker takes precedence once.
func (l *serverList) next() string {
	l.tried++
	if l.preferred != "" {
		s := l.preferred
		l.preferred = ""
		return s
	}
	if len(l.servers) == 0 {
		return ""
	}
	s := l.servers[l.index%len(l.servers)]
	l.index = (l.index + 1) % len(l.servers)
	return s
}

// passComplete reports whether every server was tried since the pass started.
func (l *serverList) passComplete() bool {
	return l.tried >= len(l.servers)
}

func (l *serverList) startPass() {
	l.tried = 0
}

// update replaces the rotation with resolved servers, falling back to the
// static list when the resolver produced nothing.
func (l *serverList) update(servers []string) {
	if len(servers) == 0 {
		servers = l.static
	}
	l.servers = servers
	if l.index >= len(servers) {
		l.index = 0
	}
}

// prefer puts a Server Reference first in the rotation. The reference may
// omit the scheme, in which case the scheme of current is reused.
// MQTT v5.0 spec: Section 4.11
func (l *serverList) prefer(reference, current string) {
	// A reference may list several servers separated by spaces; use the first.
	fields := strings.Fields(reference)
	if len(fields) == 0 {
		return
	}
	ref := fields[0]
	if !strings.Contains(ref, "://") {
		scheme := "tcp"
		if u, err := url.Parse(current); err == nil && u.Scheme != "" {
			scheme = u.Scheme
		}
		ref = scheme + "://" + ref
	}
	l.preferred = ref
}
