package mqttclient

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net"
	"slices"
	"time"

	"github.com/vitalvas/mqttclient/packet"
)

// connectResult is posted by the connect goroutine. It carries either the
// servers returned by the resolver, or the outcome of one dial and handshake.
type connectResult struct {
	resolved bool
	servers  []string

	server  string
	conn    net.Conn
	connack *packet.Connack
	caps    ServerCapabilities
	err     error
}

// isRetryableConnack reports whether a CONNACK reason code allows trying
// again, possibly on another server. Every other error code is final.
func isRetryableConnack(code ReasonCode) bool {
	switch code {
	case packet.ReasonUnspecifiedError,
		packet.ReasonImplSpecificError,
		packet.ReasonServerUnavailable,
		packet.ReasonServerBusy,
		packet.ReasonQuotaExceeded,
		packet.ReasonUseAnotherServer,
		packet.ReasonServerMoved,
		packet.ReasonConnectionRateExceeded:
		return true
	default:
		return false
	}
}

// buildConnect returns the CONNECT packet for the next attempt. The first
// CONNECT uses the configured Clean Start, later ones resume the session.
func (c *Client) buildConnect() *packet.Connect {
	o := c.options
	connect := &packet.Connect{
		ClientID:   c.session.id(),
		CleanStart: c.session.isCleanStart(),
		KeepAlive:  o.keepAlive,
		Username:   o.username,
		Password:   o.password,
	}
	if o.will != nil {
		connect.Will = o.will.toPacket()
	}

	if o.sessionExpiryInterval > 0 {
		connect.Props.Set(packet.PropSessionExpiryInterval, o.sessionExpiryInterval)
	}
	if o.receiveMaximum > 0 && o.receiveMaximum < 65535 {
		connect.Props.Set(packet.PropReceiveMaximum, o.receiveMaximum)
	}
	if o.maxPacketSize > 0 {
		connect.Props.Set(packet.PropMaximumPacketSize, o.maxPacketSize)
	}
	if o.topicAliasMaximum > 0 {
		connect.Props.Set(packet.PropTopicAliasMaximum, o.topicAliasMaximum)
	}
	for _, key := range slices.Sorted(maps.Keys(o.userProperties)) {
		connect.Props.Add(packet.PropUserProperty, StringPair{Key: key, Value: o.userProperties[key]})
	}

	return connect
}

// beginPass starts a pass over the servers, asking the resolver for a fresh
// list first when one is configured.
func (c *Client) beginPass() {
	c.servers.startPass()

	if c.options.serverResolver == nil {
		c.startConnect()
		return
	}

	ctx, cancel := context.WithTimeout(c.runCtx, c.options.connectTimeout)
	c.attemptCancel = cancel
	c.connecting = true
	resolver := c.options.serverResolver
	go func() {
		servers, err := resolver(ctx)
		c.connectResults <- connectResult{resolved: true, servers: servers, err: err}
	}()
}

// startConnect dials the next server in a helper goroutine. At most one
// attempt is outstanding, so connectResults never blocks.
func (c *Client) startConnect() {
	server := c.servers.next()
	if server == "" {
		c.attemptFailed("", ErrNoServers)
		return
	}

	connect := c.buildConnect()
	ctx, cancel := context.WithCancel(c.runCtx)
	c.attemptCancel = cancel
	c.connecting = true
	c.metrics.connectionAttempt()

	c.logger.Debug("connecting", LogFields{LogFieldServer: server})

	go func() {
		c.connectResults <- c.connectTo(ctx, server, connect)
	}()
}

// connectTo dials server and performs the handshake, including any enhanced
// authentication exchange. It runs outside the engine goroutine and touches
// no session state.
func (c *Client) connectTo(ctx context.Context, server string, connect *packet.Connect) connectResult {
	res := connectResult{server: server}

	if err := c.limiter.Wait(ctx); err != nil {
		res.err = err
		return res
	}

	ctx, cancel := context.WithTimeout(ctx, c.options.connectTimeout)
	defer cancel()

	conn, err := c.dialer.Dial(ctx, server)
	if err != nil {
		res.err = fmt.Errorf("dial failed: %w", err)
		return res
	}

	// closing the conn unblocks the handshake when ctx ends
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	connack, err := c.handshake(ctx, conn, connect)
	if !stop() {
		if err == nil {
			err = ctx.Err()
		}
	}
	if err != nil {
		conn.Close()
		res.err = err
		return res
	}
	conn.SetDeadline(time.Time{})

	if connack.ReasonCode != packet.ReasonSuccess {
		conn.Close()
		res.err = NewConnectError(server, connack.ReasonCode, &connack.Props)
		return res
	}

	caps, err := capabilitiesFromConnack(&connack.Props)
	if err != nil {
		sendDisconnect(conn, packet.ReasonProtocolError, err.Error())
		conn.Close()
		res.err = err
		return res
	}

	res.conn = conn
	res.connack = connack
	res.caps = caps
	return res
}

// handshake writes CONNECT and reads until CONNACK, answering AUTH packets
// through the enhanced authenticator.
// MQTT v5.0 spec: Section 4.12
func (c *Client) handshake(ctx context.Context, conn net.Conn, connect *packet.Connect) (*packet.Connack, error) {
	auth := c.options.enhancedAuth
	var authState any

	if auth != nil {
		result, err := auth.AuthStart(ctx)
		if err != nil {
			return nil, fmt.Errorf("enhanced auth start failed: %w", err)
		}
		connect.Props.Set(packet.PropAuthenticationMethod, auth.AuthMethod())
		if len(result.AuthData) > 0 {
			connect.Props.Set(packet.PropAuthenticationData, result.AuthData)
		}
		authState = result.State
	}

	if _, err := packet.WritePacket(conn, connect, 0); err != nil {
		return nil, fmt.Errorf("failed to send CONNECT: %w", err)
	}

	for {
		pkt, err := packet.ReadPacket(conn, c.options.maxPacketSize)
		if err != nil {
			return nil, fmt.Errorf("failed to read CONNACK: %w", err)
		}

		switch p := pkt.(type) {
		case *packet.Connack:
			// a successful CONNACK may carry the server's final auth data
			if auth != nil && p.ReasonCode == packet.ReasonSuccess && p.Props.Has(packet.PropAuthenticationData) {
				_, err := auth.AuthContinue(ctx, &ClientEnhancedAuthContext{
					AuthMethod: auth.AuthMethod(),
					AuthData:   p.Props.GetBinary(packet.PropAuthenticationData),
					ReasonCode: p.ReasonCode,
					State:      authState,
				})
				if err != nil {
					sendDisconnect(conn, packet.ReasonNotAuthorized, "")
					return nil, fmt.Errorf("%w: %w", ErrAuthFailed, err)
				}
			}
			return p, nil

		case *packet.Auth:
			if auth == nil {
				return nil, fmt.Errorf("%w: AUTH received but enhanced auth not configured", ErrProtocolError)
			}
			if p.ReasonCode != packet.ReasonContinueAuth {
				return nil, fmt.Errorf("%w: AUTH with reason %s during handshake", ErrProtocolError, p.ReasonCode)
			}
			if p.Method() != auth.AuthMethod() {
				return nil, fmt.Errorf("%w: AUTH method %q", ErrProtocolError, p.Method())
			}

			result, err := auth.AuthContinue(ctx, &ClientEnhancedAuthContext{
				AuthMethod: p.Method(),
				AuthData:   p.Data(),
				ReasonCode: p.ReasonCode,
				State:      authState,
			})
			if err != nil {
				return nil, fmt.Errorf("enhanced auth continue failed: %w", err)
			}
			authState = result.State

			resp := &packet.Auth{ReasonCode: packet.ReasonContinueAuth}
			resp.Props.Set(packet.PropAuthenticationMethod, auth.AuthMethod())
			if len(result.AuthData) > 0 {
				resp.Props.Set(packet.PropAuthenticationData, result.AuthData)
			}
			if _, err := packet.WritePacket(conn, resp, 0); err != nil {
				return nil, fmt.Errorf("failed to send AUTH: %w", err)
			}

		default:
			return nil, fmt.Errorf("%w: expected CONNACK, got %s", ErrUnexpectedPacket, pkt.Type())
		}
	}
}

// sendDisconnect writes a best-effort DISCONNECT before closing.
func sendDisconnect(conn net.Conn, code ReasonCode, reason string) {
	d := &packet.Disconnect{ReasonCode: code}
	if reason != "" {
		d.Props.Set(packet.PropReasonString, reason)
	}
	conn.SetWriteDeadline(time.Now().Add(time.Second))
	packet.WritePacket(conn, d, 0)
}

// handleConnectResult advances the connection manager. A non-nil return
// is terminal and stops the engine.
func (c *Client) handleConnectResult(res connectResult) error {
	c.connecting = false
	if c.attemptCancel != nil {
		c.attemptCancel()
		c.attemptCancel = nil
	}

	if res.resolved {
		if res.err != nil {
			c.logger.Warn("server resolver failed, using static servers", LogFields{LogFieldError: res.err.Error()})
		}
		c.servers.update(res.servers)
		c.startConnect()
		return nil
	}

	if res.err != nil {
		var connErr *ConnectError
		if errors.As(res.err, &connErr) {
			c.followServerReference(connErr.ReasonCode, connErr.Properties, res.server)
			if !connErr.Retryable() {
				c.logger.Error("connection refused", LogFields{
					LogFieldServer:     res.server,
					LogFieldReasonCode: connErr.ReasonCode.String(),
				})
				return connErr
			}
		}
		c.attemptFailed(res.server, res.err)
		return nil
	}

	c.established(res)
	return nil
}

// attemptFailed tries the next server right away while the pass is not
// complete, and otherwise waits for the backoff delay before a new pass.
func (c *Client) attemptFailed(server string, err error) {
	c.setState(StateReconnecting)
	c.logger.Warn("connection attempt failed", LogFields{
		LogFieldServer: server,
		LogFieldError:  err.Error(),
	})

	if !c.servers.passComplete() {
		c.emit(NewReconnectEvent(server, c.backoff.attempt+1, 0, err, c.Cancel))
		c.startConnect()
		return
	}

	delay := c.backoff.next(err)
	c.logger.Info("reconnecting after delay", LogFields{
		LogFieldAttempt: c.backoff.attempt,
		LogFieldDelay:   delay.String(),
	})
	c.emit(NewReconnectEvent(server, c.backoff.attempt, delay, err, c.Cancel))
	c.retryTimer = time.NewTimer(delay)
}

// followServerReference moves a Server Reference to the front of the
// rotation for Use Another Server and Server Moved.
// MQTT v5.0 spec: Section 4.11
func (c *Client) followServerReference(code ReasonCode, props *Properties, current string) {
	if code != packet.ReasonUseAnotherServer && code != packet.ReasonServerMoved {
		return
	}
	ref := props.GetString(packet.PropServerReference)
	if ref == "" {
		return
	}
	c.logger.Info("following server reference", LogFields{
		LogFieldServer:     ref,
		LogFieldReasonCode: code.String(),
	})
	c.servers.prefer(ref, current)
}

// established installs a new connection: renegotiates the session, replays
// in-flight state and flushes the backlog.
func (c *Client) established(res connectResult) {
	now := time.Now()

	c.conn = res.conn
	c.server = res.server
	c.epoch++
	c.connectedAt = now
	c.outboundMax = res.caps.MaximumPacketSize

	c.session.establish(res.connack, res.caps, c.options.keepAlive)
	c.flow.setReceiveMaximum(res.caps.ReceiveMaximum)
	c.aliases.clear()
	if !res.connack.SessionPresent {
		// the server forgot these exchanges and will not resend them
		for _, msg := range c.inboundQoS2.drain() {
			c.deliver(msg)
		}
	}

	c.keepAlive = newKeepAlive(c.session.effectiveKeepAlive())
	c.keepAlive.sent(now)
	if tick := c.keepAlive.tickInterval(); tick > 0 {
		c.ticker = time.NewTicker(tick)
	}

	c.setState(StateConnected)
	c.metrics.connected()
	c.logger.Info("connected", LogFields{
		LogFieldServer: res.server,
		LogFieldEpoch:  c.epoch,
		"session":      res.connack.SessionPresent,
	})
	c.emit(NewConnectedEvent(res.server, res.connack.SessionPresent, &res.connack.Props))

	go c.readLoop(c.conn, c.epoch)

	c.replay()
	c.flushBacklog()
}
