package mqttclient

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/vitalvas/mqttclient/packet"
)

// inboundEvent is posted by a reader goroutine. The epoch identifies the
// connection it was read from.
type inboundEvent struct {
	epoch uint64
	pkt   packet.Packet
	err   error
}

// Run connects and runs the session until ctx is done, Cancel or Disconnect
// is called, or the server refuses the connection for good. Connection
// failures in between are handled by reconnecting.
//
// Run returns nil after Disconnect, ErrCanceled after Cancel or when ctx is
// done, and a *ConnectError when a CONNACK carried a non-retryable reason.
func (c *Client) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		select {
		case <-c.done:
			return c.termErr
		default:
			return ErrAlreadyRunning
		}
	}

	if c.options.onEvent != nil {
		go c.dispatchEvents()
	}

	c.runCtx = ctx
	c.setState(StateConnecting)
	c.logger.Info("client started", LogFields{"servers": len(c.options.servers)})
	c.beginPass()

	err := c.loop(ctx)
	c.teardown(err)

	if errors.Is(err, ErrClientClosed) {
		return nil
	}
	return err
}

// loop is the engine. It is the only goroutine touching session state.
func (c *Client) loop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ErrCanceled
		case <-c.cancelCh:
			return ErrCanceled

		case req := <-c.requests:
			if err := c.handleRequest(req); err != nil {
				return err
			}

		case ev := <-c.inbound:
			c.handleInbound(ev)

		case res := <-c.connectResults:
			if err := c.handleConnectResult(res); err != nil {
				return err
			}

		case <-c.retryC():
			c.retryTimer = nil
			c.beginPass()

		case now := <-c.tickC():
			c.handleKeepAlive(now)
		}
	}
}

func (c *Client) retryC() <-chan time.Time {
	if c.retryTimer == nil {
		return nil
	}
	return c.retryTimer.C
}

func (c *Client) tickC() <-chan time.Time {
	if c.ticker == nil {
		return nil
	}
	return c.ticker.C
}

// handleRequest admits an application call: it allocates the packet
// identifier, registers the continuation and queues the packet. A non-nil
// return stops the engine.
func (c *Client) handleRequest(req *request) error {
	switch req.kind {
	case requestDisconnect:
		return c.disconnect(req)

	case requestPublish:
		pub := req.msg.toPublish(0)
		if pub.QoS > 0 {
			id, ok := c.allocateID(req)
			if !ok {
				return nil
			}
			pub.PacketID = id
			req.id = id
		}
		req.pkt = pub

	case requestSubscribe, requestUnsubscribe:
		id, ok := c.allocateID(req)
		if !ok {
			return nil
		}
		req.id = id
		switch p := req.pkt.(type) {
		case *packet.Subscribe:
			p.PacketID = id
		case *packet.Unsubscribe:
			p.PacketID = id
		}
	}

	c.seq++
	req.seq = c.seq

	if req.id != 0 {
		c.pending.register(req)
	}
	if pub, ok := req.pkt.(*packet.Publish); ok && pub.QoS > 0 {
		c.inflight.add(&inflightMessage{
			publish: pub,
			stage:   StageQueued,
			seq:     req.seq,
			created: req.created,
		})
		c.metrics.inflight(c.inflight.len())
	}

	c.backlog = append(c.backlog, req)
	c.flushBacklog()
	return nil
}

// allocateID takes a packet identifier for req. When none is free only req
// fails; the session carries on.
func (c *Client) allocateID(req *request) (uint16, bool) {
	id, err := c.ids.allocate()
	if err != nil {
		c.logger.Warn("no packet identifier available", LogFields{
			"request":  req.kind.String(),
			"pending":  c.pending.len(),
			"inflight": c.inflight.len(),
		})
		req.resolve(response{err: err})
		return 0, false
	}
	return id, true
}

// flushBacklog writes queued requests in arrival order while connected and
// while the server's Receive Maximum leaves room for QoS > 0 publishes.
// A request leaves the backlog only once it was written.
func (c *Client) flushBacklog() {
	for len(c.backlog) > 0 && c.conn != nil {
		req := c.backlog[0]

		if isQoSPublish(req) && !c.flow.tryAcquire() {
			c.logger.Debug("send quota exhausted", LogFields{
				"backlog":  len(c.backlog),
				"inflight": c.inflight.len(),
			})
			return
		}

		if err := c.sendRequest(req); err != nil {
			c.connectionLost(err)
			return
		}
		c.backlog[0] = nil
		c.backlog = c.backlog[1:]
	}
}

func isQoSPublish(req *request) bool {
	pub, ok := req.pkt.(*packet.Publish)
	return ok && pub.QoS > 0
}

// sendRequest writes the request's packet. It returns only transport errors;
// a packet that cannot be encoded fails its own request.
func (c *Client) sendRequest(req *request) error {
	data, err := c.encode(req.pkt)
	if err != nil {
		c.failRequest(req, err)
		return nil
	}
	if err := c.writeBytes(req.pkt.Type(), data); err != nil {
		return err
	}

	req.sent = true
	if req.kind != requestPublish {
		return nil
	}

	pub := req.pkt.(*packet.Publish)
	if pub.QoS == 0 {
		req.resolve(response{publish: &PublishResult{}})
		return nil
	}
	if m, ok := c.inflight.get(pub.PacketID); ok {
		m.stage = StageSent
		m.sentAt = time.Now()
	}
	return nil
}

// failRequest ends a request locally and frees what it held.
func (c *Client) failRequest(req *request, err error) {
	c.logger.Warn("request failed", LogFields{
		"request":        req.kind.String(),
		LogFieldPacketID: req.id,
		LogFieldError:    err.Error(),
	})

	if req.id != 0 {
		c.pending.remove(req.id)
		if _, ok := c.inflight.get(req.id); ok {
			c.inflight.remove(req.id)
			c.flow.release()
			c.metrics.inflight(c.inflight.len())
		}
		c.ids.release(req.id)
	}
	req.resolve(response{err: err})
}

// replay resends everything written on an earlier connection and not yet
// acknowledged, in original order: PUBLISH with DUP set, or only PUBREL
// for QoS 2 messages the server already acknowledged with PUBREC.
// MQTT v5.0 spec: Section 4.4
func (c *Client) replay() {
	for _, req := range c.pending.sent() {
		pkt := req.pkt
		fields := LogFields{LogFieldPacketID: req.id}
		if req.kind == requestPublish {
			m, ok := c.inflight.get(req.id)
			if !ok {
				continue
			}
			pkt = m.resendPacket(true)
			c.flow.forceAcquire()
			c.metrics.resent()
			fields[LogFieldDuration] = time.Since(m.sentAt)
		}

		data, err := c.encode(pkt)
		if err != nil {
			c.failRequest(req, err)
			continue
		}
		if err := c.writeBytes(pkt.Type(), data); err != nil {
			c.connectionLost(err)
			return
		}
		fields[LogFieldPacketType] = pkt.Type().String()
		c.logger.Debug("resent", fields)
	}
}

// encode checks the packet against the server's Maximum Packet Size.
func (c *Client) encode(pkt packet.Packet) ([]byte, error) {
	data, err := packet.Encode(pkt)
	if err != nil {
		return nil, err
	}
	if c.outboundMax > 0 && uint32(len(data)) > c.outboundMax {
		return nil, fmt.Errorf("%w: %d bytes, server maximum %d", packet.ErrPacketTooLarge, len(data), c.outboundMax)
	}
	return data, nil
}

// write encodes and writes a protocol packet such as an acknowledgment.
func (c *Client) write(pkt packet.Packet) error {
	data, err := c.encode(pkt)
	if err != nil {
		return err
	}
	return c.writeBytes(pkt.Type(), data)
}

func (c *Client) writeBytes(t packet.PacketType, data []byte) error {
	if c.conn == nil {
		return ErrConnectionLost
	}

	now := time.Now()
	if c.options.writeTimeout > 0 {
		c.conn.SetWriteDeadline(now.Add(c.options.writeTimeout))
	}
	n, err := c.conn.Write(data)
	if err != nil {
		return err
	}

	c.keepAlive.sent(now)
	c.metrics.packetSent(t.String(), n)
	return nil
}

// readLoop decodes packets from one connection and posts them to the
// engine. It exits after the first error.
func (c *Client) readLoop(conn net.Conn, epoch uint64) {
	r := bufio.NewReader(conn)
	for {
		pkt, err := packet.ReadPacket(r, c.options.maxPacketSize)
		select {
		case c.inbound <- inboundEvent{epoch: epoch, pkt: pkt, err: err}:
		case <-c.done:
			return
		}
		if err != nil {
			return
		}
	}
}

// inboundErrorReason maps a read error to the DISCONNECT reason code the
// client sends before closing. Transport errors map to Success, meaning no
// DISCONNECT is sent.
func inboundErrorReason(err error) (ReasonCode, string) {
	var malformed *packet.MalformedError
	switch {
	case errors.Is(err, packet.ErrPacketTooLarge):
		return packet.ReasonPacketTooLarge, ""
	case errors.As(err, &malformed):
		if errors.Is(err, packet.ErrUnknownPacketType) || errors.Is(err, packet.ErrDuplicateProperty) {
			return packet.ReasonProtocolError, malformed.Reason
		}
		return packet.ReasonMalformedPacket, malformed.Reason
	default:
		return packet.ReasonSuccess, ""
	}
}

func (c *Client) handleInbound(ev inboundEvent) {
	// events from a previous connection are stale
	if ev.epoch != c.epoch || c.conn == nil {
		return
	}

	if ev.err != nil {
		code, reason := inboundErrorReason(ev.err)
		if code == packet.ReasonSuccess {
			c.connectionLost(ev.err)
			return
		}

		packetType := "unknown"
		var malformed *packet.MalformedError
		if errors.As(ev.err, &malformed) {
			packetType = malformed.Type.String()
		}
		c.metrics.malformed(packetType, code)
		c.logger.Warn("invalid packet received", LogFields{
			LogFieldPacketType: packetType,
			LogFieldReasonCode: code.String(),
			LogFieldError:      ev.err.Error(),
		})
		c.abortConnection(code, reason, ev.err)
		return
	}

	c.metrics.packetReceived(ev.pkt.Type().String())
	c.handlePacket(ev.pkt)
}

func (c *Client) handlePacket(pkt packet.Packet) {
	switch p := pkt.(type) {
	case *packet.Publish:
		c.handlePublish(p)
	case *packet.Puback:
		c.handlePuback(p)
	case *packet.Pubrec:
		c.handlePubrec(p)
	case *packet.Pubrel:
		c.handlePubrel(p)
	case *packet.Pubcomp:
		c.handlePubcomp(p)
	case *packet.Suback:
		c.handleSuback(p)
	case *packet.Unsuback:
		c.handleUnsuback(p)
	case *packet.Pingresp:
		c.keepAlive.pongReceived()
	case *packet.Disconnect:
		c.handleDisconnect(p)
	case *packet.Auth:
		c.handleAuth(p)
	default:
		err := fmt.Errorf("%w: %s", ErrUnexpectedPacket, pkt.Type())
		c.abortConnection(packet.ReasonProtocolError, err.Error(), err)
	}
}

// handlePublish acknowledges an inbound PUBLISH. QoS 1 and QoS 2 messages are
// queued for Receive once the PUBACK or PUBREC is written. A QoS 2
// identifier stays held until PUBREL, so a retransmission is only
// acknowledged again.
func (c *Client) handlePublish(p *packet.Publish) {
	if p.Props.Has(packet.PropTopicAlias) {
		topic, err := c.aliases.resolve(p.Topic, p.Props.GetUint16(packet.PropTopicAlias))
		if err != nil {
			c.abortConnection(packet.ReasonTopicAliasInvalid, err.Error(), err)
			return
		}
		p.Topic = topic
	} else if p.Topic == "" {
		err := fmt.Errorf("%w: empty topic without alias", ErrProtocolError)
		c.abortConnection(packet.ReasonProtocolError, err.Error(), err)
		return
	}

	msg := messageFromPublish(p)

	switch p.QoS {
	case 0:
		c.deliver(msg)

	case 1:
		if err := c.write(&packet.Puback{PacketID: p.PacketID}); err != nil {
			c.connectionLost(err)
			return
		}
		c.deliver(msg)

	case 2:
		if !c.inboundQoS2.has(p.PacketID) && c.inboundQoS2.len() >= int(c.receiveMaximum()) {
			err := fmt.Errorf("%w: more than %d unreleased QoS 2 messages", ErrProtocolError, c.receiveMaximum())
			c.abortConnection(packet.ReasonReceiveMaxExceeded, err.Error(), err)
			return
		}
		if !c.inboundQoS2.hold(p.PacketID, msg) {
			c.logger.Debug("duplicate QoS 2 publish", LogFields{LogFieldPacketID: p.PacketID})
		}
		if err := c.write(&packet.Pubrec{PacketID: p.PacketID}); err != nil {
			c.connectionLost(err)
			return
		}
		if held, ok := c.inboundQoS2.take(p.PacketID); ok {
			c.deliver(held)
		}
	}
}

func (c *Client) receiveMaximum() uint16 {
	if c.options.receiveMaximum == 0 {
		return 65535
	}
	return c.options.receiveMaximum
}

// handlePubrel completes an inbound QoS 2 exchange. The identifier is
// released before PUBCOMP is written, and a message whose PUBREC write had
// failed is delivered here, so a lost PUBCOMP never loses or repeats it. An
// unknown identifier is still answered with success.
func (c *Client) handlePubrel(p *packet.Pubrel) {
	if msg, ok := c.inboundQoS2.release(p.PacketID); ok {
		c.deliver(msg)
	}
	if err := c.write(&packet.Pubcomp{PacketID: p.PacketID}); err != nil {
		c.connectionLost(err)
	}
}

func (c *Client) deliver(msg *Message) {
	if !c.received.push(msg) {
		return
	}
	n := c.received.len()
	c.metrics.delivered(msg.QoS, n)
	c.logger.Debug("message received", LogFields{
		LogFieldTopic: msg.Topic,
		LogFieldQoS:   msg.QoS,
	})
}

func (c *Client) handlePuback(p *packet.Puback) {
	m, ok := c.inflight.get(p.PacketID)
	if !ok || m.publish.QoS != 1 || m.stage != StageSent {
		c.logger.Warn("PUBACK for unknown packet id", LogFields{LogFieldPacketID: p.PacketID})
		return
	}
	c.completePublish(m, p.ReasonCode, p.Props)
}

// handlePubrec moves a QoS 2 publish to StagePubrecReceived and sends PUBREL.
// An error reason ends the exchange.
func (c *Client) handlePubrec(p *packet.Pubrec) {
	m, ok := c.inflight.get(p.PacketID)
	if !ok || m.publish.QoS != 2 || m.stage == StageQueued {
		c.logger.Warn("PUBREC for unknown packet id", LogFields{LogFieldPacketID: p.PacketID})
		if err := c.write(&packet.Pubrel{PacketID: p.PacketID, ReasonCode: packet.ReasonPacketIDNotFound}); err != nil {
			c.connectionLost(err)
		}
		return
	}

	if p.ReasonCode.IsError() {
		c.completePublish(m, p.ReasonCode, p.Props)
		return
	}

	m.stage = StagePubrecReceived
	if err := c.write(&packet.Pubrel{PacketID: p.PacketID}); err != nil {
		c.connectionLost(err)
	}
}

func (c *Client) handlePubcomp(p *packet.Pubcomp) {
	m, ok := c.inflight.get(p.PacketID)
	if !ok || m.stage != StagePubrecReceived {
		c.logger.Warn("PUBCOMP for unknown packet id", LogFields{LogFieldPacketID: p.PacketID})
		return
	}
	c.completePublish(m, p.ReasonCode, p.Props)
}

// completePublish removes a finished QoS 1 or QoS 2 publish, releases its
// packet identifier and quota, and resolves the caller.
func (c *Client) completePublish(m *inflightMessage, code ReasonCode, props Properties) {
	id := m.id()
	c.inflight.remove(id)
	c.ids.release(id)
	c.flow.release()
	c.metrics.inflight(c.inflight.len())
	c.metrics.publishLatency(m.publish.QoS, time.Since(m.created))

	res := response{publish: &PublishResult{PacketID: id, ReasonCode: code, Props: props}}
	if code.IsError() {
		res.err = NewPublishError(m.publish.Topic, id, code)
	}
	c.pending.resolve(id, requestPublish, res)

	c.flushBacklog()
}

func (c *Client) handleSuback(p *packet.Suback) {
	req, ok := c.pending.lookup(p.PacketID)
	if !ok || req.kind != requestSubscribe {
		c.logger.Warn("SUBACK for unknown packet id", LogFields{LogFieldPacketID: p.PacketID})
		return
	}

	res := response{subscribe: &SubscribeResult{
		PacketID:    p.PacketID,
		ReasonCodes: p.ReasonCodes,
		Props:       p.Props,
	}}
	subs := req.pkt.(*packet.Subscribe).Subscriptions
	for i, code := range p.ReasonCodes {
		if code.IsError() && i < len(subs) {
			res.err = NewSubscribeError(subs[i].TopicFilter, code)
			break
		}
	}

	c.pending.resolve(p.PacketID, requestSubscribe, res)
	c.ids.release(p.PacketID)
}

func (c *Client) handleUnsuback(p *packet.Unsuback) {
	req, ok := c.pending.lookup(p.PacketID)
	if !ok || req.kind != requestUnsubscribe {
		c.logger.Warn("UNSUBACK for unknown packet id", LogFields{LogFieldPacketID: p.PacketID})
		return
	}

	res := response{unsubscribe: &UnsubscribeResult{
		PacketID:    p.PacketID,
		ReasonCodes: p.ReasonCodes,
		Props:       p.Props,
	}}
	filters := req.pkt.(*packet.Unsubscribe).TopicFilters
	for i, code := range p.ReasonCodes {
		if code.IsError() && i < len(filters) {
			res.err = NewUnsubscribeError(filters[i], code)
			break
		}
	}

	c.pending.resolve(p.PacketID, requestUnsubscribe, res)
	c.ids.release(p.PacketID)
}

// handleDisconnect reacts to a server DISCONNECT by reconnecting, to the
// referenced server first when the server asked for that.
func (c *Client) handleDisconnect(p *packet.Disconnect) {
	c.logger.Warn("server disconnected", LogFields{
		LogFieldReasonCode: p.ReasonCode.String(),
		"reason":           p.Props.GetString(packet.PropReasonString),
	})
	c.emit(NewDisconnectError(p.ReasonCode, &p.Props, true))
	c.followServerReference(p.ReasonCode, &p.Props, c.server)
	c.connectionLost(fmt.Errorf("%w: %s", ErrServerDisconnect, p.ReasonCode))
}

// handleAuth answers server-initiated re-authentication.
func (c *Client) handleAuth(p *packet.Auth) {
	auth := c.options.enhancedAuth
	switch {
	case p.ReasonCode == packet.ReasonSuccess:
		c.logger.Debug("re-authentication succeeded", nil)
		return
	case auth == nil || p.ReasonCode != packet.ReasonContinueAuth:
		err := fmt.Errorf("%w: unexpected AUTH %s", ErrProtocolError, p.ReasonCode)
		c.abortConnection(packet.ReasonProtocolError, err.Error(), err)
		return
	}

	result, err := auth.AuthContinue(c.runCtx, &ClientEnhancedAuthContext{
		AuthMethod: p.Method(),
		AuthData:   p.Data(),
		ReasonCode: p.ReasonCode,
	})
	if err != nil {
		c.abortConnection(packet.ReasonNotAuthorized, "", fmt.Errorf("re-authentication failed: %w", err))
		return
	}

	resp := &packet.Auth{ReasonCode: packet.ReasonContinueAuth}
	resp.Props.Set(packet.PropAuthenticationMethod, auth.AuthMethod())
	if len(result.AuthData) > 0 {
		resp.Props.Set(packet.PropAuthenticationData, result.AuthData)
	}
	if err := c.write(resp); err != nil {
		c.connectionLost(err)
	}
}

// handleKeepAlive sends PINGREQ when the connection was idle and treats a
// missing PINGRESP as a dead connection.
func (c *Client) handleKeepAlive(now time.Time) {
	if c.conn == nil {
		return
	}

	ping, timedOut := c.keepAlive.check(now)
	if timedOut {
		c.logger.Warn("keep-alive timeout", LogFields{LogFieldServer: c.server})
		c.connectionLost(ErrKeepAliveTimeout)
		return
	}
	if !ping {
		return
	}

	if err := c.write(&packet.Pingreq{}); err != nil {
		c.connectionLost(err)
		return
	}
	c.keepAlive.pingSent(now)
}

// abortConnection sends DISCONNECT with the reason code and a Reason String,
// then drops the connection and reconnects.
func (c *Client) abortConnection(code ReasonCode, reason string, cause error) {
	if c.conn != nil {
		d := &packet.Disconnect{ReasonCode: code}
		if reason != "" {
			d.Props.Set(packet.PropReasonString, reason)
		}
		if err := c.write(d); err != nil {
			c.logger.Debug("failed to send DISCONNECT", LogFields{LogFieldError: err.Error()})
		}
	}
	c.connectionLost(cause)
}

// connectionLost closes the current connection and starts a new pass. All
// in-flight state stays for replay on the next connection.
func (c *Client) connectionLost(cause error) {
	if c.conn == nil {
		return
	}

	c.conn.Close()
	c.conn = nil
	if c.ticker != nil {
		c.ticker.Stop()
		c.ticker = nil
	}
	c.aliases.clear()
	c.backoff.connectionEnded(time.Since(c.connectedAt))

	c.setState(StateReconnecting)
	c.metrics.connectionLost()
	c.logger.Warn("connection lost", LogFields{
		LogFieldServer: c.server,
		LogFieldEpoch:  c.epoch,
		LogFieldError:  cause.Error(),
	})
	c.emit(NewConnectionLostError(cause))

	c.beginPass()
}

// disconnect sends DISCONNECT and ends the engine with ErrClientClosed.
func (c *Client) disconnect(req *request) error {
	d := req.pkt.(*packet.Disconnect)
	if c.conn != nil {
		if err := c.write(d); err != nil {
			c.logger.Debug("failed to send DISCONNECT", LogFields{LogFieldError: err.Error()})
		}
	}
	c.disconnectCode = d.ReasonCode
	req.resolve(response{})
	return ErrClientClosed
}

// teardown stops everything the engine started and fails every waiting
// call with err. It runs once, on the engine goroutine.
func (c *Client) teardown(err error) {
	if c.attemptCancel != nil {
		c.attemptCancel()
		c.attemptCancel = nil
	}
	if c.connecting {
		if res := <-c.connectResults; res.conn != nil {
			res.conn.Close()
		}
		c.connecting = false
	}
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	if c.ticker != nil {
		c.ticker.Stop()
		c.ticker = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}

	c.setState(StateDisconnected)
	c.metrics.disconnected()

	failed := c.pending.failAll(err)
	for _, req := range c.backlog {
		req.resolve(response{err: err})
	}
	c.backlog = nil
	c.ids.reset()
	c.inflight.clear()
	c.inboundQoS2.clear()
	c.metrics.inflight(0)

	c.logger.Info("client stopped", LogFields{
		LogFieldError: err.Error(),
		"failed":      failed,
	})

	c.termErr = err
	c.received.close(err)

	if errors.Is(err, ErrClientClosed) {
		c.emit(NewDisconnectError(c.disconnectCode, nil, false))
	} else {
		c.emit(err)
	}
	c.events.close(err)

	close(c.done)
}
