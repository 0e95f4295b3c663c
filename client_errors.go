package mqttclient

import (
	"errors"
	"fmt"
	"time"

	"github.com/vitalvas/mqttclient/packet"
)

// EventHandler is called for every lifecycle event, one at a time, from the
// event goroutine. Calling back into the client is allowed.
type EventHandler func(client *Client, event error)

// Lifecycle events, matched with errors.Is.
var (
	// ErrConnected follows every successful CONNACK.
	ErrConnected = errors.New("connected")

	// ErrDisconnected follows a DISCONNECT sent by the client.
	ErrDisconnected = errors.New("disconnected")

	// ErrConnectionLost follows a read, write or keep-alive failure.
	ErrConnectionLost = errors.New("connection lost")

	// ErrReconnecting precedes each attempt after the first.
	ErrReconnecting = errors.New("reconnecting")
)

// Authentication failures.
var (
	// ErrAuthFailed wraps bad credentials, a bad auth method, or a failed
	// enhanced authentication exchange.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrNotAuthorized wraps Not Authorized and Banned.
	ErrNotAuthorized = errors.New("not authorized")
)

// Protocol failures. Each one ends the current connection.
var (
	ErrProtocolError = errors.New("protocol error")

	// ErrServerDisconnect wraps a DISCONNECT received from the server.
	ErrServerDisconnect = errors.New("server disconnect")

	// ErrKeepAliveTimeout means no PINGRESP arrived within the keep-alive interval.
	ErrKeepAliveTimeout = errors.New("keep-alive timeout")

	// ErrUnexpectedPacket is a packet a client never receives, or an
	// acknowledgement for an identifier that is not in use.
	ErrUnexpectedPacket = errors.New("unexpected packet")
)

// Request errors returned by Publish, Subscribe and Unsubscribe.
var (
	ErrPublishFailed = errors.New("publish failed")

	ErrSubscribeFailed = errors.New("subscribe failed")

	ErrUnsubscribeFailed = errors.New("unsubscribe failed")

	// ErrClientClosed is returned to calls still waiting when Disconnect
	// ends the session, and to any call made afterwards.
	ErrClientClosed = errors.New("client closed")

	// ErrCanceled is returned to waiting calls after Cancel or after the
	// context passed to Run is done.
	ErrCanceled = errors.New("client canceled")

	// ErrAlreadyRunning is returned by a second concurrent call to Run.
	ErrAlreadyRunning = errors.New("client is already running")

	// ErrPacketIDExhausted fails a request while all 65535 identifiers are taken.
	ErrPacketIDExhausted = errors.New("no available packet IDs")

	ErrInvalidTopic = errors.New("invalid topic")

	ErrInvalidQoS = errors.New("invalid QoS level")

	// ErrQoSNotSupported is a QoS above the server's Maximum QoS.
	ErrQoSNotSupported = errors.New("QoS not supported by server")

	// ErrRetainNotSupported is a retained publish to a server without
	// Retain Available.
	ErrRetainNotSupported = errors.New("retain not supported by server")

	ErrNoServers = errors.New("no servers configured")
)

// ConnectedEvent describes an accepted CONNECT.
type ConnectedEvent struct {
	err            error
	Server         string
	SessionPresent bool
	ServerProps    *Properties
}

func (e *ConnectedEvent) Error() string { return e.err.Error() + " to " + e.Server }
func (e *ConnectedEvent) Unwrap() error { return e.err }

func NewConnectedEvent(server string, sessionPresent bool, props *Properties) *ConnectedEvent {
	return &ConnectedEvent{
		err:            ErrConnected,
		Server:         server,
		SessionPresent: sessionPresent,
		ServerProps:    props,
	}
}

// DisconnectError carries the DISCONNECT that ended a connection, sent or received.
type DisconnectError struct {
	err        error
	ReasonCode ReasonCode
	Properties *Properties
	Remote     bool
}

func (e *DisconnectError) Error() string {
	if e.Remote {
		return "server disconnect: " + e.ReasonCode.String()
	}
	return "disconnected: " + e.ReasonCode.String()
}

func (e *DisconnectError) Unwrap() error { return e.err }

func NewDisconnectError(reason ReasonCode, props *Properties, remote bool) *DisconnectError {
	baseErr := ErrDisconnected
	if remote {
		baseErr = ErrServerDisconnect
	}
	return &DisconnectError{
		err:        baseErr,
		ReasonCode: reason,
		Properties: props,
		Remote:     remote,
	}
}

// ReconnectEvent announces the next connection attempt. Cause is the error
// that ended the previous connection or attempt.
type ReconnectEvent struct {
	err      error
	Server   string
	Attempt  int
	Delay    time.Duration
	Cause    error
	cancelFn func()
}

func (e *ReconnectEvent) Error() string {
	return fmt.Sprintf("%s to %s (attempt %d, delay %s)", e.err, e.Server, e.Attempt, e.Delay)
}

func (e *ReconnectEvent) Unwrap() error { return e.err }

// Cancel stops the client as if Cancel had been called on it.
func (e *ReconnectEvent) Cancel() {
	if e.cancelFn != nil {
		e.cancelFn()
	}
}

func NewReconnectEvent(server string, attempt int, delay time.Duration, cause error, cancelFn func()) *ReconnectEvent {
	return &ReconnectEvent{
		err:      ErrReconnecting,
		Server:   server,
		Attempt:  attempt,
		Delay:    delay,
		Cause:    cause,
		cancelFn: cancelFn,
	}
}

// PublishError is a PUBACK or PUBREC with a failure reason code.
type PublishError struct {
	err        error
	Topic      string
	PacketID   uint16
	ReasonCode ReasonCode
}

func (e *PublishError) Error() string {
	return "publish failed: " + e.ReasonCode.String()
}

func (e *PublishError) Unwrap() error { return e.err }

func NewPublishError(topic string, packetID uint16, reason ReasonCode) *PublishError {
	return &PublishError{
		err:        ErrPublishFailed,
		Topic:      topic,
		PacketID:   packetID,
		ReasonCode: reason,
	}
}

// SubscribeError reports the first rejected entry of a SUBACK or UNSUBACK.
// It unwraps to ErrSubscribeFailed or ErrUnsubscribeFailed.
type SubscribeError struct {
	err        error
	Topic      string
	ReasonCode ReasonCode
}

func (e *SubscribeError) Error() string {
	if errors.Is(e.err, ErrUnsubscribeFailed) {
		return "unsubscribe failed: " + e.Topic + ": " + e.ReasonCode.String()
	}
	return "subscribe failed: " + e.Topic + ": " + e.ReasonCode.String()
}

func (e *SubscribeError) Unwrap() error { return e.err }

func NewSubscribeError(topic string, reason ReasonCode) *SubscribeError {
	return &SubscribeError{
		err:        ErrSubscribeFailed,
		Topic:      topic,
		ReasonCode: reason,
	}
}

func NewUnsubscribeError(topic string, reason ReasonCode) *SubscribeError {
	return &SubscribeError{
		err:        ErrUnsubscribeFailed,
		Topic:      topic,
		ReasonCode: reason,
	}
}

// ConnectionLostError wraps the I/O or protocol error that dropped a connection.
type ConnectionLostError struct {
	err   error
	Cause error
}

func (e *ConnectionLostError) Error() string {
	if e.Cause != nil {
		return "connection lost: " + e.Cause.Error()
	}
	return "connection lost"
}

func (e *ConnectionLostError) Unwrap() error { return e.err }

func NewConnectionLostError(cause error) *ConnectionLostError {
	return &ConnectionLostError{
		err:   ErrConnectionLost,
		Cause: cause,
	}
}

// ConnectError is a CONNACK that refused the connection.
type ConnectError struct {
	err        error
	Server     string
	ReasonCode ReasonCode
	Properties *Properties
}

func (e *ConnectError) Error() string {
	msg := "connect failed: " + e.ReasonCode.String()
	if reason := e.Properties.GetString(packet.PropReasonString); reason != "" {
		msg += ": " + reason
	}
	return msg
}

func (e *ConnectError) Unwrap() error { return e.err }

// Retryable reports whether the reason code allows another attempt,
// possibly against a different server.
func (e *ConnectError) Retryable() bool {
	return isRetryableConnack(e.ReasonCode)
}

// NewConnectError maps authentication and authorization reason codes to
// ErrAuthFailed and ErrNotAuthorized; everything else is ErrProtocolError.
func NewConnectError(server string, reason ReasonCode, props *Properties) *ConnectError {
	baseErr := ErrProtocolError
	switch reason {
	case packet.ReasonBadUserNameOrPassword, packet.ReasonBadAuthMethod:
		baseErr = ErrAuthFailed
	case packet.ReasonNotAuthorized, packet.ReasonBanned:
		baseErr = ErrNotAuthorized
	}
	return &ConnectError{
		err:        baseErr,
		Server:     server,
		ReasonCode: reason,
		Properties: props,
	}
}
