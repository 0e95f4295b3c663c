package mqttclient

import (
	"fmt"
	"sync"

	"github.com/vitalvas/mqttclient/packet"
)

// ServerCapabilities are the limits the broker announced in its CONNACK.
// Absent properties keep their protocol defaults.
// MQTT v5.0 spec: Section 3.2.2.3
type ServerCapabilities struct {
	MaximumQoS              byte
	MaximumPacketSize       uint32 // 0 means no limit
	RetainAvailable         bool
	WildcardSubAvailable    bool
	SubscriptionIDAvailable bool
	SharedSubAvailable      bool
	ReceiveMaximum          uint16
	TopicAliasMaximum       uint16
	ServerKeepAlive         uint16 // 0 means the client's value is used
	SessionExpiryInterval   uint32
	ResponseInformation     string
}

// DefaultServerCapabilities returns the capabilities assumed when the
// CONNACK carries no properties.
func DefaultServerCapabilities() ServerCapabilities {
	return ServerCapabilities{
		MaximumQoS:              2,
		RetainAvailable:         true,
		WildcardSubAvailable:    true,
		SubscriptionIDAvailable: true,
		SharedSubAvailable:      true,
		ReceiveMaximum:          65535,
	}
}

// capabilitiesFromConnack reads the CONNACK properties. Values the server is
// not allowed to send are a protocol error.
func capabilitiesFromConnack(props *packet.Properties) (ServerCapabilities, error) {
	caps := DefaultServerCapabilities()

	if props.Has(packet.PropMaximumPacketSize) {
		size := props.GetUint32(packet.PropMaximumPacketSize)
		if size == 0 || size > MaxPacketSizeProtocol {
			return caps, fmt.Errorf("server sent invalid Maximum Packet Size: %w", ErrProtocolError)
		}
		caps.MaximumPacketSize = size
	}

	if props.Has(packet.PropReceiveMaximum) {
		rm := props.GetUint16(packet.PropReceiveMaximum)
		if rm == 0 {
			return caps, fmt.Errorf("server sent Receive Maximum = 0: %w", ErrProtocolError)
		}
		caps.ReceiveMaximum = rm
	}

	if props.Has(packet.PropMaximumQoS) {
		maxQoS := props.GetByte(packet.PropMaximumQoS)
		// only 0 or 1 may be sent, absence means 2
		if maxQoS > 1 {
			return caps, fmt.Errorf("server sent invalid Maximum QoS = %d: %w", maxQoS, ErrProtocolError)
		}
		caps.MaximumQoS = maxQoS
	}

	if props.Has(packet.PropRetainAvailable) {
		caps.RetainAvailable = props.GetByte(packet.PropRetainAvailable) == 1
	}
	if props.Has(packet.PropWildcardSubAvailable) {
		caps.WildcardSubAvailable = props.GetByte(packet.PropWildcardSubAvailable) == 1
	}
	if props.Has(packet.PropSubscriptionIDAvailable) {
		caps.SubscriptionIDAvailable = props.GetByte(packet.PropSubscriptionIDAvailable) == 1
	}
	if props.Has(packet.PropSharedSubAvailable) {
		caps.SharedSubAvailable = props.GetByte(packet.PropSharedSubAvailable) == 1
	}

	caps.TopicAliasMaximum = props.GetUint16(packet.PropTopicAliasMaximum)
	caps.ServerKeepAlive = props.GetUint16(packet.PropServerKeepAlive)
	caps.SessionExpiryInterval = props.GetUint32(packet.PropSessionExpiryInterval)
	caps.ResponseInformation = props.GetString(packet.PropResponseInformation)

	return caps, nil
}

// session is the logical identity kept across physical connections.
// The engine goroutine writes it; readers take the lock.
type session struct {
	mu sync.RWMutex

	clientID   string
	cleanStart bool
	caps       ServerCapabilities
	keepAlive  uint16
}

func newSession(o *clientOptions) *session {
	return &session{
		clientID:   o.clientID,
		cleanStart: o.cleanStart,
		caps:       DefaultServerCapabilities(),
		keepAlive:  o.keepAlive,
	}
}

// establish records a successful handshake. Later CONNECTs resume the
// session instead of starting clean.
func (s *session) establish(connack *packet.Connack, caps ServerCapabilities, requestedKeepAlive uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if assigned := connack.Props.GetString(packet.PropAssignedClientIdentifier); assigned != "" {
		s.clientID = assigned
	}
	s.caps = caps
	s.keepAlive = requestedKeepAlive
	if caps.ServerKeepAlive > 0 {
		s.keepAlive = caps.ServerKeepAlive
	}
	s.cleanStart = false
}

func (s *session) id() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clientID
}

func (s *session) capabilities() ServerCapabilities {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.caps
}

func (s *session) effectiveKeepAlive() uint16 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.keepAlive
}

func (s *session) isCleanStart() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cleanStart
}
