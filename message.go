package mqttclient

import (
	"github.com/vitalvas/mqttclient/packet"
)

// Aliases for codec types that appear in the client API.
type (
	Properties   = packet.Properties
	ReasonCode   = packet.ReasonCode
	Subscription = packet.Subscription
	StringPair   = packet.StringPair
)

// Message is an application message, outbound through Publish or inbound
// through Receive.
type Message struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool

	// Props carries the PUBLISH properties. A Topic Alias in an inbound
	// message has already been resolved into Topic.
	Props Properties
}

// ContentType returns the Content Type property.
func (m *Message) ContentType() string {
	return m.Props.GetString(packet.PropContentType)
}

// ResponseTopic returns the Response Topic property.
func (m *Message) ResponseTopic() string {
	return m.Props.GetString(packet.PropResponseTopic)
}

// CorrelationData returns the Correlation Data property.
func (m *Message) CorrelationData() []byte {
	return m.Props.GetBinary(packet.PropCorrelationData)
}

// UserProperties returns all User Property pairs in order.
func (m *Message) UserProperties() []StringPair {
	return m.Props.GetAllStringPairs(packet.PropUserProperty)
}

// SubscriptionIdentifiers returns the Subscription Identifiers of the
// subscriptions that matched an inbound message.
func (m *Message) SubscriptionIdentifiers() []uint32 {
	return m.Props.GetAllVarInts(packet.PropSubscriptionIdentifier)
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	c := *m
	if m.Payload != nil {
		c.Payload = append([]byte(nil), m.Payload...)
	}
	c.Props = m.Props.Clone()
	return &c
}

func (m *Message) toPublish(id uint16) *packet.Publish {
	return &packet.Publish{
		Topic:    m.Topic,
		Payload:  m.Payload,
		QoS:      m.QoS,
		Retain:   m.Retain,
		PacketID: id,
		Props:    m.Props.Clone(),
	}
}

func messageFromPublish(p *packet.Publish) *Message {
	msg := &Message{
		Topic:   p.Topic,
		Payload: p.Payload,
		QoS:     p.QoS,
		Retain:  p.Retain,
		Props:   p.Props,
	}
	msg.Props.Delete(packet.PropTopicAlias)
	return msg
}

// PublishResult is the outcome of a Publish call. For QoS 0 it is empty;
// for QoS 1 it carries the PUBACK, for QoS 2 the PUBCOMP (or the failing PUBREC).
type PublishResult struct {
	PacketID   uint16
	ReasonCode ReasonCode
	Props      Properties
}

// SubscribeResult carries the SUBACK answering a Subscribe call.
type SubscribeResult struct {
	PacketID    uint16
	ReasonCodes []ReasonCode
	Props       Properties
}

// UnsubscribeResult carries the UNSUBACK answering an Unsubscribe call.
type UnsubscribeResult struct {
	PacketID    uint16
	ReasonCodes []ReasonCode
	Props       Properties
}
