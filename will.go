package mqttclient

import (
	"github.com/vitalvas/mqttclient/packet"
)

// WillMessage is the Last Will and Testament published by the server when
// the client's connection ends without a normal DISCONNECT.
// MQTT v5.0 spec: Section 3.1.3.2
type WillMessage struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool

	// DelayInterval is the will delay interval in seconds.
	// The server delays publishing the will message until this interval expires
	// or the session expires, whichever happens first.
	DelayInterval uint32

	// PayloadFormat indicates if the payload is UTF-8 encoded (1) or binary (0).
	PayloadFormat byte

	// MessageExpiry is the message expiry interval in seconds.
	MessageExpiry uint32

	ContentType     string
	ResponseTopic   string
	CorrelationData []byte
	UserProperties  []StringPair
}

// Validate validates the will message.
func (w *WillMessage) Validate() error {
	if err := ValidateTopicName(w.Topic); err != nil {
		return err
	}
	if w.QoS > 2 {
		return ErrInvalidQoS
	}
	return nil
}

// toPacket builds the Will part of the CONNECT packet.
func (w *WillMessage) toPacket() *packet.Will {
	will := &packet.Will{
		Topic:   w.Topic,
		Payload: w.Payload,
		QoS:     w.QoS,
		Retain:  w.Retain,
	}
	props := &will.Props

	if w.DelayInterval > 0 {
		props.Set(packet.PropWillDelayInterval, w.DelayInterval)
	}
	if w.PayloadFormat > 0 {
		props.Set(packet.PropPayloadFormatIndicator, w.PayloadFormat)
	}
	if w.MessageExpiry > 0 {
		props.Set(packet.PropMessageExpiryInterval, w.MessageExpiry)
	}
	if w.ContentType != "" {
		props.Set(packet.PropContentType, w.ContentType)
	}
	if w.ResponseTopic != "" {
		props.Set(packet.PropResponseTopic, w.ResponseTopic)
	}
	if len(w.CorrelationData) > 0 {
		props.Set(packet.PropCorrelationData, w.CorrelationData)
	}
	for _, up := range w.UserProperties {
		props.Add(packet.PropUserProperty, up)
	}

	return will
}
