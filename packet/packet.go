// Package packet implements encoding and decoding of MQTT v5.0 control packets.
//
// Packets are encoded into and decoded from byte buffers. Decoding failures
// caused by the content of a packet are reported as *MalformedError, which
// carries a human-readable description suitable for the Reason String of a
// DISCONNECT packet.
package packet

// Packet is the interface that all MQTT control packets implement.
// MQTT v5.0 spec: Section 2.1
type Packet interface {
	// Type returns the packet type.
	Type() PacketType

	// Validate validates the packet contents before encoding.
	Validate() error

	flags() byte
	encodeBody(w *writer) error
	decodeBody(r *reader, flags byte) error
}

// WithID is implemented by packets that carry a packet identifier.
// MQTT v5.0 spec: Section 2.2.1
type WithID interface {
	Packet

	// ID returns the packet identifier.
	ID() uint16
}

// WithProperties is implemented by packets that have properties.
type WithProperties interface {
	Packet

	// Properties returns a pointer to the packet's properties.
	Properties() *Properties
}
