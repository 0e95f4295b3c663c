package packet

// PacketType represents an MQTT control packet type.
type PacketType byte

// MQTT control packet types.
const (
	CONNECT     PacketType = 1
	CONNACK     PacketType = 2
	PUBLISH     PacketType = 3
	PUBACK      PacketType = 4
	PUBREC      PacketType = 5
	PUBREL      PacketType = 6
	PUBCOMP     PacketType = 7
	SUBSCRIBE   PacketType = 8
	SUBACK      PacketType = 9
	UNSUBSCRIBE PacketType = 10
	UNSUBACK    PacketType = 11
	PINGREQ     PacketType = 12
	PINGRESP    PacketType = 13
	DISCONNECT  PacketType = 14
	AUTH        PacketType = 15
)

var packetTypeNames = [...]string{
	CONNECT:     "CONNECT",
	CONNACK:     "CONNACK",
	PUBLISH:     "PUBLISH",
	PUBACK:      "PUBACK",
	PUBREC:      "PUBREC",
	PUBREL:      "PUBREL",
	PUBCOMP:     "PUBCOMP",
	SUBSCRIBE:   "SUBSCRIBE",
	SUBACK:      "SUBACK",
	UNSUBSCRIBE: "UNSUBSCRIBE",
	UNSUBACK:    "UNSUBACK",
	PINGREQ:     "PINGREQ",
	PINGRESP:    "PINGRESP",
	DISCONNECT:  "DISCONNECT",
	AUTH:        "AUTH",
}

// String returns the string representation of the packet type.
func (p PacketType) String() string {
	if p.Valid() {
		return packetTypeNames[p]
	}
	return "UNKNOWN"
}

// Valid returns true if the packet type is valid.
func (p PacketType) Valid() bool {
	return p >= CONNECT && p <= AUTH
}

// FixedHeader represents the fixed header of an MQTT control packet.
type FixedHeader struct {
	PacketType      PacketType
	Flags           byte
	RemainingLength uint32
}

// ParseFixedHeader splits the first byte of a packet into type and flags.
func ParseFixedHeader(first byte, remaining uint32) FixedHeader {
	return FixedHeader{
		PacketType:      PacketType(first >> 4),
		Flags:           first & 0x0F,
		RemainingLength: remaining,
	}
}

// Byte returns the first byte of the fixed header.
func (h FixedHeader) Byte() byte {
	return byte(h.PacketType)<<4 | (h.Flags & 0x0F)
}

// Size returns the encoded size of the fixed header in bytes.
func (h FixedHeader) Size() int {
	return 1 + varintSize(h.RemainingLength)
}

// validateFlags checks the reserved flag bits for every packet type except
// PUBLISH, whose flags carry DUP, QoS and RETAIN.
func (h FixedHeader) validateFlags() error {
	switch h.PacketType {
	case PUBLISH:
		return nil
	case PUBREL, SUBSCRIBE, UNSUBSCRIBE:
		if h.Flags != 0x02 {
			return ErrInvalidPacketFlags
		}
	default:
		if h.Flags != 0x00 {
			return ErrInvalidPacketFlags
		}
	}
	return nil
}
