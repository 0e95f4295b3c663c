package packet

import (
	"errors"
	"io"
)

// Encode validates the packet and returns its complete wire encoding,
// fixed header included.
func Encode(p Packet) ([]byte, error) {
	w := getWriter()
	defer putWriter(w)

	if err := encodeInto(w, p); err != nil {
		return nil, err
	}
	out := make([]byte, w.len())
	copy(out, w.buf)
	return out, nil
}

func encodeInto(w *writer, p Packet) error {
	if err := p.Validate(); err != nil {
		return err
	}

	body := getWriter()
	defer putWriter(body)
	if err := p.encodeBody(body); err != nil {
		return err
	}

	w.writeByte(FixedHeader{PacketType: p.Type(), Flags: p.flags()}.Byte())
	if err := w.writeVarint(uint32(body.len())); err != nil {
		return err
	}
	w.writeBytes(body.buf)
	return nil
}

// Decode decodes a packet from the first fixed-header byte and the packet
// body (everything after the remaining length). Content errors are returned
// as *MalformedError.
func Decode(first byte, body []byte) (Packet, error) {
	header := ParseFixedHeader(first, uint32(len(body)))

	p := newPacket(header.PacketType)
	if p == nil {
		return nil, newMalformed(header.PacketType, ErrUnknownPacketType)
	}
	if err := header.validateFlags(); err != nil {
		return nil, newMalformed(header.PacketType, err)
	}

	r := newReader(body)
	if err := p.decodeBody(r, header.Flags); err != nil {
		return nil, newMalformed(header.PacketType, err)
	}
	if r.remaining() > 0 {
		return nil, newMalformed(header.PacketType, ErrTrailingBytes)
	}
	return p, nil
}

func newPacket(t PacketType) Packet {
	switch t {
	case CONNECT:
		return &Connect{}
	case CONNACK:
		return &Connack{}
	case PUBLISH:
		return &Publish{}
	case PUBACK:
		return &Puback{}
	case PUBREC:
		return &Pubrec{}
	case PUBREL:
		return &Pubrel{}
	case PUBCOMP:
		return &Pubcomp{}
	case SUBSCRIBE:
		return &Subscribe{}
	case SUBACK:
		return &Suback{}
	case UNSUBSCRIBE:
		return &Unsubscribe{}
	case UNSUBACK:
		return &Unsuback{}
	case PINGREQ:
		return &Pingreq{}
	case PINGRESP:
		return &Pingresp{}
	case DISCONNECT:
		return &Disconnect{}
	case AUTH:
		return &Auth{}
	default:
		return nil
	}
}

// ReadPacket reads one complete packet from r.
// If maxSize is greater than 0, packets whose total size exceeds it return
// ErrPacketTooLarge without reading the body.
// Transport errors are returned unchanged; content errors as *MalformedError.
func ReadPacket(r io.Reader, maxSize uint32) (Packet, error) {
	var first [1]byte
	if _, err := io.ReadFull(r, first[:]); err != nil {
		return nil, err
	}

	length, err := readLength(r)
	if err != nil {
		if errors.Is(err, ErrVarintMalformed) {
			return nil, newMalformed(PacketType(first[0]>>4), err)
		}
		return nil, err
	}

	if maxSize > 0 && uint32(1+varintSize(length))+length > maxSize {
		return nil, ErrPacketTooLarge
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return Decode(first[0], body)
}

func readLength(r io.Reader) (uint32, error) {
	var value uint32
	var multiplier uint32 = 1
	var b [1]byte
	for i := 0; i < 4; i++ {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, err
		}
		value += uint32(b[0]&varintValueMask) * multiplier
		if b[0]&varintContinueBit == 0 {
			return value, nil
		}
		multiplier *= 128
	}
	return 0, ErrVarintMalformed
}

// WritePacket encodes p and writes it to w in a single Write call.
// If maxSize is greater than 0, packets larger than maxSize return ErrPacketTooLarge.
func WritePacket(w io.Writer, p Packet, maxSize uint32) (int, error) {
	buf := getWriter()
	defer putWriter(buf)

	if err := encodeInto(buf, p); err != nil {
		return 0, err
	}
	if maxSize > 0 && uint32(buf.len()) > maxSize {
		return 0, ErrPacketTooLarge
	}
	return w.Write(buf.buf)
}
