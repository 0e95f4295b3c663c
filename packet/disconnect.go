package packet

// Disconnect represents an MQTT DISCONNECT packet.
// MQTT v5.0 spec: Section 3.14
type Disconnect struct {
	ReasonCode ReasonCode
	Props      Properties
}

// Type returns the packet type.
func (p *Disconnect) Type() PacketType { return DISCONNECT }

// Properties returns a pointer to the packet's properties.
func (p *Disconnect) Properties() *Properties { return &p.Props }

func (p *Disconnect) flags() byte { return 0 }

// Validate validates the packet contents.
func (p *Disconnect) Validate() error {
	if !p.ReasonCode.ValidFor(DISCONNECT) {
		return ErrInvalidReasonCode
	}
	return nil
}

func (p *Disconnect) encodeBody(w *writer) error {
	if p.ReasonCode == ReasonSuccess && p.Props.Len() == 0 {
		return nil
	}
	w.writeByte(byte(p.ReasonCode))
	if p.Props.Len() == 0 {
		return nil
	}
	return p.Props.encode(w)
}

func (p *Disconnect) decodeBody(r *reader, _ byte) error {
	p.ReasonCode = ReasonSuccess
	if r.remaining() == 0 {
		return nil
	}
	code, err := r.readByte()
	if err != nil {
		return err
	}
	p.ReasonCode = ReasonCode(code)
	if !p.ReasonCode.ValidFor(DISCONNECT) {
		return ErrInvalidReasonCode
	}
	if r.remaining() == 0 {
		return nil
	}
	return p.Props.decode(r)
}
