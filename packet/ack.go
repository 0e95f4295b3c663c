package packet

// ack holds the shared layout of PUBACK, PUBREC, PUBREL and PUBCOMP.
// MQTT v5.0 spec: Sections 3.4 - 3.7
type ack struct {
	PacketID   uint16
	ReasonCode ReasonCode
	Props      Properties
}

func (a *ack) validate(t PacketType) error {
	if a.PacketID == 0 {
		return ErrInvalidPacketID
	}
	if !a.ReasonCode.ValidFor(t) {
		return ErrInvalidReasonCode
	}
	return nil
}

// encode omits the reason code and properties for a plain success, the
// shortest form allowed.
func (a *ack) encode(w *writer) error {
	w.writeUint16(a.PacketID)
	if a.ReasonCode == ReasonSuccess && a.Props.Len() == 0 {
		return nil
	}
	w.writeByte(byte(a.ReasonCode))
	if a.Props.Len() == 0 {
		return nil
	}
	return a.Props.encode(w)
}

func (a *ack) decode(r *reader, t PacketType) error {
	var err error
	if a.PacketID, err = r.readUint16(); err != nil {
		return err
	}
	if a.PacketID == 0 {
		return ErrInvalidPacketID
	}

	a.ReasonCode = ReasonSuccess
	if r.remaining() == 0 {
		return nil
	}
	code, err := r.readByte()
	if err != nil {
		return err
	}
	a.ReasonCode = ReasonCode(code)
	if !a.ReasonCode.ValidFor(t) {
		return ErrInvalidReasonCode
	}
	if r.remaining() == 0 {
		return nil
	}
	return a.Props.decode(r)
}

// Puback represents an MQTT PUBACK packet.
type Puback ack

// Type returns the packet type.
func (p *Puback) Type() PacketType { return PUBACK }

// ID returns the packet identifier.
func (p *Puback) ID() uint16 { return p.PacketID }

// Properties returns a pointer to the packet's properties.
func (p *Puback) Properties() *Properties { return &p.Props }

// Validate validates the packet contents.
func (p *Puback) Validate() error { return (*ack)(p).validate(PUBACK) }

func (p *Puback) flags() byte                       { return 0 }
func (p *Puback) encodeBody(w *writer) error        { return (*ack)(p).encode(w) }
func (p *Puback) decodeBody(r *reader, _ byte) error { return (*ack)(p).decode(r, PUBACK) }

// Pubrec represents an MQTT PUBREC packet.
type Pubrec ack

// Type returns the packet type.
func (p *Pubrec) Type() PacketType { return PUBREC }

// ID returns the packet identifier.
func (p *Pubrec) ID() uint16 { return p.PacketID }

// Properties returns a pointer to the packet's properties.
func (p *Pubrec) Properties() *Properties { return &p.Props }

// Validate validates the packet contents.
func (p *Pubrec) Validate() error { return (*ack)(p).validate(PUBREC) }

func (p *Pubrec) flags() byte                       { return 0 }
func (p *Pubrec) encodeBody(w *writer) error        { return (*ack)(p).encode(w) }
func (p *Pubrec) decodeBody(r *reader, _ byte) error { return (*ack)(p).decode(r, PUBREC) }

// Pubrel represents an MQTT PUBREL packet. Its fixed header flags are 0x02.
type Pubrel ack

// Type returns the packet type.
func (p *Pubrel) Type() PacketType { return PUBREL }

// ID returns the packet identifier.
func (p *Pubrel) ID() uint16 { return p.PacketID }

// Properties returns a pointer to the packet's properties.
func (p *Pubrel) Properties() *Properties { return &p.Props }

// Validate validates the packet contents.
func (p *Pubrel) Validate() error { return (*ack)(p).validate(PUBREL) }

func (p *Pubrel) flags() byte                       { return 0x02 }
func (p *Pubrel) encodeBody(w *writer) error        { return (*ack)(p).encode(w) }
func (p *Pubrel) decodeBody(r *reader, _ byte) error { return (*ack)(p).decode(r, PUBREL) }

// Pubcomp represents an MQTT PUBCOMP packet.
type Pubcomp ack

// Type returns the packet type.
func (p *Pubcomp) Type() PacketType { return PUBCOMP }

// ID returns the packet identifier.
func (p *Pubcomp) ID() uint16 { return p.PacketID }

// Properties returns a pointer to the packet's properties.
func (p *Pubcomp) Properties() *Properties { return &p.Props }

// Validate validates the packet contents.
func (p *Pubcomp) Validate() error { return (*ack)(p).validate(PUBCOMP) }

func (p *Pubcomp) flags() byte                       { return 0 }
func (p *Pubcomp) encodeBody(w *writer) error        { return (*ack)(p).encode(w) }
func (p *Pubcomp) decodeBody(r *reader, _ byte) error { return (*ack)(p).decode(r, PUBCOMP) }
