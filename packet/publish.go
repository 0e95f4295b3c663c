package packet

// Publish represents an MQTT PUBLISH packet.
// MQTT v5.0 spec: Section 3.3
type Publish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retain   bool
	DUP      bool
	PacketID uint16 // only for QoS > 0
	Props    Properties
}

// Type returns the packet type.
func (p *Publish) Type() PacketType { return PUBLISH }

// ID returns the packet identifier.
func (p *Publish) ID() uint16 { return p.PacketID }

// Properties returns a pointer to the packet's properties.
func (p *Publish) Properties() *Properties { return &p.Props }

func (p *Publish) flags() byte {
	var flags byte
	if p.DUP {
		flags |= 0x08
	}
	flags |= (p.QoS & 0x03) << 1
	if p.Retain {
		flags |= 0x01
	}
	return flags
}

// Validate validates the packet contents.
func (p *Publish) Validate() error {
	if p.QoS > 2 {
		return ErrInvalidQoS
	}
	if p.QoS == 0 && p.DUP {
		return ErrDUPWithQoS0
	}
	if p.QoS > 0 && p.PacketID == 0 {
		return ErrInvalidPacketID
	}
	// An empty topic is only valid together with a Topic Alias.
	if p.Topic == "" && !p.Props.Has(PropTopicAlias) {
		return ErrInvalidTopic
	}
	return nil
}

func (p *Publish) encodeBody(w *writer) error {
	if err := w.writeString(p.Topic); err != nil {
		return err
	}
	if p.QoS > 0 {
		w.writeUint16(p.PacketID)
	}
	if err := p.Props.encode(w); err != nil {
		return err
	}
	w.writeBytes(p.Payload)
	return nil
}

func (p *Publish) decodeBody(r *reader, flags byte) error {
	p.QoS = (flags >> 1) & 0x03
	if p.QoS == 3 {
		return ErrInvalidQoSBits
	}
	p.DUP = flags&0x08 != 0
	p.Retain = flags&0x01 != 0
	if p.QoS == 0 && p.DUP {
		return ErrDUPWithQoS0
	}

	var err error
	if p.Topic, err = r.readString(); err != nil {
		return err
	}

	if p.QoS > 0 {
		if p.PacketID, err = r.readUint16(); err != nil {
			return err
		}
		if p.PacketID == 0 {
			return ErrInvalidPacketID
		}
	}

	if err := p.Props.decode(r); err != nil {
		return err
	}
	if p.Topic == "" && !p.Props.Has(PropTopicAlias) {
		return ErrInvalidTopic
	}

	p.Payload = r.rest()
	return nil
}

// Clone returns a deep copy of the packet.
func (p *Publish) Clone() *Publish {
	c := *p
	if p.Payload != nil {
		c.Payload = append([]byte(nil), p.Payload...)
	}
	c.Props = p.Props.Clone()
	return &c
}
