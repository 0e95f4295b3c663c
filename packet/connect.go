package packet

const (
	protocolName    = "MQTT"
	protocolVersion = 5
)

// Connect flag bits.
const (
	connectFlagReserved   = 0x01
	connectFlagCleanStart = 0x02
	connectFlagWill       = 0x04
	connectFlagWillRetain = 0x20
	connectFlagPassword   = 0x40
	connectFlagUsername   = 0x80
)

// Will is the Will Message carried by a CONNECT packet.
type Will struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
	Props   Properties
}

// Connect represents an MQTT CONNECT packet.
// MQTT v5.0 spec: Section 3.1
type Connect struct {
	ClientID   string
	CleanStart bool
	KeepAlive  uint16
	Props      Properties
	Username   string
	Password   []byte
	Will       *Will
}

// Type returns the packet type.
func (p *Connect) Type() PacketType { return CONNECT }

// Properties returns a pointer to the packet's properties.
func (p *Connect) Properties() *Properties { return &p.Props }

func (p *Connect) flags() byte { return 0 }

func (p *Connect) connectFlags() byte {
	var flags byte
	if p.CleanStart {
		flags |= connectFlagCleanStart
	}
	if p.Will != nil {
		flags |= connectFlagWill
		flags |= (p.Will.QoS & 0x03) << 3
		if p.Will.Retain {
			flags |= connectFlagWillRetain
		}
	}
	if p.Password != nil {
		flags |= connectFlagPassword
	}
	if p.Username != "" {
		flags |= connectFlagUsername
	}
	return flags
}

// Validate validates the packet contents.
func (p *Connect) Validate() error {
	if p.Will != nil {
		if p.Will.QoS > 2 {
			return ErrInvalidQoS
		}
		if p.Will.Topic == "" {
			return ErrInvalidTopic
		}
	}
	return nil
}

func (p *Connect) encodeBody(w *writer) error {
	if err := w.writeString(protocolName); err != nil {
		return err
	}
	w.writeByte(protocolVersion)
	w.writeByte(p.connectFlags())
	w.writeUint16(p.KeepAlive)
	if err := p.Props.encode(w); err != nil {
		return err
	}

	if err := w.writeString(p.ClientID); err != nil {
		return err
	}
	if p.Will != nil {
		if err := p.Will.Props.encode(w); err != nil {
			return err
		}
		if err := w.writeString(p.Will.Topic); err != nil {
			return err
		}
		if err := w.writeBinary(p.Will.Payload); err != nil {
			return err
		}
	}
	if p.Username != "" {
		if err := w.writeString(p.Username); err != nil {
			return err
		}
	}
	if p.Password != nil {
		if err := w.writeBinary(p.Password); err != nil {
			return err
		}
	}
	return nil
}

func (p *Connect) decodeBody(r *reader, _ byte) error {
	name, err := r.readString()
	if err != nil {
		return err
	}
	version, err := r.readByte()
	if err != nil {
		return err
	}
	if name != protocolName || version != protocolVersion {
		return ErrInvalidProtocol
	}

	flags, err := r.readByte()
	if err != nil {
		return err
	}
	if flags&connectFlagReserved != 0 {
		return ErrInvalidConnectFlag
	}
	willQoS := (flags >> 3) & 0x03
	if willQoS > 2 || (flags&connectFlagWill == 0 && (willQoS != 0 || flags&connectFlagWillRetain != 0)) {
		return ErrInvalidConnectFlag
	}
	p.CleanStart = flags&connectFlagCleanStart != 0

	if p.KeepAlive, err = r.readUint16(); err != nil {
		return err
	}
	if err := p.Props.decode(r); err != nil {
		return err
	}
	if p.ClientID, err = r.readString(); err != nil {
		return err
	}

	if flags&connectFlagWill != 0 {
		p.Will = &Will{QoS: willQoS, Retain: flags&connectFlagWillRetain != 0}
		if err := p.Will.Props.decode(r); err != nil {
			return err
		}
		if p.Will.Topic, err = r.readString(); err != nil {
			return err
		}
		if p.Will.Payload, err = r.readBinary(); err != nil {
			return err
		}
	}
	if flags&connectFlagUsername != 0 {
		if p.Username, err = r.readString(); err != nil {
			return err
		}
	}
	if flags&connectFlagPassword != 0 {
		if p.Password, err = r.readBinary(); err != nil {
			return err
		}
	}
	return nil
}

// Connack represents an MQTT CONNACK packet.
// MQTT v5.0 spec: Section 3.2
type Connack struct {
	SessionPresent bool
	ReasonCode     ReasonCode
	Props          Properties
}

// Type returns the packet type.
func (p *Connack) Type() PacketType { return CONNACK }

// Properties returns a pointer to the packet's properties.
func (p *Connack) Properties() *Properties { return &p.Props }

func (p *Connack) flags() byte { return 0 }

// Validate validates the packet contents.
func (p *Connack) Validate() error {
	if !p.ReasonCode.ValidFor(CONNACK) {
		return ErrInvalidReasonCode
	}
	return nil
}

func (p *Connack) encodeBody(w *writer) error {
	var ackFlags byte
	if p.SessionPresent {
		ackFlags = 0x01
	}
	w.writeByte(ackFlags)
	w.writeByte(byte(p.ReasonCode))
	return p.Props.encode(w)
}

func (p *Connack) decodeBody(r *reader, _ byte) error {
	ackFlags, err := r.readByte()
	if err != nil {
		return err
	}
	if ackFlags&0xFE != 0 {
		return ErrInvalidAckFlags
	}
	p.SessionPresent = ackFlags&0x01 != 0

	code, err := r.readByte()
	if err != nil {
		return err
	}
	p.ReasonCode = ReasonCode(code)
	if !p.ReasonCode.ValidFor(CONNACK) {
		return ErrInvalidReasonCode
	}
	return p.Props.decode(r)
}
