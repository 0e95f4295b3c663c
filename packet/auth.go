package packet

// Auth represents an MQTT AUTH packet used for enhanced authentication.
// MQTT v5.0 spec: Section 3.15
type Auth struct {
	ReasonCode ReasonCode
	Props      Properties
}

// Type returns the packet type.
func (p *Auth) Type() PacketType { return AUTH }

// Properties returns a pointer to the packet's properties.
func (p *Auth) Properties() *Properties { return &p.Props }

func (p *Auth) flags() byte { return 0 }

// Validate validates the packet contents.
func (p *Auth) Validate() error {
	if !p.ReasonCode.ValidFor(AUTH) {
		return ErrInvalidReasonCode
	}
	return nil
}

// Method returns the Authentication Method property.
func (p *Auth) Method() string { return p.Props.GetString(PropAuthenticationMethod) }

// Data returns the Authentication Data property.
func (p *Auth) Data() []byte { return p.Props.GetBinary(PropAuthenticationData) }

func (p *Auth) encodeBody(w *writer) error {
	if p.ReasonCode == ReasonSuccess && p.Props.Len() == 0 {
		return nil
	}
	w.writeByte(byte(p.ReasonCode))
	return p.Props.encode(w)
}

func (p *Auth) decodeBody(r *reader, _ byte) error {
	p.ReasonCode = ReasonSuccess
	if r.remaining() == 0 {
		return nil
	}
	code, err := r.readByte()
	if err != nil {
		return err
	}
	p.ReasonCode = ReasonCode(code)
	if !p.ReasonCode.ValidFor(AUTH) {
		return ErrInvalidReasonCode
	}
	if r.remaining() == 0 {
		return nil
	}
	return p.Props.decode(r)
}
