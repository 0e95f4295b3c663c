package packet

// Subscription is one topic filter entry of a SUBSCRIBE packet.
// MQTT v5.0 spec: Section 3.8.3.1
type Subscription struct {
	TopicFilter       string
	QoS               byte
	NoLocal           bool
	RetainAsPublished bool
	RetainHandling    byte // 0 send on subscribe, 1 send if new, 2 never
}

func (s *Subscription) options() byte {
	opts := s.QoS & 0x03
	if s.NoLocal {
		opts |= 0x04
	}
	if s.RetainAsPublished {
		opts |= 0x08
	}
	opts |= (s.RetainHandling & 0x03) << 4
	return opts
}

// Subscribe represents an MQTT SUBSCRIBE packet.
// MQTT v5.0 spec: Section 3.8
type Subscribe struct {
	PacketID      uint16
	Subscriptions []Subscription
	Props         Properties
}

// Type returns the packet type.
func (p *Subscribe) Type() PacketType { return SUBSCRIBE }

// ID returns the packet identifier.
func (p *Subscribe) ID() uint16 { return p.PacketID }

// Properties returns a pointer to the packet's properties.
func (p *Subscribe) Properties() *Properties { return &p.Props }

func (p *Subscribe) flags() byte { return 0x02 }

// Validate validates the packet contents.
func (p *Subscribe) Validate() error {
	if p.PacketID == 0 {
		return ErrInvalidPacketID
	}
	if len(p.Subscriptions) == 0 {
		return ErrEmptyPayload
	}
	for i := range p.Subscriptions {
		s := &p.Subscriptions[i]
		if s.TopicFilter == "" {
			return ErrInvalidTopic
		}
		if s.QoS > 2 || s.RetainHandling > 2 {
			return ErrSubscribeOptions
		}
	}
	return nil
}

func (p *Subscribe) encodeBody(w *writer) error {
	w.writeUint16(p.PacketID)
	if err := p.Props.encode(w); err != nil {
		return err
	}
	for i := range p.Subscriptions {
		s := &p.Subscriptions[i]
		if err := w.writeString(s.TopicFilter); err != nil {
			return err
		}
		w.writeByte(s.options())
	}
	return nil
}

func (p *Subscribe) decodeBody(r *reader, _ byte) error {
	var err error
	if p.PacketID, err = r.readUint16(); err != nil {
		return err
	}
	if p.PacketID == 0 {
		return ErrInvalidPacketID
	}
	if err := p.Props.decode(r); err != nil {
		return err
	}
	for r.remaining() > 0 {
		filter, err := r.readString()
		if err != nil {
			return err
		}
		opts, err := r.readByte()
		if err != nil {
			return err
		}
		if opts&0xC0 != 0 || opts&0x03 == 3 || (opts>>4)&0x03 == 3 {
			return ErrSubscribeOptions
		}
		p.Subscriptions = append(p.Subscriptions, Subscription{
			TopicFilter:       filter,
			QoS:               opts & 0x03,
			NoLocal:           opts&0x04 != 0,
			RetainAsPublished: opts&0x08 != 0,
			RetainHandling:    (opts >> 4) & 0x03,
		})
	}
	if len(p.Subscriptions) == 0 {
		return ErrEmptyPayload
	}
	return nil
}

// Suback represents an MQTT SUBACK packet.
// MQTT v5.0 spec: Section 3.9
type Suback struct {
	PacketID    uint16
	ReasonCodes []ReasonCode
	Props       Properties
}

// Type returns the packet type.
func (p *Suback) Type() PacketType { return SUBACK }

// ID returns the packet identifier.
func (p *Suback) ID() uint16 { return p.PacketID }

// Properties returns a pointer to the packet's properties.
func (p *Suback) Properties() *Properties { return &p.Props }

func (p *Suback) flags() byte { return 0 }

// Validate validates the packet contents.
func (p *Suback) Validate() error {
	return validateAckList(p.PacketID, p.ReasonCodes, SUBACK)
}

func (p *Suback) encodeBody(w *writer) error {
	return encodeAckList(w, p.PacketID, p.ReasonCodes, &p.Props)
}

func (p *Suback) decodeBody(r *reader, _ byte) error {
	var err error
	p.PacketID, p.ReasonCodes, err = decodeAckList(r, &p.Props, SUBACK)
	return err
}

// Unsubscribe represents an MQTT UNSUBSCRIBE packet.
// MQTT v5.0 spec: Section 3.10
type Unsubscribe struct {
	PacketID     uint16
	TopicFilters []string
	Props        Properties
}

// Type returns the packet type.
func (p *Unsubscribe) Type() PacketType { return UNSUBSCRIBE }

// ID returns the packet identifier.
func (p *Unsubscribe) ID() uint16 { return p.PacketID }

// Properties returns a pointer to the packet's properties.
func (p *Unsubscribe) Properties() *Properties { return &p.Props }

func (p *Unsubscribe) flags() byte { return 0x02 }

// Validate validates the packet contents.
func (p *Unsubscribe) Validate() error {
	if p.PacketID == 0 {
		return ErrInvalidPacketID
	}
	if len(p.TopicFilters) == 0 {
		return ErrEmptyPayload
	}
	for _, f := range p.TopicFilters {
		if f == "" {
			return ErrInvalidTopic
		}
	}
	return nil
}

func (p *Unsubscribe) encodeBody(w *writer) error {
	w.writeUint16(p.PacketID)
	if err := p.Props.encode(w); err != nil {
		return err
	}
	for _, f := range p.TopicFilters {
		if err := w.writeString(f); err != nil {
			return err
		}
	}
	return nil
}

func (p *Unsubscribe) decodeBody(r *reader, _ byte) error {
	var err error
	if p.PacketID, err = r.readUint16(); err != nil {
		return err
	}
	if p.PacketID == 0 {
		return ErrInvalidPacketID
	}
	if err := p.Props.decode(r); err != nil {
		return err
	}
	for r.remaining() > 0 {
		f, err := r.readString()
		if err != nil {
			return err
		}
		p.TopicFilters = append(p.TopicFilters, f)
	}
	if len(p.TopicFilters) == 0 {
		return ErrEmptyPayload
	}
	return nil
}

// Unsuback represents an MQTT UNSUBACK packet.
// MQTT v5.0 spec: Section 3.11
type Unsuback struct {
	PacketID    uint16
	ReasonCodes []ReasonCode
	Props       Properties
}

// Type returns the packet type.
func (p *Unsuback) Type() PacketType { return UNSUBACK }

// ID returns the packet identifier.
func (p *Unsuback) ID() uint16 { return p.PacketID }

// Properties returns a pointer to the packet's properties.
func (p *Unsuback) Properties() *Properties { return &p.Props }

func (p *Unsuback) flags() byte { return 0 }

// Validate validates the packet contents.
func (p *Unsuback) Validate() error {
	return validateAckList(p.PacketID, p.ReasonCodes, UNSUBACK)
}

func (p *Unsuback) encodeBody(w *writer) error {
	return encodeAckList(w, p.PacketID, p.ReasonCodes, &p.Props)
}

func (p *Unsuback) decodeBody(r *reader, _ byte) error {
	var err error
	p.PacketID, p.ReasonCodes, err = decodeAckList(r, &p.Props, UNSUBACK)
	return err
}

func validateAckList(id uint16, codes []ReasonCode, t PacketType) error {
	if id == 0 {
		return ErrInvalidPacketID
	}
	if len(codes) == 0 {
		return ErrEmptyPayload
	}
	for _, c := range codes {
		if !c.ValidFor(t) {
			return ErrInvalidReasonCode
		}
	}
	return nil
}

func encodeAckList(w *writer, id uint16, codes []ReasonCode, props *Properties) error {
	w.writeUint16(id)
	if err := props.encode(w); err != nil {
		return err
	}
	for _, c := range codes {
		w.writeByte(byte(c))
	}
	return nil
}

func decodeAckList(r *reader, props *Properties, t PacketType) (uint16, []ReasonCode, error) {
	id, err := r.readUint16()
	if err != nil {
		return 0, nil, err
	}
	if id == 0 {
		return 0, nil, ErrInvalidPacketID
	}
	if err := props.decode(r); err != nil {
		return 0, nil, err
	}
	if r.remaining() == 0 {
		return 0, nil, ErrEmptyPayload
	}
	codes := make([]ReasonCode, 0, r.remaining())
	for r.remaining() > 0 {
		b, _ := r.readByte()
		code := ReasonCode(b)
		if !code.ValidFor(t) {
			return 0, nil, ErrInvalidReasonCode
		}
		codes = append(codes, code)
	}
	return id, codes, nil
}
