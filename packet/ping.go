package packet

// Pingreq represents an MQTT PINGREQ packet.
// MQTT v5.0 spec: Section 3.12
type Pingreq struct{}

// Type returns the packet type.
func (p *Pingreq) Type() PacketType { return PINGREQ }

// Validate validates the packet contents.
func (p *Pingreq) Validate() error { return nil }

func (p *Pingreq) flags() byte                     { return 0 }
func (p *Pingreq) encodeBody(_ *writer) error        { return nil }
func (p *Pingreq) decodeBody(_ *reader, _ byte) error { return nil }

// Pingresp represents an MQTT PINGRESP packet.
// MQTT v5.0 spec: Section 3.13
type Pingresp struct{}

// Type returns the packet type.
func (p *Pingresp) Type() PacketType { return PINGRESP }

// Validate validates the packet contents.
func (p *Pingresp) Validate() error { return nil }

func (p *Pingresp) flags() byte                     { return 0 }
func (p *Pingresp) encodeBody(_ *writer) error        { return nil }
func (p *Pingresp) decodeBody(_ *reader, _ byte) error { return nil }
