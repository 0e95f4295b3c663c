package packet

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
)

// PropertyID represents an MQTT v5.0 property identifier.
type PropertyID byte

// Property identifiers as defined in MQTT v5.0 specification, Section 2.2.2.2.
const (
	PropPayloadFormatIndicator   PropertyID = 0x01
	PropMessageExpiryInterval    PropertyID = 0x02
	PropContentType              PropertyID = 0x03
	PropResponseTopic            PropertyID = 0x08
	PropCorrelationData          PropertyID = 0x09
	PropSubscriptionIdentifier   PropertyID = 0x0B
	PropSessionExpiryInterval    PropertyID = 0x11
	PropAssignedClientIdentifier PropertyID = 0x12
	PropServerKeepAlive          PropertyID = 0x13
	PropAuthenticationMethod     PropertyID = 0x15
	PropAuthenticationData       PropertyID = 0x16
	PropRequestProblemInfo       PropertyID = 0x17
	PropWillDelayInterval        PropertyID = 0x18
	PropRequestResponseInfo      PropertyID = 0x19
	PropResponseInformation      PropertyID = 0x1A
	PropServerReference          PropertyID = 0x1C
	PropReasonString             PropertyID = 0x1F
	PropReceiveMaximum           PropertyID = 0x21
	PropTopicAliasMaximum        PropertyID = 0x22
	PropTopicAlias               PropertyID = 0x23
	PropMaximumQoS               PropertyID = 0x24
	PropRetainAvailable          PropertyID = 0x25
	PropUserProperty             PropertyID = 0x26
	PropMaximumPacketSize        PropertyID = 0x27
	PropWildcardSubAvailable     PropertyID = 0x28
	PropSubscriptionIDAvailable  PropertyID = 0x29
	PropSharedSubAvailable       PropertyID = 0x2A
)

// PropertyType represents the data type of a property value.
type PropertyType byte

const (
	PropTypeByte        PropertyType = iota // byte
	PropTypeTwoByteInt                      // uint16
	PropTypeFourByteInt                     // uint32
	PropTypeVarInt                          // uint32, variable byte integer
	PropTypeString                          // string
	PropTypeBinary                          // []byte
	PropTypeStringPair                      // StringPair
)

var propertyTypeMap = map[PropertyID]PropertyType{
	PropPayloadFormatIndicator:   PropTypeByte,
	PropMessageExpiryInterval:    PropTypeFourByteInt,
	PropContentType:              PropTypeString,
	PropResponseTopic:            PropTypeString,
	PropCorrelationData:          PropTypeBinary,
	PropSubscriptionIdentifier:   PropTypeVarInt,
	PropSessionExpiryInterval:    PropTypeFourByteInt,
	PropAssignedClientIdentifier: PropTypeString,
	PropServerKeepAlive:          PropTypeTwoByteInt,
	PropAuthenticationMethod:     PropTypeString,
	PropAuthenticationData:       PropTypeBinary,
	PropRequestProblemInfo:       PropTypeByte,
	PropWillDelayInterval:        PropTypeFourByteInt,
	PropRequestResponseInfo:      PropTypeByte,
	PropResponseInformation:      PropTypeString,
	PropServerReference:          PropTypeString,
	PropReasonString:             PropTypeString,
	PropReceiveMaximum:           PropTypeTwoByteInt,
	PropTopicAliasMaximum:        PropTypeTwoByteInt,
	PropTopicAlias:               PropTypeTwoByteInt,
	PropMaximumQoS:               PropTypeByte,
	PropRetainAvailable:          PropTypeByte,
	PropUserProperty:             PropTypeStringPair,
	PropMaximumPacketSize:        PropTypeFourByteInt,
	PropWildcardSubAvailable:     PropTypeByte,
	PropSubscriptionIDAvailable:  PropTypeByte,
	PropSharedSubAvailable:       PropTypeByte,
}

// ErrInvalidPropertyType is returned when a property value does not match
// the Go type required by its identifier.
var ErrInvalidPropertyType = errors.New("invalid property type for identifier")

// Properties represents an ordered collection of MQTT v5.0 properties.
// The zero value is an empty collection ready to use.
type Properties struct {
	props []property
}

type property struct {
	id    PropertyID
	value any
}

// repeatable reports whether a property may appear more than once in a packet.
func repeatable(id PropertyID) bool {
	return id == PropUserProperty || id == PropSubscriptionIdentifier
}

func (p *Properties) Len() int {
	if p == nil {
		return 0
	}
	return len(p.props)
}

func (p *Properties) index(id PropertyID) int {
	if p == nil {
		return -1
	}
	return slices.IndexFunc(p.props, func(prop property) bool { return prop.id == id })
}

func (p *Properties) Has(id PropertyID) bool {
	return p.index(id) >= 0
}

// Get returns the first value stored under id, or nil.
func (p *Properties) Get(id PropertyID) any {
	if i := p.index(id); i >= 0 {
		return p.props[i].value
	}
	return nil
}

// GetAll returns every value stored under id in wire order, or nil.
func (p *Properties) GetAll(id PropertyID) []any {
	return valuesOf[any](p, id)
}

// Set overwrites the first value stored under id, appending when absent.
// Repeatable properties need Add.
func (p *Properties) Set(id PropertyID, value any) {
	if p == nil {
		return
	}
	if i := p.index(id); i >= 0 {
		p.props[i].value = value
		return
	}
	p.Add(id, value)
}

func (p *Properties) Add(id PropertyID, value any) {
	if p != nil {
		p.props = append(p.props, property{id: id, value: value})
	}
}

func (p *Properties) Delete(id PropertyID) {
	if p != nil {
		p.props = slices.DeleteFunc(p.props, func(prop property) bool { return prop.id == id })
	}
}

// Clone returns a deep copy; binary values do not share memory with p.
func (p *Properties) Clone() Properties {
	if p.Len() == 0 {
		return Properties{}
	}
	out := Properties{props: slices.Clone(p.props)}
	for i := range out.props {
		if b, ok := out.props[i].value.([]byte); ok {
			out.props[i].value = bytes.Clone(b)
		}
	}
	return out
}

// Typed getters return the zero value when id is absent or holds another type.

func (p *Properties) GetByte(id PropertyID) byte     { return valueOf[byte](p, id) }
func (p *Properties) GetUint16(id PropertyID) uint16 { return valueOf[uint16](p, id) }
func (p *Properties) GetUint32(id PropertyID) uint32 { return valueOf[uint32](p, id) }
func (p *Properties) GetString(id PropertyID) string { return valueOf[string](p, id) }
func (p *Properties) GetBinary(id PropertyID) []byte { return valueOf[[]byte](p, id) }

// GetAllStringPairs returns the User Property pairs in wire order.
func (p *Properties) GetAllStringPairs(id PropertyID) []StringPair {
	return valuesOf[StringPair](p, id)
}

// GetAllVarInts returns repeated variable byte integers, e.g. every
// Subscription Identifier of a PUBLISH.
func (p *Properties) GetAllVarInts(id PropertyID) []uint32 {
	return valuesOf[uint32](p, id)
}

func valueOf[T any](p *Properties, id PropertyID) T {
	v, _ := p.Get(id).(T)
	return v
}

func valuesOf[T any](p *Properties, id PropertyID) []T {
	var out []T
	for i := range p.Len() {
		if p.props[i].id != id {
			continue
		}
		if v, ok := p.props[i].value.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

// encode writes the property length followed by every property.
func (p *Properties) encode(w *writer) error {
	if p == nil || len(p.props) == 0 {
		return w.writeVarint(0)
	}

	size, err := p.size()
	if err != nil {
		return err
	}
	if err := w.writeVarint(uint32(size)); err != nil {
		return err
	}

	for i := range p.props {
		prop := &p.props[i]
		w.writeByte(byte(prop.id))

		switch v := prop.value.(type) {
		case byte:
			w.writeByte(v)
		case uint16:
			w.writeUint16(v)
		case uint32:
			if propertyTypeMap[prop.id] == PropTypeVarInt {
				err = w.writeVarint(v)
			} else {
				w.writeUint32(v)
			}
		case string:
			err = w.writeString(v)
		case []byte:
			err = w.writeBinary(v)
		case StringPair:
			err = w.writeStringPair(v)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// size returns the encoded size of all properties, excluding the length prefix.
func (p *Properties) size() (int, error) {
	size := 0
	for i := range p.props {
		prop := &p.props[i]
		propType, ok := propertyTypeMap[prop.id]
		if !ok {
			return 0, fmt.Errorf("%w: 0x%02X", ErrUnknownPropertyID, byte(prop.id))
		}

		size++
		ok = false
		switch propType {
		case PropTypeByte:
			_, ok = prop.value.(byte)
			size++
		case PropTypeTwoByteInt:
			_, ok = prop.value.(uint16)
			size += 2
		case PropTypeFourByteInt:
			_, ok = prop.value.(uint32)
			size += 4
		case PropTypeVarInt:
			var v uint32
			v, ok = prop.value.(uint32)
			size += varintSize(v)
		case PropTypeString:
			var s string
			s, ok = prop.value.(string)
			size += 2 + len(s)
		case PropTypeBinary:
			var b []byte
			b, ok = prop.value.([]byte)
			size += 2 + len(b)
		case PropTypeStringPair:
			var sp StringPair
			sp, ok = prop.value.(StringPair)
			size += 4 + len(sp.Key) + len(sp.Value)
		}
		if !ok {
			return 0, fmt.Errorf("%w: 0x%02X", ErrInvalidPropertyType, byte(prop.id))
		}
	}
	return size, nil
}

// decode reads the property length and the properties that follow it.
func (p *Properties) decode(r *reader) error {
	length, err := r.readVarint()
	if err != nil {
		return err
	}
	body, err := r.readN(int(length))
	if err != nil {
		return err
	}

	pr := newReader(body)
	seen := make(map[PropertyID]bool)
	for pr.remaining() > 0 {
		idByte, err := pr.readByte()
		if err != nil {
			return err
		}
		id := PropertyID(idByte)
		propType, ok := propertyTypeMap[id]
		if !ok {
			return ErrUnknownPropertyID
		}
		if seen[id] && !repeatable(id) {
			return ErrDuplicateProperty
		}
		seen[id] = true

		var value any
		switch propType {
		case PropTypeByte:
			value, err = pr.readByte()
		case PropTypeTwoByteInt:
			value, err = pr.readUint16()
		case PropTypeFourByteInt:
			value, err = pr.readUint32()
		case PropTypeVarInt:
			value, err = pr.readVarint()
		case PropTypeString:
			value, err = pr.readString()
		case PropTypeBinary:
			value, err = pr.readBinary()
		case PropTypeStringPair:
			value, err = pr.readStringPair()
		}
		if err != nil {
			return err
		}
		p.props = append(p.props, property{id: id, value: value})
	}
	return nil
}
