package packet

import (
	"errors"
	"fmt"
)

// ErrMalformed matches every *MalformedError with errors.Is.
var ErrMalformed = errors.New("malformed packet")

// Codec errors. The messages double as the detail part of a MalformedError
// reason, so they are written for a human reading a DISCONNECT reason string.
var (
	ErrPacketTooLarge     = errors.New("packet exceeds maximum size")
	ErrUnknownPacketType  = errors.New("unknown packet type")
	ErrInvalidPacketFlags = errors.New("invalid fixed header flags")
	ErrTruncated          = errors.New("packet is truncated")
	ErrTrailingBytes      = errors.New("unexpected bytes after packet end")
	ErrInvalidReasonCode  = errors.New("invalid Reason Code")
	ErrInvalidQoSBits     = errors.New("QoS bits set to 0b11")
	ErrInvalidQoS         = errors.New("invalid QoS level")
	ErrDUPWithQoS0        = errors.New("DUP flag set on QoS 0 message")
	ErrInvalidPacketID    = errors.New("invalid Packet Identifier")
	ErrInvalidTopic       = errors.New("invalid Topic Name")
	ErrEmptyPayload       = errors.New("payload must contain at least one entry")
	ErrInvalidProtocol    = errors.New("invalid protocol name or version")
	ErrInvalidConnectFlag = errors.New("invalid connect flags")
	ErrInvalidAckFlags    = errors.New("invalid acknowledge flags")
	ErrSubscribeOptions   = errors.New("invalid subscription options")

	ErrStringTooLong      = errors.New("string exceeds maximum length of 65535 bytes")
	ErrBinaryTooLong      = errors.New("binary data exceeds maximum length of 65535 bytes")
	ErrInvalidUTF8        = errors.New("invalid UTF-8 string")
	ErrStringContainsNull = errors.New("string contains null character")
	ErrVarintTooLarge     = errors.New("variable byte integer exceeds maximum value")
	ErrVarintMalformed    = errors.New("malformed variable byte integer")

	ErrUnknownPropertyID = errors.New("unknown property identifier")
	ErrDuplicateProperty = errors.New("duplicate property")
)

// MalformedError is returned when an inbound packet violates the MQTT v5.0
// wire format. Reason is suitable for a DISCONNECT Reason String.
type MalformedError struct {
	Type   PacketType
	Err    error
	Reason string
}

func newMalformed(t PacketType, err error) *MalformedError {
	name := "packet"
	if t.Valid() {
		name = t.String()
	}
	return &MalformedError{
		Type:   t,
		Err:    err,
		Reason: fmt.Sprintf("Malformed %s received: %s", name, err),
	}
}

func (e *MalformedError) Error() string { return e.Reason }
func (e *MalformedError) Unwrap() error { return e.Err }

// Is reports whether target is ErrMalformed.
func (e *MalformedError) Is(target error) bool {
	return target == ErrMalformed
}
