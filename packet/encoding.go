package packet

import (
	"encoding/binary"
	"strings"
	"unicode/utf8"
)

const (
	maxUint16         = 65535
	maxVarint         = 268435455 // 0x0FFFFFFF
	varintContinueBit = 0x80
	varintValueMask   = 0x7F
)

// StringPair represents a key-value string pair used in MQTT v5.0 properties.
type StringPair struct {
	Key   string
	Value string
}

// writer accumulates an encoded packet body.
type writer struct {
	buf []byte
}

func (w *writer) reset() {
	w.buf = w.buf[:0]
}

func (w *writer) len() int {
	return len(w.buf)
}

func (w *writer) writeByte(b byte) {
	w.buf = append(w.buf, b)
}

func (w *writer) writeBytes(b []byte) {
	w.buf = append(w.buf, b...)
}

func (w *writer) writeUint16(v uint16) {
	w.buf = binary.BigEndian.AppendUint16(w.buf, v)
}

func (w *writer) writeUint32(v uint32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, v)
}

// writeString writes a UTF-8 string with a 2-byte length prefix.
func (w *writer) writeString(s string) error {
	if err := validateString(s); err != nil {
		return err
	}
	w.writeUint16(uint16(len(s)))
	w.buf = append(w.buf, s...)
	return nil
}

// writeBinary writes binary data with a 2-byte length prefix.
func (w *writer) writeBinary(data []byte) error {
	if len(data) > maxUint16 {
		return ErrBinaryTooLong
	}
	w.writeUint16(uint16(len(data)))
	w.buf = append(w.buf, data...)
	return nil
}

func (w *writer) writeStringPair(pair StringPair) error {
	if err := w.writeString(pair.Key); err != nil {
		return err
	}
	return w.writeString(pair.Value)
}

func (w *writer) writeVarint(value uint32) error {
	if value > maxVarint {
		return ErrVarintTooLarge
	}
	for {
		encoded := byte(value & varintValueMask)
		value >>= 7
		if value > 0 {
			encoded |= varintContinueBit
		}
		w.buf = append(w.buf, encoded)
		if value == 0 {
			return nil
		}
	}
}

// reader consumes a packet body. Every read past the end returns ErrTruncated.
type reader struct {
	data []byte
	pos  int
}

func newReader(data []byte) *reader {
	return &reader{data: data}
}

func (r *reader) remaining() int {
	return len(r.data) - r.pos
}

func (r *reader) readByte() (byte, error) {
	if r.remaining() < 1 {
		return 0, ErrTruncated
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) readN(n int) ([]byte, error) {
	if r.remaining() < n {
		return nil, ErrTruncated
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *reader) readUint16() (uint16, error) {
	b, err := r.readN(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *reader) readUint32() (uint32, error) {
	b, err := r.readN(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *reader) readString() (string, error) {
	length, err := r.readUint16()
	if err != nil {
		return "", err
	}
	b, err := r.readN(int(length))
	if err != nil {
		return "", err
	}
	s := string(b)
	if err := validateString(s); err != nil {
		return "", err
	}
	return s, nil
}

// readBinary returns a copy so the decoded packet does not alias the read buffer.
func (r *reader) readBinary() ([]byte, error) {
	length, err := r.readUint16()
	if err != nil {
		return nil, err
	}
	b, err := r.readN(int(length))
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

func (r *reader) readStringPair() (StringPair, error) {
	key, err := r.readString()
	if err != nil {
		return StringPair{}, err
	}
	value, err := r.readString()
	if err != nil {
		return StringPair{}, err
	}
	return StringPair{Key: key, Value: value}, nil
}

func (r *reader) readVarint() (uint32, error) {
	var value uint32
	var multiplier uint32 = 1
	for i := 0; ; i++ {
		if i == 4 {
			return 0, ErrVarintMalformed
		}
		b, err := r.readByte()
		if err != nil {
			return 0, err
		}
		value += uint32(b&varintValueMask) * multiplier
		if b&varintContinueBit == 0 {
			return value, nil
		}
		multiplier *= 128
	}
}

// rest returns a copy of all unread bytes.
func (r *reader) rest() []byte {
	if r.remaining() == 0 {
		return nil
	}
	out := make([]byte, r.remaining())
	copy(out, r.data[r.pos:])
	r.pos = len(r.data)
	return out
}

func validateString(s string) error {
	if len(s) > maxUint16 {
		return ErrStringTooLong
	}
	if !utf8.ValidString(s) {
		return ErrInvalidUTF8
	}
	if strings.IndexByte(s, 0) >= 0 {
		return ErrStringContainsNull
	}
	return nil
}

// varintSize returns the number of bytes needed to encode a variable byte integer.
func varintSize(value uint32) int {
	switch {
	case value < 128:
		return 1
	case value < 16384:
		return 2
	case value < 2097152:
		return 3
	default:
		return 4
	}
}
