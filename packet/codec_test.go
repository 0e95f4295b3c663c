package packet

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, p Packet) Packet {
	t.Helper()
	data, err := Encode(p)
	require.NoError(t, err)

	got, err := ReadPacket(bytes.NewReader(data), 0)
	require.NoError(t, err)
	return got
}

func TestEncodeFixedHeader(t *testing.T) {
	t.Run("publish qos 1", func(t *testing.T) {
		data, err := Encode(&Publish{Topic: "a", QoS: 1, PacketID: 1, Payload: []byte("x")})
		require.NoError(t, err)
		assert.Equal(t, []byte{0x32, 0x07, 0x00, 0x01, 'a', 0x00, 0x01, 0x00, 'x'}, data)
	})

	t.Run("pubrel reserved flags", func(t *testing.T) {
		data, err := Encode(&Pubrel{PacketID: 7})
		require.NoError(t, err)
		assert.Equal(t, []byte{0x62, 0x02, 0x00, 0x07}, data)
	})

	t.Run("pingreq", func(t *testing.T) {
		data, err := Encode(&Pingreq{})
		require.NoError(t, err)
		assert.Equal(t, []byte{0xC0, 0x00}, data)
	})

	t.Run("disconnect success is empty", func(t *testing.T) {
		data, err := Encode(&Disconnect{})
		require.NoError(t, err)
		assert.Equal(t, []byte{0xE0, 0x00}, data)
	})

	t.Run("validation failure", func(t *testing.T) {
		_, err := Encode(&Publish{Topic: "a", QoS: 1})
		assert.ErrorIs(t, err, ErrInvalidPacketID)
	})
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name   string
		data   []byte
		err    error
		reason string
	}{
		{
			name:   "publish qos bits 0b11",
			data:   []byte{0x37, 0x0A, 0x00, 0x05, 't', 'o', 'p', 'i', 'c', 0x00, 0x01, 0x00},
			err:    ErrInvalidQoSBits,
			reason: "Malformed PUBLISH received: QoS bits set to 0b11",
		},
		{
			name:   "pubrel invalid reason code",
			data:   []byte{0x62, 0x03, 0x00, 0x01, 0x04},
			err:    ErrInvalidReasonCode,
			reason: "Malformed PUBREL received: invalid Reason Code",
		},
		{
			name:   "pubrel bad flags",
			data:   []byte{0x60, 0x02, 0x00, 0x01},
			err:    ErrInvalidPacketFlags,
			reason: "Malformed PUBREL received: invalid fixed header flags",
		},
		{
			name:   "puback zero packet id",
			data:   []byte{0x40, 0x02, 0x00, 0x00},
			err:    ErrInvalidPacketID,
			reason: "Malformed PUBACK received: invalid Packet Identifier",
		},
		{
			name:   "reserved packet type",
			data:   []byte{0x00, 0x00},
			err:    ErrUnknownPacketType,
			reason: "Malformed packet received: unknown packet type",
		},
		{
			name:   "trailing bytes",
			data:   []byte{0xD0, 0x01, 0x00},
			err:    ErrTrailingBytes,
			reason: "Malformed PINGRESP received: unexpected bytes after packet end",
		},
		{
			name:   "truncated suback",
			data:   []byte{0x90, 0x01, 0x00},
			err:    ErrTruncated,
			reason: "Malformed SUBACK received: packet is truncated",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadPacket(bytes.NewReader(tt.data), 0)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformed)
			assert.ErrorIs(t, err, tt.err)

			var merr *MalformedError
			require.True(t, errors.As(err, &merr))
			assert.Equal(t, tt.reason, merr.Reason)
		})
	}
}

func TestReadPacket(t *testing.T) {
	t.Run("eof is returned unchanged", func(t *testing.T) {
		_, err := ReadPacket(bytes.NewReader(nil), 0)
		assert.ErrorIs(t, err, io.EOF)
		assert.NotErrorIs(t, err, ErrMalformed)
	})

	t.Run("short body", func(t *testing.T) {
		_, err := ReadPacket(bytes.NewReader([]byte{0x40, 0x02, 0x00}), 0)
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})

	t.Run("malformed remaining length", func(t *testing.T) {
		_, err := ReadPacket(bytes.NewReader([]byte{0x30, 0xFF, 0xFF, 0xFF, 0xFF}), 0)
		assert.ErrorIs(t, err, ErrMalformed)
		assert.ErrorIs(t, err, ErrVarintMalformed)
	})

	t.Run("too large", func(t *testing.T) {
		data, err := Encode(&Publish{Topic: "topic", Payload: make([]byte, 100)})
		require.NoError(t, err)

		_, err = ReadPacket(bytes.NewReader(data), 50)
		assert.ErrorIs(t, err, ErrPacketTooLarge)
	})

	t.Run("consecutive packets", func(t *testing.T) {
		var buf bytes.Buffer
		_, err := WritePacket(&buf, &Pingresp{}, 0)
		require.NoError(t, err)
		_, err = WritePacket(&buf, &Puback{PacketID: 3}, 0)
		require.NoError(t, err)

		p, err := ReadPacket(&buf, 0)
		require.NoError(t, err)
		assert.Equal(t, PINGRESP, p.Type())

		p, err = ReadPacket(&buf, 0)
		require.NoError(t, err)
		assert.Equal(t, &Puback{PacketID: 3}, p)
	})
}

func TestWritePacketMaxSize(t *testing.T) {
	var buf bytes.Buffer
	_, err := WritePacket(&buf, &Publish{Topic: "topic", Payload: make([]byte, 100)}, 64)
	assert.ErrorIs(t, err, ErrPacketTooLarge)
	assert.Equal(t, 0, buf.Len())
}

func TestPacketRoundTrip(t *testing.T) {
	var props Properties
	props.Set(PropReasonString, "done")
	props.Add(PropUserProperty, StringPair{Key: "k", Value: "v"})

	tests := []struct {
		name   string
		packet Packet
	}{
		{"connack", &Connack{SessionPresent: true, ReasonCode: ReasonSuccess, Props: props.Clone()}},
		{"puback error", &Puback{PacketID: 10, ReasonCode: ReasonQuotaExceeded}},
		{"pubrec with props", &Pubrec{PacketID: 11, ReasonCode: ReasonNoMatchingSubscribers, Props: props.Clone()}},
		{"pubcomp not found", &Pubcomp{PacketID: 12, ReasonCode: ReasonPacketIDNotFound}},
		{"suback", &Suback{PacketID: 13, ReasonCodes: []ReasonCode{ReasonGrantedQoS1, ReasonNotAuthorized}}},
		{"unsuback", &Unsuback{PacketID: 14, ReasonCodes: []ReasonCode{ReasonNoSubscriptionExisted}}},
		{"unsubscribe", &Unsubscribe{PacketID: 15, TopicFilters: []string{"a/+", "b/#"}}},
		{"disconnect with reason", &Disconnect{ReasonCode: ReasonServerMoved, Props: props.Clone()}},
		{"auth continue", &Auth{ReasonCode: ReasonContinueAuth, Props: props.Clone()}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.packet, roundTrip(t, tt.packet))
		})
	}
}
