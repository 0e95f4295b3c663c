package mqttclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalvas/mqttclient/packet"
)

func TestQoSStageString(t *testing.T) {
	tests := []struct {
		stage    QoSStage
		expected string
	}{
		{StageQueued, "queued"},
		{StageSent, "sent"},
		{StagePubrecReceived, "pubrec-received"},
		{QoSStage(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.stage.String())
		})
	}
}

func TestInflightMessageResendPacket(t *testing.T) {
	publish := &packet.Publish{
		Topic:    "test/topic",
		Payload:  []byte("data"),
		QoS:      2,
		PacketID: 7,
	}

	t.Run("sent publish is resent with dup", func(t *testing.T) {
		m := &inflightMessage{publish: publish, stage: StageSent}

		pkt := m.resendPacket(true)
		p, ok := pkt.(*packet.Publish)
		require.True(t, ok)
		assert.True(t, p.DUP)
		assert.Equal(t, "test/topic", p.Topic)
		assert.Equal(t, uint16(7), p.PacketID)
		assert.False(t, publish.DUP, "stored publish must not change")
	})

	t.Run("queued publish is sent without dup", func(t *testing.T) {
		m := &inflightMessage{publish: publish, stage: StageQueued}

		p, ok := m.resendPacket(false).(*packet.Publish)
		require.True(t, ok)
		assert.False(t, p.DUP)
	})

	t.Run("pubrec received resends pubrel", func(t *testing.T) {
		m := &inflightMessage{publish: publish, stage: StagePubrecReceived}

		p, ok := m.resendPacket(true).(*packet.Pubrel)
		require.True(t, ok)
		assert.Equal(t, uint16(7), p.PacketID)
	})
}

func TestInflightStore(t *testing.T) {
	s := newInflightStore()

	m1 := &inflightMessage{publish: &packet.Publish{Topic: "a", QoS: 1, PacketID: 1}}
	m2 := &inflightMessage{publish: &packet.Publish{Topic: "b", QoS: 2, PacketID: 2}}
	s.add(m1)
	s.add(m2)
	assert.Equal(t, 2, s.len())

	got, ok := s.get(2)
	require.True(t, ok)
	assert.Same(t, m2, got)

	s.remove(1)
	_, ok = s.get(1)
	assert.False(t, ok)
	assert.Equal(t, 1, s.len())

	s.clear()
	assert.Equal(t, 0, s.len())
}

func TestInboundQoS2(t *testing.T) {
	t.Run("take then release", func(t *testing.T) {
		q := newInboundQoS2()
		msg := &Message{Topic: "a/b"}

		assert.True(t, q.hold(1, msg))
		assert.True(t, q.has(1))

		got, ok := q.take(1)
		require.True(t, ok)
		assert.Same(t, msg, got)

		_, ok = q.take(1)
		assert.False(t, ok, "delivered twice")
		assert.True(t, q.has(1), "id is held until PUBREL")

		_, ok = q.release(1)
		assert.False(t, ok)
		assert.False(t, q.has(1))
	})

	t.Run("release returns undelivered message", func(t *testing.T) {
		q := newInboundQoS2()
		msg := &Message{Topic: "a/b"}
		q.hold(1, msg)

		got, ok := q.release(1)
		require.True(t, ok)
		assert.Same(t, msg, got)
		assert.Equal(t, 0, q.len())
	})

	t.Run("duplicate is not held twice", func(t *testing.T) {
		q := newInboundQoS2()

		assert.True(t, q.hold(1, &Message{Topic: "first"}))
		assert.False(t, q.hold(1, &Message{Topic: "second"}))

		got, _ := q.take(1)
		assert.Equal(t, "first", got.Topic)
	})

	t.Run("release unknown", func(t *testing.T) {
		q := newInboundQoS2()

		_, ok := q.release(9)
		assert.False(t, ok)
	})

	t.Run("drain keeps arrival order", func(t *testing.T) {
		q := newInboundQoS2()
		q.hold(30, &Message{Topic: "first"})
		q.hold(10, &Message{Topic: "second"})
		q.hold(20, &Message{Topic: "delivered"})
		q.take(20)
		q.hold(5, &Message{Topic: "third"})

		var topics []string
		for _, msg := range q.drain() {
			topics = append(topics, msg.Topic)
		}
		assert.Equal(t, []string{"first", "second", "third"}, topics)
		assert.Equal(t, 0, q.len())
	})

	t.Run("clear", func(t *testing.T) {
		q := newInboundQoS2()
		q.hold(1, &Message{})
		q.hold(2, &Message{})
		assert.Equal(t, 2, q.len())

		q.clear()
		assert.Equal(t, 0, q.len())
	})
}
