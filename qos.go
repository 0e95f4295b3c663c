package mqttclient

import (
	"cmp"
	"slices"
	"time"

	"github.com/vitalvas/mqttclient/packet"
)

// QoSStage is the delivery stage of an outbound QoS 1 or QoS 2 publish.
// MQTT v5.0 spec: Section 4.3
type QoSStage int

const (
	// StageQueued means the PUBLISH has not been written yet.
	StageQueued QoSStage = iota
	// StageSent means the PUBLISH was written and awaits PUBACK or PUBREC.
	StageSent
	// StagePubrecReceived means a QoS 2 publish got PUBREC and PUBREL was sent.
	StagePubrecReceived
)

// String returns the string representation of the stage.
func (s QoSStage) String() string {
	switch s {
	case StageQueued:
		return "queued"
	case StageSent:
		return "sent"
	case StagePubrecReceived:
		return "pubrec-received"
	default:
		return "unknown"
	}
}

// inflightMessage is one outbound QoS > 0 publish that is not fully
// acknowledged yet.
type inflightMessage struct {
	publish *packet.Publish
	stage   QoSStage
	seq     uint64
	created time.Time
	sentAt  time.Time
}

func (m *inflightMessage) id() uint16 { return m.publish.PacketID }

// resendPacket returns what has to be written again after a reconnect:
// the PUBLISH with DUP set while in StageSent, only the PUBREL once the
// broker has acknowledged receipt with PUBREC.
func (m *inflightMessage) resendPacket(dup bool) packet.Packet {
	if m.stage == StagePubrecReceived {
		return &packet.Pubrel{PacketID: m.id()}
	}
	p := *m.publish
	p.DUP = dup
	return &p
}

// inflightStore holds outbound QoS 1 and QoS 2 messages keyed by packet
// identifier. It survives reconnects and is owned by the engine goroutine.
type inflightStore struct {
	entries map[uint16]*inflightMessage
}

func newInflightStore() *inflightStore {
	return &inflightStore{entries: make(map[uint16]*inflightMessage)}
}

func (s *inflightStore) add(m *inflightMessage) {
	s.entries[m.id()] = m
}

func (s *inflightStore) get(id uint16) (*inflightMessage, bool) {
	m, ok := s.entries[id]
	return m, ok
}

func (s *inflightStore) remove(id uint16) {
	delete(s.entries, id)
}

func (s *inflightStore) len() int {
	return len(s.entries)
}

func (s *inflightStore) clear() {
	clear(s.entries)
}

// inboundQoS2 tracks inbound QoS 2 publishes answered with PUBREC and not
// yet released by PUBREL. A message is handed to the application once its
// PUBREC is written, at the latest when PUBREL arrives; the identifier stays
// here until PUBREL so a retransmitted PUBLISH is not delivered again.
// MQTT v5.0 spec: Section 4.3.3
type inboundQoS2 struct {
	held map[uint16]*heldMessage
	seq  uint64
}

// heldMessage.msg is nil once the message was delivered.
type heldMessage struct {
	msg *Message
	seq uint64
}

func newInboundQoS2() *inboundQoS2 {
	return &inboundQoS2{held: make(map[uint16]*heldMessage)}
}

// hold records msg under id. It returns false when id is already held,
// meaning the PUBLISH is a retransmission.
func (t *inboundQoS2) hold(id uint16, msg *Message) bool {
	if _, ok := t.held[id]; ok {
		return false
	}
	t.seq++
	t.held[id] = &heldMessage{msg: msg, seq: t.seq}
	return true
}

func (t *inboundQoS2) has(id uint16) bool {
	_, ok := t.held[id]
	return ok
}

// take returns the message held under id if it was not delivered yet and
// marks it delivered. The identifier stays held.
func (t *inboundQoS2) take(id uint16) (*Message, bool) {
	h, ok := t.held[id]
	if !ok || h.msg == nil {
		return nil, false
	}
	msg := h.msg
	h.msg = nil
	return msg, true
}

// release forgets id and returns its message if it was never delivered.
func (t *inboundQoS2) release(id uint16) (*Message, bool) {
	h, ok := t.held[id]
	if !ok {
		return nil, false
	}
	delete(t.held, id)
	return h.msg, h.msg != nil
}

// drain forgets every identifier and returns the undelivered messages in
// arrival order.
func (t *inboundQoS2) drain() []*Message {
	pending := make([]*heldMessage, 0, len(t.held))
	for _, h := range t.held {
		if h.msg != nil {
			pending = append(pending, h)
		}
	}
	slices.SortFunc(pending, func(a, b *heldMessage) int { return cmp.Compare(a.seq, b.seq) })

	msgs := make([]*Message, len(pending))
	for i, h := range pending {
		msgs[i] = h.msg
	}
	clear(t.held)
	return msgs
}

func (t *inboundQoS2) len() int {
	return len(t.held)
}

func (t *inboundQoS2) clear() {
	clear(t.held)
}
