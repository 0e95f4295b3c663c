package mqttclient

import (
	"slices"
	"time"

	"github.com/vitalvas/mqttclient/packet"
)

type requestKind int

const (
	requestPublish requestKind = iota
	requestSubscribe
	requestUnsubscribe
	requestDisconnect
)

func (k requestKind) String() string {
	switch k {
	case requestPublish:
		return "publish"
	case requestSubscribe:
		return "subscribe"
	case requestUnsubscribe:
		return "unsubscribe"
	case requestDisconnect:
		return "disconnect"
	default:
		return "unknown"
	}
}

// response resolves a request. Exactly one of the result fields is set
// on success.
type response struct {
	publish     *PublishResult
	subscribe   *SubscribeResult
	unsubscribe *UnsubscribeResult
	err         error
}

// request is an application call handed to the engine. Its done channel is
// the continuation: buffered so the engine never blocks resolving it, even
// when the caller has given up waiting.
type request struct {
	kind    requestKind
	msg     *Message
	pkt     packet.Packet
	id      uint16
	seq     uint64
	sent    bool
	created time.Time

	done     chan response
	resolved bool
}

func newRequest(kind requestKind, pkt packet.Packet) *request {
	return &request{
		kind:    kind,
		pkt:     pkt,
		created: time.Now(),
		done:    make(chan response, 1),
	}
}

func (r *request) resolve(res response) {
	if r.resolved {
		return
	}
	r.resolved = true
	r.done <- res
}

// pendingRegistry correlates outstanding requests with the acknowledgment
// that resolves them, by packet identifier.
type pendingRegistry struct {
	entries map[uint16]*request
	logger  Logger
}

func newPendingRegistry(logger Logger) *pendingRegistry {
	return &pendingRegistry{
		entries: make(map[uint16]*request),
		logger:  logger,
	}
}

func (p *pendingRegistry) register(req *request) {
	p.entries[req.id] = req
}

func (p *pendingRegistry) lookup(id uint16) (*request, bool) {
	req, ok := p.entries[id]
	return req, ok
}

// resolve completes the request registered under id if it has the expected
// kind. Acknowledgments that match nothing are logged and ignored.
func (p *pendingRegistry) resolve(id uint16, kind requestKind, res response) bool {
	req, ok := p.entries[id]
	if !ok || req.kind != kind {
		p.logger.Warn("acknowledgment for unknown packet id", LogFields{
			LogFieldPacketID: id,
			"request":        kind.String(),
		})
		return false
	}
	delete(p.entries, id)
	req.resolve(res)
	return true
}

func (p *pendingRegistry) remove(id uint16) {
	delete(p.entries, id)
}

// failAll resolves every outstanding request with err and empties the registry.
func (p *pendingRegistry) failAll(err error) int {
	n := len(p.entries)
	for id, req := range p.entries {
		req.resolve(response{err: err})
		delete(p.entries, id)
	}
	return n
}

// sent returns the requests already written at least once, in arrival order.
func (p *pendingRegistry) sent() []*request {
	out := make([]*request, 0, len(p.entries))
	for _, req := range p.entries {
		if req.sent {
			out = append(out, req)
		}
	}
	slices.SortFunc(out, func(a, b *request) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})
	return out
}

func (p *pendingRegistry) len() int {
	return len(p.entries)
}
