package mqttclient

// packetIDAllocator hands out packet identifiers (1-65535) round-robin,
// skipping identifiers still in use. It is owned by the engine goroutine.
// MQTT v5.0 spec: Section 2.2.1
type packetIDAllocator struct {
	used map[uint16]struct{}
	next uint16
}

func newPacketIDAllocator() *packetIDAllocator {
	return &packetIDAllocator{
		used: make(map[uint16]struct{}),
		next: 1,
	}
}

// allocate returns the next free identifier or ErrPacketIDExhausted.
func (a *packetIDAllocator) allocate() (uint16, error) {
	if a.count() >= maxPacketID {
		return 0, ErrPacketIDExhausted
	}

	for {
		id := a.next
		a.next++
		if a.next == 0 {
			a.next = 1
		}
		if !a.inUse(id) {
			a.used[id] = struct{}{}
			return id, nil
		}
	}
}

// release returns id to the pool. Releasing a free id is a no-op.
func (a *packetIDAllocator) release(id uint16) {
	delete(a.used, id)
}

func (a *packetIDAllocator) inUse(id uint16) bool {
	_, ok := a.used[id]
	return ok
}

func (a *packetIDAllocator) count() int {
	return len(a.used)
}

func (a *packetIDAllocator) reset() {
	clear(a.used)
	a.next = 1
}

const maxPacketID = 65535
