package mqttclient

import (
	"time"
)

// keepAlive decides when to send PINGREQ and when a missing PINGRESP means
// the connection is dead. It is owned by the engine goroutine.
// MQTT v5.0 spec: Section 3.1.2.10
type keepAlive struct {
	interval time.Duration

	lastSend    time.Time
	pingSentAt  time.Time
	pingPending bool
}

func newKeepAlive(seconds uint16) *keepAlive {
	return &keepAlive{interval: time.Duration(seconds) * time.Second}
}

// tickInterval is how often the engine checks the connection. Zero disables
// keep-alive.
func (k *keepAlive) tickInterval() time.Duration {
	return k.interval / 2
}

func (k *keepAlive) sent(now time.Time) {
	k.lastSend = now
}

func (k *keepAlive) pingSent(now time.Time) {
	k.lastSend = now
	k.pingSentAt = now
	k.pingPending = true
}

func (k *keepAlive) pongReceived() {
	k.pingPending = false
}

// check returns whether a PINGREQ is due and whether the server failed to
// answer the previous one within the keep-alive interval.
func (k *keepAlive) check(now time.Time) (ping, timedOut bool) {
	if k.interval == 0 {
		return false, false
	}
	if k.pingPending {
		return false, now.Sub(k.pingSentAt) >= k.interval
	}
	return now.Sub(k.lastSend) >= k.interval/2, false
}
