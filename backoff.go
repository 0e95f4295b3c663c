package mqttclient

import (
	"math/rand/v2"
	"time"

	"golang.org/x/time/rate"
)

// BackoffStrategy computes the delay before the next connection pass.
// It receives the attempt number (1-based), the previous delay and the
// error that ended the last pass. It replaces the built-in exponential
// policy, jitter included.
type BackoffStrategy func(attempt int, currentBackoff time.Duration, err error) time.Duration

// backoff is the exponential reconnect delay with jitter. It is owned by
// the engine goroutine.
type backoff struct {
	initial    time.Duration
	max        time.Duration
	jitter     float64
	resetAfter time.Duration
	strategy   BackoffStrategy

	attempt int
	current time.Duration
	random  func() float64
}

func newBackoff(o *clientOptions) *backoff {
	return &backoff{
		initial:    o.reconnectBackoff,
		max:        o.maxBackoff,
		jitter:     o.backoffJitter,
		resetAfter: o.backoffResetAfter,
		strategy:   o.backoffStrategy,
		random:     rand.Float64,
	}
}

// next returns the delay to wait after a full failed pass over the servers.
func (b *backoff) next(err error) time.Duration {
	b.attempt++

	if b.strategy != nil {
		b.current = b.strategy(b.attempt, b.current, err)
		return b.current
	}

	if b.current == 0 {
		b.current = b.initial
	} else {
		b.current *= 2
	}
	if b.max > 0 && b.current > b.max {
		b.current = b.max
	}

	d := b.current
	if b.jitter > 0 {
		// spread uniformly over [d*(1-jitter), d*(1+jitter)]
		spread := float64(d) * b.jitter
		d = time.Duration(float64(d) - spread + b.random()*2*spread)
	}
	if b.max > 0 && d > b.max {
		d = b.max
	}
	if d < 0 {
		d = 0
	}
	return d
}

// connectionEnded resets the policy when the connection that just ended
// stayed up for at least resetAfter.
func (b *backoff) connectionEnded(connectedFor time.Duration) {
	if connectedFor >= b.resetAfter {
		b.reset()
	}
}

func (b *backoff) reset() {
	b.attempt = 0
	b.current = 0
}

// newConnectLimiter throttles connection attempts across all servers.
// A non-positive limit disables throttling.
func newConnectLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}
