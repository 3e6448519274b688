package blivedm

import (
	"math/rand"
	"time"
)

// FailoverPolicy picks the server for each connect attempt and the wait
// before it. Selection is round-robin over the candidates by retry count.
// Delays grow exponentially up to a cap and are stretched by a jitter factor
// drawn once per policy, so one client's delays never shrink while many
// clients restarting together still spread out.
type FailoverPolicy struct {
	initial time.Duration
	max     time.Duration
	jitter  float64 // in [0, jitterFraction)
}

// NewFailoverPolicy returns a policy whose delay starts at initial, doubles
// per retry and stops growing at max. jitterFraction in [0, 1) sets the
// per-policy random stretch.
func NewFailoverPolicy(initial, max time.Duration, jitterFraction float64) *FailoverPolicy {
	if initial <= 0 {
		initial = DefaultReconnectDelay
	}
	if max < initial {
		max = initial
	}
	var j float64
	if jitterFraction > 0 {
		j = rand.Float64() * jitterFraction
	}
	return &FailoverPolicy{initial: initial, max: max, jitter: j}
}

// SelectHost returns candidates[retry % len(candidates)]. Consecutive retries
// visit every candidate once before any repeats.
func (p *FailoverPolicy) SelectHost(candidates []string, retry uint32) string {
	if len(candidates) == 0 {
		return ""
	}
	return candidates[int(retry%uint32(len(candidates)))]
}

// Backoff returns how long to wait before attempt number retry.
func (p *FailoverPolicy) Backoff(retry uint32) time.Duration {
	d := p.initial
	for i := uint32(0); i < retry && d < p.max; i++ {
		d *= 2
	}
	if d > p.max {
		d = p.max
	}
	return d + time.Duration(float64(d)*p.jitter)
}

// MaxBackoff is the upper bound of Backoff for any retry count.
func (p *FailoverPolicy) MaxBackoff() time.Duration {
	return p.max + time.Duration(float64(p.max)*p.jitter)
}
