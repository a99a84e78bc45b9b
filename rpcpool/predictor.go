package rpcpool

import (
	"sync"
)

// minObservations is the history size below which the predictor returns the
// neutral estimate instead of extrapolating from noise.
const minObservations = 5

// neutralProbability is returned on empty or tiny history.
const neutralProbability = 0.5

type observation struct {
	latencyMs float64
	failed    bool
	seq       uint64
}

// Predictor keeps a bounded rolling window of per-call observations for one
// endpoint and forecasts its near-term failure probability. The forecast
// rises with the observed error rate and with an upward latency trend, which
// lets the pool switch away from a degrading endpoint before its breaker
// ever trips.
type Predictor struct {
	mu       sync.Mutex
	buf      []observation
	next     int
	count    int
	seq      uint64
	capacity int
}

// NewPredictor creates a predictor with the given window capacity.
func NewPredictor(capacity int) *Predictor {
	if capacity <= 0 {
		capacity = 64
	}
	return &Predictor{
		buf:      make([]observation, capacity),
		capacity: capacity,
	}
}

// Observe appends one call result to the rolling window.
func (p *Predictor) Observe(latencyMs float64, failed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.seq++
	p.buf[p.next] = observation{latencyMs: latencyMs, failed: failed, seq: p.seq}
	p.next = (p.next + 1) % p.capacity
	if p.count < p.capacity {
		p.count++
	}
}

// FailureProbability forecasts the probability that the next call fails.
// Always in [0, 1]; returns the neutral estimate on a tiny history.
//
// The estimate blends the window error rate (dominant term) with the
// relative latency growth between the older and newer halves of the window.
func (p *Predictor) FailureProbability() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.count < minObservations {
		return neutralProbability
	}

	obs := p.ordered()

	failures := 0
	for _, o := range obs {
		if o.failed {
			failures++
		}
	}
	errRate := float64(failures) / float64(len(obs))

	half := len(obs) / 2
	oldAvg := avgLatency(obs[:half])
	newAvg := avgLatency(obs[half:])

	trend := 0.0
	if oldAvg > 0 && newAvg > oldAvg {
		trend = (newAvg - oldAvg) / oldAvg
		if trend > 1 {
			trend = 1
		}
	}

	prob := 0.7*errRate + 0.3*trend
	if prob < 0 {
		prob = 0
	}
	if prob > 1 {
		prob = 1
	}
	return prob
}

// ordered returns the window contents oldest-first.
func (p *Predictor) ordered() []observation {
	out := make([]observation, 0, p.count)
	if p.count < p.capacity {
		out = append(out, p.buf[:p.count]...)
		return out
	}
	out = append(out, p.buf[p.next:]...)
	out = append(out, p.buf[:p.next]...)
	return out
}

func avgLatency(obs []observation) float64 {
	if len(obs) == 0 {
		return 0
	}
	sum := 0.0
	for _, o := range obs {
		sum += o.latencyMs
	}
	return sum / float64(len(obs))
}

// Reset drops the accumulated history.
func (p *Predictor) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next = 0
	p.count = 0
	p.seq = 0
}
