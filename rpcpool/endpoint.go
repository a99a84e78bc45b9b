package rpcpool

import (
	"strings"
	"sync"
	"time"
)

// Tier classifies an endpoint by expected latency and access level, inferred
// from its URL. Tier0 beats Tier1 beats Tier2 in the score bonus.
type Tier int

const (
	Tier0Ultra   Tier = iota // private / block-engine endpoints
	Tier1Premium             // paid provider endpoints
	Tier2Public              // public cluster endpoints
)

func (t Tier) String() string {
	switch t {
	case Tier0Ultra:
		return "tier0_ultra"
	case Tier1Premium:
		return "tier1_premium"
	case Tier2Public:
		return "tier2_public"
	default:
		return "unknown"
	}
}

// scoreBonus is the fixed per-tier additive bonus in the endpoint score.
func (t Tier) scoreBonus() float64 {
	switch t {
	case Tier0Ultra:
		return 15
	case Tier1Premium:
		return 8
	default:
		return 0
	}
}

// EWMA smoothing factor for latency and success-rate signals.
const ewmaAlpha = 0.3

// HealthState tracks the rolling health signals for one endpoint. All
// mutation happens under the per-endpoint mutex; the pool never holds it
// across a network call.
type HealthState struct {
	mu sync.Mutex

	url    string
	tier   Tier
	region string

	latencyEWMA         float64 // milliseconds
	successRate         float64 // EWMA of success indicator, starts optimistic
	consecutiveFailures int
	cooldownUntil       time.Time
	lastUpdated         time.Time
}

func newHealthState(url string) *HealthState {
	return &HealthState{
		url:         url,
		tier:        inferTier(url),
		region:      inferRegion(url),
		successRate: 1.0,
	}
}

// URL returns the endpoint URL.
func (h *HealthState) URL() string { return h.url }

// Tier returns the inferred endpoint tier.
func (h *HealthState) Tier() Tier { return h.tier }

// Region returns the approximate geographic hint inferred from the URL.
func (h *HealthState) Region() string { return h.region }

// Observe folds one call result into the rolling signals.
func (h *HealthState) Observe(latency time.Duration, success bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ms := float64(latency.Milliseconds())
	if h.lastUpdated.IsZero() {
		h.latencyEWMA = ms
	} else {
		h.latencyEWMA = ewmaAlpha*ms + (1-ewmaAlpha)*h.latencyEWMA
	}

	indicator := 0.0
	if success {
		indicator = 1.0
		h.consecutiveFailures = 0
	} else {
		h.consecutiveFailures++
	}
	h.successRate = ewmaAlpha*indicator + (1-ewmaAlpha)*h.successRate
	h.lastUpdated = time.Now()
}

// Score computes the selection score from the current signals. Higher is
// better; the result is clamped to [0, 200].
//
// score = 100
//   - min(latency_ms/10, 50)
//   + (success_rate - 0.5) * 40
//   - min(consecutive_failures * 10, 30)
//   + tier bonus
func (h *HealthState) Score() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.scoreLocked()
}

func (h *HealthState) scoreLocked() float64 {
	score := 100.0

	latencyPenalty := h.latencyEWMA / 10
	if latencyPenalty > 50 {
		latencyPenalty = 50
	}
	score -= latencyPenalty

	score += (h.successRate - 0.5) * 40

	failurePenalty := float64(h.consecutiveFailures) * 10
	if failurePenalty > 30 {
		failurePenalty = 30
	}
	score -= failurePenalty

	score += h.tier.scoreBonus()

	if score < 0 {
		score = 0
	}
	if score > 200 {
		score = 200
	}
	return score
}

// ConsecutiveFailures returns the current consecutive-failure count.
func (h *HealthState) ConsecutiveFailures() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.consecutiveFailures
}

// StartCooldown excludes the endpoint from selection until the deadline.
func (h *HealthState) StartCooldown(until time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cooldownUntil = until
}

// InCooldown reports whether the endpoint is currently excluded.
func (h *HealthState) InCooldown(now time.Time) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return now.Before(h.cooldownUntil)
}

// EndpointStats is a point-in-time health snapshot for diagnostics.
type EndpointStats struct {
	URL                 string
	Tier                Tier
	Region              string
	Score               float64
	LatencyEWMAMs       float64
	SuccessRate         float64
	ConsecutiveFailures int
	CooldownUntil       time.Time
}

// Stats returns a snapshot of the endpoint health signals.
func (h *HealthState) Stats() EndpointStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return EndpointStats{
		URL:                 h.url,
		Tier:                h.tier,
		Region:              h.region,
		Score:               h.scoreLocked(),
		LatencyEWMAMs:       h.latencyEWMA,
		SuccessRate:         h.successRate,
		ConsecutiveFailures: h.consecutiveFailures,
		CooldownUntil:       h.cooldownUntil,
	}
}

// inferTier maps URL patterns to tiers: private and block-engine endpoints on
// top, known premium providers in the middle, public cluster URLs at the
// bottom. Unknown hosts are treated as public.
func inferTier(url string) Tier {
	u := strings.ToLower(url)
	switch {
	case strings.Contains(u, "block-engine"),
		strings.Contains(u, "blockengine"),
		strings.Contains(u, "jito"),
		strings.Contains(u, ".internal"),
		strings.Contains(u, "localhost"),
		strings.Contains(u, "127.0.0.1"),
		strings.Contains(u, "private"):
		return Tier0Ultra
	case strings.Contains(u, "helius"),
		strings.Contains(u, "quicknode"),
		strings.Contains(u, "quiknode"),
		strings.Contains(u, "triton"),
		strings.Contains(u, "rpcpool.com"),
		strings.Contains(u, "alchemy"),
		strings.Contains(u, "ankr"),
		strings.Contains(u, "syndica"):
		return Tier1Premium
	default:
		return Tier2Public
	}
}

// inferRegion extracts a rough geographic hint from the URL. Providers embed
// region slugs in hostnames; anything unrecognized is "global".
func inferRegion(url string) string {
	u := strings.ToLower(url)
	regions := map[string]string{
		"fra": "eu-central", "ams": "eu-west", "lon": "eu-west",
		"nyc": "us-east", "ny.": "us-east", "ewr": "us-east",
		"slc": "us-west", "lax": "us-west",
		"tyo": "ap-northeast", "tokyo": "ap-northeast", "sgp": "ap-southeast",
	}
	for slug, region := range regions {
		if strings.Contains(u, slug) {
			return region
		}
	}
	return "global"
}
