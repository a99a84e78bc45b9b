// Package rpcpool routes ledger RPC traffic across multiple unreliable
// endpoints with health-aware failover. Every endpoint carries a health
// score, a circuit breaker and a predictive failure model; selection is
// weighted-random over the scores of eligible endpoints so that load spreads
// naturally and degrading endpoints shed traffic before they fail outright.
//
// The pool is the only path to the remote ledger for the rest of the system:
// callers never pick a specific endpoint themselves.
package rpcpool

import (
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/KyberNetwork/logger"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/KriptoChewbacca/BEJ-sub001/internal/circuitbreaker"
)

// Config holds the pool's operating parameters. Zero values are corrected to
// defaults by New.
type Config struct {
	// Endpoints is the initial endpoint URL list. Endpoints can be added and
	// removed at runtime afterwards.
	Endpoints []string

	// MaxInFlight is the concurrent-request ceiling. Requests beyond it are
	// rejected immediately, never queued.
	MaxInFlight int

	// RequestsPerSecond caps the pool-wide request rate. Zero disables the
	// limiter.
	RequestsPerSecond float64
	// RateBurst is the limiter burst size.
	RateBurst int

	// CallTimeout bounds each individual endpoint attempt.
	CallTimeout time.Duration

	// CooldownFailureThreshold is the consecutive-failure count that puts an
	// endpoint into cooldown; CooldownPeriod is how long it stays excluded.
	CooldownFailureThreshold int
	CooldownPeriod           time.Duration

	// RetryFloor, RetryCeiling and MaxRetrySteps parameterize the Fibonacci
	// retry backoff.
	RetryFloor    time.Duration
	RetryCeiling  time.Duration
	MaxRetrySteps int

	// PredictorWindow is the per-endpoint observation window size.
	PredictorWindow int
	// PredictiveSwitchThreshold is the forecast failure probability at which
	// an endpoint is proactively skipped during selection.
	PredictiveSwitchThreshold float64

	// Breaker configures the per-endpoint circuit breakers.
	Breaker circuitbreaker.Config
}

// DefaultConfig returns parameters suitable for a latency-sensitive trading
// workload over a mix of private and public endpoints.
func DefaultConfig() Config {
	return Config{
		MaxInFlight:               256,
		RequestsPerSecond:         0,
		RateBurst:                 32,
		CallTimeout:               5 * time.Second,
		CooldownFailureThreshold:  3,
		CooldownPeriod:            15 * time.Second,
		RetryFloor:                100 * time.Millisecond,
		RetryCeiling:              5 * time.Second,
		MaxRetrySteps:             6,
		PredictorWindow:           64,
		PredictiveSwitchThreshold: 0.75,
		Breaker:                   circuitbreaker.DefaultConfig(),
	}
}

// endpoint bundles everything the pool tracks per URL.
type endpoint struct {
	health    *HealthState
	breaker   *circuitbreaker.CircuitBreaker
	predictor *Predictor
	client    Client
}

// Pool routes requests across scored endpoints.
type Pool struct {
	mu        sync.RWMutex
	endpoints map[string]*endpoint

	cfg       Config
	limiter   *rate.Limiter
	inFlight  atomic.Int64
	metrics   *UniverseMetrics
	newClient func(url string) Client

	rngMu sync.Mutex
	rng   *rand.Rand
}

// Option configures optional pool collaborators.
type Option func(*Pool)

// WithMetricsRegistry registers the pool metrics on the given registry. The
// same registry instance should be shared by every component in the process.
func WithMetricsRegistry(reg prometheus.Registerer) Option {
	return func(p *Pool) {
		p.metrics = NewUniverseMetrics(reg)
	}
}

// WithClientFactory overrides how per-endpoint clients are constructed.
// Tests use this to route calls to fakes.
func WithClientFactory(factory func(url string) Client) Option {
	return func(p *Pool) {
		p.newClient = factory
	}
}

// New creates a pool over the configured endpoints.
func New(cfg Config, opts ...Option) (*Pool, error) {
	def := DefaultConfig()
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = def.MaxInFlight
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}
	if cfg.CooldownFailureThreshold <= 0 {
		cfg.CooldownFailureThreshold = def.CooldownFailureThreshold
	}
	if cfg.CooldownPeriod <= 0 {
		cfg.CooldownPeriod = def.CooldownPeriod
	}
	if cfg.RetryFloor <= 0 {
		cfg.RetryFloor = def.RetryFloor
	}
	if cfg.RetryCeiling <= 0 {
		cfg.RetryCeiling = def.RetryCeiling
	}
	if cfg.MaxRetrySteps <= 0 {
		cfg.MaxRetrySteps = def.MaxRetrySteps
	}
	if cfg.PredictorWindow <= 0 {
		cfg.PredictorWindow = def.PredictorWindow
	}
	if cfg.PredictiveSwitchThreshold <= 0 || cfg.PredictiveSwitchThreshold > 1 {
		cfg.PredictiveSwitchThreshold = def.PredictiveSwitchThreshold
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = def.RateBurst
	}

	p := &Pool{
		endpoints: make(map[string]*endpoint),
		cfg:       cfg,
		newClient: newRPCClient,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if cfg.RequestsPerSecond > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.RateBurst)
	}

	for _, opt := range opts {
		opt(p)
	}
	if p.metrics == nil {
		p.metrics = NewUniverseMetrics(prometheus.NewRegistry())
	}

	for _, url := range cfg.Endpoints {
		if err := p.AddEndpoint(url); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// AddEndpoint registers a new endpoint at runtime.
func (p *Pool) AddEndpoint(url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.endpoints[url]; ok {
		return ErrEndpointExists
	}
	ep := &endpoint{
		health:    newHealthState(url),
		breaker:   circuitbreaker.New(p.cfg.Breaker),
		predictor: NewPredictor(p.cfg.PredictorWindow),
		client:    p.newClient(url),
	}
	p.endpoints[url] = ep

	logger.WithFields(logger.Fields{
		"endpoint": url,
		"tier":     ep.health.Tier().String(),
		"region":   ep.health.Region(),
	}).Info("rpc pool: endpoint added")
	return nil
}

// RemoveEndpoint drops an endpoint at runtime. In-flight calls against it
// complete; it just stops being selected.
func (p *Pool) RemoveEndpoint(url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.endpoints[url]; !ok {
		return ErrEndpointNotFound
	}
	delete(p.endpoints, url)
	p.metrics.EndpointScore.DeleteLabelValues(url)

	logger.WithFields(logger.Fields{
		"endpoint": url,
	}).Info("rpc pool: endpoint removed")
	return nil
}

// EndpointCount returns the number of registered endpoints.
func (p *Pool) EndpointCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.endpoints)
}

// snapshot returns the current endpoint set without holding the lock during
// any subsequent network activity.
func (p *Pool) snapshot() []*endpoint {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*endpoint, 0, len(p.endpoints))
	for _, ep := range p.endpoints {
		out = append(out, ep)
	}
	return out
}

// selectEndpoint picks one endpoint weighted-random by score among those
// whose breaker allows execution and which are not cooling down. Endpoints
// whose forecast failure probability crosses the switch threshold are skipped
// proactively while a healthier alternative exists.
func (p *Pool) selectEndpoint() (*endpoint, error) {
	all := p.snapshot()
	if len(all) == 0 {
		return nil, ErrNoEndpoints
	}

	now := time.Now()
	eligible := make([]*endpoint, 0, len(all))
	for _, ep := range all {
		if !ep.breaker.CanExecute() {
			continue
		}
		if ep.health.InCooldown(now) {
			continue
		}
		eligible = append(eligible, ep)
	}
	if len(eligible) == 0 {
		return nil, ErrAllEndpointsUnavailable
	}

	preferred := make([]*endpoint, 0, len(eligible))
	skipped := 0
	for _, ep := range eligible {
		if ep.predictor.FailureProbability() >= p.cfg.PredictiveSwitchThreshold {
			skipped++
			continue
		}
		preferred = append(preferred, ep)
	}
	if len(preferred) == 0 {
		// Every candidate is forecast to fail; a degraded endpoint still
		// beats refusing the request.
		preferred = eligible
	} else if skipped > 0 {
		p.metrics.PredictiveSwitches.Add(float64(skipped))
	}

	return p.weightedPick(preferred), nil
}

// weightedPick draws one endpoint with probability proportional to score.
func (p *Pool) weightedPick(candidates []*endpoint) *endpoint {
	if len(candidates) == 1 {
		return candidates[0]
	}

	scores := make([]float64, len(candidates))
	total := 0.0
	for i, ep := range candidates {
		scores[i] = ep.health.Score()
		total += scores[i]
	}

	p.rngMu.Lock()
	r := p.rng.Float64()
	p.rngMu.Unlock()

	if total <= 0 {
		return candidates[int(r*float64(len(candidates)))%len(candidates)]
	}

	target := r * total
	for i, s := range scores {
		target -= s
		if target <= 0 {
			return candidates[i]
		}
	}
	return candidates[len(candidates)-1]
}

// RankedEndpoints returns the top-k endpoints by score, best first, for
// multi-send and quorum strategies. k <= 0 or k beyond the pool size returns
// everything.
func (p *Pool) RankedEndpoints(k int) []EndpointStats {
	all := p.snapshot()
	stats := make([]EndpointStats, 0, len(all))
	for _, ep := range all {
		stats = append(stats, ep.health.Stats())
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Score > stats[j].Score })

	if k > 0 && k < len(stats) {
		stats = stats[:k]
	}
	return stats
}

// RecordRPCResult folds an externally observed call result into an
// endpoint's health state, breaker and predictor. Callers that bypass the
// pool's own call wrappers (e.g. a quorum sender racing ranked endpoints)
// use this to keep scoring honest.
func (p *Pool) RecordRPCResult(url string, latency time.Duration, success bool) error {
	p.mu.RLock()
	ep, ok := p.endpoints[url]
	p.mu.RUnlock()
	if !ok {
		return ErrEndpointNotFound
	}

	kind := KindOther
	p.recordResult(ep, latency, success, kind)
	return nil
}

// recordResult is the single path that updates health signals. Each call
// outcome is recorded exactly once.
func (p *Pool) recordResult(ep *endpoint, latency time.Duration, success bool, kind Kind) {
	ep.health.Observe(latency, success)
	ep.predictor.Observe(float64(latency.Milliseconds()), !success)

	tier := ep.health.Tier().String()
	p.metrics.RequestsTotal.WithLabelValues(tier).Inc()
	p.metrics.CallLatency.WithLabelValues(tier).Observe(latency.Seconds())
	p.metrics.EndpointScore.WithLabelValues(ep.health.URL()).Set(ep.health.Score())

	if success {
		ep.breaker.RecordSuccess()
		return
	}

	ep.breaker.RecordFailure()
	p.metrics.ErrorsTotal.WithLabelValues(tier, kind.String()).Inc()

	if fails := ep.health.ConsecutiveFailures(); fails >= p.cfg.CooldownFailureThreshold {
		until := time.Now().Add(p.cfg.CooldownPeriod)
		ep.health.StartCooldown(until)
		logger.WithFields(logger.Fields{
			"endpoint":             ep.health.URL(),
			"consecutive_failures": fails,
			"cooldown_until":       until,
		}).Warn("rpc pool: endpoint entering cooldown")
	}
}

// admit applies the rate limit and the in-flight ceiling. It returns an
// error immediately instead of queueing, to bound tail latency.
func (p *Pool) admit() error {
	if p.limiter != nil && !p.limiter.Allow() {
		p.metrics.RateLimitHits.Inc()
		return ErrRateLimited
	}
	for {
		cur := p.inFlight.Load()
		if cur >= int64(p.cfg.MaxInFlight) {
			p.metrics.SheddedRequests.Inc()
			return ErrPoolSaturated
		}
		if p.inFlight.CompareAndSwap(cur, cur+1) {
			p.metrics.InFlight.Inc()
			return nil
		}
	}
}

func (p *Pool) done() {
	p.inFlight.Add(-1)
	p.metrics.InFlight.Dec()
}

// InFlight returns the number of requests currently executing.
func (p *Pool) InFlight() int64 {
	return p.inFlight.Load()
}
