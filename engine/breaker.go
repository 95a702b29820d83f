package engine

import (
	"sync"

	"github.com/learnobot/mediation/core"
	"github.com/learnobot/mediation/resilience"
)

// breakerPool hands out one resilience.CircuitBreaker per provider name,
// created lazily on first use. This is deliberately a cross-turn,
// cross-session protective layer, not an in-turn retry: spec §4.7 step 9
// requires immediate fallback substitution on any adapter error, so
// retrying within a turn would waste time against the per-turn deadline
// and would retry even non-retryable errors like auth failure. A
// provider whose circuit is open simply fails fast into the same
// fallback path the engine already takes on any ProviderError — it never
// changes step 9's contract, it only keeps a persistently failing
// provider from absorbing the full per-turn timeout on every subsequent
// turn.
type breakerPool struct {
	cfg resilience.CircuitBreakerConfig

	mu sync.Mutex
	// breakers is typed against core.CircuitBreaker rather than the
	// concrete *resilience.CircuitBreaker so callers outside this
	// package could swap in another implementation of the same
	// contract without touching the pool.
	breakers map[string]core.CircuitBreaker
}

func newBreakerPool(cfg core.CircuitBreakerConfig, logger core.Logger) *breakerPool {
	base := resilience.CircuitBreakerConfig{
		ErrorThreshold:   0.5,
		VolumeThreshold:  cfg.Threshold,
		SleepWindow:      cfg.Timeout,
		HalfOpenRequests: cfg.HalfOpenRequests,
		SuccessThreshold: 0.6,
		WindowSize:       2 * cfg.Timeout, // keep the sliding window proportional to SleepWindow
		BucketCount:      10,
		ErrorClassifier:  resilience.DefaultErrorClassifier,
		Logger:           logger,
	}
	if base.VolumeThreshold <= 0 {
		base.VolumeThreshold = 5
	}
	if base.WindowSize <= 0 {
		base.WindowSize = 60
	}
	if base.HalfOpenRequests <= 0 {
		// NewCircuitBreaker validates before it applies its own
		// zero-value defaults, so a zero here would be rejected outright
		// rather than defaulted; guard against it ourselves.
		base.HalfOpenRequests = 3
	}
	return &breakerPool{cfg: base, breakers: make(map[string]core.CircuitBreaker)}
}

// get returns the circuit breaker for providerName, creating it on first
// use. Construction errors from a malformed config are treated as "no
// breaker": the underlying provider call still runs directly, since a
// missing circuit breaker must never itself block a turn.
func (p *breakerPool) get(providerName string) core.CircuitBreaker {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cb, ok := p.breakers[providerName]; ok {
		return cb
	}

	named := p.cfg
	named.Name = providerName
	cb, err := resilience.NewCircuitBreaker(&named)
	if err != nil {
		return nil
	}
	p.breakers[providerName] = cb
	return cb
}
