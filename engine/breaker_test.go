package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/learnobot/mediation/core"
)

func TestBreakerPool_DefaultsZeroValuedConfig(t *testing.T) {
	pool := newBreakerPool(core.CircuitBreakerConfig{}, nil)
	cb := pool.get("some-provider")
	if cb == nil {
		t.Fatal("expected a circuit breaker even from a zero-valued config")
	}
}

func TestBreakerPool_IsolatesPerProviderName(t *testing.T) {
	pool := newBreakerPool(core.CircuitBreakerConfig{Threshold: 2, Timeout: time.Second, HalfOpenRequests: 1}, nil)

	a := pool.get("provider-a")
	b := pool.get("provider-b")
	if a == b {
		t.Fatal("expected distinct circuit breakers for distinct provider names")
	}
	if pool.get("provider-a") != a {
		t.Fatal("expected the same circuit breaker instance on repeated lookup")
	}
}

func TestBreakerPool_OpensAfterVolumeThresholdFailures(t *testing.T) {
	pool := newBreakerPool(core.CircuitBreakerConfig{Threshold: 2, Timeout: time.Minute, HalfOpenRequests: 1}, nil)
	cb := pool.get("flaky")

	failing := func() error { return errors.New("boom") }
	for i := 0; i < 5; i++ {
		_ = cb.Execute(context.Background(), failing)
	}

	err := cb.Execute(context.Background(), func() error { return nil })
	if !errors.Is(err, core.ErrCircuitBreakerOpen) {
		t.Fatalf("expected the circuit to be open after repeated failures, got %v", err)
	}
}
