package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/learnobot/mediation/core"
)

type noopLogger struct{}

func (n *noopLogger) Debug(msg string, fields map[string]interface{}) {}
func (n *noopLogger) Info(msg string, fields map[string]interface{})  {}
func (n *noopLogger) Warn(msg string, fields map[string]interface{})  {}
func (n *noopLogger) Error(msg string, fields map[string]interface{}) {}

func testConfig(name string) *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		Name:             name,
		ErrorThreshold:   0.5,
		VolumeThreshold:  4,
		SleepWindow:      50 * time.Millisecond,
		HalfOpenRequests: 2,
		SuccessThreshold: 0.6,
		WindowSize:       time.Second,
		BucketCount:      10,
		ErrorClassifier:  DefaultErrorClassifier,
		Logger:           &noopLogger{},
	}
}

func TestCircuitBreakerStateTransitions(t *testing.T) {
	cb, err := NewCircuitBreaker(testConfig("state-transitions"))
	if err != nil {
		t.Fatalf("NewCircuitBreaker: %v", err)
	}
	if cb.GetState() != "closed" {
		t.Fatalf("new breaker state = %q, want closed", cb.GetState())
	}

	failing := errors.New("boom")
	for i := 0; i < 4; i++ {
		_ = cb.Execute(context.Background(), func() error { return failing })
	}
	if cb.GetState() != "open" {
		t.Fatalf("after 4 failures past volume threshold, state = %q, want open", cb.GetState())
	}

	if rejErr := cb.Execute(context.Background(), func() error { return nil }); rejErr == nil {
		t.Fatal("open breaker must reject execution")
	}

	time.Sleep(60 * time.Millisecond)
	if !cb.CanExecute() {
		t.Fatal("breaker must allow a probe once sleep window elapses")
	}
	if cb.GetState() != "half-open" {
		t.Fatalf("state after sleep window = %q, want half-open", cb.GetState())
	}
}

func TestCircuitBreakerHalfOpenRecovery(t *testing.T) {
	cb, err := NewCircuitBreaker(testConfig("half-open-recovery"))
	if err != nil {
		t.Fatalf("NewCircuitBreaker: %v", err)
	}

	failing := errors.New("boom")
	for i := 0; i < 4; i++ {
		_ = cb.Execute(context.Background(), func() error { return failing })
	}
	time.Sleep(60 * time.Millisecond)
	cb.CanExecute() // force the half-open transition

	for i := 0; i < 2; i++ {
		if err := cb.Execute(context.Background(), func() error { return nil }); err != nil {
			t.Fatalf("half-open probe %d: %v", i, err)
		}
	}
	if cb.GetState() != "closed" {
		t.Fatalf("state after successful probes = %q, want closed", cb.GetState())
	}
}

func TestCircuitBreakerHalfOpenReopensOnFailure(t *testing.T) {
	cb, err := NewCircuitBreaker(testConfig("half-open-reopen"))
	if err != nil {
		t.Fatalf("NewCircuitBreaker: %v", err)
	}

	failing := errors.New("boom")
	for i := 0; i < 4; i++ {
		_ = cb.Execute(context.Background(), func() error { return failing })
	}
	time.Sleep(60 * time.Millisecond)
	cb.CanExecute()

	_ = cb.Execute(context.Background(), func() error { return nil })
	_ = cb.Execute(context.Background(), func() error { return failing })

	if cb.GetState() != "open" {
		t.Fatalf("state after mixed half-open probes below success threshold = %q, want open", cb.GetState())
	}
}

func TestCircuitBreakerErrorClassification(t *testing.T) {
	cb, err := NewCircuitBreaker(testConfig("classification"))
	if err != nil {
		t.Fatalf("NewCircuitBreaker: %v", err)
	}

	for i := 0; i < 10; i++ {
		_ = cb.Execute(context.Background(), func() error { return context.Canceled })
	}
	if cb.GetState() != "closed" {
		t.Fatalf("context.Canceled must never count toward the error threshold, state = %q", cb.GetState())
	}
}

func TestErrorClassifierCustom(t *testing.T) {
	cfg := testConfig("custom-classifier")
	cfg.ErrorClassifier = func(err error) bool {
		return err != nil && err.Error() == "countme"
	}
	cb, err := NewCircuitBreaker(cfg)
	if err != nil {
		t.Fatalf("NewCircuitBreaker: %v", err)
	}

	for i := 0; i < 4; i++ {
		_ = cb.Execute(context.Background(), func() error { return errors.New("ignoreme") })
	}
	if cb.GetState() != "closed" {
		t.Fatalf("classifier should have ignored every failure, state = %q", cb.GetState())
	}

	for i := 0; i < 4; i++ {
		_ = cb.Execute(context.Background(), func() error { return errors.New("countme") })
	}
	if cb.GetState() != "open" {
		t.Fatalf("classifier should have counted every failure, state = %q", cb.GetState())
	}
}

func TestCircuitBreakerExecuteWithTimeout(t *testing.T) {
	cb, err := NewCircuitBreaker(testConfig("timeout"))
	if err != nil {
		t.Fatalf("NewCircuitBreaker: %v", err)
	}

	err = cb.ExecuteWithTimeout(context.Background(), 10*time.Millisecond, func() error {
		time.Sleep(100 * time.Millisecond)
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("ExecuteWithTimeout error = %v, want context.DeadlineExceeded", err)
	}
}

func TestCircuitBreakerPanicRecovery(t *testing.T) {
	cb, err := NewCircuitBreaker(testConfig("panic-recovery"))
	if err != nil {
		t.Fatalf("NewCircuitBreaker: %v", err)
	}

	err = cb.Execute(context.Background(), func() error {
		panic("provider adapter exploded")
	})
	if err == nil {
		t.Fatal("a panicking call must surface as an error, not crash the test")
	}
}

func TestCircuitBreakerConcurrentAccess(t *testing.T) {
	cb, err := NewCircuitBreaker(testConfig("concurrent"))
	if err != nil {
		t.Fatalf("NewCircuitBreaker: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = cb.Execute(context.Background(), func() error {
				if i%3 == 0 {
					return errors.New("boom")
				}
				return nil
			})
		}(i)
	}
	wg.Wait()
	// Nothing to assert beyond "the race detector and this test don't crash".
}

func TestCircuitBreakerVolumeThreshold(t *testing.T) {
	cfg := testConfig("volume-threshold")
	cfg.VolumeThreshold = 100
	cb, err := NewCircuitBreaker(cfg)
	if err != nil {
		t.Fatalf("NewCircuitBreaker: %v", err)
	}

	failing := errors.New("boom")
	for i := 0; i < 10; i++ {
		_ = cb.Execute(context.Background(), func() error { return failing })
	}
	if cb.GetState() != "closed" {
		t.Fatalf("state = %q, want closed: volume threshold of 100 was never reached", cb.GetState())
	}
}

func TestCircuitBreakerReset(t *testing.T) {
	cb, err := NewCircuitBreaker(testConfig("reset"))
	if err != nil {
		t.Fatalf("NewCircuitBreaker: %v", err)
	}

	failing := errors.New("boom")
	for i := 0; i < 4; i++ {
		_ = cb.Execute(context.Background(), func() error { return failing })
	}
	if cb.GetState() != "open" {
		t.Fatalf("precondition: state = %q, want open", cb.GetState())
	}

	cb.Reset()
	if cb.GetState() != "closed" {
		t.Fatalf("state after Reset = %q, want closed", cb.GetState())
	}
	metrics := cb.GetMetrics()
	if metrics["total"].(uint64) != 0 {
		t.Fatalf("metrics after Reset = %v, want zeroed counters", metrics)
	}
}

func TestCircuitBreakerMetrics(t *testing.T) {
	cb, err := NewCircuitBreaker(testConfig("metrics"))
	if err != nil {
		t.Fatalf("NewCircuitBreaker: %v", err)
	}

	_ = cb.Execute(context.Background(), func() error { return nil })
	_ = cb.Execute(context.Background(), func() error { return errors.New("boom") })

	metrics := cb.GetMetrics()
	if metrics["state"] != "closed" {
		t.Fatalf("metrics state = %v, want closed", metrics["state"])
	}
	if metrics["success"].(uint64) != 1 || metrics["failure"].(uint64) != 1 {
		t.Fatalf("metrics success/failure = %v/%v, want 1/1", metrics["success"], metrics["failure"])
	}
}

func TestCircuitBreakerConfigValidation(t *testing.T) {
	cases := []struct {
		name string
		cfg  *CircuitBreakerConfig
	}{
		{"nil config", nil},
		{"empty name", &CircuitBreakerConfig{ErrorThreshold: 0.5, HalfOpenRequests: 1}},
		{"bad error threshold", &CircuitBreakerConfig{Name: "x", ErrorThreshold: 2, HalfOpenRequests: 1}},
		{"zero half-open requests", &CircuitBreakerConfig{Name: "x", ErrorThreshold: 0.5, HalfOpenRequests: 0}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.cfg.Validate(); err == nil {
				t.Fatalf("Validate() on %s: want error, got nil", tc.name)
			}
		})
	}
}

func TestSlidingWindowRotation(t *testing.T) {
	sw := NewSlidingWindow(100*time.Millisecond, 5, true)
	sw.RecordSuccess()
	sw.RecordFailure()

	success, failure := sw.GetCounts()
	if success != 1 || failure != 1 {
		t.Fatalf("GetCounts = %d/%d, want 1/1", success, failure)
	}

	time.Sleep(150 * time.Millisecond)
	success, failure = sw.GetCounts()
	if success != 0 || failure != 0 {
		t.Fatalf("GetCounts after window expiry = %d/%d, want 0/0", success, failure)
	}
}

func TestSlidingWindowTimeSkew(t *testing.T) {
	sw := NewSlidingWindow(time.Second, 10, true)
	sw.RecordSuccess()
	sw.lastRotation = time.Now().Add(time.Hour) // simulate a backward clock jump on the next rotation
	sw.RecordFailure()

	success, failure := sw.GetCounts()
	if success != 0 || failure != 1 {
		t.Fatalf("GetCounts after skew reset = %d/%d, want 0/1 (skew drops prior success)", success, failure)
	}
}

func TestCircuitBreakerSatisfiesCoreInterface(t *testing.T) {
	var cb core.CircuitBreaker = mustNewCircuitBreaker(t, testConfig("interface-compat"))
	if cb.GetState() != "closed" {
		t.Fatalf("GetState = %q, want closed", cb.GetState())
	}
	if !cb.CanExecute() {
		t.Fatal("a fresh closed breaker must allow execution")
	}
	if err := cb.Execute(context.Background(), func() error { return nil }); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	cb.Reset()
	if cb.GetMetrics() == nil {
		t.Fatal("GetMetrics must never return nil")
	}
}

func mustNewCircuitBreaker(t *testing.T, cfg *CircuitBreakerConfig) *CircuitBreaker {
	t.Helper()
	cb, err := NewCircuitBreaker(cfg)
	if err != nil {
		t.Fatalf("NewCircuitBreaker: %v", err)
	}
	return cb
}
