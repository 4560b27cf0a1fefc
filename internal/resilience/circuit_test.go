package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCircuitBreaker_ClosedAllows(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig())

	if !cb.Allow() {
		t.Error("expected closed breaker to allow")
	}
	if cb.State() != CircuitClosed {
		t.Errorf("expected closed state, got %s", cb.State())
	}
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 3,
		RecoveryTimeout:  time.Minute,
	})

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}

	if cb.State() != CircuitOpen {
		t.Errorf("expected open state after 3 failures, got %s", cb.State())
	}
	if cb.Allow() {
		t.Error("expected open breaker to reject")
	}
}

func TestCircuitBreaker_BelowThresholdStaysClosed(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 3,
		RecoveryTimeout:  time.Minute,
	})

	cb.RecordFailure()
	cb.RecordFailure()

	failures, state := cb.Counters()
	if failures != 2 {
		t.Errorf("expected 2 failures, got %d", failures)
	}
	if state != CircuitClosed {
		t.Errorf("expected closed state, got %s", state)
	}
	if !cb.Allow() {
		t.Error("expected breaker below threshold to allow")
	}
}

func TestCircuitBreaker_SuccessResetsCount(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 3,
		RecoveryTimeout:  time.Minute,
	})

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()

	failures, state := cb.Counters()
	if failures != 0 {
		t.Errorf("expected 0 failures after success, got %d", failures)
	}
	if state != CircuitClosed {
		t.Errorf("expected closed state, got %s", state)
	}
}

func TestCircuitBreaker_HalfOpenAfterRecoveryTimeout(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 3,
		RecoveryTimeout:  60 * time.Second,
	})
	cb.nowFunc = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	if cb.Allow() {
		t.Fatal("expected open breaker to reject before timeout")
	}

	// Advance past the recovery timeout; the next Allow is the probe.
	now = now.Add(61 * time.Second)
	if !cb.Allow() {
		t.Fatal("expected probe to be allowed after recovery timeout")
	}
	if _, state := cb.Counters(); state != CircuitHalfOpen {
		t.Errorf("expected half-open state, got %s", state)
	}

	cb.RecordSuccess()
	failures, state := cb.Counters()
	if state != CircuitClosed {
		t.Errorf("expected closed state after probe success, got %s", state)
	}
	if failures != 0 {
		t.Errorf("expected failure count reset, got %d", failures)
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 2,
		RecoveryTimeout:  30 * time.Second,
	})
	cb.nowFunc = func() time.Time { return now }

	cb.RecordFailure()
	cb.RecordFailure()

	now = now.Add(31 * time.Second)
	if !cb.Allow() {
		t.Fatal("expected probe after timeout")
	}

	// Probe fails: reopen immediately and restart the recovery clock.
	cb.RecordFailure()
	if _, state := cb.Counters(); state != CircuitOpen {
		t.Errorf("expected reopened state, got %s", state)
	}
	if cb.Allow() {
		t.Error("expected reject right after half-open failure")
	}

	now = now.Add(29 * time.Second)
	if cb.Allow() {
		t.Error("expected reject before the restarted recovery clock expires")
	}
	now = now.Add(2 * time.Second)
	if !cb.Allow() {
		t.Error("expected probe after the restarted recovery clock expires")
	}
}

func TestCircuitBreaker_Execute(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  time.Minute,
	})

	sentinel := errors.New("boom")
	if err := cb.Execute(context.Background(), func(_ context.Context) error {
		return sentinel
	}); !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}

	err := cb.Execute(context.Background(), func(_ context.Context) error {
		t.Error("should not be called while circuit is open")
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestCircuitBreaker_StateChangeCallback(t *testing.T) {
	var transitions []string
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  time.Minute,
		OnStateChange: func(from, to CircuitState) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	cb.RecordFailure()
	cb.RecordSuccess()

	want := []string{"closed->open", "open->closed"}
	if len(transitions) != len(want) {
		t.Fatalf("expected %d transitions, got %v", len(want), transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d: expected %s, got %s", i, want[i], transitions[i])
		}
	}
}
