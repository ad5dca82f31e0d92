package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

var errBoom = errors.New("boom")

// fakeClock drives a breaker's time-based transitions
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(t *testing.T, name string, config Config) (*CircuitBreaker, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 10, 15, 2, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker(name, config, zaptest.NewLogger(t))
	cb.now = clock.now
	cb.forgetAt = cb.windowEnd(clock.now())
	return cb, clock
}

func succeed() error { return nil }
func fail() error    { return errBoom }

func TestCircuitBreakerLifecycle(t *testing.T) {
	config := DefaultConfig()
	config.FailureThreshold = 3
	config.RecoveryThreshold = 2
	config.MaxProbes = 5
	config.Cooldown = time.Minute

	cb, clock := newTestBreaker(t, "lifecycle", config)
	ctx := context.Background()

	if cb.State() != StateClosed {
		t.Fatalf("Expected closed breaker, got %s", cb.State())
	}

	for i := 0; i < 3; i++ {
		if err := cb.Execute(ctx, succeed); err != nil {
			t.Errorf("Unexpected error: %v", err)
		}
	}
	for i := 0; i < 3; i++ {
		if err := cb.Execute(ctx, fail); !errors.Is(err, errBoom) {
			t.Errorf("Expected errBoom, got %v", err)
		}
	}
	if cb.State() != StateOpen {
		t.Fatalf("Expected open breaker after 3 failures, got %s", cb.State())
	}

	called := false
	err := cb.Execute(ctx, func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitBreakerOpen) {
		t.Errorf("Expected ErrCircuitBreakerOpen, got %v", err)
	}
	if called {
		t.Error("Open breaker must not invoke the call")
	}
	if !IsBreakerError(err) {
		t.Error("IsBreakerError should recognise the open error")
	}

	clock.advance(time.Minute)
	if cb.State() != StateHalfOpen {
		t.Fatalf("Expected half-open after the cooldown, got %s", cb.State())
	}

	for i := 0; i < 2; i++ {
		if err := cb.Execute(ctx, succeed); err != nil {
			t.Errorf("Probe %d failed: %v", i, err)
		}
	}
	if cb.State() != StateClosed {
		t.Errorf("Expected closed breaker after successful probes, got %s", cb.State())
	}

	s := cb.Stats()
	if s.Admitted != 8 || s.Rejected != 1 || s.Successes != 5 || s.Failures != 3 {
		t.Errorf("Unexpected stats: %+v", s)
	}
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	config := DefaultConfig()
	config.FailureThreshold = 1
	config.Cooldown = time.Second

	cb, clock := newTestBreaker(t, "reopen", config)
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	if cb.State() != StateOpen {
		t.Fatalf("Expected open, got %s", cb.State())
	}

	clock.advance(time.Second)
	_ = cb.Execute(ctx, fail)
	if cb.State() != StateOpen {
		t.Errorf("Half-open failure should reopen, got %s", cb.State())
	}

	clock.advance(500 * time.Millisecond)
	if err := cb.Execute(ctx, succeed); !errors.Is(err, ErrCircuitBreakerOpen) {
		t.Errorf("Reopened breaker should restart its cooldown, got %v", err)
	}
}

func TestCircuitBreakerHalfOpenAdmissionLimit(t *testing.T) {
	config := DefaultConfig()
	config.FailureThreshold = 1
	config.MaxProbes = 1
	config.RecoveryThreshold = 1
	config.Cooldown = time.Second

	cb, clock := newTestBreaker(t, "probes", config)
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	clock.advance(time.Second)

	// A probe that is still running holds the only slot.
	err := cb.Execute(ctx, func() error {
		if err := cb.Execute(ctx, succeed); !errors.Is(err, ErrProbeLimit) {
			t.Errorf("Expected ErrProbeLimit, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Errorf("Probe rejected: %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("Expected closed after the probe succeeded, got %s", cb.State())
	}
}

func TestCircuitBreakerNeutralResults(t *testing.T) {
	config := DefaultConfig()
	config.FailureThreshold = 2
	config.Cooldown = time.Second
	config.Classify = func(err error) Verdict {
		if errors.Is(err, errBoom) {
			return VerdictNeutral
		}
		return DefaultClassifier(err)
	}

	cb, clock := newTestBreaker(t, "neutral", config)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_ = cb.Execute(ctx, fail)
	}
	if cb.State() != StateClosed {
		t.Fatalf("Neutral results must not open the breaker, got %s", cb.State())
	}

	failing := errors.New("connection refused")
	_ = cb.Execute(ctx, func() error { return failing })
	_ = cb.Execute(ctx, func() error { return failing })
	if cb.State() != StateOpen {
		t.Fatalf("Expected open, got %s", cb.State())
	}

	// A neutral probe frees its slot without deciding anything.
	clock.advance(time.Second)
	_ = cb.Execute(ctx, fail)
	if cb.State() != StateHalfOpen {
		t.Errorf("Neutral probe should leave the breaker half-open, got %s", cb.State())
	}
	if err := cb.Execute(ctx, succeed); err != nil {
		t.Errorf("Expected the next probe to be admitted: %v", err)
	}
}

func TestCircuitBreakerCancelledCallerIsNeutral(t *testing.T) {
	config := DefaultConfig()
	config.FailureThreshold = 1

	cb, _ := newTestBreaker(t, "cancel", config)

	_ = cb.Execute(context.Background(), func() error { return context.Canceled })
	if cb.State() != StateClosed {
		t.Errorf("Caller cancellation must not open the breaker, got %s", cb.State())
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	if err := cb.Execute(ctx, func() error { called = true; return nil }); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if called {
		t.Error("A done context must not run the call")
	}
}

func TestCircuitBreakerWindowForgetsStreak(t *testing.T) {
	config := DefaultConfig()
	config.FailureThreshold = 2
	config.Window = time.Minute

	cb, clock := newTestBreaker(t, "window", config)
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	clock.advance(2 * time.Minute)
	_ = cb.Execute(ctx, fail)
	if cb.State() != StateClosed {
		t.Errorf("Failures in different windows must not add up, got %s", cb.State())
	}

	_ = cb.Execute(ctx, fail)
	if cb.State() != StateOpen {
		t.Errorf("Expected open after two failures in one window, got %s", cb.State())
	}
}

func TestCircuitBreakerPanicCountsAsFailure(t *testing.T) {
	config := DefaultConfig()
	config.FailureThreshold = 1
	cb, _ := newTestBreaker(t, "panics", config)

	func() {
		defer func() {
			if recover() == nil {
				t.Error("Expected panic to propagate")
			}
		}()
		_ = cb.Execute(context.Background(), func() error { panic("kaboom") })
	}()

	if cb.State() != StateOpen {
		t.Errorf("Expected open after panic, got %s", cb.State())
	}
}

func TestStateChangeCallback(t *testing.T) {
	var transitions []string
	config := DefaultConfig()
	config.FailureThreshold = 1
	config.RecoveryThreshold = 1
	config.Cooldown = time.Second
	config.OnStateChange = func(name string, from, to State) {
		transitions = append(transitions, from.String()+"->"+to.String())
	}

	cb, clock := newTestBreaker(t, "callback", config)
	_ = cb.Execute(context.Background(), fail)
	clock.advance(time.Second)
	_ = cb.Execute(context.Background(), succeed)

	want := []string{"closed->open", "open->half-open", "half-open->closed"}
	if len(transitions) != len(want) {
		t.Fatalf("Unexpected transitions: %v", transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("Transition %d: expected %s, got %s", i, want[i], transitions[i])
		}
	}
}

func TestSettingsFromEnv(t *testing.T) {
	t.Setenv("CB_TEST_FAILURE_THRESHOLD", "9")
	t.Setenv("CB_TEST_COOLDOWN", "2s")
	t.Setenv("CB_TEST_MAX_PROBES", "not-a-number")

	s := SettingsFromEnv("CB_TEST", Settings{MaxProbes: 4, Cooldown: time.Second, FailureThreshold: 1})
	if s.FailureThreshold != 9 {
		t.Errorf("Expected failure threshold 9, got %d", s.FailureThreshold)
	}
	if s.Cooldown != 2*time.Second {
		t.Errorf("Expected 2s cooldown, got %s", s.Cooldown)
	}
	if s.MaxProbes != 4 {
		t.Errorf("Unparsable value should keep default, got %d", s.MaxProbes)
	}
}
