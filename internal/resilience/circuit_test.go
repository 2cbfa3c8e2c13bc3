package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	var transitions []CircuitState
	b := NewBreaker(BreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     time.Minute,
		OnStateChange:    func(_, to CircuitState) { transitions = append(transitions, to) },
	})
	fail := func(context.Context) error { return errors.New("fail") }

	_ = b.Execute(context.Background(), fail)
	if b.State() != CircuitClosed {
		t.Fatalf("expected closed after one failure, got %s", b.State())
	}
	_ = b.Execute(context.Background(), fail)
	if b.State() != CircuitOpen {
		t.Fatalf("expected open, got %s", b.State())
	}

	called := false
	err := b.Execute(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) || called {
		t.Fatalf("expected rejection, got %v (called=%v)", err, called)
	}
	if len(transitions) != 1 || transitions[0] != CircuitOpen {
		t.Errorf("unexpected transitions %v", transitions)
	}
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	now := time.Unix(0, 0)
	b := NewBreaker(BreakerConfig{FailureThreshold: 1, ResetTimeout: 10 * time.Second})
	b.now = func() time.Time { return now }

	_ = b.Execute(context.Background(), func(context.Context) error { return errors.New("fail") })
	if b.State() != CircuitOpen {
		t.Fatalf("expected open, got %s", b.State())
	}

	now = now.Add(11 * time.Second)
	if b.State() != CircuitHalfOpen {
		t.Fatalf("expected half-open, got %s", b.State())
	}

	v, err := Call(context.Background(), b, func(context.Context) (int, error) { return 7, nil })
	if err != nil || v != 7 {
		t.Fatalf("probe failed: %d, %v", v, err)
	}
	if b.State() != CircuitClosed {
		t.Fatalf("expected closed after probe, got %s", b.State())
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Unix(0, 0)
	b := NewBreaker(BreakerConfig{FailureThreshold: 1, ResetTimeout: 10 * time.Second})
	b.now = func() time.Time { return now }
	fail := func(context.Context) error { return errors.New("fail") }

	_ = b.Execute(context.Background(), fail)
	now = now.Add(11 * time.Second)
	_ = b.Execute(context.Background(), fail)
	if b.State() != CircuitOpen {
		t.Fatalf("expected reopen, got %s", b.State())
	}
}

func TestBreaker_ShouldTripFilters(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 1, ShouldTrip: IsTransient})
	_ = b.Execute(context.Background(), func(context.Context) error { return errors.New("bad input") })
	if b.State() != CircuitClosed {
		t.Fatalf("permanent errors should not trip, got %s", b.State())
	}
	_ = b.Execute(context.Background(), func(context.Context) error {
		return NewTransientError(errors.New("503"), 503)
	})
	if b.State() != CircuitOpen {
		t.Fatalf("expected open, got %s", b.State())
	}
}

func TestCircuitState_String(t *testing.T) {
	if CircuitHalfOpen.String() != "half-open" || CircuitState(9).String() != "unknown" {
		t.Error("unexpected state names")
	}
}
