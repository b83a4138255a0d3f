package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fail(_ context.Context) (int, error) { return 0, errors.New("boom") }
func succeed(_ context.Context) (int, error) { return 1, nil }

func newTestBreaker(threshold int) (*Breaker, *time.Time) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewBreaker(BreakerConfig{Name: "test", FailureThreshold: threshold, ResetTimeout: time.Minute})
	b.nowFunc = func() time.Time { return now }
	return b, &now
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(3)
	ctx := context.Background()

	for range 3 {
		_, _ = Call(ctx, b, fail)
	}
	if b.State() != Open {
		t.Fatalf("expected open, got %s", b.State())
	}

	called := false
	_, err := Call(ctx, b, func(_ context.Context) (int, error) {
		called = true
		return 0, nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Error("fn must not run while open")
	}
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	b, _ := newTestBreaker(3)
	ctx := context.Background()

	_, _ = Call(ctx, b, fail)
	_, _ = Call(ctx, b, fail)
	_, _ = Call(ctx, b, succeed)
	_, _ = Call(ctx, b, fail)
	_, _ = Call(ctx, b, fail)

	if b.State() != Closed {
		t.Errorf("expected closed, got %s", b.State())
	}
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	b, now := newTestBreaker(1)
	ctx := context.Background()

	_, _ = Call(ctx, b, fail)
	if b.State() != Open {
		t.Fatalf("expected open, got %s", b.State())
	}

	*now = now.Add(2 * time.Minute)
	if b.State() != HalfOpen {
		t.Fatalf("expected half-open after reset timeout, got %s", b.State())
	}

	// Failed probe reopens.
	_, _ = Call(ctx, b, fail)
	if b.State() != Open {
		t.Fatalf("expected open after failed probe, got %s", b.State())
	}

	*now = now.Add(2 * time.Minute)
	if _, err := Call(ctx, b, succeed); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.State() != Closed {
		t.Errorf("expected closed after successful probe, got %s", b.State())
	}
}

func TestBreaker_CancellationDoesNotCount(t *testing.T) {
	b, _ := newTestBreaker(1)

	_, _ = Call(context.Background(), b, func(_ context.Context) (int, error) {
		return 0, context.Canceled
	})
	if b.State() != Closed {
		t.Errorf("expected closed, got %s", b.State())
	}
}

func TestBreakerFrom(t *testing.T) {
	cfg := BreakerFrom("anthropic", 0, 10)
	if cfg.FailureThreshold != 5 {
		t.Errorf("FailureThreshold = %d, want 5", cfg.FailureThreshold)
	}
	if cfg.ResetTimeout != 10*time.Second {
		t.Errorf("ResetTimeout = %v, want 10s", cfg.ResetTimeout)
	}
}

func TestState_String(t *testing.T) {
	for s, want := range map[State]string{Closed: "closed", Open: "open", HalfOpen: "half-open", State(9): "unknown"} {
		if s.String() != want {
			t.Errorf("%d.String() = %q, want %q", s, s.String(), want)
		}
	}
}
