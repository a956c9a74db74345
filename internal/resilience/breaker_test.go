package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errTest = errors.New("audit store unavailable")

func failing() error { return errTest }
func ok() error      { return nil }

func TestClosedStateAllowsCalls(t *testing.T) {
	b := NewBreaker(3, time.Second)
	called := false
	err := b.Execute(func() error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !called {
		t.Fatal("expected fn to be called")
	}
	if b.State() != Closed {
		t.Fatalf("expected closed, got %s", b.State())
	}
}

func TestOpensAfterMaxFailures(t *testing.T) {
	b := NewBreaker(3, time.Second)

	for range 3 {
		_ = b.Execute(failing)
	}

	err := b.Execute(ok)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestHalfOpenProbe(t *testing.T) {
	tests := []struct {
		name  string
		probe func() error
		want  State
	}{
		{name: "success closes", probe: ok, want: Closed},
		{name: "failure reopens", probe: failing, want: Open},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			now := time.Now()
			b := NewBreaker(2, time.Second)
			b.now = func() time.Time { return now }

			for range 2 {
				_ = b.Execute(failing)
			}
			if err := b.Execute(ok); !errors.Is(err, ErrCircuitOpen) {
				t.Fatalf("expected ErrCircuitOpen, got %v", err)
			}

			now = now.Add(2 * time.Second)
			_ = b.Execute(tt.probe)
			if got := b.State(); got != tt.want {
				t.Fatalf("expected %s after probe, got %s", tt.want, got)
			}
		})
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker(3, time.Second)

	_ = b.Execute(failing)
	_ = b.Execute(failing)
	_ = b.Execute(ok)
	_ = b.Execute(failing)
	_ = b.Execute(failing)

	if b.State() != Closed {
		t.Fatalf("expected closed after reset, got %s", b.State())
	}
}

func TestCancelledContextIsNotAFailure(t *testing.T) {
	b := NewBreaker(1, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.Do(ctx, func(ctx context.Context) error { return ctx.Err() })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if b.State() != Closed {
		t.Fatalf("expected closed, got %s", b.State())
	}
}

func TestCountIfAndStateChanges(t *testing.T) {
	errIgnored := errors.New("validation")
	var transitions []State
	b := NewBreaker(1, time.Minute,
		CountIf(func(err error) bool { return !errors.Is(err, errIgnored) }),
		OnStateChange(func(_, to State) { transitions = append(transitions, to) }),
	)

	_ = b.Execute(func() error { return errIgnored })
	if b.State() != Closed {
		t.Fatalf("ignored error must not trip, got %s", b.State())
	}

	_ = b.Execute(failing)
	if len(transitions) != 1 || transitions[0] != Open {
		t.Fatalf("expected [open], got %v", transitions)
	}
}
