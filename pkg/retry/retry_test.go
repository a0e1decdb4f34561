package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastConfig(attempts int) Config {
	return Config{MaxAttempts: attempts, InitialWait: time.Millisecond, MaxWait: time.Millisecond, Multiplier: 1}
}

func TestDo_SucceedsAfterRetryable(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(3), func(attempt int) error {
		calls++
		if attempt < 3 {
			return Retryable(errors.New("busy"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDo_StopsOnPermanentError(t *testing.T) {
	permanent := errors.New("denied")
	calls := 0
	err := Do(context.Background(), fastConfig(5), func(int) error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("err = %v, want %v", err, permanent)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDo_ExhaustedUnwrapsMarker(t *testing.T) {
	cause := errors.New("sequence mismatch")
	err := Do(context.Background(), Once(), func(int) error {
		return Retryable(cause)
	})
	if err != cause {
		t.Fatalf("err = %#v, want the bare cause", err)
	}
	if IsRetryable(err) {
		t.Error("exhausted error should not carry the retry marker")
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Do(ctx, Config{MaxAttempts: 0, InitialWait: time.Hour, Multiplier: 1}, func(int) error {
		return Retryable(errors.New("busy"))
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestDoWithResult(t *testing.T) {
	got, err := DoWithResult(context.Background(), fastConfig(2), func(attempt int) (string, error) {
		if attempt == 1 {
			return "", Retryable(errors.New("again"))
		}
		return "ok", nil
	})
	if err != nil || got != "ok" {
		t.Fatalf("DoWithResult = %q, %v", got, err)
	}
}

func TestBackoff(t *testing.T) {
	cfg := Config{InitialWait: 10 * time.Millisecond, MaxWait: 25 * time.Millisecond, Multiplier: 2}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 10 * time.Millisecond},
		{2, 20 * time.Millisecond},
		{3, 25 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := Backoff(cfg, tt.attempt); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}
