package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastPolicy() Policy {
	return Policy{MaxAttempts: 3, Delay: time.Millisecond, BackoffFactor: 2.0, MaxDelay: 10 * time.Millisecond}
}

func TestDoSucceedsAfterFailures(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), "flaky", fastPolicy(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	wantErr := errors.New("still broken")
	attempts := 0
	err := Do(context.Background(), "broken", fastPolicy(), func(ctx context.Context) error {
		attempts++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("Do() error = %v, want %v", err, wantErr)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestDoHonorsRateLimitReset(t *testing.T) {
	attempts := 0
	start := time.Now()
	err := Do(context.Background(), "ratelimited", fastPolicy(), func(ctx context.Context) error {
		attempts++
		if attempts == 1 {
			return &RateLimitError{ResetAfter: 5 * time.Millisecond}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < 5*time.Millisecond {
		t.Errorf("Do() returned after %v, want at least the reset wait", elapsed)
	}
}

func TestDoClampsRateLimitResetToMaxDelay(t *testing.T) {
	policy := fastPolicy()
	attempts := 0
	start := time.Now()
	err := Do(context.Background(), "ratelimited", policy, func(ctx context.Context) error {
		attempts++
		if attempts == 1 {
			return &RateLimitError{ResetAfter: time.Hour}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Do() waited %v, reset hint should be clamped to MaxDelay", elapsed)
	}
}

func TestDoStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	policy := Policy{MaxAttempts: 5, Delay: time.Minute, BackoffFactor: 1.0, MaxDelay: time.Minute}
	errCh := make(chan error, 1)
	go func() {
		errCh <- Do(ctx, "cancelled", policy, func(ctx context.Context) error {
			attempts++
			return errors.New("transient")
		})
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Do() error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Do() did not return after cancellation")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestDoZeroPolicyUsesDefault(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), "default", Policy{}, func(ctx context.Context) error {
		attempts++
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}
