package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoSucceedsAfterRetries(t *testing.T) {
	t.Parallel()

	policy := Policy{MaxAttempts: 4, InitialDelay: time.Millisecond}
	calls := 0
	err := policy.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("unexpected call count: %d", calls)
	}
}

func TestDoExhaustsBudget(t *testing.T) {
	t.Parallel()

	policy := Policy{MaxAttempts: 3, InitialDelay: time.Millisecond}
	calls := 0
	wantErr := errors.New("still down")
	err := policy.Do(context.Background(), func() error {
		calls++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected last error, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("unexpected call count: %d", calls)
	}
}

func TestDoStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	policy := Policy{MaxAttempts: 100, InitialDelay: 10 * time.Millisecond}
	calls := 0
	err := policy.Do(ctx, func() error {
		calls++
		cancel()
		return errors.New("down")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("cancellation must stop further attempts, got %d calls", calls)
	}
}

func TestDoZeroAttemptsRunsOnce(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Policy{}.Do(context.Background(), func() error {
		calls++
		return nil
	})
	if err != nil || calls != 1 {
		t.Fatalf("zero-valued policy must run exactly once: err=%v calls=%d", err, calls)
	}
}
