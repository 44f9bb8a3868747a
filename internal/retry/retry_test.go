package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoSucceedsWithoutRetry(t *testing.T) {
	calls := 0
	err := Roblox().Do(context.Background(), Always, func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one call, got %d", calls)
	}
}

func TestDoStopsOnNonRetryableError(t *testing.T) {
	sentinel := errors.New("semantic error")
	calls := 0
	err := Roblox().Do(context.Background(), func(error) bool { return false }, func() error {
		calls++
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error returned immediately, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected no retries for a non-retryable error, got %d calls", calls)
	}
}

func TestDoExhaustsBoundedAttempts(t *testing.T) {
	sentinel := errors.New("always fails")
	calls := 0
	p := Policy{min: time.Millisecond, max: 2 * time.Millisecond, maxTimes: 4}
	err := p.Do(context.Background(), Always, func() error {
		calls++
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error after exhausting attempts, got %v", err)
	}
	if calls != 4 {
		t.Fatalf("expected exactly maxTimes=4 calls, got %d", calls)
	}
}

func TestDoHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := Policy{min: time.Second, max: time.Second, maxTimes: 5}
	calls := 0
	err := p.Do(ctx, Always, func() error {
		calls++
		return errors.New("fail")
	})
	if err == nil {
		t.Fatalf("expected an error from a cancelled context")
	}
	if calls != 1 {
		t.Fatalf("expected exactly one attempt before the cancellation is observed, got %d", calls)
	}
}

func TestInfiniteEventuallySucceeds(t *testing.T) {
	p := Infinite()
	attempts := 0
	err := p.Do(context.Background(), Always, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestFibonacciDelayClampsToMax(t *testing.T) {
	min, max := time.Millisecond, 10*time.Millisecond
	for attempt := 0; attempt < 20; attempt++ {
		d := fibonacciDelay(attempt, min, max)
		if d > max {
			t.Fatalf("attempt %d: delay %v exceeded max %v", attempt, d, max)
		}
	}
}
