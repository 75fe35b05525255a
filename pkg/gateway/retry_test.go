package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestRetryTransientSucceedsEventually(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetry(3), "lookup", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return Transient("lookup", fmt.Errorf("rate limited"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	if calls != 3 {
		t.Errorf("Expected 3 attempts, got %d", calls)
	}
}

func TestRetryNonTransientReturnsImmediately(t *testing.T) {
	calls := 0
	permanent := fmt.Errorf("permission denied")
	err := Retry(context.Background(), fastRetry(5), "lookup", func(ctx context.Context) error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("Expected the original error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Non-transient errors must not retry, got %d attempts", calls)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetry(3), "lookup", func(ctx context.Context) error {
		calls++
		return Transient("lookup", fmt.Errorf("still down"))
	})
	if err == nil {
		t.Fatal("Expected failure after exhausting attempts")
	}
	if calls != 3 {
		t.Errorf("Expected 3 attempts, got %d", calls)
	}
	if !strings.Contains(err.Error(), "failed after 3 attempts") {
		t.Errorf("Error should report attempt count, got: %v", err)
	}
	if !IsTransient(err) {
		t.Error("Wrapped error must stay recognizably transient")
	}
}

func TestRetryHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := Retry(ctx, RetryConfig{MaxAttempts: 5, InitialDelay: time.Minute, MaxDelay: time.Minute, Multiplier: 1}, "lookup", func(ctx context.Context) error {
		calls++
		cancel()
		return Transient("lookup", fmt.Errorf("down"))
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected 1 attempt before cancellation, got %d", calls)
	}
}

func TestIsTransient(t *testing.T) {
	base := fmt.Errorf("timeout")
	wrapped := fmt.Errorf("outer: %w", Transient("op", base))

	if !IsTransient(wrapped) {
		t.Error("Transient must be detectable through wrapping")
	}
	if IsTransient(base) {
		t.Error("Plain errors are not transient")
	}
	if !errors.Is(wrapped, base) {
		t.Error("Transient must preserve the wrapped error")
	}
}
