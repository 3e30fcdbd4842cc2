package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNewRateLimiter_Defaults(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{})

	if rl.config.Rate != 100 {
		t.Errorf("Rate = %v, want 100", rl.config.Rate)
	}
	if rl.config.Burst != 10 {
		t.Errorf("Burst = %d, want 10", rl.config.Burst)
	}
	if rl.config.MaxWait != time.Second {
		t.Errorf("MaxWait = %v, want 1s", rl.config.MaxWait)
	}
	if got := rl.Tokens(); got < 9.99 {
		t.Errorf("Tokens() = %v, want a full bucket", got)
	}
}

func TestRateLimiter_AllowUpToBurst(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Rate: 1, Burst: 3})

	for i := 0; i < 3; i++ {
		if !rl.Allow() {
			t.Fatalf("Allow() #%d = false, want true", i+1)
		}
	}
	if rl.Allow() {
		t.Error("Allow() beyond burst = true, want false")
	}
}

func TestRateLimiter_AllowN(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Rate: 1, Burst: 5})

	if !rl.AllowN(4) {
		t.Fatal("AllowN(4) = false, want true")
	}
	if rl.AllowN(2) {
		t.Error("AllowN(2) with one token left = true, want false")
	}
}

func TestRateLimiter_Refill(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Rate: 100, Burst: 1})

	if !rl.Allow() {
		t.Fatal("first Allow() = false")
	}
	if rl.Allow() {
		t.Fatal("second Allow() = true, want false")
	}
	time.Sleep(20 * time.Millisecond)
	if !rl.Allow() {
		t.Error("Allow() after refill = false, want true")
	}
}

func TestRateLimiter_Execute(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Rate: 1, Burst: 1})
	ctx := context.Background()

	if err := rl.Execute(ctx, succeeding); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	err := rl.Execute(ctx, func(context.Context) error {
		t.Error("operation must not run when limited")
		return nil
	})
	if !errors.Is(err, ErrRateLimitExceeded) {
		t.Errorf("Execute() error = %v, want ErrRateLimitExceeded", err)
	}
}

func TestRateLimiter_WaitOnLimit(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Rate: 100, Burst: 1, WaitOnLimit: true, MaxWait: time.Second})
	ctx := context.Background()

	_ = rl.Execute(ctx, succeeding)
	start := time.Now()
	if err := rl.Execute(ctx, succeeding); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < 5*time.Millisecond {
		t.Errorf("Execute() returned after %v, want it to wait for a token", elapsed)
	}
}

func TestRateLimiter_WaitExceedsMaxWait(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Rate: 0.1, Burst: 1, MaxWait: 20 * time.Millisecond})
	ctx := context.Background()

	if err := rl.Wait(ctx); err != nil {
		t.Fatalf("first Wait() error = %v", err)
	}
	if err := rl.Wait(ctx); !errors.Is(err, ErrRateLimitExceeded) {
		t.Errorf("Wait() error = %v, want ErrRateLimitExceeded", err)
	}
}

func TestRateLimiter_WaitCancelledContext(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Rate: 1, Burst: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := rl.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait() error = %v, want context.Canceled", err)
	}
}

func TestRateLimiter_Reset(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Rate: 0.1, Burst: 2})
	rl.AllowN(2)
	if rl.Allow() {
		t.Fatal("Allow() on empty bucket = true")
	}

	rl.Reset()

	if !rl.AllowN(2) {
		t.Error("AllowN(2) after Reset() = false, want a full bucket")
	}
}

func TestRateLimiter_PerCommandBuckets(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Rate: 1, Burst: 1, PerCommand: true})
	ctx := context.Background()

	if err := rl.ExecuteCommand(ctx, "users.getUserById", succeeding); err != nil {
		t.Fatalf("first call error = %v", err)
	}
	err := rl.ExecuteCommand(ctx, "users.getUserById", succeeding)
	if !errors.Is(err, ErrRateLimitExceeded) {
		t.Fatalf("second call error = %v, want ErrRateLimitExceeded", err)
	}
	if got := err.Error(); got != "resilience: rate limit exceeded: users.getUserById" {
		t.Errorf("Error() = %q", got)
	}
	if err := rl.ExecuteCommand(ctx, "users.getUserByEmail", succeeding); err != nil {
		t.Errorf("other command error = %v, want its own bucket", err)
	}

	rl.Reset()
	if err := rl.ExecuteCommand(ctx, "users.getUserById", succeeding); err != nil {
		t.Errorf("call after Reset() error = %v", err)
	}
}

func TestRateLimiter_SharedBucketByDefault(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Rate: 1, Burst: 1})
	ctx := context.Background()

	if err := rl.ExecuteCommand(ctx, "a", succeeding); err != nil {
		t.Fatalf("first call error = %v", err)
	}
	if err := rl.ExecuteCommand(ctx, "b", succeeding); !errors.Is(err, ErrRateLimitExceeded) {
		t.Errorf("second command error = %v, want the shared bucket to be empty", err)
	}
}
