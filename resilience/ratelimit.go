package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiterConfig configures the rate limiter.
type RateLimiterConfig struct {
	// Rate is the number of operations allowed per second.
	// Default: 100
	Rate float64

	// Burst is the maximum burst size.
	// Default: 10
	Burst int

	// WaitOnLimit waits for a token instead of returning error.
	// Default: false
	WaitOnLimit bool

	// MaxWait is the maximum time to wait for a token.
	// Default: 1 second
	MaxWait time.Duration

	// PerCommand gives every command its own bucket in ExecuteCommand, so
	// one busy command cannot starve the others. Operations run without a
	// command name share one bucket.
	PerCommand bool
}

// RateLimiter is a token bucket rate limiter backed by golang.org/x/time/rate.
type RateLimiter struct {
	config RateLimiterConfig

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// NewRateLimiter creates a new rate limiter. Buckets start full.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.Rate <= 0 {
		config.Rate = 100
	}
	if config.Burst <= 0 {
		config.Burst = 10
	}
	if config.MaxWait <= 0 {
		config.MaxWait = time.Second
	}
	return &RateLimiter{config: config, buckets: make(map[string]*rate.Limiter)}
}

// bucket returns the limiter for command, creating it on first use.
func (rl *RateLimiter) bucket(command string) *rate.Limiter {
	if !rl.config.PerCommand {
		command = ""
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	b, ok := rl.buckets[command]
	if !ok {
		b = rate.NewLimiter(rate.Limit(rl.config.Rate), rl.config.Burst)
		rl.buckets[command] = b
	}
	return b
}

// Allow reports whether one operation may run now.
func (rl *RateLimiter) Allow() bool {
	return rl.AllowN(1)
}

// AllowN reports whether n operations may run now.
func (rl *RateLimiter) AllowN(n int) bool {
	return rl.bucket("").AllowN(time.Now(), n)
}

// Wait blocks until a token is available or context is cancelled.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	return rl.WaitN(ctx, 1)
}

// WaitN blocks until n tokens are available. It gives up with
// ErrRateLimitExceeded when the tokens cannot be had within MaxWait.
func (rl *RateLimiter) WaitN(ctx context.Context, n int) error {
	return rl.wait(ctx, rl.bucket(""), n)
}

func (rl *RateLimiter) wait(ctx context.Context, b *rate.Limiter, n int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	waitCtx, cancel := context.WithTimeout(ctx, rl.config.MaxWait)
	defer cancel()

	if err := b.WaitN(waitCtx, n); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return errors.Join(ErrRateLimitExceeded, err)
	}
	return nil
}

// Execute runs op if the shared bucket allows it.
func (rl *RateLimiter) Execute(ctx context.Context, op func(context.Context) error) error {
	return rl.ExecuteCommand(ctx, "", op)
}

// ExecuteCommand runs op if command's bucket allows it.
func (rl *RateLimiter) ExecuteCommand(ctx context.Context, command string, op func(context.Context) error) error {
	b := rl.bucket(command)
	if rl.config.WaitOnLimit {
		if err := rl.wait(ctx, b, 1); err != nil {
			return err
		}
	} else if !b.Allow() {
		if command == "" || !rl.config.PerCommand {
			return ErrRateLimitExceeded
		}
		return fmt.Errorf("%w: %s", ErrRateLimitExceeded, command)
	}
	return op(ctx)
}

// Tokens returns the tokens left in the shared bucket.
func (rl *RateLimiter) Tokens() float64 {
	return rl.bucket("").Tokens()
}

// Reset refills every bucket.
func (rl *RateLimiter) Reset() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	clear(rl.buckets)
}
