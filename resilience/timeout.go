package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// TimeoutConfig configures the timeout wrapper.
type TimeoutConfig struct {
	// Timeout bounds a single attempt.
	// Default: 30 seconds
	Timeout time.Duration

	// OnTimeout is called when an attempt is abandoned.
	OnTimeout func(limit time.Duration)
}

// Timeout bounds how long an operation may run.
type Timeout struct {
	config TimeoutConfig
}

// NewTimeout creates a new timeout wrapper.
func NewTimeout(config TimeoutConfig) *Timeout {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	return &Timeout{config: config}
}

// Execute runs op under a deadline whose cause is ErrTimeout, so op can tell
// a timeout from a cancelled request with context.Cause. When the deadline
// passes first, Execute returns without waiting; op keeps running in its
// goroutine and its result is discarded.
func (t *Timeout) Execute(ctx context.Context, op func(context.Context) error) error {
	ctx, cancel := context.WithTimeoutCause(ctx, t.config.Timeout, ErrTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- op(ctx) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
	}

	if !errors.Is(context.Cause(ctx), ErrTimeout) {
		return ctx.Err()
	}
	if t.config.OnTimeout != nil {
		t.config.OnTimeout(t.config.Timeout)
	}
	return fmt.Errorf("%w after %s", ErrTimeout, t.config.Timeout)
}

// Config returns the timeout configuration.
func (t *Timeout) Config() TimeoutConfig {
	return t.config
}
