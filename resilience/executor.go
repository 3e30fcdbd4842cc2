package resilience

import (
	"context"
	"time"
)

// Op is an operation run by the resilience patterns.
type Op func(context.Context) error

// Executor composes multiple resilience patterns around command bodies.
//
// Contract:
// - Concurrency: safe for concurrent use once constructed.
// - Errors: the operation's own error is returned unchanged; pattern
// rejections are returned as the package sentinels.
type Executor struct {
	circuitBreaker *CircuitBreaker
	breakers       *CircuitBreakerGroup
	retry          *Retry
	rateLimiter    *RateLimiter
	bulkhead       *Bulkhead
	timeout        *Timeout
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// NewExecutor creates a new resilience executor. With no options it runs
// operations directly.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WithCircuitBreaker adds a circuit breaker shared by every command.
func WithCircuitBreaker(cb *CircuitBreaker) ExecutorOption {
	return func(e *Executor) {
		e.circuitBreaker = cb
	}
}

// WithCircuitBreakerGroup gives every command its own circuit breaker.
// It takes precedence over WithCircuitBreaker for ExecuteCommand.
func WithCircuitBreakerGroup(g *CircuitBreakerGroup) ExecutorOption {
	return func(e *Executor) {
		e.breakers = g
	}
}

// WithRetry adds retry logic to the executor.
func WithRetry(r *Retry) ExecutorOption {
	return func(e *Executor) {
		e.retry = r
	}
}

// WithRateLimiter adds rate limiting to the executor.
func WithRateLimiter(rl *RateLimiter) ExecutorOption {
	return func(e *Executor) {
		e.rateLimiter = rl
	}
}

// WithBulkhead adds bulkhead isolation to the executor.
func WithBulkhead(b *Bulkhead) ExecutorOption {
	return func(e *Executor) {
		e.bulkhead = b
	}
}

// WithTimeout adds timeout to the executor.
func WithTimeout(timeout time.Duration) ExecutorOption {
	return func(e *Executor) {
		e.timeout = NewTimeout(TimeoutConfig{Timeout: timeout})
	}
}

// WithTimeoutConfig adds timeout with custom config to the executor.
func WithTimeoutConfig(t *Timeout) ExecutorOption {
	return func(e *Executor) {
		e.timeout = t
	}
}

// Execute runs the operation through all configured resilience patterns.
func (e *Executor) Execute(ctx context.Context, op func(context.Context) error) error {
	return e.ExecuteCommand(ctx, "", op)
}

// ExecuteCommand runs the body of the named command through all configured
// resilience patterns.
//
// The execution order is:
// 1. Rate Limiter (if configured) - per command when PerCommand is set
// 2. Bulkhead (if configured) - limits concurrency
// 3. Circuit Breaker (if configured) - per command when a group is set
// 4. Retry (if configured) - retries on failure
// 5. Timeout (if configured) - limits each attempt
func (e *Executor) ExecuteCommand(ctx context.Context, command string, op func(context.Context) error) error {
	if e == nil {
		return op(ctx)
	}

	execute := Op(op)

	// Innermost first.
	if e.timeout != nil {
		execute = wrap(execute, e.timeout.Execute)
	}
	if e.retry != nil {
		execute = wrap(execute, e.retry.Execute)
	}
	switch {
	case e.breakers != nil:
		cb := e.breakers.Get(command)
		execute = wrap(execute, cb.Execute)
	case e.circuitBreaker != nil:
		execute = wrap(execute, e.circuitBreaker.Execute)
	}
	if e.bulkhead != nil {
		execute = wrap(execute, e.bulkhead.Execute)
	}
	if e.rateLimiter != nil {
		limited := execute
		execute = func(ctx context.Context) error {
			return e.rateLimiter.ExecuteCommand(ctx, command, limited)
		}
	}

	return execute(ctx)
}

func wrap(inner Op, pattern func(context.Context, func(context.Context) error) error) Op {
	return func(ctx context.Context) error {
		return pattern(ctx, inner)
	}
}
