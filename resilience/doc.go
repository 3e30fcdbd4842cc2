// Package resilience provides resilience patterns for command execution.
//
// The patterns guard the body of a command, the part that reaches a database
// or a remote service. They can be used on their own or composed by an
// Executor.
//
// # Patterns
//
//   - Circuit Breaker: stops calling a failing dependency after a threshold
//     is reached. CircuitBreakerGroup keeps one breaker per command.
//
//   - Retry: retries failed operations with exponential, linear or constant
//     backoff. Errors marked with Permanent are never retried.
//
//   - Rate Limiter: token bucket built on golang.org/x/time/rate.
//
//   - Bulkhead: limits concurrent operations with a weighted semaphore.
//
//   - Timeout: bounds each attempt.
//
// # Usage
//
//	executor := resilience.NewExecutor(
//	    resilience.WithCircuitBreakerGroup(resilience.NewCircuitBreakerGroup(
//	        resilience.CircuitBreakerConfig{MaxFailures: 5, ResetTimeout: time.Minute},
//	    )),
//	    resilience.WithRetry(resilience.NewRetry(resilience.RetryConfig{MaxAttempts: 3})),
//	    resilience.WithTimeout(5*time.Second),
//	)
//
//	err := executor.ExecuteCommand(ctx, "users.getUserById", func(ctx context.Context) error {
//	    return db.WithContext(ctx).First(&user, id).Error
//	})
package resilience
