package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed means the circuit is operating normally.
	StateClosed State = iota
	// StateOpen means the circuit is blocking all requests.
	StateOpen
	// StateHalfOpen means the circuit is testing if the service recovered.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures the circuit breaker.
type CircuitBreakerConfig struct {
	// Name identifies the breaker in rejections and state-change callbacks.
	// CircuitBreakerGroup sets it to the command ID.
	Name string

	// MaxFailures is the number of consecutive failures that opens the circuit.
	// Default: 5
	MaxFailures int

	// ResetTimeout is how long the circuit stays open before probing.
	// Default: 30 seconds
	ResetTimeout time.Duration

	// HalfOpenMaxRequests is the number of probes admitted while half-open.
	// The circuit closes once that many probes succeed in a row.
	// Default: 1
	HalfOpenMaxRequests int

	// OnStateChange is called after the state changes, outside the
	// breaker's lock.
	OnStateChange func(name string, from, to State)

	// IsFailure determines if an error should count as a failure.
	// Default: non-nil errors not marked Permanent.
	IsFailure func(err error) bool
}

type transition struct{ from, to State }

// CircuitBreaker stops calling a command that keeps failing until it has
// had time to recover.
type CircuitBreaker struct {
	config CircuitBreakerConfig

	mu          sync.Mutex
	state       State
	failures    int // consecutive, while closed
	successes   int // consecutive probes, while half-open
	probes      int // admitted, while half-open
	lastFailure time.Time
}

// NewCircuitBreaker creates a new circuit breaker.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.MaxFailures <= 0 {
		config.MaxFailures = 5
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = 30 * time.Second
	}
	if config.HalfOpenMaxRequests <= 0 {
		config.HalfOpenMaxRequests = 1
	}
	if config.IsFailure == nil {
		config.IsFailure = func(err error) bool { return err != nil && !IsPermanent(err) }
	}
	return &CircuitBreaker{config: config, state: StateClosed}
}

// Execute runs op unless the circuit is open, then records its outcome.
func (cb *CircuitBreaker) Execute(ctx context.Context, op func(context.Context) error) error {
	if err := cb.admit(); err != nil {
		return err
	}
	err := op(ctx)
	cb.record(err)
	return err
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	changed := cb.refreshLocked()
	state := cb.state
	cb.mu.Unlock()

	cb.notify(changed)
	return state
}

// Reset closes the circuit and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	changed := cb.moveLocked(StateClosed)
	cb.failures = 0
	cb.mu.Unlock()

	cb.notify(changed)
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	changed := cb.refreshLocked()
	var err error
	switch cb.state {
	case StateOpen:
		err = cb.rejection()
	case StateHalfOpen:
		if cb.probes >= cb.config.HalfOpenMaxRequests {
			err = cb.rejection()
		} else {
			cb.probes++
		}
	}
	cb.mu.Unlock()

	cb.notify(changed)
	return err
}

func (cb *CircuitBreaker) record(err error) {
	failed := cb.config.IsFailure(err)

	cb.mu.Lock()
	var changed []transition
	switch {
	case cb.state == StateClosed && failed:
		cb.failures++
		cb.lastFailure = time.Now()
		if cb.failures >= cb.config.MaxFailures {
			changed = cb.moveLocked(StateOpen)
		}
	case cb.state == StateClosed:
		cb.failures = 0
	case cb.state == StateHalfOpen && failed:
		cb.lastFailure = time.Now()
		changed = cb.moveLocked(StateOpen)
	case cb.state == StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.config.HalfOpenMaxRequests {
			changed = cb.moveLocked(StateClosed)
		}
	}
	cb.mu.Unlock()

	cb.notify(changed)
}

// refreshLocked moves an open circuit to half-open once ResetTimeout has
// passed since the last failure.
func (cb *CircuitBreaker) refreshLocked() []transition {
	if cb.state == StateOpen && time.Since(cb.lastFailure) >= cb.config.ResetTimeout {
		return cb.moveLocked(StateHalfOpen)
	}
	return nil
}

func (cb *CircuitBreaker) moveLocked(to State) []transition {
	from := cb.state
	if from == to {
		return nil
	}
	cb.state = to
	cb.probes, cb.successes = 0, 0
	if to == StateClosed {
		cb.failures = 0
	}
	return []transition{{from: from, to: to}}
}

func (cb *CircuitBreaker) notify(changed []transition) {
	if cb.config.OnStateChange == nil {
		return
	}
	for _, t := range changed {
		cb.config.OnStateChange(cb.config.Name, t.from, t.to)
	}
}

func (cb *CircuitBreaker) rejection() error {
	if cb.config.Name == "" {
		return ErrCircuitOpen
	}
	return fmt.Errorf("%w: %s", ErrCircuitOpen, cb.config.Name)
}

// Metrics returns current circuit breaker metrics.
func (cb *CircuitBreaker) Metrics() CircuitBreakerMetrics {
	cb.mu.Lock()
	changed := cb.refreshLocked()
	m := CircuitBreakerMetrics{
		State:       cb.state,
		Failures:    cb.failures,
		Successes:   cb.successes,
		LastFailure: cb.lastFailure,
	}
	cb.mu.Unlock()

	cb.notify(changed)
	return m
}

// CircuitBreakerMetrics contains circuit breaker statistics.
type CircuitBreakerMetrics struct {
	State       State
	Failures    int
	Successes   int
	LastFailure time.Time
}

// CircuitBreakerGroup holds one circuit breaker per command, created on first
// use from a shared configuration. A failing command opens only its own
// circuit.
type CircuitBreakerGroup struct {
	config CircuitBreakerConfig

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewCircuitBreakerGroup creates an empty group. Each breaker is created
// from config with Name set to its command, so a shared OnStateChange can
// tell the commands apart.
func NewCircuitBreakerGroup(config CircuitBreakerConfig) *CircuitBreakerGroup {
	return &CircuitBreakerGroup{
		config:   config,
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Get returns the breaker for command, creating it if needed.
func (g *CircuitBreakerGroup) Get(command string) *CircuitBreaker {
	g.mu.Lock()
	defer g.mu.Unlock()

	cb, ok := g.breakers[command]
	if !ok {
		config := g.config
		config.Name = command
		cb = NewCircuitBreaker(config)
		g.breakers[command] = cb
	}
	return cb
}

// Execute runs op through command's breaker.
func (g *CircuitBreakerGroup) Execute(ctx context.Context, command string, op func(context.Context) error) error {
	return g.Get(command).Execute(ctx, op)
}

// States returns the current state of every breaker in the group.
func (g *CircuitBreakerGroup) States() map[string]State {
	g.mu.Lock()
	breakers := make(map[string]*CircuitBreaker, len(g.breakers))
	for k, cb := range g.breakers {
		breakers[k] = cb
	}
	g.mu.Unlock()

	out := make(map[string]State, len(breakers))
	for k, cb := range breakers {
		out[k] = cb.State()
	}
	return out
}

// Reset closes every circuit in the group.
func (g *CircuitBreakerGroup) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, cb := range g.breakers {
		cb.Reset()
	}
}
