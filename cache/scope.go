package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jonwraymond/reqcache/observe"
)

type contextKey int

const scopeKey contextKey = iota

// Registry tracks the request scopes that are currently active.
//
// Contract:
// - Concurrency: safe for concurrent use.
// - Ownership: each scope belongs to the context returned by Begin and to
// nothing else; End must be called exactly once per successful Begin.
type Registry struct {
	policy Policy
	logger observe.Logger

	mu     sync.Mutex
	active map[string]*Scope
}

// NewRegistry creates a registry whose scopes follow policy.
func NewRegistry(policy Policy, opts ...Option) *Registry {
	r := &Registry{
		policy: policy,
		logger: observe.NopLogger(),
		active: make(map[string]*Scope),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var defaultRegistry = NewRegistry(DefaultPolicy())

// DefaultRegistry returns the process-wide registry used by Begin and Do.
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// Begin starts a request scope in the process-wide registry.
func Begin(ctx context.Context) (context.Context, *Scope, error) {
	return defaultRegistry.Begin(ctx)
}

// End ends a scope in the registry that created it.
func End(s *Scope) error {
	if s == nil {
		return &ContextError{Reason: ErrScopeNotActive}
	}
	return s.registry.End(s)
}

// Do runs fn inside a new scope of the process-wide registry.
func Do(ctx context.Context, fn func(ctx context.Context) error) error {
	return defaultRegistry.Do(ctx, fn)
}

// FromContext returns the active scope carried by ctx, or nil when ctx is
// not inside a request or its scope has ended.
func FromContext(ctx context.Context) *Scope {
	if ctx == nil {
		return nil
	}
	s, _ := ctx.Value(scopeKey).(*Scope)
	if s == nil || s.Ended() {
		return nil
	}
	return s
}

// Begin allocates an empty scope and returns a context carrying it.
// It fails with ErrScopeActive when ctx already carries a live scope:
// requests do not nest.
func (r *Registry) Begin(ctx context.Context) (context.Context, *Scope, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if cur := FromContext(ctx); cur != nil {
		return ctx, nil, &ContextError{Reason: ErrScopeActive, ScopeID: cur.ID()}
	}

	s := newScope(uuid.NewString(), r.policy, r)

	r.mu.Lock()
	r.active[s.id] = s
	r.mu.Unlock()

	r.logger.Debug(ctx, "request scope started", observe.Field{Key: "scope.id", Value: s.id})
	return context.WithValue(ctx, scopeKey, s), s, nil
}

// End discards the scope and every entry in it. A scope can be ended once;
// ending it again fails with ErrScopeNotActive.
func (r *Registry) End(s *Scope) error {
	if s == nil {
		return &ContextError{Reason: ErrScopeNotActive}
	}
	ok, dropped := s.end()
	if !ok {
		return &ContextError{Reason: ErrScopeNotActive, ScopeID: s.id}
	}

	r.mu.Lock()
	delete(r.active, s.id)
	r.mu.Unlock()

	r.logger.Debug(context.Background(), "request scope ended",
		observe.Field{Key: "scope.id", Value: s.id},
		observe.Field{Key: "scope.entries", Value: dropped},
		observe.Field{Key: "duration_ms", Value: float64(time.Since(s.started).Milliseconds())},
	)
	return nil
}

// Do runs fn with a context carrying a new scope and ends the scope when fn
// returns, including when it panics.
func (r *Registry) Do(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	ctx, s, err := r.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if endErr := r.End(s); endErr != nil {
			err = errors.Join(err, endErr)
		}
	}()
	return fn(ctx)
}

// Active returns the number of scopes that have begun and not ended.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// Close ends every scope still active and returns how many there were.
// Scopes found here were leaked by their requests.
func (r *Registry) Close(ctx context.Context) int {
	r.mu.Lock()
	leaked := make([]*Scope, 0, len(r.active))
	for _, s := range r.active {
		leaked = append(leaked, s)
	}
	r.mu.Unlock()

	for _, s := range leaked {
		r.logger.Warn(ctx, "ending leaked request scope", observe.Field{Key: "scope.id", Value: s.id})
		_ = r.End(s)
	}
	return len(leaked)
}
