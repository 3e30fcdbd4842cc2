package command

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/jonwraymond/reqcache/cache"
	"github.com/jonwraymond/reqcache/observe"
	"github.com/jonwraymond/reqcache/resilience"
)

// Runner executes registered commands.
//
// Contract:
//   - Concurrency: safe for concurrent use; registration and calls may overlap.
//   - Context: the request scope is taken from ctx; calls outside a scope are
//     neither cached nor invalidate anything.
//   - Errors: command errors are returned unchanged; resilience rejections
//     are the resilience sentinels; key failures are *cache.CachingError.
type Runner struct {
	executor   *resilience.Executor
	middleware *observe.Middleware
	observer   observe.Observer
	logger     observe.Logger

	mu       sync.RWMutex
	commands map[string]observe.CommandMeta
}

// Option configures a Runner.
type Option func(*Runner)

// WithExecutor runs every command body through e.
func WithExecutor(e *resilience.Executor) Option {
	return func(r *Runner) {
		r.executor = e
	}
}

// WithObserver traces, measures and logs command executions with obs.
func WithObserver(obs observe.Observer) Option {
	return func(r *Runner) {
		r.observer = obs
	}
}

// WithMiddleware sets the observability middleware directly.
// It takes precedence over WithObserver.
func WithMiddleware(m *observe.Middleware) Option {
	return func(r *Runner) {
		r.middleware = m
	}
}

// WithLogger sets the logger for registration and failed-attempt events.
func WithLogger(logger observe.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// NewRunner creates a Runner. Without options commands run directly with no
// telemetry.
func NewRunner(opts ...Option) (*Runner, error) {
	r := &Runner{commands: make(map[string]observe.CommandMeta)}
	for _, opt := range opts {
		opt(r)
	}

	if r.middleware == nil && r.observer != nil {
		mw, err := observe.MiddlewareFromObserver(r.observer)
		if err != nil {
			return nil, fmt.Errorf("command: observer middleware: %w", err)
		}
		r.middleware = mw
	}
	if r.middleware == nil {
		r.middleware = observe.NewMiddleware(nil, nil, r.logger)
	}
	if r.logger == nil {
		r.logger = r.middleware.Logger()
	}
	if r.executor == nil {
		r.executor = resilience.NewExecutor()
	}
	return r, nil
}

// Commands returns the ids of all registered commands, sorted.
func (r *Runner) Commands() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.commands))
	for id := range r.commands {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Lookup returns the metadata of a registered command.
func (r *Runner) Lookup(id string) (observe.CommandMeta, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	meta, ok := r.commands[id]
	return meta, ok
}

func (r *Runner) register(meta observe.CommandMeta) error {
	if err := meta.Validate(); err != nil {
		return err
	}
	id := meta.CommandID()
	if err := cache.ValidateCommand(id); err != nil {
		return fmt.Errorf("%w: %q", err, id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.commands[id]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateCommand, id)
	}
	r.commands[id] = meta

	r.logger.WithCommand(meta).Debug(context.Background(), "command registered")
	return nil
}

// run executes fn once through the observability middleware and the
// resilience executor.
func run[T any](ctx context.Context, r *Runner, meta observe.CommandMeta, args cache.Args, fn func(context.Context, cache.Args) (T, error)) (T, error) {
	var (
		mu  sync.Mutex
		out T
	)
	body := func(ctx context.Context, cmd observe.CommandMeta, _ any) (any, error) {
		err := r.executor.ExecuteCommand(ctx, cmd.CommandID(), func(ctx context.Context) error {
			v, err := fn(ctx, args)
			if err != nil {
				if n := resilience.AttemptFromContext(ctx); n > 0 {
					r.logger.WithCommand(cmd).Debug(ctx, "command attempt failed",
						observe.Field{Key: "attempt", Value: n},
						observe.Field{Key: "error", Value: err.Error()})
				}
				return err
			}
			// An attempt abandoned by a timeout may still finish.
			mu.Lock()
			out = v
			mu.Unlock()
			return nil
		})
		return nil, err
	}

	_, err := r.middleware.Wrap(body)(ctx, meta, args)
	if err != nil {
		var zero T
		return zero, err
	}
	mu.Lock()
	defer mu.Unlock()
	return out, nil
}
