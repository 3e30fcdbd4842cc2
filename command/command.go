package command

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonwraymond/reqcache/cache"
	"github.com/jonwraymond/reqcache/observe"
)

// Read defines a read command whose results are cached per request.
type Read[T any] struct {
	// Name is the command name (required).
	Name string

	// Group is the owning service, usually the repository or client name.
	Group string

	// CommandKey names the cache partition. Default: Group.Name, or Name
	// when Group is empty.
	CommandKey string

	// Key derives the cache key from the call arguments.
	// Default: all arguments.
	Key cache.KeySpec

	// Execute performs the read.
	Execute func(ctx context.Context, args cache.Args) (T, error)
}

// ReadCommand is a registered read command.
type ReadCommand[T any] struct {
	runner  *Runner
	meta    observe.CommandMeta
	key     cache.KeySpec
	execute func(context.Context, cache.Args) (T, error)
}

// RegisterRead validates def and registers it with r. A key spec that names
// a missing or unusable routine is reported here rather than on first call.
func RegisterRead[T any](r *Runner, def Read[T]) (*ReadCommand[T], error) {
	if r == nil {
		return nil, ErrNilRunner
	}
	meta := observe.CommandMeta{Key: def.CommandKey, Group: def.Group, Name: def.Name, Kind: observe.KindRead}
	if def.Execute == nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingExecute, meta.CommandID())
	}
	if err := def.Key.Validate(); err != nil {
		return nil, fmt.Errorf("command %s: key %s: %w", meta.CommandID(), def.Key, err)
	}
	if err := r.register(meta); err != nil {
		return nil, err
	}
	return &ReadCommand[T]{runner: r, meta: meta, key: def.Key, execute: def.Execute}, nil
}

// ID returns the command's cache partition id.
func (c *ReadCommand[T]) ID() string { return c.meta.CommandID() }

// Call runs the command, serving the result from the request scope when
// an earlier call in the same request already produced it.
func (c *ReadCommand[T]) Call(ctx context.Context, args ...cache.Arg) (T, error) {
	res, err := c.CallResult(ctx, args...)
	return res.Value, err
}

// CallResult is like Call but also reports whether the value came from the
// request scope.
func (c *ReadCommand[T]) CallResult(ctx context.Context, args ...cache.Arg) (cache.Result[T], error) {
	in := cache.Args(args)
	res, err := cache.CacheResult(ctx, c.ID(), c.key, in, func(ctx context.Context) (T, error) {
		return run(ctx, c.runner, c.meta, in, c.execute)
	})

	var cerr *cache.CachingError
	if cache.FromContext(ctx) != nil && !errors.As(err, &cerr) {
		c.runner.middleware.Metrics().RecordCacheLookup(ctx, c.meta, res.FromCache)
	}
	return res, err
}

// Write defines a write command that invalidates entries of a read command.
type Write struct {
	// Name is the command name (required).
	Name string

	// Group is the owning service.
	Group string

	// CommandKey identifies the write command. Default: Group.Name, or Name.
	CommandKey string

	// Target is the id of the read command whose entries are removed
	// (required).
	Target string

	// Keys derive the keys to remove. No keys removes nothing.
	Keys []cache.KeySpec

	// Execute performs the write.
	Execute func(ctx context.Context, args cache.Args) error
}

// WriteCommand is a registered write command.
type WriteCommand struct {
	runner  *Runner
	meta    observe.CommandMeta
	target  string
	keys    []cache.KeySpec
	execute func(context.Context, cache.Args) error
}

// RegisterWrite validates def and registers it with r.
func RegisterWrite(r *Runner, def Write) (*WriteCommand, error) {
	if r == nil {
		return nil, ErrNilRunner
	}
	meta := observe.CommandMeta{Key: def.CommandKey, Group: def.Group, Name: def.Name, Kind: observe.KindWrite}
	if def.Execute == nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingExecute, meta.CommandID())
	}
	if def.Target == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingTarget, meta.CommandID())
	}
	if err := cache.ValidateCommand(def.Target); err != nil {
		return nil, fmt.Errorf("command %s: target %q: %w", meta.CommandID(), def.Target, err)
	}
	for _, k := range def.Keys {
		if err := k.Validate(); err != nil {
			return nil, fmt.Errorf("command %s: key %s: %w", meta.CommandID(), k, err)
		}
	}
	if err := r.register(meta); err != nil {
		return nil, err
	}
	if _, ok := r.Lookup(def.Target); !ok {
		r.logger.WithCommand(meta).Warn(context.Background(), "write targets an unregistered read command",
			observe.Field{Key: "target", Value: def.Target})
	}
	return &WriteCommand{
		runner:  r,
		meta:    meta,
		target:  def.Target,
		keys:    def.Keys,
		execute: def.Execute,
	}, nil
}

// ID returns the command id.
func (c *WriteCommand) ID() string { return c.meta.CommandID() }

// Target returns the id of the read command this write invalidates.
func (c *WriteCommand) Target() string { return c.target }

// Call runs the write. Removal keys are derived before the write runs; a
// derivation failure aborts the call with *cache.CachingError and the write
// does not run. The target's entries are removed only when the write
// succeeds.
func (c *WriteCommand) Call(ctx context.Context, args ...cache.Arg) error {
	in := cache.Args(args)
	keys, err := cache.RemovalKeys(ctx, c.target, c.keys, in)
	if err != nil {
		return err
	}

	_, err = run(ctx, c.runner, c.meta, in, func(ctx context.Context, args cache.Args) (struct{}, error) {
		return struct{}{}, c.execute(ctx, args)
	})
	if err != nil {
		return err
	}

	if len(keys) > 0 {
		removed := cache.Invalidate(ctx, c.target, keys...)
		c.runner.middleware.Metrics().RecordCacheRemoval(ctx, c.meta, removed)
	}
	return nil
}
