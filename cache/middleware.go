package cache

import (
	"context"
	"fmt"
)

const (
	opCacheResult = "cache result"
	opCacheRemove = "cache remove"
)

// CacheResult wraps a read command.
//
// Outside a request scope compute runs directly and the result is fresh.
// Inside one, the key is derived from args with spec; a derivation failure
// is returned as *CachingError and compute is not called. Otherwise the
// scope returns the cached value or runs compute on a miss. Errors from
// compute are returned unchanged and never cached.
func CacheResult[T any](
	ctx context.Context,
	commandID string,
	spec KeySpec,
	args Args,
	compute func(ctx context.Context) (T, error),
) (Result[T], error) {
	scope := FromContext(ctx)
	if scope == nil {
		v, err := compute(ctx)
		return Result[T]{Value: v}, err
	}

	if err := ValidateCommand(commandID); err != nil {
		return Result[T]{}, &CachingError{Op: opCacheResult, Command: commandID, Err: err}
	}

	key, err := spec.Derive(args)
	if err != nil {
		cerr := &CachingError{Op: opCacheResult, Command: commandID, Err: err}
		scope.record(Execution{Command: commandID, Err: cerr})
		return Result[T]{}, cerr
	}

	v, fromCache, err := scope.GetOrCompute(ctx, commandID, key, func(ctx context.Context) (any, error) {
		return compute(ctx)
	})
	scope.record(Execution{Command: commandID, Key: key, FromCache: fromCache, Err: err})
	if err != nil {
		typed, _ := v.(T)
		return Result[T]{Value: typed}, err
	}

	if v == nil {
		var zero T
		return Result[T]{Value: zero, FromCache: fromCache}, nil
	}
	typed, ok := v.(T)
	if !ok {
		var zero T
		return Result[T]{}, &CachingError{
			Op:      opCacheResult,
			Command: commandID,
			Err:     fmt.Errorf("%w: have %T, want %T", ErrTypeMismatch, v, zero),
		}
	}
	return Result[T]{Value: typed, FromCache: fromCache}, nil
}

// CacheRemove wraps a write command: it removes the entries of the read
// command targetCommandID whose keys derive from args with specs.
//
// Outside a request scope it does nothing. Every key is derived before
// anything is removed; one failure aborts the whole removal. No specs means
// nothing to remove.
func CacheRemove(ctx context.Context, targetCommandID string, specs []KeySpec, args Args) error {
	keys, err := RemovalKeys(ctx, targetCommandID, specs, args)
	if err != nil || len(keys) == 0 {
		return err
	}
	Invalidate(ctx, targetCommandID, keys...)
	return nil
}

// RemovalKeys derives the keys CacheRemove would remove without removing
// them, so a caller can run the write first and invalidate on success.
// Outside a request scope it returns no keys and no error.
func RemovalKeys(ctx context.Context, targetCommandID string, specs []KeySpec, args Args) ([]any, error) {
	if FromContext(ctx) == nil {
		return nil, nil
	}
	if err := ValidateCommand(targetCommandID); err != nil {
		return nil, &CachingError{Op: opCacheRemove, Command: targetCommandID, Err: err}
	}

	keys, err := DeriveKeys(specs, args)
	if err != nil {
		return nil, &CachingError{Op: opCacheRemove, Command: targetCommandID, Err: err}
	}
	return keys, nil
}

// Invalidate removes already-derived keys from targetCommandID's partition
// of the scope carried by ctx. It returns the number of entries removed.
func Invalidate(ctx context.Context, targetCommandID string, keys ...any) int {
	scope := FromContext(ctx)
	if scope == nil {
		return 0
	}
	return scope.Remove(targetCommandID, keys...)
}
