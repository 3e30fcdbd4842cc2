package cache

import (
	"errors"
	"fmt"
)

// Key derivation failures. They are configuration errors discovered at call
// time and are never retried.
var (
	// ErrMissingPath indicates a nested path segment was absent or nil.
	ErrMissingPath = errors.New("cache: key path missing")

	// ErrRoutineNotFound indicates no usable key routine exists under the given name.
	ErrRoutineNotFound = errors.New("cache: key routine not found")

	// ErrIncompatibleReturnType indicates a key routine returns a type that cannot be a key.
	ErrIncompatibleReturnType = errors.New("cache: key routine return type is not a valid key")

	// ErrMissingArgument indicates the key-bearing argument was not passed.
	ErrMissingArgument = errors.New("cache: key argument missing")

	// ErrInvalidKey indicates a derived value can be neither compared nor fingerprinted.
	ErrInvalidKey = errors.New("cache: value cannot be used as a key")
)

// Request scope misuse.
var (
	// ErrScopeActive indicates Begin was called with a context that already has a live scope.
	ErrScopeActive = errors.New("cache: request scope already active")

	// ErrScopeNotActive indicates End was called on a scope that already ended.
	ErrScopeNotActive = errors.New("cache: request scope not active")
)

// Runtime errors.
var (
	// ErrInvalidCommand indicates an empty command identifier.
	ErrInvalidCommand = errors.New("cache: command identifier is required")

	// ErrTypeMismatch indicates a cached value does not have the requested result type.
	ErrTypeMismatch = errors.New("cache: cached value type mismatch")
)

// KeyDerivationError describes why a cache key could not be derived.
// Reason is one of the key derivation sentinels above and is what
// errors.Is matches against.
type KeyDerivationError struct {
	Reason  error
	Arg     string
	Path    string
	Routine string
	Err     error
}

func (e *KeyDerivationError) Error() string {
	msg := e.Reason.Error()
	switch {
	case e.Routine != "":
		msg = fmt.Sprintf("%s: routine %q", msg, e.Routine)
	case e.Path != "":
		msg = fmt.Sprintf("%s: argument %q path %q", msg, e.Arg, e.Path)
	case e.Arg != "":
		msg = fmt.Sprintf("%s: argument %q", msg, e.Arg)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *KeyDerivationError) Unwrap() []error {
	errs := make([]error, 0, 2)
	errs = append(errs, e.Reason)
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// ContextError reports misuse of the request scope lifecycle.
type ContextError struct {
	Reason  error
	ScopeID string
}

func (e *ContextError) Error() string {
	if e.ScopeID == "" {
		return e.Reason.Error()
	}
	return fmt.Sprintf("%s: scope %s", e.Reason.Error(), e.ScopeID)
}

func (e *ContextError) Unwrap() error { return e.Reason }

// CachingError is returned by CacheResult and CacheRemove when the caching
// layer itself fails, before any underlying computation or removal runs.
type CachingError struct {
	Op      string // "cache result" or "cache remove"
	Command string
	Err     error
}

func (e *CachingError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Op, e.Command, e.Err)
}

func (e *CachingError) Unwrap() error { return e.Err }
