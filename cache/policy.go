package cache

import "github.com/jonwraymond/reqcache/observe"

// Policy configures request scope behavior.
type Policy struct {
	// SingleFlight makes concurrent misses for the same key within one scope
	// share a single computation. When false, each miss computes and the
	// first stored result wins.
	SingleFlight bool

	// RecordExecutions keeps a per-scope log of CacheResult calls.
	RecordExecutions bool
}

// DefaultPolicy returns the default request scope policy.
// SingleFlight: true, RecordExecutions: true
func DefaultPolicy() Policy {
	return Policy{
		SingleFlight:     true,
		RecordExecutions: true,
	}
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used for scope lifecycle events.
func WithLogger(logger observe.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}
