package cache

import (
	"errors"
	"net/http"
)

// Middleware begins a request scope for every HTTP request and ends it once
// the handler returns. A request whose context already carries a scope keeps
// that scope.
func Middleware(reg *Registry) func(http.Handler) http.Handler {
	if reg == nil {
		reg = defaultRegistry
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, scope, err := reg.Begin(r.Context())
			if errors.Is(err, ErrScopeActive) {
				next.ServeHTTP(w, r)
				return
			}
			defer func() { _ = reg.End(scope) }()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
