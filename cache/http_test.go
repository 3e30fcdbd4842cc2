package cache

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMiddleware_ScopePerRequest(t *testing.T) {
	reg := NewRegistry(DefaultPolicy())
	store := newUserStore(User{ID: "1", Name: "name"})

	var scopes []string
	handler := Middleware(reg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := FromContext(r.Context())
		if s == nil {
			t.Fatal("handler ran without a scope")
		}
		scopes = append(scopes, s.ID())

		first, err := store.getUser(r.Context(), "1")
		if err != nil {
			t.Fatalf("getUser() error = %v", err)
		}
		second, err := store.getUser(r.Context(), "1")
		if err != nil {
			t.Fatalf("getUser() error = %v", err)
		}
		if first.FromCache || !second.FromCache {
			t.Errorf("FromCache = (%v, %v), want (false, true)", first.FromCache, second.FromCache)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/users/1", nil))
		if rec.Code != http.StatusNoContent {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusNoContent)
		}
	}

	if len(scopes) != 2 || scopes[0] == scopes[1] {
		t.Errorf("scopes = %v, want two distinct scopes", scopes)
	}
	if n := reg.Active(); n != 0 {
		t.Errorf("Active() = %d, want 0: every scope must end with its request", n)
	}
	if n := store.readCount(); n != 2 {
		t.Errorf("store reads = %d, want 2", n)
	}
}

func TestMiddleware_KeepsExistingScope(t *testing.T) {
	reg := NewRegistry(DefaultPolicy())
	ctx, outer, err := reg.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	defer func() { _ = reg.End(outer) }()

	var seen *Scope
	handler := Middleware(reg)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = FromContext(r.Context())
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx))

	if seen != outer {
		t.Error("the handler did not see the request's existing scope")
	}
	if outer.Ended() {
		t.Error("the middleware must not end a scope it did not begin")
	}
}

func TestMiddleware_EndsScopeOnPanic(t *testing.T) {
	reg := NewRegistry(DefaultPolicy())
	handler := Middleware(reg)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("handler failed")
	}))

	func() {
		defer func() {
			if recover() == nil {
				t.Error("the middleware swallowed the panic")
			}
		}()
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	}()
	if n := reg.Active(); n != 0 {
		t.Errorf("Active() = %d, want 0", n)
	}
}

func TestMiddleware_NilRegistryUsesDefault(t *testing.T) {
	var seen *Scope
	handler := Middleware(nil)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = FromContext(r.Context())
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if seen == nil {
		t.Fatal("handler ran without a scope")
	}
	if seen.registry != DefaultRegistry() {
		t.Error("Middleware(nil) did not use the default registry")
	}
	if !seen.Ended() {
		t.Error("scope still running after the request")
	}
}
