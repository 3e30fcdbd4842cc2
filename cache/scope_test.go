package cache

import (
	"context"
	"errors"
	"testing"
)

func TestRegistry_BeginEnd(t *testing.T) {
	reg := NewRegistry(DefaultPolicy())

	ctx, s, err := reg.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if s == nil || s.ID() == "" {
		t.Fatalf("Begin() scope = %v, want a scope with an ID", s)
	}
	if FromContext(ctx) != s {
		t.Error("FromContext() did not return the scope Begin created")
	}
	if n := reg.Active(); n != 1 {
		t.Errorf("Active() = %d, want 1", n)
	}

	if err := reg.End(s); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if FromContext(ctx) != nil {
		t.Error("an ended scope must not be visible")
	}
	if n := reg.Active(); n != 0 {
		t.Errorf("Active() = %d after End, want 0", n)
	}
}

func TestRegistry_BeginTwiceFails(t *testing.T) {
	reg := NewRegistry(DefaultPolicy())
	ctx, s, err := reg.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	defer func() { _ = reg.End(s) }()

	_, nested, err := reg.Begin(ctx)
	if nested != nil {
		t.Error("nested Begin() returned a scope")
	}
	if !errors.Is(err, ErrScopeActive) {
		t.Fatalf("nested Begin() error = %v, want ErrScopeActive", err)
	}

	var cerr *ContextError
	if !errors.As(err, &cerr) {
		t.Fatalf("nested Begin() error %T is not a *ContextError", err)
	}
	if cerr.ScopeID != s.ID() {
		t.Errorf("ContextError.ScopeID = %q, want %q", cerr.ScopeID, s.ID())
	}
}

func TestRegistry_EndTwiceFails(t *testing.T) {
	reg := NewRegistry(DefaultPolicy())
	_, s, err := reg.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}

	if err := reg.End(s); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if err := reg.End(s); !errors.Is(err, ErrScopeNotActive) {
		t.Errorf("second End() error = %v, want ErrScopeNotActive", err)
	}
	if err := reg.End(nil); !errors.Is(err, ErrScopeNotActive) {
		t.Errorf("End(nil) error = %v, want ErrScopeNotActive", err)
	}
	if err := End(nil); !errors.Is(err, ErrScopeNotActive) {
		t.Errorf("package End(nil) error = %v, want ErrScopeNotActive", err)
	}
}

func TestRegistry_BeginAfterEnd(t *testing.T) {
	reg := NewRegistry(DefaultPolicy())
	ctx, s, err := reg.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if err := reg.End(s); err != nil {
		t.Fatalf("End() error = %v", err)
	}

	// The old context carries a dead scope; a new request may start from it.
	_, next, err := reg.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin() after End error = %v", err)
	}
	if next.ID() == s.ID() {
		t.Error("a new scope reused the ended scope's ID")
	}
	if err := reg.End(next); err != nil {
		t.Fatalf("End() error = %v", err)
	}
}

func TestRegistry_ScopesAreIsolated(t *testing.T) {
	reg := NewRegistry(DefaultPolicy())
	ctx1, s1, err := reg.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	ctx2, s2, err := reg.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	defer func() { _ = reg.End(s1) }()
	defer func() { _ = reg.End(s2) }()

	compute, calls := countingCompute("v", nil)
	if _, _, err := FromContext(ctx1).GetOrCompute(ctx1, "get", "1", compute); err != nil {
		t.Fatalf("GetOrCompute() error = %v", err)
	}
	_, fromCache, err := FromContext(ctx2).GetOrCompute(ctx2, "get", "1", compute)
	if err != nil {
		t.Fatalf("GetOrCompute() error = %v", err)
	}
	if fromCache {
		t.Error("a value cached by one request must not be visible to another")
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("compute calls = %d, want 2", n)
	}
}

func TestRegistry_Do(t *testing.T) {
	reg := NewRegistry(DefaultPolicy())
	var seen *Scope

	err := reg.Do(context.Background(), func(ctx context.Context) error {
		seen = FromContext(ctx)
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if seen == nil {
		t.Fatal("fn ran without a scope")
	}
	if !seen.Ended() {
		t.Error("Do() left its scope running")
	}
	if n := reg.Active(); n != 0 {
		t.Errorf("Active() = %d, want 0", n)
	}
}

func TestRegistry_DoReturnsFnError(t *testing.T) {
	reg := NewRegistry(DefaultPolicy())
	boom := errors.New("boom")

	if err := reg.Do(context.Background(), func(context.Context) error { return boom }); !errors.Is(err, boom) {
		t.Errorf("Do() error = %v, want %v", err, boom)
	}
	if n := reg.Active(); n != 0 {
		t.Errorf("Active() = %d, want 0", n)
	}
}

func TestRegistry_DoEndsScopeOnPanic(t *testing.T) {
	reg := NewRegistry(DefaultPolicy())
	var seen *Scope

	func() {
		defer func() {
			if recover() == nil {
				t.Error("Do() swallowed the panic")
			}
		}()
		_ = reg.Do(context.Background(), func(ctx context.Context) error {
			seen = FromContext(ctx)
			panic("handler failed")
		})
	}()

	if seen == nil {
		t.Fatal("fn ran without a scope")
	}
	if !seen.Ended() {
		t.Error("scope still running after a panic")
	}
	if n := reg.Active(); n != 0 {
		t.Errorf("Active() = %d, want 0", n)
	}
}

func TestRegistry_DoNested(t *testing.T) {
	reg := NewRegistry(DefaultPolicy())

	err := reg.Do(context.Background(), func(ctx context.Context) error {
		return reg.Do(ctx, func(context.Context) error { return nil })
	})
	if !errors.Is(err, ErrScopeActive) {
		t.Errorf("nested Do() error = %v, want ErrScopeActive", err)
	}
}

func TestRegistry_Close(t *testing.T) {
	reg := NewRegistry(DefaultPolicy())
	ctx, _, err := reg.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if _, _, err := reg.Begin(context.Background()); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}

	if n := reg.Close(context.Background()); n != 2 {
		t.Errorf("Close() = %d, want 2", n)
	}
	if n := reg.Active(); n != 0 {
		t.Errorf("Active() = %d after Close, want 0", n)
	}
	if FromContext(ctx) != nil {
		t.Error("a closed scope is still visible")
	}
	if n := reg.Close(context.Background()); n != 0 {
		t.Errorf("second Close() = %d, want 0", n)
	}
}

func TestFromContext_NoScope(t *testing.T) {
	if FromContext(context.Background()) != nil {
		t.Error("FromContext(Background) returned a scope")
	}
	//nolint:staticcheck // nil context is tolerated.
	if FromContext(nil) != nil {
		t.Error("FromContext(nil) returned a scope")
	}
}

func TestDefaultRegistry(t *testing.T) {
	if DefaultRegistry() == nil {
		t.Fatal("DefaultRegistry() = nil")
	}

	err := Do(context.Background(), func(ctx context.Context) error {
		s := FromContext(ctx)
		if s == nil {
			t.Fatal("Do() ran fn without a scope")
		}
		if s.policy != DefaultPolicy() {
			t.Errorf("scope policy = %+v, want %+v", s.policy, DefaultPolicy())
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}

	ctx, s, err := Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if FromContext(ctx) != s {
		t.Error("FromContext() did not return the scope Begin created")
	}
	if err := End(s); err != nil {
		t.Fatalf("End() error = %v", err)
	}
}
