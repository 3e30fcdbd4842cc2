package cache

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

type Profile struct {
	Email string
}

type User struct {
	ID      string
	Name    string
	Profile *Profile
	Labels  map[string]string
}

func (u *User) DisplayName() string { return "user " + u.Name }

// keyRoutines carries key routines resolved by name.
type keyRoutines struct{}

func (keyRoutines) ByEmailKey(email string) string { return "email:" + email }
func (keyRoutines) ConstantKey() string           { return "constant" }
func (keyRoutines) NumericKey() int64             { return 0 }
func (keyRoutines) TwoParams(a, b string) string  { return a + b }
func (keyRoutines) FailingKey() (string, error)   { return "", errors.New("boom") }
func (keyRoutines) CheckedKey() (string, error)   { return "checked", nil }
func (keyRoutines) NoResult()                     {}

// deriveErr asserts that err is a *KeyDerivationError wrapping reason.
func deriveErr(t *testing.T, err, reason error) *KeyDerivationError {
	t.Helper()
	var kerr *KeyDerivationError
	if !errors.As(err, &kerr) {
		t.Fatalf("error = %v (%T), want a *KeyDerivationError", err, err)
	}
	if !errors.Is(err, reason) {
		t.Errorf("error = %v, want %v", err, reason)
	}
	return kerr
}

func TestArgKey(t *testing.T) {
	key, err := ArgKey("id").Derive(Args{A("name", "x"), A("id", "1")})
	if err != nil || key != "1" {
		t.Errorf("Derive() = (%v, %v), want (1, nil)", key, err)
	}
}

func TestArgKey_MissingArgument(t *testing.T) {
	_, err := ArgKey("id").Derive(Args{A("name", "x")})

	if kerr := deriveErr(t, err, ErrMissingArgument); kerr.Arg != "id" {
		t.Errorf("Arg = %q, want id", kerr.Arg)
	}
}

func TestArgKey_NilValueIsAKey(t *testing.T) {
	key, err := ArgKey("id").Derive(Args{A("id", nil)})
	if err != nil || key != nil {
		t.Errorf("Derive() = (%v, %v), want (nil, nil)", key, err)
	}
}

func TestPathKey(t *testing.T) {
	user := &User{ID: "1", Name: "name", Profile: &Profile{Email: "email"}}

	tests := []struct {
		name string
		path string
		want any
	}{
		{name: "top level field", path: "id", want: "1"},
		{name: "nested field through pointer", path: "profile.email", want: "email"},
		{name: "exact case", path: "Profile.Email", want: "email"},
		{name: "getter method", path: "displayName", want: "user name"},
		{name: "nested struct value", path: "profile", want: Profile{Email: "email"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := PathKey("user", tt.path).Derive(Args{A("user", user)})
			if err != nil {
				t.Fatalf("Derive() error = %v", err)
			}
			if key != tt.want {
				t.Errorf("Derive() = %#v, want %#v", key, tt.want)
			}
		})
	}
}

func TestPathKey_MapSegment(t *testing.T) {
	user := User{ID: "1", Labels: map[string]string{"team": "core"}}

	key, err := PathKey("user", "labels.team").Derive(Args{A("user", user)})
	if err != nil || key != "core" {
		t.Errorf("Derive(labels.team) = (%v, %v), want (core, nil)", key, err)
	}

	_, err = PathKey("user", "labels.missing").Derive(Args{A("user", user)})
	if !errors.Is(err, ErrMissingPath) {
		t.Errorf("Derive(labels.missing) error = %v, want ErrMissingPath", err)
	}
}

func TestPathKey_MissingPath(t *testing.T) {
	tests := []struct {
		name string
		arg  any
		path string
	}{
		{name: "nil intermediate", arg: &User{ID: "1"}, path: "profile.email"},
		{name: "unknown field", arg: &User{ID: "1"}, path: "nickname"},
		{name: "unknown nested field", arg: &User{Profile: &Profile{}}, path: "profile.phone"},
		{name: "nil argument", arg: (*User)(nil), path: "id"},
		{name: "nil terminal", arg: &User{}, path: "profile"},
		{name: "empty segment", arg: &User{}, path: "profile..email"},
		{name: "descend into scalar", arg: &User{ID: "1"}, path: "id.length"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := PathKey("user", tt.path).Derive(Args{A("user", tt.arg)})

			if kerr := deriveErr(t, err, ErrMissingPath); kerr.Arg != "user" {
				t.Errorf("Arg = %q, want user", kerr.Arg)
			}
		})
	}
}

func TestPathKey_EmptyPathIsArgKey(t *testing.T) {
	spec := PathKey("id", "")
	if got := spec.String(); got != "arg(id)" {
		t.Errorf("String() = %q, want arg(id)", got)
	}

	key, err := spec.Derive(Args{A("id", "7")})
	if err != nil || key != "7" {
		t.Errorf("Derive() = (%v, %v), want (7, nil)", key, err)
	}
}

func TestFuncKey(t *testing.T) {
	key, err := FuncKey(func() string { return "all" }).Derive(nil)
	if err != nil || key != "all" {
		t.Errorf("Derive() = (%v, %v), want (all, nil)", key, err)
	}
}

func TestFuncKeyOf(t *testing.T) {
	spec := FuncKeyOf("email", func(email string) string { return "email:" + email })

	key, err := spec.Derive(Args{A("email", "a@b")})
	if err != nil || key != "email:a@b" {
		t.Errorf("Derive() = (%v, %v), want (email:a@b, nil)", key, err)
	}

	if _, err := spec.Derive(Args{A("other", "a@b")}); !errors.Is(err, ErrMissingArgument) {
		t.Errorf("Derive(missing) error = %v, want ErrMissingArgument", err)
	}
	if _, err := spec.Derive(Args{A("email", 42)}); !errors.Is(err, ErrMissingArgument) {
		t.Errorf("Derive(wrong type) error = %v, want ErrMissingArgument", err)
	}
}

func TestFuncKey_Nil(t *testing.T) {
	spec := FuncKey[string](nil)
	if err := spec.Validate(); !errors.Is(err, ErrRoutineNotFound) {
		t.Errorf("Validate() error = %v, want ErrRoutineNotFound", err)
	}
	if _, err := spec.Derive(nil); !errors.Is(err, ErrRoutineNotFound) {
		t.Errorf("Derive() error = %v, want ErrRoutineNotFound", err)
	}
}

func TestMethodKey(t *testing.T) {
	var r keyRoutines

	tests := []struct {
		name string
		spec KeySpec
		args Args
		want any
	}{
		{name: "one parameter", spec: MethodKey(r, "ByEmailKey"), args: Args{A("email", "a@b")}, want: "email:a@b"},
		{name: "no parameters", spec: MethodKey(r, "ConstantKey"), args: Args{A("ignored", 1)}, want: "constant"},
		{name: "pointer receiver with error result", spec: MethodKey(&r, "CheckedKey"), want: "checked"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := tt.spec.Derive(tt.args)
			if err != nil || key != tt.want {
				t.Errorf("Derive() = (%v, %v), want (%v, nil)", key, err, tt.want)
			}
		})
	}
}

func TestMethodKey_RoutineNotFound(t *testing.T) {
	var r keyRoutines

	tests := []struct {
		name     string
		receiver any
		method   string
	}{
		{name: "nonexistent", receiver: r, method: "nonexistent"},
		{name: "too many parameters", receiver: r, method: "TwoParams"},
		{name: "nil receiver", receiver: nil, method: "ConstantKey"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := MethodKey(tt.receiver, tt.method)
			if err := spec.Validate(); !errors.Is(err, ErrRoutineNotFound) {
				t.Errorf("Validate() error = %v, want ErrRoutineNotFound", err)
			}

			_, err := spec.Derive(Args{A("a", "x")})
			if kerr := deriveErr(t, err, ErrRoutineNotFound); kerr.Routine != tt.method {
				t.Errorf("Routine = %q, want %q", kerr.Routine, tt.method)
			}
		})
	}
}

func TestMethodKey_IncompatibleReturnType(t *testing.T) {
	var r keyRoutines

	for _, method := range []string{"NumericKey", "NoResult"} {
		t.Run(method, func(t *testing.T) {
			spec := MethodKey(r, method)
			if err := spec.Validate(); !errors.Is(err, ErrIncompatibleReturnType) {
				t.Errorf("Validate() error = %v, want ErrIncompatibleReturnType", err)
			}
			if _, err := spec.Derive(nil); !errors.Is(err, ErrIncompatibleReturnType) {
				t.Errorf("Derive() error = %v, want ErrIncompatibleReturnType", err)
			}
		})
	}
}

func TestMethodKey_ArgumentErrors(t *testing.T) {
	var r keyRoutines
	spec := MethodKey(r, "ByEmailKey")
	if err := spec.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	if _, err := spec.Derive(nil); !errors.Is(err, ErrMissingArgument) {
		t.Errorf("Derive(nil) error = %v, want ErrMissingArgument", err)
	}
	if _, err := spec.Derive(Args{A("email", 3)}); !errors.Is(err, ErrMissingArgument) {
		t.Errorf("Derive(wrong type) error = %v, want ErrMissingArgument", err)
	}

	key, err := spec.Derive(Args{A("email", nil)})
	if err != nil || key != "email:" {
		t.Errorf("Derive(nil email) = (%v, %v), want (email:, nil)", key, err)
	}
}

func TestMethodKey_RoutineError(t *testing.T) {
	var r keyRoutines
	_, err := MethodKey(r, "FailingKey").Derive(nil)
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Errorf("Derive() error = %v, want the routine's error", err)
	}
}

func TestAllArgs_IsZeroValue(t *testing.T) {
	var zero KeySpec
	args := Args{A("id", "1"), A("name", "n")}

	k1, err := zero.Derive(args)
	if err != nil {
		t.Fatalf("Derive() error = %v", err)
	}
	k2, err := AllArgs().Derive(args)
	if err != nil {
		t.Fatalf("Derive() error = %v", err)
	}
	if k1 != k2 {
		t.Errorf("zero KeySpec key = %v, AllArgs key = %v", k1, k2)
	}
	if got := zero.String(); got != "args" {
		t.Errorf("String() = %q, want args", got)
	}
}

func TestDeriveKeys(t *testing.T) {
	args := Args{A("a", "a"), A("b", "b"), A("again", "a")}

	keys, err := DeriveKeys([]KeySpec{ArgKey("a"), ArgKey("b"), ArgKey("again")}, args)
	if err != nil {
		t.Fatalf("DeriveKeys() error = %v", err)
	}
	if want := []any{"a", "b"}; !reflect.DeepEqual(keys, want) {
		t.Errorf("DeriveKeys() = %v, want %v", keys, want)
	}

	keys, err = DeriveKeys(nil, args)
	if err != nil || len(keys) != 0 {
		t.Errorf("DeriveKeys(nil) = (%v, %v), want no keys", keys, err)
	}
}

func TestDeriveKeys_AbortsOnFirstFailure(t *testing.T) {
	args := Args{A("a", "a"), A("user", &User{})}

	keys, err := DeriveKeys([]KeySpec{ArgKey("a"), PathKey("user", "profile.email")}, args)
	if !errors.Is(err, ErrMissingPath) {
		t.Errorf("DeriveKeys() error = %v, want ErrMissingPath", err)
	}
	if keys != nil {
		t.Errorf("DeriveKeys() keys = %v, want nil", keys)
	}
}

func TestKeyDerivationError_Message(t *testing.T) {
	tests := []struct {
		err  *KeyDerivationError
		want string
	}{
		{
			err:  &KeyDerivationError{Reason: ErrMissingPath, Arg: "user", Path: "profile.email"},
			want: `cache: key path missing: argument "user" path "profile.email"`,
		},
		{
			err:  &KeyDerivationError{Reason: ErrRoutineNotFound, Routine: "nonexistent"},
			want: `cache: key routine not found: routine "nonexistent"`,
		},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}
