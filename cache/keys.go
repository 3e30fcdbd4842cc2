package cache

import (
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"strings"
)

type keyKind int

const (
	keyArgs keyKind = iota // zero value: the whole argument list
	keyArg
	keyPath
	keyRoutine
)

// KeySpec describes how a cache key is computed from call arguments.
// The zero value keys a call by all of its arguments.
//
// A KeySpec is immutable once built and safe to share between goroutines.
type KeySpec struct {
	kind    keyKind
	arg     string
	path    string
	segs    []string
	routine string
	fn      func(Args) (any, error)
	err     error
}

// AllArgs keys a call by its whole argument list.
func AllArgs() KeySpec {
	return KeySpec{kind: keyArgs}
}

// ArgKey keys a call by the value of the named argument.
func ArgKey(name string) KeySpec {
	return KeySpec{kind: keyArg, arg: name}
}

// PathKey keys a call by a value nested inside the named argument.
// path is dotted, e.g. "profile.email". Each segment matches an exported
// struct field (case-insensitive), a string-keyed map entry or an exported
// zero-argument method.
func PathKey(name, path string) KeySpec {
	if path == "" {
		return ArgKey(name)
	}
	spec := KeySpec{kind: keyPath, arg: name, path: path, segs: strings.Split(path, ".")}
	for _, seg := range spec.segs {
		if seg == "" {
			spec.err = &KeyDerivationError{Reason: ErrMissingPath, Arg: name, Path: path, Err: errors.New("empty path segment")}
			break
		}
	}
	return spec
}

// FuncKey keys a call by the result of a routine that takes no arguments.
func FuncKey[K comparable](fn func() K) KeySpec {
	spec := KeySpec{kind: keyRoutine, routine: funcName(fn)}
	if fn == nil {
		spec.err = &KeyDerivationError{Reason: ErrRoutineNotFound, Routine: "<nil>"}
		return spec
	}
	spec.fn = func(Args) (any, error) {
		return fn(), nil
	}
	return spec
}

// FuncKeyOf keys a call by the result of a routine applied to the named argument.
func FuncKeyOf[A any, K comparable](name string, fn func(A) K) KeySpec {
	spec := KeySpec{kind: keyRoutine, arg: name, routine: funcName(fn)}
	if fn == nil {
		spec.err = &KeyDerivationError{Reason: ErrRoutineNotFound, Arg: name, Routine: "<nil>"}
		return spec
	}
	spec.fn = func(args Args) (any, error) {
		v, ok := args.Lookup(name)
		if !ok {
			return nil, &KeyDerivationError{Reason: ErrMissingArgument, Arg: name}
		}
		var a A
		if v != nil {
			typed, ok := v.(A)
			if !ok {
				return nil, &KeyDerivationError{
					Reason: ErrMissingArgument,
					Arg:    name,
					Err:    fmt.Errorf("has type %T, want %s", v, reflect.TypeFor[A]()),
				}
			}
			a = typed
		}
		return fn(a), nil
	}
	return spec
}

// MethodKey resolves a key routine by name on receiver.
//
// The method must be exported, take zero or one parameter and return a
// string, optionally followed by an error. A one-parameter method receives
// the call's first argument. Resolution happens here, once; a failure is
// reported by Validate and by every Derive.
func MethodKey(receiver any, name string) KeySpec {
	spec := KeySpec{kind: keyRoutine, routine: name}
	fn, err := resolveMethod(receiver, name)
	if err != nil {
		spec.err = err
		return spec
	}
	spec.fn = fn
	return spec
}

var errorType = reflect.TypeFor[error]()

func resolveMethod(receiver any, name string) (func(Args) (any, error), error) {
	rv := reflect.ValueOf(receiver)
	if !rv.IsValid() {
		return nil, &KeyDerivationError{Reason: ErrRoutineNotFound, Routine: name, Err: errors.New("nil receiver")}
	}
	m := rv.MethodByName(name)
	if !m.IsValid() {
		return nil, &KeyDerivationError{Reason: ErrRoutineNotFound, Routine: name}
	}

	mt := m.Type()
	if mt.NumIn() > 1 || mt.IsVariadic() {
		return nil, &KeyDerivationError{
			Reason:  ErrRoutineNotFound,
			Routine: name,
			Err:     fmt.Errorf("takes %d parameters, want 0 or 1", mt.NumIn()),
		}
	}
	switch {
	case mt.NumOut() == 1 && mt.Out(0).Kind() == reflect.String:
	case mt.NumOut() == 2 && mt.Out(0).Kind() == reflect.String && mt.Out(1) == errorType:
	default:
		return nil, &KeyDerivationError{
			Reason:  ErrIncompatibleReturnType,
			Routine: name,
			Err:     fmt.Errorf("returns %s", outTypes(mt)),
		}
	}

	return func(args Args) (any, error) {
		var in []reflect.Value
		if mt.NumIn() == 1 {
			if len(args) == 0 {
				return nil, &KeyDerivationError{Reason: ErrMissingArgument, Routine: name}
			}
			pt := mt.In(0)
			av := reflect.ValueOf(args[0].Value)
			switch {
			case !av.IsValid():
				av = reflect.Zero(pt)
			case !av.Type().AssignableTo(pt):
				return nil, &KeyDerivationError{
					Reason:  ErrMissingArgument,
					Arg:     args[0].Name,
					Routine: name,
					Err:     fmt.Errorf("has type %s, want %s", av.Type(), pt),
				}
			}
			in = []reflect.Value{av}
		}
		out := m.Call(in)
		if len(out) == 2 && !out[1].IsNil() {
			return nil, fmt.Errorf("cache: key routine %q: %w", name, out[1].Interface().(error))
		}
		return out[0].String(), nil
	}, nil
}

func outTypes(mt reflect.Type) string {
	if mt.NumOut() == 0 {
		return "nothing"
	}
	types := make([]string, mt.NumOut())
	for i := range types {
		types[i] = mt.Out(i).String()
	}
	return "(" + strings.Join(types, ", ") + ")"
}

func funcName(fn any) string {
	rv := reflect.ValueOf(fn)
	if rv.Kind() != reflect.Func || rv.IsNil() {
		return ""
	}
	if f := runtime.FuncForPC(rv.Pointer()); f != nil {
		return f.Name()
	}
	return ""
}

// Validate reports configuration errors known before any call, such as a
// routine that could not be resolved. Registrations should call it at startup.
func (s KeySpec) Validate() error {
	return s.err
}

// String describes the strategy for logs.
func (s KeySpec) String() string {
	switch s.kind {
	case keyArg:
		return "arg(" + s.arg + ")"
	case keyPath:
		return "path(" + s.arg + "." + s.path + ")"
	case keyRoutine:
		return "routine(" + s.routine + ")"
	default:
		return "args"
	}
}

// Derive computes the cache key for a call with the given arguments.
func (s KeySpec) Derive(args Args) (any, error) {
	if s.err != nil {
		return nil, s.err
	}

	var (
		v   any
		err error
	)
	switch s.kind {
	case keyArgs:
		v, err = argsKey(args)
		if err != nil {
			return nil, &KeyDerivationError{Reason: err}
		}
		return v, nil

	case keyArg:
		var ok bool
		v, ok = args.Lookup(s.arg)
		if !ok {
			return nil, &KeyDerivationError{Reason: ErrMissingArgument, Arg: s.arg}
		}

	case keyPath:
		root, ok := args.Lookup(s.arg)
		if !ok {
			return nil, &KeyDerivationError{Reason: ErrMissingArgument, Arg: s.arg}
		}
		v, ok = walkPath(root, s.segs)
		if !ok {
			return nil, &KeyDerivationError{Reason: ErrMissingPath, Arg: s.arg, Path: s.path}
		}

	case keyRoutine:
		v, err = s.fn(args)
		if err != nil {
			return nil, err
		}
	}

	key, err := normalizeKey(v)
	if err != nil {
		return nil, &KeyDerivationError{Reason: err, Arg: s.arg, Path: s.path, Routine: s.routine}
	}
	return key, nil
}

// DeriveKeys derives one key per spec and returns the distinct keys in
// declaration order. Any failure aborts the whole set.
func DeriveKeys(specs []KeySpec, args Args) ([]any, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	keys := make([]any, 0, len(specs))
	seen := make(map[any]struct{}, len(specs))
	for _, spec := range specs {
		key, err := spec.Derive(args)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	return keys, nil
}

// walkPath follows segs from root. It reports false when a segment is
// absent or the walk reaches a nil value, including a nil terminal value.
func walkPath(root any, segs []string) (any, bool) {
	cur := reflect.ValueOf(root)
	for _, seg := range segs {
		next, ok := step(cur, seg)
		if !ok {
			return nil, false
		}
		cur = next
	}
	cur, ok := indirect(cur)
	if !ok || !cur.CanInterface() {
		return nil, false
	}
	return cur.Interface(), true
}

func step(v reflect.Value, seg string) (reflect.Value, bool) {
	ind, ok := indirect(v)
	if !ok {
		return reflect.Value{}, false
	}
	match := func(name string) bool { return strings.EqualFold(name, seg) }

	switch ind.Kind() {
	case reflect.Struct:
		if sf, found := ind.Type().FieldByNameFunc(match); found && sf.IsExported() {
			f, err := ind.FieldByIndexErr(sf.Index)
			if err == nil {
				return f, true
			}
			return reflect.Value{}, false
		}
	case reflect.Map:
		if ind.Type().Key().Kind() == reflect.String {
			mv := ind.MapIndex(reflect.ValueOf(seg).Convert(ind.Type().Key()))
			if mv.IsValid() {
				return mv, true
			}
			return reflect.Value{}, false
		}
	}

	// Fall back to a zero-argument getter, on the pointer if there is one so
	// pointer-receiver methods are visible.
	for _, recv := range []reflect.Value{v, ind} {
		if recv.Kind() == reflect.Interface {
			continue
		}
		t := recv.Type()
		for i := 0; i < t.NumMethod(); i++ {
			m := t.Method(i)
			if !match(m.Name) && !strings.EqualFold(m.Name, "Get"+seg) {
				continue
			}
			mv := recv.Method(i)
			if mv.Type().NumIn() != 0 || mv.Type().NumOut() == 0 {
				continue
			}
			return mv.Call(nil)[0], true
		}
	}
	return reflect.Value{}, false
}

// indirect follows pointers and interfaces. It reports false on nil.
func indirect(v reflect.Value) (reflect.Value, bool) {
	for {
		if !v.IsValid() {
			return reflect.Value{}, false
		}
		switch v.Kind() {
		case reflect.Pointer, reflect.Interface:
			if v.IsNil() {
				return reflect.Value{}, false
			}
			v = v.Elem()
		default:
			return v, true
		}
	}
}
