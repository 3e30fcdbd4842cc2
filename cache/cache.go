package cache

import (
	"context"
	"strings"
)

// MaxCommandLength is the maximum allowed length for a command identifier.
const MaxCommandLength = 512

// Arg is one named call argument.
type Arg struct {
	Name  string
	Value any
}

// Args is the ordered argument list of an intercepted call.
type Args []Arg

// A is shorthand for building an Arg.
func A(name string, value any) Arg {
	return Arg{Name: name, Value: value}
}

// Lookup returns the value of the named argument.
func (a Args) Lookup(name string) (any, bool) {
	for _, arg := range a {
		if arg.Name == name {
			return arg.Value, true
		}
	}
	return nil, false
}

// Result is the outcome of CacheResult. FromCache reports provenance:
// true when the value was served from the request scope rather than computed
// by this call.
type Result[T any] struct {
	Value     T
	FromCache bool
}

// ComputeFunc performs the real work of a read command.
type ComputeFunc func(ctx context.Context) (any, error)

// Execution is one entry of a scope's request log.
type Execution struct {
	Command   string
	Key       any
	FromCache bool
	Err       error
}

// ValidateCommand checks if a command identifier can name a cache partition.
func ValidateCommand(commandID string) error {
	if strings.TrimSpace(commandID) == "" {
		return ErrInvalidCommand
	}
	if len(commandID) > MaxCommandLength {
		return ErrInvalidCommand
	}
	if strings.ContainsAny(commandID, "\n\r") {
		return ErrInvalidCommand
	}
	return nil
}
