package command

import "errors"

// Sentinel errors for command registration.
var (
	// ErrMissingExecute is returned when a command has no Execute func.
	ErrMissingExecute = errors.New("command: missing execute func")

	// ErrMissingTarget is returned when a write command names no read
	// command to invalidate.
	ErrMissingTarget = errors.New("command: missing target command")

	// ErrDuplicateCommand is returned when a command id is registered twice.
	ErrDuplicateCommand = errors.New("command: already registered")

	// ErrNilRunner is returned when registering against a nil Runner.
	ErrNilRunner = errors.New("command: nil runner")
)
