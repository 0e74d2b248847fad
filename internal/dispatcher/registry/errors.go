package registry

import (
	"errors"
	"fmt"
)

// Registry errors.
var (
	// ErrInvalidName indicates a command name does not start with a non-word character.
	ErrInvalidName = errors.New("registry: command name must start with a non-word character")

	// ErrInvalidMatcher indicates a matcher pattern failed to compile.
	ErrInvalidMatcher = errors.New("registry: invalid matcher")

	// ErrNoResolver indicates no module resolver handles a path.
	ErrNoResolver = errors.New("registry: no module resolver for path")

	// ErrNotSequence indicates a module did not export a sequence of instructions.
	ErrNotSequence = errors.New("registry: module does not export an instruction sequence")

	// ErrUnknownInstruction indicates an instruction whose command is not "add".
	ErrUnknownInstruction = errors.New("registry: unknown instruction")
)

// ValidationError reports a rejected registration. The registry is left
// unchanged.
type ValidationError struct {
	Name   string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("registry: cannot register %q: %s", e.Name, e.Reason)
	}
	return fmt.Sprintf("registry: cannot register %q: %v", e.Name, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// LoadError reports a failed bulk load.
type LoadError struct {
	Path   string
	Reason string
	Err    error
}

func (e *LoadError) Error() string {
	msg := fmt.Sprintf("registry: loading %s", e.Path)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *LoadError) Unwrap() error {
	return e.Err
}
