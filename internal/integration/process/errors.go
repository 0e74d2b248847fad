package process

import (
	"errors"
	"fmt"
)

// Sentinel errors for the process package.
var (
	// ErrProcessNotStarted is returned when an operation needs a started process.
	ErrProcessNotStarted = errors.New("process not started")

	// ErrProcessAlreadyStarted is returned when starting a process twice.
	ErrProcessAlreadyStarted = errors.New("process already started")

	// ErrProcessNotRunning is returned when signalling a process that has exited.
	ErrProcessNotRunning = errors.New("process not running")

	// ErrProcessNotFound is returned when a process ID is not tracked.
	ErrProcessNotFound = errors.New("process not found")

	// ErrSupervisorShutdown is returned when starting a process after shutdown began.
	ErrSupervisorShutdown = errors.New("supervisor is shutting down")

	// ErrProcessLimit is returned when the supervisor's process limit is reached.
	ErrProcessLimit = errors.New("process limit reached")

	// ErrEmptyCommand is returned when a Spec has no command line.
	ErrEmptyCommand = errors.New("empty command")
)

// ExitError reports a child that exited with a nonzero code.
type ExitError struct {
	// Command is the command line that was run.
	Command string

	// Code is the exit code; 128+N when killed by signal N.
	Code int

	// Signaled is true when the child was terminated by a signal.
	Signaled bool

	// Err is the underlying wait error, if any.
	Err error
}

// Error implements the error interface.
func (e *ExitError) Error() string {
	if e.Signaled {
		return fmt.Sprintf("process '%s' killed (exit code %d)", e.Command, e.Code)
	}
	return fmt.Sprintf("process '%s' exited with code %d", e.Command, e.Code)
}

// Unwrap returns the underlying error.
func (e *ExitError) Unwrap() error {
	return e.Err
}
