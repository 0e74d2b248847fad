package lua

import "errors"

// Errors for Lua runtime operations.
var (
	// ErrStateClosed is returned when operating on a closed state.
	ErrStateClosed = errors.New("lua state is closed")

	// ErrPanic wraps a Go panic raised while running Lua.
	ErrPanic = errors.New("lua panic")

	// ErrNotInstructionList is returned when a command module does not
	// return an array of tables.
	ErrNotInstructionList = errors.New("lua module must return an array of instruction tables")

	// ErrNoHandler is returned for an instruction with neither fn nor target.
	ErrNoHandler = errors.New("instruction needs fn or target")

	// ErrNoShell is returned by magic.exec when no shell is configured.
	ErrNoShell = errors.New("magic.exec: no shell configured")

	// ErrNoRegistry is returned by magic.add when no registry is configured.
	ErrNoRegistry = errors.New("magic.add: no registry configured")
)
