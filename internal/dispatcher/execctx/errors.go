package execctx

import "errors"

// Context validation errors.
var (
	// ErrMissingRegistry indicates the registry is required but not set.
	ErrMissingRegistry = errors.New("execution context: registry is required")

	// ErrMissingShell indicates a shell runner is required but not set.
	ErrMissingShell = errors.New("execution context: shell is required")

	// ErrMissingCodegen indicates a code generator is required but not set.
	ErrMissingCodegen = errors.New("execution context: codegen is required")

	// ErrMissingExecutor indicates an executor is required but not set.
	ErrMissingExecutor = errors.New("execution context: executor is required")

	// ErrMissingInterpreter indicates the recursive entry point is not set.
	ErrMissingInterpreter = errors.New("execution context: interpreter is required")

	// ErrNoProgram indicates an exec line named no program to run.
	ErrNoProgram = errors.New("execution context: exec requires a program")
)
