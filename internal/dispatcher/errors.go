package dispatcher

import (
	"errors"
	"fmt"
	"strings"
)

// Dispatcher errors.
var (
	// ErrNoExecutor indicates execute mode was used without an executor.
	ErrNoExecutor = errors.New("dispatcher: no executor configured")

	// ErrNoCodegen indicates a named handler or rewrite mode was used
	// without a code generator.
	ErrNoCodegen = errors.New("dispatcher: no code generator configured")

	// ErrPanic indicates the handler panicked.
	ErrPanic = errors.New("dispatcher: handler panic")

	// ErrUnsupportedHandler indicates a descriptor handler of unknown kind.
	ErrUnsupportedHandler = errors.New("dispatcher: unsupported handler")
)

// MagicKind distinguishes line magics from cell magics.
type MagicKind uint8

const (
	// LineMagic is a %name directive.
	LineMagic MagicKind = iota
	// CellMagic is a %%name directive.
	CellMagic
)

// String returns the kind name.
func (k MagicKind) String() string {
	if k == CellMagic {
		return "cell"
	}
	return "line"
}

// UnknownMagicError reports a line that looks like a magic invocation but
// matched no registered command. It aborts the whole block.
type UnknownMagicError struct {
	Kind MagicKind
	Name string
	Line int
}

func (e *UnknownMagicError) Error() string {
	if e.Kind == CellMagic {
		return fmt.Sprintf("UsageError: Cell magic '%s' not found.", e.Name)
	}
	return fmt.Sprintf("UsageError: Line magic function '%s' not found.", e.Name)
}

// checkUnknown returns an UnknownMagicError when command looks like a magic.
func checkUnknown(command string, line int) error {
	switch {
	case strings.HasPrefix(command, "%%"):
		return &UnknownMagicError{Kind: CellMagic, Name: command, Line: line}
	case strings.HasPrefix(command, "%"):
		return &UnknownMagicError{Kind: LineMagic, Name: command, Line: line}
	}
	return nil
}

// HandlerError reports a handler failure, raised synchronously or by a
// deferred computation that later failed.
type HandlerError struct {
	Command string
	Line    int
	Source  string
	Err     error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("%s (line %d): %v", e.Command, e.Line, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

// CodeError reports a failure executing buffered code lines.
type CodeError struct {
	// Line is the first line of the failing code run (1-based).
	Line int
	Err  error
}

func (e *CodeError) Error() string {
	return fmt.Sprintf("code starting at line %d: %v", e.Line, e.Err)
}

func (e *CodeError) Unwrap() error {
	return e.Err
}
