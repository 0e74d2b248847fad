// Package handler provides the handler variant and pending result types
// used by the command dispatcher.
package handler

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/dshills/magicline/internal/dispatcher/execctx"
)

// Handler shape errors.
var (
	// ErrNilHandler indicates a descriptor carries no handler.
	ErrNilHandler = errors.New("handler: handler is required")

	// ErrNilFunc indicates a direct handler has no function.
	ErrNilFunc = errors.New("handler: direct handler function is nil")

	// ErrEmptyTarget indicates a named handler has no target.
	ErrEmptyTarget = errors.New("handler: named handler target is empty")

	// ErrInvalidTarget indicates a named handler target is not a function path.
	ErrInvalidTarget = errors.New("handler: named handler target is not a function name")
)

// targetPattern accepts dotted or colon-qualified identifiers such as
// "greet", "util.greet" or "obj:greet".
var targetPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*([.:][A-Za-z_][A-Za-z0-9_]*)*$`)

// Func is the signature of a direct command handler. args holds the line's
// tokens, command token first.
type Func func(args []string, ctx *execctx.ExecutionContext) Result

// Kind identifies a handler variant.
type Kind uint8

const (
	// KindDirect handlers are Go functions.
	KindDirect Kind = iota
	// KindNamed handlers name a host function to call.
	KindNamed
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindDirect:
		return "direct"
	case KindNamed:
		return "named"
	default:
		return "unknown"
	}
}

// Handler is a command handler. It has exactly two implementations,
// Direct and Named.
type Handler interface {
	// Kind returns the handler variant.
	Kind() Kind

	// Describe returns a short human-readable form of the handler.
	Describe() string

	sealed()
}

// Direct invokes a Go function with the line's tokens.
type Direct struct {
	// Name labels the function in listings. Optional.
	Name string

	// Fn is the handler function.
	Fn Func
}

// NewDirect creates a Direct handler.
func NewDirect(name string, fn Func) Direct {
	return Direct{Name: name, Fn: fn}
}

// Kind implements Handler.
func (Direct) Kind() Kind { return KindDirect }

// Describe implements Handler.
func (d Direct) Describe() string {
	if d.Name != "" {
		return d.Name
	}
	return "<func>"
}

func (Direct) sealed() {}

// Invoke calls the handler function.
func (d Direct) Invoke(args []string, ctx *execctx.ExecutionContext) Result {
	if d.Fn == nil {
		return Error(ErrNilFunc)
	}
	return d.Fn(args, ctx)
}

// Named calls a host function by name with the tokens as string arguments.
type Named struct {
	// Target is the host function name.
	Target string
}

// NewNamed creates a Named handler.
func NewNamed(target string) Named {
	return Named{Target: target}
}

// Kind implements Handler.
func (Named) Kind() Kind { return KindNamed }

// Describe implements Handler.
func (n Named) Describe() string { return n.Target }

func (Named) sealed() {}

// CallExpr builds the call expression for the given argument expressions.
func (n Named) CallExpr(gen execctx.CodegenInterface, argExprs []string) string {
	return gen.Call(n.Target, argExprs...)
}

// Validate checks that h is a usable handler.
func Validate(h Handler) error {
	switch v := h.(type) {
	case nil:
		return ErrNilHandler
	case Direct:
		if v.Fn == nil {
			return ErrNilFunc
		}
	case *Direct:
		if v == nil || v.Fn == nil {
			return ErrNilFunc
		}
	case Named:
		return validateTarget(v.Target)
	case *Named:
		if v == nil {
			return ErrEmptyTarget
		}
		return validateTarget(v.Target)
	default:
		return fmt.Errorf("handler: unsupported handler type %T", h)
	}
	return nil
}

func validateTarget(target string) error {
	if target == "" {
		return ErrEmptyTarget
	}
	if !targetPattern.MatchString(target) {
		return fmt.Errorf("%w: %q", ErrInvalidTarget, target)
	}
	return nil
}

// Normalize dereferences pointer variants so callers can switch on values.
func Normalize(h Handler) Handler {
	switch v := h.(type) {
	case *Direct:
		if v != nil {
			return *v
		}
	case *Named:
		if v != nil {
			return *v
		}
	}
	return h
}
