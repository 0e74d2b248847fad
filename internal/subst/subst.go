// Package subst resolves {expr} placeholders inside argument tokens.
//
// A token may be a single placeholder ("{x}") or carry any number of
// placeholders embedded in literal text ("pre{x}post{y}"). The expression
// between the braces may not itself contain braces. Evaluation is delegated
// to an Evaluator; this package only finds the sites and stitches results
// back into the token.
package subst

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// ErrNoEvaluator is returned when a token has placeholders but no evaluator
// was supplied.
var ErrNoEvaluator = errors.New("subst: no evaluator configured")

var placeholder = regexp.MustCompile(`\{([^{}]+)\}`)

// Evaluator evaluates an expression in the ambient runtime and returns its
// string form.
type Evaluator interface {
	Evaluate(ctx context.Context, expr string) (string, error)
}

// EvaluatorFunc adapts a function to the Evaluator interface.
type EvaluatorFunc func(ctx context.Context, expr string) (string, error)

// Evaluate implements Evaluator.
func (f EvaluatorFunc) Evaluate(ctx context.Context, expr string) (string, error) {
	return f(ctx, expr)
}

// Codegen builds host-language expressions. It is the subset of the
// runtime's code generator needed to compile a token.
type Codegen interface {
	// Quote returns a string literal for s.
	Quote(s string) string
	// Stringify wraps expr so that it evaluates to a string.
	Stringify(expr string) string
	// Concat joins expressions with the string concatenation operator.
	Concat(exprs ...string) string
}

// EvalError reports a placeholder whose expression failed to evaluate.
type EvalError struct {
	Token string
	Expr  string
	Err   error
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("subst: evaluating {%s} in %q: %v", e.Expr, e.Token, e.Err)
}

func (e *EvalError) Unwrap() error {
	return e.Err
}

// HasPlaceholder reports whether token contains at least one {expr} site.
func HasPlaceholder(token string) bool {
	return placeholder.MatchString(token)
}

// Substitute replaces every {expr} site in token with its evaluated value.
// Tokens without placeholders are returned unchanged and the evaluator is
// not consulted.
func Substitute(ctx context.Context, token string, eval Evaluator) (string, error) {
	sites := placeholder.FindAllStringSubmatchIndex(token, -1)
	if len(sites) == 0 {
		return token, nil
	}
	if eval == nil {
		return "", ErrNoEvaluator
	}

	out := make([]byte, 0, len(token))
	last := 0
	for _, s := range sites {
		expr := token[s[2]:s[3]]
		val, err := eval.Evaluate(ctx, expr)
		if err != nil {
			return "", &EvalError{Token: token, Expr: expr, Err: err}
		}
		out = append(out, token[last:s[0]]...)
		out = append(out, val...)
		last = s[1]
	}
	out = append(out, token[last:]...)
	return string(out), nil
}

// SubstituteAll applies Substitute to each token in order, stopping at the
// first error.
func SubstituteAll(ctx context.Context, tokens []string, eval Evaluator) ([]string, error) {
	out := make([]string, len(tokens))
	for i, tok := range tokens {
		v, err := Substitute(ctx, tok, eval)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Expression compiles token into a host expression that produces the
// substituted string at run time. Literal text is quoted and each
// placeholder is stringified in place:
//
//	abc      -> "abc"
//	{x}      -> tostring(x)
//	a{x}b    -> "a" .. tostring(x) .. "b"
func Expression(token string, gen Codegen) string {
	sites := placeholder.FindAllStringSubmatchIndex(token, -1)
	if len(sites) == 0 {
		return gen.Quote(token)
	}

	var parts []string
	last := 0
	for _, s := range sites {
		if s[0] > last {
			parts = append(parts, gen.Quote(token[last:s[0]]))
		}
		parts = append(parts, gen.Stringify(token[s[2]:s[3]]))
		last = s[1]
	}
	if last < len(token) {
		parts = append(parts, gen.Quote(token[last:]))
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return gen.Concat(parts...)
}
