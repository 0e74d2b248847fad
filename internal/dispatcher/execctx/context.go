// Package execctx provides the invocation context handed to command handlers.
package execctx

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/dshills/magicline/internal/logging"
	"github.com/dshills/magicline/internal/subst"
)

// Mode selects how the dispatcher treats handler results.
type Mode uint8

const (
	// ModeExecute folds handler results live, running code as it goes.
	ModeExecute Mode = iota
	// ModeRewrite treats handler results as replacement source text.
	ModeRewrite
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeExecute:
		return "execute"
	case ModeRewrite:
		return "rewrite"
	default:
		return "unknown"
	}
}

// ParseMode parses a mode name.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "execute", "exec":
		return ModeExecute, nil
	case "rewrite", "transpile":
		return ModeRewrite, nil
	default:
		return ModeExecute, fmt.Errorf("execution context: unknown mode %q", s)
	}
}

// CommandInfo describes one registered command for listings.
type CommandInfo struct {
	Name   string
	Help   string
	Source string
}

// RegistryInterface abstracts the live command registry for handlers.
type RegistryInterface interface {
	// RegisterNamed registers name as a command calling the host function target.
	RegisterNamed(name, target string) error

	// Load bulk-registers the instructions exported by the module at path and
	// returns how many were applied.
	Load(ctx context.Context, path string) (int, error)

	// Has reports whether name is registered.
	Has(name string) bool

	// Describe lists registered commands in registration order.
	Describe() []CommandInfo
}

// ShellRequest describes one child process to spawn.
type ShellRequest struct {
	// Origin tags the request in logs.
	Origin string
	// Program is the program to run.
	Program string
	// Args are passed after the program, joined by spaces.
	Args []string
	// Stdout and Stderr receive the child's output line by line.
	Stdout io.Writer
	Stderr io.Writer
}

// Command returns the shell command line for the request.
func (r ShellRequest) Command() string {
	return strings.Join(append([]string{r.Program}, r.Args...), " ")
}

// ShellInterface spawns child processes through a shell.
type ShellInterface interface {
	// Run starts the request. The returned channel receives exactly one
	// value when the process exits: nil on exit code 0, an error otherwise.
	Run(ctx context.Context, req ShellRequest) (<-chan error, error)
}

// ExecutorInterface runs host-language code.
type ExecutorInterface interface {
	Execute(ctx context.Context, code string) (any, error)
}

// CodegenInterface generates host-language source fragments.
type CodegenInterface interface {
	subst.Codegen

	// Call returns a call expression for fn with the given argument expressions.
	Call(fn string, args ...string) string

	// Print returns a statement printing the given expressions space-joined.
	Print(exprs ...string) string

	// ErrorPrint returns a statement reporting msg on the error channel.
	ErrorPrint(msg string) string
}

// ExecutionContext is created fresh for each interpreted block and handed
// to every handler invoked while interpreting it.
type ExecutionContext struct {
	// Context governs cancellation of blocking work started by handlers.
	Context context.Context

	// Mode is the dispatcher's operating mode for this block.
	Mode Mode

	// Registry is the live command registry.
	Registry RegistryInterface

	// Shell spawns child processes for exec.
	Shell ShellInterface

	// Executor runs host code (execute mode only).
	Executor ExecutorInterface

	// Codegen builds host source fragments (rewrite mode).
	Codegen CodegenInterface

	// Output and Errors are the interpreter's output channels.
	Output io.Writer
	Errors io.Writer

	// History holds previously interpreted blocks of the session, oldest first.
	History []string

	// Interpret re-enters the interpreter on generated source.
	Interpret func(ctx context.Context, src string) (any, error)

	// Origin tags exec requests; Sigil is the default exec sigil.
	Origin string
	Sigil  string

	// WorkingDir resolves relative paths.
	WorkingDir string

	Logger *logging.Logger

	// Line and LineNumber identify the line being handled (1-based).
	Line       string
	LineNumber int
}

// New creates a new execution context with defaults.
func New() *ExecutionContext {
	return &ExecutionContext{
		Context: context.Background(),
		Output:  io.Discard,
		Errors:  io.Discard,
		Origin:  "(magicline exec)",
		Sigil:   "!",
		Logger:  logging.Null(),
	}
}

// WithMode returns the context with the mode set.
func (ctx *ExecutionContext) WithMode(mode Mode) *ExecutionContext {
	ctx.Mode = mode
	return ctx
}

// WithRegistry returns the context with the registry set.
func (ctx *ExecutionContext) WithRegistry(reg RegistryInterface) *ExecutionContext {
	ctx.Registry = reg
	return ctx
}

// WithShell returns the context with the shell set.
func (ctx *ExecutionContext) WithShell(shell ShellInterface) *ExecutionContext {
	ctx.Shell = shell
	return ctx
}

// WithExecutor returns the context with the executor set.
func (ctx *ExecutionContext) WithExecutor(exec ExecutorInterface) *ExecutionContext {
	ctx.Executor = exec
	return ctx
}

// WithCodegen returns the context with the code generator set.
func (ctx *ExecutionContext) WithCodegen(gen CodegenInterface) *ExecutionContext {
	ctx.Codegen = gen
	return ctx
}

// WithOutput returns the context with both output channels set.
func (ctx *ExecutionContext) WithOutput(stdout, stderr io.Writer) *ExecutionContext {
	if stdout != nil {
		ctx.Output = stdout
	}
	if stderr != nil {
		ctx.Errors = stderr
	}
	return ctx
}

// WithHistory returns the context with a copy of history set.
func (ctx *ExecutionContext) WithHistory(history []string) *ExecutionContext {
	ctx.History = append([]string(nil), history...)
	return ctx
}

// WithLine returns a shallow copy of the context positioned at a line.
func (ctx *ExecutionContext) WithLine(line string, number int) *ExecutionContext {
	c := *ctx
	c.Line = line
	c.LineNumber = number
	return &c
}

// Printf writes formatted text to the output channel.
func (ctx *ExecutionContext) Printf(format string, args ...any) {
	fmt.Fprintf(ctx.Output, format, args...)
}

// Println writes the space-joined values and a newline to the output channel.
func (ctx *ExecutionContext) Println(args ...string) {
	fmt.Fprintln(ctx.Output, strings.Join(args, " "))
}

// Expr compiles token into a host expression, resolving {expr} placeholders
// at run time.
func (ctx *ExecutionContext) Expr(token string) string {
	return subst.Expression(token, ctx.Codegen)
}

// Exprs compiles each token with Expr.
func (ctx *ExecutionContext) Exprs(tokens []string) []string {
	out := make([]string, len(tokens))
	for i, tok := range tokens {
		out[i] = ctx.Expr(tok)
	}
	return out
}

// ParseCommand splits exec tokens into program and arguments. A standalone
// sigil token consumes the following token as the program; otherwise the
// program is the first token with the sigil stripped.
func ParseCommand(sigil string, tokens []string) (program string, args []string, err error) {
	if len(tokens) == 0 {
		return "", nil, ErrNoProgram
	}
	first := tokens[0]
	rest := tokens[1:]
	if first == sigil {
		if len(rest) == 0 || rest[0] == "" {
			return "", nil, ErrNoProgram
		}
		return rest[0], rest[1:], nil
	}
	program = strings.TrimPrefix(first, sigil)
	if program == "" {
		return "", nil, ErrNoProgram
	}
	return program, rest, nil
}

// Exec spawns the program named by tokens (sigil form, as typed on an exec
// line) with the context's origin tag, streaming to the output channels.
func (ctx *ExecutionContext) Exec(tokens ...string) (<-chan error, error) {
	if ctx.Shell == nil {
		return nil, ErrMissingShell
	}
	program, args, err := ParseCommand(ctx.Sigil, tokens)
	if err != nil {
		return nil, err
	}
	return ctx.Shell.Run(ctx.Context, ShellRequest{
		Origin:  ctx.Origin,
		Program: program,
		Args:    args,
		Stdout:  ctx.Output,
		Stderr:  ctx.Errors,
	})
}

// Validate checks that the context has the components its mode needs.
func (ctx *ExecutionContext) Validate() error {
	if ctx.Registry == nil {
		return ErrMissingRegistry
	}
	if ctx.Mode == ModeRewrite && ctx.Codegen == nil {
		return ErrMissingCodegen
	}
	if ctx.Mode == ModeExecute && ctx.Executor == nil {
		return ErrMissingExecutor
	}
	return nil
}
