package core

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dshills/magicline/internal/dispatcher/execctx"
	"github.com/dshills/magicline/internal/dispatcher/handler"
	"github.com/dshills/magicline/internal/dispatcher/registry"
)

// Command names.
const (
	CommandEcho      = "%echo"
	CommandAddCmd    = "%addcmd"
	CommandAddMagic  = "%addmagic"
	CommandLoadMagic = "%load_magic"
	CommandRequire   = "%require"
	CommandLsMagic   = "%lsmagic"
)

// HostRequire is the host function rewrite mode calls for %require.
const HostRequire = "magic.require"

// Usage errors.
var (
	// ErrArgCount indicates a command got the wrong number of arguments.
	ErrArgCount = errors.New("wrong number of arguments")

	// ErrCommandName indicates addcmd was given a name without a leading symbol.
	ErrCommandName = errors.New("command name must start with a symbol")
)

// Handler implements the built-in commands.
type Handler struct{}

// NewHandler creates the built-in command handler.
func NewHandler() *Handler {
	return &Handler{}
}

// Register adds the built-in commands to reg. %addcmd is registered twice:
// the second registration overwrites the first in place.
func (h *Handler) Register(reg *registry.Registry) error {
	builtins := []struct {
		name string
		help string
		fn   handler.Func
	}{
		{CommandAddCmd, "%addcmd <name> <function> (register a command)", h.AddCmd},
		{CommandAddCmd, "%addcmd <name> <function> (register a command)", h.AddCmd},
		{CommandAddMagic, "%addmagic <name> <function> (alias of %addcmd)", h.AddCmd},
		{CommandLoadMagic, "%load_magic <module> (register the commands a module exports)", h.LoadMagic},
		{CommandEcho, "%echo args... (write arguments to the output)", h.Echo},
		{CommandRequire, "%require <file> (run a Lua file)", h.Require},
		{CommandLsMagic, "%lsmagic (list commands)", h.LsMagic},
	}
	for _, b := range builtins {
		if err := reg.RegisterFunc(b.name, "", b.help, b.fn); err != nil {
			return err
		}
	}
	return nil
}

// Echo writes its arguments, space-joined, to the output.
func (h *Handler) Echo(args []string, ctx *execctx.ExecutionContext) handler.Result {
	rest := args[1:]
	if ctx.Mode == execctx.ModeRewrite {
		if ctx.Codegen == nil {
			return handler.Error(execctx.ErrMissingCodegen)
		}
		if len(rest) == 0 {
			return handler.Code(ctx.Codegen.Print(ctx.Codegen.Quote("")))
		}
		return handler.Code(ctx.Codegen.Print(ctx.Exprs(rest)...))
	}
	ctx.Println(rest...)
	return handler.Success()
}

// AddCmd registers args[1] as a command calling the host function args[2].
// The registration happens in both modes; rewrite mode also emits a
// statement printing the confirmation.
func (h *Handler) AddCmd(args []string, ctx *execctx.ExecutionContext) handler.Result {
	verb := strings.TrimPrefix(args[0], "%")
	if len(args) != 3 {
		return handler.Errorf("%s expected exactly two arguments but got: '%s': %w",
			verb, strings.Join(args[1:], " "), ErrArgCount)
	}
	name, target := args[1], args[2]
	if ctx.Registry == nil {
		return handler.Error(execctx.ErrMissingRegistry)
	}
	if err := ctx.Registry.RegisterNamed(name, target); err != nil {
		if errors.Is(err, registry.ErrInvalidName) {
			return handler.Errorf("%s expected new command to start with a symbol like '%%' or '.' but got '%s': %w",
				verb, name, ErrCommandName)
		}
		return handler.Error(err)
	}
	return h.report(ctx, registry.Confirmation(name, target))
}

// LoadReport returns the message printed after a bulk load.
func LoadReport(n int) string {
	return fmt.Sprintf("[ load complete: %d instructions performed ]", n)
}

// LoadMagic bulk-registers the commands exported by the module at args[1].
// In execute mode the load runs deferred; later lines of the block are
// only looked up once it has finished.
func (h *Handler) LoadMagic(args []string, ctx *execctx.ExecutionContext) handler.Result {
	if len(args) != 2 {
		return handler.Errorf("load_magic expected exactly one argument but got: '%s': %w",
			strings.Join(args[1:], " "), ErrArgCount)
	}
	if ctx.Registry == nil {
		return handler.Error(execctx.ErrMissingRegistry)
	}
	path := args[1]

	load := func() handler.Result {
		n, err := ctx.Registry.Load(ctx.Context, path)
		if err != nil {
			return handler.Error(err)
		}
		return h.report(ctx, LoadReport(n)).WithValue(n)
	}
	if ctx.Mode == execctx.ModeRewrite {
		return load()
	}
	return handler.Defer(load)
}

// Require runs the Lua file at args[1], resolved against the working
// directory. Execute mode interprets the file, so it may contain command
// lines of its own; rewrite mode emits a magic.require call.
func (h *Handler) Require(args []string, ctx *execctx.ExecutionContext) handler.Result {
	if len(args) != 2 {
		return handler.Errorf("require expected exactly one argument but got: '%s': %w",
			strings.Join(args[1:], " "), ErrArgCount)
	}

	if ctx.Mode == execctx.ModeRewrite {
		if ctx.Codegen == nil {
			return handler.Error(execctx.ErrMissingCodegen)
		}
		return handler.Code(ctx.Codegen.Call(HostRequire, ctx.Expr(args[1])))
	}

	path := args[1]
	if !filepath.IsAbs(path) && ctx.WorkingDir != "" {
		path = filepath.Join(ctx.WorkingDir, path)
	}
	ctx.Printf("[ loading %s ]\n", path)

	src, err := os.ReadFile(path)
	if err != nil {
		return handler.Error(err)
	}

	switch {
	case ctx.Interpret != nil:
		v, err := ctx.Interpret(ctx.Context, string(src))
		if err != nil {
			return handler.Error(fmt.Errorf("require %s: %w", path, err))
		}
		return handler.SuccessWithValue(v)
	case ctx.Executor != nil:
		v, err := ctx.Executor.Execute(ctx.Context, string(src))
		if err != nil {
			return handler.Error(fmt.Errorf("require %s: %w", path, err))
		}
		return handler.SuccessWithValue(v)
	default:
		return handler.Error(execctx.ErrMissingExecutor)
	}
}

// LsMagic lists the registered commands with their help text.
func (h *Handler) LsMagic(args []string, ctx *execctx.ExecutionContext) handler.Result {
	if ctx.Registry == nil {
		return handler.Error(execctx.ErrMissingRegistry)
	}
	cmds := ctx.Registry.Describe()
	width := 0
	for _, c := range cmds {
		width = max(width, len(c.Name))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Available commands (%d):\n", len(cmds))
	for _, c := range cmds {
		fmt.Fprintf(&b, "  %-*s  %s\n", width, c.Name, c.Help)
	}
	listing := strings.TrimSuffix(b.String(), "\n")

	if ctx.Mode == execctx.ModeRewrite {
		return h.report(ctx, listing)
	}
	ctx.Println(listing)
	return handler.SuccessWithValue(cmds)
}

// report prints msg in execute mode and returns a statement printing it in
// rewrite mode.
func (h *Handler) report(ctx *execctx.ExecutionContext, msg string) handler.Result {
	if ctx.Mode == execctx.ModeRewrite {
		if ctx.Codegen == nil {
			return handler.Error(execctx.ErrMissingCodegen)
		}
		return handler.Code(ctx.Codegen.Print(ctx.Codegen.Quote(msg)))
	}
	ctx.Println(msg)
	return handler.SuccessWithMessage(msg)
}
