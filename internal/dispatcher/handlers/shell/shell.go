package shell

import (
	"regexp"

	"github.com/dshills/magicline/internal/dispatcher/execctx"
	"github.com/dshills/magicline/internal/dispatcher/handler"
	"github.com/dshills/magicline/internal/dispatcher/registry"
)

// CommandExec is the exec command's name and default sigil.
const CommandExec = "!"

// HostExec is the host function rewrite mode calls in place of an exec line.
const HostExec = "magic.exec"

// Handler implements the exec command.
type Handler struct {
	sigil string
}

// NewHandler creates an exec handler for sigil. An empty sigil means "!".
func NewHandler(sigil string) *Handler {
	if sigil == "" {
		sigil = CommandExec
	}
	return &Handler{sigil: sigil}
}

// Sigil returns the prefix that marks an exec line.
func (h *Handler) Sigil() string {
	return h.sigil
}

// Register adds the exec command to reg. Any line starting with the sigil
// matches, with or without a space before the program.
func (h *Handler) Register(reg *registry.Registry) error {
	return reg.Register(registry.Descriptor{
		Name:    h.sigil,
		Matcher: regexp.MustCompile("^" + regexp.QuoteMeta(h.sigil)),
		Handler: handler.NewDirect("exec", h.Handle),
		Help:    h.sigil + "cmd args... (run a shell command)",
		Source:  "builtin",
	})
}

// Handle runs or rewrites one exec line. Execute mode spawns through
// ctx.Exec, which parses the program with the context's sigil.
func (h *Handler) Handle(args []string, ctx *execctx.ExecutionContext) handler.Result {
	if ctx.Mode == execctx.ModeRewrite {
		return h.rewrite(args, ctx)
	}

	done, err := ctx.Exec(args...)
	if err != nil {
		return handler.Error(err)
	}
	return handler.Await(done)
}

func (h *Handler) rewrite(args []string, ctx *execctx.ExecutionContext) handler.Result {
	if ctx.Codegen == nil {
		return handler.Error(execctx.ErrMissingCodegen)
	}
	program, rest, err := execctx.ParseCommand(h.sigil, args)
	if err != nil {
		return handler.Error(err)
	}
	callArgs := append([]string{ctx.Codegen.Quote(ctx.Origin), ctx.Expr(program)}, ctx.Exprs(rest)...)
	return handler.Code(ctx.Codegen.Call(HostExec, callArgs...))
}
