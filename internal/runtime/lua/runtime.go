package lua

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"

	"github.com/dshills/magicline/internal/dispatcher/execctx"
	"github.com/dshills/magicline/internal/dispatcher/registry"
	"github.com/dshills/magicline/internal/logging"
)

// Runtime is the Lua side of the interpreter: it runs buffered code,
// evaluates {expr} placeholders, generates rewrite-mode code, and loads
// Lua command modules. It is safe for concurrent use.
type Runtime struct {
	Codegen

	state  *State
	logger *logging.Logger

	mu   sync.RWMutex
	host host
}

// host holds the collaborators the magic module calls into.
type host struct {
	shell      execctx.ShellInterface
	registry   *registry.Registry
	stdout     io.Writer
	stderr     io.Writer
	workingDir string
}

// Option configures a Runtime.
type Option func(*options)

type options struct {
	timeout time.Duration
	openOS  bool
	logger  *logging.Logger
}

// WithCallTimeout bounds each call into Lua.
func WithCallTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// WithOSLibraries opens the os, io, and package libraries.
func WithOSLibraries(open bool) Option {
	return func(o *options) {
		o.openOS = open
	}
}

// WithLogger sets the runtime's logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// New creates a Lua runtime with the magic host module installed.
func New(opts ...Option) *Runtime {
	o := options{logger: logging.Null()}
	for _, opt := range opts {
		opt(&o)
	}

	r := &Runtime{
		state:  NewState(WithTimeout(o.timeout), WithOS(o.openOS)),
		logger: o.logger.WithComponent("lua"),
		host:   host{stdout: io.Discard, stderr: io.Discard},
	}
	r.installHost()
	return r
}

// SetOutput directs print, magic.echo, and exec output to stdout and
// magic.error to stderr.
func (r *Runtime) SetOutput(stdout, stderr io.Writer) {
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	r.mu.Lock()
	r.host.stdout = stdout
	r.host.stderr = stderr
	r.mu.Unlock()
	r.state.SetPrintOutput(stdout)
}

// SetShell sets the runner magic.exec spawns commands with.
func (r *Runtime) SetShell(shell execctx.ShellInterface) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.host.shell = shell
}

// SetRegistry sets the registry magic.add registers into.
func (r *Runtime) SetRegistry(reg *registry.Registry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.host.registry = reg
}

// SetWorkingDir sets the directory magic.require resolves against.
func (r *Runtime) SetWorkingDir(dir string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.host.workingDir = dir
}

func (r *Runtime) hostSnapshot() host {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.host
}

// State returns the underlying Lua state.
func (r *Runtime) State() *State {
	return r.state
}

// Execute runs code as one chunk and returns its first return value
// converted to Go, or nil.
func (r *Runtime) Execute(ctx context.Context, code string) (any, error) {
	vals, err := r.state.Do(ctx, "<block>", code)
	if err != nil {
		r.logger.Debug("execute failed: %v", err)
		return nil, err
	}
	if len(vals) == 0 {
		return nil, nil
	}
	return ToGoValue(vals[0]), nil
}

// Evaluate evaluates a Lua expression and returns it converted with
// tostring.
func (r *Runtime) Evaluate(ctx context.Context, expr string) (string, error) {
	var out string
	_, err := r.state.with(ctx, func(L *lua.LState) ([]lua.LValue, error) {
		fn, err := L.Load(strings.NewReader("return ("+expr+")"), "<expr>")
		if err != nil {
			return nil, err
		}
		vals, err := callValues(L, fn)
		if err != nil {
			return nil, err
		}
		v := lua.LValue(lua.LNil)
		if len(vals) > 0 {
			v = vals[0]
		}
		out = L.ToStringMeta(v).String()
		return nil, nil
	})
	return out, err
}

// IsComplete reports whether src parses as a complete Lua chunk. Source
// that fails only because it ended early (an open block, call, string, or
// comment) is incomplete; any other syntax error counts as complete so the
// caller submits it and sees the error.
func IsComplete(src string) bool {
	_, err := parse.Parse(strings.NewReader(src), "<input>")
	if err == nil {
		return true
	}
	var perr *parse.Error
	if !errors.As(err, &perr) {
		return true
	}
	if perr.Pos.Line == parse.EOF {
		return false
	}
	switch perr.Message {
	case "unterminated multiline string", "invalid multiline comment":
		return false
	}
	return true
}

// Resolver returns a module resolver loading .lua command modules.
func (r *Runtime) Resolver() registry.ModuleResolver {
	return registry.ResolverFunc(r.LoadInstructions)
}

// LoadInstructions runs the Lua module at path and converts the array it
// returns into instructions:
//
//	return {
//	  {command = "add", name = "%hi", fn = function(cmd, ...) ... end},
//	  {command = "add", name = "%bye", target = "farewell", help = "..."},
//	}
func (r *Runtime) LoadInstructions(ctx context.Context, path string) ([]registry.Instruction, error) {
	var insts []registry.Instruction
	_, err := r.state.with(ctx, func(L *lua.LState) ([]lua.LValue, error) {
		fn, err := L.LoadFile(path)
		if err != nil {
			return nil, err
		}
		vals, err := callValues(L, fn)
		if err != nil {
			return nil, err
		}
		if len(vals) == 0 {
			return nil, ErrNotInstructionList
		}
		insts, err = r.instructions(vals[0])
		return nil, err
	})
	if err != nil {
		return nil, err
	}
	return insts, nil
}

func (r *Runtime) instructions(v lua.LValue) ([]registry.Instruction, error) {
	tbl, ok := v.(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("%w: got %s", ErrNotInstructionList, v.Type())
	}
	n := arrayLen(tbl)
	if n == 0 {
		// only an empty table may have no array part
		var keyed bool
		tbl.ForEach(func(_, _ lua.LValue) { keyed = true })
		if keyed {
			return nil, ErrNotInstructionList
		}
	}

	insts := make([]registry.Instruction, 0, n)
	for i := 1; i <= n; i++ {
		rec, ok := tbl.RawGetInt(i).(*lua.LTable)
		if !ok {
			return nil, fmt.Errorf("%w: element %d is %s", ErrNotInstructionList, i, tbl.RawGetInt(i).Type())
		}
		inst := registry.Instruction{
			Command: luaString(rec, "command"),
			Name:    luaString(rec, "name"),
			Target:  luaString(rec, "target"),
			Matcher: luaString(rec, "matcher"),
			Help:    luaString(rec, "help"),
		}
		if fn, ok := rec.RawGetString("fn").(*lua.LFunction); ok {
			inst.Handler = r.functionHandler(inst.Name, fn)
		}
		if inst.Command == registry.CommandAdd && inst.Handler == nil && inst.Target == "" {
			return nil, fmt.Errorf("element %d (%s): %w", i, inst.Name, ErrNoHandler)
		}
		insts = append(insts, inst)
	}
	return insts, nil
}

func luaString(t *lua.LTable, key string) string {
	if s, ok := t.RawGetString(key).(lua.LString); ok {
		return string(s)
	}
	return ""
}

// Close releases the Lua state.
func (r *Runtime) Close() error {
	return r.state.Close()
}
