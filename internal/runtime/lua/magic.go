package lua

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/magicline/internal/dispatcher/execctx"
	"github.com/dshills/magicline/internal/dispatcher/handler"
	"github.com/dshills/magicline/internal/dispatcher/registry"
)

// HostModule is the global table the runtime installs for generated code.
const HostModule = "magic"

// installHost installs the magic module:
//
//	magic.exec(origin, program, ...)   run a shell command, error on nonzero exit
//	magic.require(path)                run a Lua file relative to the working dir
//	magic.add(name, fn|target [, matcher [, help]])
//	magic.echo(...)                    print arguments joined by spaces
//	magic.error(msg)                   write msg to the error output
func (r *Runtime) installHost() {
	r.state.RegisterModule(HostModule, map[string]lua.LGFunction{
		"exec":    r.luaExec,
		"require": r.luaRequire,
		"add":     r.luaAdd,
		"echo":    r.luaEcho,
		"error":   r.luaError,
	})
}

func (r *Runtime) luaExec(L *lua.LState) int {
	origin := L.CheckString(1)
	program := L.CheckString(2)
	args := make([]string, 0, L.GetTop()-2)
	for i := 3; i <= L.GetTop(); i++ {
		args = append(args, L.ToStringMeta(L.Get(i)).String())
	}

	host := r.hostSnapshot()
	if host.shell == nil {
		L.RaiseError("%s", ErrNoShell.Error())
		return 0
	}

	ctx := L.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	done, err := host.shell.Run(ctx, execctx.ShellRequest{
		Origin:  origin,
		Program: program,
		Args:    args,
		Stdout:  host.stdout,
		Stderr:  host.stderr,
	})
	if err != nil {
		L.RaiseError("%s", err.Error())
		return 0
	}

	var exitErr error
	select {
	case exitErr = <-done:
	case <-ctx.Done():
		L.RaiseError("%s", ctx.Err().Error())
		return 0
	}
	if exitErr != nil {
		L.RaiseError("%s", exitErr.Error())
		return 0
	}
	L.Push(lua.LNumber(0))
	return 1
}

func (r *Runtime) luaRequire(L *lua.LState) int {
	path := L.CheckString(1)
	if dir := r.hostSnapshot().workingDir; !filepath.IsAbs(path) && dir != "" {
		path = filepath.Join(dir, path)
	}
	fmt.Fprintf(r.hostSnapshot().stdout, "[ loading %s ]\n", path)

	fn, err := L.LoadFile(path)
	if err != nil {
		L.RaiseError("%s", err.Error())
		return 0
	}
	top := L.GetTop()
	L.Push(fn)
	L.Call(0, lua.MultRet)
	return L.GetTop() - top
}

func (r *Runtime) luaAdd(L *lua.LState) int {
	name := L.CheckString(1)
	target := L.CheckAny(2)
	matcher := L.OptString(3, "")
	help := L.OptString(4, "")

	reg := r.hostSnapshot().registry
	if reg == nil {
		L.RaiseError("%s", ErrNoRegistry.Error())
		return 0
	}

	d := registry.Descriptor{Name: name, Help: help, Source: "lua"}
	switch t := target.(type) {
	case *lua.LFunction:
		d.Handler = r.functionHandler(name, t)
	case lua.LString:
		d.Handler = handler.NewNamed(string(t))
	default:
		L.ArgError(2, "function or function name expected")
		return 0
	}
	if matcher != "" {
		m, err := regexp.Compile(matcher)
		if err != nil {
			L.ArgError(3, err.Error())
			return 0
		}
		d.Matcher = m
	}

	if err := reg.Register(d); err != nil {
		L.RaiseError("%s", err.Error())
		return 0
	}
	L.Push(lua.LString(registry.Confirmation(name, d.Handler.Describe())))
	return 1
}

func (r *Runtime) luaEcho(L *lua.LState) int {
	parts := make([]string, L.GetTop())
	for i := range parts {
		parts[i] = L.ToStringMeta(L.Get(i + 1)).String()
	}
	fmt.Fprintln(r.hostSnapshot().stdout, strings.Join(parts, " "))
	return 0
}

func (r *Runtime) luaError(L *lua.LState) int {
	msg := L.ToStringMeta(L.CheckAny(1)).String()
	fmt.Fprintln(r.hostSnapshot().stderr, msg)
	return 0
}

// functionHandler wraps a Lua function as a direct command handler. The
// function receives every token of the line as a string, the command token
// first. In rewrite mode a string return value is the replacement code.
func (r *Runtime) functionHandler(name string, fn *lua.LFunction) handler.Direct {
	return handler.NewDirect(name, func(args []string, ctx *execctx.ExecutionContext) handler.Result {
		vals, err := r.state.Call(ctx.Context, fn, stringsToLua(args)...)
		if err != nil {
			return handler.Error(err)
		}
		var first lua.LValue = lua.LNil
		if len(vals) > 0 {
			first = vals[0]
		}
		if ctx.Mode == execctx.ModeRewrite {
			if s, ok := first.(lua.LString); ok {
				return handler.Code(string(s))
			}
			return handler.Code("")
		}
		return handler.SuccessWithValue(ToGoValue(first))
	})
}
