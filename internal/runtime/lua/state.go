package lua

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// State wraps a gopher-lua state behind a mutex.
//
// gopher-lua's LState is not goroutine-safe. Every exported method takes
// the mutex; Go functions called back from Lua already run under it and
// must use the *lua.LState they are handed instead of State methods.
type State struct {
	L *lua.LState

	mu sync.Mutex

	timeout time.Duration
	openOS  bool
	out     io.Writer

	closed bool
}

// StateOption configures a State.
type StateOption func(*State)

// WithTimeout bounds each call into Lua. Zero disables the bound; the
// caller's context still applies.
func WithTimeout(d time.Duration) StateOption {
	return func(s *State) {
		s.timeout = d
	}
}

// WithOS opens the os and io libraries.
func WithOS(open bool) StateOption {
	return func(s *State) {
		s.openOS = open
	}
}

// WithPrintOutput sends Lua's print to w.
func WithPrintOutput(w io.Writer) StateOption {
	return func(s *State) {
		if w != nil {
			s.out = w
		}
	}
}

// NewState creates a Lua state with the base, table, string, and math
// libraries, plus package, os, and io when WithOS is set.
func NewState(opts ...StateOption) *State {
	s := &State{out: io.Discard}
	for _, opt := range opts {
		opt(s)
	}

	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
	lua.OpenCoroutine(L)
	if s.openOS {
		lua.OpenPackage(L)
		lua.OpenOs(L)
		lua.OpenIo(L)
	}
	s.L = L

	L.SetGlobal("print", L.NewFunction(s.print))
	return s
}

// print writes its arguments tab-separated, as Lua's print does, to the
// state's output writer.
func (s *State) print(L *lua.LState) int {
	n := L.GetTop()
	parts := make([]string, n)
	for i := 1; i <= n; i++ {
		parts[i-1] = L.ToStringMeta(L.Get(i)).String()
	}
	_, _ = io.WriteString(s.out, strings.Join(parts, "\t")+"\n")
	return 0
}

// SetPrintOutput redirects print.
func (s *State) SetPrintOutput(w io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w == nil {
		w = io.Discard
	}
	s.out = w
}

// Do loads code as a chunk named name, runs it, and returns what it
// returns.
func (s *State) Do(ctx context.Context, name, code string) ([]lua.LValue, error) {
	return s.with(ctx, func(L *lua.LState) ([]lua.LValue, error) {
		fn, err := L.Load(strings.NewReader(code), name)
		if err != nil {
			return nil, err
		}
		return callValues(L, fn)
	})
}

// DoFile runs the Lua file at path and returns what it returns.
func (s *State) DoFile(ctx context.Context, path string) ([]lua.LValue, error) {
	return s.with(ctx, func(L *lua.LState) ([]lua.LValue, error) {
		fn, err := L.LoadFile(path)
		if err != nil {
			return nil, err
		}
		return callValues(L, fn)
	})
}

// Call calls fn with args.
func (s *State) Call(ctx context.Context, fn lua.LValue, args ...lua.LValue) ([]lua.LValue, error) {
	return s.with(ctx, func(L *lua.LState) ([]lua.LValue, error) {
		return callValues(L, fn, args...)
	})
}

// SetGlobal sets a global variable.
func (s *State) SetGlobal(name string, value lua.LValue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.L.SetGlobal(name, value)
}

// GetGlobal returns a global variable.
func (s *State) GetGlobal(name string) lua.LValue {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return lua.LNil
	}
	return s.L.GetGlobal(name)
}

// RegisterModule installs funcs as the global table name.
func (s *State) RegisterModule(name string, funcs map[string]lua.LGFunction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.L.SetGlobal(name, s.L.SetFuncs(s.L.NewTable(), funcs))
}

// IsClosed reports whether the state has been closed.
func (s *State) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close releases the Lua state.
func (s *State) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.L.Close()
	s.closed = true
	return nil
}

// with runs fn under the mutex with ctx attached to the LState.
func (s *State) with(ctx context.Context, fn func(L *lua.LState) ([]lua.LValue, error)) (vals []lua.LValue, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStateClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	s.L.SetContext(ctx)
	defer s.L.RemoveContext()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()

	vals, err = fn(s.L)
	if err != nil && ctx.Err() != nil {
		err = fmt.Errorf("%w: %v", ctx.Err(), err)
	}
	return vals, err
}

// callValues calls fn with args on L and pops every returned value.
func callValues(L *lua.LState, fn lua.LValue, args ...lua.LValue) ([]lua.LValue, error) {
	top := L.GetTop()
	L.Push(fn)
	for _, a := range args {
		L.Push(a)
	}
	if err := L.PCall(len(args), lua.MultRet, nil); err != nil {
		L.SetTop(top)
		return nil, err
	}
	n := L.GetTop() - top
	vals := make([]lua.LValue, n)
	for i := 0; i < n; i++ {
		vals[i] = L.Get(top + i + 1)
	}
	L.SetTop(top)
	return vals, nil
}
