package dispatcher_test

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/dshills/magicline/internal/dispatcher"
	"github.com/dshills/magicline/internal/dispatcher/execctx"
	"github.com/dshills/magicline/internal/dispatcher/handler"
)

func TestNewWithDefaults(t *testing.T) {
	d := dispatcher.NewWithDefaults()

	if d == nil {
		t.Fatal("expected non-nil dispatcher")
	}
	if d.Registry() == nil {
		t.Error("expected non-nil registry")
	}
	// Metrics should be nil by default
	if d.Metrics() != nil {
		t.Error("expected nil metrics by default")
	}
	if d.Config().Mode != execctx.ModeExecute {
		t.Error("expected execute mode by default")
	}
}

func TestNewWithMetrics(t *testing.T) {
	d := dispatcher.New(dispatcher.DefaultConfig().WithMetrics(), nil)
	if d.Metrics() == nil {
		t.Error("expected non-nil metrics when enabled")
	}
}

func TestExecute_CodeOnlyBlock(t *testing.T) {
	d, rec := newTestDispatcher(dispatcher.DefaultConfig())

	v, err := d.Execute(context.Background(), "x = 1\ny = 2").Wait(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "x = 1\ny = 2" {
		t.Errorf("value = %v", v)
	}
	if got := rec.list(); len(got) != 1 || got[0] != "exec:x = 1\ny = 2" {
		t.Errorf("events = %q", got)
	}
}

func TestExecute_EchoScenario(t *testing.T) {
	d, _ := newTestDispatcher(dispatcher.DefaultConfig())
	var out bytes.Buffer
	d.SetOutput(&out, nil)

	_ = d.Registry().RegisterFunc("%echo", "", "", func(args []string, ctx *execctx.ExecutionContext) handler.Result {
		ctx.Println(args[1:]...)
		return handler.Success()
	})

	if _, err := d.Execute(context.Background(), "%echo hello world").Wait(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.String() != "hello world\n" {
		t.Errorf("output = %q", out.String())
	}
}

func TestExecute_OrderPreservedAcrossDeferred(t *testing.T) {
	d, rec := newTestDispatcher(dispatcher.DefaultConfig())

	_ = d.Registry().RegisterFunc("%slow", "", "", func(args []string, ctx *execctx.ExecutionContext) handler.Result {
		return handler.Defer(func() handler.Result {
			time.Sleep(30 * time.Millisecond)
			rec.add("slow")
			return handler.Success()
		})
	})

	r := d.Execute(context.Background(), "a = 1\n%slow\nb = 2")
	if !r.IsAsync() {
		t.Fatal("expected a deferred block result")
	}
	if _, err := r.Wait(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"exec:a = 1", "slow", "exec:b = 2"}
	if got := rec.list(); !reflect.DeepEqual(got, want) {
		t.Errorf("events = %q, want %q", got, want)
	}
}

func TestExecute_UnknownMagicAbortsBlock(t *testing.T) {
	tests := []struct {
		line string
		kind dispatcher.MagicKind
	}{
		{"%%nonexistent foo", dispatcher.CellMagic},
		{"%nonexistent foo", dispatcher.LineMagic},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			d, rec := newTestDispatcher(dispatcher.DefaultConfig())

			_, err := d.Execute(context.Background(), "x = 1\n"+tt.line+"\ny = 2").Wait(context.Background())

			var umErr *dispatcher.UnknownMagicError
			if !errors.As(err, &umErr) {
				t.Fatalf("expected UnknownMagicError, got %v", err)
			}
			if umErr.Kind != tt.kind || umErr.Line != 2 {
				t.Errorf("unexpected error fields: %+v", umErr)
			}
			if len(rec.list()) != 0 {
				t.Errorf("no code should run after an unknown magic, got %q", rec.list())
			}
		})
	}
}

func TestUnknownMagicMessages(t *testing.T) {
	cell := &dispatcher.UnknownMagicError{Kind: dispatcher.CellMagic, Name: "%%x"}
	if cell.Error() != "UsageError: Cell magic '%%x' not found." {
		t.Errorf("cell message = %q", cell.Error())
	}
	line := &dispatcher.UnknownMagicError{Kind: dispatcher.LineMagic, Name: "%x"}
	if line.Error() != "UsageError: Line magic function '%x' not found." {
		t.Errorf("line message = %q", line.Error())
	}
}

func TestExecute_HandlerErrorAbortsRemainingLines(t *testing.T) {
	d, rec := newTestDispatcher(dispatcher.DefaultConfig())
	boom := errors.New("boom")

	_ = d.Registry().RegisterFunc("%fail", "", "", func([]string, *execctx.ExecutionContext) handler.Result {
		return handler.Error(boom)
	})

	_, err := d.Execute(context.Background(), "a = 1\n%fail now\nb = 2").Wait(context.Background())

	var herr *dispatcher.HandlerError
	if !errors.As(err, &herr) {
		t.Fatalf("expected HandlerError, got %v", err)
	}
	if herr.Command != "%fail" || herr.Line != 2 || !errors.Is(err, boom) {
		t.Errorf("unexpected HandlerError %+v", herr)
	}
	if got := rec.list(); len(got) != 1 || got[0] != "exec:a = 1" {
		t.Errorf("events = %q", got)
	}
}

func TestExecute_DeferredFailureSurfacesAtSettlement(t *testing.T) {
	d, rec := newTestDispatcher(dispatcher.DefaultConfig())
	exitErr := errors.New("exit status 3")

	_ = d.Registry().RegisterFunc("!", "^!", "", func([]string, *execctx.ExecutionContext) handler.Result {
		ch := make(chan error, 1)
		go func() {
			time.Sleep(10 * time.Millisecond)
			ch <- exitErr
		}()
		return handler.Await(ch)
	})

	r := d.Execute(context.Background(), "!false\nafter = 1")
	_, err := r.Wait(context.Background())
	if !errors.Is(err, exitErr) {
		t.Fatalf("expected exit error, got %v", err)
	}
	if len(rec.list()) != 0 {
		t.Errorf("code after a failed deferred line must not run: %q", rec.list())
	}
}

func TestExecute_RuntimeRegistrationVisibleToLaterLines(t *testing.T) {
	d, rec := newTestDispatcher(dispatcher.DefaultConfig())

	_ = d.Registry().RegisterFunc("%addcmd", "", "", func(args []string, ctx *execctx.ExecutionContext) handler.Result {
		return handler.Defer(func() handler.Result {
			time.Sleep(10 * time.Millisecond)
			if err := ctx.Registry.RegisterNamed(args[1], args[2]); err != nil {
				return handler.Error(err)
			}
			return handler.Success()
		})
	})

	_, err := d.Execute(context.Background(), "%addcmd %hi echoHandler\n%hi there").Wait(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{`exec:echoHandler("%hi", "there")`}
	if got := rec.list(); !reflect.DeepEqual(got, want) {
		t.Errorf("events = %q, want %q", got, want)
	}
}

func TestExecute_SubstitutesArguments(t *testing.T) {
	d, _ := newTestDispatcher(dispatcher.DefaultConfig())

	var got []string
	_ = d.Registry().RegisterFunc("%rec", "", "", func(args []string, _ *execctx.ExecutionContext) handler.Result {
		got = args
		return handler.Success()
	})

	if _, err := d.Execute(context.Background(), "%rec {1+1} pre{1+1}post plain").Wait(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"%rec", "2", "pre2post", "plain"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("args = %q, want %q", got, want)
	}

	_, err := d.Execute(context.Background(), "%rec {missing}").Wait(context.Background())
	if err == nil || !strings.Contains(err.Error(), "undefined: missing") {
		t.Errorf("expected evaluator error to propagate, got %v", err)
	}
}

func TestExecute_MultipleMatchesAllRun(t *testing.T) {
	d, rec := newTestDispatcher(dispatcher.DefaultConfig())

	_ = d.Registry().RegisterFunc("%x", "", "", func([]string, *execctx.ExecutionContext) handler.Result {
		rec.add("x")
		return handler.SuccessWithValue("x")
	})
	_ = d.Registry().RegisterFunc("%%trace", "^%", "", func([]string, *execctx.ExecutionContext) handler.Result {
		rec.add("trace")
		return handler.SuccessWithValue("trace")
	})

	v, err := d.Execute(context.Background(), "%x").Wait(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if v != "trace" {
		t.Errorf("final value = %v, want trace", v)
	}
	if got := rec.list(); !reflect.DeepEqual(got, []string{"x", "trace"}) {
		t.Errorf("events = %q", got)
	}
}

func TestExecute_PanicRecovered(t *testing.T) {
	d, _ := newTestDispatcher(dispatcher.DefaultConfig().WithMetrics())

	_ = d.Registry().RegisterFunc("%boom", "", "", func([]string, *execctx.ExecutionContext) handler.Result {
		panic("kaboom")
	})

	_, err := d.Execute(context.Background(), "%boom").Wait(context.Background())
	if !errors.Is(err, dispatcher.ErrPanic) {
		t.Fatalf("expected ErrPanic, got %v", err)
	}
	if d.Metrics().TotalPanics() != 1 {
		t.Errorf("TotalPanics() = %d", d.Metrics().TotalPanics())
	}
}

func TestExecute_CodeErrorWrapped(t *testing.T) {
	d, _ := newTestDispatcher(dispatcher.DefaultConfig())

	_, err := d.Execute(context.Background(), "\nerror('x')").Wait(context.Background())
	var cerr *dispatcher.CodeError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected CodeError, got %v", err)
	}
	if cerr.Line != 1 {
		t.Errorf("CodeError.Line = %d, want 1", cerr.Line)
	}
}

func TestExecute_NoExecutor(t *testing.T) {
	d := dispatcher.NewWithDefaults()
	_, err := d.Execute(context.Background(), "x = 1").Wait(context.Background())
	if !errors.Is(err, dispatcher.ErrNoExecutor) {
		t.Errorf("expected ErrNoExecutor, got %v", err)
	}
}

func TestExecute_ContextVisibleToHandlers(t *testing.T) {
	d, _ := newTestDispatcher(dispatcher.DefaultConfig().WithExecOrigin("(test)", "$"))
	d.SetHistory(func() []string { return []string{"earlier"} })
	d.SetWorkingDir("/work")

	var seen *execctx.ExecutionContext
	_ = d.Registry().RegisterFunc("%peek", "", "", func(_ []string, ctx *execctx.ExecutionContext) handler.Result {
		seen = ctx
		return handler.Success()
	})

	if _, err := d.Execute(context.Background(), "\n%peek").Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	if seen.Origin != "(test)" || seen.Sigil != "$" || seen.WorkingDir != "/work" {
		t.Errorf("unexpected context %+v", seen)
	}
	if len(seen.History) != 1 || seen.LineNumber != 2 || seen.Line != "%peek" {
		t.Errorf("unexpected history/line: %v %d %q", seen.History, seen.LineNumber, seen.Line)
	}
	if seen.Interpret == nil || seen.Registry == nil {
		t.Error("expected interpreter and registry in context")
	}
}

func TestRewrite_RoundTripWithoutMagic(t *testing.T) {
	d, rec := newTestDispatcher(dispatcher.DefaultConfig())

	src := "local x = 1\n\n  print(x % 2)\nreturn x"
	got, err := d.Rewrite(context.Background(), src)
	if err != nil {
		t.Fatal(err)
	}
	if got != src {
		t.Errorf("Rewrite changed a block without magic:\n%q\n%q", got, src)
	}
	if len(rec.list()) != 0 {
		t.Error("rewrite mode must not execute code")
	}
}

func TestRewrite_ReplacesMagicLines(t *testing.T) {
	d, rec := newTestDispatcher(dispatcher.DefaultConfig())

	_ = d.Registry().RegisterFunc("%echo", "", "", func(args []string, ctx *execctx.ExecutionContext) handler.Result {
		return handler.Code(ctx.Codegen.Print(ctx.Exprs(args[1:])...))
	})
	_ = d.Registry().RegisterNamed("%hi", "greet")

	src := "x = 1\n%echo a{x}\n%hi there\ny = 2"
	got, err := d.Rewrite(context.Background(), src)
	if err != nil {
		t.Fatal(err)
	}

	want := strings.Join([]string{
		"x = 1",
		`print("a" .. tostring(x))`,
		`greet("%hi", "there")`,
		"y = 2",
	}, "\n")
	if got != want {
		t.Errorf("Rewrite() =\n%s\nwant\n%s", got, want)
	}
	if len(rec.list()) != 0 {
		t.Error("rewrite mode must not execute code")
	}
}

func TestRewrite_LastMatchWinsAndFoldsLines(t *testing.T) {
	d, _ := newTestDispatcher(dispatcher.DefaultConfig())

	_ = d.Registry().RegisterFunc("%x", "", "", func([]string, *execctx.ExecutionContext) handler.Result {
		return handler.Code("first()")
	})
	_ = d.Registry().RegisterFunc("%%all", "^%", "", func([]string, *execctx.ExecutionContext) handler.Result {
		return handler.Defer(func() handler.Result {
			return handler.Code("a()\nb()")
		})
	})

	got, err := d.Rewrite(context.Background(), "%x\nz = 1")
	if err != nil {
		t.Fatal(err)
	}
	if got != "a(); b()\nz = 1" {
		t.Errorf("Rewrite() = %q", got)
	}
}

func TestRewrite_Errors(t *testing.T) {
	d, _ := newTestDispatcher(dispatcher.DefaultConfig())
	_ = d.Registry().RegisterFunc("%bad", "", "", func([]string, *execctx.ExecutionContext) handler.Result {
		return handler.Errorf("nope")
	})

	_, err := d.Rewrite(context.Background(), "ok = 1\n%missing")
	var umErr *dispatcher.UnknownMagicError
	if !errors.As(err, &umErr) {
		t.Errorf("expected UnknownMagicError, got %v", err)
	}

	_, err = d.Rewrite(context.Background(), "%bad")
	var herr *dispatcher.HandlerError
	if !errors.As(err, &herr) || herr.Command != "%bad" {
		t.Errorf("expected HandlerError, got %v", err)
	}

	bare := dispatcher.NewWithDefaults()
	if _, err := bare.Rewrite(context.Background(), "x"); !errors.Is(err, dispatcher.ErrNoCodegen) {
		t.Errorf("expected ErrNoCodegen, got %v", err)
	}
}

func TestInterpret_SelectsMode(t *testing.T) {
	d, rec := newTestDispatcher(dispatcher.DefaultConfig().WithMode(execctx.ModeRewrite))
	_ = d.Registry().RegisterNamed("%hi", "greet")

	v, err := d.Interpret(context.Background(), "%hi")
	if err != nil {
		t.Fatal(err)
	}
	if v != `greet("%hi")` {
		t.Errorf("rewrite Interpret = %v", v)
	}

	d.SetMode(execctx.ModeExecute)
	if _, err := d.Interpret(context.Background(), "%hi"); err != nil {
		t.Fatal(err)
	}
	if got := rec.list(); len(got) != 1 || got[0] != `exec:greet("%hi")` {
		t.Errorf("events = %q", got)
	}
}

func TestMetricsRecorded(t *testing.T) {
	d, _ := newTestDispatcher(dispatcher.DefaultConfig().WithMetrics())
	_ = d.Registry().RegisterFunc("%ok", "", "", func([]string, *execctx.ExecutionContext) handler.Result {
		return handler.Defer(func() handler.Result { return handler.Success() })
	})

	if _, err := d.Execute(context.Background(), "x = 1\n%ok\n%ok").Wait(context.Background()); err != nil {
		t.Fatal(err)
	}

	m := d.Metrics()
	if m.TotalDispatches() != 3 {
		t.Errorf("TotalDispatches() = %d, want 3", m.TotalDispatches())
	}
	stats := m.CommandStats("%ok")
	if stats == nil || stats.DispatchCount != 2 || stats.AsyncCount != 2 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if top := m.TopCommands(1); len(top) != 1 || top[0].Name != "%ok" {
		t.Errorf("TopCommands = %+v", top)
	}
}
