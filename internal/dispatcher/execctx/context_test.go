package execctx_test

import (
	"context"
	"errors"
	"reflect"
	"strconv"
	"strings"
	"testing"

	"github.com/dshills/magicline/internal/dispatcher/execctx"
)

type recordingShell struct {
	reqs []execctx.ShellRequest
}

func (s *recordingShell) Run(_ context.Context, req execctx.ShellRequest) (<-chan error, error) {
	s.reqs = append(s.reqs, req)
	ch := make(chan error, 1)
	ch <- nil
	return ch, nil
}

type luaGen struct{}

func (luaGen) Quote(s string) string                 { return strconv.Quote(s) }
func (luaGen) Stringify(expr string) string          { return "tostring(" + expr + ")" }
func (luaGen) Concat(exprs ...string) string         { return strings.Join(exprs, " .. ") }
func (luaGen) Call(fn string, args ...string) string { return fn + "(" + strings.Join(args, ", ") + ")" }
func (luaGen) Print(exprs ...string) string          { return "print(" + strings.Join(exprs, ", ") + ")" }
func (luaGen) ErrorPrint(msg string) string          { return "error(" + strconv.Quote(msg) + ")" }

func TestNew(t *testing.T) {
	ctx := execctx.New()

	if ctx.Sigil != "!" {
		t.Errorf("expected default sigil '!', got %q", ctx.Sigil)
	}
	if ctx.Origin == "" {
		t.Error("expected default origin")
	}
	if ctx.Output == nil || ctx.Errors == nil {
		t.Error("expected output channels to be initialized")
	}
	if ctx.Mode != execctx.ModeExecute {
		t.Errorf("expected execute mode, got %s", ctx.Mode)
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    execctx.Mode
		wantErr bool
	}{
		{"execute", execctx.ModeExecute, false},
		{"", execctx.ModeExecute, false},
		{"REWRITE", execctx.ModeRewrite, false},
		{"transpile", execctx.ModeRewrite, false},
		{"bogus", execctx.ModeExecute, true},
	}

	for _, tt := range tests {
		got, err := execctx.ParseMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseMode(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseMode(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name    string
		tokens  []string
		program string
		args    []string
		wantErr bool
	}{
		{"attached", []string{"!ls", "-la"}, "ls", []string{"-la"}, false},
		{"standalone sigil", []string{"!", "ls", "-la"}, "ls", []string{"-la"}, false},
		{"no args", []string{"!pwd"}, "pwd", []string{}, false},
		{"bare sigil", []string{"!"}, "", nil, true},
		{"empty", nil, "", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			program, args, err := execctx.ParseCommand("!", tt.tokens)
			if tt.wantErr {
				if !errors.Is(err, execctx.ErrNoProgram) {
					t.Fatalf("expected ErrNoProgram, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if program != tt.program {
				t.Errorf("program = %q, want %q", program, tt.program)
			}
			if len(args) != len(tt.args) || (len(args) > 0 && !reflect.DeepEqual(args, tt.args)) {
				t.Errorf("args = %q, want %q", args, tt.args)
			}
		})
	}
}

func TestExecUsesOriginAndSigil(t *testing.T) {
	shell := &recordingShell{}
	ctx := execctx.New().WithShell(shell)
	ctx.Origin = "(test)"

	done, err := ctx.Exec("!", "echo", "hi")
	if err != nil {
		t.Fatalf("Exec error: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("unexpected exit error: %v", err)
	}

	if len(shell.reqs) != 1 {
		t.Fatalf("expected 1 request, got %d", len(shell.reqs))
	}
	req := shell.reqs[0]
	if req.Origin != "(test)" || req.Program != "echo" {
		t.Errorf("unexpected request: %+v", req)
	}
	if req.Command() != "echo hi" {
		t.Errorf("Command() = %q, want %q", req.Command(), "echo hi")
	}
}

func TestExecWithoutShell(t *testing.T) {
	if _, err := execctx.New().Exec("!ls"); !errors.Is(err, execctx.ErrMissingShell) {
		t.Errorf("expected ErrMissingShell, got %v", err)
	}
}

func TestExprs(t *testing.T) {
	ctx := execctx.New().WithCodegen(luaGen{})

	got := ctx.Exprs([]string{"a", "{x}", "p{y}q"})
	want := []string{`"a"`, `tostring(x)`, `"p" .. tostring(y) .. "q"`}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Exprs() = %q, want %q", got, want)
	}
}

func TestWithLineCopies(t *testing.T) {
	base := execctx.New()
	line := base.WithLine("%echo hi", 3)

	if base.LineNumber != 0 {
		t.Error("WithLine mutated the base context")
	}
	if line.Line != "%echo hi" || line.LineNumber != 3 {
		t.Errorf("unexpected line fields: %q %d", line.Line, line.LineNumber)
	}
}

func TestPrintln(t *testing.T) {
	var buf strings.Builder
	ctx := execctx.New().WithOutput(&buf, nil)
	ctx.Println("hello", "world")
	if buf.String() != "hello world\n" {
		t.Errorf("Println wrote %q", buf.String())
	}
}

func TestValidate(t *testing.T) {
	ctx := execctx.New()
	if !errors.Is(ctx.Validate(), execctx.ErrMissingRegistry) {
		t.Error("expected ErrMissingRegistry")
	}
}
