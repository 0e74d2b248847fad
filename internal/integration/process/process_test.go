package process

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"
)

// collector gathers lines delivered to a LineHandler.
type collector struct {
	mu    sync.Mutex
	lines []Line
}

func (c *collector) handle(l Line) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, l)
}

func (c *collector) contents(stream Stream) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, l := range c.lines {
		if l.Stream == stream {
			out = append(out, l.Content)
		}
	}
	return out
}

func waitDone(t *testing.T, p *Process) {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for process")
	}
}

func TestNewProcessDefaults(t *testing.T) {
	proc := newProcess("id-1", Spec{Command: "echo hi"}, exec.Command("true"))

	if proc.Name != "echo hi" {
		t.Errorf("Name = %q, want command line", proc.Name)
	}
	if proc.State() != StateCreated {
		t.Errorf("State = %v, want created", proc.State())
	}
	if proc.ExitCode() != -1 {
		t.Errorf("ExitCode = %d, want -1", proc.ExitCode())
	}
	if proc.PID() != -1 {
		t.Errorf("PID = %d, want -1", proc.PID())
	}
	if proc.IsRunning() || proc.HasExited() {
		t.Error("new process should be neither running nor exited")
	}
	if proc.Runtime() != 0 {
		t.Errorf("Runtime = %v, want 0", proc.Runtime())
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateCreated, "created"},
		{StateRunning, "running"},
		{StateExited, "exited"},
		{StateKilled, "killed"},
		{State(99), "unknown(99)"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestProcessStreamsOutput(t *testing.T) {
	s := NewSupervisor()
	defer s.Shutdown(time.Second)

	c := &collector{}
	proc, err := s.Spawn(context.Background(), Spec{
		Command: "echo one; echo two; echo oops 1>&2",
		OnLine:  c.handle,
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	waitDone(t, proc)

	if got := strings.Join(c.contents(StreamStdout), ","); got != "one,two" {
		t.Errorf("stdout = %q, want %q", got, "one,two")
	}
	if got := strings.Join(c.contents(StreamStderr), ","); got != "oops" {
		t.Errorf("stderr = %q, want %q", got, "oops")
	}
	if err := proc.Err(); err != nil {
		t.Errorf("Err = %v, want nil", err)
	}
	if proc.State() != StateExited {
		t.Errorf("State = %v, want exited", proc.State())
	}
}

func TestProcessLineNumbers(t *testing.T) {
	s := NewSupervisor()
	defer s.Shutdown(time.Second)

	c := &collector{}
	proc, err := s.Spawn(context.Background(), Spec{
		Command: "printf 'a\\nb\\nc'",
		OnLine:  c.handle,
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	waitDone(t, proc)

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.lines) != 3 {
		t.Fatalf("got %d lines, want 3 (unterminated final line included)", len(c.lines))
	}
	for i, l := range c.lines {
		if l.Number != i+1 {
			t.Errorf("line %d numbered %d", i, l.Number)
		}
	}
}

func TestProcessNonZeroExit(t *testing.T) {
	s := NewSupervisor()
	defer s.Shutdown(time.Second)

	proc, err := s.Spawn(context.Background(), Spec{Command: "exit 3"})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	waitDone(t, proc)

	if proc.ExitCode() != 3 {
		t.Errorf("ExitCode = %d, want 3", proc.ExitCode())
	}
	var exitErr *ExitError
	if !errors.As(proc.Err(), &exitErr) {
		t.Fatalf("Err = %v, want *ExitError", proc.Err())
	}
	if exitErr.Code != 3 || exitErr.Command != "exit 3" {
		t.Errorf("ExitError = %+v", exitErr)
	}
	if want := "process 'exit 3' exited with code 3"; exitErr.Error() != want {
		t.Errorf("Error() = %q, want %q", exitErr.Error(), want)
	}
}

func TestProcessKill(t *testing.T) {
	s := NewSupervisor()
	defer s.Shutdown(time.Second)

	proc, err := s.Spawn(context.Background(), Spec{Command: "sleep 10"})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if !proc.IsRunning() {
		t.Fatal("expected process to be running")
	}
	if proc.PID() <= 0 {
		t.Errorf("PID = %d, want positive", proc.PID())
	}

	if err := proc.Kill(); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	waitDone(t, proc)

	if proc.State() != StateKilled {
		t.Errorf("State = %v, want killed", proc.State())
	}
	if proc.ExitCode() != 128+9 {
		t.Errorf("ExitCode = %d, want 137", proc.ExitCode())
	}
	var exitErr *ExitError
	if !errors.As(proc.Err(), &exitErr) || !exitErr.Signaled {
		t.Errorf("Err = %v, want signaled *ExitError", proc.Err())
	}
	if !errors.Is(proc.Signal(nil), ErrProcessNotRunning) {
		t.Error("signalling an exited process should fail with ErrProcessNotRunning")
	}
}

func TestProcessRuntimeFreezesOnExit(t *testing.T) {
	s := NewSupervisor()
	defer s.Shutdown(time.Second)

	proc, err := s.Spawn(context.Background(), Spec{Command: "true"})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	waitDone(t, proc)

	first := proc.Runtime()
	time.Sleep(20 * time.Millisecond)
	if proc.Runtime() != first {
		t.Errorf("Runtime changed after exit: %v then %v", first, proc.Runtime())
	}
}

func TestReadLines(t *testing.T) {
	var got []string
	err := ReadLines(strings.NewReader("a\r\nb\n\nc"), StreamStderr, func(l Line) {
		if l.Stream != StreamStderr {
			t.Errorf("stream = %v", l.Stream)
		}
		got = append(got, l.Content)
	})
	if err != nil {
		t.Fatalf("ReadLines: %v", err)
	}
	if strings.Join(got, "|") != "a|b||c" {
		t.Errorf("lines = %q", got)
	}
}

func TestReadLinesSplitsLongLines(t *testing.T) {
	long := strings.Repeat("a", maxLineSize+10)
	var got []string
	err := ReadLines(strings.NewReader(long+"\nb"), StreamStdout, func(l Line) {
		got = append(got, l.Content)
	})
	if err != nil {
		t.Fatalf("ReadLines: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d lines, want 3", len(got))
	}
	if len(got[0]) != maxLineSize || len(got[1]) != 10 || got[2] != "b" {
		t.Errorf("line sizes = %d, %d, %q", len(got[0]), len(got[1]), got[2])
	}
}

func TestProcessLongLineDoesNotStall(t *testing.T) {
	s := NewSupervisor()
	defer s.Shutdown(time.Second)

	c := &collector{}
	proc, err := s.Spawn(context.Background(), Spec{
		Command: "head -c 1100000 /dev/zero | tr '\\0' a; echo; seq 1 20000",
		OnLine:  c.handle,
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	waitDone(t, proc)

	if proc.ExitCode() != 0 {
		t.Errorf("ExitCode = %d, want 0", proc.ExitCode())
	}
	out := c.contents(StreamStdout)
	if len(out) != 20002 {
		t.Fatalf("got %d stdout lines, want 20002", len(out))
	}
	if len(out[0])+len(out[1]) != 1100000 {
		t.Errorf("long line delivered %d bytes, want 1100000", len(out[0])+len(out[1]))
	}
	if out[len(out)-1] != "20000" {
		t.Errorf("last line = %q, want %q", out[len(out)-1], "20000")
	}
}

func TestWriterHandler(t *testing.T) {
	var out, errOut strings.Builder
	h := WriterHandler(&out, &errOut)
	h(Line{Content: "x", Stream: StreamStdout})
	h(Line{Content: "y", Stream: StreamStderr})
	WriterHandler(nil, nil)(Line{Content: "dropped"})

	if out.String() != "x\n" || errOut.String() != "y\n" {
		t.Errorf("stdout %q stderr %q", out.String(), errOut.String())
	}
}
