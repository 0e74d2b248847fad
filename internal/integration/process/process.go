package process

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// State represents the state of a process.
type State int

const (
	// StateCreated indicates the process has been created but not started.
	StateCreated State = iota
	// StateRunning indicates the process is currently running.
	StateRunning
	// StateExited indicates the process has exited on its own.
	StateExited
	// StateKilled indicates the process was terminated by a signal.
	StateKilled
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	case StateKilled:
		return "killed"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// Process is one shell command spawned by the supervisor.
//
// The child's stdin is closed at start and its stdout and stderr are read
// line by line and handed to the process's line handler. Done is closed
// only after both streams have drained and the child has been reaped, so
// every line is delivered before the exit is observable.
type Process struct {
	// ID is the unique identifier for this process.
	ID string

	// Name is a short label, usually the program name.
	Name string

	// Command is the command line passed to the shell.
	Command string

	// Origin tags the request that spawned the process.
	Origin string

	// Cmd is the underlying exec.Cmd.
	Cmd *exec.Cmd

	// Started is the time the process was started.
	Started time.Time

	onLine  LineHandler
	streams sync.WaitGroup

	done     chan struct{}
	state    atomic.Int32
	exitCode atomic.Int32
	ended    atomic.Int64

	mu      sync.RWMutex
	exitErr error
}

func newProcess(id string, spec Spec, cmd *exec.Cmd) *Process {
	p := &Process{
		ID:      id,
		Name:    spec.Name,
		Command: spec.Command,
		Origin:  spec.Origin,
		Cmd:     cmd,
		onLine:  spec.OnLine,
		done:    make(chan struct{}),
	}
	if p.Name == "" {
		p.Name = spec.Command
	}
	p.state.Store(int32(StateCreated))
	p.exitCode.Store(-1)
	return p
}

// State returns the current process state.
func (p *Process) State() State {
	return State(p.state.Load())
}

// ExitCode returns the exit code, or -1 while the process is running.
// A process terminated by a signal reports 128 plus the signal number.
func (p *Process) ExitCode() int {
	return int(p.exitCode.Load())
}

// ExitError returns the error from reaping the process, if any.
func (p *Process) ExitError() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.exitErr
}

// Err returns nil when the process exited with code 0 and an
// *ExitError otherwise. It blocks until the process is done.
func (p *Process) Err() error {
	<-p.done
	code := p.ExitCode()
	if code == 0 {
		return nil
	}
	return &ExitError{
		Command:  p.Command,
		Code:     code,
		Signaled: p.State() == StateKilled,
		Err:      p.ExitError(),
	}
}

// Done returns a channel that is closed when the process has exited and
// its output has been fully delivered.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// IsRunning reports whether the process is running.
func (p *Process) IsRunning() bool {
	return p.State() == StateRunning
}

// HasExited reports whether the process has exited or been killed.
func (p *Process) HasExited() bool {
	state := p.State()
	return state == StateExited || state == StateKilled
}

// PID returns the process ID, or -1 if not started.
func (p *Process) PID() int {
	if p.Cmd.Process == nil {
		return -1
	}
	return p.Cmd.Process.Pid
}

// Signal sends sig to the process group of the child, so commands the
// shell forked receive it too.
func (p *Process) Signal(sig os.Signal) error {
	if !p.IsRunning() {
		return fmt.Errorf("process %s: %w", p.ID, ErrProcessNotRunning)
	}
	if p.Cmd.Process == nil {
		return ErrProcessNotStarted
	}

	if s, ok := sig.(syscall.Signal); ok {
		if err := syscall.Kill(-p.Cmd.Process.Pid, s); err == nil {
			return nil
		}
	}
	return p.Cmd.Process.Signal(sig)
}

// Kill sends SIGKILL to the process.
func (p *Process) Kill() error {
	return p.Signal(syscall.SIGKILL)
}

// Interrupt sends SIGINT to the process.
func (p *Process) Interrupt() error {
	return p.Signal(syscall.SIGINT)
}

// Terminate sends SIGTERM to the process.
func (p *Process) Terminate() error {
	return p.Signal(syscall.SIGTERM)
}

// Runtime returns how long the process has been running, or its total
// runtime once it has exited.
func (p *Process) Runtime() time.Duration {
	if p.Started.IsZero() {
		return 0
	}
	if end := p.ended.Load(); end != 0 {
		return time.Unix(0, end).Sub(p.Started)
	}
	return time.Since(p.Started)
}

// start launches the child and its stream readers.
func (p *Process) start() error {
	if p.State() != StateCreated {
		return ErrProcessAlreadyStarted
	}

	stdout, err := p.Cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := p.Cmd.StderrPipe()
	if err != nil {
		_ = stdout.Close()
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := p.Cmd.Start(); err != nil {
		_ = stdout.Close()
		_ = stderr.Close()
		return fmt.Errorf("start process: %w", err)
	}

	p.Started = time.Now()
	p.state.Store(int32(StateRunning))

	lines := newLineCounter(p.onLine)
	p.streams.Add(2)
	go p.drain(stdout, StreamStdout, lines)
	go p.drain(stderr, StreamStderr, lines)

	go p.waitLoop()
	return nil
}

func (p *Process) drain(r io.Reader, stream Stream, lines *lineCounter) {
	defer p.streams.Done()
	if err := ReadLines(r, stream, lines.emit); err != nil {
		p.mu.Lock()
		if p.exitErr == nil {
			p.exitErr = fmt.Errorf("read %s: %w", stream, err)
		}
		p.mu.Unlock()
		// keep the pipe empty so the child cannot block on write
		_, _ = io.Copy(io.Discard, r)
	}
}

// waitLoop reaps the child once both streams have hit EOF.
func (p *Process) waitLoop() {
	p.streams.Wait()
	err := p.Cmd.Wait()

	code := 0
	state := StateExited
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
			if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
				state = StateKilled
				code = 128 + int(status.Signal())
			}
		} else {
			code = -1
		}
	}

	p.mu.Lock()
	if err != nil {
		p.exitErr = err
	}
	p.mu.Unlock()

	p.ended.Store(time.Now().UnixNano())
	p.exitCode.Store(int32(code))
	p.state.Store(int32(state))
	close(p.done)
}
