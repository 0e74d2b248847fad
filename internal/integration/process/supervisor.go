package process

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/magicline/internal/logging"
)

// DefaultShell is the shell used when a Spec names none.
const DefaultShell = "/bin/sh"

// Spec describes a shell command to spawn.
type Spec struct {
	// Name labels the process in listings. Defaults to Command.
	Name string

	// Command is the command line, passed to the shell with -c.
	Command string

	// Origin tags the request in logs.
	Origin string

	// Shell overrides the supervisor's shell.
	Shell string

	// Dir is the working directory. Empty means the supervisor's.
	Dir string

	// Env is appended to the parent environment.
	Env []string

	// OnLine receives stdout and stderr lines as they arrive.
	OnLine LineHandler
}

// Supervisor spawns shell commands and tracks them until they exit.
// Shutdown terminates everything still running. Supervisor is safe for
// concurrent use.
type Supervisor struct {
	mu        sync.RWMutex
	processes map[string]*Process

	shutdown chan struct{}
	closed   atomic.Bool

	// maxProcesses limits concurrent processes (0 = unlimited)
	maxProcesses int

	shell      string
	workingDir string
	logger     *logging.Logger

	onProcessExit func(p *Process)
}

// SupervisorOption configures a Supervisor.
type SupervisorOption func(*Supervisor)

// WithMaxProcesses sets the maximum number of concurrent processes.
// Zero means unlimited.
func WithMaxProcesses(max int) SupervisorOption {
	return func(s *Supervisor) {
		s.maxProcesses = max
	}
}

// WithProcessExitCallback sets a callback run after a process exits.
func WithProcessExitCallback(fn func(p *Process)) SupervisorOption {
	return func(s *Supervisor) {
		s.onProcessExit = fn
	}
}

// WithShell sets the shell used to run commands.
func WithShell(shell string) SupervisorOption {
	return func(s *Supervisor) {
		if shell != "" {
			s.shell = shell
		}
	}
}

// WithWorkingDir sets the default working directory for commands.
func WithWorkingDir(dir string) SupervisorOption {
	return func(s *Supervisor) {
		s.workingDir = dir
	}
}

// WithLogger sets the supervisor's logger.
func WithLogger(l *logging.Logger) SupervisorOption {
	return func(s *Supervisor) {
		if l != nil {
			s.logger = l.WithComponent("process")
		}
	}
}

// NewSupervisor creates a new process supervisor.
func NewSupervisor(opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		processes: make(map[string]*Process),
		shutdown:  make(chan struct{}),
		shell:     DefaultShell,
		logger:    logging.Null(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Shell returns the shell commands are run with.
func (s *Supervisor) Shell() string {
	return s.shell
}

// Spawn starts spec.Command under the shell. The child's stdin is closed
// and its output is delivered to spec.OnLine. When ctx is cancelled
// before the child exits, the child's process group is killed.
func (s *Supervisor) Spawn(ctx context.Context, spec Spec) (*Process, error) {
	return s.SpawnWithID(ctx, uuid.NewString(), spec)
}

// SpawnWithID is Spawn with a caller-chosen process ID.
func (s *Supervisor) SpawnWithID(ctx context.Context, id string, spec Spec) (*Process, error) {
	if spec.Command == "" {
		return nil, ErrEmptyCommand
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		return nil, ErrSupervisorShutdown
	}
	if s.maxProcesses > 0 && len(s.processes) >= s.maxProcesses {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %d", ErrProcessLimit, s.maxProcesses)
	}
	if _, exists := s.processes[id]; exists {
		s.mu.Unlock()
		return nil, fmt.Errorf("process ID already exists: %s", id)
	}

	proc := newProcess(id, spec, s.command(spec))
	if err := proc.start(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.processes[id] = proc
	s.mu.Unlock()

	s.logger.WithFields(map[string]any{"id": id, "pid": proc.PID(), "origin": spec.Origin}).
		Debug("spawned %q", spec.Command)

	go s.monitor(ctx, proc)
	return proc, nil
}

func (s *Supervisor) command(spec Spec) *exec.Cmd {
	shell := spec.Shell
	if shell == "" {
		shell = s.shell
	}
	cmd := exec.Command(shell, "-c", spec.Command)
	cmd.Dir = spec.Dir
	if cmd.Dir == "" {
		cmd.Dir = s.workingDir
	}
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	// own process group so signals reach everything the shell forks
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	return cmd
}

// monitor kills proc when ctx ends first and removes it once it exits.
func (s *Supervisor) monitor(ctx context.Context, proc *Process) {
	select {
	case <-proc.Done():
	case <-ctx.Done():
		if proc.IsRunning() {
			s.logger.WithField("id", proc.ID).Info("killing %q: %v", proc.Command, ctx.Err())
			_ = proc.Kill()
		}
		<-proc.Done()
	}

	s.mu.Lock()
	delete(s.processes, proc.ID)
	s.mu.Unlock()

	s.logger.WithFields(map[string]any{"id": proc.ID, "code": proc.ExitCode()}).
		Debug("exited after %s", proc.Runtime())

	if s.onProcessExit != nil {
		s.onProcessExit(proc)
	}
}

// Get returns the process with the given ID, or nil.
func (s *Supervisor) Get(id string) *Process {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.processes[id]
}

// List returns all tracked processes, oldest first.
func (s *Supervisor) List() []*Process {
	s.mu.RLock()
	procs := make([]*Process, 0, len(s.processes))
	for _, p := range s.processes {
		procs = append(procs, p)
	}
	s.mu.RUnlock()

	sort.Slice(procs, func(i, j int) bool {
		return procs[i].Started.Before(procs[j].Started)
	})
	return procs
}

// Count returns the number of tracked processes.
func (s *Supervisor) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.processes)
}

// Kill sends SIGKILL to the process with the given ID.
func (s *Supervisor) Kill(id string) error {
	return s.Signal(id, syscall.SIGKILL)
}

// Terminate sends SIGTERM to the process with the given ID.
func (s *Supervisor) Terminate(id string) error {
	return s.Signal(id, syscall.SIGTERM)
}

// Signal sends sig to the process with the given ID.
func (s *Supervisor) Signal(id string, sig syscall.Signal) error {
	proc := s.Get(id)
	if proc == nil {
		return fmt.Errorf("%w: %s", ErrProcessNotFound, id)
	}
	return proc.Signal(sig)
}

// KillAll sends SIGKILL to every running process.
func (s *Supervisor) KillAll() {
	for _, p := range s.List() {
		if p.IsRunning() {
			_ = p.Kill()
		}
	}
}

// Shutdown stops accepting new processes, sends SIGTERM to the running
// ones, and kills whatever is left after timeout. It returns once every
// process has exited and been untracked.
func (s *Supervisor) Shutdown(timeout time.Duration) {
	if s.closed.Swap(true) {
		return
	}
	close(s.shutdown)

	procs := s.List()
	if len(procs) == 0 {
		return
	}
	s.logger.Info("shutting down %d process(es)", len(procs))

	for _, p := range procs {
		if p.IsRunning() {
			_ = p.Terminate()
		}
	}

	done := make(chan struct{})
	go func() {
		for _, p := range procs {
			<-p.Done()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		s.KillAll()
		<-done
	}

	s.Wait()
}

// IsShuttingDown reports whether Shutdown has been called.
func (s *Supervisor) IsShuttingDown() bool {
	return s.closed.Load()
}

// ShutdownChan returns a channel that is closed when shutdown begins.
func (s *Supervisor) ShutdownChan() <-chan struct{} {
	return s.shutdown
}

// Wait blocks until no processes are tracked.
func (s *Supervisor) Wait() {
	for s.Count() > 0 {
		for _, p := range s.List() {
			<-p.Done()
		}
		// monitor untracks after Done closes
		time.Sleep(time.Millisecond)
	}
}
