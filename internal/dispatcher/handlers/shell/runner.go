package shell

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dshills/magicline/internal/dispatcher/execctx"
	"github.com/dshills/magicline/internal/integration/process"
	"github.com/dshills/magicline/internal/logging"
)

// Runner spawns exec requests under a process supervisor. It implements
// execctx.ShellInterface.
type Runner struct {
	sup     *process.Supervisor
	timeout time.Duration
	dir     string
	logger  *logging.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithTimeout kills commands that run longer than d. Zero disables it.
func WithTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) {
		r.timeout = d
	}
}

// WithDir sets the working directory for spawned commands.
func WithDir(dir string) RunnerOption {
	return func(r *Runner) {
		r.dir = dir
	}
}

// WithLogger sets the runner's logger.
func WithLogger(l *logging.Logger) RunnerOption {
	return func(r *Runner) {
		if l != nil {
			r.logger = l.WithComponent("shell")
		}
	}
}

// NewRunner creates a runner over sup.
func NewRunner(sup *process.Supervisor, opts ...RunnerOption) *Runner {
	r := &Runner{sup: sup, logger: logging.Null()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Supervisor returns the supervisor processes are spawned under.
func (r *Runner) Supervisor() *process.Supervisor {
	return r.sup
}

// ExitNotice returns the line printed when a command exits.
func ExitNotice(command string, code int) string {
	return fmt.Sprintf("[ process '%s' exited with code %d ]", command, code)
}

// Run starts req and returns a channel that receives nil when the command
// exits with code 0 and a *process.ExitError otherwise. Output lines are
// written to req.Stdout and req.Stderr as they arrive, followed by the
// exit notice on req.Stdout.
func (r *Runner) Run(ctx context.Context, req execctx.ShellRequest) (<-chan error, error) {
	if req.Program == "" {
		return nil, execctx.ErrNoProgram
	}

	cancel := context.CancelFunc(func() {})
	if r.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
	}

	command := req.Command()
	stdout, stderr := lockedPair(req.Stdout, req.Stderr)

	proc, err := r.sup.Spawn(ctx, process.Spec{
		Name:    req.Program,
		Command: command,
		Origin:  req.Origin,
		Dir:     r.dir,
		OnLine:  process.WriterHandler(stdout, stderr),
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("exec %q: %w", command, err)
	}

	r.logger.WithField("origin", req.Origin).Debug("running %q as %s", command, proc.ID)

	done := make(chan error, 1)
	go func() {
		defer cancel()
		<-proc.Done()
		if stdout != nil {
			_, _ = io.WriteString(stdout, ExitNotice(command, proc.ExitCode())+"\n")
		}
		done <- proc.Err()
		close(done)
	}()
	return done, nil
}

// lockedWriter serializes writes to a shared writer.
type lockedWriter struct {
	mu *sync.Mutex
	w  io.Writer
}

func (l lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// lockedPair wraps stdout and stderr behind one mutex, since callers
// commonly pass the same writer for both.
func lockedPair(stdout, stderr io.Writer) (io.Writer, io.Writer) {
	mu := &sync.Mutex{}
	wrap := func(w io.Writer) io.Writer {
		if w == nil {
			return nil
		}
		return lockedWriter{mu: mu, w: w}
	}
	return wrap(stdout), wrap(stderr)
}
