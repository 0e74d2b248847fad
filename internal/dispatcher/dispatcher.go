// Package dispatcher interprets blocks of source text, routing magic lines
// to registered command handlers and everything else to the executor.
package dispatcher

import (
	"context"
	"io"
	"runtime"
	"sync"
	"time"

	"github.com/dshills/magicline/internal/dispatcher/execctx"
	"github.com/dshills/magicline/internal/dispatcher/handler"
	"github.com/dshills/magicline/internal/dispatcher/registry"
	"github.com/dshills/magicline/internal/logging"
	"github.com/dshills/magicline/internal/subst"
)

// Dispatcher interprets blocks against a command registry.
type Dispatcher struct {
	mu sync.RWMutex

	registry *registry.Registry

	// Collaborators
	executor  execctx.ExecutorInterface
	evaluator subst.Evaluator
	shell     execctx.ShellInterface
	codegen   execctx.CodegenInterface

	stdout io.Writer
	stderr io.Writer

	history    func() []string
	interpret  func(ctx context.Context, src string) (any, error)
	workingDir string

	config  Config
	metrics *Metrics
	logger  *logging.Logger
}

// New creates a new dispatcher over reg. A nil registry gets an empty one.
func New(config Config, reg *registry.Registry) *Dispatcher {
	if reg == nil {
		reg = registry.New()
	}
	d := &Dispatcher{
		registry: reg,
		config:   config,
		stdout:   io.Discard,
		stderr:   io.Discard,
		logger:   logging.Null(),
	}
	if config.EnableMetrics {
		d.metrics = NewMetrics()
	}
	return d
}

// NewWithDefaults creates a dispatcher with default configuration and an
// empty registry.
func NewWithDefaults() *Dispatcher {
	return New(DefaultConfig(), nil)
}

// SetExecutor sets the collaborator that runs buffered code.
func (d *Dispatcher) SetExecutor(exec execctx.ExecutorInterface) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.executor = exec
}

// SetEvaluator sets the collaborator that resolves {expr} placeholders.
func (d *Dispatcher) SetEvaluator(eval subst.Evaluator) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.evaluator = eval
}

// SetShell sets the child process runner handed to handlers.
func (d *Dispatcher) SetShell(shell execctx.ShellInterface) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.shell = shell
}

// SetCodegen sets the host code generator.
func (d *Dispatcher) SetCodegen(gen execctx.CodegenInterface) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.codegen = gen
}

// SetOutput sets the interpreter output channels. Nil leaves a channel unchanged.
func (d *Dispatcher) SetOutput(stdout, stderr io.Writer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if stdout != nil {
		d.stdout = stdout
	}
	if stderr != nil {
		d.stderr = stderr
	}
}

// SetHistory sets the source of session history exposed to handlers.
func (d *Dispatcher) SetHistory(fn func() []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.history = fn
}

// SetInterpreter overrides the recursive entry point exposed to handlers.
// By default handlers re-enter this dispatcher's Interpret.
func (d *Dispatcher) SetInterpreter(fn func(ctx context.Context, src string) (any, error)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.interpret = fn
}

// SetWorkingDir sets the directory handlers resolve relative paths against.
func (d *Dispatcher) SetWorkingDir(dir string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.workingDir = dir
}

// SetLogger sets the dispatcher logger.
func (d *Dispatcher) SetLogger(l *logging.Logger) {
	if l == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.logger = l.WithComponent("dispatcher")
}

// Registry returns the command registry.
func (d *Dispatcher) Registry() *registry.Registry {
	return d.registry
}

// Metrics returns the metrics collector (nil if disabled).
func (d *Dispatcher) Metrics() *Metrics {
	return d.metrics
}

// Config returns the dispatcher configuration.
func (d *Dispatcher) Config() Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.config
}

// SetMode changes the mode Interpret uses.
func (d *Dispatcher) SetMode(mode execctx.Mode) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.config.Mode = mode
}

// Interpret runs src in the configured mode. Execute mode waits for the
// block's final result; rewrite mode returns the rewritten source.
func (d *Dispatcher) Interpret(ctx context.Context, src string) (any, error) {
	if d.Config().Mode == execctx.ModeRewrite {
		return d.Rewrite(ctx, src)
	}
	return d.Execute(ctx, src).Wait(ctx)
}

// buildContext builds a fresh invocation context for one block.
func (d *Dispatcher) buildContext(ctx context.Context, mode execctx.Mode) *execctx.ExecutionContext {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ectx := execctx.New().
		WithMode(mode).
		WithRegistry(d.registry).
		WithOutput(d.stdout, d.stderr)
	ectx.Context = ctx
	ectx.Shell = d.shell
	ectx.Executor = d.executor
	ectx.Codegen = d.codegen
	ectx.WorkingDir = d.workingDir
	ectx.Logger = d.logger
	if d.config.Origin != "" {
		ectx.Origin = d.config.Origin
	}
	if d.config.Sigil != "" {
		ectx.Sigil = d.config.Sigil
	}
	if d.history != nil {
		ectx.History = d.history()
	}
	if d.interpret != nil {
		ectx.Interpret = d.interpret
	} else {
		ectx.Interpret = d.Interpret
	}
	return ectx
}

func (d *Dispatcher) collaborators() (execctx.ExecutorInterface, subst.Evaluator, execctx.CodegenInterface) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.executor, d.evaluator, d.codegen
}

// executeWithRecovery runs fn, converting a panic into an error result.
func (d *Dispatcher) executeWithRecovery(name string, fn func() handler.Result) (result handler.Result) {
	if !d.config.RecoverFromPanic {
		return fn()
	}
	defer func() {
		if r := recover(); r != nil {
			stack := make([]byte, 4096)
			n := runtime.Stack(stack, false)

			d.logger.Error("handler panic for %s: %v", name, r)
			result = handler.Errorf("%w for %s: %v\n%s", ErrPanic, name, r, string(stack[:n]))

			if d.metrics != nil {
				d.metrics.RecordPanic(name)
			}
		}
	}()
	return fn()
}

// observe records metrics for r, waiting for settlement of deferred results.
func (d *Dispatcher) observe(name string, start time.Time, r handler.Result) handler.Result {
	if d.metrics == nil {
		return r
	}
	if r.IsAsync() {
		return handler.Defer(func() handler.Result {
			settled := r.Settle()
			d.metrics.RecordDispatch(name, time.Since(start), settled.Status, true)
			return settled
		})
	}
	d.metrics.RecordDispatch(name, time.Since(start), r.Status, false)
	return r
}
