package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/magicline/internal/config"
	"github.com/dshills/magicline/internal/dispatcher"
	"github.com/dshills/magicline/internal/dispatcher/execctx"
	"github.com/dshills/magicline/internal/dispatcher/handlers/core"
	"github.com/dshills/magicline/internal/dispatcher/handlers/shell"
	"github.com/dshills/magicline/internal/dispatcher/registry"
	"github.com/dshills/magicline/internal/history"
	"github.com/dshills/magicline/internal/integration/process"
	"github.com/dshills/magicline/internal/logging"
	"github.com/dshills/magicline/internal/runtime/lua"
	"github.com/dshills/magicline/internal/scanner"
)

// ShutdownTimeout is how long Close waits for child processes to exit
// after SIGTERM before killing them.
const ShutdownTimeout = 2 * time.Second

// ErrClosed is returned by operations on a closed session.
var ErrClosed = errors.New("session: closed")

// Session is one interpreter instance.
type Session struct {
	id     string
	cfg    config.Config
	logger *logging.Logger

	runtime    *lua.Runtime
	supervisor *process.Supervisor
	runner     *shell.Runner
	registry   *registry.Registry
	dispatcher *dispatcher.Dispatcher
	store      history.Store

	mu      sync.RWMutex
	history []string

	stdout io.Writer
	stderr io.Writer
	closed atomic.Bool
}

// Option configures a Session.
type Option func(*Session)

// WithOutput sets the interpreter's output channels. The default is
// os.Stdout and os.Stderr.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(s *Session) {
		if stdout != nil {
			s.stdout = stdout
		}
		if stderr != nil {
			s.stderr = stderr
		}
	}
}

// WithLogger sets the session logger instead of one built from the
// logging config.
func WithLogger(l *logging.Logger) Option {
	return func(s *Session) {
		s.logger = l
	}
}

// WithStore sets the history store. The session closes it on Close.
func WithStore(store history.Store) Option {
	return func(s *Session) {
		s.store = store
	}
}

// WithID sets the session ID recorded with history entries.
func WithID(id string) Option {
	return func(s *Session) {
		s.id = id
	}
}

// New builds a session from cfg. A nil cfg uses the defaults.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Session, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Session{
		cfg:    *cfg,
		stdout: os.Stdout,
		stderr: os.Stderr,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.id == "" {
		s.id = uuid.NewString()
	}
	if s.logger == nil {
		s.logger = logging.New(logging.Config{
			Level:  logging.ParseLevel(cfg.Logging.Level),
			Output: s.stderr,
			Prefix: "magicline",
		})
	}
	s.logger = s.logger.WithField("session", shortID(s.id))

	if s.store == nil {
		store, err := openStore(ctx, cfg.Session.HistoryPath)
		if err != nil {
			return nil, err
		}
		s.store = store
	}

	wd := cfg.WorkingDir()

	s.runtime = lua.New(
		lua.WithCallTimeout(cfg.Lua.Timeout),
		lua.WithOSLibraries(cfg.Lua.OpenOS),
		lua.WithLogger(s.logger),
	)
	s.supervisor = process.NewSupervisor(
		process.WithShell(cfg.Exec.Shell),
		process.WithMaxProcesses(cfg.Exec.MaxProcesses),
		process.WithWorkingDir(wd),
		process.WithLogger(s.logger),
	)
	s.runner = shell.NewRunner(s.supervisor,
		shell.WithTimeout(cfg.Exec.Timeout),
		shell.WithDir(wd),
		shell.WithLogger(s.logger),
	)

	s.registry = registry.New(
		registry.WithWorkingDir(wd),
		registry.WithLogger(s.logger),
		registry.WithResolver(".lua", s.runtime.Resolver()),
	)
	if err := core.NewHandler().Register(s.registry); err != nil {
		s.closeParts()
		return nil, fmt.Errorf("session: register built-ins: %w", err)
	}
	if err := shell.NewHandler(cfg.Exec.Sigil).Register(s.registry); err != nil {
		s.closeParts()
		return nil, fmt.Errorf("session: register exec: %w", err)
	}

	s.runtime.SetOutput(s.stdout, s.stderr)
	s.runtime.SetShell(s.runner)
	s.runtime.SetRegistry(s.registry)
	s.runtime.SetWorkingDir(wd)

	dcfg := dispatcher.DefaultConfig().
		WithMode(cfg.Mode()).
		WithPanicRecovery(cfg.Interpreter.RecoverFromPanic).
		WithExecOrigin(cfg.Exec.Origin, cfg.Exec.Sigil)
	if cfg.Interpreter.Metrics {
		dcfg = dcfg.WithMetrics()
	}
	s.dispatcher = dispatcher.New(dcfg, s.registry)
	s.dispatcher.SetExecutor(s.runtime)
	s.dispatcher.SetEvaluator(s.runtime)
	s.dispatcher.SetCodegen(s.runtime)
	s.dispatcher.SetShell(s.runner)
	s.dispatcher.SetOutput(s.stdout, s.stderr)
	s.dispatcher.SetHistory(s.History)
	s.dispatcher.SetInterpreter(s.interpret)
	s.dispatcher.SetWorkingDir(wd)
	s.dispatcher.SetLogger(s.logger)

	s.logger.Debug("session started: mode=%s wd=%s", cfg.Mode(), wd)
	return s, nil
}

func openStore(ctx context.Context, path string) (history.Store, error) {
	if path == "" {
		return history.NewMemoryStore(), nil
	}
	store, err := history.OpenSQLite(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	return store, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// ID returns the session ID.
func (s *Session) ID() string {
	return s.id
}

// Mode returns the mode Run uses.
func (s *Session) Mode() execctx.Mode {
	return s.dispatcher.Config().Mode
}

// SetMode switches between execute and rewrite mode.
func (s *Session) SetMode(mode execctx.Mode) {
	s.dispatcher.SetMode(mode)
}

// Registry returns the session's command registry.
func (s *Session) Registry() *registry.Registry {
	return s.registry
}

// Runtime returns the session's Lua runtime.
func (s *Session) Runtime() *lua.Runtime {
	return s.runtime
}

// Metrics returns dispatch statistics, nil unless enabled in config.
func (s *Session) Metrics() *dispatcher.Metrics {
	return s.dispatcher.Metrics()
}

// Run interprets src in the session's mode and records it in history.
// Execute mode returns the final value of the block; rewrite mode runs the
// rewritten block and returns its first return value.
func (s *Session) Run(ctx context.Context, src string) (any, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	v, err := s.interpret(ctx, src)
	s.record(ctx, src)
	if err != nil {
		s.logger.Debug("block failed: %v", err)
	}
	return v, err
}

// interpret runs src without recording it. Handlers that re-enter the
// interpreter, such as %require, come through here.
func (s *Session) interpret(ctx context.Context, src string) (any, error) {
	if s.Mode() == execctx.ModeRewrite {
		code, err := s.dispatcher.Rewrite(ctx, src)
		if err != nil {
			return nil, err
		}
		return s.runtime.Execute(ctx, code)
	}
	return s.dispatcher.Execute(ctx, src).Wait(ctx)
}

// Transpile rewrites src into plain Lua without running it. Registration
// commands still take effect. When rewrite.errors_as_code is set a failure
// produces code that reports the error instead of an error return.
func (s *Session) Transpile(ctx context.Context, src string) (string, error) {
	if s.closed.Load() {
		return "", ErrClosed
	}
	code, err := s.dispatcher.Rewrite(ctx, src)
	if err != nil {
		if s.cfg.Rewrite.ErrorsAsCode {
			return s.runtime.ErrorPrint(ErrorMessage(err)), nil
		}
		return "", err
	}
	return code, nil
}

// ErrorMessage returns the user-facing message for an interpretation
// error: unknown magics read as usage errors, handler failures as the
// handler's own message.
func ErrorMessage(err error) string {
	var herr *dispatcher.HandlerError
	if errors.As(err, &herr) && herr.Err != nil {
		return herr.Err.Error()
	}
	return err.Error()
}

// IsComplete reports whether src is a complete block or needs more lines.
// Magic lines are blanked out and the remaining code is parsed as Lua.
// Nothing is registered or run.
func (s *Session) IsComplete(src string) bool {
	lines := scanner.Lines(src)
	for i, line := range lines {
		if looksLikeMagic(line) || len(s.registry.Lookup(line)) > 0 {
			lines[i] = ""
		}
	}
	return lua.IsComplete(strings.Join(lines, "\n"))
}

func looksLikeMagic(line string) bool {
	return strings.HasPrefix(scanner.Command(scanner.Tokenize(line)), "%")
}

func (s *Session) record(ctx context.Context, src string) {
	if strings.TrimSpace(src) == "" {
		return
	}
	s.mu.Lock()
	s.history = append(s.history, src)
	s.mu.Unlock()

	entry := history.Entry{Session: s.id, Source: src, Mode: s.Mode().String()}
	if _, err := s.store.Append(context.WithoutCancel(ctx), entry); err != nil {
		s.logger.Warn("history append failed: %v", err)
	}
}

// History returns the blocks run in this session, oldest first.
func (s *Session) History() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.history...)
}

// Recent returns up to limit blocks from the history store across all
// sessions, oldest first.
func (s *Session) Recent(ctx context.Context, limit int) ([]string, error) {
	entries, err := s.store.List(ctx, "", limit)
	if err != nil {
		return nil, err
	}
	return history.Sources(entries), nil
}

// Close stops child processes and releases the runtime and history store.
func (s *Session) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.logger.Debug("session closing")
	return s.closeParts()
}

func (s *Session) closeParts() error {
	var errs []error
	if s.supervisor != nil {
		s.supervisor.Shutdown(ShutdownTimeout)
	}
	if s.runtime != nil {
		errs = append(errs, s.runtime.Close())
	}
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	return errors.Join(errs...)
}
