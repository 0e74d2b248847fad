package config

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dshills/magicline/internal/config/loader"
	"github.com/dshills/magicline/internal/dispatcher/execctx"
	"github.com/dshills/magicline/internal/logging"
)

const (
	// EnvPrefix prefixes every environment variable magicline reads.
	EnvPrefix = "MAGICLINE_"

	// DefaultPath is the config file read when none is named.
	DefaultPath = "magicline.toml"
)

// Config is the complete magicline configuration. Sections are plain
// values; copy the struct to take a snapshot.
type Config struct {
	Interpreter InterpreterConfig
	Exec        ExecConfig
	Rewrite     RewriteConfig
	Logging     LoggingConfig
	Session     SessionConfig
	Lua         LuaConfig
}

// InterpreterConfig controls how blocks are interpreted.
type InterpreterConfig struct {
	// Mode is "execute" or "rewrite".
	Mode string

	// RecoverFromPanic turns handler panics into errors.
	RecoverFromPanic bool

	// Metrics enables per-command dispatch statistics.
	Metrics bool
}

// ExecConfig controls child processes started by exec lines.
type ExecConfig struct {
	// Shell runs each command line with "-c".
	Shell string

	// Origin tags exec requests; it appears in rewritten code.
	Origin string

	// Sigil is the exec shorthand prefix.
	Sigil string

	// Timeout kills a command running longer. Zero disables.
	Timeout time.Duration

	// MaxProcesses bounds concurrently running commands. Zero is unlimited.
	MaxProcesses int
}

// RewriteConfig controls rewrite-mode output.
type RewriteConfig struct {
	// ErrorsAsCode replaces the output of a failed rewrite with a
	// statement that reports the error when run.
	ErrorsAsCode bool
}

// LoggingConfig controls diagnostic logging.
type LoggingConfig struct {
	// Level is the minimum level: debug, info, warn, or error.
	Level string
}

// SessionConfig controls the interpreter session.
type SessionConfig struct {
	// WorkingDir resolves relative module and require paths. Empty means
	// the process working directory.
	WorkingDir string

	// HistoryPath is the SQLite history database. Empty keeps history in
	// memory.
	HistoryPath string
}

// LuaConfig controls the Lua runtime.
type LuaConfig struct {
	// Timeout bounds each call into Lua. Zero disables.
	Timeout time.Duration

	// OpenOS opens the os, io, and package libraries.
	OpenOS bool
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Interpreter: InterpreterConfig{
			Mode:             execctx.ModeExecute.String(),
			RecoverFromPanic: true,
		},
		Exec: ExecConfig{
			Shell:        "/bin/sh",
			Origin:       "(magicline exec)",
			Sigil:        "!",
			MaxProcesses: 64,
		},
		Rewrite: RewriteConfig{ErrorsAsCode: true},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load builds a configuration from the defaults, the TOML file at path
// (missing is fine), and MAGICLINE_* environment variables, then
// validates it.
func Load(path string) (*Config, error) {
	return LoadFrom(loader.NewTOMLLoader(path), loader.NewEnvLoader(EnvPrefix))
}

// LoadFrom builds a configuration from the defaults and sources, later
// sources overriding earlier ones.
func LoadFrom(sources ...loader.Loader) (*Config, error) {
	merged := make(map[string]any)
	for _, src := range sources {
		m, err := src.Load()
		if err != nil {
			return nil, err
		}
		merged = loader.DeepMerge(merged, m)
	}

	c := Default()
	if err := c.Apply(merged); err != nil {
		return nil, err
	}
	c.expandPaths()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// settings maps each setting path to the field it sets.
var settings = map[string]func(c *Config) any{
	"interpreter.mode":               func(c *Config) any { return &c.Interpreter.Mode },
	"interpreter.recover_from_panic": func(c *Config) any { return &c.Interpreter.RecoverFromPanic },
	"interpreter.metrics":            func(c *Config) any { return &c.Interpreter.Metrics },
	"exec.shell":                     func(c *Config) any { return &c.Exec.Shell },
	"exec.origin":                    func(c *Config) any { return &c.Exec.Origin },
	"exec.sigil":                     func(c *Config) any { return &c.Exec.Sigil },
	"exec.timeout":                   func(c *Config) any { return &c.Exec.Timeout },
	"exec.max_processes":             func(c *Config) any { return &c.Exec.MaxProcesses },
	"rewrite.errors_as_code":         func(c *Config) any { return &c.Rewrite.ErrorsAsCode },
	"logging.level":                  func(c *Config) any { return &c.Logging.Level },
	"session.working_dir":            func(c *Config) any { return &c.Session.WorkingDir },
	"session.history_path":           func(c *Config) any { return &c.Session.HistoryPath },
	"lua.timeout":                    func(c *Config) any { return &c.Lua.Timeout },
	"lua.open_os":                    func(c *Config) any { return &c.Lua.OpenOS },
}

// Paths returns every known setting path, sorted.
func Paths() []string {
	paths := make([]string, 0, len(settings))
	for p := range settings {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Set assigns one setting by dotted path. Strings are converted to the
// setting's type, so environment values and flags can be applied as-is.
func (c *Config) Set(path string, value any) error {
	field, ok := settings[path]
	if !ok {
		return &ConfigError{Path: path, Message: "unknown setting", Value: value, Code: ErrCodeUnknownSetting}
	}

	var err error
	switch p := field(c).(type) {
	case *string:
		*p, err = asString(path, value)
	case *bool:
		*p, err = asBool(path, value)
	case *int:
		*p, err = asInt(path, value)
	case *time.Duration:
		*p, err = asDuration(path, value)
	}
	return err
}

// Apply sets every leaf of a nested settings map, as produced by the
// loaders. All problems are reported together.
func (c *Config) Apply(values map[string]any) error {
	flat := loader.Flatten(values)
	paths := make([]string, 0, len(flat))
	for p := range flat {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var errs []error
	for _, p := range paths {
		if err := c.Set(p, flat[p]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Validate checks values that parse but are not usable.
func (c *Config) Validate() error {
	var errs []error
	invalid := func(path, msg string, value any, code ErrorCode) {
		errs = append(errs, &ConfigError{Path: path, Message: msg, Value: value, Code: code})
	}

	if _, err := execctx.ParseMode(c.Interpreter.Mode); err != nil {
		invalid("interpreter.mode", "must be execute or rewrite", c.Interpreter.Mode, ErrCodeInvalidEnum)
	}
	if c.Exec.Shell == "" {
		invalid("exec.shell", "must not be empty", c.Exec.Shell, ErrCodeRequiredMissing)
	}
	if c.Exec.Sigil == "" || strings.ContainsAny(c.Exec.Sigil, " \t") {
		invalid("exec.sigil", "must be non-empty without whitespace", c.Exec.Sigil, ErrCodeInvalidEnum)
	}
	if c.Exec.Timeout < 0 {
		invalid("exec.timeout", "must not be negative", c.Exec.Timeout, ErrCodeOutOfRange)
	}
	if c.Exec.MaxProcesses < 0 {
		invalid("exec.max_processes", "must not be negative", c.Exec.MaxProcesses, ErrCodeOutOfRange)
	}
	if !logging.ValidLevel(c.Logging.Level) {
		invalid("logging.level", "must be debug, info, warn, or error", c.Logging.Level, ErrCodeInvalidEnum)
	}
	if c.Lua.Timeout < 0 {
		invalid("lua.timeout", "must not be negative", c.Lua.Timeout, ErrCodeOutOfRange)
	}
	return errors.Join(errs...)
}

// Mode returns the parsed interpreter mode, execute when invalid.
func (c *Config) Mode() execctx.Mode {
	m, err := execctx.ParseMode(c.Interpreter.Mode)
	if err != nil {
		return execctx.ModeExecute
	}
	return m
}

// WorkingDir returns the session working directory, falling back to the
// process working directory.
func (c *Config) WorkingDir() string {
	if c.Session.WorkingDir != "" {
		return c.Session.WorkingDir
	}
	if wd, err := os.Getwd(); err == nil {
		return wd
	}
	return "."
}

func (c *Config) expandPaths() {
	c.Session.WorkingDir = expandPath(c.Session.WorkingDir)
	c.Session.HistoryPath = expandPath(c.Session.HistoryPath)
}

// expandPath expands $VAR references and a leading ~.
func expandPath(p string) string {
	if p == "" {
		return p
	}
	p = os.ExpandEnv(p)
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, p[1:])
		}
	}
	return p
}
