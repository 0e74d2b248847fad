// Package main is the entry point for the magicline interpreter.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/term"

	"github.com/dshills/magicline/internal/config"
	"github.com/dshills/magicline/internal/config/loader"
	"github.com/dshills/magicline/internal/dispatcher"
	"github.com/dshills/magicline/internal/integration/process"
	"github.com/dshills/magicline/internal/session"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// options are the command line settings. Empty values leave the
// configuration untouched.
type options struct {
	ConfigPath string
	Mode       string
	LogLevel   string
	Eval       string
	Transpile  bool
	Watch      bool
	Stats      bool
	File       string
}

func main() {
	os.Exit(run())
}

func run() int {
	opts, code, done := parseFlags(os.Args[1:], os.Stderr)
	if done {
		return code
	}

	path := opts.ConfigPath
	if path == "" {
		path = loader.ConfigPath(config.EnvPrefix, config.DefaultPath)
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if err := opts.apply(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	s, err := session.New(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to initialize: %v\n", err)
		return 1
	}
	defer s.Close()
	if opts.Stats {
		defer printStats(os.Stderr, s.Metrics())
	}

	switch {
	case opts.Watch:
		return watch(ctx, s, opts.File)
	case opts.Eval != "":
		return runSource(ctx, s, opts, opts.Eval)
	case opts.File != "":
		data, err := os.ReadFile(opts.File)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		return runSource(ctx, s, opts, string(data))
	case term.IsTerminal(int(os.Stdin.Fd())) && !opts.Transpile:
		return repl(ctx, s)
	default:
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: reading stdin: %v\n", err)
			return 1
		}
		return runSource(ctx, s, opts, string(data))
	}
}

func parseFlags(args []string, stderr io.Writer) (opts options, code int, done bool) {
	fs := flag.NewFlagSet("magicline", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var showVersion bool
	fs.StringVar(&opts.ConfigPath, "config", "", "Path to configuration file (default $MAGICLINE_CONFIG or magicline.toml)")
	fs.StringVar(&opts.ConfigPath, "c", "", "Path to configuration file (shorthand)")
	fs.StringVar(&opts.Mode, "mode", "", "Interpretation mode (execute, rewrite)")
	fs.StringVar(&opts.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&opts.Eval, "e", "", "Interpret the given source instead of a file")
	fs.BoolVar(&opts.Transpile, "transpile", false, "Print the rewritten Lua instead of running it")
	fs.BoolVar(&opts.Transpile, "t", false, "Print the rewritten Lua instead of running it (shorthand)")
	fs.BoolVar(&opts.Watch, "watch", false, "Re-run the file whenever it changes")
	fs.BoolVar(&opts.Watch, "w", false, "Re-run the file whenever it changes (shorthand)")
	fs.BoolVar(&opts.Stats, "stats", false, "Print dispatch statistics on exit")
	fs.BoolVar(&showVersion, "version", false, "Show version information")
	fs.BoolVar(&showVersion, "v", false, "Show version information (shorthand)")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "magicline - line-magic interpreter for Lua\n\n")
		fmt.Fprintf(stderr, "Usage: magicline [options] [file]\n\n")
		fmt.Fprintf(stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nExamples:\n")
		fmt.Fprintf(stderr, "  magicline                    Start the interactive prompt\n")
		fmt.Fprintf(stderr, "  magicline script.mlua        Run a script\n")
		fmt.Fprintf(stderr, "  magicline -t script.mlua     Print the script rewritten to Lua\n")
		fmt.Fprintf(stderr, "  magicline -w script.mlua     Run a script on every save\n")
		fmt.Fprintf(stderr, "  magicline -e '%%echo hi'      Interpret one block\n")
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return opts, 0, true
		}
		return opts, 2, true
	}

	if showVersion {
		fmt.Fprintf(stderr, "magicline %s\n", version)
		fmt.Fprintf(stderr, "Commit: %s\n", commit)
		fmt.Fprintf(stderr, "Built: %s\n", date)
		return opts, 0, true
	}

	switch fs.NArg() {
	case 0:
	case 1:
		opts.File = fs.Arg(0)
	default:
		fmt.Fprintf(stderr, "Error: expected at most one file, got %d\n", fs.NArg())
		return opts, 2, true
	}

	if opts.Watch && opts.File == "" {
		fmt.Fprintf(stderr, "Error: -watch needs a file\n")
		return opts, 2, true
	}
	if opts.Transpile && opts.Watch {
		fmt.Fprintf(stderr, "Error: -transpile and -watch cannot be combined\n")
		return opts, 2, true
	}

	return opts, 0, false
}

// apply layers the flags over cfg and validates the result.
func (o options) apply(cfg *config.Config) error {
	if o.Mode != "" {
		if err := cfg.Set("interpreter.mode", o.Mode); err != nil {
			return err
		}
	}
	if o.Transpile {
		cfg.Interpreter.Mode = "rewrite"
	}
	if o.LogLevel != "" {
		if err := cfg.Set("logging.level", o.LogLevel); err != nil {
			return err
		}
	}
	if o.Stats {
		cfg.Interpreter.Metrics = true
	}
	return cfg.Validate()
}

// runSource interprets or transpiles one block and reports failures.
func runSource(ctx context.Context, s *session.Session, opts options, src string) int {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	if opts.Transpile {
		code, err := s.Transpile(ctx, src)
		if err != nil {
			return report(os.Stderr, err)
		}
		fmt.Fprintln(os.Stdout, code)
		return 0
	}

	if _, err := s.Run(ctx, src); err != nil {
		return report(os.Stderr, err)
	}
	return 0
}

func watch(ctx context.Context, s *session.Session, path string) int {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	err := s.Watch(ctx, path, session.DefaultDebounce, func(_ any, err error) {
		if err != nil {
			report(os.Stderr, err)
		}
	})
	if err != nil {
		return report(os.Stderr, err)
	}
	return 0
}

// report prints err and returns the exit status for it: the child's code
// when a command failed, 130 on interrupt, 1 otherwise.
func report(w io.Writer, err error) int {
	if errors.Is(err, context.Canceled) {
		fmt.Fprintln(w, "interrupted")
		return 130
	}
	fmt.Fprintf(w, "Error: %s\n", session.ErrorMessage(err))

	var exitErr *process.ExitError
	if errors.As(err, &exitErr) && exitErr.Code > 0 {
		return exitErr.Code
	}
	return 1
}

func printStats(w io.Writer, m *dispatcher.Metrics) {
	if m == nil {
		return
	}
	snap := m.Snapshot()
	fmt.Fprintf(w, "dispatches: %d  errors: %d  panics: %d  avg: %v\n",
		snap.TotalDispatches, snap.TotalErrors, snap.TotalPanics, snap.AverageDuration)
	for _, cm := range m.TopCommands(10) {
		fmt.Fprintf(w, "  %-16s %6d calls  avg %-12v errors %.0f%%\n",
			cm.Name, cm.DispatchCount, cm.AverageDuration(), cm.ErrorRate())
	}
}
